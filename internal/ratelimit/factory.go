package ratelimit

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/apiguard/internal/config"
)

// Strategy labels used in configuration and metrics.
const (
	StrategyInterval = config.StrategyInterval
	StrategyGreedy   = config.StrategyGreedy
	StrategyRedis    = config.StrategyRedis
)

// ConfigFrom converts the gateway configuration into bucket parameters.
func ConfigFrom(cfg config.RateLimitConfig) Config {
	return Config{
		Capacity:     cfg.Capacity,
		RefillTokens: cfg.RefillTokens,
		RefillPeriod: cfg.RefillPeriod.Duration(),
		BucketTTL:    cfg.BucketTTL.Duration(),
	}
}

// NewLimiter builds the limiter selected by cfg.Strategy. The returned
// limiter also implements io.Closer.
func NewLimiter(cfg config.RateLimitConfig, redisCfg config.RedisConfig, opts ...Option) (Limiter, error) {
	bucket := ConfigFrom(cfg)

	switch cfg.Strategy {
	case StrategyInterval, "":
		return NewIntervalLimiter(bucket, opts...)

	case StrategyGreedy:
		return NewGreedyLimiter(bucket, opts...)

	case StrategyRedis:
		client := redis.NewClient(&redis.Options{
			Addr:         redisCfg.Address,
			Password:     redisCfg.Password,
			DB:           redisCfg.DB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		})
		l, err := NewRedisLimiter(client, redisCfg.KeyPrefix, bucket, opts...)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return l, nil

	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, cfg.Strategy)
	}
}

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/apiguard/internal/observability"
)

var (
	_ Limiter   = (*RedisLimiter)(nil)
	_ io.Closer = (*RedisLimiter)(nil)
)

// ErrBackend wraps failures talking to the shared bucket store.
var ErrBackend = errors.New("rate limit backend error")

// intervalBucketScript applies interval refill and withdraws one token
// atomically.
// KEYS[1] = bucket key
// ARGV[1] = capacity
// ARGV[2] = refill tokens
// ARGV[3] = refill period in ms
// ARGV[4] = now in ms
// ARGV[5] = key expiry in ms
// Returns: allowed (0 or 1), remaining tokens, wait in ms
var intervalBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local capacity = tonumber(ARGV[1])
	local refill = tonumber(ARGV[2])
	local period = tonumber(ARGV[3])
	local now = tonumber(ARGV[4])
	local expiry = tonumber(ARGV[5])

	local data = redis.call('HMGET', key, 'tokens', 'last')
	local tokens = tonumber(data[1])
	local last = tonumber(data[2])

	if tokens == nil or last == nil then
		tokens = capacity
		last = now
	end

	if now > last then
		local periods = math.floor((now - last) / period)
		if periods > 0 then
			tokens = math.min(capacity, tokens + periods * refill)
			last = last + periods * period
		end
	end

	local allowed = 0
	local wait = 0
	if tokens >= 1 then
		tokens = tokens - 1
		allowed = 1
	else
		wait = last + period - now
	end

	redis.call('HMSET', key, 'tokens', tokens, 'last', last)
	redis.call('PEXPIRE', key, expiry)

	return {allowed, tokens, wait}
`)

// RedisLimiter runs interval refill inside Redis so that every gateway
// instance shares one bucket per key. Time is supplied by the caller's
// clock rather than the Redis server.
type RedisLimiter struct {
	cfg     Config
	client  redis.UniversalClient
	prefix  string
	expiry  time.Duration
	clock   Clock
	logger  observability.Logger
	metrics *observability.Metrics
}

// NewRedisLimiter creates a Redis-backed interval limiter. The limiter
// takes ownership of client and closes it on Close.
func NewRedisLimiter(client redis.UniversalClient, prefix string, cfg Config, opts ...Option) (*RedisLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: redis client is required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := applyOptions(opts)

	// A key must outlive the time it takes to refill completely, otherwise
	// expiry would hand out a full bucket early.
	expiry := cfg.fullRefill() + cfg.RefillPeriod
	if cfg.BucketTTL > expiry {
		expiry = cfg.BucketTTL
	}

	return &RedisLimiter{
		cfg:     cfg,
		client:  client,
		prefix:  prefix,
		expiry:  expiry,
		clock:   o.clock,
		logger:  o.logger,
		metrics: o.metrics,
	}, nil
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	now := l.clock()

	raw, err := intervalBucketScript.Run(ctx, l.client, []string{l.prefix + key},
		l.cfg.Capacity,
		l.cfg.RefillTokens,
		l.cfg.RefillPeriod.Milliseconds(),
		now.UnixMilli(),
		l.expiry.Milliseconds(),
	).Int64Slice()
	if err != nil {
		l.metrics.RecordRateLimit(StrategyRedis, "error")
		l.logger.WithContext(ctx).Error("rate limit script failed",
			observability.String("key", key),
			observability.Error(err),
		)
		return nil, fmt.Errorf("%w: %w", ErrBackend, err)
	}
	if len(raw) != 3 {
		l.metrics.RecordRateLimit(StrategyRedis, "error")
		return nil, fmt.Errorf("%w: unexpected script reply of %d values", ErrBackend, len(raw))
	}

	res := &Result{
		Allowed:   raw[0] == 1,
		Limit:     l.cfg.Capacity,
		Remaining: int(raw[1]),
	}
	if !res.Allowed {
		res.RetryAfter = time.Duration(raw[2]) * time.Millisecond
	}

	l.metrics.RecordRateLimit(StrategyRedis, outcome(res.Allowed))
	return res, nil
}

// Ping checks connectivity to Redis.
func (l *RedisLimiter) Ping(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrBackend, err)
	}
	return nil
}

// Close implements io.Closer.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

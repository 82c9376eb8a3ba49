package ratelimit

import (
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/apiguard/internal/config"
)

func TestNewLimiter(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)

	tests := []struct {
		name     string
		strategy string
		wantType any
		wantErr  bool
	}{
		{name: "default", strategy: "", wantType: &IntervalLimiter{}},
		{name: "interval", strategy: config.StrategyInterval, wantType: &IntervalLimiter{}},
		{name: "greedy", strategy: config.StrategyGreedy, wantType: &GreedyLimiter{}},
		{name: "redis", strategy: config.StrategyRedis, wantType: &RedisLimiter{}},
		{name: "unknown", strategy: "leaky", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			cfg.RateLimit.Strategy = tt.strategy
			cfg.Redis.Address = mr.Addr()

			l, err := NewLimiter(cfg.RateLimit, cfg.Redis)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.wantType, l)

			closer, ok := l.(io.Closer)
			require.True(t, ok)
			assert.NoError(t, closer.Close())
		})
	}
}

func TestConfigFrom(t *testing.T) {
	t.Parallel()

	got := ConfigFrom(config.RateLimitConfig{
		Capacity:     5,
		RefillTokens: 5,
		RefillPeriod: config.Duration(time.Minute),
		BucketTTL:    config.Duration(10 * time.Minute),
	})
	assert.Equal(t, Config{
		Capacity:     5,
		RefillTokens: 5,
		RefillPeriod: time.Minute,
		BucketTTL:    10 * time.Minute,
	}, got)
}

func TestKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		subject string
		addr    string
		want    string
	}{
		{"principal wins", "alice", "10.0.0.1:5555", "auth:alice"},
		{"ipv4 with port", "", "10.0.0.1:5555", "ip:10.0.0.1"},
		{"ipv4 bare", "", "10.0.0.1", "ip:10.0.0.1"},
		{"ipv6 with port", "", "[::1]:8080", "ip:::1"},
		{"ipv6 bracketed", "", "[fe80::1]", "ip:fe80::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Key(tt.subject, tt.addr))
		})
	}
}

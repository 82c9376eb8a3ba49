package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPrefix = "apiguard:rl:"

func newRedis(t *testing.T, cfg Config, clock *fakeClock) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	l, err := NewRedisLimiter(client, testPrefix, cfg, WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	return l, mr
}

func TestRedisLimiter_FiveTokensPerMinute(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l, mr := newRedis(t, Config{Capacity: 5, RefillTokens: 5, RefillPeriod: time.Minute}, clock)
	ctx := context.Background()

	for i := 4; i >= 0; i-- {
		res, err := l.Allow(ctx, "auth:alice")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, i, res.Remaining)
		assert.Equal(t, 5, res.Limit)
	}

	res, err := l.Allow(ctx, "auth:alice")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, time.Minute, res.RetryAfter)
	assert.Equal(t, 60, res.RetryAfterSeconds())

	clock.Advance(45 * time.Second)
	res, err = l.Allow(ctx, "auth:alice")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 15, res.RetryAfterSeconds())

	clock.Advance(15 * time.Second)
	res, err = l.Allow(ctx, "auth:alice")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 4, res.Remaining)

	key := testPrefix + "auth:alice"
	assert.True(t, mr.Exists(key))
	assert.Equal(t, 2*time.Minute, mr.TTL(key))
}

func TestRedisLimiter_SharedAcrossInstances(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cfg := Config{Capacity: 2, RefillTokens: 1, RefillPeriod: time.Minute}
	first, mr := newRedis(t, cfg, clock)

	second, err := NewRedisLimiter(redis.NewClient(&redis.Options{Addr: mr.Addr()}), testPrefix, cfg,
		WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	ctx := context.Background()
	res, err := first.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = second.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = first.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestRedisLimiter_ConcurrentNeverExceedsCapacity(t *testing.T) {
	t.Parallel()

	const capacity = 10
	clock := newFakeClock()
	l, _ := newRedis(t, Config{Capacity: capacity, RefillTokens: 1, RefillPeriod: time.Hour}, clock)
	ctx := context.Background()

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res, err := l.Allow(ctx, "k"); err == nil && res.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(capacity), admitted.Load())
}

func TestRedisLimiter_BackendError(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l, mr := newRedis(t, Config{Capacity: 1, RefillTokens: 1, RefillPeriod: time.Second}, clock)

	mr.SetError("LOADING redis is loading")
	res, err := l.Allow(context.Background(), "k")
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrBackend)

	assert.ErrorIs(t, l.Ping(context.Background()), ErrBackend)

	mr.SetError("")
	require.NoError(t, l.Ping(context.Background()))
}

func TestNewRedisLimiter_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewRedisLimiter(nil, testPrefix, Config{Capacity: 1, RefillTokens: 1, RefillPeriod: time.Second})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	_, err = NewRedisLimiter(client, testPrefix, Config{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

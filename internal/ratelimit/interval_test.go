package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock safe for concurrent use.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newInterval(t *testing.T, cfg Config, clock *fakeClock) *IntervalLimiter {
	t.Helper()
	l, err := NewIntervalLimiter(cfg, WithClock(clock.Now), WithCleanupInterval(0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestIntervalLimiter_FiveTokensPerMinute(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := newInterval(t, Config{Capacity: 5, RefillTokens: 5, RefillPeriod: time.Minute}, clock)
	ctx := context.Background()
	key := Key("alice", "")

	for i := 4; i >= 0; i-- {
		res, err := l.Allow(ctx, key)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, i, res.Remaining)
		assert.Equal(t, 5, res.Limit)
	}

	res, err := l.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 60, res.RetryAfterSeconds())

	clock.Advance(30 * time.Second)
	res, err = l.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 30, res.RetryAfterSeconds())

	clock.Advance(30 * time.Second)
	res, err = l.Allow(ctx, key)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 4, res.Remaining)
}

func TestIntervalLimiter_KeysAreIndependent(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := newInterval(t, Config{Capacity: 1, RefillTokens: 1, RefillPeriod: time.Minute}, clock)
	ctx := context.Background()

	res, err := l.Allow(ctx, "auth:a")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.Allow(ctx, "auth:a")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	res, err = l.Allow(ctx, "auth:b")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 2, l.Len())
}

func TestIntervalLimiter_RefillCapsAtCapacity(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := newInterval(t, Config{Capacity: 3, RefillTokens: 2, RefillPeriod: 10 * time.Second}, clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Allow(ctx, "k")
		require.NoError(t, err)
	}

	// Ten periods would add 20 tokens; the bucket holds at most 3.
	clock.Advance(100 * time.Second)
	res, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 2, res.Remaining)
}

func TestIntervalLimiter_PartialPeriodIsKept(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := newInterval(t, Config{Capacity: 1, RefillTokens: 1, RefillPeriod: 10 * time.Second}, clock)
	ctx := context.Background()

	_, err := l.Allow(ctx, "k")
	require.NoError(t, err)

	// 15s is one full period plus half of the next.
	clock.Advance(15 * time.Second)
	res, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	require.True(t, res.Allowed)

	clock.Advance(5 * time.Second)
	res, err = l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "refill should land 20s after the first request")
}

func TestIntervalLimiter_RetryAfterNonIncreasing(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := newInterval(t, Config{Capacity: 1, RefillTokens: 1, RefillPeriod: time.Minute}, clock)
	ctx := context.Background()

	_, err := l.Allow(ctx, "k")
	require.NoError(t, err)

	prev := 61
	for i := 0; i < 60; i++ {
		res, err := l.Allow(ctx, "k")
		require.NoError(t, err)
		require.False(t, res.Allowed)
		secs := res.RetryAfterSeconds()
		assert.GreaterOrEqual(t, secs, 1)
		assert.LessOrEqual(t, secs, prev)
		prev = secs
		clock.Advance(time.Second)
	}
	assert.Equal(t, 1, prev)
}

func TestIntervalLimiter_SubSecondRetryRoundsUp(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := newInterval(t, Config{Capacity: 1, RefillTokens: 1, RefillPeriod: time.Second}, clock)
	ctx := context.Background()

	_, err := l.Allow(ctx, "k")
	require.NoError(t, err)

	clock.Advance(999 * time.Millisecond)
	res, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, time.Millisecond, res.RetryAfter)
	assert.Equal(t, 1, res.RetryAfterSeconds())
}

func TestIntervalLimiter_ConcurrentNeverExceedsCapacity(t *testing.T) {
	t.Parallel()

	const capacity = 50
	clock := newFakeClock()
	l := newInterval(t, Config{Capacity: capacity, RefillTokens: capacity, RefillPeriod: time.Hour}, clock)
	ctx := context.Background()

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Allow(ctx, "auth:shared")
			if err == nil && res.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(capacity), admitted.Load())
}

func TestIntervalLimiter_Cleanup(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cfg := Config{Capacity: 2, RefillTokens: 1, RefillPeriod: time.Minute, BucketTTL: 10 * time.Minute}
	l := newInterval(t, cfg, clock)
	ctx := context.Background()

	_, err := l.Allow(ctx, "idle")
	require.NoError(t, err)
	_, err = l.Allow(ctx, "busy")
	require.NoError(t, err)
	_, err = l.Allow(ctx, "busy")
	require.NoError(t, err)

	clock.Advance(9 * time.Minute)
	l.Cleanup()
	assert.Equal(t, 2, l.Len(), "nothing is idle long enough yet")

	clock.Advance(time.Minute)
	_, err = l.Allow(ctx, "busy")
	require.NoError(t, err)
	l.Cleanup()
	assert.Equal(t, 1, l.Len(), "only the idle, full bucket is evicted")

	res, err := l.Allow(ctx, "idle")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Remaining)
}

func TestIntervalLimiter_CleanupKeepsPartialBuckets(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cfg := Config{Capacity: 10, RefillTokens: 1, RefillPeriod: time.Hour, BucketTTL: time.Minute}
	l := newInterval(t, cfg, clock)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := l.Allow(ctx, "k")
		require.NoError(t, err)
	}

	clock.Advance(2 * time.Hour)
	l.Cleanup()
	assert.Equal(t, 1, l.Len())

	res, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Remaining)
}

func TestIntervalLimiter_EvictKeepsReplacedBucket(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := newInterval(t, Config{Capacity: 2, RefillTokens: 2, RefillPeriod: time.Minute}, clock)

	_, err := l.Allow(context.Background(), "k")
	require.NoError(t, err)
	v, ok := l.buckets.Load("k")
	require.True(t, ok)
	stale := v.(*intervalBucket)

	fresh := &intervalBucket{tokens: 2, last: clock.Now(), lastSeen: clock.Now()}
	l.buckets.Store("k", fresh)

	assert.False(t, l.evict("k", stale))
	current, ok := l.buckets.Load("k")
	require.True(t, ok)
	assert.Same(t, fresh, current)

	assert.True(t, l.evict("k", fresh))
	assert.Equal(t, 0, l.Len())
}

func TestIntervalLimiter_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	l, err := NewIntervalLimiter(Config{Capacity: 1, RefillTokens: 1, RefillPeriod: time.Second, BucketTTL: time.Minute},
		WithCleanupInterval(time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Capacity: 1, RefillTokens: 1, RefillPeriod: time.Second}, false},
		{"zero capacity", Config{RefillTokens: 1, RefillPeriod: time.Second}, true},
		{"zero refill", Config{Capacity: 1, RefillPeriod: time.Second}, true},
		{"zero period", Config{Capacity: 1, RefillTokens: 1}, true},
		{"negative ttl", Config{Capacity: 1, RefillTokens: 1, RefillPeriod: time.Second, BucketTTL: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestConfig_FullRefill(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Minute, Config{Capacity: 5, RefillTokens: 5, RefillPeriod: time.Minute}.fullRefill())
	assert.Equal(t, 3*time.Minute, Config{Capacity: 5, RefillTokens: 2, RefillPeriod: time.Minute}.fullRefill())
}

package ratelimit

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/vyrodovalexey/apiguard/internal/observability"
)

var (
	_ Limiter   = (*IntervalLimiter)(nil)
	_ io.Closer = (*IntervalLimiter)(nil)
)

// IntervalLimiter keeps one token bucket per key in memory. RefillTokens
// are added once per elapsed RefillPeriod, never in fractions.
type IntervalLimiter struct {
	cfg     Config
	clock   Clock
	logger  observability.Logger
	metrics *observability.Metrics

	buckets sync.Map // string -> *intervalBucket
	janitor *janitor
}

type intervalBucket struct {
	mu       sync.Mutex
	tokens   int
	last     time.Time // last refill boundary
	lastSeen time.Time
	evicted  bool
}

// refill adds RefillTokens for each whole period since last, capped at
// capacity. The refill clock advances by whole periods only, so partial
// progress toward the next refill is kept.
func (b *intervalBucket) refill(cfg Config, now time.Time) {
	if !now.After(b.last) {
		return
	}
	periods := int64(now.Sub(b.last) / cfg.RefillPeriod)
	if periods <= 0 {
		return
	}
	added := periods * int64(cfg.RefillTokens)
	if total := int64(b.tokens) + added; total >= int64(cfg.Capacity) {
		b.tokens = cfg.Capacity
	} else {
		b.tokens = int(total)
	}
	b.last = b.last.Add(time.Duration(periods) * cfg.RefillPeriod)
}

// NewIntervalLimiter creates an in-memory interval limiter and starts its
// idle-bucket sweep. Call Close to stop the sweep.
func NewIntervalLimiter(cfg Config, opts ...Option) (*IntervalLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := applyOptions(opts)

	l := &IntervalLimiter{
		cfg:     cfg,
		clock:   o.clock,
		logger:  o.logger,
		metrics: o.metrics,
	}

	interval := o.cleanupInterval
	if cfg.BucketTTL == 0 {
		interval = 0
	}
	l.janitor = startJanitor(interval, l.Cleanup)

	return l, nil
}

// Allow implements Limiter.
func (l *IntervalLimiter) Allow(_ context.Context, key string) (*Result, error) {
	for {
		b := l.bucket(key)

		b.mu.Lock()
		if b.evicted {
			// Lost a race with Cleanup; the key now maps to a fresh bucket.
			b.mu.Unlock()
			continue
		}

		now := l.clock()
		b.lastSeen = now
		b.refill(l.cfg, now)

		res := &Result{Limit: l.cfg.Capacity}
		if b.tokens > 0 {
			b.tokens--
			res.Allowed = true
		} else {
			res.RetryAfter = b.last.Add(l.cfg.RefillPeriod).Sub(now)
		}
		res.Remaining = b.tokens
		b.mu.Unlock()

		l.metrics.RecordRateLimit(StrategyInterval, outcome(res.Allowed))
		return res, nil
	}
}

// bucket returns the key's bucket, creating a full one on first use.
func (l *IntervalLimiter) bucket(key string) *intervalBucket {
	if v, ok := l.buckets.Load(key); ok {
		return v.(*intervalBucket)
	}
	now := l.clock()
	v, _ := l.buckets.LoadOrStore(key, &intervalBucket{
		tokens:   l.cfg.Capacity,
		last:     now,
		lastSeen: now,
	})
	return v.(*intervalBucket)
}

// Cleanup evicts buckets that have been idle for at least BucketTTL and
// would already have refilled to capacity. A recreated bucket starts full,
// so eviction never changes an admission decision.
func (l *IntervalLimiter) Cleanup() {
	if l.cfg.BucketTTL <= 0 {
		return
	}
	now := l.clock()
	active := 0

	l.buckets.Range(func(key, value any) bool {
		b := value.(*intervalBucket)
		b.mu.Lock()
		idle := now.Sub(b.lastSeen) >= l.cfg.BucketTTL
		b.refill(l.cfg, now)
		if idle && b.tokens >= l.cfg.Capacity {
			b.evicted = true
			l.evict(key, b)
		} else {
			active++
		}
		b.mu.Unlock()
		return true
	})

	l.metrics.SetActiveBuckets(StrategyInterval, active)
}

// Len returns the number of live buckets.
func (l *IntervalLimiter) Len() int {
	n := 0
	l.buckets.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Close implements io.Closer. It stops the background sweep.
func (l *IntervalLimiter) Close() error {
	l.janitor.Stop()
	return nil
}

// evict removes key only while it still maps to b, so a bucket stored
// concurrently under the same key is never dropped.
func (l *IntervalLimiter) evict(key any, b *intervalBucket) bool {
	return l.buckets.CompareAndDelete(key, b)
}

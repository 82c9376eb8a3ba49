package ratelimit

import (
	"context"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/apiguard/internal/observability"
)

var (
	_ Limiter   = (*GreedyLimiter)(nil)
	_ io.Closer = (*GreedyLimiter)(nil)
)

// GreedyLimiter refills continuously at RefillTokens per RefillPeriod,
// with bursts up to Capacity.
type GreedyLimiter struct {
	cfg     Config
	every   rate.Limit
	clock   Clock
	logger  observability.Logger
	metrics *observability.Metrics

	buckets sync.Map // string -> *greedyBucket
	janitor *janitor
}

type greedyBucket struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	lastSeen time.Time
	evicted  bool
}

// NewGreedyLimiter creates a continuous-refill limiter backed by
// golang.org/x/time/rate. Call Close to stop the idle-bucket sweep.
func NewGreedyLimiter(cfg Config, opts ...Option) (*GreedyLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := applyOptions(opts)

	l := &GreedyLimiter{
		cfg:     cfg,
		every:   rate.Every(cfg.RefillPeriod / time.Duration(cfg.RefillTokens)),
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
func (l *GreedyLimiter) Allow(_ context.Context, key string) (*Result, error) {
	for {
		b := l.bucket(key)

		b.mu.Lock()
		if b.evicted {
			b.mu.Unlock()
			continue
		}

		now := l.clock()
		b.lastSeen = now

		res := &Result{Limit: l.cfg.Capacity}
		if b.limiter.AllowN(now, 1) {
			res.Allowed = true
		} else {
			r := b.limiter.ReserveN(now, 1)
			res.RetryAfter = r.DelayFrom(now)
			r.CancelAt(now)
		}
		if tokens := b.limiter.TokensAt(now); tokens > 0 {
			res.Remaining = int(tokens)
		}
		b.mu.Unlock()

		l.metrics.RecordRateLimit(StrategyGreedy, outcome(res.Allowed))
		return res, nil
	}
}

func (l *GreedyLimiter) bucket(key string) *greedyBucket {
	if v, ok := l.buckets.Load(key); ok {
		return v.(*greedyBucket)
	}
	v, _ := l.buckets.LoadOrStore(key, &greedyBucket{
		limiter:  rate.NewLimiter(l.every, l.cfg.Capacity),
		lastSeen: l.clock(),
	})
	return v.(*greedyBucket)
}

// Cleanup evicts buckets idle for at least BucketTTL whose limiter has
// refilled to its burst.
func (l *GreedyLimiter) Cleanup() {
	if l.cfg.BucketTTL <= 0 {
		return
	}
	now := l.clock()
	active := 0

	l.buckets.Range(func(key, value any) bool {
		b := value.(*greedyBucket)
		b.mu.Lock()
		full := b.limiter.TokensAt(now) >= float64(l.cfg.Capacity)
		if now.Sub(b.lastSeen) >= l.cfg.BucketTTL && full {
			b.evicted = true
			l.evict(key, b)
		} else {
			active++
		}
		b.mu.Unlock()
		return true
	})

	l.metrics.SetActiveBuckets(StrategyGreedy, active)
}

// Len returns the number of live buckets.
func (l *GreedyLimiter) Len() int {
	n := 0
	l.buckets.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Close implements io.Closer.
func (l *GreedyLimiter) Close() error {
	l.janitor.Stop()
	return nil
}

// evict removes key only while it still maps to b, so a bucket stored
// concurrently under the same key is never dropped.
func (l *GreedyLimiter) evict(key any, b *greedyBucket) bool {
	return l.buckets.CompareAndDelete(key, b)
}

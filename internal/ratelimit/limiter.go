// Package ratelimit provides per-principal token-bucket rate limiting for
// the gateway. Three strategies share one interface: interval refill held
// in memory, continuous refill via golang.org/x/time/rate, and interval
// refill held in Redis for multi-instance deployments.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vyrodovalexey/apiguard/internal/observability"
)

// Limiter admits or throttles one request for a key.
type Limiter interface {
	// Allow withdraws one token from the key's bucket if one is available.
	// An error means the decision could not be made; callers must not
	// admit the request.
	Allow(ctx context.Context, key string) (*Result, error)
}

// Result is the outcome of one admission check.
type Result struct {
	// Allowed reports whether a token was withdrawn.
	Allowed bool

	// Limit is the bucket capacity.
	Limit int

	// Remaining is the number of tokens left after this check.
	Remaining int

	// RetryAfter is the time until the next token becomes available. It is
	// zero when Allowed is true.
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, never below 1.
func (r *Result) RetryAfterSeconds() int {
	secs := int((r.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// Clock returns the current time.
type Clock func() time.Time

// ErrInvalidConfig is returned when a limiter is built with non-positive
// capacity, refill count, or refill period.
var ErrInvalidConfig = errors.New("invalid rate limit configuration")

// Config holds the bucket parameters shared by every strategy.
type Config struct {
	// Capacity is the maximum number of tokens a bucket holds.
	Capacity int

	// RefillTokens is the number of tokens added every RefillPeriod.
	RefillTokens int

	// RefillPeriod is the refill interval.
	RefillPeriod time.Duration

	// BucketTTL is how long an idle, full bucket is kept. Zero disables
	// eviction.
	BucketTTL time.Duration
}

// Validate checks that the bucket parameters are usable.
func (c Config) Validate() error {
	switch {
	case c.Capacity <= 0:
		return fmt.Errorf("%w: capacity must be positive", ErrInvalidConfig)
	case c.RefillTokens <= 0:
		return fmt.Errorf("%w: refill tokens must be positive", ErrInvalidConfig)
	case c.RefillPeriod <= 0:
		return fmt.Errorf("%w: refill period must be positive", ErrInvalidConfig)
	case c.BucketTTL < 0:
		return fmt.Errorf("%w: bucket ttl must not be negative", ErrInvalidConfig)
	}
	return nil
}

// fullRefill is the longest an empty bucket takes to refill to capacity.
func (c Config) fullRefill() time.Duration {
	periods := (c.Capacity + c.RefillTokens - 1) / c.RefillTokens
	return time.Duration(periods) * c.RefillPeriod
}

// options are shared by all limiter constructors.
type options struct {
	clock           Clock
	logger          observability.Logger
	metrics         *observability.Metrics
	cleanupInterval time.Duration
}

// Option is a functional option for limiters.
type Option func(*options)

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithCleanupInterval sets how often idle buckets are swept. Zero disables
// the background sweep; Cleanup can still be called directly.
func WithCleanupInterval(d time.Duration) Option {
	return func(o *options) {
		o.cleanupInterval = d
	}
}

func applyOptions(opts []Option) options {
	o := options{
		clock:           time.Now,
		logger:          observability.NopLogger(),
		cleanupInterval: time.Minute,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func outcome(allowed bool) string {
	if allowed {
		return "admitted"
	}
	return "throttled"
}

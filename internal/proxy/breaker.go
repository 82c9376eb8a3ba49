package proxy

import (
	"context"
	"errors"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/apiguard/internal/config"
	"github.com/vyrodovalexey/apiguard/internal/observability"
)

// BreakerName labels the upstream circuit breaker in logs and metrics.
const BreakerName = "upstream"

var breakerTracer = otel.Tracer("apiguard/circuitbreaker")

// newBreaker builds the upstream breaker. It trips once MinRequests calls
// were seen in the current interval and the failure ratio reaches
// FailureRatio.
func newBreaker(
	cfg config.CircuitBreakerConfig,
	logger observability.Logger,
	metrics *observability.Metrics,
) *gobreaker.CircuitBreaker {
	minRequests := safeIntToUint32(cfg.MinRequests)

	settings := gobreaker.Settings{
		Name:        BreakerName,
		MaxRequests: safeIntToUint32(cfg.MaxRequests),
		Interval:    cfg.Interval.Duration(),
		Timeout:     cfg.Timeout.Duration(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		},
		// A client that hangs up says nothing about upstream health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
			metrics.SetCircuitBreakerState(name, int(to))

			_, span := breakerTracer.Start(context.Background(),
				"circuitbreaker.state_change",
				trace.WithSpanKind(trace.SpanKindInternal),
			)
			span.AddEvent("state_change", trace.WithAttributes(
				attribute.String("circuitbreaker.name", name),
				attribute.String("circuitbreaker.from", from.String()),
				attribute.String("circuitbreaker.to", to.String()),
			))
			span.End()
		},
	}

	metrics.SetCircuitBreakerState(BreakerName, int(gobreaker.StateClosed))
	return gobreaker.NewCircuitBreaker(settings)
}

// safeIntToUint32 safely converts int to uint32.
func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	if n > int(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n) //nolint:gosec // bounds checked above
}

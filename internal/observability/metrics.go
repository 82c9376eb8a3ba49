package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	authDecisions    *prometheus.CounterVec
	rateLimitResults *prometheus.CounterVec
	activeBuckets    *prometheus.GaugeVec
	upstreamDuration *prometheus.HistogramVec
	circuitBreaker   *prometheus.GaugeVec
	grpcRequests     *prometheus.CounterVec
	registry         *prometheus.Registry
}

// NewMetrics creates a new Metrics instance backed by its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "apiguard"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets: []float64{
				.001, .005, .01, .025, .05,
				.1, .25, .5, 1, 2.5, 5, 10,
			},
		},
		[]string{"method", "status"},
	)

	m.authDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "decisions_total",
			Help:      "Dual authentication decisions by outcome and reason",
		},
		[]string{"outcome", "reason"},
	)

	m.rateLimitResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Rate limit decisions by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	m.activeBuckets = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "active_buckets",
			Help:      "Number of in-memory rate limit buckets",
		},
		[]string{"strategy"},
	)

	m.upstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Upstream request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	m.circuitBreaker = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	m.grpcRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "grpc",
			Name:      "requests_total",
			Help:      "Total number of gRPC calls by method and code",
		},
		[]string{"method", "code"},
	)

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.authDecisions,
		m.rateLimitResults,
		m.activeBuckets,
		m.upstreamDuration,
		m.circuitBreaker,
		m.grpcRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// RecordRequest records a completed HTTP request.
func (m *Metrics) RecordRequest(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	statusStr := strconv.Itoa(status)
	m.requestsTotal.WithLabelValues(method, statusStr).Inc()
	m.requestDuration.WithLabelValues(method, statusStr).Observe(duration.Seconds())
}

// RecordAuthDecision records the outcome of a dual authentication decision.
func (m *Metrics) RecordAuthDecision(outcome, reason string) {
	if m == nil {
		return
	}
	m.authDecisions.WithLabelValues(outcome, reason).Inc()
}

// RecordRateLimit records an admit or throttle decision.
func (m *Metrics) RecordRateLimit(strategy, outcome string) {
	if m == nil {
		return
	}
	m.rateLimitResults.WithLabelValues(strategy, outcome).Inc()
}

// SetActiveBuckets sets the number of live buckets for a strategy.
func (m *Metrics) SetActiveBuckets(strategy string, n int) {
	if m == nil {
		return
	}
	m.activeBuckets.WithLabelValues(strategy).Set(float64(n))
}

// RecordUpstream records an upstream round trip.
func (m *Metrics) RecordUpstream(status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.upstreamDuration.WithLabelValues(strconv.Itoa(status)).Observe(duration.Seconds())
}

// SetCircuitBreakerState sets the state gauge of a named circuit breaker.
func (m *Metrics) SetCircuitBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.circuitBreaker.WithLabelValues(name).Set(float64(state))
}

// RecordGRPCRequest records a completed gRPC call.
func (m *Metrics) RecordGRPCRequest(method, code string) {
	if m == nil {
		return
	}
	m.grpcRequests.WithLabelValues(method, code).Inc()
}

// Handler returns the HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

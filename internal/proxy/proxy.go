package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/apiguard/internal/apierror"
	"github.com/vyrodovalexey/apiguard/internal/config"
	"github.com/vyrodovalexey/apiguard/internal/observability"
)

const requestIDHeader = "X-Request-Id"

// Upstream forwards requests to one upstream base URL.
type Upstream struct {
	target    *url.URL
	proxy     *httputil.ReverseProxy
	breaker   *gobreaker.CircuitBreaker
	timeout   time.Duration
	transport http.RoundTripper
	logger    observability.Logger
	metrics   *observability.Metrics
}

// Option is a functional option for configuring the upstream.
type Option func(*Upstream)

// WithLogger sets the logger for the upstream.
func WithLogger(logger observability.Logger) Option {
	return func(u *Upstream) {
		u.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(u *Upstream) {
		u.metrics = m
	}
}

// WithTransport sets the transport used for upstream calls.
func WithTransport(transport http.RoundTripper) Option {
	return func(u *Upstream) {
		u.transport = transport
	}
}

// New creates an upstream from configuration.
func New(cfg config.UpstreamConfig, opts ...Option) (*Upstream, error) {
	target, err := url.Parse(cfg.URL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTargetURL, cfg.URL)
	}

	u := &Upstream{
		target:  target,
		timeout: cfg.Timeout.Duration(),
		logger:  observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(u)
	}

	u.proxy = &httputil.ReverseProxy{
		Rewrite:       u.rewrite,
		Transport:     u.transport,
		FlushInterval: -1,
		ErrorHandler:  u.handleError,
	}

	if cfg.CircuitBreaker.Enabled {
		u.breaker = newBreaker(cfg.CircuitBreaker, u.logger, u.metrics)
	}

	return u, nil
}

// Target returns the upstream base URL.
func (u *Upstream) Target() string {
	return u.target.String()
}

// BreakerState returns the circuit breaker state. It is always closed when
// the breaker is disabled.
func (u *Upstream) BreakerState() gobreaker.State {
	if u.breaker == nil {
		return gobreaker.StateClosed
	}
	return u.breaker.State()
}

// ServeHTTP implements http.Handler.
func (u *Upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if u.timeout > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), u.timeout)
		defer cancel()
		r = r.WithContext(ctx)
	}

	rec := &recorder{ResponseWriter: w}
	if u.breaker == nil {
		_ = u.forward(rec, r)
		return
	}

	_, err := u.breaker.Execute(func() (interface{}, error) {
		return nil, u.forward(rec, r)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		u.logger.Warn("circuit breaker rejected request",
			observability.String("path", r.URL.Path),
			observability.String("state", u.breaker.State().String()),
			observability.String("request_id", observability.RequestIDFromContext(r.Context())),
		)
		apierror.Write(w, apierror.Unavailable)
	}
}

// forward runs one round trip and reports transport errors and 5xx
// statuses as failures.
func (u *Upstream) forward(rec *recorder, r *http.Request) error {
	start := time.Now()
	u.proxy.ServeHTTP(rec, r)
	u.metrics.RecordUpstream(rec.Status(), time.Since(start))

	if rec.err != nil {
		return rec.err
	}
	if rec.Status() >= http.StatusInternalServerError {
		return &StatusError{Status: rec.Status()}
	}
	return nil
}

func (u *Upstream) rewrite(pr *httputil.ProxyRequest) {
	pr.SetURL(u.target)
	pr.SetXForwarded()
	if id := observability.RequestIDFromContext(pr.In.Context()); id != "" {
		pr.Out.Header.Set(requestIDHeader, id)
	}
}

func (u *Upstream) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if rec, ok := w.(*recorder); ok {
		rec.err = err
	}

	fields := []observability.Field{
		observability.String("method", r.Method),
		observability.String("path", r.URL.Path),
		observability.String("request_id", observability.RequestIDFromContext(r.Context())),
		observability.Error(err),
	}
	if errors.Is(err, context.Canceled) {
		u.logger.Debug("client canceled upstream request", fields...)
	} else {
		u.logger.Error("upstream request failed", fields...)
	}

	apierror.Write(w, apierror.BadGateway)
}

// recorder captures the status written through it.
type recorder struct {
	http.ResponseWriter
	status int
	err    error
}

func (r *recorder) WriteHeader(code int) {
	if r.status == 0 && code >= http.StatusOK {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Status returns the written status, or 200 if none was written.
func (r *recorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *recorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

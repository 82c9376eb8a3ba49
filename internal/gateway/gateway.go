// Package gateway assembles the request pipeline and serves it over HTTP.
//
// Every request passes through, in order: correlation, panic recovery,
// security headers, CORS, tracing, access logging, authentication, the
// unmatched-path policy, rate limiting, and finally the upstream proxy.
// Any stage may answer on its own and stop the rest.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/apiguard/internal/auth"
	"github.com/vyrodovalexey/apiguard/internal/config"
	"github.com/vyrodovalexey/apiguard/internal/middleware"
	"github.com/vyrodovalexey/apiguard/internal/observability"
	"github.com/vyrodovalexey/apiguard/internal/ratelimit"
)

// State represents the gateway state.
type State int32

const (
	// StateStopped indicates the gateway is stopped.
	StateStopped State = iota
	// StateStarting indicates the gateway is starting.
	StateStarting
	// StateRunning indicates the gateway is running.
	StateRunning
	// StateStopping indicates the gateway is stopping.
	StateStopping
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Errors returned by the gateway lifecycle.
var (
	ErrNotStopped = errors.New("gateway is not in stopped state")
	ErrNotRunning = errors.New("gateway is not running")
)

// Gateway is the HTTP front door.
type Gateway struct {
	cfg      *config.Config
	auth     *auth.Engine
	limiter  ratelimit.Limiter
	upstream http.Handler

	logger         observability.Logger
	metrics        *observability.Metrics
	tracerProvider trace.TracerProvider
	propagators    propagation.TextMapPropagator

	engine    *gin.Engine
	listener  *Listener
	state     atomic.Int32
	startTime time.Time
	mu        sync.RWMutex
}

// Option is a functional option for configuring the gateway.
type Option func(*Gateway)

// WithLogger sets the logger for the gateway.
func WithLogger(logger observability.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithTracerProvider sets the tracer provider for server spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(g *Gateway) {
		g.tracerProvider = tp
	}
}

// WithPropagators sets the propagators used to continue incoming traces.
func WithPropagators(p propagation.TextMapPropagator) Option {
	return func(g *Gateway) {
		g.propagators = p
	}
}

// WithUpstream sets the handler admitted requests are forwarded to. Without
// one, admitted requests that match no local route get 404.
func WithUpstream(h http.Handler) Option {
	return func(g *Gateway) {
		g.upstream = h
	}
}

// New builds the gateway and its pipeline. It does not start listening.
func New(cfg *config.Config, engine *auth.Engine, limiter ratelimit.Limiter, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if engine == nil || limiter == nil {
		return nil, fmt.Errorf("auth engine and limiter are required")
	}

	g := &Gateway{
		cfg:     cfg,
		auth:    engine,
		limiter: limiter,
		logger:  observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}

	if err := g.setupEngine(); err != nil {
		return nil, err
	}

	g.state.Store(int32(StateStopped))
	return g, nil
}

// setupEngine installs the pipeline stages in order.
func (g *Gateway) setupEngine() error {
	public, err := auth.NewPathMatcher(g.cfg.PublicPaths)
	if err != nil {
		return fmt.Errorf("public paths: %w", err)
	}

	r := gin.New()
	// gin answers path redirects before any middleware runs, which would
	// skip correlation, security headers and authentication.
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	if err := r.SetTrustedProxies(g.cfg.Server.TrustedProxies); err != nil {
		return fmt.Errorf("trusted proxies: %w", err)
	}

	r.Use(
		middleware.RequestID(),
		middleware.Recovery(g.logger),
		middleware.SecurityHeaders(),
		middleware.CORS(g.cfg.CORS, g.auth.KeyHeader()),
		middleware.Tracing(middleware.TracingConfig{
			TracerProvider: g.tracerProvider,
			Propagators:    g.propagators,
			SkipPaths:      []string{config.DefaultHealthPath},
		}),
		middleware.AccessLog(g.logger, g.metrics, config.DefaultHealthPath),
		middleware.Authenticate(g.auth),
	)
	if g.cfg.Security.DenyUnmatched {
		r.Use(middleware.DenyUnmatched(public, g.cfg.RateLimit.ProtectedPrefix))
	}
	r.Use(middleware.RateLimit(middleware.RateLimitConfig{
		Limiter:         g.limiter,
		ProtectedPrefix: g.cfg.RateLimit.ProtectedPrefix,
		Logger:          g.logger,
	}))

	r.GET(config.DefaultHealthPath, healthHandler)
	if g.upstream != nil {
		r.NoRoute(gin.WrapH(g.upstream))
	}

	g.engine = r
	return nil
}

func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "UP"})
}

// Handler returns the assembled pipeline.
func (g *Gateway) Handler() http.Handler {
	return g.engine
}

// Engine returns the gin engine.
func (g *Gateway) Engine() *gin.Engine {
	return g.engine
}

// Start starts the HTTP listener.
func (g *Gateway) Start(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return ErrNotStopped
	}

	g.logger.Info("starting gateway",
		observability.String("address", g.cfg.Server.Address),
	)

	listener := NewListener("http", g.cfg.Server.Address, g.engine,
		WithListenerLogger(g.logger),
		WithListenerTimeouts(g.cfg.Server.ReadTimeout.Duration(), g.cfg.Server.WriteTimeout.Duration()),
	)
	if err := listener.Start(ctx); err != nil {
		g.state.Store(int32(StateStopped))
		return fmt.Errorf("failed to start listener: %w", err)
	}

	g.mu.Lock()
	g.listener = listener
	g.startTime = time.Now()
	g.mu.Unlock()
	g.state.Store(int32(StateRunning))

	g.logger.Info("gateway started",
		observability.String("address", listener.Address()),
	)
	return nil
}

// Stop stops the gateway gracefully, waiting for in-flight requests up to
// the configured shutdown timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return ErrNotRunning
	}

	g.logger.Info("stopping gateway")

	if _, ok := ctx.Deadline(); !ok {
		if timeout := g.cfg.Server.ShutdownTimeout.Duration(); timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
	}

	g.mu.RLock()
	listener := g.listener
	g.mu.RUnlock()

	err := listener.Stop(ctx)
	g.state.Store(int32(StateStopped))

	g.logger.Info("gateway stopped")
	return err
}

// State returns the current gateway state.
func (g *Gateway) State() State {
	return State(g.state.Load())
}

// IsRunning returns true if the gateway is running.
func (g *Gateway) IsRunning() bool {
	return g.State() == StateRunning
}

// Uptime returns the gateway uptime.
func (g *Gateway) Uptime() time.Duration {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.startTime.IsZero() || !g.IsRunning() {
		return 0
	}
	return time.Since(g.startTime)
}

// Addr returns the bound listener address, or "" before Start.
func (g *Gateway) Addr() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.listener == nil {
		return ""
	}
	return g.listener.Address()
}

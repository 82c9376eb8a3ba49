// Package server runs the gateway's gRPC listener: the health service plus
// a guarded pass-through to the gRPC upstream.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vyrodovalexey/apiguard/internal/auth"
	"github.com/vyrodovalexey/apiguard/internal/grpc/middleware"
	"github.com/vyrodovalexey/apiguard/internal/grpc/proxy"
	"github.com/vyrodovalexey/apiguard/internal/observability"
	"github.com/vyrodovalexey/apiguard/internal/ratelimit"
)

// DefaultGracefulStopTimeout bounds Stop when the context has no deadline.
const DefaultGracefulStopTimeout = 30 * time.Second

// Errors returned by the server lifecycle.
var (
	ErrNotStopped = errors.New("grpc server is not in stopped state")
	ErrNotRunning = errors.New("grpc server is not running")
)

// State represents the server state.
type State int32

const (
	// StateStopped indicates the server is stopped.
	StateStopped State = iota
	// StateRunning indicates the server is running.
	StateRunning
	// StateStopping indicates the server is stopping.
	StateStopping
)

// Server is the gRPC front door.
type Server struct {
	address   string
	listener  net.Listener
	unknown   grpc.StreamHandler
	extraOpts []grpc.ServerOption
	logger    observability.Logger
	metrics   *observability.Metrics

	grpcServer   *grpc.Server
	healthServer *health.Server
	state        atomic.Int32
	mu           sync.RWMutex
	done         chan struct{}
}

// Option is a functional option for configuring the server.
type Option func(*Server)

// WithLogger sets the logger for the server.
func WithLogger(logger observability.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithUnknownServiceHandler sets the handler for services not registered
// on the server, normally the upstream proxy.
func WithUnknownServiceHandler(h grpc.StreamHandler) Option {
	return func(s *Server) {
		s.unknown = h
	}
}

// WithListener serves on an existing listener instead of binding address.
func WithListener(ln net.Listener) Option {
	return func(s *Server) {
		s.listener = ln
	}
}

// WithServerOptions appends raw grpc server options.
func WithServerOptions(opts ...grpc.ServerOption) Option {
	return func(s *Server) {
		s.extraOpts = append(s.extraOpts, opts...)
	}
}

// New builds the server and registers the health service. Calls pass
// through correlation, recovery, logging, authentication and rate
// limiting, in that order.
func New(address string, engine *auth.Engine, limiter ratelimit.Limiter, opts ...Option) (*Server, error) {
	if engine == nil || limiter == nil {
		return nil, errors.New("auth engine and limiter are required")
	}

	s := &Server{
		address: address,
		logger:  observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	serverOpts := []grpc.ServerOption{
		grpc.ForceServerCodec(proxy.Codec{}),
		grpc.ChainUnaryInterceptor(
			middleware.UnaryRequestIDInterceptor(),
			middleware.UnaryRecoveryInterceptor(s.logger),
			middleware.UnaryLoggingInterceptor(s.logger, s.metrics),
			middleware.UnaryAuthInterceptor(engine),
			middleware.UnaryRateLimitInterceptor(limiter, s.logger),
		),
		grpc.ChainStreamInterceptor(
			middleware.StreamRequestIDInterceptor(),
			middleware.StreamRecoveryInterceptor(s.logger),
			middleware.StreamLoggingInterceptor(s.logger, s.metrics),
			middleware.StreamAuthInterceptor(engine),
			middleware.StreamRateLimitInterceptor(limiter, s.logger),
		),
	}
	if s.unknown != nil {
		serverOpts = append(serverOpts, grpc.UnknownServiceHandler(s.unknown))
	}
	serverOpts = append(serverOpts, s.extraOpts...)

	s.grpcServer = grpc.NewServer(serverOpts...)
	s.healthServer = health.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.healthServer)

	s.state.Store(int32(StateStopped))
	return s, nil
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateStopped), int32(StateRunning)) {
		return ErrNotStopped
	}

	ln := s.listener
	if ln == nil {
		var lc net.ListenConfig
		var err error
		ln, err = lc.Listen(ctx, "tcp", s.address)
		if err != nil {
			s.state.Store(int32(StateStopped))
			return fmt.Errorf("failed to listen on %s: %w", s.address, err)
		}
	}

	s.mu.Lock()
	s.listener = ln
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.logger.Info("gRPC server started",
		observability.String("address", ln.Addr().String()),
	)

	go s.serve(ln)
	return nil
}

func (s *Server) serve(ln net.Listener) {
	defer close(s.done)
	if err := s.grpcServer.Serve(ln); err != nil && s.State() == StateRunning {
		s.logger.Error("gRPC server error",
			observability.String("address", ln.Addr().String()),
			observability.Error(err),
		)
	}
}

// Stop drains in-flight calls, forcing the stop when ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return ErrNotRunning
	}

	s.healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultGracefulStopTimeout)
		defer cancel()
	}

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.logger.Info("gRPC server stopped gracefully")
	case <-ctx.Done():
		s.logger.Warn("graceful stop timeout, forcing stop")
		s.grpcServer.Stop()
	}

	s.mu.RLock()
	done := s.done
	s.mu.RUnlock()
	<-done

	s.state.Store(int32(StateStopped))
	return nil
}

// State returns the current server state.
func (s *Server) State() State {
	return State(s.state.Load())
}

// Addr returns the listener address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.address
}

// GRPCServer returns the underlying gRPC server.
func (s *Server) GRPCServer() *grpc.Server {
	return s.grpcServer
}

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/vyrodovalexey/apiguard/internal/observability"
)

// Listener defaults. Zero read or write timeouts fall back to these.
const (
	defaultReadTimeout       = 30 * time.Second
	defaultWriteTimeout      = 30 * time.Second
	defaultReadHeaderTimeout = 10 * time.Second
	defaultIdleTimeout       = 120 * time.Second
	maxHeaderBytes           = 1 << 20
)

// Listener serves one handler on one TCP address. The gateway pipeline and
// the metrics endpoint each get their own.
type Listener struct {
	name    string
	address string
	handler http.Handler
	logger  observability.Logger

	readTimeout  time.Duration
	writeTimeout time.Duration

	mu     sync.Mutex
	server *http.Server
	bound  string
	done   chan struct{}
}

// ListenerOption is a functional option for configuring a listener.
type ListenerOption func(*Listener)

// WithListenerLogger sets the logger for the listener.
func WithListenerLogger(logger observability.Logger) ListenerOption {
	return func(l *Listener) {
		l.logger = logger
	}
}

// WithListenerTimeouts bounds how long a request may take to be read and
// its response to be written.
func WithListenerTimeouts(read, write time.Duration) ListenerOption {
	return func(l *Listener) {
		if read > 0 {
			l.readTimeout = read
		}
		if write > 0 {
			l.writeTimeout = write
		}
	}
}

// NewListener creates a listener named for log output. Nothing is bound
// until Start.
func NewListener(name, address string, handler http.Handler, opts ...ListenerOption) *Listener {
	l := &Listener{
		name:         name,
		address:      address,
		handler:      handler,
		logger:       observability.NopLogger(),
		readTimeout:  defaultReadTimeout,
		writeTimeout: defaultWriteTimeout,
	}

	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(observability.String("listener", name))

	return l
}

// Address returns the bound address once started, or the configured one.
func (l *Listener) Address() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.bound != "" {
		return l.bound
	}
	return l.address
}

// Start binds the address and serves in the background. Binding errors are
// returned synchronously so callers fail fast on a busy port.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.server != nil {
		return fmt.Errorf("%s listener on %s is already running", l.name, l.address)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", l.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s address %s: %w", l.name, l.address, err)
	}

	srv := &http.Server{
		Handler:           l.handler,
		ReadTimeout:       l.readTimeout,
		ReadHeaderTimeout: min(defaultReadHeaderTimeout, l.readTimeout),
		WriteTimeout:      l.writeTimeout,
		IdleTimeout:       defaultIdleTimeout,
		MaxHeaderBytes:    maxHeaderBytes,
	}
	done := make(chan struct{})

	l.server = srv
	l.bound = ln.Addr().String()
	l.done = done

	l.logger.Info("listener started", observability.String("address", l.bound))

	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error("listener error", observability.Error(err))
		}
	}()

	return nil
}

// Stop drains in-flight requests until ctx expires, then closes whatever
// is left. Stopping a listener that never started is a no-op.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	srv, done := l.server, l.done
	l.server = nil
	l.mu.Unlock()

	if srv == nil {
		return nil
	}

	err := srv.Shutdown(ctx)
	if err != nil {
		if closeErr := srv.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
		err = fmt.Errorf("failed to stop %s listener gracefully: %w", l.name, err)
	}
	<-done

	l.logger.Info("listener stopped")
	return err
}

// IsRunning reports whether the listener is serving.
func (l *Listener) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.server != nil
}

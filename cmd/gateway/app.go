package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vyrodovalexey/apiguard/internal/auth"
	"github.com/vyrodovalexey/apiguard/internal/auth/apikey"
	"github.com/vyrodovalexey/apiguard/internal/auth/jwt"
	"github.com/vyrodovalexey/apiguard/internal/config"
	"github.com/vyrodovalexey/apiguard/internal/gateway"
	grpcproxy "github.com/vyrodovalexey/apiguard/internal/grpc/proxy"
	grpcserver "github.com/vyrodovalexey/apiguard/internal/grpc/server"
	"github.com/vyrodovalexey/apiguard/internal/observability"
	"github.com/vyrodovalexey/apiguard/internal/proxy"
	"github.com/vyrodovalexey/apiguard/internal/ratelimit"
	"github.com/vyrodovalexey/apiguard/internal/vault"
)

const metricsNamespace = "apiguard"

// application holds all application components.
type application struct {
	config  *config.Config
	logger  observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	limiter ratelimit.Limiter

	gateway       *gateway.Gateway
	grpcServer    *grpcserver.Server
	grpcProxy     *grpcproxy.Proxy
	metricsServer *gateway.Listener
}

// newApplication builds every component from cfg. Credentials from Vault,
// when enabled, replace the file values before the validators are built.
func newApplication(ctx context.Context, cfg *config.Config, logger observability.Logger) (*application, error) {
	if cfg.Vault.Enabled {
		if err := applyVaultCredentials(ctx, cfg, logger); err != nil {
			return nil, err
		}
	}

	app := &application{
		config:  cfg,
		logger:  logger,
		metrics: observability.NewMetrics(metricsNamespace),
	}

	tracer, err := observability.NewTracer(ctx, observability.TracerConfig{
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
		Enabled:      cfg.Tracing.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	app.tracer = tracer

	engine, err := newAuthEngine(cfg, logger, app.metrics)
	if err != nil {
		return nil, err
	}

	app.limiter, err = ratelimit.NewLimiter(cfg.RateLimit, cfg.Redis,
		ratelimit.WithLogger(logger),
		ratelimit.WithMetrics(app.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}

	gwOpts := []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithMetrics(app.metrics),
		gateway.WithTracerProvider(tracer.Provider()),
		gateway.WithPropagators(tracer.Propagator()),
	}
	if cfg.Upstream.URL != "" {
		upstream, upErr := proxy.New(cfg.Upstream,
			proxy.WithLogger(logger),
			proxy.WithMetrics(app.metrics),
		)
		if upErr != nil {
			app.closeLimiter()
			return nil, fmt.Errorf("failed to create upstream proxy: %w", upErr)
		}
		gwOpts = append(gwOpts, gateway.WithUpstream(upstream))
	} else {
		logger.Warn("no upstream configured, admitted requests are answered locally")
	}

	app.gateway, err = gateway.New(cfg, engine, app.limiter, gwOpts...)
	if err != nil {
		app.closeLimiter()
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	if cfg.GRPC.Enabled {
		if err := app.initGRPC(engine); err != nil {
			app.closeLimiter()
			return nil, err
		}
	}

	if cfg.Metrics.Enabled {
		app.initMetricsServer()
	}

	return app, nil
}

// applyVaultCredentials overlays the Vault secret onto cfg.
func applyVaultCredentials(ctx context.Context, cfg *config.Config, logger observability.Logger) error {
	loader, err := vault.NewLoader(cfg.Vault, logger)
	if err != nil {
		return err
	}

	loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	creds, err := loader.Load(loadCtx)
	if err != nil {
		return fmt.Errorf("failed to load credentials from vault: %w", err)
	}
	creds.Apply(cfg)
	return nil
}

// newAuthEngine builds the token validator, key set and decision engine.
func newAuthEngine(cfg *config.Config, logger observability.Logger, metrics *observability.Metrics) (*auth.Engine, error) {
	tokens, err := jwt.NewValidator(jwt.Config{
		Secret:   []byte(cfg.JWT.Secret),
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
		Lifetime: cfg.JWT.Lifetime.Duration(),
	}, jwt.WithValidatorLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create token validator: %w", err)
	}

	keys, err := apikey.NewKeySet(cfg.APIKey.KeyList(), cfg.APIKey.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to create api key set: %w", err)
	}

	public, err := auth.NewPathMatcher(cfg.PublicPaths)
	if err != nil {
		return nil, fmt.Errorf("invalid public paths: %w", err)
	}

	logger.Info("authentication configured",
		observability.Int("api_keys", keys.Len()),
		observability.Strings("accepted_services", cfg.JWT.AcceptedServiceList()),
	)

	return auth.NewEngine(tokens, keys,
		auth.WithAcceptedServices(cfg.JWT.AcceptedServiceList()),
		auth.WithPublicPaths(public),
		auth.WithEngineLogger(logger),
		auth.WithEngineMetrics(metrics),
	), nil
}

// initGRPC builds the gRPC listener and, when configured, its upstream.
func (a *application) initGRPC(engine *auth.Engine) error {
	opts := []grpcserver.Option{
		grpcserver.WithLogger(a.logger),
		grpcserver.WithMetrics(a.metrics),
	}

	if target := a.config.GRPC.Upstream; target != "" {
		p, err := grpcproxy.New(target, grpcproxy.WithLogger(a.logger))
		if err != nil {
			return err
		}
		a.grpcProxy = p
		opts = append(opts, grpcserver.WithUnknownServiceHandler(p.StreamHandler()))
	}

	srv, err := grpcserver.New(a.config.GRPC.Address, engine, a.limiter, opts...)
	if err != nil {
		if a.grpcProxy != nil {
			_ = a.grpcProxy.Close()
		}
		return fmt.Errorf("failed to create grpc server: %w", err)
	}
	a.grpcServer = srv
	return nil
}

// initMetricsServer prepares the Prometheus endpoint on its own listener.
func (a *application) initMetricsServer() {
	mux := http.NewServeMux()
	mux.Handle(a.config.Metrics.Path, a.metrics.Handler())

	a.metricsServer = gateway.NewListener("metrics", a.config.Metrics.Address, mux,
		gateway.WithListenerLogger(a.logger),
		gateway.WithListenerTimeouts(10*time.Second, 10*time.Second),
	)
}

// start brings up the listeners. On failure, listeners already started are
// left for shutdown to stop.
func (a *application) start(ctx context.Context) error {
	if a.metricsServer != nil {
		if err := a.metricsServer.Start(ctx); err != nil {
			return err
		}
	}

	if err := a.gateway.Start(ctx); err != nil {
		return err
	}

	if a.grpcServer != nil {
		if err := a.grpcServer.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (a *application) closeLimiter() {
	if c, ok := a.limiter.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.logger.Error("failed to close rate limiter", observability.Error(err))
		}
	}
}

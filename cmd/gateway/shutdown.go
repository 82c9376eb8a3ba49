package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vyrodovalexey/apiguard/internal/config"
	"github.com/vyrodovalexey/apiguard/internal/observability"
)

const shutdownTimeout = 30 * time.Second

// runGateway runs the gateway and handles shutdown.
func runGateway(ctx context.Context, app *application, flags cliFlags, logger observability.Logger) {
	if err := app.start(ctx); err != nil {
		app.shutdown(ctx)
		fatalWithSync(logger, "failed to start gateway", observability.Error(err))
		return
	}

	watcher := startConfigWatcher(ctx, flags, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", observability.String("signal", sig.String()))

	if watcher != nil {
		_ = watcher.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	app.shutdown(shutdownCtx)
}

// startConfigWatcher watches the configuration file for log level changes.
func startConfigWatcher(ctx context.Context, flags cliFlags, logger observability.Logger) *config.Watcher {
	watcher, err := config.NewWatcher(flags.configPath, func(r config.Reload) {
		applyReload(r.Current, flags, logger)
	}, config.WithLogger(logger))
	if err != nil {
		logger.Warn("failed to create config watcher", observability.Error(err))
		return nil
	}

	if err := watcher.Start(ctx); err != nil {
		logger.Warn("failed to start config watcher", observability.Error(err))
		_ = watcher.Stop()
		return nil
	}

	return watcher
}

// applyReload applies the reloadable subset of newCfg: the log level, unless
// the command line pinned it. Credentials and limits stay as loaded at
// startup.
func applyReload(newCfg *config.Config, flags cliFlags, logger observability.Logger) {
	if flags.logLevel != "" {
		logger.Debug("log level pinned by flag, ignoring reload",
			observability.String("level", flags.logLevel),
		)
		return
	}

	setter, ok := logger.(observability.LevelSetter)
	if !ok {
		return
	}

	level := firstNonEmpty(newCfg.Logging.Level, "info")
	if setter.Level() == level {
		return
	}
	if err := setter.SetLevel(level); err != nil {
		logger.Error("failed to apply log level", observability.Error(err))
		return
	}
	logger.Info("log level changed", observability.String("level", level))
}

// shutdown stops every component, draining in-flight requests until ctx
// expires.
func (a *application) shutdown(ctx context.Context) {
	if a.metricsServer != nil {
		if err := a.metricsServer.Stop(ctx); err != nil {
			a.logger.Error("failed to stop metrics server", observability.Error(err))
		}
	}

	if a.gateway.IsRunning() {
		if err := a.gateway.Stop(ctx); err != nil {
			a.logger.Error("failed to stop gateway gracefully", observability.Error(err))
		}
	}

	if a.grpcServer != nil {
		_ = a.grpcServer.Stop(ctx)
	}
	if a.grpcProxy != nil {
		if err := a.grpcProxy.Close(); err != nil {
			a.logger.Error("failed to close grpc upstream", observability.Error(err))
		}
	}

	a.closeLimiter()

	if err := a.tracer.Shutdown(ctx); err != nil {
		a.logger.Error("failed to shutdown tracer", observability.Error(err))
	}

	a.logger.Info("gateway stopped")
}

// Package main is the entry point for the apiguard gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/vyrodovalexey/apiguard/internal/config"
	"github.com/vyrodovalexey/apiguard/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

const defaultConfigPath = "configs/gateway.yaml"

// cliFlags holds command line flags. Empty log settings defer to the
// configuration file.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	if flags.showVersion {
		printVersion(os.Stdout)
		return
	}

	bootstrap := initLogger(observability.LogConfig{
		Level:  firstNonEmpty(flags.logLevel, "info"),
		Format: firstNonEmpty(flags.logFormat, "json"),
	})

	cfg := loadAndValidateConfig(flags.configPath, bootstrap)
	logger := initLogger(logConfig(flags, cfg.Logging))
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	app, err := newApplication(ctx, cfg, logger)
	if err != nil {
		fatalWithSync(logger, "failed to initialize gateway", observability.Error(err))
		return
	}

	runGateway(ctx, app, flags, logger)
}

// parseFlags parses command line flags, defaulting from the environment.
func parseFlags(args []string) (cliFlags, error) {
	fs := flag.NewFlagSet("gateway", flag.ContinueOnError)

	var f cliFlags
	fs.StringVar(&f.configPath, "config", getEnvOrDefault("GATEWAY_CONFIG_PATH", defaultConfigPath),
		"Path to configuration file")
	fs.StringVar(&f.logLevel, "log-level", getEnvOrDefault("GATEWAY_LOG_LEVEL", ""),
		"Log level (debug, info, warn, error); overrides logging.level")
	fs.StringVar(&f.logFormat, "log-format", getEnvOrDefault("GATEWAY_LOG_FORMAT", ""),
		"Log format (json, console); overrides logging.format")
	fs.BoolVar(&f.showVersion, "version", false, "Show version information")

	if err := fs.Parse(args); err != nil {
		return cliFlags{}, err
	}
	return f, nil
}

func printVersion(w io.Writer) {
	_, _ = fmt.Fprintf(w, "apiguard version %s\n", version)
	_, _ = fmt.Fprintf(w, "  Build time: %s\n", buildTime)
	_, _ = fmt.Fprintf(w, "  Git commit: %s\n", gitCommit)
}

// logConfig merges the flags over the file's logging section.
func logConfig(flags cliFlags, cfg config.LoggingConfig) observability.LogConfig {
	return observability.LogConfig{
		Level:  firstNonEmpty(flags.logLevel, cfg.Level, "info"),
		Format: firstNonEmpty(flags.logFormat, cfg.Format, "json"),
		Output: firstNonEmpty(cfg.Output, "stdout"),
	}
}

// initLogger initializes the logger or exits.
func initLogger(cfg observability.LogConfig) observability.Logger {
	logger, err := observability.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	return logger
}

// loadAndValidateConfig loads and validates the configuration.
func loadAndValidateConfig(configPath string, logger observability.Logger) *config.Config {
	logger.Info("starting apiguard",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fatalWithSync(logger, "failed to load configuration", observability.Error(err))
		return nil
	}

	if err := config.ValidateConfig(cfg); err != nil {
		fatalWithSync(logger, "invalid configuration", observability.Error(err))
		return nil
	}

	logger.Info("configuration loaded",
		observability.String("strategy", cfg.RateLimit.Strategy),
		observability.Int("public_paths", len(cfg.PublicPaths)),
		observability.Bool("upstream", cfg.Upstream.URL != ""),
		observability.Bool("grpc", cfg.GRPC.Enabled),
		observability.Bool("vault", cfg.Vault.Enabled),
	)

	return cfg
}

// fatalWithSync flushes buffered log entries before exiting.
func fatalWithSync(logger observability.Logger, msg string, fields ...observability.Field) {
	_ = logger.Sync()
	logger.Fatal(msg, fields...)
}

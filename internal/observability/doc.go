// Package observability provides logging, metrics, and tracing
// functionality for the gateway.
//
// # Logging
//
// The Logger interface wraps zap with a runtime-adjustable level:
//
//	logger, err := observability.NewLogger(observability.DefaultLogConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer func() { _ = logger.Sync() }()
//
//	logger.WithContext(ctx).Info("request admitted",
//	    observability.String("principal", subject),
//	)
//
// # Metrics
//
// Metrics owns a private Prometheus registry. All recording methods are
// safe to call on a nil *Metrics, which disables collection.
//
// # Tracing
//
// NewTracer configures an OpenTelemetry provider with an OTLP gRPC
// exporter and W3C trace-context propagation.
package observability

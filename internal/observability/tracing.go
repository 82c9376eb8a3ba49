package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// OTLP exporter defaults.
const (
	DefaultOTLPTimeout            = 10 * time.Second
	DefaultOTLPReconnectionPeriod = 10 * time.Second
)

// TracerConfig contains tracing configuration.
type TracerConfig struct {
	ServiceName  string
	OTLPEndpoint string
	SamplingRate float64
	Enabled      bool
}

// Tracer owns the gateway's span pipeline: the sdk provider when tracing
// is enabled and the propagator used to read and forward trace headers.
type Tracer struct {
	provider   *sdktrace.TracerProvider
	propagator propagation.TextMapPropagator
}

// NewTracer creates a new tracer. When tracing is disabled spans come from
// the global (no-op by default) provider, but W3C trace context is still
// propagated so upstream traces are not broken by the gateway.
func NewTracer(ctx context.Context, cfg TracerConfig) (*Tracer, error) {
	propagator := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	if !cfg.Enabled {
		return &Tracer{propagator: propagator}, nil
	}

	var exporter *otlptrace.Exporter
	if cfg.OTLPEndpoint != "" {
		var err error
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithTimeout(DefaultOTLPTimeout),
			otlptracegrpc.WithReconnectionPeriod(DefaultOTLPReconnectionPeriod),
		)
		if err != nil {
			return nil, err
		}
	}

	// Schemaless, so the merge never conflicts with the sdk's default
	// resource schema.
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(semconv.ServiceName(cfg.ServiceName)),
	)
	if err != nil {
		return nil, err
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(createSampler(cfg.SamplingRate)),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	provider := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagator)

	return &Tracer{
		provider:   provider,
		propagator: propagator,
	}, nil
}

func createSampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// Provider returns the tracer provider used by this tracer.
func (t *Tracer) Provider() trace.TracerProvider {
	if t.provider != nil {
		return t.provider
	}
	return otel.GetTracerProvider()
}

// Propagator returns the propagator for inbound and outbound trace headers.
func (t *Tracer) Propagator() propagation.TextMapPropagator {
	return t.propagator
}

// Shutdown flushes and stops the tracer provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider != nil {
		return t.provider.Shutdown(ctx)
	}
	return nil
}

package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name used for server spans.
const TracerName = "apiguard"

// TracingConfig holds configuration for the tracing middleware.
type TracingConfig struct {
	TracerProvider trace.TracerProvider
	Propagators    propagation.TextMapPropagator
	SkipPaths      []string
}

// Tracing starts a server span per request, continuing any trace
// propagated by the caller.
func Tracing(cfg TracingConfig) gin.HandlerFunc {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.Propagators == nil {
		cfg.Propagators = otel.GetTextMapPropagator()
	}
	tracer := cfg.TracerProvider.Tracer(TracerName)

	skip := make(map[string]bool, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = true
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if skip[path] {
			c.Next()
			return
		}

		ctx := cfg.Propagators.Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, fmt.Sprintf("%s %s", c.Request.Method, path),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", c.Request.Method),
				attribute.String("url.path", path),
				attribute.String("client.address", c.ClientIP()),
				attribute.String("request.id", GetRequestID(c)),
			),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		if p, ok := principalFrom(c); ok {
			span.SetAttributes(attribute.String("enduser.id", p.Subject))
		}
		if len(c.Errors) > 0 {
			span.RecordError(c.Errors.Last())
		}
		if status >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("status %d", status))
		}
	}
}

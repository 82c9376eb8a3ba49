package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vyrodovalexey/apiguard/internal/config"
	"github.com/vyrodovalexey/apiguard/internal/observability"
)

func TestAccessLog_LevelFollowsStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		level  zapcore.Level
	}{
		{http.StatusOK, zapcore.InfoLevel},
		{http.StatusFound, zapcore.InfoLevel},
		{http.StatusUnauthorized, zapcore.WarnLevel},
		{http.StatusTooManyRequests, zapcore.WarnLevel},
		{http.StatusBadGateway, zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()

			core, logs := observer.New(zapcore.DebugLevel)
			r := gin.New()
			r.Use(RequestIDWithGenerator(func() string { return "req-1" }),
				AccessLog(observability.NewLoggerFromZap(zap.New(core)), nil))
			r.GET("/api/x", func(c *gin.Context) { c.Status(tt.status) })

			serve(r, httptest.NewRequest(http.MethodGet, "/api/x", nil))

			entries := logs.FilterMessage("request completed").All()
			require.Len(t, entries, 1)
			assert.Equal(t, tt.level, entries[0].Level)
			fields := entries[0].ContextMap()
			assert.Equal(t, int64(tt.status), fields["status"])
			assert.Equal(t, "/api/x", fields["path"])
			assert.Equal(t, "req-1", fields["request_id"])
		})
	}
}

func TestAccessLog_SkipPathsAndMetrics(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	metrics := observability.NewMetrics("test")

	r := gin.New()
	r.Use(AccessLog(observability.NewLoggerFromZap(zap.New(core)), metrics, "/actuator/health"))
	r.GET("/actuator/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(r, httptest.NewRequest(http.MethodGet, "/actuator/health", nil))
	assert.Zero(t, logs.Len())

	families, err := metrics.Registry().Gather()
	require.NoError(t, err)
	found := false
	for _, f := range families {
		if f.GetName() == "test_requests_total" {
			found = true
		}
	}
	assert.True(t, found, "request counter should be recorded even when the log line is skipped")
}

func TestTracing(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(t.Context()) })

	var traceID string
	r := gin.New()
	r.Use(RequestIDWithGenerator(func() string { return "req-9" }), Tracing(TracingConfig{
		TracerProvider: provider,
		Propagators:    propagation.TraceContext{},
		SkipPaths:      []string{"/actuator/health"},
	}))
	r.GET("/api/x", func(c *gin.Context) {
		traceID = observability.TraceIDFromContext(c.Request.Context())
		c.Status(http.StatusServiceUnavailable)
	})
	r.GET("/actuator/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	serve(r, req)
	serve(r, httptest.NewRequest(http.MethodGet, "/actuator/health", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "GET /api/x", span.Name())
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", span.SpanContext().TraceID().String())
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", traceID)
	assert.Equal(t, codes.Error, span.Status().Code)

	attrs := map[string]any{}
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "req-9", attrs["request.id"])
	assert.Equal(t, int64(http.StatusServiceUnavailable), attrs["http.response.status_code"])
}

func TestCORS(t *testing.T) {
	t.Parallel()

	r := gin.New()
	r.Use(CORS(config.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}}, "x-api-key"),
		Authenticate(newEngine(t)))
	r.NoRoute(okHandler)

	t.Run("preflight from allowed origin", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "authorization,x-api-key")
		w := serve(r, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-Api-Key")
	})

	t.Run("actual request exposes rate limit headers", func(t *testing.T) {
		t.Parallel()

		req := authed(http.MethodGet, "/api/chat")
		req.Header.Set("Origin", "http://localhost:3000")
		w := serve(r, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "X-Ratelimit-Remaining")
	})

	t.Run("disallowed origin", func(t *testing.T) {
		t.Parallel()

		req := authed(http.MethodGet, "/api/chat")
		req.Header.Set("Origin", "http://evil.example")
		w := serve(r, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestCORS_NoOrigins(t *testing.T) {
	t.Parallel()

	r := gin.New()
	r.Use(CORS(config.CORSConfig{}, "x-api-key"))
	r.NoRoute(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/api/chat", nil)
	req.Header.Set("Origin", "http://anything.example")
	w := serve(r, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

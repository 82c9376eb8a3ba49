package observability

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	tests := []struct {
		name    string
		cfg     LogConfig
		wantErr bool
	}{
		{name: "default", cfg: DefaultLogConfig()},
		{name: "console to stderr", cfg: LogConfig{Level: "debug", Format: "console", Output: "stderr"}},
		{name: "warn level", cfg: LogConfig{Level: "warn", Format: "json"}},
		{name: "file output", cfg: LogConfig{Level: "info", Format: "json", Output: filepath.Join(dir, "gateway.log")}},
		{name: "unknown sink", cfg: LogConfig{Level: "info", Output: "nosuchscheme://x"}, wantErr: true},
		{name: "invalid level", cfg: LogConfig{Level: "loud"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			logger, err := NewLogger(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, logger)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestLogger_SetLevel(t *testing.T) {
	t.Parallel()

	logger, err := NewLogger(LogConfig{Level: "info", Format: "json", Output: "stderr"})
	require.NoError(t, err)

	setter, ok := logger.(LevelSetter)
	require.True(t, ok)
	assert.Equal(t, "info", setter.Level())

	require.NoError(t, setter.SetLevel("debug"))
	assert.Equal(t, "debug", setter.Level())

	// Children share the parent's level.
	child, ok := logger.With(String("component", "test")).(LevelSetter)
	require.True(t, ok)
	assert.Equal(t, "debug", child.Level())

	assert.Error(t, setter.SetLevel("nope"))
	assert.Equal(t, "debug", setter.Level())
}

func TestLogger_WithContext(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewLoggerFromZap(zap.New(core))

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)

	ctx := ContextWithRequestID(context.Background(), "abc-123")
	ctx = trace.ContextWithSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))

	logger.WithContext(ctx).Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "abc-123", fields["request_id"])
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", fields["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", fields["span_id"])
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", TraceIDFromContext(ctx))
}

func TestLogger_WithContext_NoFields(t *testing.T) {
	t.Parallel()

	logger := NopLogger()
	assert.Same(t, logger, logger.WithContext(context.Background()))
}

func TestRequestIDFromContext(t *testing.T) {
	t.Parallel()

	assert.Empty(t, RequestIDFromContext(context.Background()))
	ctx := ContextWithRequestID(context.Background(), "rid")
	assert.Equal(t, "rid", RequestIDFromContext(ctx))
	assert.Empty(t, TraceIDFromContext(ctx))
}

package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logger used across the gateway.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)
	With(fields ...Field) Logger

	// WithContext adds the request's correlation id and, when the context
	// carries a recording span, its trace and span ids.
	WithContext(ctx context.Context) Logger
	Sync() error
}

// LevelSetter is implemented by loggers whose level can change at runtime.
type LevelSetter interface {
	SetLevel(level string) error
	Level() string
}

// Field represents a log field.
type Field = zap.Field

// Field constructors.
var (
	String   = zap.String
	Strings  = zap.Strings
	Int      = zap.Int
	Int64    = zap.Int64
	Float64  = zap.Float64
	Bool     = zap.Bool
	Error    = zap.Error
	Any      = zap.Any
	Duration = zap.Duration
	Time     = zap.Time
)

// Log formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// LogConfig represents logging configuration. Output is "stdout",
// "stderr" or a file path.
type LogConfig struct {
	Level  string
	Format string
	Output string
}

// DefaultLogConfig returns default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:  "info",
		Format: FormatJSON,
		Output: "stdout",
	}
}

type zapLogger struct {
	logger *zap.Logger
	level  zap.AtomicLevel
}

// NewLogger builds a zap-backed logger whose level can be changed later
// through LevelSetter.
func NewLogger(cfg LogConfig) (Logger, error) {
	lvl, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	sink, err := openSink(cfg.Output)
	if err != nil {
		return nil, err
	}

	level := zap.NewAtomicLevelAt(lvl)
	core := zapcore.NewCore(newEncoder(cfg.Format), sink, level)

	return &zapLogger{
		logger: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)),
		level:  level,
	}, nil
}

// NewLoggerFromZap wraps an existing zap logger. The level of the wrapped
// core is not adjustable through SetLevel.
func NewLoggerFromZap(logger *zap.Logger) Logger {
	return &zapLogger{
		logger: logger.WithOptions(zap.AddCallerSkip(1)),
		level:  zap.NewAtomicLevelAt(zapcore.DebugLevel),
	}
}

// NopLogger returns a logger that discards all output.
func NopLogger() Logger {
	return &zapLogger{
		logger: zap.NewNop(),
		level:  zap.NewAtomicLevel(),
	}
}

func newEncoder(format string) zapcore.Encoder {
	ec := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	if format == FormatConsole {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

// openSink resolves the output through zap's sink registry, which knows
// stdout, stderr and plain file paths.
func openSink(output string) (zapcore.WriteSyncer, error) {
	if output == "" {
		output = "stdout"
	}
	ws, _, err := zap.Open(output)
	if err != nil {
		return nil, fmt.Errorf("open log output %q: %w", output, err)
	}
	return ws, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return l, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return l, nil
}

func (l *zapLogger) Debug(msg string, fields ...Field) { l.logger.Debug(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...Field)  { l.logger.Info(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...Field)  { l.logger.Warn(msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...Field) { l.logger.Error(msg, fields...) }
func (l *zapLogger) Fatal(msg string, fields ...Field) { l.logger.Fatal(msg, fields...) }

// With returns a child logger. The child shares the parent's level.
func (l *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{
		logger: l.logger.With(fields...),
		level:  l.level,
	}
}

func (l *zapLogger) WithContext(ctx context.Context) Logger {
	fields := contextFields(ctx)
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

func (l *zapLogger) Sync() error {
	return l.logger.Sync()
}

// SetLevel changes the minimum enabled level of this logger and every
// logger derived from it.
func (l *zapLogger) SetLevel(level string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	l.level.SetLevel(lvl)
	return nil
}

func (l *zapLogger) Level() string {
	return l.level.Level().String()
}

type requestIDKey struct{}

// contextFields reads the correlation id set by ContextWithRequestID and
// the ids of the active span.
func contextFields(ctx context.Context) []Field {
	if ctx == nil {
		return nil
	}

	var fields []Field
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, String("request_id", id))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			String("trace_id", sc.TraceID().String()),
			String("span_id", sc.SpanID().String()),
		)
	}
	return fields
}

// ContextWithRequestID stores the correlation id for the request.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the correlation id, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// TraceIDFromContext returns the trace id of the active span, or "".
func TraceIDFromContext(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

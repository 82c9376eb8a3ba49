package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/apiguard/internal/observability"
)

// AccessLog logs one line per request at a level chosen by status, and
// records the request in metrics. It skips the given paths in logs only.
func AccessLog(logger observability.Logger, metrics *observability.Metrics, skipPaths ...string) gin.HandlerFunc {
	if logger == nil {
		logger = observability.NopLogger()
	}

	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		metrics.RecordRequest(c.Request.Method, status, latency)

		if skip[path] {
			return
		}

		fields := []observability.Field{
			observability.String("method", c.Request.Method),
			observability.String("path", path),
			observability.Int("status", status),
			observability.Duration("latency", latency),
			observability.String("client_ip", c.ClientIP()),
			observability.Int("size", c.Writer.Size()),
		}
		if p, ok := principalFrom(c); ok {
			fields = append(fields, observability.String("principal", p.Subject))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, observability.String("errors", c.Errors.String()))
		}

		l := logger.WithContext(c.Request.Context())
		switch {
		case status >= 500:
			l.Error("request completed", fields...)
		case status >= 400:
			l.Warn("request completed", fields...)
		default:
			l.Info("request completed", fields...)
		}
	}
}

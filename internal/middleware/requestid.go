package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vyrodovalexey/apiguard/internal/observability"
)

const (
	// RequestIDHeader carries the correlation id in both directions.
	RequestIDHeader = "X-Request-Id"

	// RequestIDKey is the gin context key for the correlation id.
	RequestIDKey = "requestID"
)

// RequestID adopts the caller's X-Request-Id, or generates a UUID v4 in
// its place. A caller id is replaced when it is blank, longer than
// observability.MaxRequestIDLength bytes, or holds anything outside
// printable ASCII, so the response and the logs may carry a different id
// than the one sent. The id is placed on the request context for logging
// and written to the response before any later handler runs, so
// short-circuited and panicking requests carry it too.
func RequestID() gin.HandlerFunc {
	return RequestIDWithGenerator(uuid.NewString)
}

// RequestIDWithGenerator is RequestID with a custom id source.
func RequestIDWithGenerator(generate func() string) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if !observability.ValidRequestID(requestID) {
			requestID = generate()
		}

		c.Set(RequestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)
		c.Request = c.Request.WithContext(
			observability.ContextWithRequestID(c.Request.Context(), requestID))

		c.Next()
	}
}

// GetRequestID returns the correlation id for the request.
func GetRequestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}

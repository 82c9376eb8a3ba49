package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/apiguard/internal/apierror"
	"github.com/vyrodovalexey/apiguard/internal/config"
)

// CORS returns the cross-origin handler. Preflight requests from an
// allowed origin are answered here and never reach authentication. With no
// allowed origins the handler does nothing and browsers apply same-origin
// rules.
func CORS(cfg config.CORSConfig, apiKeyHeader string) gin.HandlerFunc {
	if len(cfg.AllowedOrigins) == 0 {
		return func(c *gin.Context) { c.Next() }
	}

	maxAge := cfg.MaxAge.Duration()
	if maxAge <= 0 {
		maxAge = time.Hour
	}

	return cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Authorization", "Content-Type", RequestIDHeader, apiKeyHeader},
		ExposeHeaders: []string{
			apierror.HeaderRateLimitLimit,
			apierror.HeaderRateLimitRemaining,
			apierror.HeaderRetryAfter,
			RequestIDHeader,
		},
		AllowCredentials: true,
		MaxAge:           maxAge,
	})
}

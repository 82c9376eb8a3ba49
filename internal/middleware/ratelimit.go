package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/apiguard/internal/apierror"
	"github.com/vyrodovalexey/apiguard/internal/auth"
	"github.com/vyrodovalexey/apiguard/internal/observability"
	"github.com/vyrodovalexey/apiguard/internal/ratelimit"
)

// RateLimitConfig holds configuration for the rate limit middleware.
type RateLimitConfig struct {
	Limiter         ratelimit.Limiter
	ProtectedPrefix string
	Logger          observability.Logger
}

// RateLimit withdraws one token per request under the protected prefix.
// Preflight requests are never counted. The bucket key is the principal's
// subject when authentication established one, otherwise the client
// address. A limiter error fails closed with 503.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}

	return func(c *gin.Context) {
		path := auth.CleanPath(c.Request.URL.Path)
		if c.Request.Method == http.MethodOptions || !underPrefix(path, cfg.ProtectedPrefix) {
			c.Next()
			return
		}

		subject := ""
		if p, ok := principalFrom(c); ok {
			subject = p.Subject
		}
		key := ratelimit.Key(subject, c.ClientIP())

		result, err := cfg.Limiter.Allow(c.Request.Context(), key)
		if err != nil {
			cfg.Logger.WithContext(c.Request.Context()).Error("rate limit check failed",
				observability.String("key", key),
				observability.Error(err),
			)
			_ = c.Error(err)
			apierror.Abort(c, apierror.Unavailable)
			return
		}

		if !result.Allowed {
			retry := result.RetryAfterSeconds()
			cfg.Logger.WithContext(c.Request.Context()).Warn("rate limit exceeded",
				observability.String("key", key),
				observability.Int("retry_after_seconds", retry),
			)
			apierror.AbortThrottled(c, retry)
			return
		}

		c.Header(apierror.HeaderRateLimitLimit, strconv.Itoa(result.Limit))
		c.Header(apierror.HeaderRateLimitRemaining, strconv.Itoa(result.Remaining))
		c.Next()
	}
}

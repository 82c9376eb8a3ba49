package middleware

import (
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/apiguard/internal/apierror"
	"github.com/vyrodovalexey/apiguard/internal/observability"
)

// Recovery converts a panic into the INTERNAL_ERROR body and logs it with
// its stack.
func Recovery(logger observability.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return ginzap.CustomRecoveryWithZap(logger, true, func(c *gin.Context, _ any) {
		apierror.Abort(c, apierror.Internal)
	})
}

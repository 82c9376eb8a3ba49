package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/apiguard/internal/apierror"
	"github.com/vyrodovalexey/apiguard/internal/auth"
)

// PrincipalKey is the gin context key for the authenticated principal.
const PrincipalKey = "principal"

// Authenticate runs the dual-authentication decision for each request.
// Rejected requests get the generic 401 and never reach later handlers.
func Authenticate(engine *auth.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision := engine.Decide(c.Request.Context(), auth.Credentials{
			Method:        c.Request.Method,
			Path:          c.Request.URL.Path,
			Authorization: c.GetHeader("Authorization"),
			APIKey:        c.GetHeader(engine.KeyHeader()),
		})

		switch decision.Outcome {
		case auth.OutcomeAuthenticated:
			c.Set(PrincipalKey, decision.Principal)
			c.Request = c.Request.WithContext(
				auth.ContextWithPrincipal(c.Request.Context(), decision.Principal))
			c.Next()
		case auth.OutcomeBypassed:
			c.Next()
		default:
			_ = c.Error(decision.Err)
			apierror.Abort(c, apierror.Unauthorized)
		}
	}
}

// GetPrincipal returns the authenticated principal, if any.
func GetPrincipal(c *gin.Context) (*auth.Principal, bool) {
	return principalFrom(c)
}

func principalFrom(c *gin.Context) (*auth.Principal, bool) {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*auth.Principal)
	return p, ok && p != nil
}

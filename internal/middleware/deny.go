package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/apiguard/internal/apierror"
	"github.com/vyrodovalexey/apiguard/internal/auth"
)

// DenyUnmatched answers 403 for any path that is neither public nor under
// the protected prefix.
func DenyUnmatched(public *auth.PathMatcher, protectedPrefix string) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := auth.CleanPath(c.Request.URL.Path)
		if public.Match(path) || underPrefix(path, protectedPrefix) {
			c.Next()
			return
		}
		apierror.Abort(c, apierror.Forbidden)
	}
}

// underPrefix reports whether a cleaned path lies under prefix. A prefix
// of "/api/" also covers "/api" itself.
func underPrefix(path, prefix string) bool {
	if prefix == "" {
		return false
	}
	if strings.HasPrefix(path, prefix) {
		return true
	}
	return strings.HasSuffix(prefix, "/") && path == strings.TrimSuffix(prefix, "/")
}

package auth

import (
	"context"

	"github.com/vyrodovalexey/apiguard/internal/auth/jwt"
)

// Roles granted to every dual-authenticated principal.
const (
	RoleAPIClient  = "ROLE_API_CLIENT"
	RoleRAGService = "ROLE_RAG_SERVICE"
)

// Principal is the identity established by dual authentication. It lives
// for one request.
type Principal struct {
	Subject string
	Roles   []string
	Claims  *jwt.Claims
}

func newPrincipal(claims *jwt.Claims) *Principal {
	return &Principal{
		Subject: claims.Subject,
		Roles:   []string{RoleAPIClient, RoleRAGService},
		Claims:  claims,
	}
}

// HasRole reports whether the principal holds role.
func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type principalKey struct{}

// ContextWithPrincipal returns a copy of ctx carrying p.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal stored in ctx, if any.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}

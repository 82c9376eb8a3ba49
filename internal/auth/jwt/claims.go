package jwt

import (
	"time"
)

// ServiceClaim is the extra claim naming the calling service.
const ServiceClaim = "service"

// Claims holds the verified contents of a token. A Claims value is only
// ever built from a token whose signature has been checked.
type Claims struct {
	Issuer    string
	Subject   string
	Audience  []string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Extra     map[string]interface{}
}

// GetStringClaim returns an extra claim as a string, or "" if it is absent
// or not a string.
func (c *Claims) GetStringClaim(name string) string {
	if c == nil || c.Extra == nil {
		return ""
	}
	s, _ := c.Extra[name].(string)
	return s
}

// Service returns the service claim.
func (c *Claims) Service() string {
	return c.GetStringClaim(ServiceClaim)
}

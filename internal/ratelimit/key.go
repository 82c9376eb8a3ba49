package ratelimit

import (
	"net"
	"strings"
)

// Key prefixes distinguishing authenticated principals from anonymous
// callers.
const (
	PrincipalKeyPrefix = "auth:"
	AddressKeyPrefix   = "ip:"
)

// Key returns the bucket key for a request: the principal's subject when
// one was established, otherwise the caller's source address.
func Key(subject, sourceAddr string) string {
	if subject != "" {
		return PrincipalKeyPrefix + subject
	}
	return AddressKeyPrefix + SourceHost(sourceAddr)
}

// SourceHost strips the port and IPv6 brackets from a remote address.
func SourceHost(addr string) string {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return strings.TrimSuffix(strings.TrimPrefix(addr, "["), "]")
}

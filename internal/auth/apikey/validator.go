// Package apikey validates static API keys presented in a request header.
package apikey

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"strings"
)

// DefaultHeader is the header that carries the key when none is configured.
const DefaultHeader = "x-api-key"

// ErrNoKeys is returned when a key set is built from an empty list.
var ErrNoKeys = errors.New("at least one API key is required")

// KeySet is an immutable set of accepted keys. It is safe for concurrent
// use.
type KeySet struct {
	header  string
	digests [][sha256.Size]byte
}

// NewKeySet builds a key set from keys, ignoring blank entries and
// duplicates. The header name defaults to DefaultHeader.
func NewKeySet(keys []string, header string) (*KeySet, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		header = DefaultHeader
	}

	seen := make(map[[sha256.Size]byte]struct{}, len(keys))
	digests := make([][sha256.Size]byte, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		d := sha256.Sum256([]byte(k))
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		digests = append(digests, d)
	}

	if len(digests) == 0 {
		return nil, ErrNoKeys
	}

	return &KeySet{header: header, digests: digests}, nil
}

// IsValid reports whether key is a member of the set. Every member is
// compared in constant time so the result does not leak which key, or how
// much of one, matched.
func (s *KeySet) IsValid(key string) bool {
	if s == nil || key == "" {
		return false
	}

	presented := sha256.Sum256([]byte(key))
	match := 0
	for i := range s.digests {
		match |= subtle.ConstantTimeCompare(presented[:], s.digests[i][:])
	}
	return match == 1
}

// HeaderName returns the header that carries the key.
func (s *KeySet) HeaderName() string {
	return s.header
}

// Len returns the number of distinct keys.
func (s *KeySet) Len() int {
	return len(s.digests)
}

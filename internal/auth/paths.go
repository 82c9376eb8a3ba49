package auth

import (
	"fmt"
	"path"
	"strings"
)

// PathMatcher matches request paths against an allow-list of patterns.
//
// A pattern ending in "/**" matches its prefix and everything below it.
// A pattern containing glob metacharacters uses path.Match. Anything else
// must match exactly.
type PathMatcher struct {
	exact    map[string]struct{}
	prefixes []string
	globs    []string
}

// NewPathMatcher compiles patterns. It fails on malformed globs.
func NewPathMatcher(patterns []string) (*PathMatcher, error) {
	m := &PathMatcher{exact: make(map[string]struct{})}

	for _, p := range patterns {
		p = strings.TrimSpace(p)
		switch {
		case p == "":
			continue
		case strings.HasSuffix(p, "/**"):
			m.prefixes = append(m.prefixes, strings.TrimSuffix(p, "/**"))
		case strings.ContainsAny(p, "*?["):
			if _, err := path.Match(p, "/"); err != nil {
				return nil, fmt.Errorf("invalid path pattern %q: %w", p, err)
			}
			m.globs = append(m.globs, p)
		default:
			m.exact[p] = struct{}{}
		}
	}

	return m, nil
}

// Match reports whether p is covered by any pattern. p should already be
// cleaned with CleanPath.
func (m *PathMatcher) Match(p string) bool {
	if m == nil {
		return false
	}
	if _, ok := m.exact[p]; ok {
		return true
	}
	for _, prefix := range m.prefixes {
		if p == prefix || strings.HasPrefix(p, prefix+"/") || prefix == "" {
			return true
		}
	}
	for _, g := range m.globs {
		if ok, _ := path.Match(g, p); ok {
			return true
		}
	}
	return false
}

// CleanPath normalizes a request path so that dot segments cannot be used
// to reach a protected path through a public prefix.
func CleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	cleaned := path.Clean(p)
	if cleaned != "/" && strings.HasSuffix(p, "/") {
		cleaned += "/"
	}
	return cleaned
}

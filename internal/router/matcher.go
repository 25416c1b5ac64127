package router

import "strings"

// PrefixMatcher matches path prefixes on segment boundaries: "/api/items"
// matches "/api/items" and "/api/items/42" but not "/api/itemsx".
type PrefixMatcher struct {
	prefix string
}

// NewPrefixMatcher creates a new prefix path matcher. A trailing slash on
// prefix is ignored except for the root prefix "/".
func NewPrefixMatcher(prefix string) *PrefixMatcher {
	if len(prefix) > 1 {
		prefix = strings.TrimSuffix(prefix, "/")
	}
	return &PrefixMatcher{prefix: prefix}
}

// Match checks if the path starts with the prefix.
func (m *PrefixMatcher) Match(path string) bool {
	if !strings.HasPrefix(path, m.prefix) {
		return false
	}
	if len(path) == len(m.prefix) || strings.HasSuffix(m.prefix, "/") {
		return true
	}
	return path[len(m.prefix)] == '/'
}

// Pattern returns the pattern.
func (m *PrefixMatcher) Pattern() string {
	return m.prefix
}

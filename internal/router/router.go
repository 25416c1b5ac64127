// Package router holds the static route table that maps public path
// prefixes onto registered services and rewrites paths into the form each
// backend expects.
package router

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/vyrodovalexey/aggregw/internal/config"
)

// ErrRouteNotFound is returned when no rule matches a path.
var ErrRouteNotFound = errors.New("no matching route found")

// RouteRule maps a public prefix onto a service.
type RouteRule struct {
	PathPrefix    string
	TargetService string
	StripPrefix   string
	ForwardBase   string

	matcher *PrefixMatcher
}

// Rewrite turns an inbound path into the backend path: StripPrefix is
// removed, ForwardBase prepended and the residual segments kept.
//
//	/api/items/42 with {strip /api/items, base /items} -> /items/42
func (r *RouteRule) Rewrite(path string) string {
	residual := path
	if r.StripPrefix != "" && strings.HasPrefix(path, r.StripPrefix) {
		residual = path[len(r.StripPrefix):]
	}
	if residual != "" && !strings.HasPrefix(residual, "/") {
		residual = "/" + residual
	}

	base := strings.TrimSuffix(r.ForwardBase, "/")
	out := base + residual
	if out == "" {
		return "/"
	}
	return out
}

// RewriteURL rewrites u the way Rewrite does while keeping the residual
// escaped. The prefix is stripped from the escaped path when it appears
// there verbatim, otherwise from the decoded path, whose residual is then
// re-escaped.
func (r *RouteRule) RewriteURL(u *url.URL) string {
	escaped := u.EscapedPath()
	if r.StripPrefix == "" || strings.HasPrefix(escaped, r.StripPrefix) {
		return r.Rewrite(escaped)
	}
	if !strings.HasPrefix(u.Path, r.StripPrefix) {
		return r.Rewrite(escaped)
	}
	residual := (&url.URL{Path: u.Path[len(r.StripPrefix):]}).EscapedPath()
	return r.Rewrite(r.StripPrefix + residual)
}

// Table is an immutable, ordered list of rules. The first matching rule
// wins.
type Table struct {
	rules []*RouteRule
}

// NewTable compiles rules into a Table.
func NewTable(rules []RouteRule) (*Table, error) {
	t := &Table{rules: make([]*RouteRule, 0, len(rules))}
	for i := range rules {
		rule := rules[i]
		if !strings.HasPrefix(rule.PathPrefix, "/") {
			return nil, fmt.Errorf("route %d: pathPrefix %q must start with '/'", i, rule.PathPrefix)
		}
		if rule.TargetService == "" {
			return nil, fmt.Errorf("route %d: target service is required", i)
		}
		rule.matcher = NewPrefixMatcher(rule.PathPrefix)
		if rule.StripPrefix == "" {
			rule.StripPrefix = rule.matcher.Pattern()
		}
		t.rules = append(t.rules, &rule)
	}
	return t, nil
}

// FromConfig builds a Table from the configured routes.
func FromConfig(routes []config.RouteConfig) (*Table, error) {
	rules := make([]RouteRule, 0, len(routes))
	for _, r := range routes {
		rules = append(rules, RouteRule{
			PathPrefix:    r.PathPrefix,
			TargetService: r.Service,
			StripPrefix:   r.StripPrefix,
			ForwardBase:   r.ForwardBase,
		})
	}
	return NewTable(rules)
}

// Match returns the first rule whose prefix matches path.
func (t *Table) Match(path string) (*RouteRule, error) {
	for _, rule := range t.rules {
		if rule.matcher.Match(path) {
			return rule, nil
		}
	}
	return nil, ErrRouteNotFound
}

// Prefixes returns the configured prefixes in declaration order.
func (t *Table) Prefixes() []string {
	out := make([]string, 0, len(t.rules))
	for _, rule := range t.rules {
		out = append(out, rule.PathPrefix)
	}
	return out
}

// Services returns the distinct target services in declaration order.
func (t *Table) Services() []string {
	seen := make(map[string]bool, len(t.rules))
	out := make([]string, 0, len(t.rules))
	for _, rule := range t.rules {
		if !seen[rule.TargetService] {
			seen[rule.TargetService] = true
			out = append(out, rule.TargetService)
		}
	}
	return out
}

package router

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/aggregw/internal/config"
)

func defaultTable(t *testing.T) *Table {
	t.Helper()

	table, err := FromConfig(config.DefaultRoutes())
	require.NoError(t, err)
	return table
}

func TestPrefixMatcher(t *testing.T) {
	t.Parallel()

	tests := []struct {
		prefix string
		path   string
		want   bool
	}{
		{"/api/items", "/api/items", true},
		{"/api/items", "/api/items/", true},
		{"/api/items", "/api/items/42", true},
		{"/api/items", "/api/itemsx", false},
		{"/api/items", "/api/item", false},
		{"/api/items/", "/api/items/42", true},
		{"/api/items/", "/api/items", true},
		{"/", "/anything", true},
	}

	for _, tt := range tests {
		t.Run(tt.prefix+"|"+tt.path, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NewPrefixMatcher(tt.prefix).Match(tt.path))
		})
	}
}

func TestTable_Match(t *testing.T) {
	t.Parallel()

	table := defaultTable(t)

	tests := []struct {
		path    string
		service string
		wantErr bool
	}{
		{path: "/api/auth/login", service: "auth-service"},
		{path: "/api/users/7", service: "user-service"},
		{path: "/api/items", service: "item-service"},
		{path: "/api/items/42", service: "item-service"},
		{path: "/api/lists/3/items", service: "list-service"},
		{path: "/api/itemsx", wantErr: true},
		{path: "/api/orders", wantErr: true},
		{path: "/", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()

			rule, err := table.Match(tt.path)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrRouteNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.service, rule.TargetService)
		})
	}
}

func TestTable_FirstMatchWins(t *testing.T) {
	t.Parallel()

	table, err := NewTable([]RouteRule{
		{PathPrefix: "/api", TargetService: "catch-all"},
		{PathPrefix: "/api/items", TargetService: "item-service"},
	})
	require.NoError(t, err)

	rule, err := table.Match("/api/items/1")
	require.NoError(t, err)
	assert.Equal(t, "catch-all", rule.TargetService)
}

func TestRouteRule_Rewrite(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rule RouteRule
		path string
		want string
	}{
		{
			name: "item by id",
			rule: RouteRule{StripPrefix: "/api/items", ForwardBase: "/items"},
			path: "/api/items/42",
			want: "/items/42",
		},
		{
			name: "collection root",
			rule: RouteRule{StripPrefix: "/api/items", ForwardBase: "/items"},
			path: "/api/items",
			want: "/items",
		},
		{
			name: "nested segments",
			rule: RouteRule{StripPrefix: "/api/lists", ForwardBase: "/lists"},
			path: "/api/lists/3/items/9",
			want: "/lists/3/items/9",
		},
		{
			name: "no forward base",
			rule: RouteRule{StripPrefix: "/api/auth"},
			path: "/api/auth/login",
			want: "/login",
		},
		{
			name: "empty result becomes root",
			rule: RouteRule{StripPrefix: "/api/auth"},
			path: "/api/auth",
			want: "/",
		},
		{
			name: "forward base with trailing slash",
			rule: RouteRule{StripPrefix: "/api/users", ForwardBase: "/users/"},
			path: "/api/users/me",
			want: "/users/me",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.rule.Rewrite(tt.path))
		})
	}
}

func TestRouteRule_RewriteURL(t *testing.T) {
	t.Parallel()

	rule := RouteRule{StripPrefix: "/api/items", ForwardBase: "/items"}

	tests := []struct {
		name   string
		target string
		want   string
	}{
		{name: "plain", target: "/api/items/42", want: "/items/42"},
		{name: "encoded prefix", target: "/api/%69tems/42", want: "/items/42"},
		{name: "encoded residual kept", target: "/api/items/a%2Fb", want: "/items/a%2Fb"},
		{name: "encoded prefix and residual", target: "/api/%69tems/milk%20carton", want: "/items/milk%20carton"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			u, err := url.Parse(tt.target)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rule.RewriteURL(u))
		})
	}
}

func TestNewTable_DefaultsStripPrefix(t *testing.T) {
	t.Parallel()

	table, err := NewTable([]RouteRule{{PathPrefix: "/api/items/", TargetService: "item-service", ForwardBase: "/items"}})
	require.NoError(t, err)

	rule, err := table.Match("/api/items/42")
	require.NoError(t, err)
	assert.Equal(t, "/api/items", rule.StripPrefix)
	assert.Equal(t, "/items/42", rule.Rewrite("/api/items/42"))
}

func TestNewTable_Invalid(t *testing.T) {
	t.Parallel()

	_, err := NewTable([]RouteRule{{PathPrefix: "api", TargetService: "x"}})
	assert.Error(t, err)

	_, err = NewTable([]RouteRule{{PathPrefix: "/api"}})
	assert.Error(t, err)
}

func TestTable_PrefixesAndServices(t *testing.T) {
	t.Parallel()

	table := defaultTable(t)

	assert.Equal(t, []string{"/api/auth", "/api/users", "/api/items", "/api/lists"}, table.Prefixes())
	assert.Equal(t, []string{"auth-service", "user-service", "item-service", "list-service"}, table.Services())
}

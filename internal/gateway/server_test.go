package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/aggregw/internal/aggregator"
	"github.com/vyrodovalexey/aggregw/internal/circuitbreaker"
	"github.com/vyrodovalexey/aggregw/internal/config"
	"github.com/vyrodovalexey/aggregw/internal/health"
	"github.com/vyrodovalexey/aggregw/internal/identity"
	"github.com/vyrodovalexey/aggregw/internal/observability"
	"github.com/vyrodovalexey/aggregw/internal/proxy"
	"github.com/vyrodovalexey/aggregw/internal/registry"
	"github.com/vyrodovalexey/aggregw/internal/router"
)

// brokenRegistry fails every call.
type brokenRegistry struct {
	registry.Registry
}

func (brokenRegistry) List(context.Context) (map[string]registry.ServiceRecord, error) {
	return nil, errors.New("connection refused")
}

func (brokenRegistry) Discover(context.Context, string) (registry.ServiceRecord, error) {
	return registry.ServiceRecord{}, errors.New("connection refused")
}

type testGateway struct {
	server  *Server
	metrics *observability.Metrics
}

func newTestGateway(t *testing.T, store registry.Registry) *testGateway {
	t.Helper()

	routes, err := router.FromConfig(config.DefaultRoutes())
	require.NoError(t, err)

	breakers := circuitbreaker.NewManager(circuitbreaker.DefaultConfig(), nil)
	metrics := observability.NewMetrics("gwtest")
	forwarder := proxy.NewForwarder(routes, breakers, store,
		proxy.WithName("edge"),
		proxy.WithMetrics(metrics),
	)

	srv, err := NewServer(config.ServerConfig{Host: "127.0.0.1"}, Deps{
		Name:       "edge",
		Version:    "test",
		Routes:     routes,
		Forwarder:  forwarder,
		Aggregator: aggregator.New(forwarder, config.AggregatorConfig{}),
		Health:     health.NewChecker("edge", "test", store, breakers),
		Registry:   store,
		Resolver:   identity.NewResolver(config.AuthConfig{}),
		Metrics:    metrics,
		Tracer:     observability.NoopTracer(),
	})
	require.NoError(t, err)

	return &testGateway{server: srv, metrics: metrics}
}

// withBackends registers an item and a list service on a memory store.
func withBackends(t *testing.T) (*registry.MemoryStore, <-chan string) {
	t.Helper()

	auth := make(chan string, 8)

	items := http.NewServeMux()
	items.HandleFunc("/items", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":[{"id":"i1","name":"Milk"}]}`))
	})
	items.HandleFunc("/items/categories", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":["dairy"]}`))
	})
	items.HandleFunc("/items/search", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":[{"id":"i1","name":"` + r.URL.Query().Get("q") + `"}]}`))
	})
	items.HandleFunc("/items/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Backend-Path", r.URL.Path)
		_, _ = w.Write([]byte(`{"success":true,"data":{"id":"42"}}`))
	})
	itemSrv := httptest.NewServer(items)
	t.Cleanup(itemSrv.Close)

	listSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"success":true,"data":[
			{"name":"Groceries","items":[{"name":"Milk","price":2,"quantity":3,"purchased":true}]}
		]}`))
	}))
	t.Cleanup(listSrv.Close)

	store := registry.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Register(ctx, registry.ServiceRecord{Name: aggregator.CatalogService, BaseURL: itemSrv.URL}))
	require.NoError(t, store.Register(ctx, registry.ServiceRecord{Name: aggregator.ListService, BaseURL: listSrv.URL}))
	return store, auth
}

func (g *testGateway) get(path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	g.server.Handler().ServeHTTP(rec, req)
	return rec
}

func signedToken(t *testing.T, subject string) string {
	t.Helper()

	tok := jwt.New()
	require.NoError(t, tok.Set(jwt.SubjectKey, subject))
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte("secret")))
	require.NoError(t, err)
	return string(signed)
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) proxy.Envelope {
	t.Helper()

	var env proxy.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	assert.False(t, env.Success)
	return env
}

func TestNewServer_RequiresComponents(t *testing.T) {
	t.Parallel()

	_, err := NewServer(config.ServerConfig{}, Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forwarder")
}

func TestServer_ProxiesRoutedPaths(t *testing.T) {
	t.Parallel()

	store, _ := withBackends(t)
	g := newTestGateway(t, store)

	rec := g.get("/api/items/42", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/items/42", rec.Header().Get("X-Backend-Path"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_UnknownPath(t *testing.T) {
	t.Parallel()

	store, _ := withBackends(t)
	g := newTestGateway(t, store)

	rec := g.get("/nowhere", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, proxy.CodeRouteNotFound, env.Error.Code)
	assert.Equal(t, "edge", env.Source)
}

func TestServer_Health(t *testing.T) {
	t.Parallel()

	store, _ := withBackends(t)
	g := newTestGateway(t, store)

	rec := g.get("/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report health.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, health.StatusOK, report.Status)
	assert.Equal(t, "edge", report.Service)
	assert.Contains(t, report.Services, aggregator.CatalogService)
	assert.Contains(t, report.Services, aggregator.ListService)
}

func TestServer_Registry(t *testing.T) {
	t.Parallel()

	store, _ := withBackends(t)
	g := newTestGateway(t, store)

	rec := g.get("/registry", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body RegistryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, 2, body.Count)
	assert.True(t, body.Services[aggregator.ListService].Healthy)
}

func TestServer_RegistryUnavailable(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t, brokenRegistry{})

	rec := g.get("/registry", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, proxy.CodeServiceUnavailable, env.Error.Code)
	assert.Equal(t, "registry", env.Details["reason"])

	rec = g.get("/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report health.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, health.StatusDegraded, report.Status)
}

func TestServer_DashboardRequiresIdentity(t *testing.T) {
	t.Parallel()

	store, _ := withBackends(t)
	g := newTestGateway(t, store)

	tests := []struct {
		name    string
		token   string
		message string
	}{
		{name: "no token", message: "dashboard requires a bearer token"},
		{name: "garbage token", token: "not-a-jwt", message: "invalid bearer token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := g.get("/api/dashboard", tt.token)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			env := decodeEnvelope(t, rec)
			assert.Equal(t, proxy.CodeUnauthorized, env.Error.Code)
			assert.Equal(t, tt.message, env.Error.Message)
		})
	}
}

func TestServer_Dashboard(t *testing.T) {
	t.Parallel()

	store, auth := withBackends(t)
	g := newTestGateway(t, store)
	token := signedToken(t, "user-1")

	rec := g.get("/api/dashboard", token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body aggregator.DashboardResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "user-1", body.Data.User)
	assert.Equal(t, 1, body.Data.Stats.TotalLists)
	assert.InDelta(t, 6.0, float64(body.Data.Stats.TotalValue), 0.001)
	assert.False(t, body.Meta.Partial)
	assert.Equal(t, "Bearer "+token, <-auth)
}

func TestServer_Search(t *testing.T) {
	t.Parallel()

	store, _ := withBackends(t)
	g := newTestGateway(t, store)

	rec := g.get("/api/search?q=milk", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body aggregator.SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "milk", body.Data.Query)
	assert.Len(t, body.Data.Items, 1)
	assert.Empty(t, body.Data.Lists)

	rec = g.get("/api/search?q=%20", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, proxy.CodeMissingQuery, decodeEnvelope(t, rec).Error.Code)
}

func TestServer_MetricsLabelProxiedRoutesByPrefix(t *testing.T) {
	t.Parallel()

	store, _ := withBackends(t)
	g := newTestGateway(t, store)

	g.get("/api/items/1", "")
	g.get("/api/items/2", "")
	g.get("/nowhere", "")
	g.get("/health", "")

	families, err := g.metrics.Registry().Gather()
	require.NoError(t, err)

	routes := map[string]bool{}
	for _, mf := range families {
		if mf.GetName() != "gwtest_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "route" {
					routes[lp.GetValue()] = true
				}
			}
		}
	}
	assert.Equal(t, map[string]bool{
		"/api/items":                 true,
		"/health":                    true,
		observability.UnmatchedRoute: true,
	}, routes)
}

func TestServer_StartStop(t *testing.T) {
	t.Parallel()

	store, _ := withBackends(t)
	g := newTestGateway(t, store)

	require.NoError(t, g.server.Start(context.Background()))
	assert.True(t, g.server.IsRunning())
	require.Error(t, g.server.Start(context.Background()), "second start is rejected")

	resp, err := http.Get("http://" + g.server.Addr() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, g.server.Stop(ctx))
	assert.False(t, g.server.IsRunning())
	require.NoError(t, g.server.Stop(ctx), "stop is idempotent")
}

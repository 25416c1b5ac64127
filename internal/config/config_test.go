package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	assert.Equal(t, DefaultAPIVersion, cfg.APIVersion)
	assert.Equal(t, KindGateway, cfg.Kind)
	assert.Equal(t, DefaultPort, cfg.Spec.Server.Port)
	assert.Equal(t, 3, cfg.Spec.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Spec.CircuitBreaker.Cooldown.Duration())
	assert.Equal(t, 10*time.Second, cfg.Spec.Proxy.Timeout.Duration())
	assert.Equal(t, 5*time.Second, cfg.Spec.HealthCheck.InitialDelay.Duration())
	assert.Equal(t, 30*time.Second, cfg.Spec.HealthCheck.Interval.Duration())
	assert.Equal(t, "/health", cfg.Spec.HealthCheck.Path)
	assert.True(t, cfg.Spec.HealthCheck.IsEnabled())
	assert.Equal(t, RegistryTypeMemory, cfg.Spec.Registry.Type)
	assert.Equal(t, 20, cfg.Spec.Aggregator.CatalogLimit)
	assert.Equal(t, 10, cfg.Spec.Aggregator.ListLimit)
	assert.Equal(t, "sub", cfg.Spec.Auth.IdentityClaim)

	require.Len(t, cfg.Spec.Routes, 4)
	assert.Equal(t, RouteConfig{
		PathPrefix: "/api/items", Service: "item-service", StripPrefix: "/api/items", ForwardBase: "/items",
	}, cfg.Spec.Routes[2])

	assert.NoError(t, ValidateConfig(cfg))
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("TEST_GATEWAY_PORT", "8088")
	t.Setenv("TEST_REDIS_ADDR", "redis:6379")

	content := `
apiVersion: gateway.aggregw.io/v1
kind: Gateway
metadata:
  name: edge
spec:
  server:
    port: ${TEST_GATEWAY_PORT}
  routes:
    - pathPrefix: /api/items
      service: item-service
      forwardBase: /items
  registry:
    type: redis
    redis:
      addr: ${TEST_REDIS_ADDR}
      keyPrefix: "${TEST_UNSET_PREFIX:-edge:}"
  circuitBreaker:
    failureThreshold: 5
    cooldown: 1m
  proxy:
    timeout: 2
  auth:
    jwtSecret: "$$ecret"
`
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "edge", cfg.Metadata.Name)
	assert.Equal(t, 8088, cfg.Spec.Server.Port)
	assert.Equal(t, "redis:6379", cfg.Spec.Registry.Redis.Addr)
	assert.Equal(t, "edge:", cfg.Spec.Registry.Redis.KeyPrefix)
	assert.Equal(t, 5, cfg.Spec.CircuitBreaker.FailureThreshold)
	assert.Equal(t, time.Minute, cfg.Spec.CircuitBreaker.Cooldown.Duration())
	assert.Equal(t, 2*time.Second, cfg.Spec.Proxy.Timeout.Duration())
	assert.Equal(t, "$ecret", cfg.Spec.Auth.JWTSecret)
	assert.Equal(t, "edge", cfg.Spec.Observability.Tracing.ServiceName)

	require.Len(t, cfg.Spec.Routes, 1)
	assert.Equal(t, "/api/items", cfg.Spec.Routes[0].StripPrefix)

	assert.NoError(t, ValidateConfig(cfg))
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig("/nonexistent/gateway.yaml")
	assert.Error(t, err)

	_, err = LoadConfigFromReader(strings.NewReader("spec: [unclosed"))
	assert.Error(t, err)

	_, err = LoadConfigFromReader(strings.NewReader("spec:\n  unknownField: 1\n"))
	assert.Error(t, err)
}

func TestLoadConfigFromReader_Empty(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfigFromReader(strings.NewReader(""))
	require.NoError(t, err)
	assert.Len(t, cfg.Spec.Routes, 4)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("SUBST_SET", "value")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "set variable", input: "a: ${SUBST_SET}", want: "a: value"},
		{name: "default used", input: "a: ${SUBST_MISSING:-fallback}", want: "a: fallback"},
		{name: "default ignored", input: "a: ${SUBST_SET:-fallback}", want: "a: value"},
		{name: "missing without default", input: "a: ${SUBST_MISSING}", want: "a: "},
		{name: "escaped dollar", input: "a: $${SUBST_SET}", want: "a: ${SUBST_SET}"},
		{name: "bare reference untouched", input: "a: $SUBST_SET", want: "a: $SUBST_SET"},
		{name: "unterminated reference", input: "a: ${SUBST_SET", want: "a: ${SUBST_SET"},
		{name: "trailing dollar", input: "cost: 5$", want: "cost: 5$"},
		{name: "two references", input: "${SUBST_SET}/${SUBST_MISSING:-x}", want: "value/x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, substituteEnvVars(tt.input))
		})
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()

	var holder struct {
		A Duration `yaml:"a"`
		B Duration `yaml:"b"`
		C Duration `yaml:"c"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("a: 1m30s\nb: 15\nc: \"\"\n"), &holder))
	assert.Equal(t, 90*time.Second, holder.A.Duration())
	assert.Equal(t, 15*time.Second, holder.B.Duration())
	assert.Zero(t, holder.C)

	assert.Error(t, yaml.Unmarshal([]byte("a: soon\n"), &holder))

	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"250ms"`), &d))
	assert.Equal(t, 250*time.Millisecond, d.Duration())

	out, err := json.Marshal(Duration(2 * time.Second))
	require.NoError(t, err)
	assert.JSONEq(t, `"2s"`, string(out))
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mutate    func(*GatewayConfig)
		wantPaths []string
	}{
		{
			name:   "valid defaults",
			mutate: func(*GatewayConfig) {},
		},
		{
			name: "bad root",
			mutate: func(c *GatewayConfig) {
				c.APIVersion = "other/v1"
				c.Kind = "Proxy"
				c.Metadata.Name = ""
			},
			wantPaths: []string{"apiVersion", "kind", "metadata.name"},
		},
		{
			name: "bad routes",
			mutate: func(c *GatewayConfig) {
				c.Spec.Routes = []RouteConfig{
					{PathPrefix: "api", Service: "a"},
					{PathPrefix: "/x", Service: ""},
					{PathPrefix: "/x", Service: "b", StripPrefix: "/y", ForwardBase: "z"},
				}
			},
			wantPaths: []string{
				"spec.routes[0].pathPrefix",
				"spec.routes[1].service",
				"spec.routes[2].pathPrefix",
				"spec.routes[2].stripPrefix",
				"spec.routes[2].forwardBase",
			},
		},
		{
			name: "registry without backing settings",
			mutate: func(c *GatewayConfig) {
				c.Spec.Registry.Type = RegistryTypeRedis
				c.Spec.Registry.Services = []StaticServiceConfig{{Name: "a", BaseURL: "not a url"}}
			},
			wantPaths: []string{"spec.registry.redis.addr", "spec.registry.services[0].baseUrl"},
		},
		{
			name:      "unknown registry",
			mutate:    func(c *GatewayConfig) { c.Spec.Registry.Type = "etcd" },
			wantPaths: []string{"spec.registry.type"},
		},
		{
			name: "non-positive tunables",
			mutate: func(c *GatewayConfig) {
				c.Spec.CircuitBreaker.FailureThreshold = 0
				c.Spec.Proxy.Timeout = 0
				c.Spec.Aggregator.ListLimit = -1
			},
			wantPaths: []string{
				"spec.circuitBreaker.failureThreshold",
				"spec.proxy.timeout",
				"spec.aggregator.listLimit",
			},
		},
		{
			name: "rate limit and observability",
			mutate: func(c *GatewayConfig) {
				c.Spec.RateLimit = RateLimitConfig{Enabled: true}
				c.Spec.Observability.Logging.Level = "verbose"
				c.Spec.Observability.Tracing.SamplingRate = 2
			},
			wantPaths: []string{
				"spec.rateLimit.requestsPerSecond",
				"spec.rateLimit.burst",
				"spec.observability.logging.level",
				"spec.observability.tracing.samplingRate",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := ValidateConfig(cfg)
			if len(tt.wantPaths) == 0 {
				assert.NoError(t, err)
				return
			}

			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs))

			got := make([]string, 0, len(verrs))
			for _, e := range verrs {
				got = append(got, e.Path)
			}
			assert.ElementsMatch(t, tt.wantPaths, got)
		})
	}
}

func TestValidateConfig_Nil(t *testing.T) {
	t.Parallel()

	err := ValidateConfig(nil)
	require.Error(t, err)
	assert.Equal(t, "configuration is nil", err.Error())
}

func TestValidationErrors_Error(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "no validation errors", ValidationErrors{}.Error())

	errs := ValidationErrors{
		{Path: "a", Message: "bad"},
		{Message: "worse"},
	}
	assert.Contains(t, errs.Error(), "2 validation errors")
	assert.Contains(t, errs.Error(), "a: bad")
	assert.Contains(t, errs.Error(), "worse")
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/aggregw/internal/config"
	"github.com/vyrodovalexey/aggregw/internal/observability"
)

func TestEnvString(t *testing.T) {
	t.Setenv("GATEWAY_TEST_STRING", "")
	assert.Equal(t, "fallback", envString("TEST_STRING", "fallback"), "empty counts as unset")

	t.Setenv("GATEWAY_TEST_STRING", "set")
	assert.Equal(t, "set", envString("TEST_STRING", "fallback"))

	t.Setenv("TEST_STRING", "unprefixed")
	t.Setenv("GATEWAY_TEST_STRING", "")
	assert.Equal(t, "fallback", envString("TEST_STRING", "fallback"), "only the prefixed name is read")
}

func TestEnvBool(t *testing.T) {
	tests := []struct {
		value    string
		fallback bool
		expected bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"ON", false, true},
		{" true ", false, true},
		{"0", true, false},
		{"off", true, false},
		{"F", true, false},
		{"maybe", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("GATEWAY_TEST_BOOL", tt.value)
			assert.Equal(t, tt.expected, envBool("TEST_BOOL", tt.fallback))
		})
	}
}

func TestParseFlags(t *testing.T) {
	t.Setenv("GATEWAY_CONFIG_PATH", "/etc/aggregw/gateway.yaml")
	t.Setenv("GATEWAY_LOG_LEVEL", "debug")

	flags, err := parseFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, "/etc/aggregw/gateway.yaml", flags.configPath)
	assert.Equal(t, "debug", flags.logLevel)
	assert.False(t, flags.showVersion)

	flags, err = parseFlags([]string{"-config", "local.yaml", "-log-format", "console", "-version"})
	require.NoError(t, err)
	assert.Equal(t, "local.yaml", flags.configPath)
	assert.Equal(t, "console", flags.logFormat)
	assert.True(t, flags.showVersion)

	_, err = parseFlags([]string{"-unknown"})
	require.Error(t, err)
}

func TestPrintVersion(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printVersion(&buf)
	assert.Contains(t, buf.String(), "aggregw version "+version)
	assert.Contains(t, buf.String(), "Git commit: "+gitCommit)
}

func TestLoadAndValidateConfig(t *testing.T) {
	t.Parallel()

	t.Run("defaults when no path", func(t *testing.T) {
		t.Parallel()

		cfg, err := loadAndValidateConfig("")
		require.NoError(t, err)
		assert.Equal(t, config.DefaultPort, cfg.Spec.Server.Port)
		assert.Len(t, cfg.Spec.Routes, 4)
	})

	t.Run("from file", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "gateway.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`apiVersion: gateway.aggregw.io/v1
kind: Gateway
metadata:
  name: edge
spec:
  server:
    port: 8081
  registry:
    type: memory
    services:
      - name: item-service
        baseUrl: http://items.internal:3002
`), 0o600))

		cfg, err := loadAndValidateConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "edge", cfg.Metadata.Name)
		assert.Equal(t, 8081, cfg.Spec.Server.Port)
		require.Len(t, cfg.Spec.Registry.Services, 1)
	})

	t.Run("invalid", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "gateway.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`kind: Gateway
spec:
  registry:
    type: etcd
`), 0o600))

		_, err := loadAndValidateConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		_, err := loadAndValidateConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
	})
}

func TestInitLogger(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	logger, err := initLogger(cfg, cliFlags{logLevel: "debug", logFormat: "console"})
	require.NoError(t, err)
	require.NotNil(t, logger)

	_, err = initLogger(cfg, cliFlags{logLevel: "loud"})
	require.Error(t, err)
}

func TestMetricsServer(t *testing.T) {
	t.Parallel()

	metrics := observability.NewMetrics("gateway")
	metrics.SetBuildInfo("1.2.3", "abc", "now")

	ms := newMetricsServer(config.MetricsConfig{Enabled: true, Port: 0, Path: "/metrics"},
		metrics, observability.NopLogger())
	require.NoError(t, ms.start(context.Background()))
	t.Cleanup(func() { _ = ms.stop(context.Background()) })

	resp, err := http.Get("http://" + ms.addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `gateway_build_info{build_time="now",commit="abc",version="1.2.3"} 1`)

	resp, err = http.Get("http://" + ms.addr + "/other")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServe_StartsAndDrains(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"path":"` + r.URL.Path + `"}`))
	}))
	defer backend.Close()

	disabled := false
	cfg := config.DefaultConfig()
	cfg.Spec.Server.Host = "127.0.0.1"
	cfg.Spec.Server.Port = 0
	cfg.Spec.HealthCheck.Enabled = &disabled
	cfg.Spec.Observability.Metrics.Enabled = true
	cfg.Spec.Observability.Metrics.Port = 0
	cfg.Spec.Registry.Services = []config.StaticServiceConfig{
		{Name: "item-service", BaseURL: backend.URL},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := initApplication(ctx, cfg, observability.NopLogger())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- serve(ctx, app) }()

	require.Eventually(t, app.server.IsRunning, 2*time.Second, 10*time.Millisecond)
	base := "http://" + app.server.Addr()

	resp, err := http.Get(base + "/api/items/7")
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	_ = resp.Body.Close()
	assert.Equal(t, "/items/7", body["path"])

	resp, err = http.Get(base + "/registry")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	_ = resp.Body.Close()
	assert.EqualValues(t, 1, body["count"])

	resp, err = http.Get("http://" + app.metricsServer.addr + "/metrics")
	require.NoError(t, err)
	scrape, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(scrape), `route="/api/items"`)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not shut down")
	}
	assert.False(t, app.server.IsRunning())
}

func TestInitApplication_RejectsBadRegistry(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Spec.Registry.Type = "etcd"

	_, err := initApplication(context.Background(), cfg, observability.NopLogger())
	require.Error(t, err)
}

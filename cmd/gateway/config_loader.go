package main

import (
	"fmt"

	"github.com/vyrodovalexey/aggregw/internal/config"
	"github.com/vyrodovalexey/aggregw/internal/observability"
)

// loadAndValidateConfig loads the configuration file, or the defaults when
// path is empty, and validates the result.
func loadAndValidateConfig(path string) (*config.GatewayConfig, error) {
	var (
		cfg *config.GatewayConfig
		err error
	)
	if path == "" {
		cfg = config.DefaultConfig()
	} else {
		cfg, err = config.LoadConfig(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
	}

	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// logConfigSummary logs what the gateway is about to serve.
func logConfigSummary(cfg *config.GatewayConfig, path string, logger observability.Logger) {
	source := path
	if source == "" {
		source = "defaults"
	}

	logger.Info("configuration loaded",
		observability.String("name", cfg.Metadata.Name),
		observability.String("source", source),
		observability.Int("routes", len(cfg.Spec.Routes)),
		observability.String("registry", cfg.Spec.Registry.Type),
		observability.Int("static_services", len(cfg.Spec.Registry.Services)),
		observability.Bool("health_check", cfg.Spec.HealthCheck.IsEnabled()),
		observability.Bool("rate_limit", cfg.Spec.RateLimit.Enabled),
		observability.Bool("tracing", cfg.Spec.Observability.Tracing.Enabled),
	)
}

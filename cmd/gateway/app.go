package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/vyrodovalexey/aggregw/internal/aggregator"
	"github.com/vyrodovalexey/aggregw/internal/circuitbreaker"
	"github.com/vyrodovalexey/aggregw/internal/config"
	"github.com/vyrodovalexey/aggregw/internal/gateway"
	"github.com/vyrodovalexey/aggregw/internal/health"
	"github.com/vyrodovalexey/aggregw/internal/identity"
	"github.com/vyrodovalexey/aggregw/internal/middleware"
	"github.com/vyrodovalexey/aggregw/internal/observability"
	"github.com/vyrodovalexey/aggregw/internal/proxy"
	"github.com/vyrodovalexey/aggregw/internal/registry"
	"github.com/vyrodovalexey/aggregw/internal/router"
)

// application holds all application components.
type application struct {
	config        *config.GatewayConfig
	logger        observability.Logger
	metrics       *observability.Metrics
	tracer        *observability.Tracer
	registry      registry.Registry
	breakers      *circuitbreaker.Manager
	poller        *health.Poller
	rateLimiter   *middleware.RateLimiter
	server        *gateway.Server
	metricsServer *metricsServer
}

// initApplication initializes all application components. Partially
// built components are released when a later step fails.
func initApplication(
	ctx context.Context,
	cfg *config.GatewayConfig,
	logger observability.Logger,
) (_ *application, err error) {
	app := &application{config: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = app.release(context.Background())
		}
	}()

	app.metrics = observability.NewMetrics("gateway")
	app.metrics.SetBuildInfo(version, gitCommit, buildTime)

	app.tracer, err = initTracer(cfg)
	if err != nil {
		return nil, err
	}

	app.registry, err = registry.New(ctx, cfg.Spec.Registry, logger.Named("registry"))
	if err != nil {
		return nil, fmt.Errorf("failed to create service registry: %w", err)
	}
	if err = registry.Seed(ctx, app.registry, cfg.Spec.Registry.Services); err != nil {
		return nil, err
	}

	routes, err := router.FromConfig(cfg.Spec.Routes)
	if err != nil {
		return nil, fmt.Errorf("failed to load routes: %w", err)
	}

	app.breakers = circuitbreaker.NewManager(
		circuitbreaker.FromGatewayConfig(cfg.Spec.CircuitBreaker),
		observability.Zap(logger.Named("circuitbreaker")),
		circuitbreaker.WithMetrics(circuitbreaker.NewMetrics(app.metrics.Registry())),
	)

	forwarder := proxy.NewForwarder(routes, app.breakers, app.registry,
		proxy.WithTimeout(cfg.Spec.Proxy.Timeout.Duration()),
		proxy.WithName(cfg.Metadata.Name),
		proxy.WithLogger(logger.Named("proxy")),
		proxy.WithMetrics(app.metrics),
		proxy.WithTracer(app.tracer),
	)

	agg := aggregator.New(forwarder, cfg.Spec.Aggregator,
		aggregator.WithLogger(logger.Named("aggregator")),
		aggregator.WithTracer(app.tracer),
	)

	if cfg.Spec.HealthCheck.IsEnabled() {
		app.poller = health.NewPoller(app.registry, cfg.Spec.HealthCheck,
			health.WithLogger(logger.Named("health")),
			health.WithMetrics(health.NewMetrics(app.metrics.Registry())),
		)
	}

	app.rateLimiter = middleware.NewRateLimiterFromConfig(cfg.Spec.RateLimit)

	app.server, err = gateway.NewServer(cfg.Spec.Server, gateway.Deps{
		Name:        cfg.Metadata.Name,
		Version:     version,
		Routes:      routes,
		Forwarder:   forwarder,
		Aggregator:  agg,
		Health:      health.NewChecker(cfg.Metadata.Name, version, app.registry, app.breakers),
		Registry:    app.registry,
		Resolver:    identity.NewResolver(cfg.Spec.Auth),
		RateLimiter: app.rateLimiter,
		Metrics:     app.metrics,
		Tracer:      app.tracer,
		Logger:      observability.Zap(logger.Named("http")),
	})
	if err != nil {
		return nil, err
	}

	if cfg.Spec.Observability.Metrics.Enabled {
		app.metricsServer = newMetricsServer(cfg.Spec.Observability.Metrics, app.metrics, logger)
	}

	return app, nil
}

// initTracer initializes the tracer.
func initTracer(cfg *config.GatewayConfig) (*observability.Tracer, error) {
	tc := cfg.Spec.Observability.Tracing
	tracer, err := observability.NewTracer(observability.TracerConfig{
		Enabled:        tc.Enabled,
		ServiceName:    tc.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   tc.OTLPEndpoint,
		SamplingRate:   tc.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	return tracer, nil
}

// start brings up the listeners and background loops.
func (a *application) start(ctx context.Context) error {
	if a.metricsServer != nil {
		if err := a.metricsServer.start(ctx); err != nil {
			return err
		}
	}
	if err := a.server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}
	if a.poller != nil {
		a.poller.Start(ctx)
	}
	if a.rateLimiter != nil {
		a.rateLimiter.StartSweeper()
	}

	a.logger.Info("gateway started",
		observability.String("name", a.config.Metadata.Name),
		observability.String("address", a.server.Addr()),
	)
	return nil
}

// release stops everything that holds goroutines or connections. Errors
// are logged and returned joined.
func (a *application) release(ctx context.Context) error {
	var errs []error

	if a.poller != nil {
		a.poller.Stop()
	}

	if a.server != nil {
		if err := a.server.Stop(ctx); err != nil {
			a.logger.Error("failed to stop gateway gracefully", observability.Error(err))
			errs = append(errs, err)
		}
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.stop(ctx); err != nil {
			a.logger.Error("failed to stop metrics server gracefully", observability.Error(err))
			errs = append(errs, err)
		}
	}

	if a.rateLimiter != nil {
		a.rateLimiter.Stop()
	}

	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Error("failed to shutdown tracer", observability.Error(err))
			errs = append(errs, err)
		}
	}

	if a.registry != nil {
		if err := a.registry.Close(); err != nil {
			a.logger.Error("failed to close service registry", observability.Error(err))
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

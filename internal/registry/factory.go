package registry

import (
	"context"
	"fmt"

	"github.com/vyrodovalexey/aggregw/internal/config"
	"github.com/vyrodovalexey/aggregw/internal/observability"
)

// New builds the store selected by cfg.Type. Remote stores are wrapped with
// a GuardedStore when cfg.Guard.Enabled is set.
func New(ctx context.Context, cfg config.RegistryConfig, logger observability.Logger) (Registry, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	var (
		store  Registry
		remote bool
		err    error
	)

	switch cfg.Type {
	case config.RegistryTypeMemory, "":
		store = NewMemoryStore()
	case config.RegistryTypeFile:
		store, err = NewFileStore(cfg.File.Path, WithFileLogger(logger))
	case config.RegistryTypeRedis:
		remote = true
		store, err = NewRedisStore(ctx, RedisOptions{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			Logger:    logger,
		})
	case config.RegistryTypePostgres:
		remote = true
		store, err = NewPostgresStore(ctx, PostgresOptions{
			DSN:      cfg.Postgres.DSN,
			Table:    cfg.Postgres.Table,
			MaxConns: cfg.Postgres.MaxConns,
		})
	default:
		return nil, fmt.Errorf("unknown registry type %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if remote && cfg.Guard.Enabled {
		store = NewGuardedStore(store, GuardSettings{
			Name:        "registry-" + cfg.Type,
			MaxFailures: cfg.Guard.MaxFailures,
			OpenTimeout: cfg.Guard.OpenTimeout.Duration(),
			Logger:      logger,
		})
	}

	logger.Info("service registry ready", observability.String("type", cfg.Type))
	return store, nil
}

// Seed registers the statically configured services.
func Seed(ctx context.Context, store Registry, services []config.StaticServiceConfig) error {
	for _, svc := range services {
		err := store.Register(ctx, ServiceRecord{
			Name:      svc.Name,
			BaseURL:   svc.BaseURL,
			Version:   svc.Version,
			Endpoints: svc.Endpoints,
		})
		if err != nil {
			return fmt.Errorf("failed to seed service %s: %w", svc.Name, err)
		}
	}
	return nil
}

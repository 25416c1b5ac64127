package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/vyrodovalexey/aggregw/internal/observability"
)

// run loads the configuration, starts the gateway and blocks until SIGINT,
// SIGTERM or ctx cancellation, then shuts down gracefully.
func run(ctx context.Context, flags cliFlags) error {
	cfg, err := loadAndValidateConfig(flags.configPath)
	if err != nil {
		return err
	}

	logger, err := initLogger(cfg, flags)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting aggregw",
		observability.String("version", version),
		observability.String("commit", gitCommit),
	)
	logConfigSummary(cfg, flags.configPath, logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := initApplication(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize gateway", observability.Error(err))
		return err
	}

	return serve(ctx, app)
}

// serve starts app and waits for ctx to end before draining it.
func serve(ctx context.Context, app *application) error {
	if err := app.start(ctx); err != nil {
		_ = app.release(context.Background())
		return err
	}

	<-ctx.Done()
	app.logger.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx),
		app.config.Spec.Server.ShutdownTimeout.Duration())
	defer cancel()

	err := app.release(shutdownCtx)
	app.logger.Info("gateway stopped")
	return err
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/vyrodovalexey/aggregw/internal/config"
	"github.com/vyrodovalexey/aggregw/internal/observability"
)

// metricsServer exposes the gateway registry on its own port so scrapes
// never compete with proxied traffic.
type metricsServer struct {
	srv    *http.Server
	addr   string
	logger observability.Logger
}

func newMetricsServer(cfg config.MetricsConfig, metrics *observability.Metrics, logger observability.Logger) *metricsServer {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, metrics.Handler())

	return &metricsServer{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
		},
		logger: logger.Named("metrics"),
	}
}

// start binds the port before returning so a conflict fails startup.
func (m *metricsServer) start(ctx context.Context) error {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", m.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen for metrics on %s: %w", m.srv.Addr, err)
	}
	m.addr = ln.Addr().String()
	m.logger.Info("metrics server listening", observability.String("address", m.addr))

	go func() {
		if err := m.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("metrics server failed", observability.Error(err))
		}
	}()
	return nil
}

func (m *metricsServer) stop(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}

// Package observability provides logging, metrics, and tracing for the
// gateway.
//
// # Logging
//
// The Logger interface wraps zap:
//
//	logger, err := observability.NewLogger(observability.LogConfig{Level: "info"})
//	if err != nil {
//	    return err
//	}
//	defer func() { _ = logger.Sync() }()
//
//	logger.WithContext(ctx).Info("request forwarded",
//	    observability.String("service", "item-service"),
//	    observability.Int("status", 200),
//	)
//
// # Metrics
//
// Metrics owns a private Prometheus registry. Components such as the
// circuit breaker manager and the health checker register their own
// collectors on it through Registry():
//
//	metrics := observability.NewMetrics("gateway")
//	http.Handle("/metrics", metrics.Handler())
//
// # Tracing
//
// Tracer configures an OpenTelemetry provider with an OTLP gRPC exporter
// and installs the W3C trace context propagator used when forwarding.
package observability

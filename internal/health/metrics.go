package health

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for health probes.
type Metrics struct {
	serviceHealthy *prometheus.GaugeVec
	probesTotal    *prometheus.CounterVec
	probeDuration  *prometheus.HistogramVec
}

// NewMetrics registers the health collectors on reg. A nil reg uses a
// private throwaway registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		serviceHealthy: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "gateway",
				Subsystem: "health",
				Name:      "service_healthy",
				Help:      "Last probe result per service (1=healthy, 0=unhealthy)",
			},
			[]string{"service"},
		),
		probesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "health",
				Name:      "probes_total",
				Help:      "Total number of health probes performed",
			},
			[]string{"service", "result"},
		),
		probeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gateway",
				Subsystem: "health",
				Name:      "probe_duration_seconds",
				Help:      "Health probe duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"service"},
		),
	}
}

func (m *Metrics) record(service string, healthy bool, d time.Duration) {
	result, value := "failure", 0.0
	if healthy {
		result, value = "success", 1.0
	}
	m.serviceHealthy.WithLabelValues(service).Set(value)
	m.probesTotal.WithLabelValues(service, result).Inc()
	m.probeDuration.WithLabelValues(service).Observe(d.Seconds())
}

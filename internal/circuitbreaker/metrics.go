package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the breaker collectors.
type Metrics struct {
	state       *prometheus.GaugeVec
	failures    *prometheus.CounterVec
	transitions *prometheus.CounterVec
	rejected    *prometheus.CounterVec
}

// NewMetrics registers the breaker collectors on reg. A nil reg uses a
// private throwaway registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		state: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Current state of the circuit breaker (0=closed, 1=open, 2=half-open)",
			},
			[]string{"service"},
		),
		failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "circuit_breaker_failures_total",
				Help: "Total number of failures recorded by circuit breakers",
			},
			[]string{"service"},
		),
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "circuit_breaker_state_changes_total",
				Help: "Total number of circuit breaker state changes",
			},
			[]string{"service", "from", "to"},
		),
		rejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "circuit_breaker_rejected_total",
				Help: "Total number of requests rejected due to open circuit",
			},
			[]string{"service"},
		),
	}
}

func (m *Metrics) recordFailure(service string) {
	m.failures.WithLabelValues(service).Inc()
}

func (m *Metrics) recordRejected(service string) {
	m.rejected.WithLabelValues(service).Inc()
}

func (m *Metrics) recordStateChange(service string, from, to State) {
	m.transitions.WithLabelValues(service, from.String(), to.String()).Inc()
	m.state.WithLabelValues(service).Set(float64(to))
}

package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// UnmatchedRoute labels requests that matched no route.
const UnmatchedRoute = "unmatched"

var latencyBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics owns the gateway's private Prometheus registry and the
// collectors for inbound requests and backend calls. Subsystems register
// their own collectors through Registry().
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge
	backendCalls    *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec
	rateLimited     prometheus.Counter
	buildInfo       *prometheus.GaugeVec
}

// NewMetrics creates the collectors under namespace ("gateway" when empty).
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "gateway"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Inbound requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Inbound request latency.",
			Buckets:   latencyBuckets,
		}, []string{"method", "route", "status"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Inbound requests being served.",
		}),
		backendCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Backend calls by service and outcome.",
		}, []string{"service", "outcome"}),
		backendDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_duration_seconds",
			Help:      "Backend call latency, including gate and discovery.",
			Buckets:   latencyBuckets,
		}, []string{"service"}),
		rateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
		buildInfo: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Always 1, labelled with the running build.",
		}, []string{"version", "commit", "build_time"}),
	}

	f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "start_time_seconds",
		Help:      "Gateway start time in unix seconds.",
	}).SetToCurrentTime()

	return m
}

// RecordRequest records a completed inbound request. route is a route
// prefix or a fixed endpoint, never the raw path.
func (m *Metrics) RecordRequest(method, route string, status int, duration time.Duration) {
	code := strconv.Itoa(status)
	m.requests.WithLabelValues(method, route, code).Inc()
	m.requestDuration.WithLabelValues(method, route, code).Observe(duration.Seconds())
}

func (m *Metrics) IncActive() { m.inFlight.Inc() }
func (m *Metrics) DecActive() { m.inFlight.Dec() }

// RecordBackendCall records one forwarded call and how it ended.
func (m *Metrics) RecordBackendCall(service, outcome string, duration time.Duration) {
	m.backendCalls.WithLabelValues(service, outcome).Inc()
	m.backendDuration.WithLabelValues(service).Observe(duration.Seconds())
}

func (m *Metrics) RecordRateLimitHit() { m.rateLimited.Inc() }

// SetBuildInfo publishes the running build.
func (m *Metrics) SetBuildInfo(version, commit, buildTime string) {
	m.buildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}

// Handler serves the registry in the Prometheus exposition formats.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		Registry:          m.registry,
		EnableOpenMetrics: true,
	})
}

// Registry returns the registry subsystems register on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

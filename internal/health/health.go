// Package health keeps the registry's liveness flags current and reports
// gateway health.
//
// A Poller probes every registered service on a fixed interval, after a
// short initial delay, and writes the verdict back with UpdateHealth.
// Probe, list and store failures are logged and swallowed so one
// unreachable service never stops the loop. A Checker assembles the
// gateway's own health report from the registry and breaker snapshots.
package health

import (
	"context"
	"time"

	"github.com/vyrodovalexey/aggregw/internal/circuitbreaker"
	"github.com/vyrodovalexey/aggregw/internal/registry"
)

// Status represents the health status.
type Status string

const (
	// StatusOK indicates every known service is healthy and every circuit closed.
	StatusOK Status = "ok"
	// StatusDegraded indicates the gateway is up but some dependency is not.
	StatusDegraded Status = "degraded"
)

// ServiceStatus is the registry view of one service.
type ServiceStatus struct {
	Healthy         bool       `json:"healthy"`
	BaseURL         string     `json:"baseUrl"`
	Version         string     `json:"version,omitempty"`
	LastHealthCheck *time.Time `json:"lastHealthCheck,omitempty"`
}

// Report is the gateway health response.
type Report struct {
	Status          Status                   `json:"status"`
	Service         string                   `json:"service"`
	Version         string                   `json:"version,omitempty"`
	Uptime          string                   `json:"uptime"`
	Timestamp       time.Time                `json:"timestamp"`
	Services        map[string]ServiceStatus `json:"services"`
	CircuitBreakers []circuitbreaker.Status  `json:"circuitBreakers"`
	RegistryError   string                   `json:"registryError,omitempty"`
}

// Checker builds health reports.
type Checker struct {
	name      string
	version   string
	startTime time.Time
	registry  registry.Registry
	breakers  *circuitbreaker.Manager
	now       func() time.Time
}

// NewChecker creates a new health checker.
func NewChecker(name, version string, reg registry.Registry, breakers *circuitbreaker.Manager) *Checker {
	return &Checker{
		name:      name,
		version:   version,
		startTime: time.Now(),
		registry:  reg,
		breakers:  breakers,
		now:       time.Now,
	}
}

// Report returns the current health report. The gateway answers even when
// the registry is unreachable; the report is then degraded.
func (c *Checker) Report(ctx context.Context) Report {
	now := c.now()
	report := Report{
		Status:          StatusOK,
		Service:         c.name,
		Version:         c.version,
		Uptime:          now.Sub(c.startTime).Round(time.Second).String(),
		Timestamp:       now.UTC(),
		Services:        map[string]ServiceStatus{},
		CircuitBreakers: c.breakers.Snapshot(),
	}
	if report.CircuitBreakers == nil {
		report.CircuitBreakers = []circuitbreaker.Status{}
	}

	records, err := c.registry.List(ctx)
	if err != nil {
		report.Status = StatusDegraded
		report.RegistryError = err.Error()
	}
	for name, rec := range records {
		report.Services[name] = ServiceStatus{
			Healthy:         rec.Healthy,
			BaseURL:         rec.BaseURL,
			Version:         rec.Version,
			LastHealthCheck: rec.LastHealthCheck,
		}
		if !rec.Healthy {
			report.Status = StatusDegraded
		}
	}
	for _, b := range report.CircuitBreakers {
		if b.State != circuitbreaker.StateClosed {
			report.Status = StatusDegraded
		}
	}
	return report
}

// Package circuitbreaker gates forwarded calls per backend service. Each
// service gets its own failure-counting state machine, created lazily on
// the first observed failure.
package circuitbreaker

import (
	"time"

	"github.com/vyrodovalexey/aggregw/internal/config"
)

// Config holds configuration shared by every per-service breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int

	// Cooldown is how long after the last failure an open circuit admits a probe.
	Cooldown time.Duration

	// OnStateChange is called, outside the record lock, after a transition.
	OnStateChange func(service string, from, to State)
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: config.DefaultFailureThreshold,
		Cooldown:         config.DefaultCooldown,
	}
}

// FromGatewayConfig builds a Config from the gateway configuration section.
func FromGatewayConfig(cfg config.CircuitBreakerConfig) *Config {
	c := &Config{
		FailureThreshold: cfg.FailureThreshold,
		Cooldown:         cfg.Cooldown.Duration(),
	}
	c.Validate()
	return c
}

// Validate replaces out-of-range values with defaults.
func (c *Config) Validate() {
	if c.FailureThreshold < 1 {
		c.FailureThreshold = config.DefaultFailureThreshold
	}
	if c.Cooldown < time.Millisecond {
		c.Cooldown = config.DefaultCooldown
	}
}

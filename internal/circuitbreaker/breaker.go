package circuitbreaker

import (
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed indicates the circuit is closed and requests are allowed.
	StateClosed State = iota

	// StateOpen indicates the circuit is open and requests are rejected.
	StateOpen

	// StateHalfOpen indicates a single probe is allowed to test the backend.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// record is the per-service state. Each record has its own lock so calls
// to different services never contend.
type record struct {
	mu            sync.Mutex
	state         State
	failures      int
	lastFailureAt time.Time
	probing       bool
}

// Status is a point-in-time view of one service's breaker.
type Status struct {
	Service       string     `json:"service"`
	State         State      `json:"state"`
	Failures      int        `json:"failureCount"`
	LastFailureAt *time.Time `json:"lastFailureAt,omitempty"`
}

// Manager owns every per-service breaker.
type Manager struct {
	config  *Config
	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time

	records sync.Map // service name -> *record
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(mgr *Manager) {
		mgr.metrics = m
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(mgr *Manager) {
		mgr.now = now
	}
}

// NewManager creates a breaker manager.
func NewManager(config *Config, logger *zap.Logger, opts ...Option) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	config.Validate()

	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		config: config,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = NewMetrics(nil)
	}
	return m
}

func (m *Manager) lookup(service string) (*record, bool) {
	v, ok := m.records.Load(service)
	if !ok {
		return nil, false
	}
	return v.(*record), true
}

func (m *Manager) getOrCreate(service string) *record {
	if r, ok := m.lookup(service); ok {
		return r
	}
	v, _ := m.records.LoadOrStore(service, &record{})
	return v.(*record)
}

// IsOpen reports whether calls to service must be short-circuited. An open
// circuit whose cool-down has elapsed is demoted to half-open and the
// caller becomes the single probe; everyone else keeps seeing it open
// until the probe resolves.
func (m *Manager) IsOpen(service string) bool {
	r, ok := m.lookup(service)
	if !ok {
		return false
	}

	var transitioned bool
	open := func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()

		switch r.state {
		case StateOpen:
			if m.now().Sub(r.lastFailureAt) < m.config.Cooldown {
				return true
			}
			r.state = StateHalfOpen
			r.probing = true
			transitioned = true
			return false
		case StateHalfOpen:
			if r.probing {
				return true
			}
			r.probing = true
			return false
		default:
			return false
		}
	}()

	if transitioned {
		m.notify(service, StateOpen, StateHalfOpen)
	}
	if open {
		m.metrics.recordRejected(service)
	}
	return open
}

// RecordFailure counts a failed call. The circuit opens when the threshold
// is reached, or immediately when the failed call was the half-open probe.
func (m *Manager) RecordFailure(service string) {
	r := m.getOrCreate(service)

	r.mu.Lock()
	from := r.state
	r.failures++
	r.lastFailureAt = m.now()
	r.probing = false
	switch r.state {
	case StateClosed:
		if r.failures >= m.config.FailureThreshold {
			r.state = StateOpen
		}
	case StateHalfOpen:
		r.state = StateOpen
	}
	to := r.state
	failures := r.failures
	r.mu.Unlock()

	m.metrics.recordFailure(service)
	m.logger.Debug("backend failure recorded",
		zap.String("service", service),
		zap.Int("failures", failures),
		zap.String("state", to.String()),
	)
	if from != to {
		m.notify(service, from, to)
	}
}

// RecordSuccess closes the circuit and clears the failure count.
func (m *Manager) RecordSuccess(service string) {
	r, ok := m.lookup(service)
	if !ok {
		return
	}

	r.mu.Lock()
	from := r.state
	r.state = StateClosed
	r.failures = 0
	r.probing = false
	r.mu.Unlock()

	if from != StateClosed {
		m.notify(service, from, StateClosed)
	}
}

// Release ends a half-open probe without a verdict, for example when the
// client went away or the service turned out to be unregistered. The next
// caller becomes the probe.
func (m *Manager) Release(service string) {
	r, ok := m.lookup(service)
	if !ok {
		return
	}

	r.mu.Lock()
	if r.state == StateHalfOpen {
		r.probing = false
	}
	r.mu.Unlock()
}

// Reset forces the service's circuit closed.
func (m *Manager) Reset(service string) {
	m.RecordSuccess(service)
	m.logger.Info("circuit breaker reset", zap.String("service", service))
}

// State returns the current state of service without side effects.
func (m *Manager) State(service string) State {
	r, ok := m.lookup(service)
	if !ok {
		return StateClosed
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Snapshot returns the status of every known breaker sorted by service.
func (m *Manager) Snapshot() []Status {
	var out []Status
	m.records.Range(func(key, value any) bool {
		r := value.(*record)

		r.mu.Lock()
		st := Status{
			Service:  key.(string),
			State:    r.state,
			Failures: r.failures,
		}
		if !r.lastFailureAt.IsZero() {
			at := r.lastFailureAt.UTC()
			st.LastFailureAt = &at
		}
		r.mu.Unlock()

		out = append(out, st)
		return true
	})

	slices.SortFunc(out, func(a, b Status) int {
		return strings.Compare(a.Service, b.Service)
	})
	return out
}

func (m *Manager) notify(service string, from, to State) {
	m.metrics.recordStateChange(service, from, to)

	m.logger.Info("circuit breaker state changed",
		zap.String("service", service),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)

	if m.config.OnStateChange != nil {
		m.config.OnStateChange(service, from, to)
	}
}

package registry

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/aggregw/internal/observability"
)

// ErrStoreUnavailable is returned while the guard is open.
var ErrStoreUnavailable = errors.New("registry store unavailable")

// GuardSettings configures a GuardedStore.
type GuardSettings struct {
	Name        string
	MaxFailures uint32
	OpenTimeout time.Duration
	Logger      observability.Logger
}

// GuardedStore fronts a remote store with a breaker so that a dead redis
// or postgres fails fast instead of stalling every request on a connect
// timeout. ErrServiceNotFound and invalid records are answers, not store
// failures, and never trip it.
type GuardedStore struct {
	inner Registry
	cb    *gobreaker.CircuitBreaker
}

// NewGuardedStore wraps inner.
func NewGuardedStore(inner Registry, settings GuardSettings) *GuardedStore {
	logger := settings.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	maxFailures := settings.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	name := settings.Name
	if name == "" {
		name = "registry"
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrServiceNotFound) ||
				errors.Is(err, ErrInvalidRecord) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("registry guard state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	})

	return &GuardedStore{inner: inner, cb: cb}
}

// State returns the guard state.
func (g *GuardedStore) State() gobreaker.State {
	return g.cb.State()
}

func (g *GuardedStore) run(fn func() error) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &StoreError{Store: "guard", Op: "execute", Err: errors.Join(ErrStoreUnavailable, err)}
	}
	return err
}

// Register implements Registry.
func (g *GuardedStore) Register(ctx context.Context, record ServiceRecord) error {
	return g.run(func() error { return g.inner.Register(ctx, record) })
}

// Discover implements Registry.
func (g *GuardedStore) Discover(ctx context.Context, name string) (ServiceRecord, error) {
	var rec ServiceRecord
	err := g.run(func() error {
		var err error
		rec, err = g.inner.Discover(ctx, name)
		return err
	})
	return rec, err
}

// List implements Registry.
func (g *GuardedStore) List(ctx context.Context) (map[string]ServiceRecord, error) {
	var out map[string]ServiceRecord
	err := g.run(func() error {
		var err error
		out, err = g.inner.List(ctx)
		return err
	})
	return out, err
}

// UpdateHealth implements Registry.
func (g *GuardedStore) UpdateHealth(ctx context.Context, name string, healthy bool) error {
	return g.run(func() error { return g.inner.UpdateHealth(ctx, name, healthy) })
}

// Unregister implements Registry.
func (g *GuardedStore) Unregister(ctx context.Context, name string) error {
	return g.run(func() error { return g.inner.Unregister(ctx, name) })
}

// Close closes the wrapped store.
func (g *GuardedStore) Close() error {
	return g.inner.Close()
}

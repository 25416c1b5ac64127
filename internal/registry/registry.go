// Package registry maps service names to connection metadata and a
// liveness flag. Services write to it on startup and shutdown; the gateway
// reads it on every forwarded request and the health checker updates the
// liveness flag.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"time"
)

// ErrServiceNotFound is returned when a name has no registry entry. It is
// distinct from store transport failures so callers can answer "unknown
// service" instead of treating the store as unhealthy.
var ErrServiceNotFound = errors.New("service not found")

// ErrInvalidRecord is returned when a record fails validation on register.
var ErrInvalidRecord = errors.New("invalid service record")

// ServiceRecord is one registry entry.
type ServiceRecord struct {
	Name            string     `json:"name"`
	BaseURL         string     `json:"baseUrl"`
	Version         string     `json:"version,omitempty"`
	Endpoints       []string   `json:"endpoints,omitempty"`
	Healthy         bool       `json:"healthy"`
	RegisteredAt    time.Time  `json:"registeredAt"`
	LastHealthCheck *time.Time `json:"lastHealthCheck,omitempty"`
}

// Validate checks the fields a caller must supply.
func (r ServiceRecord) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRecord)
	}
	u, err := url.Parse(r.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: baseUrl %q must be an absolute URL", ErrInvalidRecord, r.BaseURL)
	}
	return nil
}

// Registry is the store contract shared by every backend.
type Registry interface {
	// Register creates or replaces the record for record.Name. The record is
	// marked healthy and RegisteredAt is refreshed.
	Register(ctx context.Context, record ServiceRecord) error
	// Discover returns the record for name or ErrServiceNotFound.
	Discover(ctx context.Context, name string) (ServiceRecord, error)
	// List returns every record keyed by name.
	List(ctx context.Context) (map[string]ServiceRecord, error)
	// UpdateHealth sets the liveness flag and stamps LastHealthCheck.
	UpdateHealth(ctx context.Context, name string, healthy bool) error
	// Unregister removes the record for name.
	Unregister(ctx context.Context, name string) error
	// Close releases store resources.
	Close() error
}

// StoreError wraps a failure of the underlying store.
type StoreError struct {
	Store string
	Op    string
	Err   error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("%s registry: %s: %v", e.Store, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(store, op string, err error) error {
	if err == nil || errors.Is(err, ErrServiceNotFound) {
		return err
	}
	return &StoreError{Store: store, Op: op, Err: err}
}

// prepare validates record and returns the copy that is persisted.
func prepare(record ServiceRecord, now time.Time) (ServiceRecord, error) {
	if err := record.Validate(); err != nil {
		return ServiceRecord{}, err
	}
	record.Healthy = true
	record.RegisteredAt = now.UTC()
	record.LastHealthCheck = nil
	record.Endpoints = normalizeEndpoints(record.Endpoints)
	return record, nil
}

// normalizeEndpoints sorts and de-duplicates the endpoint set.
func normalizeEndpoints(endpoints []string) []string {
	if len(endpoints) == 0 {
		return nil
	}
	out := slices.Clone(endpoints)
	slices.Sort(out)
	return slices.Compact(out)
}

func markHealth(record ServiceRecord, healthy bool, now time.Time) ServiceRecord {
	checked := now.UTC()
	record.Healthy = healthy
	record.LastHealthCheck = &checked
	return record
}

// Names returns the record names in sorted order.
func Names(records map[string]ServiceRecord) []string {
	names := make([]string, 0, len(records))
	for name := range records {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

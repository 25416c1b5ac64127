package registry

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local registry.
type MemoryStore struct {
	mu       sync.RWMutex
	services map[string]ServiceRecord
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory registry.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		services: make(map[string]ServiceRecord),
		now:      time.Now,
	}
}

// Register implements Registry.
func (m *MemoryStore) Register(_ context.Context, record ServiceRecord) error {
	rec, err := prepare(record, m.now())
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.services[rec.Name] = rec
	m.mu.Unlock()
	return nil
}

// Discover implements Registry.
func (m *MemoryStore) Discover(_ context.Context, name string) (ServiceRecord, error) {
	m.mu.RLock()
	rec, ok := m.services[name]
	m.mu.RUnlock()
	if !ok {
		return ServiceRecord{}, ErrServiceNotFound
	}
	return rec, nil
}

// List implements Registry.
func (m *MemoryStore) List(_ context.Context) (map[string]ServiceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]ServiceRecord, len(m.services))
	for name, rec := range m.services {
		out[name] = rec
	}
	return out, nil
}

// UpdateHealth implements Registry.
func (m *MemoryStore) UpdateHealth(_ context.Context, name string, healthy bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.services[name]
	if !ok {
		return ErrServiceNotFound
	}
	m.services[name] = markHealth(rec, healthy, m.now())
	return nil
}

// Unregister implements Registry.
func (m *MemoryStore) Unregister(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.services[name]; !ok {
		return ErrServiceNotFound
	}
	delete(m.services, name)
	return nil
}

// Close implements Registry.
func (m *MemoryStore) Close() error { return nil }

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"

	"github.com/vyrodovalexey/aggregw/internal/observability"
)

const fileStoreName = "file"

// FileStore keeps the registry in a JSON document shared by every process
// on the host. Reads are served from a cached copy that an fsnotify watch
// invalidates whenever another process rewrites the file. Writes hold an
// advisory lock on <path>.lock for the whole read-modify-write.
type FileStore struct {
	path   string
	lock   *flock.Flock
	logger observability.Logger
	now    func() time.Time

	mu     sync.Mutex
	cache  map[string]ServiceRecord
	cached bool

	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
	stoppedCh chan struct{}
	closeOnce sync.Once
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithFileLogger sets the logger used by the watch loop.
func WithFileLogger(logger observability.Logger) FileStoreOption {
	return func(s *FileStore) {
		s.logger = logger
	}
}

// NewFileStore opens the registry document at path, creating its directory
// if needed. If the watch cannot be established every read goes to disk.
func NewFileStore(path string, opts ...FileStoreOption) (*FileStore, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve registry path %s: %w", path, err)
	}

	s := &FileStore{
		path:   absPath,
		lock:   flock.New(absPath + ".lock"),
		logger: observability.NopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0o750); err != nil {
		return nil, storeErr(fileStoreName, "mkdir", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		err = watcher.Add(filepath.Dir(absPath))
		if err != nil {
			_ = watcher.Close()
		}
	}
	if err != nil {
		s.logger.Warn("registry file watch unavailable, caching disabled",
			observability.String("path", absPath),
			observability.Error(err),
		)
		return s, nil
	}

	s.watcher = watcher
	s.stopCh = make(chan struct{})
	s.stoppedCh = make(chan struct{})
	go s.watch()

	return s, nil
}

func (s *FileStore) watch() {
	defer close(s.stoppedCh)

	for {
		select {
		case <-s.stopCh:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			s.invalidate()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("registry file watch error", observability.Error(err))
			s.invalidate()
		}
	}
}

func (s *FileStore) invalidate() {
	s.mu.Lock()
	s.cached = false
	s.cache = nil
	s.mu.Unlock()
}

// snapshot returns the current document. Callers must hold s.mu.
func (s *FileStore) snapshot() (map[string]ServiceRecord, error) {
	if s.cached && s.watcher != nil {
		return s.cache, nil
	}

	services, err := s.readFile()
	if err != nil {
		return nil, err
	}
	s.cache = services
	s.cached = true
	return services, nil
}

func (s *FileStore) readFile() (map[string]ServiceRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]ServiceRecord{}, nil
	}
	if err != nil {
		return nil, storeErr(fileStoreName, "read", err)
	}
	if len(data) == 0 {
		return map[string]ServiceRecord{}, nil
	}

	services := make(map[string]ServiceRecord)
	if err := json.Unmarshal(data, &services); err != nil {
		return nil, storeErr(fileStoreName, "decode", err)
	}
	return services, nil
}

// writeFile replaces the document atomically. Callers must hold s.mu.
func (s *FileStore) writeFile(services map[string]ServiceRecord) error {
	data, err := json.MarshalIndent(services, "", "  ")
	if err != nil {
		return storeErr(fileStoreName, "encode", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".registry-*.tmp")
	if err != nil {
		return storeErr(fileStoreName, "write", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return storeErr(fileStoreName, "write", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return storeErr(fileStoreName, "write", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return storeErr(fileStoreName, "rename", err)
	}

	s.cache = services
	s.cached = true
	return nil
}

// mutate re-reads the document from disk, applies fn and writes it back
// while holding the cross-process lock.
func (s *FileStore) mutate(fn func(map[string]ServiceRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return storeErr(fileStoreName, "lock", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	services, err := s.readFile()
	if err != nil {
		return err
	}
	if err := fn(services); err != nil {
		return err
	}
	return s.writeFile(services)
}

// Register implements Registry.
func (s *FileStore) Register(_ context.Context, record ServiceRecord) error {
	rec, err := prepare(record, s.now())
	if err != nil {
		return err
	}
	return s.mutate(func(services map[string]ServiceRecord) error {
		services[rec.Name] = rec
		return nil
	})
}

// Discover implements Registry.
func (s *FileStore) Discover(_ context.Context, name string) (ServiceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	services, err := s.snapshot()
	if err != nil {
		return ServiceRecord{}, err
	}
	rec, ok := services[name]
	if !ok {
		return ServiceRecord{}, ErrServiceNotFound
	}
	return rec, nil
}

// List implements Registry.
func (s *FileStore) List(_ context.Context) (map[string]ServiceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	services, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	out := make(map[string]ServiceRecord, len(services))
	for name, rec := range services {
		out[name] = rec
	}
	return out, nil
}

// UpdateHealth implements Registry.
func (s *FileStore) UpdateHealth(_ context.Context, name string, healthy bool) error {
	now := s.now()
	return s.mutate(func(services map[string]ServiceRecord) error {
		rec, ok := services[name]
		if !ok {
			return ErrServiceNotFound
		}
		services[name] = markHealth(rec, healthy, now)
		return nil
	})
}

// Unregister implements Registry.
func (s *FileStore) Unregister(_ context.Context, name string) error {
	return s.mutate(func(services map[string]ServiceRecord) error {
		if _, ok := services[name]; !ok {
			return ErrServiceNotFound
		}
		delete(services, name)
		return nil
	})
}

// Close stops the watch loop.
func (s *FileStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.watcher == nil {
			return
		}
		close(s.stopCh)
		<-s.stoppedCh
		err = s.watcher.Close()
	})
	return err
}

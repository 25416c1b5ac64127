package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/aggregw/internal/config"
)

func TestNew(t *testing.T) {
	mr, cleanup := setupMiniRedis(t)
	defer cleanup()

	tests := []struct {
		name     string
		cfg      config.RegistryConfig
		wantType interface{}
		wantErr  bool
	}{
		{name: "memory", cfg: config.RegistryConfig{Type: config.RegistryTypeMemory}, wantType: &MemoryStore{}},
		{name: "default", cfg: config.RegistryConfig{}, wantType: &MemoryStore{}},
		{
			name:     "file",
			cfg:      config.RegistryConfig{Type: config.RegistryTypeFile, File: config.FileStoreConfig{Path: filepath.Join(t.TempDir(), "r.json")}},
			wantType: &FileStore{},
		},
		{
			name:     "redis",
			cfg:      config.RegistryConfig{Type: config.RegistryTypeRedis, Redis: config.RedisStoreConfig{Addr: mr.Addr()}},
			wantType: &RedisStore{},
		},
		{
			name: "guarded redis",
			cfg: config.RegistryConfig{
				Type:  config.RegistryTypeRedis,
				Redis: config.RedisStoreConfig{Addr: mr.Addr()},
				Guard: config.StoreGuardConfig{Enabled: true, MaxFailures: 3, OpenTimeout: config.Duration(time.Second)},
			},
			wantType: &GuardedStore{},
		},
		{
			name:     "guard ignored for memory",
			cfg:      config.RegistryConfig{Type: config.RegistryTypeMemory, Guard: config.StoreGuardConfig{Enabled: true}},
			wantType: &MemoryStore{},
		},
		{name: "unknown", cfg: config.RegistryConfig{Type: "etcd"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := New(context.Background(), tt.cfg, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer store.Close()

			assert.IsType(t, tt.wantType, store)
		})
	}
}

func TestSeed(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	err := Seed(context.Background(), store, []config.StaticServiceConfig{
		{Name: "auth-service", BaseURL: "http://localhost:3002", Version: "1.0.0"},
		{Name: "item-service", BaseURL: "http://localhost:3003", Endpoints: []string{"/items"}},
	})
	require.NoError(t, err)

	all, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"auth-service", "item-service"}, Names(all))

	err = Seed(context.Background(), store, []config.StaticServiceConfig{{Name: "broken"}})
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

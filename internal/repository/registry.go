package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Rrens/zyra/internal/config"
	"github.com/Rrens/zyra/internal/domain"
)

// Factory opens a key-value backend from the storage configuration
type Factory func(ctx context.Context, cfg config.StorageConfig) (domain.KVStore, error)

// Registry maps storage driver names to backend factories
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry creates an empty backend registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register registers a factory for a driver name
func (r *Registry) Register(driver string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[driver] = factory
}

// Drivers returns the registered driver names
func (r *Registry) Drivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	drivers := make([]string, 0, len(r.factories))
	for d := range r.factories {
		drivers = append(drivers, d)
	}
	sort.Strings(drivers)
	return drivers
}

// Open connects the backend selected by cfg.Driver. When an encryption key
// is configured the backend is wrapped so values are sealed at rest.
func (r *Registry) Open(ctx context.Context, cfg config.StorageConfig) (domain.KVStore, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Driver]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}

	kv, err := factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Driver, err)
	}

	if cfg.EncryptionKey == "" {
		return kv, nil
	}

	encrypted, err := NewEncryptedKV(kv, cfg.EncryptionKey)
	if err != nil {
		kv.Close()
		return nil, err
	}
	return encrypted, nil
}

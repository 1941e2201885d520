package memory

import (
	"context"
	"sync"

	"github.com/Rrens/zyra/internal/config"
	"github.com/Rrens/zyra/internal/domain"
)

// Store is a process-local key-value store
type Store struct {
	data map[string][]byte
	mu   sync.RWMutex
}

// NewStore creates an empty in-memory store
func NewStore() *Store {
	return &Store{data: make(map[string][]byte)}
}

// Open satisfies repository.Factory
func Open(_ context.Context, _ config.StorageConfig) (domain.KVStore, error) {
	return NewStore(), nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

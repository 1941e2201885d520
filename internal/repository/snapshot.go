package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Rrens/zyra/internal/domain"
)

// SnapshotStore reads and writes the chat store snapshot under one key
type SnapshotStore struct {
	kv  domain.KVStore
	key string
}

// NewSnapshotStore creates a snapshot store over kv
func NewSnapshotStore(kv domain.KVStore, key string) *SnapshotStore {
	return &SnapshotStore{kv: kv, key: key}
}

// Load returns the persisted snapshot. found is false when nothing has been
// saved yet.
func (s *SnapshotStore) Load(ctx context.Context) (snap domain.Snapshot, found bool, err error) {
	data, err := s.kv.Get(ctx, s.key)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Snapshot{}, false, nil
	}
	if err != nil {
		return domain.Snapshot{}, false, fmt.Errorf("failed to read snapshot: %w", err)
	}

	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.Snapshot{}, false, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snap.Chats == nil {
		snap.Chats = []domain.Chat{}
	}
	return snap, true, nil
}

// Save replaces the persisted snapshot
func (s *SnapshotStore) Save(ctx context.Context, snap domain.Snapshot) error {
	if snap.Chats == nil {
		snap.Chats = []domain.Chat{}
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if err := s.kv.Set(ctx, s.key, data); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// Clear removes the persisted snapshot
func (s *SnapshotStore) Clear(ctx context.Context) error {
	err := s.kv.Delete(ctx, s.key)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// Ping checks the backing store
func (s *SnapshotStore) Ping(ctx context.Context) error {
	return s.kv.Ping(ctx)
}

package memory

import (
	"context"
	"sync"

	"coinbase-trader/internal/domain"
	"coinbase-trader/internal/storage"
)

// SnapshotStore is an in-memory implementation of storage.SnapshotStore.
type SnapshotStore struct {
	mu   sync.RWMutex
	data map[string]domain.Snapshot // keyed by account
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		data: make(map[string]domain.Snapshot),
	}
}

var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// Load returns a deep copy of the stored snapshot.
func (s *SnapshotStore) Load(_ context.Context, account string) (domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.data[account]
	if !ok {
		return domain.Snapshot{}, storage.ErrNotFound
	}
	return snap.Clone(), nil
}

// Save stores a deep copy with the version bumped.
func (s *SnapshotStore) Save(_ context.Context, snap domain.Snapshot) (domain.Snapshot, error) {
	if snap.Account == "" {
		return domain.Snapshot{}, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur := s.data[snap.Account]; cur.Version != snap.Version {
		return domain.Snapshot{}, storage.ErrVersionConflict
	}
	stored := snap.Clone()
	stored.Version++
	s.data[snap.Account] = stored
	return stored.Clone(), nil
}

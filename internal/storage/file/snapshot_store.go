package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"coinbase-trader/internal/domain"
	"coinbase-trader/internal/storage"
)

// SnapshotStore keeps one snapshot-<account>.json per account.
type SnapshotStore struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

// NewSnapshotStore creates the state directory if needed.
func NewSnapshotStore(dir string) (*SnapshotStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &SnapshotStore{dir: dir, now: time.Now}, nil
}

var _ storage.SnapshotStore = (*SnapshotStore)(nil)

func (s *SnapshotStore) path(account string) string {
	return filepath.Join(s.dir, "snapshot-"+account+".json")
}

// Load returns the stored snapshot. Returns ErrNotFound if none exists.
func (s *SnapshotStore) Load(_ context.Context, account string) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(account)
}

func (s *SnapshotStore) load(account string) (domain.Snapshot, error) {
	var snap domain.Snapshot
	ok, err := readJSON(s.path(account), &snap)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if !ok {
		return domain.Snapshot{}, storage.ErrNotFound
	}
	snap.Normalize()
	return snap, nil
}

// Save writes snap if its version matches the file on disk.
func (s *SnapshotStore) Save(_ context.Context, snap domain.Snapshot) (domain.Snapshot, error) {
	if snap.Account == "" || filepath.Base(snap.Account) != snap.Account {
		return domain.Snapshot{}, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	cur, err := s.load(snap.Account)
	switch {
	case err == nil:
		current = cur.Version
	case !errors.Is(err, storage.ErrNotFound):
		return domain.Snapshot{}, err
	}
	if current != snap.Version {
		return domain.Snapshot{}, storage.ErrVersionConflict
	}

	stored := snap.Clone()
	stored.Version++
	if stored.SavedAt.IsZero() {
		stored.SavedAt = s.now().UTC()
	}
	if err := writeJSON(s.path(snap.Account), stored); err != nil {
		return domain.Snapshot{}, fmt.Errorf("save snapshot: %w", err)
	}
	return stored, nil
}

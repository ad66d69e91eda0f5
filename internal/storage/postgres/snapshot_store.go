package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"coinbase-trader/internal/domain"
	"coinbase-trader/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using PostgreSQL. The
// snapshot is one JSONB row per account guarded by its version column.
type SnapshotStore struct {
	pool *Pool
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(pool *Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// Load returns the stored snapshot. Returns ErrNotFound if none exists.
func (s *SnapshotStore) Load(ctx context.Context, account string) (snap domain.Snapshot, err error) {
	defer observe("load_snapshot", time.Now(), &err)

	var (
		version int64
		state   []byte
	)
	err = s.pool.QueryRow(ctx,
		`SELECT version, state FROM snapshots WHERE account = $1`, account,
	).Scan(&version, &state)
	if err != nil {
		if isNotFoundError(err) {
			return domain.Snapshot{}, storage.ErrNotFound
		}
		return domain.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}

	if err := json.Unmarshal(state, &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	snap.Version = version
	snap.Normalize()
	return snap, nil
}

// Save writes snap if its version matches the stored one. Returns
// ErrVersionConflict otherwise.
func (s *SnapshotStore) Save(ctx context.Context, snap domain.Snapshot) (_ domain.Snapshot, err error) {
	if snap.Account == "" {
		return domain.Snapshot{}, storage.ErrInvalidInput
	}
	defer observe("save_snapshot", time.Now(), &err)

	stored := snap.Clone()
	stored.Version = snap.Version + 1
	if stored.SavedAt.IsZero() {
		stored.SavedAt = time.Now().UTC()
	}
	state, err := json.Marshal(stored)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("encode snapshot: %w", err)
	}

	var rows int64
	if snap.Version == 0 {
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO snapshots (account, version, state, saved_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (account) DO NOTHING
		`, stored.Account, stored.Version, state, stored.SavedAt)
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("insert snapshot: %w", err)
		}
		rows = tag.RowsAffected()
	} else {
		tag, err := s.pool.Exec(ctx, `
			UPDATE snapshots
			SET version = $2, state = $3, saved_at = $4
			WHERE account = $1 AND version = $5
		`, stored.Account, stored.Version, state, stored.SavedAt, snap.Version)
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("update snapshot: %w", err)
		}
		rows = tag.RowsAffected()
	}
	if rows == 0 {
		return domain.Snapshot{}, storage.ErrVersionConflict
	}
	return stored, nil
}

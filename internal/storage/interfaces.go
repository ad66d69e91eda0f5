package storage

import (
	"context"

	"coinbase-trader/internal/domain"
)

// SnapshotStore persists the portfolio and cooldown state of one account.
// Save is atomic: a reader sees either the previous or the new snapshot,
// never a mix.
type SnapshotStore interface {
	// Load returns the latest snapshot. Returns ErrNotFound if none exists.
	Load(ctx context.Context, account string) (domain.Snapshot, error)

	// Save writes snap if snap.Version equals the stored version (0 when
	// nothing is stored) and returns the snapshot as stored, with Version
	// incremented. Returns ErrVersionConflict otherwise.
	Save(ctx context.Context, snap domain.Snapshot) (domain.Snapshot, error)
}

// OrderStore records execution results by idempotency key.
type OrderStore interface {
	// Get returns the result stored under key. Returns ErrNotFound if not exists.
	Get(ctx context.Context, key string) (domain.ExecutionResult, error)

	// Put inserts or replaces the result for res.Order.IdempotencyKey.
	Put(ctx context.Context, res domain.ExecutionResult) error

	// ListUnresolved returns orders that are not terminal or that require
	// reconciliation, ordered by creation time ASC.
	ListUnresolved(ctx context.Context) ([]domain.OrderIntent, error)

	// GetByExchangeID returns the result whose order carries the exchange
	// order id. Returns ErrNotFound if not exists.
	GetByExchangeID(ctx context.Context, orderID string) (domain.ExecutionResult, error)
}

// AuditStore is the append-only audit trail.
type AuditStore interface {
	// InsertBulk appends events. Events whose EventID is already stored
	// are skipped.
	InsertBulk(ctx context.Context, events []domain.AuditEvent) error

	// GetByCycle returns the events of one cycle ordered by timestamp ASC.
	GetByCycle(ctx context.Context, cycleID string) ([]domain.AuditEvent, error)

	// GetByTimeRange returns events within [start, end] (unix ms, inclusive)
	// ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, start, end int64) ([]domain.AuditEvent, error)
}

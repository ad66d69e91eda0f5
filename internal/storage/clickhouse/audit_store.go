package clickhouse

import (
	"context"
	"fmt"
	"time"

	"coinbase-trader/internal/domain"
	"coinbase-trader/internal/observability"
	"coinbase-trader/internal/storage"
)

// AuditStore implements storage.AuditStore using ClickHouse.
type AuditStore struct {
	conn *Conn
}

// NewAuditStore creates a new AuditStore.
func NewAuditStore(conn *Conn) *AuditStore {
	return &AuditStore{conn: conn}
}

// Compile-time interface check.
var _ storage.AuditStore = (*AuditStore)(nil)

// InsertBulk appends events, skipping ids already stored or repeated within
// the batch. The table is a ReplacingMergeTree on event_id, and reads use
// FINAL, so a concurrent replay cannot surface a duplicate either.
func (s *AuditStore) InsertBulk(ctx context.Context, events []domain.AuditEvent) (err error) {
	if len(events) == 0 {
		return nil
	}
	for _, e := range events {
		if e.EventID == "" || e.Kind == "" {
			return storage.ErrInvalidInput
		}
	}
	defer func(start time.Time) {
		observability.RecordDBQuery("clickhouse", "insert_audit", time.Since(start).Seconds(), err)
	}(time.Now())

	seen := make(map[string]struct{}, len(events))
	fresh := make([]domain.AuditEvent, 0, len(events))
	for _, e := range events {
		if _, dup := seen[e.EventID]; dup {
			continue
		}
		seen[e.EventID] = struct{}{}

		exists, err := s.exists(ctx, e.EventID)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if !exists {
			fresh = append(fresh, e)
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO audit_events (
			event_id, cycle_id, kind, symbol, check_name, state, reason, payload, timestamp_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range fresh {
		err = batch.Append(
			e.EventID, e.CycleID, e.Kind, e.Symbol, e.Check,
			e.State, e.Reason, e.Payload, uint64(e.Timestamp),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByCycle returns the events of one cycle ordered by timestamp ASC.
func (s *AuditStore) GetByCycle(ctx context.Context, cycleID string) ([]domain.AuditEvent, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT event_id, cycle_id, kind, symbol, check_name, state, reason, payload, timestamp_ms
		FROM audit_events FINAL
		WHERE cycle_id = ?
		ORDER BY timestamp_ms ASC, event_id ASC
	`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("query by cycle: %w", err)
	}
	defer rows.Close()

	return scanAuditEvents(rows)
}

// GetByTimeRange returns events within [start, end] ordered by timestamp ASC.
func (s *AuditStore) GetByTimeRange(ctx context.Context, start, end int64) ([]domain.AuditEvent, error) {
	if start < 0 {
		start = 0
	}
	rows, err := s.conn.Query(ctx, `
		SELECT event_id, cycle_id, kind, symbol, check_name, state, reason, payload, timestamp_ms
		FROM audit_events FINAL
		WHERE timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC, event_id ASC
	`, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanAuditEvents(rows)
}

func (s *AuditStore) exists(ctx context.Context, eventID string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx,
		`SELECT count() FROM audit_events WHERE event_id = ?`, eventID,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func scanAuditEvents(rows chRows) ([]domain.AuditEvent, error) {
	var events []domain.AuditEvent

	for rows.Next() {
		var (
			e  domain.AuditEvent
			ts uint64
		)
		err := rows.Scan(
			&e.EventID, &e.CycleID, &e.Kind, &e.Symbol, &e.Check,
			&e.State, &e.Reason, &e.Payload, &ts,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		e.Timestamp = int64(ts)
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit rows: %w", err)
	}

	return events, nil
}

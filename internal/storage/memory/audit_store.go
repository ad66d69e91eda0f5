package memory

import (
	"context"
	"sort"
	"sync"

	"coinbase-trader/internal/domain"
	"coinbase-trader/internal/storage"
)

// AuditStore is an in-memory implementation of storage.AuditStore.
type AuditStore struct {
	mu     sync.RWMutex
	events []domain.AuditEvent
	seen   map[string]struct{}
}

// NewAuditStore creates a new in-memory audit store.
func NewAuditStore() *AuditStore {
	return &AuditStore{
		seen: make(map[string]struct{}),
	}
}

var _ storage.AuditStore = (*AuditStore)(nil)

// InsertBulk appends events, skipping ids already stored.
func (s *AuditStore) InsertBulk(_ context.Context, events []domain.AuditEvent) error {
	for _, e := range events {
		if e.EventID == "" || e.Kind == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		if _, ok := s.seen[e.EventID]; ok {
			continue
		}
		s.seen[e.EventID] = struct{}{}
		s.events = append(s.events, e)
	}
	return nil
}

// GetByCycle returns the events of one cycle.
func (s *AuditStore) GetByCycle(_ context.Context, cycleID string) ([]domain.AuditEvent, error) {
	return s.filter(func(e domain.AuditEvent) bool { return e.CycleID == cycleID }), nil
}

// GetByTimeRange returns events within [start, end].
func (s *AuditStore) GetByTimeRange(_ context.Context, start, end int64) ([]domain.AuditEvent, error) {
	return s.filter(func(e domain.AuditEvent) bool { return e.Timestamp >= start && e.Timestamp <= end }), nil
}

func (s *AuditStore) filter(keep func(domain.AuditEvent) bool) []domain.AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.AuditEvent
	for _, e := range s.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

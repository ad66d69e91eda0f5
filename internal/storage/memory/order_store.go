package memory

import (
	"context"
	"sort"
	"sync"

	"coinbase-trader/internal/domain"
	"coinbase-trader/internal/storage"
)

// OrderStore is an in-memory implementation of storage.OrderStore.
type OrderStore struct {
	mu   sync.RWMutex
	data map[string]domain.ExecutionResult // keyed by idempotency key
}

// NewOrderStore creates a new in-memory order store.
func NewOrderStore() *OrderStore {
	return &OrderStore{
		data: make(map[string]domain.ExecutionResult),
	}
}

var _ storage.OrderStore = (*OrderStore)(nil)

// Get retrieves a result by idempotency key.
func (s *OrderStore) Get(_ context.Context, key string) (domain.ExecutionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.data[key]
	if !ok {
		return domain.ExecutionResult{}, storage.ErrNotFound
	}
	res.Order = res.Order.Clone()
	return res, nil
}

// Put inserts or replaces a result.
func (s *OrderStore) Put(_ context.Context, res domain.ExecutionResult) error {
	if res.Order.IdempotencyKey == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res.Order = res.Order.Clone()
	s.data[res.Order.IdempotencyKey] = res
	return nil
}

// ListUnresolved returns non-terminal orders and orders awaiting
// reconciliation, oldest first.
func (s *OrderStore) ListUnresolved(_ context.Context) ([]domain.OrderIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.OrderIntent
	for _, res := range s.data {
		if !res.Order.State.Terminal() || res.Order.RequiresReconciliation {
			out = append(out, res.Order.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].IdempotencyKey < out[j].IdempotencyKey
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// GetByExchangeID scans for the result carrying the exchange order id.
func (s *OrderStore) GetByExchangeID(_ context.Context, orderID string) (domain.ExecutionResult, error) {
	if orderID == "" {
		return domain.ExecutionResult{}, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, res := range s.data {
		if res.Order.ExchangeOrderID == orderID {
			res.Order = res.Order.Clone()
			return res, nil
		}
	}
	return domain.ExecutionResult{}, storage.ErrNotFound
}

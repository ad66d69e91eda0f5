package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"coinbase-trader/internal/domain"
	"coinbase-trader/internal/storage"
)

// OrderStore keeps every execution result in orders.json, cached in memory
// and rewritten on each Put.
type OrderStore struct {
	mu   sync.RWMutex
	path string
	data map[string]domain.ExecutionResult
}

// NewOrderStore loads orders.json from dir, if present.
func NewOrderStore(dir string) (*OrderStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	s := &OrderStore{
		path: filepath.Join(dir, "orders.json"),
		data: make(map[string]domain.ExecutionResult),
	}
	if _, err := readJSON(s.path, &s.data); err != nil {
		return nil, err
	}
	if s.data == nil {
		s.data = make(map[string]domain.ExecutionResult)
	}
	return s, nil
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

// Put inserts or replaces a result and persists the whole set. The cache is
// only updated once the file write succeeded.
func (s *OrderStore) Put(_ context.Context, res domain.ExecutionResult) error {
	if res.Order.IdempotencyKey == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]domain.ExecutionResult, len(s.data)+1)
	for k, v := range s.data {
		next[k] = v
	}
	res.Order = res.Order.Clone()
	next[res.Order.IdempotencyKey] = res

	if err := writeJSON(s.path, next); err != nil {
		return fmt.Errorf("put order: %w", err)
	}
	s.data = next
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

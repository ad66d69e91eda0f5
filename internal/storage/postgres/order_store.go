package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"coinbase-trader/internal/domain"
	"coinbase-trader/internal/storage"
)

// OrderStore implements storage.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *Pool
}

// NewOrderStore creates a new OrderStore.
func NewOrderStore(pool *Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Compile-time interface check.
var _ storage.OrderStore = (*OrderStore)(nil)

// Get retrieves a result by idempotency key. Returns ErrNotFound if not exists.
func (s *OrderStore) Get(ctx context.Context, key string) (res domain.ExecutionResult, err error) {
	defer observe("get_order", time.Now(), &err)

	row := s.pool.QueryRow(ctx, `SELECT result FROM orders WHERE idempotency_key = $1`, key)
	return scanResult(row)
}

// Put inserts or replaces the result under its idempotency key.
func (s *OrderStore) Put(ctx context.Context, res domain.ExecutionResult) (err error) {
	if res.Order.IdempotencyKey == "" {
		return storage.ErrInvalidInput
	}
	defer observe("put_order", time.Now(), &err)

	doc, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}
	o := res.Order
	var exchangeID *string
	if o.ExchangeOrderID != "" {
		exchangeID = &o.ExchangeOrderID
	}
	updated := o.UpdatedAt
	if updated.IsZero() {
		updated = o.CreatedAt
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO orders (
			idempotency_key, exchange_order_id, symbol, state,
			requires_reconciliation, created_at, updated_at, result
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (idempotency_key) DO UPDATE SET
			exchange_order_id       = EXCLUDED.exchange_order_id,
			state                   = EXCLUDED.state,
			requires_reconciliation = EXCLUDED.requires_reconciliation,
			updated_at              = EXCLUDED.updated_at,
			result                  = EXCLUDED.result
	`, o.IdempotencyKey, exchangeID, o.Symbol, string(o.State),
		o.RequiresReconciliation, o.CreatedAt, updated, doc)
	if err != nil {
		if isDuplicateKeyError(err) {
			// Another key already claims this exchange order id.
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("put order: %w", err)
	}
	return nil
}

// ListUnresolved returns orders that are not terminal or that require
// reconciliation, ordered by creation time ASC.
func (s *OrderStore) ListUnresolved(ctx context.Context) (out []domain.OrderIntent, err error) {
	defer observe("list_unresolved", time.Now(), &err)

	rows, err := s.pool.Query(ctx, `
		SELECT result FROM orders
		WHERE requires_reconciliation
		   OR state IN ('NEW', 'OPEN', 'PARTIAL_FILL')
		ORDER BY created_at ASC, idempotency_key ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query unresolved orders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res.Order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unresolved orders: %w", err)
	}
	return out, nil
}

// GetByExchangeID returns the result carrying the exchange order id.
func (s *OrderStore) GetByExchangeID(ctx context.Context, orderID string) (res domain.ExecutionResult, err error) {
	if orderID == "" {
		return domain.ExecutionResult{}, storage.ErrInvalidInput
	}
	defer observe("get_order_by_exchange_id", time.Now(), &err)

	row := s.pool.QueryRow(ctx, `SELECT result FROM orders WHERE exchange_order_id = $1`, orderID)
	return scanResult(row)
}

func scanResult(row pgx.Row) (domain.ExecutionResult, error) {
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		if isNotFoundError(err) {
			return domain.ExecutionResult{}, storage.ErrNotFound
		}
		return domain.ExecutionResult{}, fmt.Errorf("scan order: %w", err)
	}
	var res domain.ExecutionResult
	if err := json.Unmarshal(doc, &res); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("decode order: %w", err)
	}
	return res, nil
}

// Package exchange defines the order-routing contract the execution and
// reconciliation pipelines depend on, together with error classification
// and the retry policy shared by every connector.
package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"coinbase-trader/internal/domain"
)

// Sentinel errors.
var (
	// ErrReadOnly is returned by mutating calls on a read-only connector.
	ErrReadOnly = errors.New("connector is read-only")

	// ErrOrderNotFound is returned when the exchange has no such order.
	ErrOrderNotFound = errors.New("order not found")

	// ErrInvalidOrder is returned for requests rejected before submission.
	ErrInvalidOrder = errors.New("invalid order request")
)

// OrderStatus is the exchange-side status of an order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusOpen      OrderStatus = "OPEN"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusExpired   OrderStatus = "EXPIRED"
	StatusFailed    OrderStatus = "FAILED"
	StatusUnknown   OrderStatus = "UNKNOWN"
)

// Done reports whether the exchange will not change the order any further.
func (s OrderStatus) Done() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusExpired, StatusFailed:
		return true
	}
	return false
}

// OrderRequest is a single order submission. ClientOrderID carries the
// idempotency key and is reused verbatim on every retry.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          domain.Side
	Type          domain.OrderType
	BaseSize      decimal.Decimal
	QuoteSize     decimal.Decimal // market BUY only
	LimitPrice    decimal.Decimal // post-only limit only
}

// Order is the exchange view of an order.
type Order struct {
	OrderID        string
	ClientOrderID  string
	Symbol         string
	Side           domain.Side
	Type           domain.OrderType
	Status         OrderStatus
	BaseSize       float64
	QuoteSize      float64 // quote-sized market BUY; BaseSize is then 0
	LimitPrice     float64
	FilledSize     float64
	AvgFilledPrice float64
	TotalFees      float64
	RejectReason   string
	CreatedAt      time.Time
}

// CancelResult is the outcome of cancelling one order.
type CancelResult struct {
	OrderID string
	Success bool
	Reason  string
}

// FillBatch is the result of a fill listing. Complete is false when the
// connector could not page through the whole window.
type FillBatch struct {
	Fills    []domain.Fill
	Complete bool
}

// Connector routes orders to an exchange (or a simulation of one).
type Connector interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (Order, error)
	CancelOrders(ctx context.Context, orderIDs []string) ([]CancelResult, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	// FindOrder looks an order up by client order id. Returns
	// ErrOrderNotFound if the exchange never accepted it.
	FindOrder(ctx context.Context, symbol, clientOrderID string) (Order, error)
	ListOpenOrders(ctx context.Context) ([]Order, error)
	ListFills(ctx context.Context, since time.Time) (FillBatch, error)
	GetAccounts(ctx context.Context) ([]domain.Balance, error)
	ReadOnly() bool
}

// Package stub provides a scriptable exchange.Connector for tests and
// DRY_RUN wiring.
package stub

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"coinbase-trader/internal/domain"
	"coinbase-trader/internal/exchange"
)

// Connector implements exchange.Connector in memory. Exported fields are
// the script; set them before use.
type Connector struct {
	mu sync.Mutex

	// PlaceErrors are returned by successive PlaceOrder calls before any
	// order is accepted.
	PlaceErrors []error
	// AcceptOnError records the order even when a scripted error is
	// returned, as when a response is lost after the exchange accepted it.
	AcceptOnError bool
	// PlaceStatus is the status of accepted orders. Defaults to OPEN.
	PlaceStatus exchange.OrderStatus
	// OnPoll, when set, rewrites an order on every GetOrder call.
	OnPoll func(order exchange.Order, poll int) exchange.Order

	CancelErr     error
	ListFillsErr  error
	OpenOrdersErr error
	FindErr       error
	Incomplete    bool

	Fills    []domain.Fill
	Balances []domain.Balance

	orders   map[string]exchange.Order
	byClient map[string]string
	polls    map[string]int
	seq      int
	readOnly bool

	PlaceCalls  int
	CancelCalls int
	Cancelled   []string
	Requests    []exchange.OrderRequest
}

var _ exchange.Connector = (*Connector)(nil)

// New creates an empty stub connector.
func New() *Connector {
	return &Connector{
		orders:   make(map[string]exchange.Order),
		byClient: make(map[string]string),
		polls:    make(map[string]int),
	}
}

// SetReadOnly toggles read-only mode.
func (c *Connector) SetReadOnly(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readOnly = v
}

// ReadOnly implements exchange.Connector.
func (c *Connector) ReadOnly() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readOnly
}

// AddOrder stores an order as if the exchange had accepted it.
func (c *Connector) AddOrder(o exchange.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders[o.OrderID] = o
	if o.ClientOrderID != "" {
		c.byClient[o.ClientOrderID] = o.OrderID
	}
}

// SetOrder replaces a stored order.
func (c *Connector) SetOrder(o exchange.Order) {
	c.AddOrder(o)
}

// Order returns a stored order.
func (c *Connector) Order(orderID string) (exchange.Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.orders[orderID]
	return o, ok
}

// AddFill appends a fill.
func (c *Connector) AddFill(f domain.Fill) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Fills = append(c.Fills, f)
}

// PlaceOrder implements exchange.Connector. Client order ids are
// idempotent: a repeated id returns the stored order.
func (c *Connector) PlaceOrder(_ context.Context, req exchange.OrderRequest) (exchange.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.readOnly {
		return exchange.Order{}, fmt.Errorf("place order: %w", exchange.ErrReadOnly)
	}
	c.PlaceCalls++
	c.Requests = append(c.Requests, req)

	if id, ok := c.byClient[req.ClientOrderID]; ok {
		return c.orders[id], nil
	}

	var scripted error
	if len(c.PlaceErrors) > 0 {
		scripted = c.PlaceErrors[0]
		c.PlaceErrors = c.PlaceErrors[1:]
		if !c.AcceptOnError {
			return exchange.Order{}, scripted
		}
	}

	c.seq++
	status := c.PlaceStatus
	if status == "" {
		status = exchange.StatusOpen
	}
	o := exchange.Order{
		OrderID:       fmt.Sprintf("stub-%d", c.seq),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Status:        status,
		BaseSize:      req.BaseSize.InexactFloat64(),
		QuoteSize:     req.QuoteSize.InexactFloat64(),
		LimitPrice:    req.LimitPrice.InexactFloat64(),
		CreatedAt:     time.Now(),
	}
	c.orders[o.OrderID] = o
	c.byClient[o.ClientOrderID] = o.OrderID

	if scripted != nil {
		return exchange.Order{}, scripted
	}
	return o, nil
}

// CancelOrders implements exchange.Connector.
func (c *Connector) CancelOrders(_ context.Context, orderIDs []string) ([]exchange.CancelResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.readOnly {
		return nil, fmt.Errorf("cancel orders: %w", exchange.ErrReadOnly)
	}
	c.CancelCalls++
	if c.CancelErr != nil {
		return nil, c.CancelErr
	}

	out := make([]exchange.CancelResult, 0, len(orderIDs))
	for _, id := range orderIDs {
		o, ok := c.orders[id]
		switch {
		case !ok:
			out = append(out, exchange.CancelResult{OrderID: id, Reason: "UNKNOWN_CANCEL_ORDER"})
		case o.Status.Done():
			out = append(out, exchange.CancelResult{OrderID: id, Reason: "ORDER_NOT_OPEN"})
		default:
			o.Status = exchange.StatusCancelled
			c.orders[id] = o
			c.Cancelled = append(c.Cancelled, id)
			out = append(out, exchange.CancelResult{OrderID: id, Success: true})
		}
	}
	return out, nil
}

// GetOrder implements exchange.Connector.
func (c *Connector) GetOrder(_ context.Context, orderID string) (exchange.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	o, ok := c.orders[orderID]
	if !ok {
		return exchange.Order{}, fmt.Errorf("get order %s: %w", orderID, exchange.ErrOrderNotFound)
	}
	if c.OnPoll != nil && !o.Status.Done() {
		c.polls[orderID]++
		o = c.OnPoll(o, c.polls[orderID])
		c.orders[orderID] = o
	}
	return o, nil
}

// FindOrder implements exchange.Connector.
func (c *Connector) FindOrder(_ context.Context, _ string, clientOrderID string) (exchange.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.FindErr != nil {
		return exchange.Order{}, c.FindErr
	}
	id, ok := c.byClient[clientOrderID]
	if !ok {
		return exchange.Order{}, fmt.Errorf("find order %s: %w", clientOrderID, exchange.ErrOrderNotFound)
	}
	return c.orders[id], nil
}

// ListOpenOrders implements exchange.Connector.
func (c *Connector) ListOpenOrders(_ context.Context) ([]exchange.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.OpenOrdersErr != nil {
		return nil, c.OpenOrdersErr
	}
	var out []exchange.Order
	for _, o := range c.orders {
		if !o.Status.Done() {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

// ListFills implements exchange.Connector.
func (c *Connector) ListFills(_ context.Context, since time.Time) (exchange.FillBatch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ListFillsErr != nil {
		return exchange.FillBatch{}, c.ListFillsErr
	}
	batch := exchange.FillBatch{Complete: !c.Incomplete}
	for _, f := range c.Fills {
		if !f.Time.IsZero() && f.Time.Before(since) {
			continue
		}
		batch.Fills = append(batch.Fills, f)
	}
	return batch, nil
}

// GetAccounts implements exchange.Connector.
func (c *Connector) GetAccounts(_ context.Context) ([]domain.Balance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Balance(nil), c.Balances...), nil
}

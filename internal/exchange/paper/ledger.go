// Package paper simulates an exchange account against live quotes. It is
// both the order router and the fill source in PAPER mode.
package paper

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"coinbase-trader/internal/domain"
	"coinbase-trader/internal/exchange"
	"coinbase-trader/internal/fees"
	"coinbase-trader/internal/marketdata"
)

const epsilon = 1e-9

// Options for creating a Ledger.
type Options struct {
	Market        marketdata.Provider
	Fees          fees.Model
	StartingCash  float64
	QuoteCurrency string // defaults to USD
	Now           func() time.Time
}

// Ledger is a simulated account. Post-only limits that would cross the
// book are rejected; otherwise orders fill in full on submission (limits
// as maker at the limit price, market orders as taker at the touch).
type Ledger struct {
	mu       sync.Mutex
	market   marketdata.Provider
	fees     fees.Model
	quoteCcy string
	now      func() time.Time

	cash     decimal.Decimal
	holdings map[string]decimal.Decimal // base currency -> size
	orders   map[string]exchange.Order
	byClient map[string]string
	fills    []domain.Fill
}

var _ exchange.Connector = (*Ledger)(nil)

// New creates a Ledger.
func New(opts Options) *Ledger {
	if opts.QuoteCurrency == "" {
		opts.QuoteCurrency = "USD"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Ledger{
		market:   opts.Market,
		fees:     opts.Fees,
		quoteCcy: opts.QuoteCurrency,
		now:      opts.Now,
		cash:     decimal.NewFromFloat(opts.StartingCash),
		holdings: make(map[string]decimal.Decimal),
		orders:   make(map[string]exchange.Order),
		byClient: make(map[string]string),
	}
}

// ReadOnly implements exchange.Connector.
func (l *Ledger) ReadOnly() bool { return false }

func baseCurrency(symbol string) string {
	if i := strings.IndexByte(symbol, '-'); i > 0 {
		return symbol[:i]
	}
	return symbol
}

func reject(code, msg string) error {
	return &exchange.APIError{Op: "paper order", Status: http.StatusBadRequest, Code: code, Message: msg}
}

// PlaceOrder implements exchange.Connector.
func (l *Ledger) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.Order, error) {
	if l.market == nil {
		return exchange.Order{}, fmt.Errorf("paper order: no market data provider")
	}
	q, err := l.market.Quote(ctx, req.Symbol)
	if err != nil {
		return exchange.Order{}, fmt.Errorf("paper order: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if id, ok := l.byClient[req.ClientOrderID]; ok {
		return l.orders[id], nil
	}

	var (
		price decimal.Decimal
		size  = req.BaseSize
		liq   domain.Liquidity
	)
	switch req.Type {
	case domain.OrderTypePostOnlyLimit:
		price = req.LimitPrice
		lp := price.InexactFloat64()
		if (req.Side == domain.SideBuy && lp >= q.Ask) || (req.Side == domain.SideSell && lp <= q.Bid) {
			return exchange.Order{}, reject("INVALID_LIMIT_PRICE_POST_ONLY", "post-only order would cross the book")
		}
		liq = domain.LiquidityMaker
	case domain.OrderTypeMarket:
		liq = domain.LiquidityTaker
		if req.Side == domain.SideBuy {
			price = decimal.NewFromFloat(q.Ask)
			if req.QuoteSize.IsPositive() && price.IsPositive() {
				size = req.QuoteSize.Div(price).Round(8)
			}
		} else {
			price = decimal.NewFromFloat(q.Bid)
		}
	default:
		return exchange.Order{}, fmt.Errorf("paper order: %w: order type %q", exchange.ErrInvalidOrder, req.Type)
	}
	if !size.IsPositive() || !price.IsPositive() {
		return exchange.Order{}, reject("INVALID_SIZE", "size and price must be positive")
	}

	notional := size.Mul(price)
	fee := l.fees.FeeDecimal(notional, liq)
	base := baseCurrency(req.Symbol)

	switch req.Side {
	case domain.SideBuy:
		if notional.Add(fee).GreaterThan(l.cash.Add(decimal.NewFromFloat(epsilon))) {
			return exchange.Order{}, reject("INSUFFICIENT_FUND", "insufficient cash")
		}
		l.cash = l.cash.Sub(notional).Sub(fee)
		l.holdings[base] = l.holdings[base].Add(size)
	case domain.SideSell:
		if size.GreaterThan(l.holdings[base].Add(decimal.NewFromFloat(epsilon))) {
			return exchange.Order{}, reject("INSUFFICIENT_FUND", "insufficient "+base)
		}
		l.cash = l.cash.Add(notional).Sub(fee)
		rest := l.holdings[base].Sub(size)
		if rest.LessThanOrEqual(decimal.NewFromFloat(epsilon)) {
			delete(l.holdings, base)
		} else {
			l.holdings[base] = rest
		}
	default:
		return exchange.Order{}, fmt.Errorf("paper order: %w: side %q", exchange.ErrInvalidOrder, req.Side)
	}

	now := l.now()
	o := exchange.Order{
		OrderID:        uuid.NewString(),
		ClientOrderID:  req.ClientOrderID,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Type:           req.Type,
		Status:         exchange.StatusFilled,
		BaseSize:       size.InexactFloat64(),
		QuoteSize:      req.QuoteSize.InexactFloat64(),
		LimitPrice:     req.LimitPrice.InexactFloat64(),
		FilledSize:     size.InexactFloat64(),
		AvgFilledPrice: price.InexactFloat64(),
		TotalFees:      fee.InexactFloat64(),
		CreatedAt:      now,
	}
	l.orders[o.OrderID] = o
	l.byClient[o.ClientOrderID] = o.OrderID
	l.fills = append(l.fills, domain.Fill{
		FillID:        uuid.NewString(),
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          o.Side,
		Price:         o.AvgFilledPrice,
		Size:          o.FilledSize,
		Liquidity:     liq,
		ReportedFee:   o.TotalFees,
		Time:          now,
	})
	return o, nil
}

// CancelOrders implements exchange.Connector. Paper orders fill on
// submission, so there is never anything to cancel.
func (l *Ledger) CancelOrders(_ context.Context, orderIDs []string) ([]exchange.CancelResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]exchange.CancelResult, 0, len(orderIDs))
	for _, id := range orderIDs {
		reason := "UNKNOWN_CANCEL_ORDER"
		if _, ok := l.orders[id]; ok {
			reason = "ORDER_NOT_OPEN"
		}
		out = append(out, exchange.CancelResult{OrderID: id, Reason: reason})
	}
	return out, nil
}

// GetOrder implements exchange.Connector.
func (l *Ledger) GetOrder(_ context.Context, orderID string) (exchange.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[orderID]
	if !ok {
		return exchange.Order{}, fmt.Errorf("get order %s: %w", orderID, exchange.ErrOrderNotFound)
	}
	return o, nil
}

// FindOrder implements exchange.Connector.
func (l *Ledger) FindOrder(_ context.Context, _ string, clientOrderID string) (exchange.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.byClient[clientOrderID]
	if !ok {
		return exchange.Order{}, fmt.Errorf("find order %s: %w", clientOrderID, exchange.ErrOrderNotFound)
	}
	return l.orders[id], nil
}

// ListOpenOrders implements exchange.Connector.
func (l *Ledger) ListOpenOrders(_ context.Context) ([]exchange.Order, error) {
	return nil, nil
}

// ListFills implements exchange.Connector. The ledger always returns a
// complete batch.
func (l *Ledger) ListFills(_ context.Context, since time.Time) (exchange.FillBatch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	batch := exchange.FillBatch{Complete: true}
	for _, f := range l.fills {
		if f.Time.Before(since) {
			continue
		}
		batch.Fills = append(batch.Fills, f)
	}
	return batch, nil
}

// GetAccounts implements exchange.Connector.
func (l *Ledger) GetAccounts(_ context.Context) ([]domain.Balance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []domain.Balance{{Currency: l.quoteCcy, Available: l.cash.InexactFloat64()}}
	ccys := make([]string, 0, len(l.holdings))
	for ccy := range l.holdings {
		ccys = append(ccys, ccy)
	}
	sort.Strings(ccys)
	for _, ccy := range ccys {
		out = append(out, domain.Balance{Currency: ccy, Available: l.holdings[ccy].InexactFloat64()})
	}
	return out, nil
}

// Cash returns the quote-currency balance.
func (l *Ledger) Cash() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cash.InexactFloat64()
}

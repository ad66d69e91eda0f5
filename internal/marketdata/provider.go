// Package marketdata defines the market-data provider consumed by the core
// and a quote cache fed by the streaming ticker.
package marketdata

import (
	"context"
	"errors"
	"time"

	"coinbase-trader/internal/domain"
)

// ErrNoQuote is returned when no quote is known for a symbol.
var ErrNoQuote = errors.New("no quote")

// Provider serves market data. All calls are read-only.
type Provider interface {
	// Quote returns the latest top-of-book for symbol.
	Quote(ctx context.Context, symbol string) (domain.Quote, error)

	// Candles returns up to limit bars of the given granularity, oldest first.
	Candles(ctx context.Context, symbol string, granularity time.Duration, limit int) ([]domain.Candle, error)

	// OrderBook returns aggregated depth around the touch.
	OrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error)

	// Product returns exchange metadata for symbol.
	Product(ctx context.Context, symbol string) (domain.Product, error)
}

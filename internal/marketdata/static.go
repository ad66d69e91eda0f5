package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"coinbase-trader/internal/domain"
)

// Static is an in-memory Provider with fixed data.
type Static struct {
	mu       sync.RWMutex
	quotes   map[string]domain.Quote
	books    map[string]domain.OrderBook
	products map[string]domain.Product
	candles  map[string][]domain.Candle
}

var _ Provider = (*Static)(nil)

// NewStatic creates an empty Static provider.
func NewStatic() *Static {
	return &Static{
		quotes:   make(map[string]domain.Quote),
		books:    make(map[string]domain.OrderBook),
		products: make(map[string]domain.Product),
		candles:  make(map[string][]domain.Candle),
	}
}

// SetQuote stores a quote.
func (s *Static) SetQuote(q domain.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[q.Symbol] = q
}

// SetOrderBook stores a book.
func (s *Static) SetOrderBook(b domain.OrderBook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[b.Symbol] = b
}

// SetProduct stores product metadata.
func (s *Static) SetProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.Symbol] = p
}

// SetCandles stores bars for a symbol, oldest first.
func (s *Static) SetCandles(symbol string, candles []domain.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candles[symbol] = append([]domain.Candle(nil), candles...)
}

// Quote implements Provider.
func (s *Static) Quote(_ context.Context, symbol string) (domain.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[symbol]
	if !ok {
		return domain.Quote{}, fmt.Errorf("%s: %w", symbol, ErrNoQuote)
	}
	return q, nil
}

// Candles implements Provider.
func (s *Static) Candles(_ context.Context, symbol string, _ time.Duration, limit int) ([]domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.candles[symbol]
	if limit > 0 && len(c) > limit {
		c = c[len(c)-limit:]
	}
	return append([]domain.Candle(nil), c...), nil
}

// OrderBook implements Provider.
func (s *Static) OrderBook(_ context.Context, symbol string, depth int) (domain.OrderBook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[symbol]
	if !ok {
		return domain.OrderBook{Symbol: symbol}, nil
	}
	if depth > 0 {
		if len(b.Bids) > depth {
			b.Bids = b.Bids[:depth]
		}
		if len(b.Asks) > depth {
			b.Asks = b.Asks[:depth]
		}
	}
	return b, nil
}

// Product implements Provider.
func (s *Static) Product(_ context.Context, symbol string) (domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[symbol]
	if !ok {
		return domain.Product{}, fmt.Errorf("product %s: %w", symbol, ErrNoQuote)
	}
	return p, nil
}

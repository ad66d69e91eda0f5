package marketdata

import (
	"context"
	"sync"
	"time"

	"coinbase-trader/internal/domain"
)

// Cache serves quotes pushed by a streaming feed and falls back to an
// upstream Provider for everything else. Product metadata is cached for
// productTTL.
type Cache struct {
	upstream   Provider
	productTTL time.Duration
	now        func() time.Time

	mu       sync.RWMutex
	quotes   map[string]domain.Quote
	products map[string]cachedProduct
}

type cachedProduct struct {
	product domain.Product
	fetched time.Time
}

// CacheOptions configures a Cache.
type CacheOptions struct {
	Upstream   Provider
	ProductTTL time.Duration
	Now        func() time.Time
}

// NewCache creates a Cache.
func NewCache(opts CacheOptions) *Cache {
	if opts.ProductTTL <= 0 {
		opts.ProductTTL = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		upstream:   opts.Upstream,
		productTTL: opts.ProductTTL,
		now:        opts.Now,
		quotes:     make(map[string]domain.Quote),
		products:   make(map[string]cachedProduct),
	}
}

var _ Provider = (*Cache)(nil)

// Update stores a streamed quote. Older quotes never replace newer ones.
func (c *Cache) Update(q domain.Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.quotes[q.Symbol]; ok && !q.Time.IsZero() && q.Time.Before(cur.Time) {
		return
	}
	c.quotes[q.Symbol] = q
}

// Quote returns the streamed quote, or asks upstream when none has arrived.
func (c *Cache) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	c.mu.RLock()
	q, ok := c.quotes[symbol]
	c.mu.RUnlock()
	if ok {
		return q, nil
	}
	if c.upstream == nil {
		return domain.Quote{}, ErrNoQuote
	}
	q, err := c.upstream.Quote(ctx, symbol)
	if err != nil {
		return domain.Quote{}, err
	}
	c.Update(q)
	return q, nil
}

// Quotes returns a copy of every cached quote.
func (c *Cache) Quotes() map[string]domain.Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]domain.Quote, len(c.quotes))
	for k, v := range c.quotes {
		out[k] = v
	}
	return out
}

// Candles delegates upstream.
func (c *Cache) Candles(ctx context.Context, symbol string, granularity time.Duration, limit int) ([]domain.Candle, error) {
	if c.upstream == nil {
		return nil, nil
	}
	return c.upstream.Candles(ctx, symbol, granularity, limit)
}

// OrderBook delegates upstream.
func (c *Cache) OrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error) {
	if c.upstream == nil {
		return domain.OrderBook{Symbol: symbol}, nil
	}
	return c.upstream.OrderBook(ctx, symbol, depth)
}

// Product returns cached metadata, refreshing after productTTL.
func (c *Cache) Product(ctx context.Context, symbol string) (domain.Product, error) {
	now := c.now()
	c.mu.RLock()
	cp, ok := c.products[symbol]
	c.mu.RUnlock()
	if ok && now.Sub(cp.fetched) < c.productTTL {
		return cp.product, nil
	}
	if c.upstream == nil {
		if ok {
			return cp.product, nil
		}
		return domain.Product{}, ErrNoQuote
	}
	p, err := c.upstream.Product(ctx, symbol)
	if err != nil {
		return domain.Product{}, err
	}
	c.mu.Lock()
	c.products[symbol] = cachedProduct{product: p, fetched: now}
	c.mu.Unlock()
	return p, nil
}

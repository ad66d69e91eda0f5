package coinbase

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"coinbase-trader/internal/domain"
	"coinbase-trader/internal/marketdata"
)

var granularities = map[time.Duration]string{
	time.Minute:      "ONE_MINUTE",
	5 * time.Minute:  "FIVE_MINUTE",
	15 * time.Minute: "FIFTEEN_MINUTE",
	30 * time.Minute: "THIRTY_MINUTE",
	time.Hour:        "ONE_HOUR",
	2 * time.Hour:    "TWO_HOUR",
	6 * time.Hour:    "SIX_HOUR",
	24 * time.Hour:   "ONE_DAY",
}

// marketPath picks the authenticated endpoint when credentials exist and
// the public /market mirror otherwise.
func (c *Client) marketPath(path string) (string, bool) {
	if c.signer != nil {
		return path, true
	}
	return "/market" + path, false
}

// Quote returns the best bid/ask for symbol.
func (c *Client) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	var book wirePriceBook
	if c.signer != nil {
		q := url.Values{}
		q.Set("product_ids", symbol)
		var resp bestBidAskResponse
		if err := c.get(ctx, "best bid ask", "/best_bid_ask", q, true, &resp); err != nil {
			return domain.Quote{}, err
		}
		for _, b := range resp.PriceBooks {
			if b.ProductID == symbol {
				book = b
				break
			}
		}
	} else {
		ob, err := c.productBook(ctx, symbol, 1)
		if err != nil {
			return domain.Quote{}, err
		}
		book = ob
	}

	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return domain.Quote{}, fmt.Errorf("quote %s: %w", symbol, marketdata.ErrNoQuote)
	}
	q := domain.Quote{
		Symbol: symbol,
		Bid:    num(book.Bids[0].Price),
		Ask:    num(book.Asks[0].Price),
		Time:   book.Time,
	}
	q.Last = q.Mid()
	return q, nil
}

// OrderBook returns up to depth levels per side.
func (c *Client) OrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error) {
	book, err := c.productBook(ctx, symbol, depth)
	if err != nil {
		return domain.OrderBook{}, err
	}
	return domain.OrderBook{
		Symbol: symbol,
		Bids:   toLevels(book.Bids),
		Asks:   toLevels(book.Asks),
		Time:   book.Time,
	}, nil
}

func (c *Client) productBook(ctx context.Context, symbol string, depth int) (wirePriceBook, error) {
	q := url.Values{}
	q.Set("product_id", symbol)
	if depth > 0 {
		q.Set("limit", strconv.Itoa(depth))
	}
	path, auth := c.marketPath("/product_book")
	var resp productBookResponse
	if err := c.get(ctx, "product book", path, q, auth, &resp); err != nil {
		return wirePriceBook{}, err
	}
	return resp.PriceBook, nil
}

// Product returns trading constraints for symbol.
func (c *Client) Product(ctx context.Context, symbol string) (domain.Product, error) {
	path, auth := c.marketPath("/products/" + url.PathEscape(symbol))
	var resp wireProduct
	if err := c.get(ctx, "get product", path, nil, auth, &resp); err != nil {
		return domain.Product{}, err
	}
	return resp.toProduct(), nil
}

// Candles returns up to limit bars ending now, oldest first.
func (c *Client) Candles(ctx context.Context, symbol string, granularity time.Duration, limit int) ([]domain.Candle, error) {
	g, ok := granularities[granularity]
	if !ok {
		return nil, fmt.Errorf("candles %s: unsupported granularity %s", symbol, granularity)
	}
	if limit <= 0 {
		limit = 1
	}
	end := time.Now().UTC()
	start := end.Add(-time.Duration(limit) * granularity)

	q := url.Values{}
	q.Set("granularity", g)
	q.Set("start", strconv.FormatInt(start.Unix(), 10))
	q.Set("end", strconv.FormatInt(end.Unix(), 10))
	q.Set("limit", strconv.Itoa(limit))

	path, auth := c.marketPath("/products/" + url.PathEscape(symbol) + "/candles")
	var resp candlesResponse
	if err := c.get(ctx, "candles", path, q, auth, &resp); err != nil {
		return nil, err
	}

	out := make([]domain.Candle, 0, len(resp.Candles))
	for _, wc := range resp.Candles {
		out = append(out, wc.toCandle())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

package domain

import "time"

// Quote is a top-of-book snapshot for one product.
type Quote struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Last   float64   `json:"last"`
	Time   time.Time `json:"time"` // exchange timestamp; zero means unknown
}

// Mid returns the bid/ask midpoint, or 0 when either side is missing.
func (q Quote) Mid() float64 {
	if q.Bid <= 0 || q.Ask <= 0 {
		return 0
	}
	return (q.Bid + q.Ask) / 2
}

// SpreadBps returns the bid/ask spread in basis points of mid.
func (q Quote) SpreadBps() float64 {
	mid := q.Mid()
	if mid <= 0 {
		return 0
	}
	return (q.Ask - q.Bid) / mid * 10000
}

// Candle is one OHLCV bar.
type Candle struct {
	Start  time.Time `json:"start"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// BookLevel is one aggregated price level.
type BookLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBook holds bids (descending) and asks (ascending).
type OrderBook struct {
	Symbol string      `json:"symbol"`
	Bids   []BookLevel `json:"bids"`
	Asks   []BookLevel `json:"asks"`
	Time   time.Time   `json:"time"`
}

// ProductStatus is the exchange trading status of a product.
type ProductStatus string

const (
	ProductOnline   ProductStatus = "online"
	ProductOffline  ProductStatus = "offline"
	ProductDelisted ProductStatus = "delisted"
)

// Product is exchange metadata for one trading pair.
type Product struct {
	Symbol          string        `json:"symbol"`
	BaseIncrement   float64       `json:"base_increment"`
	QuoteIncrement  float64       `json:"quote_increment"`
	PriceIncrement  float64       `json:"price_increment"`
	BaseMinSize     float64       `json:"base_min_size"`
	BaseMaxSize     float64       `json:"base_max_size"`
	MinMarketFunds  float64       `json:"min_market_funds"`
	Status          ProductStatus `json:"status"`
	TradingDisabled bool          `json:"trading_disabled"`
	CancelOnly      bool          `json:"cancel_only"`
	LimitOnly       bool          `json:"limit_only"`
	PostOnly        bool          `json:"post_only"`
}

// Healthy reports whether new orders may be placed on the product.
func (p Product) Healthy() bool {
	if p.TradingDisabled || p.CancelOnly {
		return false
	}
	return p.Status == "" || p.Status == ProductOnline
}

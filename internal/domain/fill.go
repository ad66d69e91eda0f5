package domain

import "time"

// Liquidity tells whether a fill added (maker) or removed (taker) liquidity.
type Liquidity string

const (
	LiquidityMaker Liquidity = "MAKER"
	LiquidityTaker Liquidity = "TAKER"
)

// Fill is one execution reported by the exchange (or the paper ledger).
type Fill struct {
	FillID        string    `json:"fill_id"`
	OrderID       string    `json:"order_id"`
	ClientOrderID string    `json:"client_order_id"`
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side"`
	Price         float64   `json:"price"`
	Size          float64   `json:"size"` // base units
	Liquidity     Liquidity `json:"liquidity"`
	ReportedFee   float64   `json:"reported_fee"` // exchange commission, audit only
	Time          time.Time `json:"time"`
}

// Notional returns price * size in quote currency.
func (f Fill) Notional() float64 {
	return f.Price * f.Size
}

// Balance is one account balance in a single currency.
type Balance struct {
	Currency  string  `json:"currency"`
	Available float64 `json:"available"`
	Hold      float64 `json:"hold"`
}

package execution

import (
	"context"
	"fmt"

	"coinbase-trader/internal/domain"
	"coinbase-trader/internal/marketdata"
)

// Preview checks, in evaluation order.
const (
	CheckRequest        = "request"
	CheckMinNotional    = "min_notional"
	CheckMarketData     = "market_data"
	CheckQuoteFreshness = "quote_freshness"
	CheckSpread         = "spread"
	CheckDepth          = "depth"
)

// bookDepth is the number of levels requested for the depth check.
const bookDepth = 50

// PreviewResult is the outcome of PreviewOrder. When OK is false, Check
// names the first failing check and Reason explains it.
type PreviewResult struct {
	OK     bool
	Check  string
	Reason string

	Symbol         string
	Side           domain.Side
	RequestedQuote float64
	GrossQuote     float64 // notional to submit, bumped only to cover fees
	NetQuote       float64
	Fee            float64
	Liquidity      domain.Liquidity

	Quote     domain.Quote
	SpreadBps float64
	Depth     float64 // quote notional within the band on the consumed side
}

func (p PreviewResult) fail(check, format string, args ...any) PreviewResult {
	p.OK = false
	p.Check = check
	p.Reason = fmt.Sprintf(format, args...)
	return p
}

// PreviewOrder validates a request against the minimum notional, quote
// freshness, spread and book depth. It only reads market data.
func (e *Engine) PreviewOrder(ctx context.Context, symbol string, side domain.Side, sizeQuote float64) PreviewResult {
	p := PreviewResult{
		Symbol:         symbol,
		Side:           side,
		RequestedQuote: sizeQuote,
		GrossQuote:     sizeQuote,
		Liquidity:      e.liquidity(e.exec.OrderType),
	}
	if symbol == "" || !side.Valid() || sizeQuote <= 0 {
		return p.fail(CheckRequest, "invalid request: symbol=%q side=%q size=%v", symbol, side, sizeQuote)
	}

	// 1. Minimum notional after fees
	min := e.exec.MinNotional
	if min > 0 && sizeQuote < min {
		return p.fail(CheckMinNotional, "order size $%.2f below minimum notional $%.2f", sizeQuote, min)
	}
	if min > 0 && e.fees.Net(sizeQuote, p.Liquidity) < min {
		p.GrossQuote = e.fees.GrossForNet(min, p.Liquidity)
	}
	p.Fee = e.fees.Fee(p.GrossQuote, p.Liquidity)
	p.NetQuote = p.GrossQuote - p.Fee

	// 2. Quote freshness
	q, err := e.market.Quote(ctx, symbol)
	if err != nil {
		return p.fail(CheckMarketData, "quote unavailable: %v", err)
	}
	p.Quote = q
	if err := marketdata.CheckFreshness(q, e.now(), e.exec.MaxQuoteAge, e.exec.MaxClockSkew); err != nil {
		return p.fail(CheckQuoteFreshness, "%v", err)
	}
	if q.Mid() <= 0 || q.Ask < q.Bid {
		return p.fail(CheckMarketData, "invalid quote bid=%v ask=%v", q.Bid, q.Ask)
	}

	// 3. Spread
	p.SpreadBps = q.SpreadBps()
	if max := e.exec.MaxSpreadBps; max > 0 && p.SpreadBps > max {
		return p.fail(CheckSpread, "spread %.1fbps exceeds max %.1fbps", p.SpreadBps, max)
	}

	// 4. Depth on the side the order consumes
	if mult := e.exec.DepthMultiple; mult > 0 {
		book, err := e.market.OrderBook(ctx, symbol, bookDepth)
		if err != nil {
			return p.fail(CheckMarketData, "order book unavailable: %v", err)
		}
		p.Depth = depthWithinBand(book, side, q.Mid(), e.exec.DepthBandBps)
		if need := mult * p.GrossQuote; p.Depth < need {
			return p.fail(CheckDepth, "depth $%.2f within %.0fbps below required $%.2f (%.1fx order)",
				p.Depth, e.exec.DepthBandBps, need, mult)
		}
	}

	p.OK = true
	return p
}

// depthWithinBand sums the quote notional of levels within bandBps of mid
// on the side a buy (asks) or sell (bids) would take.
func depthWithinBand(book domain.OrderBook, side domain.Side, mid, bandBps float64) float64 {
	levels := book.Asks
	limit := mid * (1 + bandBps/10000)
	inBand := func(px float64) bool { return px <= limit }
	if side == domain.SideSell {
		levels = book.Bids
		limit = mid * (1 - bandBps/10000)
		inBand = func(px float64) bool { return px >= limit }
	}

	var total float64
	for _, l := range levels {
		if !inBand(l.Price) {
			break
		}
		total += l.Price * l.Size
	}
	return total
}

func (e *Engine) liquidity(t domain.OrderType) domain.Liquidity {
	if t == domain.OrderTypeMarket {
		return domain.LiquidityTaker
	}
	return domain.LiquidityMaker
}

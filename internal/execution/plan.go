package execution

import (
	"context"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"coinbase-trader/internal/domain"
	"coinbase-trader/internal/exchange"
)

// plan is a sized order ready for submission.
type plan struct {
	req       exchange.OrderRequest
	expected  float64 // expected average fill price
	mid       float64 // decision mid
	liquidity domain.Liquidity
}

// plan sizes an order to the product's increments and checks the expected
// slippage against the tier budget. A non-empty reason rejects the order.
func (e *Engine) plan(ctx context.Context, o *domain.OrderIntent, gross float64, t domain.OrderType) (plan, string) {
	q, err := e.market.Quote(ctx, o.Symbol)
	if err != nil {
		return plan{}, fmt.Sprintf("quote unavailable: %v", err)
	}
	prod, err := e.market.Product(ctx, o.Symbol)
	if err != nil {
		return plan{}, fmt.Sprintf("product unavailable: %v", err)
	}
	if !prod.Healthy() {
		return plan{}, fmt.Sprintf("product %s not tradable (status %q)", o.Symbol, prod.Status)
	}
	if t == domain.OrderTypeMarket && prod.LimitOnly {
		return plan{}, fmt.Sprintf("product %s is limit-only", o.Symbol)
	}
	if t == domain.OrderTypePostOnlyLimit && q.Ask-q.Bid <= 0 {
		return plan{}, fmt.Sprintf("locked book for %s; no room for a maker price", o.Symbol)
	}

	mid := q.Mid()
	p := plan{mid: mid, liquidity: e.liquidity(t)}

	// Price
	var price decimal.Decimal
	switch t {
	case domain.OrderTypePostOnlyLimit:
		price = makerPrice(q, o.Side, e.exec.MakerOffsetBps, prod.PriceIncrement)
		p.expected = price.InexactFloat64()
	case domain.OrderTypeMarket:
		p.expected = q.Ask
		if o.Side == domain.SideSell {
			p.expected = q.Bid
		}
	default:
		return plan{}, fmt.Sprintf("unsupported order type %q", t)
	}
	if p.expected <= 0 {
		return plan{}, "no executable price"
	}

	// Size: round down, bump to the product minimums when that breaches them
	base := floorTo(gross/p.expected, prod.BaseIncrement)
	if min := prod.BaseMinSize; min > 0 && base.InexactFloat64() < min {
		base = ceilTo(min, prod.BaseIncrement)
	}
	if funds := prod.MinMarketFunds; funds > 0 && base.InexactFloat64()*p.expected < funds {
		base = ceilTo(funds/p.expected, prod.BaseIncrement)
	}
	if max := prod.BaseMaxSize; max > 0 && base.InexactFloat64() > max {
		return plan{}, fmt.Sprintf("base size %s above product max %v", base, max)
	}
	if !base.IsPositive() {
		return plan{}, "base size rounds to zero"
	}

	// Expected slippage vs decision mid
	tier := o.Tier
	if tier == "" {
		tier = e.cfg.TierOf(o.Symbol)
	}
	budget := e.cfg.SlippageBudgetBps(tier)
	if bps := adverseBps(o.Side, p.expected, mid); budget > 0 && bps > budget {
		return plan{}, fmt.Sprintf("expected slippage %.1fbps exceeds %s budget %.1fbps", bps, tier, budget)
	}

	p.req = exchange.OrderRequest{
		ClientOrderID: o.IdempotencyKey,
		Symbol:        o.Symbol,
		Side:          o.Side,
		Type:          t,
		BaseSize:      base,
	}
	if t == domain.OrderTypePostOnlyLimit {
		p.req.LimitPrice = price
	}
	if t == domain.OrderTypeMarket && o.Side == domain.SideBuy {
		funds := math.Max(gross, base.InexactFloat64()*p.expected)
		p.req.QuoteSize = ceilTo(funds, prod.QuoteIncrement)
	}

	o.Type = t
	o.BaseSize = base.InexactFloat64()
	o.LimitPrice = price.InexactFloat64()
	o.DecisionMid = mid
	return p, ""
}

// makerPrice improves the touch by offsetBps while staying strictly inside
// the book, so a post-only order rests instead of being rejected.
func makerPrice(q domain.Quote, side domain.Side, offsetBps, tick float64) decimal.Decimal {
	off := offsetBps / 10000
	if side == domain.SideBuy {
		px := floorTo(q.Bid*(1+off), tick)
		if px.InexactFloat64() >= q.Ask {
			px = floorTo(q.Ask-math.Max(tick, 0), tick)
			if tick <= 0 || px.InexactFloat64() < q.Bid {
				px = decimal.NewFromFloat(q.Bid)
			}
		}
		return px
	}
	px := ceilTo(q.Ask*(1-off), tick)
	if px.InexactFloat64() <= q.Bid {
		px = ceilTo(q.Bid+math.Max(tick, 0), tick)
		if tick <= 0 || px.InexactFloat64() > q.Ask {
			px = decimal.NewFromFloat(q.Ask)
		}
	}
	return px
}

// adverseBps is how far price is from mid against the order, in bps.
func adverseBps(side domain.Side, price, mid float64) float64 {
	if mid <= 0 || price <= 0 {
		return 0
	}
	d := (price - mid) / mid * 10000
	if side == domain.SideSell {
		d = -d
	}
	return math.Max(d, 0)
}

// floorTo rounds v down to a multiple of inc. A zero increment keeps
// eight decimal places.
func floorTo(v, inc float64) decimal.Decimal {
	d := decimal.NewFromFloat(v)
	if inc <= 0 {
		return d.Truncate(8)
	}
	step := decimal.NewFromFloat(inc)
	return d.Div(step).Floor().Mul(step)
}

// ceilTo rounds v up to a multiple of inc.
func ceilTo(v, inc float64) decimal.Decimal {
	d := decimal.NewFromFloat(v)
	if inc <= 0 {
		return d.RoundCeil(8)
	}
	step := decimal.NewFromFloat(inc)
	return d.Div(step).Ceil().Mul(step)
}

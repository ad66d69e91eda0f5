// Package fees is the maker/taker fee schedule. Preview sizing and
// reconciliation PnL both go through Model so estimates and realized
// figures never diverge.
package fees

import (
	"github.com/shopspring/decimal"

	"coinbase-trader/internal/domain"
)

// feePlaces is the quote-currency precision fees are rounded to.
const feePlaces = 8

var (
	bpsDivisor = decimal.NewFromInt(10_000)
	one        = decimal.NewFromInt(1)
)

// Model holds maker and taker rates in basis points.
type Model struct {
	maker decimal.Decimal
	taker decimal.Decimal
}

// New creates a Model from basis-point rates.
func New(makerBps, takerBps float64) Model {
	return Model{
		maker: decimal.NewFromFloat(makerBps),
		taker: decimal.NewFromFloat(takerBps),
	}
}

// Rate returns the fractional rate for a liquidity flag.
func (m Model) Rate(liq domain.Liquidity) float64 {
	return m.rate(liq).InexactFloat64()
}

func (m Model) rate(liq domain.Liquidity) decimal.Decimal {
	if liq == domain.LiquidityMaker {
		return m.maker.Div(bpsDivisor)
	}
	return m.taker.Div(bpsDivisor)
}

// Fee returns the fee charged on a quote notional.
func (m Model) Fee(notional float64, liq domain.Liquidity) float64 {
	return m.FeeDecimal(decimal.NewFromFloat(notional), liq).InexactFloat64()
}

// FeeDecimal is Fee in decimal form.
func (m Model) FeeDecimal(notional decimal.Decimal, liq domain.Liquidity) decimal.Decimal {
	return notional.Abs().Mul(m.rate(liq)).Round(feePlaces)
}

// FillFee is the fee for price x size.
func (m Model) FillFee(price, size float64, liq domain.Liquidity) float64 {
	notional := decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(size))
	return m.FeeDecimal(notional, liq).InexactFloat64()
}

// Net returns the notional left after fees.
func (m Model) Net(gross float64, liq domain.Liquidity) float64 {
	g := decimal.NewFromFloat(gross)
	return g.Sub(m.FeeDecimal(g, liq)).InexactFloat64()
}

// GrossForNet returns the smallest cent amount whose net-of-fee value is at
// least net.
func (m Model) GrossForNet(net float64, liq domain.Liquidity) float64 {
	n := decimal.NewFromFloat(net)
	denom := one.Sub(m.rate(liq))
	if !denom.IsPositive() {
		return net
	}
	gross := n.Div(denom).RoundUp(2)
	for decimal.NewFromFloat(m.Net(gross.InexactFloat64(), liq)).LessThan(n) {
		gross = gross.Add(decimal.New(1, -2))
	}
	return gross.InexactFloat64()
}

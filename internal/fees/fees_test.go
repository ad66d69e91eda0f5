package fees

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"coinbase-trader/internal/domain"
)

func TestModel_Fee(t *testing.T) {
	m := New(40, 60)

	tests := []struct {
		name     string
		notional float64
		liq      domain.Liquidity
		want     float64
	}{
		{"maker 1000", 1000, domain.LiquidityMaker, 4},
		{"taker 1000", 1000, domain.LiquidityTaker, 6},
		{"maker small", 15, domain.LiquidityMaker, 0.06},
		{"negative notional", -250, domain.LiquidityTaker, 1.5},
		{"zero", 0, domain.LiquidityMaker, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Fee(tt.notional, tt.liq))
		})
	}
}

func TestModel_FillFeeMatchesFee(t *testing.T) {
	m := New(40, 60)
	// Same notional through both entry points yields the identical figure.
	assert.Equal(t, m.Fee(0.5*3000, domain.LiquidityMaker), m.FillFee(3000, 0.5, domain.LiquidityMaker))
	assert.Equal(t, m.Fee(0.0123*61234.56, domain.LiquidityTaker), m.FillFee(61234.56, 0.0123, domain.LiquidityTaker))
}

func TestModel_Net(t *testing.T) {
	m := New(40, 60)
	assert.Equal(t, 996.0, m.Net(1000, domain.LiquidityMaker))
	assert.Equal(t, 994.0, m.Net(1000, domain.LiquidityTaker))
}

func TestModel_GrossForNet(t *testing.T) {
	m := New(40, 60)

	for _, net := range []float64{15, 15.01, 99.99, 1000} {
		for _, liq := range []domain.Liquidity{domain.LiquidityMaker, domain.LiquidityTaker} {
			gross := m.GrossForNet(net, liq)
			assert.GreaterOrEqual(t, m.Net(gross, liq), net, "net=%v liq=%s", net, liq)
			// One cent less must not clear the net target.
			assert.Less(t, m.Net(gross-0.01, liq), net, "net=%v liq=%s gross=%v", net, liq, gross)
		}
	}
}

func TestModel_Rate(t *testing.T) {
	m := New(40, 60)
	assert.InDelta(t, 0.004, m.Rate(domain.LiquidityMaker), 1e-12)
	assert.InDelta(t, 0.006, m.Rate(domain.LiquidityTaker), 1e-12)
}

package marketdata

import (
	"math"

	"coinbase-trader/internal/domain"
)

// RealizedVolatility returns the standard deviation of simple close-to-close
// returns scaled by sqrt(n), i.e. volatility over the whole window.
// Returns 0 with fewer than two usable closes.
func RealizedVolatility(candles []domain.Candle) float64 {
	var rets []float64
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		if prev <= 0 {
			continue
		}
		rets = append(rets, (candles[i].Close-prev)/prev)
	}
	if len(rets) == 0 {
		return 0
	}

	mean := 0.0
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))

	var varsum float64
	for _, r := range rets {
		d := r - mean
		varsum += d * d
	}
	return math.Sqrt(varsum/float64(len(rets))) * math.Sqrt(float64(len(rets)))
}

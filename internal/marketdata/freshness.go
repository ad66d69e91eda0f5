package marketdata

import (
	"errors"
	"fmt"
	"time"

	"coinbase-trader/internal/domain"
)

// Quote freshness failures.
var (
	ErrMissingTimestamp = errors.New("quote has no timestamp")
	ErrFutureQuote      = errors.New("quote timestamp in the future")
	ErrStaleQuote       = errors.New("stale quote")
)

// CheckFreshness validates a quote timestamp against now. Messages state the
// measured age and the threshold, e.g. "quote age 45s exceeds max 30s".
func CheckFreshness(q domain.Quote, now time.Time, maxAge, maxSkew time.Duration) error {
	if q.Time.IsZero() {
		return fmt.Errorf("%w: %s", ErrMissingTimestamp, q.Symbol)
	}
	age := now.Sub(q.Time)
	if age < -maxSkew {
		return fmt.Errorf("%w: quote for %s is %s ahead of local clock, max skew %s",
			ErrFutureQuote, q.Symbol, (-age).Truncate(time.Millisecond), maxSkew)
	}
	if age > maxAge {
		return fmt.Errorf("%w: quote age %s exceeds max %s", ErrStaleQuote, age.Truncate(time.Second), maxAge)
	}
	return nil
}

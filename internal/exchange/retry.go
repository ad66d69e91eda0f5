package exchange

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"coinbase-trader/internal/config"
)

// RetryPolicy retries transient and ambiguous failures with exponential
// backoff and jitter, up to MaxAttempts attempts in total.
type RetryPolicy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64

	// OnRetry is called before each wait with the failed attempt's error.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// NewRetryPolicy builds a policy from config.
func NewRetryPolicy(cfg config.Retry) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  cfg.MaxAttempts,
		BaseDelay:    cfg.BaseDelay,
		MaxDelay:     cfg.MaxDelay,
		JitterFactor: cfg.JitterFactor,
	}
}

// NoRetry performs a single attempt.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// Do runs op until it succeeds, returns a non-retryable error, the attempts
// are exhausted or ctx is done. It returns the last error and the number of
// attempts made.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.RandomizationFactor = p.JitterFactor
	b.Multiplier = 2
	b.MaxElapsedTime = 0

	bo := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	n := 0
	var last error
	err := backoff.RetryNotify(func() error {
		n++
		last = op(ctx)
		if last == nil {
			return nil
		}
		if !Retryable(last) {
			return backoff.Permanent(last)
		}
		return last
	}, bo, func(err error, wait time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(n, err, wait)
		}
	})
	if err != nil && last != nil && ctx.Err() != nil {
		// Report the operation's failure rather than the bare context error.
		return n, last
	}
	return n, err
}

package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ClassNone},
		{"rate limited", &APIError{Op: "place", Status: 429}, ClassTransient},
		{"server error", &APIError{Op: "place", Status: 503}, ClassAmbiguous},
		{"request timeout", &APIError{Op: "place", Status: 408}, ClassAmbiguous},
		{"bad request", &APIError{Op: "place", Status: 400, Code: "INVALID_SIZE"}, ClassPermanent},
		{"unauthorized", &APIError{Op: "place", Status: 401}, ClassPermanent},
		{"wrapped api error", fmt.Errorf("place order: %w", &APIError{Status: 502}), ClassAmbiguous},
		{"deadline", context.DeadlineExceeded, ClassAmbiguous},
		{"connection reset", io.ErrUnexpectedEOF, ClassAmbiguous},
		{"read only", fmt.Errorf("place: %w", ErrReadOnly), ClassPermanent},
		{"not found", ErrOrderNotFound, ClassPermanent},
		{"invalid order", ErrInvalidOrder, ClassPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestAPIError_Error(t *testing.T) {
	err := &APIError{Op: "create order", Status: 400, Code: "INVALID_LIMIT_PRICE", Message: "price too low"}
	assert.Equal(t, "create order: status 400: INVALID_LIMIT_PRICE: price too low", err.Error())

	err = &APIError{Op: "list fills", Status: 500, Message: "oops"}
	assert.Equal(t, "list fills: status 500: oops", err.Error())
}

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetryPolicy_RetriesTransient(t *testing.T) {
	calls := 0
	n, err := fastPolicy(4).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return &APIError{Status: 429}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	n, err := fastPolicy(4).Do(context.Background(), func(context.Context) error {
		calls++
		return &APIError{Status: 400, Message: "bad size"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, calls)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 400, apiErr.Status)
}

func TestRetryPolicy_ExhaustsAttempts(t *testing.T) {
	var retries []int
	p := fastPolicy(3)
	p.OnRetry = func(attempt int, _ error, _ time.Duration) { retries = append(retries, attempt) }

	n, err := p.Do(context.Background(), func(context.Context) error {
		return &APIError{Status: 503}
	})
	require.Error(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, ClassAmbiguous, Classify(err))
	assert.Equal(t, []int{1, 2}, retries)
}

func TestRetryPolicy_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	n, err := RetryPolicy{}.Do(context.Background(), func(context.Context) error {
		calls++
		return &APIError{Status: 503}
	})
	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_ContextCancelledReturnsLastError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{MaxAttempts: 10, BaseDelay: time.Hour, MaxDelay: time.Hour}

	n, err := p.Do(ctx, func(context.Context) error {
		cancel()
		return &APIError{Status: 500, Message: "boom"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, n)

	var apiErr *APIError
	assert.True(t, errors.As(err, &apiErr))
}

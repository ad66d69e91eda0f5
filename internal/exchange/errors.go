package exchange

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorClass drives retry and reconciliation decisions.
type ErrorClass string

const (
	// ClassNone is the class of a nil error.
	ClassNone ErrorClass = ""

	// ClassTransient errors were rejected before the exchange acted on the
	// request (rate limiting). Retrying is safe.
	ClassTransient ErrorClass = "transient"

	// ClassAmbiguous errors leave the exchange-side outcome unknown
	// (timeouts, dropped connections, 5xx). Retrying with the same client
	// order id is safe; giving up requires reconciliation.
	ClassAmbiguous ErrorClass = "ambiguous"

	// ClassPermanent errors will not succeed on retry (4xx, validation).
	ClassPermanent ErrorClass = "permanent"
)

// APIError is a non-2xx response from an exchange API.
type APIError struct {
	Op      string
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: status %d: %s: %s", e.Op, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Message)
}

// Classify maps an error onto its ErrorClass.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	if errors.Is(err, ErrReadOnly) || errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrInvalidOrder) {
		return ClassPermanent
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == http.StatusTooManyRequests:
			return ClassTransient
		case apiErr.Status == http.StatusRequestTimeout, apiErr.Status >= 500:
			return ClassAmbiguous
		default:
			return ClassPermanent
		}
	}

	// Timeouts, cancellations and transport failures: the request may have
	// been delivered.
	return ClassAmbiguous
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	switch Classify(err) {
	case ClassTransient, ClassAmbiguous:
		return true
	}
	return false
}

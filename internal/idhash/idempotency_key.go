package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ComputeIdempotencyKey computes the client order id for one logical order.
// Formula: SHA256(symbol|side|size_in_cents|minute_unix)
// Size is rounded half-away-from-zero to cents and the timestamp is
// truncated to the UTC minute, so retries inside the same minute bucket
// produce the same key. Returns hex-encoded hash (64 characters).
func ComputeIdempotencyKey(
	symbol string,
	side string,
	sizeQuote float64,
	ts time.Time,
) string {
	cents := decimal.NewFromFloat(sizeQuote).Round(2).StringFixed(2)
	minute := ts.UTC().Truncate(time.Minute).Unix()

	data := fmt.Sprintf("%s|%s|%s|%d",
		symbol,
		side,
		cents,
		minute,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// DeriveKey computes a child key for a follow-up order of the same intent,
// e.g. the taker fallback after a maker order times out.
// Formula: SHA256(parent|suffix)
func DeriveKey(parent, suffix string) string {
	hash := sha256.Sum256([]byte(parent + "|" + suffix))
	return hex.EncodeToString(hash[:])
}

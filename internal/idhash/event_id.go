package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeEventID computes a deterministic audit event id.
// Formula: SHA256(cycle_id|kind|subject|detail|timestamp_ms)
// Returns hex-encoded hash (64 characters).
func ComputeEventID(
	cycleID string,
	kind string,
	subject string,
	detail string,
	timestampMs int64,
) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%d",
		cycleID,
		kind,
		subject,
		detail,
		timestampMs,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

package domain

import "time"

// Audit event kinds.
const (
	AuditAdmissionRejected = "ADMISSION_REJECTED"
	AuditAdmissionResized  = "ADMISSION_RESIZED"
	AuditAdmissionApproved = "ADMISSION_APPROVED"
	AuditOrderTerminal     = "ORDER_TERMINAL"
	AuditKillSwitch        = "KILL_SWITCH"
	AuditReconcile         = "RECONCILE"
)

// AuditEvent is one append-only record of the audit trail.
type AuditEvent struct {
	EventID   string // deterministic hash
	CycleID   string
	Kind      string
	Symbol    string
	Check     string
	State     string
	Reason    string
	Payload   string // JSON document
	Timestamp int64  // unix ms
}

// EventTime returns Timestamp as time.Time.
func (e AuditEvent) EventTime() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}

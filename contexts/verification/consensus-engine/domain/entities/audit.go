package entities

import "time"

type AuditAction string

const (
	AuditActionVerificationSubmit    AuditAction = "VERIFICATION_SUBMIT"
	AuditActionEvidenceUpload        AuditAction = "EVIDENCE_UPLOAD"
	AuditActionEvidenceStatusChanged AuditAction = "EVIDENCE_STATUS_CHANGED"
)

// AuditEntry is a compliance record handed to the audit sink after a
// committed change. ActorID is empty for system-initiated changes.
type AuditEntry struct {
	AuditID    string
	ActorID    string
	Action     AuditAction
	EntityType string
	EntityID   string
	Values     map[string]any
	IPAddress  string
	UserAgent  string
	CreatedAt  time.Time
}

package v1

import (
	"encoding/json"
	"time"
)

// Event types published by the consensus engine.
const (
	EventTypeVerificationSubmitted = "verification.submitted"
	EventTypeEvidenceStatusChanged = "evidence.status_changed"
	EventTypeEvidenceRegistered    = "evidence.registered"
	EventTypeEvidenceUploaded      = "evidence.uploaded"
)

// Envelope is the canonical, versioned event envelope for cross-runtime use.
// Fields are append-only; consumers must ignore unknown data keys.
type Envelope struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	OccurredAt       time.Time       `json:"occurred_at"`
	SourceService    string          `json:"source_service"`
	TraceID          string          `json:"trace_id"`
	SchemaVersion    int             `json:"schema_version"`
	PartitionKeyPath string          `json:"partition_key_path"`
	PartitionKey     string          `json:"partition_key"`
	Data             json.RawMessage `json:"data"`
}

package commands

import (
	"encoding/json"
	"time"

	"crowdproof/contexts/verification/consensus-engine/ports"
)

const sourceService = "consensus-engine"

func newEvidenceEnvelope(
	eventID string,
	eventType string,
	evidenceID string,
	occurredAt time.Time,
	data map[string]any,
) (ports.EventEnvelope, error) {
	// Partitioned by evidence so consumers see one item's events in commit order.
	payload, err := json.Marshal(data)
	if err != nil {
		return ports.EventEnvelope{}, err
	}
	return ports.EventEnvelope{
		EventID:          eventID,
		EventType:        eventType,
		OccurredAt:       occurredAt.UTC(),
		SourceService:    sourceService,
		TraceID:          eventID,
		SchemaVersion:    1,
		PartitionKeyPath: "evidence_id",
		PartitionKey:     evidenceID,
		Data:             payload,
	}, nil
}

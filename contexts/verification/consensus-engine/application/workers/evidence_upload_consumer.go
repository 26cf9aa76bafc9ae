package workers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	application "crowdproof/contexts/verification/consensus-engine/application"
	"crowdproof/contexts/verification/consensus-engine/application/commands"
	"crowdproof/contexts/verification/consensus-engine/domain/entities"
	domainerrors "crowdproof/contexts/verification/consensus-engine/domain/errors"
	"crowdproof/contexts/verification/consensus-engine/ports"
	eventsv1 "crowdproof/contracts/gen/events/v1"
)

const defaultUploadCG = "consensus-engine-evidence-upload-cg"

type EvidenceRegistrar interface {
	RegisterEvidence(ctx context.Context, cmd commands.RegisterEvidenceCommand) (entities.Evidence, error)
}

// EvidenceUploadConsumer registers evidence announced by the file-storage
// pipeline on evidence.uploaded.
type EvidenceUploadConsumer struct {
	Subscriber    ports.EventSubscriber
	Dedup         ports.EventDedupStore
	Registrar     EvidenceRegistrar
	Clock         ports.Clock
	ConsumerGroup string
	DedupTTL      time.Duration
	Disabled      bool
	Logger        *slog.Logger
}

type evidenceUploadedPayload struct {
	EvidenceID  string `json:"evidence_id"`
	UploaderID  string `json:"uploader_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ContentHash string `json:"content_hash"`
	MimeType    string `json:"mime_type"`
	IPAddress   string `json:"ip_address"`
	UserAgent   string `json:"user_agent"`
}

func (c EvidenceUploadConsumer) Start(ctx context.Context) error {
	logger := application.ResolveLogger(c.Logger)
	if c.Disabled {
		logger.Info("evidence upload consumer disabled by feature flag",
			"event", "consensus_upload_consumer_disabled",
			"module", application.ModuleName,
			"layer", "worker",
		)
		return nil
	}
	group := strings.TrimSpace(c.ConsumerGroup)
	if group == "" {
		group = defaultUploadCG
	}
	if err := c.Subscriber.Subscribe(ctx, eventsv1.EventTypeEvidenceUploaded, group, c.handleEvidenceUploaded); err != nil {
		logger.Error("evidence upload consumer subscribe failed",
			"event", "consensus_upload_consumer_subscribe_failed",
			"module", application.ModuleName,
			"layer", "worker",
			"topic", eventsv1.EventTypeEvidenceUploaded,
			"consumer_group", group,
			"error", err.Error(),
		)
		return err
	}
	logger.Info("evidence upload consumer subscription active",
		"event", "consensus_upload_consumer_started",
		"module", application.ModuleName,
		"layer", "worker",
		"consumer_group", group,
	)
	return nil
}

func (c EvidenceUploadConsumer) handleEvidenceUploaded(ctx context.Context, event ports.EventEnvelope) error {
	logger := application.ResolveLogger(c.Logger)
	alreadyProcessed, err := c.Dedup.ReserveEvent(ctx, event.EventID, hashPayload(event.Data), c.now().Add(c.dedupTTL()))
	if err != nil {
		logger.Error("evidence upload dedupe failed",
			"event", "consensus_upload_dedupe_failed",
			"module", application.ModuleName,
			"layer", "worker",
			"event_id", event.EventID,
			"error", err.Error(),
		)
		return err
	}
	if alreadyProcessed {
		logger.Debug("evidence.uploaded replay skipped",
			"event", "consensus_upload_replayed",
			"module", application.ModuleName,
			"layer", "worker",
			"event_id", event.EventID,
		)
		return nil
	}

	var payload evidenceUploadedPayload
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		logger.Error("evidence.uploaded payload decode failed",
			"event", "consensus_upload_decode_failed",
			"module", application.ModuleName,
			"layer", "worker",
			"event_id", event.EventID,
			"error", err.Error(),
		)
		return err
	}
	evidence, err := c.Registrar.RegisterEvidence(ctx, commands.RegisterEvidenceCommand{
		EvidenceID:  payload.EvidenceID,
		UploaderID:  payload.UploaderID,
		Title:       payload.Title,
		Description: payload.Description,
		ContentHash: payload.ContentHash,
		MimeType:    payload.MimeType,
		IPAddress:   payload.IPAddress,
		UserAgent:   payload.UserAgent,
	})
	if errors.Is(err, domainerrors.ErrDuplicateEvidence) {
		logger.Info("evidence.uploaded already registered",
			"event", "consensus_upload_duplicate",
			"module", application.ModuleName,
			"layer", "worker",
			"event_id", event.EventID,
			"evidence_id", payload.EvidenceID,
		)
		return nil
	}
	if err != nil {
		logger.Error("evidence.uploaded registration failed",
			"event", "consensus_upload_register_failed",
			"module", application.ModuleName,
			"layer", "worker",
			"event_id", event.EventID,
			"evidence_id", payload.EvidenceID,
			"error", err.Error(),
		)
		return err
	}
	logger.Info("evidence.uploaded consumed",
		"event", "consensus_upload_consumed",
		"module", application.ModuleName,
		"layer", "worker",
		"event_id", event.EventID,
		"evidence_id", evidence.EvidenceID,
	)
	return nil
}

func (c EvidenceUploadConsumer) now() time.Time {
	now := time.Now().UTC()
	if c.Clock != nil {
		now = c.Clock.Now().UTC()
	}
	return now
}

func (c EvidenceUploadConsumer) dedupTTL() time.Duration {
	if c.DedupTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return c.DedupTTL
}

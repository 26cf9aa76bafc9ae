package commands

import (
	"context"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	application "crowdproof/contexts/verification/consensus-engine/application"
	"crowdproof/contexts/verification/consensus-engine/domain/entities"
	domainerrors "crowdproof/contexts/verification/consensus-engine/domain/errors"
	"crowdproof/contexts/verification/consensus-engine/ports"
	eventsv1 "crowdproof/contracts/gen/events/v1"
)

// RegisterEvidenceCommand registers an already stored file as evidence. The
// content hash is computed by the upload pipeline; EvidenceID is optional and
// is set when the upstream producer already assigned one.
type RegisterEvidenceCommand struct {
	EvidenceID  string
	UploaderID  string
	Title       string
	Description string
	ContentHash string
	MimeType    string
	MediaType   entities.MediaType
	IPAddress   string
	UserAgent   string
}

type EvidenceUseCase struct {
	Evidence ports.EvidenceRepository
	Audit    ports.AuditSink
	Clock    ports.Clock
	IDGen    ports.IDGenerator
	Logger   *slog.Logger
}

func (uc EvidenceUseCase) RegisterEvidence(ctx context.Context, cmd RegisterEvidenceCommand) (entities.Evidence, error) {
	logger := application.ResolveLogger(uc.Logger)
	cmd = normalizeRegisterCommand(cmd)
	if err := validateRegisterCommand(cmd); err != nil {
		logger.Warn("evidence registration validation failed",
			"event", "consensus_evidence_register_validation_failed",
			"module", application.ModuleName,
			"layer", "application",
			"uploader_id", cmd.UploaderID,
			"error", err.Error(),
		)
		return entities.Evidence{}, err
	}

	now := time.Now().UTC()
	if uc.Clock != nil {
		now = uc.Clock.Now().UTC()
	}
	if cmd.EvidenceID == "" {
		evidenceID, err := uc.IDGen.NewID(ctx)
		if err != nil {
			return entities.Evidence{}, err
		}
		cmd.EvidenceID = evidenceID
	}
	evidence := entities.Evidence{
		EvidenceID:  cmd.EvidenceID,
		ContentHash: cmd.ContentHash,
		Status:      entities.EvidenceStatusPending,
		Title:       cmd.Title,
		Description: cmd.Description,
		MediaType:   cmd.MediaType,
		UploaderID:  cmd.UploaderID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	eventID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return entities.Evidence{}, err
	}
	envelope, err := newEvidenceEnvelope(eventID, eventsv1.EventTypeEvidenceRegistered, evidence.EvidenceID, now, map[string]any{
		"evidence_id":  evidence.EvidenceID,
		"uploader_id":  evidence.UploaderID,
		"content_hash": evidence.ContentHash,
		"media_type":   string(evidence.MediaType),
		"status":       string(evidence.Status),
		"occurred_at":  now.Format(time.RFC3339),
	})
	if err != nil {
		return entities.Evidence{}, err
	}
	if err := uc.Evidence.CreateEvidenceWithOutbox(ctx, evidence, envelope); err != nil {
		logger.Error("evidence registration failed",
			"event", "consensus_evidence_register_failed",
			"module", application.ModuleName,
			"layer", "application",
			"evidence_id", evidence.EvidenceID,
			"uploader_id", evidence.UploaderID,
			"error", err.Error(),
		)
		return entities.Evidence{}, err
	}

	if uc.Audit != nil {
		auditID, _ := uc.IDGen.NewID(ctx)
		if err := uc.Audit.RecordAudit(ctx, entities.AuditEntry{
			AuditID:    auditID,
			ActorID:    evidence.UploaderID,
			Action:     entities.AuditActionEvidenceUpload,
			EntityType: "Evidence",
			EntityID:   evidence.EvidenceID,
			Values: map[string]any{
				"title":        evidence.Title,
				"media_type":   string(evidence.MediaType),
				"content_hash": evidence.ContentHash,
			},
			IPAddress: cmd.IPAddress,
			UserAgent: cmd.UserAgent,
			CreatedAt: now,
		}); err != nil {
			logger.Warn("audit record failed",
				"event", "consensus_audit_record_failed",
				"module", application.ModuleName,
				"layer", "application",
				"action", string(entities.AuditActionEvidenceUpload),
				"entity_id", evidence.EvidenceID,
				"error", err.Error(),
			)
		}
	}

	logger.Info("evidence registered",
		"event", "consensus_evidence_registered",
		"module", application.ModuleName,
		"layer", "application",
		"evidence_id", evidence.EvidenceID,
		"uploader_id", evidence.UploaderID,
		"media_type", string(evidence.MediaType),
	)
	return evidence, nil
}

func normalizeRegisterCommand(cmd RegisterEvidenceCommand) RegisterEvidenceCommand {
	cmd.EvidenceID = strings.TrimSpace(cmd.EvidenceID)
	cmd.UploaderID = strings.TrimSpace(cmd.UploaderID)
	cmd.Title = strings.TrimSpace(cmd.Title)
	cmd.Description = strings.TrimSpace(cmd.Description)
	cmd.ContentHash = strings.ToLower(strings.TrimSpace(cmd.ContentHash))
	cmd.MediaType = entities.MediaType(strings.ToUpper(strings.TrimSpace(string(cmd.MediaType))))
	if cmd.MediaType == "" {
		cmd.MediaType = entities.MediaTypeFromMIME(cmd.MimeType)
	}
	cmd.IPAddress = strings.TrimSpace(cmd.IPAddress)
	cmd.UserAgent = strings.TrimSpace(cmd.UserAgent)
	return cmd
}

func validateRegisterCommand(cmd RegisterEvidenceCommand) error {
	if cmd.UploaderID == "" || cmd.Title == "" {
		return domainerrors.ErrInvalidEvidenceInput
	}
	if len(cmd.ContentHash) != 64 {
		return domainerrors.ErrInvalidContentHash
	}
	if _, err := hex.DecodeString(cmd.ContentHash); err != nil {
		return domainerrors.ErrInvalidContentHash
	}
	if !cmd.MediaType.Valid() {
		return domainerrors.ErrInvalidMediaType
	}
	return nil
}

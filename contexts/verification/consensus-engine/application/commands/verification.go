package commands

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	application "crowdproof/contexts/verification/consensus-engine/application"
	"crowdproof/contexts/verification/consensus-engine/domain/entities"
	domainerrors "crowdproof/contexts/verification/consensus-engine/domain/errors"
	"crowdproof/contexts/verification/consensus-engine/domain/services"
	"crowdproof/contexts/verification/consensus-engine/ports"
	eventsv1 "crowdproof/contracts/gen/events/v1"
)

// SubmitVerificationCommand is the write-model input for a verification vote.
// VerifierID is always explicit; the engine never reads session state.
type SubmitVerificationCommand struct {
	EvidenceID     string
	VerifierID     string
	Type           entities.VerificationType
	Decision       entities.Decision
	Confidence     int
	Comment        string
	IdempotencyKey string
	IPAddress      string
	UserAgent      string
}

// SubmitVerificationResult carries the stored vote and the evaluation that was
// applied in the same transaction.
type SubmitVerificationResult struct {
	Vote       entities.Vote
	Evaluation services.Evaluation
	WasUpdate  bool
	Replayed   bool
}

// VerificationUseCase owns the vote ledger write path. Each submission runs
// "write vote, read full set, evaluate, write status" inside one evidence lock
// and retries the whole unit on write conflicts.
type VerificationUseCase struct {
	Ledger               ports.Ledger
	Evidence             ports.EvidenceRepository
	Verifiers            ports.VerifierDirectory
	Idempotency          ports.IdempotencyStore
	Audit                ports.AuditSink
	Metrics              ports.Metrics
	Clock                ports.Clock
	IDGen                ports.IDGenerator
	Policy               services.Policy
	MaxAttempts          int
	RetryInitialInterval time.Duration
	IdempotencyTTL       time.Duration
	Logger               *slog.Logger
}

// SubmitVerification records or revises the caller's vote and applies the
// resulting status. The returned error is never nil when the status could not
// be applied, even if the vote itself was valid.
func (uc VerificationUseCase) SubmitVerification(
	ctx context.Context,
	cmd SubmitVerificationCommand,
) (SubmitVerificationResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	cmd = normalizeSubmitCommand(cmd)
	logger.Info("verification submit processing started",
		"event", "consensus_verification_submit_started",
		"module", application.ModuleName,
		"layer", "application",
		"evidence_id", cmd.EvidenceID,
		"verifier_id", cmd.VerifierID,
		"decision", string(cmd.Decision),
	)
	if err := validateSubmitCommand(cmd); err != nil {
		logger.Warn("verification submit validation failed",
			"event", "consensus_verification_submit_validation_failed",
			"module", application.ModuleName,
			"layer", "application",
			"evidence_id", cmd.EvidenceID,
			"verifier_id", cmd.VerifierID,
			"error", err.Error(),
		)
		return SubmitVerificationResult{}, err
	}

	now := uc.now()
	requestHash := hashSubmitCommand(cmd)
	if cmd.IdempotencyKey != "" && uc.Idempotency != nil {
		replayed, found, err := uc.replay(ctx, cmd, requestHash, now)
		if err != nil || found {
			return replayed, err
		}
	}

	verifier, err := uc.Verifiers.GetVerifier(ctx, cmd.VerifierID)
	if err != nil {
		logger.Warn("verification submit verifier lookup failed",
			"event", "consensus_verification_submit_verifier_lookup_failed",
			"module", application.ModuleName,
			"layer", "application",
			"evidence_id", cmd.EvidenceID,
			"verifier_id", cmd.VerifierID,
			"error", err.Error(),
		)
		return SubmitVerificationResult{}, err
	}
	if !verifier.Active {
		return SubmitVerificationResult{}, domainerrors.ErrVerifierNotFound
	}

	var result SubmitVerificationResult
	err = uc.withRetry(ctx, func() error {
		result = SubmitVerificationResult{}
		return uc.Ledger.WithEvidenceLock(ctx, cmd.EvidenceID, func(ctx context.Context, tx ports.LedgerTx) error {
			var txErr error
			result, txErr = uc.applyVote(ctx, tx, cmd, now)
			return txErr
		})
	})
	if err != nil {
		logger.Error("verification submit failed",
			"event", "consensus_verification_submit_failed",
			"module", application.ModuleName,
			"layer", "application",
			"evidence_id", cmd.EvidenceID,
			"verifier_id", cmd.VerifierID,
			"error", err.Error(),
		)
		return SubmitVerificationResult{}, err
	}

	if cmd.IdempotencyKey != "" && uc.Idempotency != nil {
		if err := uc.Idempotency.Put(ctx, ports.IdempotencyRecord{
			Key:         cmd.IdempotencyKey,
			RequestHash: requestHash,
			VoteID:      result.Vote.VoteID,
			ExpiresAt:   now.Add(uc.resolveIdempotencyTTL()),
		}); err != nil {
			// The vote is committed; a missing record only means a retry with this
			// key is re-applied, which the upsert makes harmless.
			logger.Warn("verification idempotency record failed",
				"event", "consensus_verification_idempotency_put_failed",
				"module", application.ModuleName,
				"layer", "application",
				"evidence_id", cmd.EvidenceID,
				"vote_id", result.Vote.VoteID,
				"error", err.Error(),
			)
		}
	}

	uc.observe(result)
	uc.recordAudit(ctx, entities.AuditEntry{
		ActorID:    cmd.VerifierID,
		Action:     entities.AuditActionVerificationSubmit,
		EntityType: "Verification",
		EntityID:   result.Vote.VoteID,
		Values: map[string]any{
			"evidence_id": result.Vote.EvidenceID,
			"type":        string(result.Vote.Type),
			"decision":    string(result.Vote.Decision),
			"comment":     result.Vote.Comment,
			"confidence":  result.Vote.Confidence,
			"was_update":  result.WasUpdate,
		},
		IPAddress: cmd.IPAddress,
		UserAgent: cmd.UserAgent,
		CreatedAt: now,
	})
	if result.Evaluation.Changed {
		uc.recordStatusAudit(ctx, cmd.VerifierID, result.Vote.EvidenceID, result.Evaluation, now)
	}

	logger.Info("verification submitted",
		"event", "consensus_verification_submitted",
		"module", application.ModuleName,
		"layer", "application",
		"evidence_id", result.Vote.EvidenceID,
		"vote_id", result.Vote.VoteID,
		"verifier_id", result.Vote.VerifierID,
		"decision", string(result.Vote.Decision),
		"was_update", result.WasUpdate,
		"total_votes", result.Evaluation.Tally.Total,
		"status", string(result.Evaluation.Status),
		"status_changed", result.Evaluation.Changed,
		"reason", result.Evaluation.Reason,
	)
	return result, nil
}

// ReevaluateEvidence recomputes the status of one evidence item from its
// stored votes and applies it if it differs. Used by the reconciler to
// converge rows written under a different policy or edited out of band.
func (uc VerificationUseCase) ReevaluateEvidence(ctx context.Context, evidenceID string) (services.Evaluation, error) {
	logger := application.ResolveLogger(uc.Logger)
	evidenceID = strings.TrimSpace(evidenceID)
	if evidenceID == "" {
		return services.Evaluation{}, domainerrors.ErrEvidenceIDRequired
	}

	now := uc.now()
	var evaluation services.Evaluation
	err := uc.withRetry(ctx, func() error {
		evaluation = services.Evaluation{}
		return uc.Ledger.WithEvidenceLock(ctx, evidenceID, func(ctx context.Context, tx ports.LedgerTx) error {
			votes, err := tx.ListVotes(ctx)
			if err != nil {
				return err
			}
			evaluation = services.Evaluate(uc.policy(), tx.Evidence().Status, votes)
			if !evaluation.Changed {
				return nil
			}
			return uc.applyStatus(ctx, tx, evidenceID, evaluation, now)
		})
	})
	if err != nil {
		logger.Error("evidence reevaluation failed",
			"event", "consensus_evidence_reevaluate_failed",
			"module", application.ModuleName,
			"layer", "application",
			"evidence_id", evidenceID,
			"error", err.Error(),
		)
		return services.Evaluation{}, err
	}
	if evaluation.Changed {
		uc.metrics().StatusTransition(evaluation.Previous, evaluation.Status)
		uc.recordStatusAudit(ctx, "", evidenceID, evaluation, now)
		logger.Info("evidence status reconciled",
			"event", "consensus_evidence_status_reconciled",
			"module", application.ModuleName,
			"layer", "application",
			"evidence_id", evidenceID,
			"previous_status", string(evaluation.Previous),
			"status", string(evaluation.Status),
			"reason", evaluation.Reason,
		)
	}
	return evaluation, nil
}

func (uc VerificationUseCase) applyVote(
	ctx context.Context,
	tx ports.LedgerTx,
	cmd SubmitVerificationCommand,
	now time.Time,
) (SubmitVerificationResult, error) {
	evidence := tx.Evidence()
	vote, found, err := tx.GetVoteByVerifier(ctx, cmd.VerifierID)
	if err != nil {
		return SubmitVerificationResult{}, err
	}
	if found {
		vote.Type = cmd.Type
		vote.Decision = cmd.Decision
		vote.Confidence = cmd.Confidence
		vote.Comment = cmd.Comment
		vote.UpdatedAt = now
	} else {
		voteID, err := uc.IDGen.NewID(ctx)
		if err != nil {
			return SubmitVerificationResult{}, err
		}
		vote = entities.Vote{
			VoteID:     voteID,
			EvidenceID: evidence.EvidenceID,
			VerifierID: cmd.VerifierID,
			Type:       cmd.Type,
			Decision:   cmd.Decision,
			Confidence: cmd.Confidence,
			Comment:    cmd.Comment,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}
	if err := tx.SaveVote(ctx, vote); err != nil {
		return SubmitVerificationResult{}, err
	}

	votes, err := tx.ListVotes(ctx)
	if err != nil {
		return SubmitVerificationResult{}, err
	}
	evaluation := services.Evaluate(uc.policy(), evidence.Status, votes)

	if err := uc.appendEvent(ctx, tx, eventsv1.EventTypeVerificationSubmitted, evidence.EvidenceID, now, map[string]any{
		"vote_id":     vote.VoteID,
		"evidence_id": vote.EvidenceID,
		"verifier_id": vote.VerifierID,
		"type":        string(vote.Type),
		"decision":    string(vote.Decision),
		"confidence":  vote.Confidence,
		"was_update":  found,
		"total_votes": evaluation.Tally.Total,
		"occurred_at": now.Format(time.RFC3339),
	}); err != nil {
		return SubmitVerificationResult{}, err
	}
	if evaluation.Changed {
		if err := uc.applyStatus(ctx, tx, evidence.EvidenceID, evaluation, now); err != nil {
			return SubmitVerificationResult{}, err
		}
	}
	return SubmitVerificationResult{
		Vote:       vote,
		Evaluation: evaluation,
		WasUpdate:  found,
	}, nil
}

func (uc VerificationUseCase) applyStatus(
	ctx context.Context,
	tx ports.LedgerTx,
	evidenceID string,
	evaluation services.Evaluation,
	now time.Time,
) error {
	if err := tx.UpdateEvidenceStatus(ctx, evaluation.Status, now); err != nil {
		return err
	}
	return uc.appendEvent(ctx, tx, eventsv1.EventTypeEvidenceStatusChanged, evidenceID, now, map[string]any{
		"evidence_id":     evidenceID,
		"previous_status": string(evaluation.Previous),
		"status":          string(evaluation.Status),
		"reason":          evaluation.Reason,
		"total_votes":     evaluation.Tally.Total,
		"approved_votes":  evaluation.Tally.Approved,
		"rejected_votes":  evaluation.Tally.Rejected,
		"flagged_votes":   evaluation.Tally.Flagged,
		"occurred_at":     now.Format(time.RFC3339),
	})
}

func (uc VerificationUseCase) replay(
	ctx context.Context,
	cmd SubmitVerificationCommand,
	requestHash string,
	now time.Time,
) (SubmitVerificationResult, bool, error) {
	logger := application.ResolveLogger(uc.Logger)
	record, found, err := uc.Idempotency.Get(ctx, cmd.IdempotencyKey, now)
	if err != nil {
		logger.Error("verification idempotency lookup failed",
			"event", "consensus_verification_idempotency_lookup_failed",
			"module", application.ModuleName,
			"layer", "application",
			"evidence_id", cmd.EvidenceID,
			"verifier_id", cmd.VerifierID,
			"error", err.Error(),
		)
		return SubmitVerificationResult{}, false, err
	}
	if !found {
		return SubmitVerificationResult{}, false, nil
	}
	if record.RequestHash != requestHash {
		logger.Warn("verification idempotency conflict",
			"event", "consensus_verification_idempotency_conflict",
			"module", application.ModuleName,
			"layer", "application",
			"evidence_id", cmd.EvidenceID,
			"verifier_id", cmd.VerifierID,
		)
		return SubmitVerificationResult{}, false, domainerrors.ErrIdempotencyKeyConflict
	}
	vote, err := uc.Evidence.GetVote(ctx, record.VoteID)
	if err != nil {
		return SubmitVerificationResult{}, false, err
	}
	evidence, err := uc.Evidence.GetEvidence(ctx, vote.EvidenceID)
	if err != nil {
		return SubmitVerificationResult{}, false, err
	}
	votes, err := uc.Evidence.ListVotesByEvidence(ctx, vote.EvidenceID)
	if err != nil {
		return SubmitVerificationResult{}, false, err
	}
	logger.Info("verification submit replayed",
		"event", "consensus_verification_submit_replayed",
		"module", application.ModuleName,
		"layer", "application",
		"evidence_id", vote.EvidenceID,
		"vote_id", vote.VoteID,
		"verifier_id", cmd.VerifierID,
	)
	return SubmitVerificationResult{
		Vote: vote,
		Evaluation: services.Evaluation{
			Previous: evidence.Status,
			Status:   evidence.Status,
			Tally:    services.CountVotes(votes),
		},
		Replayed: true,
	}, true, nil
}

func (uc VerificationUseCase) appendEvent(
	ctx context.Context,
	tx ports.LedgerTx,
	eventType string,
	evidenceID string,
	occurredAt time.Time,
	data map[string]any,
) error {
	eventID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	envelope, err := newEvidenceEnvelope(eventID, eventType, evidenceID, occurredAt, data)
	if err != nil {
		return err
	}
	return tx.AppendOutbox(ctx, envelope)
}

// withRetry reruns op while it fails with a write conflict. Any other error
// stops immediately; exhausting the attempts returns the last conflict.
func (uc VerificationUseCase) withRetry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = uc.resolveRetryInterval()
	policy.MaxInterval = 20 * policy.InitialInterval
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, domainerrors.ErrConflict) {
			uc.metrics().ConflictRetry()
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(uc.resolveMaxAttempts()-1)), ctx))
}

func (uc VerificationUseCase) observe(result SubmitVerificationResult) {
	metrics := uc.metrics()
	metrics.VoteRecorded(result.Vote.Decision, result.WasUpdate)
	if result.Evaluation.Changed {
		metrics.StatusTransition(result.Evaluation.Previous, result.Evaluation.Status)
	}
}

func (uc VerificationUseCase) recordStatusAudit(
	ctx context.Context,
	actorID string,
	evidenceID string,
	evaluation services.Evaluation,
	now time.Time,
) {
	uc.recordAudit(ctx, entities.AuditEntry{
		ActorID:    actorID,
		Action:     entities.AuditActionEvidenceStatusChanged,
		EntityType: "Evidence",
		EntityID:   evidenceID,
		Values: map[string]any{
			"previous_status": string(evaluation.Previous),
			"status":          string(evaluation.Status),
			"reason":          evaluation.Reason,
			"total_votes":     evaluation.Tally.Total,
		},
		CreatedAt: now,
	})
}

func (uc VerificationUseCase) recordAudit(ctx context.Context, entry entities.AuditEntry) {
	if uc.Audit == nil {
		return
	}
	logger := application.ResolveLogger(uc.Logger)
	if entry.AuditID == "" {
		auditID, err := uc.IDGen.NewID(ctx)
		if err == nil {
			entry.AuditID = auditID
		}
	}
	if err := uc.Audit.RecordAudit(ctx, entry); err != nil {
		logger.Warn("audit record failed",
			"event", "consensus_audit_record_failed",
			"module", application.ModuleName,
			"layer", "application",
			"action", string(entry.Action),
			"entity_id", entry.EntityID,
			"error", err.Error(),
		)
	}
}

func (uc VerificationUseCase) policy() services.Policy {
	if uc.Policy == (services.Policy{}) {
		return services.DefaultPolicy()
	}
	return uc.Policy
}

func (uc VerificationUseCase) metrics() ports.Metrics {
	if uc.Metrics == nil {
		return nopMetrics{}
	}
	return uc.Metrics
}

func (uc VerificationUseCase) now() time.Time {
	now := time.Now().UTC()
	if uc.Clock != nil {
		now = uc.Clock.Now().UTC()
	}
	return now
}

func (uc VerificationUseCase) resolveMaxAttempts() int {
	if uc.MaxAttempts <= 0 {
		return 5
	}
	return uc.MaxAttempts
}

func (uc VerificationUseCase) resolveRetryInterval() time.Duration {
	if uc.RetryInitialInterval <= 0 {
		return 25 * time.Millisecond
	}
	return uc.RetryInitialInterval
}

func (uc VerificationUseCase) resolveIdempotencyTTL() time.Duration {
	if uc.IdempotencyTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return uc.IdempotencyTTL
}

type nopMetrics struct{}

func (nopMetrics) VoteRecorded(entities.Decision, bool) {}

func (nopMetrics) StatusTransition(entities.EvidenceStatus, entities.EvidenceStatus) {}

func (nopMetrics) ConflictRetry() {}

func normalizeSubmitCommand(cmd SubmitVerificationCommand) SubmitVerificationCommand {
	cmd.EvidenceID = strings.TrimSpace(cmd.EvidenceID)
	cmd.VerifierID = strings.TrimSpace(cmd.VerifierID)
	cmd.Decision = entities.Decision(strings.ToUpper(strings.TrimSpace(string(cmd.Decision))))
	if verificationType, ok := entities.ParseVerificationType(string(cmd.Type)); ok {
		cmd.Type = verificationType
	} else {
		cmd.Type = entities.VerificationType(strings.ToUpper(strings.TrimSpace(string(cmd.Type))))
	}
	cmd.Comment = strings.TrimSpace(cmd.Comment)
	cmd.IdempotencyKey = strings.TrimSpace(cmd.IdempotencyKey)
	cmd.IPAddress = strings.TrimSpace(cmd.IPAddress)
	cmd.UserAgent = strings.TrimSpace(cmd.UserAgent)
	return cmd
}

func validateSubmitCommand(cmd SubmitVerificationCommand) error {
	switch {
	case cmd.EvidenceID == "":
		return domainerrors.ErrEvidenceIDRequired
	case cmd.VerifierID == "":
		return domainerrors.ErrVerifierIDRequired
	case !cmd.Decision.Valid():
		return domainerrors.ErrInvalidDecision
	case !cmd.Type.Valid():
		return domainerrors.ErrInvalidVerificationType
	case cmd.Confidence < entities.MinConfidence || cmd.Confidence > entities.MaxConfidence:
		return domainerrors.ErrInvalidConfidence
	}
	return nil
}

func hashSubmitCommand(cmd SubmitVerificationCommand) string {
	payload := map[string]string{
		"evidence_id": cmd.EvidenceID,
		"verifier_id": cmd.VerifierID,
		"type":        string(cmd.Type),
		"decision":    string(cmd.Decision),
		"confidence":  strconv.Itoa(cmd.Confidence),
		"comment":     cmd.Comment,
		"op":          "submit_verification",
	}
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

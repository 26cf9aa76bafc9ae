package postgresadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"crowdproof/contexts/verification/consensus-engine/domain/entities"
	domainerrors "crowdproof/contexts/verification/consensus-engine/domain/errors"
	"crowdproof/contexts/verification/consensus-engine/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const moduleName = "verification/consensus-engine"

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) CreateEvidenceWithOutbox(ctx context.Context, evidence entities.Evidence, event ports.EventEnvelope) error {
	row := evidenceModelFromEntity(evidence)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			if isUniqueViolation(err) {
				return domainerrors.ErrDuplicateEvidence
			}
			return err
		}
		return appendOutbox(tx, event)
	})
	if err != nil {
		if errors.Is(err, domainerrors.ErrDuplicateEvidence) || errors.Is(err, domainerrors.ErrConflict) {
			return err
		}
		return r.logError("consensus_repo_create_evidence_failed", err,
			"evidence_id", row.ID,
			"uploader_id", row.UploaderID,
		)
	}
	return nil
}

func (r *Repository) GetEvidence(ctx context.Context, evidenceID string) (entities.Evidence, error) {
	var row evidenceModel
	err := r.db.WithContext(ctx).
		Where("id = ?", strings.TrimSpace(evidenceID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Evidence{}, domainerrors.ErrEvidenceNotFound
		}
		return entities.Evidence{}, r.logError("consensus_repo_get_evidence_failed", err,
			"evidence_id", strings.TrimSpace(evidenceID),
		)
	}
	return row.toEntity(), nil
}

func (r *Repository) ListEvidence(ctx context.Context, filter ports.EvidenceFilter) ([]entities.EvidenceSummary, error) {
	tx := r.db.WithContext(ctx).Model(&evidenceModel{})
	if uploaderID := strings.TrimSpace(filter.UploaderID); uploaderID != "" {
		tx = tx.Where("uploader_id = ?", uploaderID)
	}
	if filter.Status != "" {
		tx = tx.Where("status = ?", string(filter.Status))
	}
	if filter.Limit > 0 {
		tx = tx.Limit(filter.Limit)
	}
	var rows []evidenceModel
	if err := tx.Order("created_at DESC").Order("id DESC").Find(&rows).Error; err != nil {
		return nil, r.logError("consensus_repo_list_evidence_failed", err,
			"uploader_id", strings.TrimSpace(filter.UploaderID),
			"status", string(filter.Status),
		)
	}
	if len(rows) == 0 {
		return []entities.EvidenceSummary{}, nil
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	var counts []struct {
		EvidenceID string
		Decision   string
		Total      int
	}
	if err := r.db.WithContext(ctx).
		Model(&verificationModel{}).
		Select("evidence_id, decision, COUNT(*) AS total").
		Where("evidence_id IN ?", ids).
		Group("evidence_id, decision").
		Scan(&counts).Error; err != nil {
		return nil, r.logError("consensus_repo_count_verifications_failed", err,
			"evidence_count", len(ids),
		)
	}
	tallies := make(map[string]entities.Tally, len(rows))
	for _, count := range counts {
		tally := tallies[count.EvidenceID]
		tally.Total += count.Total
		switch entities.Decision(count.Decision) {
		case entities.DecisionApproved:
			tally.Approved += count.Total
		case entities.DecisionRejected:
			tally.Rejected += count.Total
		case entities.DecisionFlagged:
			tally.Flagged += count.Total
		}
		tallies[count.EvidenceID] = tally
	}

	items := make([]entities.EvidenceSummary, 0, len(rows))
	for _, row := range rows {
		items = append(items, entities.EvidenceSummary{
			Evidence: row.toEntity(),
			Tally:    tallies[row.ID],
		})
	}
	return items, nil
}

func (r *Repository) ListEvidenceIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 200
	}
	var ids []string
	if err := r.db.WithContext(ctx).
		Model(&evidenceModel{}).
		Where("id > ?", strings.TrimSpace(afterID)).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return nil, r.logError("consensus_repo_list_evidence_ids_failed", err,
			"after_id", strings.TrimSpace(afterID),
		)
	}
	return ids, nil
}

func (r *Repository) ListVotesByEvidence(ctx context.Context, evidenceID string) ([]entities.Vote, error) {
	if _, err := r.GetEvidence(ctx, evidenceID); err != nil {
		return nil, err
	}
	var rows []verificationModel
	if err := r.db.WithContext(ctx).
		Where("evidence_id = ?", strings.TrimSpace(evidenceID)).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("consensus_repo_list_votes_failed", err,
			"evidence_id", strings.TrimSpace(evidenceID),
		)
	}
	return toVoteEntities(rows), nil
}

func (r *Repository) GetVote(ctx context.Context, voteID string) (entities.Vote, error) {
	var row verificationModel
	err := r.db.WithContext(ctx).
		Where("id = ?", strings.TrimSpace(voteID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Vote{}, domainerrors.ErrVoteNotFound
		}
		return entities.Vote{}, r.logError("consensus_repo_get_vote_failed", err, "vote_id", strings.TrimSpace(voteID))
	}
	return row.toEntity(), nil
}

func (r *Repository) GetVerifier(ctx context.Context, verifierID string) (entities.Verifier, error) {
	var row verifierModel
	err := r.db.WithContext(ctx).
		Where("id = ?", strings.TrimSpace(verifierID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Verifier{}, domainerrors.ErrVerifierNotFound
		}
		return entities.Verifier{}, r.logError("consensus_repo_get_verifier_failed", err,
			"verifier_id", strings.TrimSpace(verifierID),
		)
	}
	return entities.Verifier{VerifierID: row.ID, Active: row.Active}, nil
}

func (r *Repository) RecordAudit(ctx context.Context, entry entities.AuditEntry) error {
	row, err := auditLogModelFromEntity(entry)
	if err != nil {
		return r.logError("consensus_repo_audit_marshal_failed", err, "entity_id", entry.EntityID)
	}
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return r.logError("consensus_repo_audit_insert_failed", err,
			"action", row.Action,
			"entity_id", row.EntityID,
		)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, key string, now time.Time) (ports.IdempotencyRecord, bool, error) {
	var row idempotencyModel
	err := r.db.WithContext(ctx).
		Where("key = ?", strings.TrimSpace(key)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.IdempotencyRecord{}, false, nil
		}
		return ports.IdempotencyRecord{}, false, r.logError("consensus_repo_idempotency_get_failed", err,
			"idempotency_key", strings.TrimSpace(key),
		)
	}
	if !row.ExpiresAt.IsZero() && now.UTC().After(row.ExpiresAt.UTC()) {
		if err := r.db.WithContext(ctx).
			Where("key = ?", strings.TrimSpace(key)).
			Delete(&idempotencyModel{}).Error; err != nil {
			return ports.IdempotencyRecord{}, false, r.logError("consensus_repo_idempotency_expire_delete_failed", err,
				"idempotency_key", strings.TrimSpace(key),
			)
		}
		return ports.IdempotencyRecord{}, false, nil
	}
	return ports.IdempotencyRecord{
		Key:         row.Key,
		RequestHash: row.RequestHash,
		VoteID:      row.VoteID,
		ExpiresAt:   row.ExpiresAt.UTC(),
	}, true, nil
}

func (r *Repository) Put(ctx context.Context, record ports.IdempotencyRecord) error {
	row := idempotencyModel{
		Key:         strings.TrimSpace(record.Key),
		RequestHash: strings.TrimSpace(record.RequestHash),
		VoteID:      strings.TrimSpace(record.VoteID),
		ExpiresAt:   record.ExpiresAt.UTC(),
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return r.logError("consensus_repo_idempotency_put_failed", create.Error, "idempotency_key", row.Key)
	}
	if create.RowsAffected > 0 {
		return nil
	}

	var existing idempotencyModel
	if err := r.db.WithContext(ctx).
		Where("key = ?", row.Key).
		First(&existing).Error; err != nil {
		return r.logError("consensus_repo_idempotency_load_existing_failed", err, "idempotency_key", row.Key)
	}
	if existing.RequestHash != row.RequestHash || existing.VoteID != row.VoteID {
		return domainerrors.ErrIdempotencyKeyConflict
	}
	return nil
}

func (r *Repository) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []outboxModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", outboxStatusPending).
		Order("created_at ASC").
		Order("seq ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, r.logError("consensus_repo_list_pending_outbox_failed", err, "limit", limit)
	}
	items := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.OutboxMessage{
			OutboxID:     row.OutboxID,
			EventType:    row.EventType,
			PartitionKey: row.PartitionKey,
			Payload:      append([]byte(nil), row.Payload...),
			CreatedAt:    row.CreatedAt.UTC(),
		})
	}
	return items, nil
}

func (r *Repository) MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("outbox_id = ?", strings.TrimSpace(outboxID)).
		Updates(map[string]any{
			"status":       outboxStatusPublished,
			"published_at": publishedAt.UTC(),
		})
	if result.Error != nil {
		return r.logError("consensus_repo_mark_outbox_published_failed", result.Error,
			"outbox_id", strings.TrimSpace(outboxID),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrOutboxConflict
	}
	return nil
}

func (r *Repository) ReserveEvent(
	ctx context.Context,
	eventID string,
	payloadHash string,
	expiresAt time.Time,
) (bool, error) {
	row := eventDedupModel{
		EventID:     strings.TrimSpace(eventID),
		PayloadHash: strings.TrimSpace(payloadHash),
		ExpiresAt:   expiresAt.UTC(),
		ProcessedAt: time.Now().UTC(),
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return false, r.logError("consensus_repo_reserve_event_failed", create.Error,
			"event_id", strings.TrimSpace(eventID),
		)
	}
	if create.RowsAffected > 0 {
		return false, nil
	}

	var existing eventDedupModel
	if err := r.db.WithContext(ctx).
		Select("payload_hash").
		Where("event_id = ?", row.EventID).
		First(&existing).Error; err != nil {
		return false, r.logError("consensus_repo_reserve_event_load_existing_failed", err,
			"event_id", strings.TrimSpace(eventID),
		)
	}
	if existing.PayloadHash != row.PayloadHash {
		return false, domainerrors.ErrOutboxConflict
	}
	return true, nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", moduleName,
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("consensus repository operation failed", fields...)
	return err
}

// appendOutbox inserts an event on db, which is expected to be a transaction
// handle. Replaying the same event id with the same payload is a no-op.
func appendOutbox(db *gorm.DB, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	row := outboxModel{
		OutboxID:     strings.TrimSpace(envelope.EventID),
		EventType:    strings.TrimSpace(envelope.EventType),
		PartitionKey: strings.TrimSpace(envelope.PartitionKey),
		Payload:      payload,
		Status:       outboxStatusPending,
		CreatedAt:    envelope.OccurredAt.UTC(),
	}
	if row.OutboxID == "" {
		row.OutboxID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	create := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "outbox_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return create.Error
	}
	if create.RowsAffected > 0 {
		return nil
	}

	var existing outboxModel
	if err := db.Select("payload").
		Where("outbox_id = ?", row.OutboxID).
		First(&existing).Error; err != nil {
		return err
	}
	if !bytes.Equal(existing.Payload, row.Payload) {
		return domainerrors.ErrOutboxConflict
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// isWriteConflict reports errors that disappear when the whole transaction is
// retried: serialization failures, deadlocks and upsert races.
func isWriteConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "23505":
		return true
	default:
		return false
	}
}

var _ ports.EvidenceRepository = (*Repository)(nil)
var _ ports.Ledger = (*Repository)(nil)
var _ ports.VerifierDirectory = (*Repository)(nil)
var _ ports.AuditSink = (*Repository)(nil)
var _ ports.IdempotencyStore = (*Repository)(nil)
var _ ports.OutboxRepository = (*Repository)(nil)
var _ ports.EventDedupStore = (*Repository)(nil)

package postgresadapter

import (
	"context"
	"errors"
	"strings"
	"time"

	"crowdproof/contexts/verification/consensus-engine/domain/entities"
	domainerrors "crowdproof/contexts/verification/consensus-engine/domain/errors"
	"crowdproof/contexts/verification/consensus-engine/ports"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WithEvidenceLock runs fn in one transaction holding a row lock on the
// evidence row. Writers on the same evidence queue behind the lock; the
// upsert target keeps a single row per verifier if a lock is ever bypassed.
func (r *Repository) WithEvidenceLock(
	ctx context.Context,
	evidenceID string,
	fn func(ctx context.Context, tx ports.LedgerTx) error,
) error {
	evidenceID = strings.TrimSpace(evidenceID)
	err := r.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		var row evidenceModel
		if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", evidenceID).
			First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domainerrors.ErrEvidenceNotFound
			}
			return err
		}
		return fn(ctx, &ledgerTx{db: db, evidence: row.toEntity()})
	})
	if err == nil {
		return nil
	}
	if isWriteConflict(err) {
		r.logger.Warn("consensus ledger write conflict",
			"event", "consensus_repo_ledger_conflict",
			"module", moduleName,
			"layer", "adapter",
			"evidence_id", evidenceID,
			"error", err.Error(),
		)
		return domainerrors.ErrWriteConflict
	}
	if errors.Is(err, domainerrors.ErrNotFound) ||
		errors.Is(err, domainerrors.ErrValidation) ||
		errors.Is(err, domainerrors.ErrConflict) {
		return err
	}
	return r.logError("consensus_repo_ledger_tx_failed", err, "evidence_id", evidenceID)
}

type ledgerTx struct {
	db       *gorm.DB
	evidence entities.Evidence
}

func (tx *ledgerTx) Evidence() entities.Evidence {
	return tx.evidence
}

func (tx *ledgerTx) GetVoteByVerifier(ctx context.Context, verifierID string) (entities.Vote, bool, error) {
	var row verificationModel
	err := tx.db.WithContext(ctx).
		Where("evidence_id = ?", tx.evidence.EvidenceID).
		Where("verifier_id = ?", strings.TrimSpace(verifierID)).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Vote{}, false, nil
		}
		return entities.Vote{}, false, err
	}
	return row.toEntity(), true, nil
}

func (tx *ledgerTx) SaveVote(ctx context.Context, vote entities.Vote) error {
	row := verificationModelFromEntity(vote)
	if row.EvidenceID != tx.evidence.EvidenceID {
		return domainerrors.ErrValidation
	}
	return tx.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "evidence_id"}, {Name: "verifier_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"type":       row.Type,
			"decision":   row.Decision,
			"confidence": row.Confidence,
			"comment":    row.Comment,
			"updated_at": row.UpdatedAt,
		}),
	}).Create(&row).Error
}

func (tx *ledgerTx) ListVotes(ctx context.Context) ([]entities.Vote, error) {
	var rows []verificationModel
	if err := tx.db.WithContext(ctx).
		Where("evidence_id = ?", tx.evidence.EvidenceID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toVoteEntities(rows), nil
}

func (tx *ledgerTx) UpdateEvidenceStatus(ctx context.Context, status entities.EvidenceStatus, updatedAt time.Time) error {
	if !status.Valid() {
		return domainerrors.ErrValidation
	}
	result := tx.db.WithContext(ctx).
		Model(&evidenceModel{}).
		Where("id = ?", tx.evidence.EvidenceID).
		Updates(map[string]any{
			"status":     string(status),
			"updated_at": updatedAt.UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrEvidenceNotFound
	}
	tx.evidence.Status = status
	tx.evidence.UpdatedAt = updatedAt.UTC()
	return nil
}

func (tx *ledgerTx) AppendOutbox(ctx context.Context, event ports.EventEnvelope) error {
	return appendOutbox(tx.db.WithContext(ctx), event)
}

package postgresadapter

import (
	"encoding/json"
	"strings"
	"time"

	"crowdproof/contexts/verification/consensus-engine/domain/entities"

	"gorm.io/gorm"
)

const (
	outboxStatusPending   = "pending"
	outboxStatusPublished = "published"
)

// Migrate creates or updates every table the repository reads and writes.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&evidenceModel{},
		&verificationModel{},
		&verifierModel{},
		&auditLogModel{},
		&idempotencyModel{},
		&outboxModel{},
		&eventDedupModel{},
	)
}

type evidenceModel struct {
	ID          string    `gorm:"column:id;primaryKey"`
	ContentHash string    `gorm:"column:content_hash;uniqueIndex:idx_evidence_content_hash"`
	Status      string    `gorm:"column:status;index:idx_evidence_status"`
	Title       string    `gorm:"column:title"`
	Description string    `gorm:"column:description"`
	MediaType   string    `gorm:"column:media_type"`
	UploaderID  string    `gorm:"column:uploader_id;index:idx_evidence_uploader"`
	CreatedAt   time.Time `gorm:"column:created_at;index:idx_evidence_created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (evidenceModel) TableName() string {
	return "evidence"
}

func evidenceModelFromEntity(evidence entities.Evidence) evidenceModel {
	row := evidenceModel{
		ID:          strings.TrimSpace(evidence.EvidenceID),
		ContentHash: strings.TrimSpace(evidence.ContentHash),
		Status:      string(evidence.Status),
		Title:       evidence.Title,
		Description: evidence.Description,
		MediaType:   string(evidence.MediaType),
		UploaderID:  strings.TrimSpace(evidence.UploaderID),
		CreatedAt:   evidence.CreatedAt.UTC(),
		UpdatedAt:   evidence.UpdatedAt.UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = row.CreatedAt
	}
	return row
}

func (m evidenceModel) toEntity() entities.Evidence {
	return entities.Evidence{
		EvidenceID:  m.ID,
		ContentHash: m.ContentHash,
		Status:      entities.EvidenceStatus(m.Status),
		Title:       m.Title,
		Description: m.Description,
		MediaType:   entities.MediaType(m.MediaType),
		UploaderID:  m.UploaderID,
		CreatedAt:   m.CreatedAt.UTC(),
		UpdatedAt:   m.UpdatedAt.UTC(),
	}
}

// verificationModel holds one row per (evidence, verifier); the unique index
// is the upsert target.
type verificationModel struct {
	ID         string    `gorm:"column:id;primaryKey"`
	EvidenceID string    `gorm:"column:evidence_id;uniqueIndex:idx_verifications_evidence_verifier,priority:1"`
	VerifierID string    `gorm:"column:verifier_id;uniqueIndex:idx_verifications_evidence_verifier,priority:2"`
	Type       string    `gorm:"column:type"`
	Decision   string    `gorm:"column:decision"`
	Confidence int       `gorm:"column:confidence"`
	Comment    string    `gorm:"column:comment"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (verificationModel) TableName() string {
	return "verifications"
}

func verificationModelFromEntity(vote entities.Vote) verificationModel {
	row := verificationModel{
		ID:         strings.TrimSpace(vote.VoteID),
		EvidenceID: strings.TrimSpace(vote.EvidenceID),
		VerifierID: strings.TrimSpace(vote.VerifierID),
		Type:       string(vote.Type),
		Decision:   string(vote.Decision),
		Confidence: vote.Confidence,
		Comment:    vote.Comment,
		CreatedAt:  vote.CreatedAt.UTC(),
		UpdatedAt:  vote.UpdatedAt.UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = row.CreatedAt
	}
	return row
}

func (m verificationModel) toEntity() entities.Vote {
	return entities.Vote{
		VoteID:     m.ID,
		EvidenceID: m.EvidenceID,
		VerifierID: m.VerifierID,
		Type:       entities.VerificationType(m.Type),
		Decision:   entities.Decision(m.Decision),
		Confidence: m.Confidence,
		Comment:    m.Comment,
		CreatedAt:  m.CreatedAt.UTC(),
		UpdatedAt:  m.UpdatedAt.UTC(),
	}
}

func toVoteEntities(rows []verificationModel) []entities.Vote {
	items := make([]entities.Vote, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items
}

// verifierModel is the local projection of the identity provider.
type verifierModel struct {
	ID     string `gorm:"column:id;primaryKey"`
	Active bool   `gorm:"column:active"`
}

func (verifierModel) TableName() string {
	return "verifiers"
}

type auditLogModel struct {
	ID         string    `gorm:"column:id;primaryKey"`
	ActorID    string    `gorm:"column:actor_id;index:idx_audit_logs_actor"`
	Action     string    `gorm:"column:action"`
	EntityType string    `gorm:"column:entity_type"`
	EntityID   string    `gorm:"column:entity_id;index:idx_audit_logs_entity"`
	Details    []byte    `gorm:"column:details;type:jsonb"`
	IPAddress  string    `gorm:"column:ip_address"`
	UserAgent  string    `gorm:"column:user_agent"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (auditLogModel) TableName() string {
	return "audit_logs"
}

func auditLogModelFromEntity(entry entities.AuditEntry) (auditLogModel, error) {
	details := []byte("{}")
	if len(entry.Values) > 0 {
		raw, err := json.Marshal(entry.Values)
		if err != nil {
			return auditLogModel{}, err
		}
		details = raw
	}
	row := auditLogModel{
		ID:         strings.TrimSpace(entry.AuditID),
		ActorID:    strings.TrimSpace(entry.ActorID),
		Action:     string(entry.Action),
		EntityType: entry.EntityType,
		EntityID:   strings.TrimSpace(entry.EntityID),
		Details:    details,
		IPAddress:  strings.TrimSpace(entry.IPAddress),
		UserAgent:  strings.TrimSpace(entry.UserAgent),
		CreatedAt:  entry.CreatedAt.UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	return row, nil
}

type idempotencyModel struct {
	Key         string    `gorm:"column:key;primaryKey"`
	RequestHash string    `gorm:"column:request_hash"`
	VoteID      string    `gorm:"column:vote_id"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
}

func (idempotencyModel) TableName() string {
	return "consensus_idempotency"
}

// Seq orders rows written in the same transaction, which share created_at.
type outboxModel struct {
	OutboxID     string     `gorm:"column:outbox_id;primaryKey"`
	Seq          int64      `gorm:"column:seq;autoIncrement"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      []byte     `gorm:"column:payload"`
	Status       string     `gorm:"column:status;index:idx_consensus_outbox_status"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
}

func (outboxModel) TableName() string {
	return "consensus_outbox"
}

type eventDedupModel struct {
	EventID     string    `gorm:"column:event_id;primaryKey"`
	PayloadHash string    `gorm:"column:payload_hash"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
	ProcessedAt time.Time `gorm:"column:processed_at"`
}

func (eventDedupModel) TableName() string {
	return "consensus_event_dedup"
}

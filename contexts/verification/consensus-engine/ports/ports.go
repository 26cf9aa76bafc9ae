package ports

import (
	"context"
	"time"

	"crowdproof/contexts/verification/consensus-engine/domain/entities"
	eventsv1 "crowdproof/contracts/gen/events/v1"
)

// EvidenceRepository is the read side of the evidence store plus evidence
// creation. Vote and status writes go through Ledger only.
type EvidenceRepository interface {
	CreateEvidenceWithOutbox(ctx context.Context, evidence entities.Evidence, event EventEnvelope) error
	GetEvidence(ctx context.Context, evidenceID string) (entities.Evidence, error)
	ListEvidence(ctx context.Context, filter EvidenceFilter) ([]entities.EvidenceSummary, error)
	ListEvidenceIDs(ctx context.Context, afterID string, limit int) ([]string, error)
	ListVotesByEvidence(ctx context.Context, evidenceID string) ([]entities.Vote, error)
	GetVote(ctx context.Context, voteID string) (entities.Vote, error)
}

type EvidenceFilter struct {
	UploaderID string
	Status     entities.EvidenceStatus
	Limit      int
}

// Ledger serializes writers per evidence item. fn runs while the caller holds
// exclusive write access to evidenceID; everything written through tx is
// committed atomically when fn returns nil and discarded otherwise. Different
// evidence items never block each other.
type Ledger interface {
	WithEvidenceLock(ctx context.Context, evidenceID string, fn func(ctx context.Context, tx LedgerTx) error) error
}

type LedgerTx interface {
	// Evidence is the row as read under the lock.
	Evidence() entities.Evidence
	GetVoteByVerifier(ctx context.Context, verifierID string) (entities.Vote, bool, error)
	// SaveVote inserts or overwrites the vote for (EvidenceID, VerifierID).
	SaveVote(ctx context.Context, vote entities.Vote) error
	// ListVotes returns the full vote set including writes made in this tx.
	ListVotes(ctx context.Context) ([]entities.Vote, error)
	UpdateEvidenceStatus(ctx context.Context, status entities.EvidenceStatus, updatedAt time.Time) error
	AppendOutbox(ctx context.Context, event EventEnvelope) error
}

// VerifierDirectory is the identity provider view of verifiers.
type VerifierDirectory interface {
	GetVerifier(ctx context.Context, verifierID string) (entities.Verifier, error)
}

// AuditSink receives compliance records after commit. Errors are reported to
// the caller but never undo the committed change.
type AuditSink interface {
	RecordAudit(ctx context.Context, entry entities.AuditEntry) error
}

type IdempotencyRecord struct {
	Key         string
	RequestHash string
	VoteID      string
	ExpiresAt   time.Time
}

type IdempotencyStore interface {
	Get(ctx context.Context, key string, now time.Time) (IdempotencyRecord, bool, error)
	Put(ctx context.Context, record IdempotencyRecord) error
}

type Metrics interface {
	VoteRecorded(decision entities.Decision, revision bool)
	StatusTransition(from entities.EvidenceStatus, to entities.EvidenceStatus)
	ConflictRetry()
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

type EventEnvelope = eventsv1.Envelope

type OutboxMessage struct {
	OutboxID     string
	EventType    string
	PartitionKey string
	Payload      []byte
	CreatedAt    time.Time
}

type OutboxRepository interface {
	ListPendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event EventEnvelope) error
}

type EventSubscriber interface {
	Subscribe(
		ctx context.Context,
		topic string,
		consumerGroup string,
		handler func(context.Context, EventEnvelope) error,
	) error
}

type EventDedupStore interface {
	ReserveEvent(ctx context.Context, eventID string, payloadHash string, expiresAt time.Time) (bool, error)
}

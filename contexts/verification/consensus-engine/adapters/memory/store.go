package memory

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"crowdproof/contexts/verification/consensus-engine/domain/entities"
	domainerrors "crowdproof/contexts/verification/consensus-engine/domain/errors"
	"crowdproof/contexts/verification/consensus-engine/domain/services"
	"crowdproof/contexts/verification/consensus-engine/ports"

	"github.com/google/uuid"
)

type outboxRecord struct {
	message   ports.OutboxMessage
	seq       int64
	published bool
}

type dedupRecord struct {
	payloadHash string
	expiresAt   time.Time
}

type voteKey struct {
	evidenceID string
	verifierID string
}

// Store is the in-process implementation of every consensus-engine port.
// mu guards the maps; the per-evidence mutexes in locks serialize ledger
// transactions on one evidence item without blocking the others.
type Store struct {
	mu sync.RWMutex

	evidence    map[string]entities.Evidence
	votes       map[voteKey]entities.Vote
	verifiers   map[string]entities.Verifier
	idempotency map[string]ports.IdempotencyRecord
	outbox      map[string]outboxRecord
	outboxSeq   int64
	eventDedup  map[string]dedupRecord
	audit       []entities.AuditEntry

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewStore() *Store {
	return &Store{
		evidence:    make(map[string]entities.Evidence),
		votes:       make(map[voteKey]entities.Vote),
		verifiers:   make(map[string]entities.Verifier),
		idempotency: make(map[string]ports.IdempotencyRecord),
		outbox:      make(map[string]outboxRecord),
		eventDedup:  make(map[string]dedupRecord),
		locks:       make(map[string]*sync.Mutex),
	}
}

func (s *Store) SetVerifier(verifier entities.Verifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	verifier.VerifierID = strings.TrimSpace(verifier.VerifierID)
	s.verifiers[verifier.VerifierID] = verifier
}

// SetEvidence writes an evidence row directly, bypassing registration.
func (s *Store) SetEvidence(evidence entities.Evidence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evidence.EvidenceID = strings.TrimSpace(evidence.EvidenceID)
	s.evidence[evidence.EvidenceID] = evidence
}

func (s *Store) AuditEntries() []entities.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]entities.AuditEntry(nil), s.audit...)
}

func (s *Store) GetVerifier(_ context.Context, verifierID string) (entities.Verifier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	verifier, ok := s.verifiers[strings.TrimSpace(verifierID)]
	if !ok {
		return entities.Verifier{}, domainerrors.ErrVerifierNotFound
	}
	return verifier, nil
}

func (s *Store) CreateEvidenceWithOutbox(_ context.Context, evidence entities.Evidence, event ports.EventEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	evidence.EvidenceID = strings.TrimSpace(evidence.EvidenceID)
	if _, exists := s.evidence[evidence.EvidenceID]; exists {
		return domainerrors.ErrDuplicateEvidence
	}
	for _, existing := range s.evidence {
		if existing.ContentHash == evidence.ContentHash {
			return domainerrors.ErrDuplicateEvidence
		}
	}
	record, err := s.newOutboxRecordLocked(event)
	if err != nil {
		return err
	}
	if _, exists := s.outbox[record.message.OutboxID]; exists {
		return domainerrors.ErrOutboxConflict
	}
	s.evidence[evidence.EvidenceID] = evidence
	s.outbox[record.message.OutboxID] = record
	return nil
}

func (s *Store) GetEvidence(_ context.Context, evidenceID string) (entities.Evidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evidence, ok := s.evidence[strings.TrimSpace(evidenceID)]
	if !ok {
		return entities.Evidence{}, domainerrors.ErrEvidenceNotFound
	}
	return evidence, nil
}

func (s *Store) ListEvidence(_ context.Context, filter ports.EvidenceFilter) ([]entities.EvidenceSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uploaderID := strings.TrimSpace(filter.UploaderID)
	items := make([]entities.Evidence, 0, len(s.evidence))
	for _, evidence := range s.evidence {
		if uploaderID != "" && evidence.UploaderID != uploaderID {
			continue
		}
		if filter.Status != "" && evidence.Status != filter.Status {
			continue
		}
		items = append(items, evidence)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].EvidenceID > items[j].EvidenceID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	if filter.Limit > 0 && len(items) > filter.Limit {
		items = items[:filter.Limit]
	}

	summaries := make([]entities.EvidenceSummary, 0, len(items))
	for _, evidence := range items {
		summaries = append(summaries, entities.EvidenceSummary{
			Evidence: evidence,
			Tally:    services.CountVotes(s.votesForLocked(evidence.EvidenceID)),
		})
	}
	return summaries, nil
}

func (s *Store) ListEvidenceIDs(_ context.Context, afterID string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	afterID = strings.TrimSpace(afterID)
	ids := make([]string, 0, len(s.evidence))
	for id := range s.evidence {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *Store) ListVotesByEvidence(_ context.Context, evidenceID string) ([]entities.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evidenceID = strings.TrimSpace(evidenceID)
	if _, ok := s.evidence[evidenceID]; !ok {
		return nil, domainerrors.ErrEvidenceNotFound
	}
	return s.votesForLocked(evidenceID), nil
}

func (s *Store) GetVote(_ context.Context, voteID string) (entities.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	voteID = strings.TrimSpace(voteID)
	for _, vote := range s.votes {
		if vote.VoteID == voteID {
			return vote, nil
		}
	}
	return entities.Vote{}, domainerrors.ErrVoteNotFound
}

// WithEvidenceLock stages every write made through the tx and applies them in
// one step after fn succeeds.
func (s *Store) WithEvidenceLock(
	ctx context.Context,
	evidenceID string,
	fn func(ctx context.Context, tx ports.LedgerTx) error,
) error {
	evidenceID = strings.TrimSpace(evidenceID)
	lock := s.evidenceLock(evidenceID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	evidence, err := s.GetEvidence(ctx, evidenceID)
	if err != nil {
		return err
	}
	tx := &ledgerTx{
		store:    s,
		evidence: evidence,
		staged:   make(map[string]entities.Vote),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *ledgerTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]outboxRecord, 0, len(tx.outbox))
	for _, event := range tx.outbox {
		record, err := s.newOutboxRecordLocked(event)
		if err != nil {
			return err
		}
		if _, exists := s.outbox[record.message.OutboxID]; exists {
			return domainerrors.ErrOutboxConflict
		}
		records = append(records, record)
	}

	for _, vote := range tx.staged {
		s.votes[voteKey{evidenceID: vote.EvidenceID, verifierID: vote.VerifierID}] = vote
	}
	if tx.statusChanged {
		s.evidence[tx.evidence.EvidenceID] = tx.evidence
	}
	for _, record := range records {
		s.outbox[record.message.OutboxID] = record
	}
	return nil
}

func (s *Store) evidenceLock(evidenceID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.locks[evidenceID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[evidenceID] = lock
	}
	return lock
}

func (s *Store) votesForLocked(evidenceID string) []entities.Vote {
	items := make([]entities.Vote, 0)
	for key, vote := range s.votes {
		if key.evidenceID == evidenceID {
			items = append(items, vote)
		}
	}
	sortVotes(items)
	return items
}

type ledgerTx struct {
	store         *Store
	evidence      entities.Evidence
	staged        map[string]entities.Vote
	statusChanged bool
	outbox        []ports.EventEnvelope
}

func (tx *ledgerTx) Evidence() entities.Evidence {
	return tx.evidence
}

func (tx *ledgerTx) GetVoteByVerifier(_ context.Context, verifierID string) (entities.Vote, bool, error) {
	verifierID = strings.TrimSpace(verifierID)
	if vote, ok := tx.staged[verifierID]; ok {
		return vote, true, nil
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	vote, ok := tx.store.votes[voteKey{evidenceID: tx.evidence.EvidenceID, verifierID: verifierID}]
	return vote, ok, nil
}

func (tx *ledgerTx) SaveVote(_ context.Context, vote entities.Vote) error {
	if strings.TrimSpace(vote.EvidenceID) != tx.evidence.EvidenceID {
		return domainerrors.ErrValidation
	}
	vote.VerifierID = strings.TrimSpace(vote.VerifierID)
	tx.staged[vote.VerifierID] = vote
	return nil
}

func (tx *ledgerTx) ListVotes(_ context.Context) ([]entities.Vote, error) {
	tx.store.mu.RLock()
	committed := tx.store.votesForLocked(tx.evidence.EvidenceID)
	tx.store.mu.RUnlock()

	items := make([]entities.Vote, 0, len(committed)+len(tx.staged))
	for _, vote := range committed {
		if _, overwritten := tx.staged[vote.VerifierID]; overwritten {
			continue
		}
		items = append(items, vote)
	}
	for _, vote := range tx.staged {
		items = append(items, vote)
	}
	sortVotes(items)
	return items, nil
}

func (tx *ledgerTx) UpdateEvidenceStatus(_ context.Context, status entities.EvidenceStatus, updatedAt time.Time) error {
	if !status.Valid() {
		return domainerrors.ErrValidation
	}
	tx.evidence.Status = status
	tx.evidence.UpdatedAt = updatedAt.UTC()
	tx.statusChanged = true
	return nil
}

func (tx *ledgerTx) AppendOutbox(_ context.Context, event ports.EventEnvelope) error {
	tx.outbox = append(tx.outbox, event)
	return nil
}

func (s *Store) Get(_ context.Context, key string, now time.Time) (ports.IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key = strings.TrimSpace(key)
	record, ok := s.idempotency[key]
	if !ok {
		return ports.IdempotencyRecord{}, false, nil
	}
	if !record.ExpiresAt.IsZero() && now.UTC().After(record.ExpiresAt) {
		delete(s.idempotency, key)
		return ports.IdempotencyRecord{}, false, nil
	}
	return record, true, nil
}

func (s *Store) Put(_ context.Context, record ports.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.TrimSpace(record.Key)
	existing, exists := s.idempotency[key]
	if exists {
		if existing.RequestHash != record.RequestHash || existing.VoteID != record.VoteID {
			return domainerrors.ErrIdempotencyKeyConflict
		}
		return nil
	}
	s.idempotency[key] = ports.IdempotencyRecord{
		Key:         key,
		RequestHash: strings.TrimSpace(record.RequestHash),
		VoteID:      strings.TrimSpace(record.VoteID),
		ExpiresAt:   record.ExpiresAt.UTC(),
	}
	return nil
}

func (s *Store) RecordAudit(_ context.Context, entry entities.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(entry.AuditID) == "" {
		entry.AuditID = uuid.NewString()
	}
	s.audit = append(s.audit, entry)
	return nil
}

func (s *Store) newOutboxRecordLocked(envelope ports.EventEnvelope) (outboxRecord, error) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return outboxRecord{}, err
	}
	outboxID := strings.TrimSpace(envelope.EventID)
	if outboxID == "" {
		outboxID = uuid.NewString()
	}
	createdAt := envelope.OccurredAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	s.outboxSeq++
	return outboxRecord{
		message: ports.OutboxMessage{
			OutboxID:     outboxID,
			EventType:    strings.TrimSpace(envelope.EventType),
			PartitionKey: strings.TrimSpace(envelope.PartitionKey),
			Payload:      payload,
			CreatedAt:    createdAt,
		},
		seq: s.outboxSeq,
	}, nil
}

func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows := make([]outboxRecord, 0, len(s.outbox))
	for _, row := range s.outbox {
		if row.published {
			continue
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].seq < rows[j].seq
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	items := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.message)
	}
	return items, nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, outboxID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.outbox[strings.TrimSpace(outboxID)]
	if !ok {
		return domainerrors.ErrOutboxConflict
	}
	row.published = true
	s.outbox[strings.TrimSpace(outboxID)] = row
	return nil
}

func (s *Store) ReserveEvent(
	_ context.Context,
	eventID string,
	payloadHash string,
	expiresAt time.Time,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.TrimSpace(eventID)
	existing, ok := s.eventDedup[key]
	if ok {
		if !existing.expiresAt.IsZero() && time.Now().UTC().After(existing.expiresAt.UTC()) {
			delete(s.eventDedup, key)
		} else {
			if existing.payloadHash != strings.TrimSpace(payloadHash) {
				return false, domainerrors.ErrOutboxConflict
			}
			return true, nil
		}
	}

	s.eventDedup[key] = dedupRecord{
		payloadHash: strings.TrimSpace(payloadHash),
		expiresAt:   expiresAt.UTC(),
	}
	return false, nil
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func sortVotes(items []entities.Vote) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].VoteID < items[j].VoteID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}

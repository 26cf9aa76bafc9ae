package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"crowdproof/contexts/verification/consensus-engine/domain/entities"
	domainerrors "crowdproof/contexts/verification/consensus-engine/domain/errors"
	"crowdproof/contexts/verification/consensus-engine/ports"
)

func seedEvidence(store *Store, id string, createdAt time.Time) {
	store.SetEvidence(entities.Evidence{
		EvidenceID:  id,
		ContentHash: id + "-hash",
		Status:      entities.EvidenceStatusPending,
		Title:       id,
		MediaType:   entities.MediaTypeImage,
		UploaderID:  "uploader-1",
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	})
}

func TestWithEvidenceLockCommitsStagedWrites(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	seedEvidence(store, "ev-1", now)

	err := store.WithEvidenceLock(ctx, "ev-1", func(ctx context.Context, tx ports.LedgerTx) error {
		if err := tx.SaveVote(ctx, entities.Vote{
			VoteID:     "vote-1",
			EvidenceID: "ev-1",
			VerifierID: "v1",
			Decision:   entities.DecisionApproved,
			CreatedAt:  now,
			UpdatedAt:  now,
		}); err != nil {
			return err
		}
		votes, err := tx.ListVotes(ctx)
		if err != nil {
			return err
		}
		if len(votes) != 1 {
			t.Fatalf("expected staged vote to be visible inside tx, got %d", len(votes))
		}
		if err := tx.UpdateEvidenceStatus(ctx, entities.EvidenceStatusFlagged, now); err != nil {
			return err
		}
		return tx.AppendOutbox(ctx, ports.EventEnvelope{EventID: "evt-1", EventType: "verification.submitted", OccurredAt: now})
	})
	if err != nil {
		t.Fatalf("expected commit, got %v", err)
	}

	votes, err := store.ListVotesByEvidence(ctx, "ev-1")
	if err != nil || len(votes) != 1 {
		t.Fatalf("expected one committed vote, got %d (%v)", len(votes), err)
	}
	evidence, _ := store.GetEvidence(ctx, "ev-1")
	if evidence.Status != entities.EvidenceStatusFlagged {
		t.Fatalf("expected FLAGGED, got %s", evidence.Status)
	}
	pending, _ := store.ListPendingOutbox(ctx, 10)
	if len(pending) != 1 || pending[0].OutboxID != "evt-1" {
		t.Fatalf("expected evt-1 pending, got %+v", pending)
	}
}

func TestWithEvidenceLockDiscardsWritesOnError(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	seedEvidence(store, "ev-1", time.Now())
	boom := errors.New("boom")

	err := store.WithEvidenceLock(ctx, "ev-1", func(ctx context.Context, tx ports.LedgerTx) error {
		_ = tx.SaveVote(ctx, entities.Vote{VoteID: "vote-1", EvidenceID: "ev-1", VerifierID: "v1", Decision: entities.DecisionRejected})
		_ = tx.UpdateEvidenceStatus(ctx, entities.EvidenceStatusRejected, time.Now())
		_ = tx.AppendOutbox(ctx, ports.EventEnvelope{EventID: "evt-1"})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	votes, _ := store.ListVotesByEvidence(ctx, "ev-1")
	if len(votes) != 0 {
		t.Fatalf("expected no votes after rollback, got %d", len(votes))
	}
	evidence, _ := store.GetEvidence(ctx, "ev-1")
	if evidence.Status != entities.EvidenceStatusPending {
		t.Fatalf("expected PENDING after rollback, got %s", evidence.Status)
	}
	pending, _ := store.ListPendingOutbox(ctx, 10)
	if len(pending) != 0 {
		t.Fatalf("expected empty outbox after rollback, got %d", len(pending))
	}
}

func TestWithEvidenceLockRejectsForeignVotesAndBadStatus(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	seedEvidence(store, "ev-1", time.Now())

	err := store.WithEvidenceLock(ctx, "ev-1", func(ctx context.Context, tx ports.LedgerTx) error {
		return tx.SaveVote(ctx, entities.Vote{VoteID: "x", EvidenceID: "ev-2", VerifierID: "v1"})
	})
	if !errors.Is(err, domainerrors.ErrValidation) {
		t.Fatalf("expected validation error for foreign vote, got %v", err)
	}

	err = store.WithEvidenceLock(ctx, "ev-1", func(ctx context.Context, tx ports.LedgerTx) error {
		return tx.UpdateEvidenceStatus(ctx, "ARCHIVED", time.Now())
	})
	if !errors.Is(err, domainerrors.ErrValidation) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}

	err = store.WithEvidenceLock(ctx, "missing", func(context.Context, ports.LedgerTx) error { return nil })
	if !errors.Is(err, domainerrors.ErrEvidenceNotFound) {
		t.Fatalf("expected evidence not found, got %v", err)
	}
}

func TestWithEvidenceLockHonorsCancelledContext(t *testing.T) {
	store := NewStore()
	seedEvidence(store, "ev-1", time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := store.WithEvidenceLock(ctx, "ev-1", func(context.Context, ports.LedgerTx) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("expected cancellation before fn, got err=%v called=%v", err, called)
	}
}

func TestListEvidenceNewestFirstWithFilters(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seedEvidence(store, "ev-a", base)
	seedEvidence(store, "ev-b", base.Add(time.Hour))
	seedEvidence(store, "ev-c", base.Add(time.Hour))
	store.SetEvidence(entities.Evidence{
		EvidenceID:  "ev-d",
		ContentHash: "ev-d-hash",
		Status:      entities.EvidenceStatusVerified,
		UploaderID:  "uploader-2",
		CreatedAt:   base.Add(2 * time.Hour),
	})

	items, err := store.ListEvidence(ctx, ports.EvidenceFilter{Limit: 10})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	got := make([]string, 0, len(items))
	for _, item := range items {
		got = append(got, item.Evidence.EvidenceID)
	}
	want := []string{"ev-d", "ev-c", "ev-b", "ev-a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}

	items, _ = store.ListEvidence(ctx, ports.EvidenceFilter{UploaderID: "uploader-2", Limit: 10})
	if len(items) != 1 || items[0].Evidence.EvidenceID != "ev-d" {
		t.Fatalf("expected uploader filter to return ev-d, got %+v", items)
	}
	items, _ = store.ListEvidence(ctx, ports.EvidenceFilter{Status: entities.EvidenceStatusPending, Limit: 2})
	if len(items) != 2 {
		t.Fatalf("expected limit to cap results at 2, got %d", len(items))
	}
}

func TestListEvidenceIDsPages(t *testing.T) {
	store := NewStore()
	for _, id := range []string{"ev-3", "ev-1", "ev-2"} {
		seedEvidence(store, id, time.Now())
	}
	page, _ := store.ListEvidenceIDs(context.Background(), "", 2)
	if len(page) != 2 || page[0] != "ev-1" || page[1] != "ev-2" {
		t.Fatalf("unexpected first page %v", page)
	}
	page, _ = store.ListEvidenceIDs(context.Background(), "ev-2", 2)
	if len(page) != 1 || page[0] != "ev-3" {
		t.Fatalf("unexpected second page %v", page)
	}
}

func TestIdempotencyRecords(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Now().UTC()
	record := ports.IdempotencyRecord{Key: "k1", RequestHash: "h1", VoteID: "vote-1", ExpiresAt: now.Add(time.Hour)}

	if err := store.Put(ctx, record); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := store.Put(ctx, record); err != nil {
		t.Fatalf("identical put should be a no-op, got %v", err)
	}
	record.RequestHash = "h2"
	if err := store.Put(ctx, record); !errors.Is(err, domainerrors.ErrIdempotencyKeyConflict) {
		t.Fatalf("expected idempotency conflict, got %v", err)
	}

	if _, found, _ := store.Get(ctx, "k1", now); !found {
		t.Fatalf("expected live record")
	}
	if _, found, _ := store.Get(ctx, "k1", now.Add(2*time.Hour)); found {
		t.Fatalf("expected expired record to be dropped")
	}
}

func TestReserveEventDedupes(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	expires := time.Now().Add(time.Hour)

	seen, err := store.ReserveEvent(ctx, "evt-1", "hash-a", expires)
	if err != nil || seen {
		t.Fatalf("expected first reservation, got seen=%v err=%v", seen, err)
	}
	seen, err = store.ReserveEvent(ctx, "evt-1", "hash-a", expires)
	if err != nil || !seen {
		t.Fatalf("expected duplicate to be reported, got seen=%v err=%v", seen, err)
	}
	if _, err := store.ReserveEvent(ctx, "evt-1", "hash-b", expires); !errors.Is(err, domainerrors.ErrOutboxConflict) {
		t.Fatalf("expected payload mismatch conflict, got %v", err)
	}
}

func TestOutboxPublishedRowsLeavePendingList(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	seedEvidence(store, "ev-1", time.Now())
	for _, id := range []string{"evt-1", "evt-2", "evt-3"} {
		eventID := id
		if err := store.WithEvidenceLock(ctx, "ev-1", func(ctx context.Context, tx ports.LedgerTx) error {
			return tx.AppendOutbox(ctx, ports.EventEnvelope{EventID: eventID, EventType: "verification.submitted"})
		}); err != nil {
			t.Fatalf("append %s failed: %v", id, err)
		}
	}

	if err := store.MarkOutboxPublished(ctx, "evt-1", time.Now()); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	pending, _ := store.ListPendingOutbox(ctx, 10)
	if len(pending) != 2 || pending[0].OutboxID != "evt-2" || pending[1].OutboxID != "evt-3" {
		t.Fatalf("expected evt-2, evt-3 in commit order, got %+v", pending)
	}

	err := store.WithEvidenceLock(ctx, "ev-1", func(ctx context.Context, tx ports.LedgerTx) error {
		return tx.AppendOutbox(ctx, ports.EventEnvelope{EventID: "evt-2"})
	})
	if !errors.Is(err, domainerrors.ErrOutboxConflict) {
		t.Fatalf("expected duplicate event id conflict, got %v", err)
	}
}

func TestCreateEvidenceRejectsDuplicates(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	evidence := entities.Evidence{EvidenceID: "ev-1", ContentHash: "hash-1", Status: entities.EvidenceStatusPending}

	if err := store.CreateEvidenceWithOutbox(ctx, evidence, ports.EventEnvelope{EventID: "evt-1"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	evidence.EvidenceID = "ev-2"
	if err := store.CreateEvidenceWithOutbox(ctx, evidence, ports.EventEnvelope{EventID: "evt-2"}); !errors.Is(err, domainerrors.ErrDuplicateEvidence) {
		t.Fatalf("expected duplicate hash, got %v", err)
	}
	if _, err := store.GetEvidence(ctx, "ev-2"); !errors.Is(err, domainerrors.ErrEvidenceNotFound) {
		t.Fatalf("expected ev-2 to be absent, got %v", err)
	}
}

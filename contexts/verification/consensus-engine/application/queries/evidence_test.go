package queries

import (
	"context"
	"testing"
	"time"

	"crowdproof/contexts/verification/consensus-engine/adapters/memory"
	"crowdproof/contexts/verification/consensus-engine/domain/entities"
	domainerrors "crowdproof/contexts/verification/consensus-engine/domain/errors"
	"crowdproof/contexts/verification/consensus-engine/ports"

	"github.com/stretchr/testify/require"
)

func seededQueries(t *testing.T) (*memory.Store, EvidenceQueries) {
	t.Helper()
	store := memory.NewStore()
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"ev-1", "ev-2", "ev-3"} {
		store.SetEvidence(entities.Evidence{
			EvidenceID:  id,
			ContentHash: id + "-hash",
			Status:      entities.EvidenceStatusPending,
			UploaderID:  "uploader-1",
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
	}

	decisions := []entities.Decision{entities.DecisionApproved, entities.DecisionRejected, entities.DecisionFlagged}
	err := store.WithEvidenceLock(context.Background(), "ev-2", func(ctx context.Context, tx ports.LedgerTx) error {
		for i, decision := range decisions {
			if err := tx.SaveVote(ctx, entities.Vote{
				VoteID:     "vote-" + string(decision),
				EvidenceID: "ev-2",
				VerifierID: "v" + string(rune('1'+i)),
				Decision:   decision,
				CreatedAt:  base.Add(time.Duration(i) * time.Second),
			}); err != nil {
				return err
			}
		}
		return tx.UpdateEvidenceStatus(ctx, entities.EvidenceStatusFlagged, base)
	})
	require.NoError(t, err)
	return store, EvidenceQueries{Evidence: store}
}

func TestGetStatusAndEvidence(t *testing.T) {
	_, q := seededQueries(t)
	ctx := context.Background()

	status, err := q.GetStatus(ctx, " ev-2 ")
	require.NoError(t, err)
	require.Equal(t, entities.EvidenceStatusFlagged, status)

	summary, err := q.GetEvidence(ctx, "ev-2")
	require.NoError(t, err)
	require.Equal(t, entities.Tally{Total: 3, Approved: 1, Rejected: 1, Flagged: 1}, summary.Tally)

	_, err = q.GetStatus(ctx, "missing")
	require.ErrorIs(t, err, domainerrors.ErrEvidenceNotFound)
	_, err = q.GetEvidence(ctx, "")
	require.ErrorIs(t, err, domainerrors.ErrEvidenceIDRequired)
}

func TestListVerificationsReturnsCurrentVoteSet(t *testing.T) {
	_, q := seededQueries(t)

	list, err := q.ListVerifications(context.Background(), "ev-2")
	require.NoError(t, err)
	require.Equal(t, entities.EvidenceStatusFlagged, list.Status)
	require.Len(t, list.Votes, 3)
	require.Equal(t, entities.DecisionApproved, list.Votes[0].Decision)
	require.Equal(t, 3, list.Tally.Total)

	empty, err := q.ListVerifications(context.Background(), "ev-1")
	require.NoError(t, err)
	require.Empty(t, empty.Votes)
	require.Zero(t, empty.Tally.Total)
}

func TestListEvidenceFilters(t *testing.T) {
	_, q := seededQueries(t)
	ctx := context.Background()

	items, err := q.ListEvidence(ctx, ListEvidenceQuery{})
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, "ev-3", items[0].Evidence.EvidenceID)

	items, err = q.ListEvidence(ctx, ListEvidenceQuery{Status: "flagged"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, 3, items[0].Tally.Total)

	items, err = q.ListEvidence(ctx, ListEvidenceQuery{Status: "ALL", Limit: 2})
	require.NoError(t, err)
	require.Len(t, items, 2)

	for _, query := range []ListEvidenceQuery{
		{Limit: -1},
		{Limit: MaxListLimit + 1},
		{Status: "archived"},
	} {
		_, err := q.ListEvidence(ctx, query)
		require.ErrorIs(t, err, domainerrors.ErrInvalidListFilter)
	}
}

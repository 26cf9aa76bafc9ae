package services

import (
	"errors"
	"testing"

	"crowdproof/contexts/verification/consensus-engine/domain/entities"
	domainerrors "crowdproof/contexts/verification/consensus-engine/domain/errors"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func votesOf(decisions ...entities.Decision) []entities.Vote {
	votes := make([]entities.Vote, 0, len(decisions))
	for i, decision := range decisions {
		votes = append(votes, entities.Vote{
			VoteID:     string(rune('a' + i)),
			EvidenceID: "ev-1",
			VerifierID: string(rune('A' + i)),
			Decision:   decision,
		})
	}
	return votes
}

func repeat(decision entities.Decision, n int) []entities.Decision {
	items := make([]entities.Decision, n)
	for i := range items {
		items[i] = decision
	}
	return items
}

func mix(groups ...[]entities.Decision) []entities.Vote {
	var all []entities.Decision
	for _, group := range groups {
		all = append(all, group...)
	}
	return votesOf(all...)
}

const (
	approve = entities.DecisionApproved
	reject  = entities.DecisionRejected
	flag    = entities.DecisionFlagged
)

func TestEvaluateRules(t *testing.T) {
	cases := []struct {
		name    string
		current entities.EvidenceStatus
		votes   []entities.Vote
		status  entities.EvidenceStatus
		reason  string
	}{
		{
			name:    "below quorum keeps pending",
			current: entities.EvidenceStatusPending,
			votes:   votesOf(approve, approve),
			status:  entities.EvidenceStatusPending,
			reason:  ReasonQuorumNotMet,
		},
		{
			name:    "no votes",
			current: entities.EvidenceStatusPending,
			status:  entities.EvidenceStatusPending,
			reason:  ReasonQuorumNotMet,
		},
		{
			name:    "unanimous approval at quorum",
			current: entities.EvidenceStatusPending,
			votes:   votesOf(approve, approve, approve),
			status:  entities.EvidenceStatusVerified,
			reason:  ReasonApprovalThreshold,
		},
		{
			name:    "seven of ten approvals is exactly seventy percent",
			current: entities.EvidenceStatusPending,
			votes:   mix(repeat(approve, 7), repeat(reject, 3)),
			status:  entities.EvidenceStatusVerified,
			reason:  ReasonApprovalThreshold,
		},
		{
			name:    "two of three approvals is below seventy",
			current: entities.EvidenceStatusPending,
			votes:   votesOf(approve, approve, reject),
			status:  entities.EvidenceStatusFlagged,
			reason:  ReasonFlagThreshold,
		},
		{
			name:    "rejection threshold",
			current: entities.EvidenceStatusPending,
			votes:   votesOf(reject, reject, reject, approve),
			status:  entities.EvidenceStatusRejected,
			reason:  ReasonRejectionThreshold,
		},
		{
			name:    "flag threshold at thirty percent rejections",
			current: entities.EvidenceStatusPending,
			votes:   mix(repeat(approve, 6), repeat(reject, 3), repeat(flag, 1)),
			status:  entities.EvidenceStatusFlagged,
			reason:  ReasonFlagThreshold,
		},
		{
			name:    "flag decisions count only toward the total",
			current: entities.EvidenceStatusPending,
			votes:   votesOf(flag, flag, flag),
			status:  entities.EvidenceStatusPending,
			reason:  ReasonNoRuleMatched,
		},
		{
			name:    "verified is terminal",
			current: entities.EvidenceStatusVerified,
			votes:   votesOf(reject, reject, reject),
			status:  entities.EvidenceStatusVerified,
			reason:  ReasonTerminalState,
		},
		{
			name:    "rejected is terminal",
			current: entities.EvidenceStatusRejected,
			votes:   votesOf(approve, approve, approve),
			status:  entities.EvidenceStatusRejected,
			reason:  ReasonTerminalState,
		},
		{
			name:    "flagged can still be verified",
			current: entities.EvidenceStatusFlagged,
			votes:   votesOf(approve, approve, approve),
			status:  entities.EvidenceStatusVerified,
			reason:  ReasonApprovalThreshold,
		},
		{
			name:    "flagged stays flagged when no rule matches",
			current: entities.EvidenceStatusFlagged,
			votes:   mix(repeat(approve, 5), repeat(flag, 5)),
			status:  entities.EvidenceStatusFlagged,
			reason:  ReasonNoRuleMatched,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := Evaluate(DefaultPolicy(), tc.current, tc.votes)
			require.Equal(t, tc.status, result.Status)
			require.Equal(t, tc.reason, result.Reason)
			require.Equal(t, tc.current, result.Previous)
			require.Equal(t, tc.status != tc.current, result.Changed)
			require.Equal(t, len(tc.votes), result.Tally.Total)
		})
	}
}

func TestEvaluateWithoutTerminalStates(t *testing.T) {
	policy := DefaultPolicy()
	policy.TerminalStates = false

	result := Evaluate(policy, entities.EvidenceStatusVerified, votesOf(reject, reject, reject))
	require.Equal(t, entities.EvidenceStatusRejected, result.Status)
	require.True(t, result.Changed)

	result = Evaluate(policy, entities.EvidenceStatusRejected, votesOf(approve, approve, reject))
	require.Equal(t, entities.EvidenceStatusFlagged, result.Status)
}

func TestCountVotes(t *testing.T) {
	tally := CountVotes(votesOf(approve, reject, flag, approve))
	require.Equal(t, entities.Tally{Total: 4, Approved: 2, Rejected: 1, Flagged: 1}, tally)
	require.InDelta(t, 0.5, tally.ApprovedRatio(), 1e-9)
	require.InDelta(t, 0.25, tally.RejectedRatio(), 1e-9)
	require.Zero(t, entities.Tally{}.ApprovedRatio())
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	invalid := []Policy{
		{Quorum: 0, VerifyPercent: 70, RejectPercent: 70, FlagPercent: 30},
		{Quorum: 3, VerifyPercent: 0, RejectPercent: 70, FlagPercent: 30},
		{Quorum: 3, VerifyPercent: 70, RejectPercent: 101, FlagPercent: 30},
		{Quorum: 3, VerifyPercent: 50, RejectPercent: 50, FlagPercent: 30},
		{Quorum: 3, VerifyPercent: 70, RejectPercent: 70, FlagPercent: 0},
	}
	for _, policy := range invalid {
		err := policy.Validate()
		if !errors.Is(err, domainerrors.ErrInvalidPolicy) {
			t.Fatalf("expected invalid policy for %+v, got %v", policy, err)
		}
	}
}

func decisionsGen() *rapid.Generator[[]entities.Decision] {
	return rapid.SliceOfN(rapid.SampledFrom([]entities.Decision{approve, reject, flag}), 0, 40)
}

func TestEvaluateIsDeterministicAndOrderIndependent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		decisions := decisionsGen().Draw(t, "decisions")
		current := rapid.SampledFrom([]entities.EvidenceStatus{
			entities.EvidenceStatusPending,
			entities.EvidenceStatusFlagged,
			entities.EvidenceStatusVerified,
			entities.EvidenceStatusRejected,
		}).Draw(t, "current")

		votes := votesOf(decisions...)
		first := Evaluate(DefaultPolicy(), current, votes)

		reversed := make([]entities.Vote, len(votes))
		for i, vote := range votes {
			reversed[len(votes)-1-i] = vote
		}
		second := Evaluate(DefaultPolicy(), current, reversed)
		if first != second {
			t.Fatalf("evaluation depends on vote order: %+v vs %+v", first, second)
		}
	})
}

func TestEvaluateNeverLeavesTerminalStatus(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		decisions := decisionsGen().Draw(t, "decisions")
		current := rapid.SampledFrom([]entities.EvidenceStatus{
			entities.EvidenceStatusVerified,
			entities.EvidenceStatusRejected,
		}).Draw(t, "current")

		result := Evaluate(DefaultPolicy(), current, votesOf(decisions...))
		if result.Changed || result.Status != current {
			t.Fatalf("terminal status %s moved to %s", current, result.Status)
		}
	})
}

func TestEvaluateBelowQuorumNeverChanges(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		quorum := rapid.IntRange(1, 20).Draw(t, "quorum")
		decisions := rapid.SliceOfN(rapid.SampledFrom([]entities.Decision{approve, reject, flag}), 0, quorum-1).Draw(t, "decisions")
		policy := DefaultPolicy()
		policy.Quorum = quorum

		result := Evaluate(policy, entities.EvidenceStatusPending, votesOf(decisions...))
		if result.Changed {
			t.Fatalf("status changed below quorum: %d votes, quorum %d", len(decisions), quorum)
		}
	})
}

func TestEvaluateVerifiedMeansApprovalThreshold(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		decisions := decisionsGen().Draw(t, "decisions")
		result := Evaluate(DefaultPolicy(), entities.EvidenceStatusPending, votesOf(decisions...))
		tally := result.Tally
		switch result.Status {
		case entities.EvidenceStatusVerified:
			if tally.Total < 3 || tally.Approved*100 < 70*tally.Total {
				t.Fatalf("verified without approval threshold: %+v", tally)
			}
		case entities.EvidenceStatusRejected:
			if tally.Total < 3 || tally.Rejected*100 < 70*tally.Total {
				t.Fatalf("rejected without rejection threshold: %+v", tally)
			}
		case entities.EvidenceStatusFlagged:
			if tally.Rejected*100 < 30*tally.Total {
				t.Fatalf("flagged without flag threshold: %+v", tally)
			}
		}
	})
}

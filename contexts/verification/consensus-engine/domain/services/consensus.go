package services

import (
	"crowdproof/contexts/verification/consensus-engine/domain/entities"
	domainerrors "crowdproof/contexts/verification/consensus-engine/domain/errors"
)

// Evaluation reasons, carried into logs and status-change events.
const (
	ReasonQuorumNotMet       = "quorum_not_met"
	ReasonTerminalState      = "terminal_state"
	ReasonApprovalThreshold  = "approval_threshold"
	ReasonRejectionThreshold = "rejection_threshold"
	ReasonFlagThreshold      = "flag_threshold"
	ReasonNoRuleMatched      = "no_rule_matched"
)

// Policy holds the consensus thresholds. Percentages are compared with integer
// arithmetic (count*100 >= percent*total) so boundary ratios such as 7/10 are
// exact.
type Policy struct {
	Quorum        int
	VerifyPercent int
	RejectPercent int
	FlagPercent   int
	// TerminalStates stops evaluation once VERIFIED or REJECTED is reached.
	// When false every evaluation starts from the current votes only, so a
	// verified item can later move to REJECTED or FLAGGED.
	TerminalStates bool
}

func DefaultPolicy() Policy {
	return Policy{
		Quorum:         3,
		VerifyPercent:  70,
		RejectPercent:  70,
		FlagPercent:    30,
		TerminalStates: true,
	}
}

// Validate rejects policies whose approve and reject rules could both match
// the same vote set.
func (p Policy) Validate() error {
	if p.Quorum < 1 {
		return domainerrors.ErrInvalidPolicy
	}
	for _, percent := range []int{p.VerifyPercent, p.RejectPercent, p.FlagPercent} {
		if percent <= 0 || percent > 100 {
			return domainerrors.ErrInvalidPolicy
		}
	}
	if p.VerifyPercent+p.RejectPercent <= 100 {
		return domainerrors.ErrInvalidPolicy
	}
	return nil
}

func (p Policy) IsTerminal(status entities.EvidenceStatus) bool {
	if !p.TerminalStates {
		return false
	}
	return status == entities.EvidenceStatusVerified || status == entities.EvidenceStatusRejected
}

type Evaluation struct {
	Previous entities.EvidenceStatus
	Status   entities.EvidenceStatus
	Changed  bool
	Reason   string
	Tally    entities.Tally
}

func CountVotes(votes []entities.Vote) entities.Tally {
	tally := entities.Tally{Total: len(votes)}
	for _, vote := range votes {
		switch vote.Decision {
		case entities.DecisionApproved:
			tally.Approved++
		case entities.DecisionRejected:
			tally.Rejected++
		case entities.DecisionFlagged:
			tally.Flagged++
		}
	}
	return tally
}

// Evaluate maps the complete current vote set of one evidence item to its
// status. It keeps no state between calls; rules are tried in order and the
// first match wins:
//
//	total < quorum                 -> unchanged
//	approved >= verify% of total   -> VERIFIED
//	rejected >= reject% of total   -> REJECTED
//	rejected >= flag% of total     -> FLAGGED
//	otherwise                      -> unchanged
func Evaluate(policy Policy, current entities.EvidenceStatus, votes []entities.Vote) Evaluation {
	tally := CountVotes(votes)
	result := Evaluation{
		Previous: current,
		Status:   current,
		Tally:    tally,
	}

	switch {
	case policy.IsTerminal(current):
		result.Reason = ReasonTerminalState
	case tally.Total < policy.Quorum:
		result.Reason = ReasonQuorumNotMet
	case meetsPercent(tally.Approved, tally.Total, policy.VerifyPercent):
		result.Status = entities.EvidenceStatusVerified
		result.Reason = ReasonApprovalThreshold
	case meetsPercent(tally.Rejected, tally.Total, policy.RejectPercent):
		result.Status = entities.EvidenceStatusRejected
		result.Reason = ReasonRejectionThreshold
	case meetsPercent(tally.Rejected, tally.Total, policy.FlagPercent):
		result.Status = entities.EvidenceStatusFlagged
		result.Reason = ReasonFlagThreshold
	default:
		result.Reason = ReasonNoRuleMatched
	}

	result.Changed = result.Status != result.Previous
	return result
}

func meetsPercent(count int, total int, percent int) bool {
	if total <= 0 {
		return false
	}
	return count*100 >= percent*total
}

package entities

import (
	"strings"
	"time"
)

type Decision string

const (
	DecisionApproved Decision = "APPROVED"
	DecisionRejected Decision = "REJECTED"
	DecisionFlagged  Decision = "FLAGGED"
)

func (d Decision) Valid() bool {
	switch d {
	case DecisionApproved, DecisionRejected, DecisionFlagged:
		return true
	default:
		return false
	}
}

func ParseDecision(raw string) (Decision, bool) {
	decision := Decision(strings.ToUpper(strings.TrimSpace(raw)))
	return decision, decision.Valid()
}

type VerificationType string

const (
	VerificationTypeCommunity VerificationType = "COMMUNITY"
	VerificationTypeExpert    VerificationType = "EXPERT"
	VerificationTypeAutomated VerificationType = "AUTOMATED"
)

func (t VerificationType) Valid() bool {
	switch t {
	case VerificationTypeCommunity, VerificationTypeExpert, VerificationTypeAutomated:
		return true
	default:
		return false
	}
}

// ParseVerificationType defaults an empty value to COMMUNITY.
func ParseVerificationType(raw string) (VerificationType, bool) {
	value := strings.ToUpper(strings.TrimSpace(raw))
	if value == "" {
		return VerificationTypeCommunity, true
	}
	verificationType := VerificationType(value)
	return verificationType, verificationType.Valid()
}

const (
	MinConfidence = 0
	MaxConfidence = 100
)

// Vote is the single current verification of one verifier for one evidence
// item. A re-vote rewrites the same record; VoteID and CreatedAt never change.
type Vote struct {
	VoteID     string
	EvidenceID string
	VerifierID string
	Type       VerificationType
	Decision   Decision
	Confidence int
	Comment    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Tally counts decisions in one vote set. FLAGGED decisions only add to Total.
type Tally struct {
	Total    int
	Approved int
	Rejected int
	Flagged  int
}

func (t Tally) ApprovedRatio() float64 {
	if t.Total == 0 {
		return 0
	}
	return float64(t.Approved) / float64(t.Total)
}

func (t Tally) RejectedRatio() float64 {
	if t.Total == 0 {
		return 0
	}
	return float64(t.Rejected) / float64(t.Total)
}

type Verifier struct {
	VerifierID string
	Active     bool
}

package queries

import (
	"context"
	"strings"

	"crowdproof/contexts/verification/consensus-engine/domain/entities"
	domainerrors "crowdproof/contexts/verification/consensus-engine/domain/errors"
	"crowdproof/contexts/verification/consensus-engine/domain/services"
	"crowdproof/contexts/verification/consensus-engine/ports"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 50
)

type EvidenceQueries struct {
	Evidence ports.EvidenceRepository
}

type ListEvidenceQuery struct {
	UploaderID string
	// Status is matched case-insensitively; empty or "all" disables the filter.
	Status string
	Limit  int
}

// VerificationList is the current vote set of one evidence item with its tally.
type VerificationList struct {
	EvidenceID string
	Status     entities.EvidenceStatus
	Votes      []entities.Vote
	Tally      entities.Tally
}

// GetStatus reads the committed status only.
func (q EvidenceQueries) GetStatus(ctx context.Context, evidenceID string) (entities.EvidenceStatus, error) {
	evidenceID = strings.TrimSpace(evidenceID)
	if evidenceID == "" {
		return "", domainerrors.ErrEvidenceIDRequired
	}
	evidence, err := q.Evidence.GetEvidence(ctx, evidenceID)
	if err != nil {
		return "", err
	}
	return evidence.Status, nil
}

func (q EvidenceQueries) GetEvidence(ctx context.Context, evidenceID string) (entities.EvidenceSummary, error) {
	evidenceID = strings.TrimSpace(evidenceID)
	if evidenceID == "" {
		return entities.EvidenceSummary{}, domainerrors.ErrEvidenceIDRequired
	}
	evidence, err := q.Evidence.GetEvidence(ctx, evidenceID)
	if err != nil {
		return entities.EvidenceSummary{}, err
	}
	votes, err := q.Evidence.ListVotesByEvidence(ctx, evidenceID)
	if err != nil {
		return entities.EvidenceSummary{}, err
	}
	return entities.EvidenceSummary{
		Evidence: evidence,
		Tally:    services.CountVotes(votes),
	}, nil
}

// ListEvidence returns evidence newest first.
func (q EvidenceQueries) ListEvidence(ctx context.Context, query ListEvidenceQuery) ([]entities.EvidenceSummary, error) {
	filter := ports.EvidenceFilter{
		UploaderID: strings.TrimSpace(query.UploaderID),
		Limit:      query.Limit,
	}
	switch {
	case filter.Limit < 0 || filter.Limit > MaxListLimit:
		return nil, domainerrors.ErrInvalidListFilter
	case filter.Limit == 0:
		filter.Limit = DefaultListLimit
	}
	rawStatus := strings.TrimSpace(query.Status)
	if rawStatus != "" && !strings.EqualFold(rawStatus, "all") {
		status, ok := entities.ParseEvidenceStatus(rawStatus)
		if !ok {
			return nil, domainerrors.ErrInvalidListFilter
		}
		filter.Status = status
	}
	return q.Evidence.ListEvidence(ctx, filter)
}

func (q EvidenceQueries) ListVerifications(ctx context.Context, evidenceID string) (VerificationList, error) {
	evidenceID = strings.TrimSpace(evidenceID)
	if evidenceID == "" {
		return VerificationList{}, domainerrors.ErrEvidenceIDRequired
	}
	evidence, err := q.Evidence.GetEvidence(ctx, evidenceID)
	if err != nil {
		return VerificationList{}, err
	}
	votes, err := q.Evidence.ListVotesByEvidence(ctx, evidenceID)
	if err != nil {
		return VerificationList{}, err
	}
	return VerificationList{
		EvidenceID: evidence.EvidenceID,
		Status:     evidence.Status,
		Votes:      votes,
		Tally:      services.CountVotes(votes),
	}, nil
}

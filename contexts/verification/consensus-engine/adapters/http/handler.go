package httpadapter

import (
	"context"
	"log/slog"
	"time"

	"crowdproof/contexts/verification/consensus-engine/application/commands"
	"crowdproof/contexts/verification/consensus-engine/application/queries"
	"crowdproof/contexts/verification/consensus-engine/domain/entities"
	httptransport "crowdproof/contexts/verification/consensus-engine/transport/http"
)

type Handler struct {
	Verifications commands.VerificationUseCase
	Evidence      commands.EvidenceUseCase
	Queries       queries.EvidenceQueries
	Logger        *slog.Logger
}

// ClientInfo is recorded on audit entries.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

func (h Handler) RegisterEvidenceHandler(
	ctx context.Context,
	uploaderID string,
	client ClientInfo,
	req httptransport.RegisterEvidenceRequest,
) (httptransport.EvidenceResponse, error) {
	evidence, err := h.Evidence.RegisterEvidence(ctx, commands.RegisterEvidenceCommand{
		UploaderID:  uploaderID,
		Title:       req.Title,
		Description: req.Description,
		ContentHash: req.ContentHash,
		MimeType:    req.MimeType,
		MediaType:   entities.MediaType(req.MediaType),
		IPAddress:   client.IPAddress,
		UserAgent:   client.UserAgent,
	})
	if err != nil {
		return httptransport.EvidenceResponse{}, err
	}
	return mapEvidence(entities.EvidenceSummary{Evidence: evidence}), nil
}

func (h Handler) ListEvidenceHandler(
	ctx context.Context,
	req httptransport.ListEvidenceRequest,
) (httptransport.ListEvidenceResponse, error) {
	items, err := h.Queries.ListEvidence(ctx, queries.ListEvidenceQuery{
		UploaderID: req.UploaderID,
		Status:     req.Status,
		Limit:      req.Limit,
	})
	if err != nil {
		return httptransport.ListEvidenceResponse{}, err
	}
	resp := httptransport.ListEvidenceResponse{
		Items: make([]httptransport.EvidenceResponse, 0, len(items)),
	}
	for _, item := range items {
		resp.Items = append(resp.Items, mapEvidence(item))
	}
	return resp, nil
}

func (h Handler) GetEvidenceHandler(ctx context.Context, evidenceID string) (httptransport.EvidenceResponse, error) {
	summary, err := h.Queries.GetEvidence(ctx, evidenceID)
	if err != nil {
		return httptransport.EvidenceResponse{}, err
	}
	return mapEvidence(summary), nil
}

func (h Handler) GetEvidenceStatusHandler(ctx context.Context, evidenceID string) (httptransport.EvidenceStatusResponse, error) {
	status, err := h.Queries.GetStatus(ctx, evidenceID)
	if err != nil {
		return httptransport.EvidenceStatusResponse{}, err
	}
	return httptransport.EvidenceStatusResponse{
		EvidenceID: evidenceID,
		Status:     string(status),
	}, nil
}

func (h Handler) SubmitVerificationHandler(
	ctx context.Context,
	verifierID string,
	evidenceID string,
	idempotencyKey string,
	client ClientInfo,
	req httptransport.SubmitVerificationRequest,
) (httptransport.SubmitVerificationResponse, error) {
	result, err := h.Verifications.SubmitVerification(ctx, commands.SubmitVerificationCommand{
		EvidenceID:     evidenceID,
		VerifierID:     verifierID,
		Type:           entities.VerificationType(req.Type),
		Decision:       entities.Decision(req.Decision),
		Confidence:     req.Confidence,
		Comment:        req.Comment,
		IdempotencyKey: idempotencyKey,
		IPAddress:      client.IPAddress,
		UserAgent:      client.UserAgent,
	})
	if err != nil {
		return httptransport.SubmitVerificationResponse{}, err
	}
	return httptransport.SubmitVerificationResponse{
		Verification:   mapVote(result.Vote),
		PreviousStatus: string(result.Evaluation.Previous),
		Status:         string(result.Evaluation.Status),
		StatusChanged:  result.Evaluation.Changed,
		Reason:         result.Evaluation.Reason,
		Votes:          mapTally(result.Evaluation.Tally),
		WasUpdate:      result.WasUpdate,
		Replayed:       result.Replayed,
	}, nil
}

func (h Handler) ListVerificationsHandler(ctx context.Context, evidenceID string) (httptransport.ListVerificationsResponse, error) {
	list, err := h.Queries.ListVerifications(ctx, evidenceID)
	if err != nil {
		return httptransport.ListVerificationsResponse{}, err
	}
	resp := httptransport.ListVerificationsResponse{
		EvidenceID: list.EvidenceID,
		Status:     string(list.Status),
		Votes:      mapTally(list.Tally),
		Items:      make([]httptransport.VerificationResponse, 0, len(list.Votes)),
	}
	for _, vote := range list.Votes {
		resp.Items = append(resp.Items, mapVote(vote))
	}
	return resp, nil
}

func mapEvidence(summary entities.EvidenceSummary) httptransport.EvidenceResponse {
	evidence := summary.Evidence
	return httptransport.EvidenceResponse{
		EvidenceID:  evidence.EvidenceID,
		ContentHash: evidence.ContentHash,
		Status:      string(evidence.Status),
		Title:       evidence.Title,
		Description: evidence.Description,
		MediaType:   string(evidence.MediaType),
		UploaderID:  evidence.UploaderID,
		CreatedAt:   evidence.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   evidence.UpdatedAt.UTC().Format(time.RFC3339),
		Votes:       mapTally(summary.Tally),
	}
}

func mapVote(vote entities.Vote) httptransport.VerificationResponse {
	return httptransport.VerificationResponse{
		VoteID:     vote.VoteID,
		EvidenceID: vote.EvidenceID,
		VerifierID: vote.VerifierID,
		Type:       string(vote.Type),
		Decision:   string(vote.Decision),
		Confidence: vote.Confidence,
		Comment:    vote.Comment,
		CreatedAt:  vote.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:  vote.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func mapTally(tally entities.Tally) httptransport.TallyResponse {
	return httptransport.TallyResponse{
		Total:    tally.Total,
		Approved: tally.Approved,
		Rejected: tally.Rejected,
		Flagged:  tally.Flagged,
	}
}

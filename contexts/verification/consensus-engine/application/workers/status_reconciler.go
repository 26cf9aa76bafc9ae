package workers

import (
	"context"
	"log/slog"

	application "crowdproof/contexts/verification/consensus-engine/application"
	"crowdproof/contexts/verification/consensus-engine/domain/services"
	"crowdproof/contexts/verification/consensus-engine/ports"
)

type EvidenceReevaluator interface {
	ReevaluateEvidence(ctx context.Context, evidenceID string) (services.Evaluation, error)
}

// StatusReconciler walks every evidence item and re-applies the consensus
// rule to its stored votes, so rows written under an older policy or edited
// outside the ledger converge to the current rule.
type StatusReconciler struct {
	Evidence    ports.EvidenceRepository
	Reevaluator EvidenceReevaluator
	PageSize    int
	Logger      *slog.Logger
}

type ReconcileReport struct {
	Scanned int
	Changed int
	Failed  int
}

// RunOnce scans all evidence ids in pages. A failure on one item is logged
// and counted; only a failure to list ids aborts the cycle.
func (r StatusReconciler) RunOnce(ctx context.Context) (ReconcileReport, error) {
	logger := application.ResolveLogger(r.Logger)
	pageSize := r.PageSize
	if pageSize <= 0 {
		pageSize = 200
	}

	var report ReconcileReport
	afterID := ""
	for {
		ids, err := r.Evidence.ListEvidenceIDs(ctx, afterID, pageSize)
		if err != nil {
			logger.Error("consensus reconcile list failed",
				"event", "consensus_reconcile_list_failed",
				"module", application.ModuleName,
				"layer", "worker",
				"after_id", afterID,
				"error", err.Error(),
			)
			return report, err
		}
		for _, evidenceID := range ids {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.Scanned++
			evaluation, err := r.Reevaluator.ReevaluateEvidence(ctx, evidenceID)
			if err != nil {
				report.Failed++
				logger.Warn("consensus reconcile item failed",
					"event", "consensus_reconcile_item_failed",
					"module", application.ModuleName,
					"layer", "worker",
					"evidence_id", evidenceID,
					"error", err.Error(),
				)
				continue
			}
			if evaluation.Changed {
				report.Changed++
			}
		}
		if len(ids) < pageSize {
			break
		}
		afterID = ids[len(ids)-1]
	}

	logger.Info("consensus reconcile cycle completed",
		"event", "consensus_reconcile_completed",
		"module", application.ModuleName,
		"layer", "worker",
		"scanned", report.Scanned,
		"changed", report.Changed,
		"failed", report.Failed,
	)
	return report, nil
}

package metricsadapter

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"crowdproof/contexts/verification/consensus-engine/domain/entities"
	"crowdproof/contexts/verification/consensus-engine/ports"
)

const MetricsSubsystem = "consensus"

// Metrics contains metrics exposed by the consensus engine.
type Metrics struct {
	// Votes written to the ledger, labelled by decision and kind (new|revision).
	VotesRecorded metrics.Counter
	// Evidence status transitions applied by the evaluator.
	StatusTransitions metrics.Counter
	// Ledger transactions retried after a write conflict.
	ConflictRetries metrics.Counter
}

// PrometheusMetrics returns Metrics registered on registerer. Passing a fresh
// registry keeps tests independent of the process-wide default registry.
func PrometheusMetrics(namespace string, registerer stdprometheus.Registerer) *Metrics {
	votes := stdprometheus.NewCounterVec(stdprometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: MetricsSubsystem,
		Name:      "votes_recorded_total",
		Help:      "Number of verification votes written to the ledger.",
	}, []string{"decision", "kind"})
	transitions := stdprometheus.NewCounterVec(stdprometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: MetricsSubsystem,
		Name:      "status_transitions_total",
		Help:      "Number of evidence status transitions.",
	}, []string{"from", "to"})
	retries := stdprometheus.NewCounterVec(stdprometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: MetricsSubsystem,
		Name:      "conflict_retries_total",
		Help:      "Number of ledger transactions retried after a write conflict.",
	}, []string{})
	if registerer != nil {
		registerer.MustRegister(votes, transitions, retries)
	}
	return &Metrics{
		VotesRecorded:     prometheus.NewCounter(votes),
		StatusTransitions: prometheus.NewCounter(transitions),
		ConflictRetries:   prometheus.NewCounter(retries),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		VotesRecorded:     discard.NewCounter(),
		StatusTransitions: discard.NewCounter(),
		ConflictRetries:   discard.NewCounter(),
	}
}

func (m *Metrics) VoteRecorded(decision entities.Decision, revision bool) {
	kind := "new"
	if revision {
		kind = "revision"
	}
	m.VotesRecorded.With("decision", string(decision), "kind", kind).Add(1)
}

func (m *Metrics) StatusTransition(from entities.EvidenceStatus, to entities.EvidenceStatus) {
	m.StatusTransitions.With("from", string(from), "to", string(to)).Add(1)
}

func (m *Metrics) ConflictRetry() {
	m.ConflictRetries.Add(1)
}

var _ ports.Metrics = (*Metrics)(nil)

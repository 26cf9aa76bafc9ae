package workers

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"crowdproof/contexts/verification/consensus-engine/adapters/memory"
	"crowdproof/contexts/verification/consensus-engine/application/commands"
	"crowdproof/contexts/verification/consensus-engine/domain/entities"
	"crowdproof/contexts/verification/consensus-engine/domain/services"
	"crowdproof/contexts/verification/consensus-engine/ports"
	eventsv1 "crowdproof/contracts/gen/events/v1"

	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	failOn string
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, event ports.EventEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOn != "" && event.EventID == p.failOn {
		return errors.New("broker unavailable")
	}
	p.topics = append(p.topics, topic)
	return nil
}

type capturingSubscriber struct {
	topic   string
	group   string
	handler func(context.Context, ports.EventEnvelope) error
}

func (s *capturingSubscriber) Subscribe(
	_ context.Context,
	topic string,
	consumerGroup string,
	handler func(context.Context, ports.EventEnvelope) error,
) error {
	s.topic = topic
	s.group = consumerGroup
	s.handler = handler
	return nil
}

func seedPendingEvidence(store *memory.Store, ids ...string) {
	for _, id := range ids {
		store.SetEvidence(entities.Evidence{
			EvidenceID:  id,
			ContentHash: id + "-hash",
			Status:      entities.EvidenceStatusPending,
			CreatedAt:   time.Now().UTC(),
		})
	}
}

func appendEvents(t *testing.T, store *memory.Store, evidenceID string, eventIDs ...string) {
	t.Helper()
	for _, eventID := range eventIDs {
		id := eventID
		require.NoError(t, store.WithEvidenceLock(context.Background(), evidenceID, func(ctx context.Context, tx ports.LedgerTx) error {
			return tx.AppendOutbox(ctx, ports.EventEnvelope{
				EventID:      id,
				EventType:    eventsv1.EventTypeVerificationSubmitted,
				PartitionKey: evidenceID,
			})
		}))
	}
}

func TestOutboxRelayPublishesInCommitOrder(t *testing.T) {
	store := memory.NewStore()
	seedPendingEvidence(store, "ev-1")
	appendEvents(t, store, "ev-1", "evt-1", "evt-2")

	publisher := &recordingPublisher{}
	relay := OutboxRelay{Outbox: store, Publisher: publisher, BatchSize: 10}
	require.NoError(t, relay.RunOnce(context.Background()))
	require.Equal(t, []string{eventsv1.EventTypeVerificationSubmitted, eventsv1.EventTypeVerificationSubmitted}, publisher.topics)

	pending, err := store.ListPendingOutbox(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	require.NoError(t, relay.RunOnce(context.Background()))
	require.Len(t, publisher.topics, 2)
}

func TestOutboxRelayStopsAtFirstPublishFailure(t *testing.T) {
	store := memory.NewStore()
	seedPendingEvidence(store, "ev-1")
	appendEvents(t, store, "ev-1", "evt-1", "evt-2", "evt-3")

	publisher := &recordingPublisher{failOn: "evt-2"}
	relay := OutboxRelay{Outbox: store, Publisher: publisher}
	require.Error(t, relay.RunOnce(context.Background()))

	pending, err := store.ListPendingOutbox(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, "evt-2", pending[0].OutboxID)
}

func uploadedEvent(t *testing.T, eventID string, payload map[string]string) ports.EventEnvelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return ports.EventEnvelope{
		EventID:   eventID,
		EventType: eventsv1.EventTypeEvidenceUploaded,
		Data:      raw,
	}
}

func TestEvidenceUploadConsumerRegistersOnce(t *testing.T) {
	store := memory.NewStore()
	subscriber := &capturingSubscriber{}
	consumer := EvidenceUploadConsumer{
		Subscriber: subscriber,
		Dedup:      store,
		Registrar:  commands.EvidenceUseCase{Evidence: store, Audit: store, IDGen: store},
	}
	require.NoError(t, consumer.Start(context.Background()))
	require.Equal(t, eventsv1.EventTypeEvidenceUploaded, subscriber.topic)
	require.Equal(t, defaultUploadCG, subscriber.group)

	event := uploadedEvent(t, "evt-upload-1", map[string]string{
		"evidence_id":  "ev-42",
		"uploader_id":  "uploader-9",
		"title":        "Storm damage",
		"content_hash": "2c26b46b68ffc68ff99b453c1d30413413422d706483bfa0f98a5e886266e7ae",
		"mime_type":    "image/jpeg",
	})
	require.NoError(t, subscriber.handler(context.Background(), event))
	require.NoError(t, subscriber.handler(context.Background(), event))

	evidence, err := store.GetEvidence(context.Background(), "ev-42")
	require.NoError(t, err)
	require.Equal(t, entities.MediaTypeImage, evidence.MediaType)
	require.Equal(t, entities.EvidenceStatusPending, evidence.Status)
	require.Len(t, store.AuditEntries(), 1)

	// A different event carrying the same file is consumed without error.
	require.NoError(t, subscriber.handler(context.Background(), uploadedEvent(t, "evt-upload-2", map[string]string{
		"uploader_id":  "uploader-9",
		"title":        "Storm damage again",
		"content_hash": "2c26b46b68ffc68ff99b453c1d30413413422d706483bfa0f98a5e886266e7ae",
	})))
}

func TestEvidenceUploadConsumerRejectsBadPayload(t *testing.T) {
	store := memory.NewStore()
	subscriber := &capturingSubscriber{}
	consumer := EvidenceUploadConsumer{
		Subscriber: subscriber,
		Dedup:      store,
		Registrar:  commands.EvidenceUseCase{Evidence: store, IDGen: store},
	}
	require.NoError(t, consumer.Start(context.Background()))

	err := subscriber.handler(context.Background(), ports.EventEnvelope{EventID: "evt-bad", Data: []byte(`{"title":`)})
	require.Error(t, err)
}

func TestEvidenceUploadConsumerDisabled(t *testing.T) {
	subscriber := &capturingSubscriber{}
	consumer := EvidenceUploadConsumer{Subscriber: subscriber, Disabled: true}
	require.NoError(t, consumer.Start(context.Background()))
	require.Nil(t, subscriber.handler)
}

func TestStatusReconcilerConvergesToPolicy(t *testing.T) {
	store := memory.NewStore()
	seedPendingEvidence(store, "ev-1", "ev-2", "ev-3")
	for i := 1; i <= 3; i++ {
		store.SetVerifier(entities.Verifier{VerifierID: "v" + string(rune('0'+i)), Active: true})
	}

	lenient := services.DefaultPolicy()
	lenient.Quorum = 10
	writer := commands.VerificationUseCase{
		Ledger:    store,
		Evidence:  store,
		Verifiers: store,
		IDGen:     store,
		Policy:    lenient,
	}
	for _, verifierID := range []string{"v1", "v2", "v3"} {
		_, err := writer.SubmitVerification(context.Background(), commands.SubmitVerificationCommand{
			EvidenceID: "ev-2",
			VerifierID: verifierID,
			Decision:   entities.DecisionApproved,
		})
		require.NoError(t, err)
	}

	reevaluator := writer
	reevaluator.Policy = services.DefaultPolicy()
	reconciler := StatusReconciler{Evidence: store, Reevaluator: reevaluator, PageSize: 2}

	report, err := reconciler.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, ReconcileReport{Scanned: 3, Changed: 1}, report)

	evidence, err := store.GetEvidence(context.Background(), "ev-2")
	require.NoError(t, err)
	require.Equal(t, entities.EvidenceStatusVerified, evidence.Status)

	report, err = reconciler.RunOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.Changed)
}

type failingReevaluator struct {
	failID string
	calls  []string
}

func (r *failingReevaluator) ReevaluateEvidence(_ context.Context, evidenceID string) (services.Evaluation, error) {
	r.calls = append(r.calls, evidenceID)
	if evidenceID == r.failID {
		return services.Evaluation{}, errors.New("lock timeout")
	}
	return services.Evaluation{}, nil
}

func TestStatusReconcilerSkipsFailedItems(t *testing.T) {
	store := memory.NewStore()
	seedPendingEvidence(store, "ev-1", "ev-2", "ev-3")
	reevaluator := &failingReevaluator{failID: "ev-2"}

	report, err := StatusReconciler{Evidence: store, Reevaluator: reevaluator}.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, ReconcileReport{Scanned: 3, Failed: 1}, report)
	require.Equal(t, []string{"ev-1", "ev-2", "ev-3"}, reevaluator.calls)
}

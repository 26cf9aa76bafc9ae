package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	eventsv1 "crowdproof/contracts/gen/events/v1"
)

const subscriberBuffer = 128

// Bus is the in-process event bus used by the outbox relay and consumers.
// Every consumer group on a topic receives each event once; events for one
// topic are delivered to a group in publish order. A failing handler is
// retried with exponential backoff before the event is dropped and logged.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan eventsv1.Envelope
	brokers     []string
	maxRetries  uint64
	logger      *slog.Logger
}

func NewBus(brokers []string, logger *slog.Logger) (*Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[string]map[string]chan eventsv1.Envelope),
		brokers:     append([]string(nil), brokers...),
		maxRetries:  3,
		logger:      logger,
	}, nil
}

func (b *Bus) Publish(ctx context.Context, topic string, event eventsv1.Envelope) error {
	b.mu.RLock()
	subs := make([]chan eventsv1.Envelope, 0, len(b.subscribers[topic]))
	for _, ch := range b.subscribers[topic] {
		subs = append(subs, ch)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sub <- event:
		default:
			b.logger.Warn("dropping event for slow subscriber",
				"event", "bus_publish_drop",
				"module", "internal/platform/messaging",
				"layer", "platform",
				"topic", topic,
				"event_id", event.EventID,
			)
		}
	}

	b.logger.Debug("event published",
		"event", "bus_publish",
		"module", "internal/platform/messaging",
		"layer", "platform",
		"topic", topic,
		"event_id", event.EventID,
		"event_type", event.EventType,
		"partition_key", event.PartitionKey,
		"subscriber_count", len(subs),
	)
	return nil
}

// Subscribe registers handler for topic under consumerGroup until ctx ends.
// A second subscription for the same group replaces the first.
func (b *Bus) Subscribe(
	ctx context.Context,
	topic string,
	consumerGroup string,
	handler func(context.Context, eventsv1.Envelope) error,
) error {
	ch := make(chan eventsv1.Envelope, subscriberBuffer)

	b.mu.Lock()
	groups, ok := b.subscribers[topic]
	if !ok {
		groups = make(map[string]chan eventsv1.Envelope)
		b.subscribers[topic] = groups
	}
	groups[consumerGroup] = ch
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				b.removeSubscriber(topic, consumerGroup, ch)
				return
			case event := <-ch:
				b.deliver(ctx, topic, consumerGroup, event, handler)
			}
		}
	}()
	return nil
}

func (b *Bus) deliver(
	ctx context.Context,
	topic string,
	consumerGroup string,
	event eventsv1.Envelope,
	handler func(context.Context, eventsv1.Envelope) error,
) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	err := backoff.RetryNotify(
		func() error { return handler(ctx, event) },
		backoff.WithContext(backoff.WithMaxRetries(policy, b.maxRetries), ctx),
		func(err error, wait time.Duration) {
			b.logger.Warn("consumer handler retry scheduled",
				"event", "bus_consume_retry",
				"module", "internal/platform/messaging",
				"layer", "platform",
				"topic", topic,
				"consumer_group", consumerGroup,
				"event_id", event.EventID,
				"wait", wait.String(),
				"error", err.Error(),
			)
		},
	)
	if err != nil {
		b.logger.Error("consumer handler failed",
			"event", "bus_consume_failed",
			"module", "internal/platform/messaging",
			"layer", "platform",
			"topic", topic,
			"consumer_group", consumerGroup,
			"event_id", event.EventID,
			"event_type", event.EventType,
			"error", err.Error(),
		)
	}
}

func (b *Bus) removeSubscriber(topic string, consumerGroup string, target chan eventsv1.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if current, ok := b.subscribers[topic][consumerGroup]; ok && current == target {
		delete(b.subscribers[topic], consumerGroup)
	}
}

package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hearthd/voice-pipeline/internal/observability"
)

// Broker is the minimal pub/sub surface the pipeline depends on: publish
// with at-least-once semantics routed by topic string, no response
// expected.
type Broker interface {
	Publish(topic string, payload []byte) error
}

// Publisher serializes session events and publishes them under every
// active topic version. It is safe for concurrent use if the underlying
// broker is; within one session events are published from a single
// goroutine at a time, which preserves per-topic ordering.
type Publisher struct {
	broker Broker
	scheme TopicScheme
	logger zerolog.Logger

	now func() time.Time
}

// NewPublisher creates a publisher over broker with the given scheme.
func NewPublisher(broker Broker, scheme TopicScheme, logger zerolog.Logger) *Publisher {
	return &Publisher{
		broker: broker,
		scheme: scheme,
		logger: logger,
		now:    time.Now,
	}
}

// Publish emits one event per active topic version. Individual broker
// failures are aggregated into the returned error but never prevent the
// remaining versions from being attempted.
func (p *Publisher) Publish(roomID, sessionID string, event EventType, payload any) error {
	ts := float64(p.now().UnixNano()) / float64(time.Second)

	var firstErr error
	for _, topic := range p.scheme.Topics(roomID, sessionID, event) {
		data, err := json.Marshal(Event{Topic: topic, Payload: payload, Timestamp: ts})
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("bus: marshal event %s: %w", topic, err)
			}
			continue
		}

		if err := p.broker.Publish(topic, data); err != nil {
			p.logger.Warn().Str("topic", topic).Err(err).Msg("Publish failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("bus: publish %s: %w", topic, err)
			}
			continue
		}
		observability.RecordEventPublished(string(event))
	}
	return firstErr
}

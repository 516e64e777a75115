package bus

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestTopicScheme_Format(t *testing.T) {
	s := TopicScheme{Namespace: "assistant", Versions: []string{"v2"}}

	got := s.Topic("v2", "kitchen", "abc-123", EventTranscriptFinal)
	want := "v2/assistant/room/kitchen/session/abc-123/transcript/final"
	if got != want {
		t.Errorf("Topic() = %q, want %q", got, want)
	}
}

func TestTopicScheme_DualPublishVersions(t *testing.T) {
	s := TopicScheme{Namespace: "assistant", Versions: []string{"v2", "v3"}}

	topics := s.Topics("den", "s1", EventState)
	if len(topics) != 2 {
		t.Fatalf("Expected 2 topics during migration window, got %d", len(topics))
	}
	if topics[0] != "v2/assistant/room/den/session/s1/state" {
		t.Errorf("Unexpected v2 topic: %s", topics[0])
	}
	if topics[1] != "v3/assistant/room/den/session/s1/state" {
		t.Errorf("Unexpected v3 topic: %s", topics[1])
	}
}

// captureBroker records published frames in order.
type captureBroker struct {
	topics   []string
	payloads [][]byte
	fail     bool
}

func (b *captureBroker) Publish(topic string, payload []byte) error {
	if b.fail {
		return errFailedPublish
	}
	b.topics = append(b.topics, topic)
	b.payloads = append(b.payloads, payload)
	return nil
}

var errFailedPublish = errors.New("broker unavailable")

func TestPublisher_DualPublish(t *testing.T) {
	broker := &captureBroker{}
	p := NewPublisher(broker, TopicScheme{Namespace: "assistant", Versions: []string{"v2", "v3"}}, zerolog.Nop())

	err := p.Publish("kitchen", "s1", EventTranscriptInterim, map[string]any{"text": "turn on", "sequence": 1})
	if err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}

	if len(broker.topics) != 2 {
		t.Fatalf("Expected 2 publishes (one per version), got %d", len(broker.topics))
	}

	var ev Event
	if err := json.Unmarshal(broker.payloads[0], &ev); err != nil {
		t.Fatalf("Unmarshal event: %v", err)
	}
	if ev.Topic != broker.topics[0] {
		t.Errorf("Event topic %q does not match routing topic %q", ev.Topic, broker.topics[0])
	}
	if ev.Timestamp <= 0 {
		t.Error("Expected positive event timestamp")
	}
}

func TestPublisher_PerTopicOrdering(t *testing.T) {
	broker := &captureBroker{}
	p := NewPublisher(broker, TopicScheme{Namespace: "assistant", Versions: []string{"v2"}}, zerolog.Nop())

	for i := 1; i <= 3; i++ {
		if err := p.Publish("kitchen", "s1", EventTranscriptInterim, map[string]any{"sequence": i}); err != nil {
			t.Fatalf("Publish() failed: %v", err)
		}
	}

	for i, payload := range broker.payloads {
		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			t.Fatalf("Unmarshal event: %v", err)
		}
		seq := int(ev.Payload.(map[string]any)["sequence"].(float64))
		if seq != i+1 {
			t.Errorf("Expected sequence %d at position %d, got %d", i+1, i, seq)
		}
	}
}

func TestPublisher_BrokerFailureAggregated(t *testing.T) {
	broker := &captureBroker{fail: true}
	p := NewPublisher(broker, TopicScheme{Namespace: "assistant", Versions: []string{"v2"}}, zerolog.Nop())

	if err := p.Publish("kitchen", "s1", EventState, map[string]any{"state": "idle"}); err == nil {
		t.Error("Expected broker failure surfaced to caller")
	}
}

// Package bus carries session events to subscribers over hierarchical,
// versioned topics. Delivery is at-least-once; ordering is guaranteed
// only within a single topic from a single publisher connection.
package bus

// EventType is the leaf segment of a session topic.
type EventType string

const (
	EventState                  EventType = "state"
	EventTranscriptInterim      EventType = "transcript/interim"
	EventTranscriptFinal        EventType = "transcript/final"
	EventTranscriptRefined      EventType = "transcript/refined"
	EventResponseStreamStart    EventType = "response/stream/start"
	EventResponseStreamChunk    EventType = "response/stream/chunk"
	EventResponseStreamComplete EventType = "response/stream/complete"
	EventToolExecuted           EventType = "tool_executed"
)

// Event is the wire unit. Published once, immutable.
type Event struct {
	Topic     string  `json:"topic"`
	Payload   any     `json:"payload"`
	Timestamp float64 `json:"timestamp"` // unix seconds
}

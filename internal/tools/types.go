package tools

import "context"

// Request is one finalized user turn handed to the responder.
type Request struct {
	RoomID    string
	SessionID string
	Text      string
}

// ToolExecution records one action taken against the control plane
// during a turn.
type ToolExecution struct {
	Name    string         `json:"name"`
	Payload map[string]any `json:"payload,omitempty"`
	Success bool           `json:"success"`
}

// Reply is the finished response for a turn.
type Reply struct {
	Text  string
	Tools []ToolExecution
}

// Responder produces the assistant reply for a finalized transcript.
// Implementations stream tokens through emit as they arrive; the full
// text is also returned in the Reply. Respond must honor ctx and return
// typed failures (transient, circuit-open) untranslated so the session
// orchestrator can act on them.
type Responder interface {
	Respond(ctx context.Context, req Request, emit func(chunk string)) (*Reply, error)
}

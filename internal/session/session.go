// Package session sequences one wake-to-idle conversational interaction:
// wake detection, recording, transcription, tool invocation, and response
// streaming. All session state lives in explicit Session values held by
// the Orchestrator, keyed by room.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/hearthd/voice-pipeline/internal/audio"
	"github.com/hearthd/voice-pipeline/internal/stt"
)

// State is one node of the session state machine.
type State string

const (
	StateIdle         State = "idle"
	StateWakeDetected State = "wake_detected"
	StateListening    State = "listening"
	StateTranscribing State = "transcribing"
	StateProcessing   State = "processing"
	StateSpeaking     State = "speaking"
)

// Mode selects single-command vs. conversation turn-taking.
type Mode string

const (
	ModeSingle       Mode = "single"
	ModeConversation Mode = "conversation"
)

// legalTransitions is the forward edge set. A transition to StateIdle is
// additionally legal from every state (cancellation, timeout, end phrase).
var legalTransitions = map[State][]State{
	StateIdle:         {StateWakeDetected},
	StateWakeDetected: {StateListening},
	StateListening:    {StateTranscribing},
	StateTranscribing: {StateProcessing, StateListening}, // empty utterances skip processing
	StateProcessing:   {StateSpeaking},
	StateSpeaking:     {StateListening},
}

func transitionLegal(from, to State) bool {
	if to == StateIdle {
		return true
	}
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Session is one active interaction in one room. It is mutated only by
// the Orchestrator under its lock; worker goroutines never touch it
// directly, they hand results back through the Orchestrator.
type Session struct {
	ID        uuid.UUID
	RoomID    string
	Mode      Mode
	State     State
	StartedAt time.Time

	lastProgress time.Time
	cancelled    bool
	epoch        int // bumped per worker dispatch; stale results are discarded

	utterance  *audio.Utterance
	vad        *audio.Detector
	recognizer *stt.StreamingRecognizer
	engine     stt.StreamEngine
}

// transition moves the session along a legal edge. Illegal edges are a
// programming error and are reported to the caller rather than applied.
func (s *Session) transition(to State) bool {
	if !transitionLegal(s.State, to) {
		return false
	}
	s.State = to
	return true
}

// progress marks forward movement for the no-progress timeout.
func (s *Session) progress(now time.Time) {
	s.lastProgress = now
}

package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hearthd/voice-pipeline/internal/audio"
	"github.com/hearthd/voice-pipeline/internal/bus"
	"github.com/hearthd/voice-pipeline/internal/observability"
	"github.com/hearthd/voice-pipeline/internal/resilience"
	"github.com/hearthd/voice-pipeline/internal/stt"
	"github.com/hearthd/voice-pipeline/internal/tools"
)

// ErrSessionTimeout marks a session forced back to idle after no
// forward progress within the configured window.
var ErrSessionTimeout = errors.New("session: no forward progress before timeout")

// ErrRoomBusy is returned when a wake signal arrives for a room that
// already has an active session. The signal is dropped, never queued.
var ErrRoomBusy = errors.New("session: room already has an active session")

// DepRefiner names the refinement recognizer for circuit isolation.
const DepRefiner = "stt_refined"

// EngineFactory builds one streaming engine per session.
type EngineFactory func() (stt.StreamEngine, error)

// Config tunes turn-taking policy.
type Config struct {
	SampleRate          int
	VAD                 *audio.VADConfig
	ConfidenceThreshold float64       // escalate to refinement below this
	DefaultConfidence   float64       // used when the engine gives no word scores
	PreferRefined       bool          // gate processing on refinement and substitute its text
	SessionTimeout      time.Duration // no-progress bound, default 30s
	EndPhrases          []string
	FallbackText        string // spoken when downstream is unavailable
}

// DefaultConfig returns the stock policy.
func DefaultConfig() Config {
	return Config{
		SampleRate:          16000,
		VAD:                 audio.DefaultVADConfig(),
		ConfidenceThreshold: 0.7,
		DefaultConfidence:   stt.DefaultConfidence,
		SessionTimeout:      30 * time.Second,
		EndPhrases:          []string{"goodbye", "stop listening", "that's all"},
		FallbackText:        "Sorry, I can't reach that service right now.",
	}
}

// Event payloads.
type statePayload struct {
	State  string `json:"state"`
	Mode   string `json:"mode"`
	Reason string `json:"reason,omitempty"`
}

type transcriptPayload struct {
	Text     string `json:"text"`
	Sequence int    `json:"sequence"`
}

type finalPayload struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Engine     string  `json:"engine"`
}

type chunkPayload struct {
	Text string `json:"text"`
}

// Orchestrator drives the session state machine for every room. Frame
// processing is synchronous and lock-serialized per orchestrator; the
// only off-path work is refinement and the responder call, which run on
// worker goroutines and hand results back under the lock.
type Orchestrator struct {
	cfg        Config
	newEngine  EngineFactory
	refiner    stt.Refiner
	responder  tools.Responder
	invoker    *resilience.Invoker
	publisher  *bus.Publisher
	endPhrases *EndPhraseMatcher
	logger     zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	workers  sync.WaitGroup

	now func() time.Time
}

// NewOrchestrator wires the pipeline around the given collaborators.
func NewOrchestrator(cfg Config, newEngine EngineFactory, refiner stt.Refiner, responder tools.Responder, invoker *resilience.Invoker, publisher *bus.Publisher, logger zerolog.Logger) *Orchestrator {
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 30 * time.Second
	}
	if cfg.VAD == nil {
		cfg.VAD = audio.DefaultVADConfig()
	}
	return &Orchestrator{
		cfg:        cfg,
		newEngine:  newEngine,
		refiner:    refiner,
		responder:  responder,
		invoker:    invoker,
		publisher:  publisher,
		endPhrases: NewEndPhraseMatcher(cfg.EndPhrases),
		logger:     logger.With().Str("component", "orchestrator").Logger(),
		sessions:   make(map[string]*Session),
		now:        time.Now,
	}
}

// Wake starts a session for the room. A wake signal for a room with an
// active session is dropped and logged to avoid audio cross-talk.
func (o *Orchestrator) Wake(roomID string, mode Mode) (uuid.UUID, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if existing, ok := o.sessions[roomID]; ok && existing.State != StateIdle {
		observability.RecordWakeRejected()
		o.logger.Warn().
			Str("room_id", roomID).
			Str("active_session", existing.ID.String()).
			Msg("Wake dropped, room busy")
		return uuid.Nil, ErrRoomBusy
	}

	engine, err := o.newEngine()
	if err != nil {
		return uuid.Nil, err
	}

	now := o.now()
	s := &Session{
		ID:           uuid.New(),
		RoomID:       roomID,
		Mode:         mode,
		State:        StateIdle,
		StartedAt:    now,
		lastProgress: now,
		utterance:    audio.NewUtterance(o.cfg.VAD.FrameSamples, o.cfg.VAD.MaxFrames, o.cfg.SampleRate),
		vad:          audio.NewDetector(o.cfg.VAD),
		recognizer:   stt.NewStreamingRecognizer(engine, o.cfg.DefaultConfidence, o.logger),
		engine:       engine,
	}
	o.sessions[roomID] = s

	s.transition(StateWakeDetected)
	o.publishState(s, "")
	s.transition(StateListening)
	o.publishState(s, "")

	observability.RecordSessionStart(string(mode))
	o.logger.Info().
		Str("room_id", roomID).
		Str("session_id", s.ID.String()).
		Str("mode", string(mode)).
		Msg("Session started")
	return s.ID, nil
}

// Frame feeds one raw PCM frame into the room's session. Frames for
// rooms without a listening session are dropped. Malformed frames are
// logged and dropped; the session continues.
func (o *Orchestrator) Frame(roomID string, data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, ok := o.sessions[roomID]
	if !ok {
		return nil
	}

	// Cancellation and timeout are checked at every frame boundary.
	if s.cancelled {
		o.endSession(s, "cancelled")
		return nil
	}
	if o.now().Sub(s.lastProgress) > o.cfg.SessionTimeout {
		o.timeoutSession(s)
		return ErrSessionTimeout
	}
	if s.State != StateListening {
		return nil
	}

	samples, err := audio.DecodeFrame(data, o.cfg.VAD.FrameSamples)
	if err != nil {
		var ffe *audio.FrameFormatError
		if errors.As(err, &ffe) {
			observability.RecordFrameError()
			o.logger.Warn().Err(err).Str("room_id", roomID).Msg("Dropping malformed frame")
			return nil
		}
		return err
	}

	signal, err := s.vad.Process(samples)
	if err != nil {
		observability.RecordFrameError()
		o.logger.Warn().Err(err).Str("room_id", roomID).Msg("Dropping malformed frame")
		return nil
	}

	if signal.InSpeech {
		s.progress(o.now())
		s.utterance.Append(samples)
		if partial := s.recognizer.Feed(samples); partial != nil {
			o.publish(s, bus.EventTranscriptInterim, transcriptPayload{
				Text:     partial.Text,
				Sequence: partial.Sequence,
			})
		}
	}

	if signal.UtteranceComplete {
		o.finishUtterance(s)
	}
	return nil
}

// finishUtterance runs LISTENING → TRANSCRIBING → PROCESSING for the
// buffered utterance. Called with the lock held.
func (o *Orchestrator) finishUtterance(s *Session) {
	s.transition(StateTranscribing)
	s.progress(o.now())
	o.publishState(s, "")

	final := s.recognizer.Finalize()
	observability.RecordTranscription(final.Engine, final.Confidence, final.Text != "")
	o.publish(s, bus.EventTranscriptFinal, finalPayload{
		Text:       final.Text,
		Confidence: final.Confidence,
		Engine:     final.Engine,
	})

	// Keep a copy before the buffer is recycled: refinement may still
	// need the samples after the next turn begins.
	samples := append([]int16(nil), s.utterance.Samples()...)
	s.utterance.Reset()
	s.recognizer.Reset()
	s.vad.Reset()

	effective := final.Text
	if final.Confidence < o.cfg.ConfidenceThreshold {
		observability.RecordRefinement()
		if o.cfg.PreferRefined {
			// Processing is gated on refinement so the turn's effective
			// text is settled before any downstream call starts. The
			// network call runs outside the lock: only this session
			// waits, other rooms keep processing frames.
			o.mu.Unlock()
			refined, ok := o.refine(s, samples)
			o.mu.Lock()
			if o.sessions[s.RoomID] != s || s.cancelled {
				// Cancelled or timed out while refining; the turn is over.
				return
			}
			if ok && refined.Text != "" && refined.Confidence > final.Confidence {
				effective = refined.Text
			}
		} else {
			o.refineAsync(s, samples)
		}
	}

	if effective == "" {
		o.logger.Info().Str("room_id", s.RoomID).Msg("Empty transcript, ending turn")
		o.endTurn(s)
		return
	}

	if o.endPhrases.Match(effective) {
		o.endSession(s, "end_phrase")
		return
	}

	s.transition(StateProcessing)
	s.progress(o.now())
	o.publishState(s, "")
	o.dispatchResponder(s, effective)
}

// refine runs the refinement recognizer synchronously through the
// invoker and publishes the refined transcript. The original final
// result is never retracted.
func (o *Orchestrator) refine(s *Session, samples []int16) (stt.FinalResult, bool) {
	raw, err := o.invoker.Invoke(context.Background(), DepRefiner, func(ctx context.Context) (any, error) {
		return o.refiner.Transcribe(ctx, samples, o.cfg.SampleRate)
	})
	if err != nil {
		o.logger.Warn().Err(err).Str("room_id", s.RoomID).Msg("Refinement failed")
		return stt.FinalResult{}, false
	}
	refined := raw.(stt.FinalResult)
	observability.RecordTranscription(refined.Engine, refined.Confidence, refined.Text != "")
	o.publish(s, bus.EventTranscriptRefined, finalPayload{
		Text:       refined.Text,
		Confidence: refined.Confidence,
		Engine:     refined.Engine,
	})
	return refined, true
}

// refineAsync publishes an advisory refined transcript off the frame
// path. The active turn is not touched.
func (o *Orchestrator) refineAsync(s *Session, samples []int16) {
	o.workers.Add(1)
	go func() {
		defer o.workers.Done()
		o.refine(s, samples)
	}()
}

// dispatchResponder runs the turn's downstream call on a worker
// goroutine. The result is discarded if the session was cancelled or
// superseded while the call was in flight.
func (o *Orchestrator) dispatchResponder(s *Session, text string) {
	s.epoch++
	epoch := s.epoch
	req := tools.Request{RoomID: s.RoomID, SessionID: s.ID.String(), Text: text}

	o.publish(s, bus.EventResponseStreamStart, chunkPayload{})

	o.workers.Add(1)
	go func() {
		defer o.workers.Done()

		emit := func(chunk string) {
			// Token chunks stream straight through; staleness is only
			// checked when the result lands, matching at-least-once
			// delivery on the bus.
			o.publish(s, bus.EventResponseStreamChunk, chunkPayload{Text: chunk})
		}

		reply, err := o.responder.Respond(context.Background(), req, emit)

		o.mu.Lock()
		defer o.mu.Unlock()

		if o.sessions[s.RoomID] != s || s.cancelled || s.epoch != epoch {
			o.logger.Info().Str("room_id", s.RoomID).Msg("Discarding stale responder result")
			return
		}

		if err != nil {
			o.failTurn(s, err)
			return
		}

		for _, tool := range reply.Tools {
			o.publish(s, bus.EventToolExecuted, tool)
		}
		o.publish(s, bus.EventResponseStreamComplete, chunkPayload{Text: reply.Text})

		s.transition(StateSpeaking)
		s.progress(o.now())
		o.publishState(s, "")
		o.endTurn(s)
	}()
}

// failTurn handles an unrecoverable downstream failure: the user gets a
// fallback response and the session never hangs in PROCESSING.
func (o *Orchestrator) failTurn(s *Session, err error) {
	reason := "downstream_error"
	if resilience.IsCircuitOpen(err) {
		reason = "service_unavailable"
	}
	o.logger.Error().Err(err).
		Str("room_id", s.RoomID).
		Str("session_id", s.ID.String()).
		Msg("Turn failed")

	o.publishErrorState(s, reason)
	o.publish(s, bus.EventResponseStreamComplete, chunkPayload{Text: o.cfg.FallbackText})
	o.endSession(s, reason)
}

// endTurn closes out SPEAKING: back to LISTENING in conversation mode,
// back to IDLE in single mode.
func (o *Orchestrator) endTurn(s *Session) {
	if s.Mode == ModeConversation {
		s.transition(StateListening)
		s.progress(o.now())
		s.utterance.Reset()
		s.vad.Reset()
		s.recognizer.Reset()
		o.publishState(s, "")
		return
	}
	o.endSession(s, "turn_complete")
}

// Cancel ends the room's session immediately. An in-flight downstream
// call is not aborted; its result is discarded on arrival.
func (o *Orchestrator) Cancel(roomID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.sessions[roomID]; ok {
		s.cancelled = true
		o.endSession(s, "cancelled")
	}
}

// CheckTimeouts sweeps sessions with no forward progress. Call it on a
// ticker; frame arrival also checks the active room's deadline.
func (o *Orchestrator) CheckTimeouts() {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now()
	for _, s := range o.sessions {
		if now.Sub(s.lastProgress) > o.cfg.SessionTimeout {
			o.timeoutSession(s)
		}
	}
}

// Wait blocks until all worker goroutines finish. Used on shutdown.
func (o *Orchestrator) Wait() {
	o.workers.Wait()
}

// ActiveSessions returns the number of rooms with an active session.
func (o *Orchestrator) ActiveSessions() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sessions)
}

// timeoutSession forces the session to idle. Called with the lock held.
func (o *Orchestrator) timeoutSession(s *Session) {
	observability.RecordSessionTimeout()
	o.logger.Info().
		Str("room_id", s.RoomID).
		Str("session_id", s.ID.String()).
		Msg("Session timed out")
	s.cancelled = true
	o.endSession(s, "timeout")
}

// endSession returns the session to IDLE, frees its buffers, and drops
// it from the room map. Called with the lock held. Safe to call twice.
func (o *Orchestrator) endSession(s *Session, reason string) {
	if o.sessions[s.RoomID] != s {
		return
	}
	delete(o.sessions, s.RoomID)

	s.transition(StateIdle)
	s.utterance.Reset()
	if s.engine != nil {
		if err := s.engine.Reset(); err != nil {
			o.logger.Debug().Err(err).Msg("Engine reset on session end failed")
		}
	}
	o.publishState(s, reason)
	observability.RecordSessionEnd(s.StartedAt)
	o.logger.Info().
		Str("room_id", s.RoomID).
		Str("session_id", s.ID.String()).
		Str("reason", reason).
		Msg("Session ended")
}

func (o *Orchestrator) publishState(s *Session, reason string) {
	o.publish(s, bus.EventState, statePayload{
		State:  string(s.State),
		Mode:   string(s.Mode),
		Reason: reason,
	})
}

func (o *Orchestrator) publishErrorState(s *Session, reason string) {
	o.publish(s, bus.EventState, statePayload{
		State:  "error",
		Mode:   string(s.Mode),
		Reason: reason,
	})
}

func (o *Orchestrator) publish(s *Session, event bus.EventType, payload any) {
	if err := o.publisher.Publish(s.RoomID, s.ID.String(), event, payload); err != nil {
		o.logger.Warn().Err(err).Str("event", string(event)).Msg("Event publish failed")
	}
}

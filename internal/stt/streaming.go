package stt

import (
	"github.com/rs/zerolog"
)

// DefaultConfidence is used when an engine reports no per-word scores.
const DefaultConfidence = 0.85

// StreamingRecognizer wraps a StreamEngine with the per-utterance contract
// the session pipeline depends on: changed-text partials with monotonically
// increasing sequence numbers, a confidence-scored final result, and
// engine failures degraded to an empty low-confidence result. A missed
// partial is recoverable; a crashed session is not.
//
// Not safe for concurrent use; one session owns one recognizer.
type StreamingRecognizer struct {
	engine            StreamEngine
	defaultConfidence float64
	logger            zerolog.Logger

	lastText string
	sequence int
	degraded bool
}

// NewStreamingRecognizer creates a recognizer around engine. A
// defaultConfidence of 0 selects DefaultConfidence.
func NewStreamingRecognizer(engine StreamEngine, defaultConfidence float64, logger zerolog.Logger) *StreamingRecognizer {
	if defaultConfidence <= 0 {
		defaultConfidence = DefaultConfidence
	}
	return &StreamingRecognizer{
		engine:            engine,
		defaultConfidence: defaultConfidence,
		logger:            logger,
	}
}

// Feed advances the engine with one frame. A PartialResult is returned
// only when the hypothesis text differs from the previous emission;
// otherwise nil. Engine errors are logged and swallowed.
func (r *StreamingRecognizer) Feed(samples []int16) *PartialResult {
	text, err := r.engine.Feed(samples)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Streaming engine feed failed")
		r.degraded = true
		return nil
	}

	if text == "" || text == r.lastText {
		return nil
	}

	r.lastText = text
	r.sequence++
	return &PartialResult{Text: text, Sequence: r.sequence}
}

// Finalize flushes the engine and returns the finalized result. The
// confidence is the arithmetic mean of per-word confidences, clamped to
// [0,1]; with no word scores it is exactly the configured default. On
// engine failure the result is empty with zero confidence so the
// orchestrator escalates to refinement instead of crashing the session.
func (r *StreamingRecognizer) Finalize() FinalResult {
	hyp, err := r.engine.Flush()
	if err != nil || r.degraded && hyp.Text == "" {
		if err != nil {
			r.logger.Warn().Err(err).Msg("Streaming engine flush failed")
		}
		return FinalResult{Text: "", Confidence: 0, Engine: EngineFast}
	}

	confidence := r.defaultConfidence
	if len(hyp.WordConfidences) > 0 {
		var sum float64
		for _, c := range hyp.WordConfidences {
			sum += c
		}
		confidence = sum / float64(len(hyp.WordConfidences))
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return FinalResult{Text: hyp.Text, Confidence: confidence, Engine: EngineFast}
}

// Reset prepares the recognizer for the next utterance. Idempotent:
// calling it twice leaves the recognizer in the same state as calling it
// once.
func (r *StreamingRecognizer) Reset() {
	r.lastText = ""
	r.sequence = 0
	r.degraded = false
	if err := r.engine.Reset(); err != nil {
		r.logger.Warn().Err(err).Msg("Streaming engine reset failed")
	}
}

// Sequence returns the last emitted partial sequence number.
func (r *StreamingRecognizer) Sequence() int {
	return r.sequence
}

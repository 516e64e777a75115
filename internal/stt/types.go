package stt

import (
	"context"
	"fmt"
)

// Engine identifies which recognition tier produced a FinalResult.
const (
	EngineFast    = "fast"
	EngineRefined = "refined"
)

// PartialResult is an interim hypothesis for the current utterance. Its
// sequence number increases monotonically per utterance; each partial is
// superseded by the next one or by the FinalResult. Partials are never
// persisted.
type PartialResult struct {
	Text     string `json:"text"`
	Sequence int    `json:"sequence"`
}

// FinalResult is the terminal transcription for one utterance. Confidence
// is the mean per-word confidence when the engine provides word scores,
// otherwise a configured default. Immutable once published.
type FinalResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Engine     string  `json:"engine"`
}

// Hypothesis is the raw output of a recognition engine flush.
type Hypothesis struct {
	Text            string
	WordConfidences []float64
}

// RecognitionError wraps an engine crash or empty output. The streaming
// wrapper converts it into a low-confidence empty result instead of
// letting it cross the pipeline boundary.
type RecognitionError struct {
	Engine string
	Err    error
}

func (e *RecognitionError) Error() string {
	return fmt.Sprintf("stt: %s engine: %v", e.Engine, e.Err)
}

func (e *RecognitionError) Unwrap() error {
	return e.Err
}

// StreamEngine is an incremental speech-to-text engine consumed
// frame-by-frame. Implementations own their connection lifecycle.
type StreamEngine interface {
	// Feed advances the engine with one frame and returns the current
	// hypothesis text, which may be unchanged from the previous call.
	Feed(samples []int16) (string, error)

	// Flush drains remaining audio and returns the finalized hypothesis.
	Flush() (Hypothesis, error)

	// Reset prepares the engine for the next utterance. Idempotent.
	Reset() error
}

// Refiner is a higher-accuracy, non-incremental engine run against a full
// utterance buffer when the fast tier's confidence is too low.
type Refiner interface {
	Transcribe(ctx context.Context, samples []int16, sampleRate int) (FinalResult, error)
}

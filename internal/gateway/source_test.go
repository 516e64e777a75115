package gateway

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hearthd/voice-pipeline/internal/audio"
	"github.com/hearthd/voice-pipeline/internal/bus"
	"github.com/hearthd/voice-pipeline/internal/resilience"
	"github.com/hearthd/voice-pipeline/internal/session"
	"github.com/hearthd/voice-pipeline/internal/stt"
	"github.com/hearthd/voice-pipeline/internal/tools"
)

// sliceSource replays a fixed frame list, then reports stream close.
type sliceSource struct {
	frames [][]byte
	next   int
}

func (s *sliceSource) NextFrame() ([]byte, error) {
	if s.next >= len(s.frames) {
		return nil, audio.ErrStreamClosed
	}
	f := s.frames[s.next]
	s.next++
	return f, nil
}

type silentEngine struct{}

func (silentEngine) Feed(samples []int16) (string, error) { return "hello", nil }
func (silentEngine) Flush() (stt.Hypothesis, error) {
	return stt.Hypothesis{Text: "hello", WordConfidences: []float64{0.9}}, nil
}
func (silentEngine) Reset() error { return nil }

type noopRefiner struct{}

func (noopRefiner) Transcribe(ctx context.Context, samples []int16, sampleRate int) (stt.FinalResult, error) {
	return stt.FinalResult{}, nil
}

type noopResponder struct{}

func (noopResponder) Respond(ctx context.Context, req tools.Request, emit func(string)) (*tools.Reply, error) {
	return &tools.Reply{Text: "hi"}, nil
}

type dropBroker struct{}

func (dropBroker) Publish(topic string, payload []byte) error { return nil }

func frame(amplitude int16, samples int) []byte {
	data := make([]byte, samples*audio.BytesPerSample)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(amplitude))
	}
	return data
}

func TestPumpFrames_DrainsSourceToCompletion(t *testing.T) {
	cfg := session.Config{
		SampleRate: 16000,
		VAD: &audio.VADConfig{
			EnergyThreshold: 100,
			SilenceFrames:   2,
			MinSpeechFrames: 2,
			MaxFrames:       50,
			FrameSamples:    4,
		},
		ConfidenceThreshold: 0.7,
		DefaultConfidence:   0.85,
		SessionTimeout:      30 * time.Second,
		FallbackText:        "unavailable",
	}
	publisher := bus.NewPublisher(dropBroker{}, bus.TopicScheme{Namespace: "assistant", Versions: []string{"2"}}, zerolog.Nop())
	invoker := resilience.NewInvoker(resilience.NewRegistry(5, time.Minute), resilience.RetryConfig{
		MaxAttempts: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1,
	}, zerolog.Nop())
	factory := func() (stt.StreamEngine, error) { return silentEngine{}, nil }
	orch := session.NewOrchestrator(cfg, factory, noopRefiner{}, noopResponder{}, invoker, publisher, zerolog.Nop())

	if _, err := orch.Wake("den", session.ModeSingle); err != nil {
		t.Fatalf("Wake: %v", err)
	}

	src := &sliceSource{frames: [][]byte{
		frame(2000, 4), frame(2000, 4), frame(2000, 4),
		frame(0, 4), frame(0, 4),
	}}
	if err := PumpFrames(orch, "den", src); err != nil {
		t.Fatalf("PumpFrames: %v", err)
	}
	orch.Wait()

	if n := orch.ActiveSessions(); n != 0 {
		t.Fatalf("single-mode session should complete, %d still active", n)
	}
}

package stt

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	restv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"
)

// DeepgramRestConfig configures the refinement tier.
type DeepgramRestConfig struct {
	APIKey   string
	Model    string
	Language string
}

// DeepgramRest is the refinement Refiner: a non-incremental pass over the
// full utterance buffer through Deepgram's prerecorded API with a larger
// model than the streaming tier.
type DeepgramRest struct {
	cfg    DeepgramRestConfig
	api    *restv1api.Client
	logger zerolog.Logger
}

// NewDeepgramRest creates the refiner.
func NewDeepgramRest(cfg DeepgramRestConfig, logger zerolog.Logger) *DeepgramRest {
	client := listenClient.NewREST(cfg.APIKey, &interfaces.ClientOptions{})
	return &DeepgramRest{
		cfg:    cfg,
		api:    restv1api.New(client),
		logger: logger,
	}
}

// Transcribe runs the full utterance through the prerecorded API and
// returns a FinalResult tagged with the refined engine.
func (d *DeepgramRest) Transcribe(ctx context.Context, samples []int16, sampleRate int) (FinalResult, error) {
	if len(samples) == 0 {
		return FinalResult{}, &RecognitionError{Engine: EngineRefined, Err: fmt.Errorf("empty utterance")}
	}

	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:       d.cfg.Model,
		Language:    d.cfg.Language,
		Punctuate:   true,
		SmartFormat: true,
	}

	res, err := d.api.FromStream(ctx, bytes.NewReader(wavEncode(samples, sampleRate)), options)
	if err != nil {
		return FinalResult{}, &RecognitionError{Engine: EngineRefined, Err: fmt.Errorf("prerecorded request: %w", err)}
	}

	if len(res.Results.Channels) == 0 || len(res.Results.Channels[0].Alternatives) == 0 {
		return FinalResult{}, &RecognitionError{Engine: EngineRefined, Err: fmt.Errorf("empty response")}
	}

	alt := res.Results.Channels[0].Alternatives[0]

	confidence := alt.Confidence
	if len(alt.Words) > 0 {
		var sum float64
		for _, w := range alt.Words {
			sum += w.Confidence
		}
		confidence = sum / float64(len(alt.Words))
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return FinalResult{Text: alt.Transcript, Confidence: confidence, Engine: EngineRefined}, nil
}

// wavEncode wraps raw PCM16 mono samples in a minimal RIFF/WAVE header so
// the prerecorded API can detect the format without extra query options.
func wavEncode(samples []int16, sampleRate int) []byte {
	dataLen := len(samples) * 2
	buf := bytes.NewBuffer(make([]byte, 0, 44+dataLen))

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(buf, binary.LittleEndian, uint16(2))
	binary.Write(buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataLen))
	binary.Write(buf, binary.LittleEndian, samples)

	return buf.Bytes()
}

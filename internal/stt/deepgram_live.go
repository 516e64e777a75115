package stt

import (
	"context"
	"fmt"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"
)

// DeepgramLiveConfig configures the low-latency streaming engine.
type DeepgramLiveConfig struct {
	APIKey     string
	Model      string
	Language   string
	SampleRate int
}

// liveCallbackHandler implements the LiveMessageCallback interface. It
// embeds the SDK's default handler and overrides only Message and Error.
type liveCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	onMessage func(*msginterfaces.MessageResponse)
	onError   func(*msginterfaces.ErrorResponse) error
}

func (h *liveCallbackHandler) Message(msg *msginterfaces.MessageResponse) error {
	h.onMessage(msg)
	return nil
}

func (h *liveCallbackHandler) Error(errResp *msginterfaces.ErrorResponse) error {
	if h.onError != nil {
		return h.onError(errResp)
	}
	return h.DefaultCallbackHandler.Error(errResp)
}

// DeepgramLive is the fast recognition tier: a StreamEngine backed by
// Deepgram's streaming websocket API. Feed pushes PCM16 audio and returns
// whatever hypothesis the callback has accumulated so far; Flush finishes
// the stream and waits briefly for the final message.
type DeepgramLive struct {
	cfg    DeepgramLiveConfig
	logger zerolog.Logger

	mu      sync.Mutex
	client  *listenClient.WSCallback
	active  bool
	latest  string
	final   *Hypothesis
	finalCh chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewDeepgramLive creates the engine. The websocket connection is opened
// lazily on the first Feed (or by Reset).
func NewDeepgramLive(cfg DeepgramLiveConfig, logger zerolog.Logger) *DeepgramLive {
	ctx, cancel := context.WithCancel(context.Background())
	return &DeepgramLive{
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// connect opens the streaming websocket. Caller holds d.mu.
func (d *DeepgramLive) connect() error {
	if d.active {
		return nil
	}

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.cfg.Model,
		Language:       d.cfg.Language,
		Punctuate:      true,
		InterimResults: true,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     d.cfg.SampleRate,
	}

	callback := &liveCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		onMessage:              d.handleMessage,
		onError: func(errResp *msginterfaces.ErrorResponse) error {
			d.logger.Warn().
				Str("type", errResp.Type).
				Str("description", errResp.Description).
				Msg("Deepgram stream error")
			d.mu.Lock()
			d.active = false
			d.mu.Unlock()
			return nil
		},
	}

	client, err := listenClient.NewWSUsingCallback(d.ctx, d.cfg.APIKey, nil, tOptions, callback)
	if err != nil {
		return &RecognitionError{Engine: EngineFast, Err: fmt.Errorf("create deepgram client: %w", err)}
	}

	d.client = client
	d.active = true
	d.latest = ""
	d.final = nil
	d.finalCh = make(chan struct{})
	return nil
}

func (d *DeepgramLive) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil || len(msg.Channel.Alternatives) == 0 {
		return
	}

	alt := msg.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.latest = alt.Transcript
	if msg.IsFinal && d.final == nil {
		words := make([]float64, 0, len(alt.Words))
		for _, w := range alt.Words {
			words = append(words, w.Confidence)
		}
		d.final = &Hypothesis{Text: alt.Transcript, WordConfidences: words}
		if d.finalCh != nil {
			close(d.finalCh)
			d.finalCh = nil
		}
	}
}

// Feed sends one frame and returns the current hypothesis text.
func (d *DeepgramLive) Feed(samples []int16) (string, error) {
	d.mu.Lock()
	if err := d.connect(); err != nil {
		d.mu.Unlock()
		return "", err
	}
	client := d.client
	latest := d.latest
	d.mu.Unlock()

	if _, err := client.Write(samplesToBytes(samples)); err != nil {
		return latest, &RecognitionError{Engine: EngineFast, Err: fmt.Errorf("send audio: %w", err)}
	}
	return latest, nil
}

// Flush finishes the stream and waits up to two seconds for the final
// message. If no final arrives, the latest interim hypothesis is returned
// with no word scores so the wrapper applies its default confidence.
func (d *DeepgramLive) Flush() (Hypothesis, error) {
	d.mu.Lock()
	if !d.active || d.client == nil {
		latest := d.latest
		d.mu.Unlock()
		if latest == "" {
			return Hypothesis{}, &RecognitionError{Engine: EngineFast, Err: fmt.Errorf("engine not active")}
		}
		return Hypothesis{Text: latest}, nil
	}
	client := d.client
	waitCh := d.finalCh
	d.mu.Unlock()

	client.Finish()

	if waitCh != nil {
		select {
		case <-waitCh:
		case <-time.After(2 * time.Second):
		case <-d.ctx.Done():
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = false
	d.client = nil

	if d.final != nil {
		return *d.final, nil
	}
	return Hypothesis{Text: d.latest}, nil
}

// Reset drops any in-flight state and reopens the stream for the next
// utterance. Idempotent.
func (d *DeepgramLive) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active && d.client != nil {
		d.client.Finish()
	}
	d.client = nil
	d.active = false
	d.latest = ""
	d.final = nil
	d.finalCh = nil
	return nil
}

// Close tears the engine down permanently.
func (d *DeepgramLive) Close() error {
	d.cancel()
	return d.Reset()
}

// samplesToBytes converts PCM16 samples to little-endian bytes.
func samplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}

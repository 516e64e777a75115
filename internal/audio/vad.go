package audio

// VADConfig holds configuration for voice activity detection.
type VADConfig struct {
	EnergyThreshold float64 // Mean absolute amplitude above which a frame counts as speech
	SilenceFrames   int     // Consecutive silence frames that end an utterance
	MinSpeechFrames int     // Speech frames required before silence may end the utterance
	MaxFrames       int     // Utterance length at which completion is forced
	FrameSamples    int     // Samples per frame; frames of any other length are rejected
}

// DefaultVADConfig returns a configuration tuned for 16kHz mono capture
// with 20ms frames.
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   25,  // 500ms of silence ends the utterance
		MinSpeechFrames: 5,   // 100ms of speech before silence can end it
		MaxFrames:       750, // 15s hard cap
		FrameSamples:    320, // 20ms at 16kHz
	}
}

// Signal is the detector's verdict for one frame.
type Signal struct {
	// InSpeech reports whether the detector currently considers the
	// stream to be inside an utterance.
	InSpeech bool

	// UtteranceComplete reports that the current utterance has ended,
	// either through sustained silence or the maximum-duration cap.
	UtteranceComplete bool
}

// Detector classifies frames as speech or silence and decides utterance
// boundaries. An utterance completes only after SilenceFrames consecutive
// silent frames AND at least MinSpeechFrames speech frames overall, so a
// short noise burst never produces a truncated utterance. If MaxFrames is
// reached without silence, completion is forced.
//
// Detector is not safe for concurrent use; one session owns one detector.
type Detector struct {
	config *VADConfig

	inSpeech    bool
	speechTotal int // speech frames observed in the current utterance
	silenceRun  int // consecutive silence frames
	totalFrames int // frames observed since the utterance started
}

// NewDetector creates a detector. A nil config selects defaults.
func NewDetector(config *VADConfig) *Detector {
	if config == nil {
		config = DefaultVADConfig()
	}
	return &Detector{config: config}
}

// Process classifies one frame and advances the utterance state machine.
// Frames of the wrong length are rejected with a FrameFormatError and do
// not advance the state.
func (d *Detector) Process(samples []int16) (Signal, error) {
	if len(samples) != d.config.FrameSamples {
		return Signal{}, &FrameFormatError{
			GotBytes:  len(samples) * BytesPerSample,
			WantBytes: d.config.FrameSamples * BytesPerSample,
		}
	}

	frameHasSpeech := MeanAbs(samples) > d.config.EnergyThreshold

	if frameHasSpeech {
		d.silenceRun = 0
		d.speechTotal++
		d.inSpeech = true
	} else {
		d.silenceRun++
		if d.inSpeech && d.silenceRun >= d.config.SilenceFrames {
			d.inSpeech = false
		}
	}

	// Frames count toward the utterance only once speech has begun.
	if d.inSpeech || d.speechTotal > 0 {
		d.totalFrames++
	}

	complete := false
	if d.speechTotal >= d.config.MinSpeechFrames && !d.inSpeech && d.silenceRun >= d.config.SilenceFrames {
		complete = true
	}
	if d.config.MaxFrames > 0 && d.totalFrames >= d.config.MaxFrames && d.speechTotal > 0 {
		// Maximum utterance duration reached without enough silence.
		complete = true
	}

	sig := Signal{InSpeech: d.inSpeech, UtteranceComplete: complete}
	if complete {
		d.Reset()
	}
	return sig, nil
}

// Reset clears all utterance state. Safe to call at any time.
func (d *Detector) Reset() {
	d.inSpeech = false
	d.speechTotal = 0
	d.silenceRun = 0
	d.totalFrames = 0
}

// InSpeech reports whether the detector is currently inside an utterance.
func (d *Detector) InSpeech() bool {
	return d.inSpeech
}

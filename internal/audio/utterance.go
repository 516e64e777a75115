package audio

import "time"

// Utterance accumulates the frames of one detected speech span. It is
// owned exclusively by the session that allocated it for the duration of
// one recognition cycle and is discarded (Reset) after finalization, so it
// carries no locking.
type Utterance struct {
	samples    []int16
	frames     int
	maxSamples int
	sampleRate int
}

// NewUtterance creates an utterance buffer capped at maxFrames frames of
// frameSamples samples each.
func NewUtterance(frameSamples, maxFrames, sampleRate int) *Utterance {
	capSamples := frameSamples * maxFrames
	return &Utterance{
		samples:    make([]int16, 0, capSamples),
		maxSamples: capSamples,
		sampleRate: sampleRate,
	}
}

// Append adds one frame. Frames past the cap are silently dropped; the
// detector forces completion at the same bound, so overflow only occurs
// when the two configs disagree.
func (u *Utterance) Append(frame []int16) {
	if len(u.samples)+len(frame) > u.maxSamples {
		return
	}
	u.samples = append(u.samples, frame...)
	u.frames++
}

// Samples returns the accumulated audio. The slice aliases the internal
// buffer and is valid until the next Reset.
func (u *Utterance) Samples() []int16 {
	return u.samples
}

// Frames returns the number of appended frames.
func (u *Utterance) Frames() int {
	return u.frames
}

// Duration returns the buffered audio length.
func (u *Utterance) Duration() time.Duration {
	if u.sampleRate == 0 {
		return 0
	}
	return time.Duration(len(u.samples)) * time.Second / time.Duration(u.sampleRate)
}

// Reset frees the utterance for reuse.
func (u *Utterance) Reset() {
	u.samples = u.samples[:0]
	u.frames = 0
}

package audio

import (
	"errors"
	"fmt"
)

// BytesPerSample is the width of one PCM16 sample on the wire.
const BytesPerSample = 2

// ErrStreamClosed is the sentinel returned by a FrameSource when the
// capture device has no more frames to deliver.
var ErrStreamClosed = errors.New("audio: frame source closed")

// FrameSource is the pull interface the pipeline depends on for raw audio.
// NextFrame returns one fixed-duration frame of little-endian PCM16 bytes,
// or ErrStreamClosed on EOF. Short reads are the source's problem: a frame
// is either complete or not delivered.
type FrameSource interface {
	NextFrame() ([]byte, error)
}

// FrameFormatError reports a frame whose byte length does not match the
// configured frame size. Malformed frames are dropped; they never abort a
// session.
type FrameFormatError struct {
	GotBytes  int
	WantBytes int
}

func (e *FrameFormatError) Error() string {
	return fmt.Sprintf("audio: malformed frame: got %d bytes, want %d", e.GotBytes, e.WantBytes)
}

// DecodeFrame converts one frame of little-endian PCM16 bytes into samples.
// The frame must contain exactly wantSamples samples.
func DecodeFrame(data []byte, wantSamples int) ([]int16, error) {
	if len(data) != wantSamples*BytesPerSample {
		return nil, &FrameFormatError{GotBytes: len(data), WantBytes: wantSamples * BytesPerSample}
	}

	samples := make([]int16, wantSamples)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples, nil
}

// MeanAbs returns the mean absolute amplitude of a frame. This is the
// energy measure the detector compares against its threshold.
func MeanAbs(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		v := float64(s)
		if v < 0 {
			v = -v
		}
		sum += v
	}
	return sum / float64(len(samples))
}

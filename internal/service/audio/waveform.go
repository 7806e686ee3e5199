// Package audio turns uploaded clips of any supported container into the
// mono 16 kHz waveform the recognition engine expects.
package audio

import (
	"errors"
	"fmt"
	"time"
)

// TargetSampleRate is the rate every waveform is normalized to.
const TargetSampleRate = 16000

// Waveform is mono PCM in [-1, 1] at SampleRate. It belongs to a single
// request and is discarded after inference.
type Waveform struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the length in seconds derived from the sample count.
func (w Waveform) Duration() float64 {
	if w.SampleRate <= 0 {
		return 0
	}
	return float64(len(w.Samples)) / float64(w.SampleRate)
}

// DurationTime is Duration as a time.Duration.
func (w Waveform) DurationTime() time.Duration {
	return time.Duration(w.Duration() * float64(time.Second))
}

// ErrEmptyAudio is returned when decoding yields no samples.
var ErrEmptyAudio = errors.New("decoded audio contains no samples")

// DecodeError reports unreadable or corrupt audio. The extension passed
// validation, so this is a server-side failure distinct from validation.
type DecodeError struct {
	Format string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s audio: %v", e.Format, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

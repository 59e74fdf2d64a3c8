// Package energy provides a keyless fallback wake detector based on speech
// energy. It triggers on a sustained loud burst after silence, which lets
// the daemon run without a Picovoice access key at the cost of treating any
// speech onset as the wake phrase.
package energy

import (
	"errors"
	"fmt"

	"github.com/tubevox/tubevox/pkg/audio"
	"github.com/tubevox/tubevox/pkg/provider/wakeword"
)

const (
	// defaultThreshold is the RMS level (16-bit PCM units) above which a
	// frame counts as speech. 300 corresponds to near-silence.
	defaultThreshold = 1500.0

	// defaultActiveFrames is how many consecutive speech frames must be
	// seen before triggering.
	defaultActiveFrames = 3

	// defaultCooldownFrames suppresses re-triggering while an utterance
	// is still in flight.
	defaultCooldownFrames = 60

	defaultFrameLength = 512
)

// Ensure Detector implements wakeword.Detector at compile time.
var _ wakeword.Detector = (*Detector)(nil)

// Option is a functional option for Detector.
type Option func(*Detector)

// WithThreshold sets the RMS speech threshold.
func WithThreshold(rms float64) Option {
	return func(d *Detector) {
		d.threshold = rms
	}
}

// WithActiveFrames sets how many consecutive speech frames trigger detection.
func WithActiveFrames(n int) Option {
	return func(d *Detector) {
		d.activeFrames = n
	}
}

// WithFrameLength sets the expected frame size in samples.
func WithFrameLength(n int) Option {
	return func(d *Detector) {
		d.frameLength = n
	}
}

// Detector implements wakeword.Detector by thresholding frame energy.
type Detector struct {
	threshold    float64
	activeFrames int
	frameLength  int

	streak   int
	cooldown int
	closed   bool
}

// New creates an energy Detector with the given options applied.
func New(opts ...Option) *Detector {
	d := &Detector{
		threshold:    defaultThreshold,
		activeFrames: defaultActiveFrames,
		frameLength:  defaultFrameLength,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// FrameLength implements wakeword.Detector.
func (d *Detector) FrameLength() int {
	return d.frameLength
}

// SampleRate implements wakeword.Detector.
func (d *Detector) SampleRate() int {
	return audio.CaptureRate
}

// Process implements wakeword.Detector. It reports true once the configured
// number of consecutive frames exceed the energy threshold, then stays quiet
// for a cooldown window so the captured utterance does not re-trigger it.
func (d *Detector) Process(frame []int16) (bool, error) {
	if d.closed {
		return false, errors.New("energy: detector is closed")
	}
	if len(frame) != d.frameLength {
		return false, fmt.Errorf("energy: frame length %d, want %d", len(frame), d.frameLength)
	}

	if d.cooldown > 0 {
		d.cooldown--
		return false, nil
	}

	if audio.RMS(frame) >= d.threshold {
		d.streak++
	} else {
		d.streak = 0
	}

	if d.streak >= d.activeFrames {
		d.streak = 0
		d.cooldown = defaultCooldownFrames
		return true, nil
	}
	return false, nil
}

// Close implements wakeword.Detector.
func (d *Detector) Close() error {
	d.closed = true
	return nil
}

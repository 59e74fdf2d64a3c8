// Package mock provides a test double for the wakeword.Detector interface.
//
// Set TriggerOnFrame to make Process report a detection on the n-th call
// (1-based), or flip Triggered manually between calls.
package mock

import (
	"fmt"
	"sync"

	"github.com/tubevox/tubevox/pkg/provider/wakeword"
)

// Detector is a mock implementation of wakeword.Detector.
type Detector struct {
	mu sync.Mutex

	// FrameLengthValue is returned by FrameLength. Defaults to 512.
	FrameLengthValue int

	// SampleRateValue is returned by SampleRate. Defaults to 16000.
	SampleRateValue int

	// TriggerOnFrame makes the n-th Process call (1-based) report a
	// detection. Zero disables.
	TriggerOnFrame int

	// Triggered, when true, makes the next Process call report a
	// detection and then resets.
	Triggered bool

	// ProcessErr, if non-nil, is returned by every Process call.
	ProcessErr error

	// ProcessCalls counts Process invocations.
	ProcessCalls int

	// CloseCalls counts Close invocations.
	CloseCalls int
}

// FrameLength returns FrameLengthValue or 512 when unset.
func (d *Detector) FrameLength() int {
	if d.FrameLengthValue == 0 {
		return 512
	}
	return d.FrameLengthValue
}

// SampleRate returns SampleRateValue or 16000 when unset.
func (d *Detector) SampleRate() int {
	if d.SampleRateValue == 0 {
		return 16000
	}
	return d.SampleRateValue
}

// Process records the call and reports a detection per the trigger fields.
func (d *Detector) Process(frame []int16) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(frame) != d.FrameLength() {
		return false, fmt.Errorf("mock detector: frame length %d, want %d", len(frame), d.FrameLength())
	}
	d.ProcessCalls++
	if d.ProcessErr != nil {
		return false, d.ProcessErr
	}
	if d.Triggered {
		d.Triggered = false
		return true, nil
	}
	return d.TriggerOnFrame > 0 && d.ProcessCalls == d.TriggerOnFrame, nil
}

// Close records the call.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CloseCalls++
	return nil
}

// Ensure Detector implements wakeword.Detector at compile time.
var _ wakeword.Detector = (*Detector)(nil)

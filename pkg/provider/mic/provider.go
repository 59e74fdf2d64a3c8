// Package mic defines the Source interface for microphone capture backends.
//
// A source delivers 16-bit mono PCM frames at the rate the backend was
// opened with. The capture pipeline reads frames in a single goroutine.
package mic

import "context"

// Source is the abstraction over any microphone capture backend.
type Source interface {
	// Start begins capture. It must be called before Read.
	Start(ctx context.Context) error

	// Read blocks until the next frame of samples is available. It
	// returns an error once the source is stopped or the device fails.
	Read() ([]int16, error)

	// SampleRate returns the capture rate in Hz.
	SampleRate() int

	// Close stops capture and releases the device. Safe to call more
	// than once.
	Close() error
}

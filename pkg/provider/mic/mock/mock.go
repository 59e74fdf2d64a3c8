// Package mock provides a test double for the mic.Source interface.
//
// Queue frames with Enqueue; Read returns them in order and then blocks
// until another frame arrives or the source is closed.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/tubevox/tubevox/pkg/provider/mic"
)

// ErrClosed is returned by Read after Close.
var ErrClosed = errors.New("mock mic: source is closed")

// Source is a mock implementation of mic.Source.
type Source struct {
	// SampleRateValue is returned by SampleRate. Defaults to 16000.
	SampleRateValue int

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	mu        sync.Mutex
	frames    chan []int16
	started   bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewSource creates a Source with room for bufferedFrames queued frames.
func NewSource(bufferedFrames int) *Source {
	if bufferedFrames <= 0 {
		bufferedFrames = 256
	}
	return &Source{
		frames: make(chan []int16, bufferedFrames),
		done:   make(chan struct{}),
	}
}

// Enqueue queues one frame for a future Read call.
func (s *Source) Enqueue(frame []int16) {
	cp := append([]int16(nil), frame...)
	select {
	case s.frames <- cp:
	case <-s.done:
	}
}

// Start implements mic.Source.
func (s *Source) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StartErr != nil {
		return s.StartErr
	}
	s.started = true
	return nil
}

// Started reports whether Start has been called successfully.
func (s *Source) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Read implements mic.Source.
func (s *Source) Read() ([]int16, error) {
	select {
	case frame := <-s.frames:
		return frame, nil
	case <-s.done:
		return nil, ErrClosed
	}
}

// SampleRate returns SampleRateValue or 16000 when unset.
func (s *Source) SampleRate() int {
	if s.SampleRateValue == 0 {
		return 16000
	}
	return s.SampleRateValue
}

// Close implements mic.Source. Safe to call more than once.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	return nil
}

// Ensure Source implements mic.Source at compile time.
var _ mic.Source = (*Source)(nil)

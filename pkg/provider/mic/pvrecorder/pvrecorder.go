// Package pvrecorder provides a microphone source backed by Picovoice
// PvRecorder, a small cross-platform capture library that pairs with the
// Porcupine wake-word engine and shares its 16 kHz frame format.
package pvrecorder

import (
	"context"
	"errors"
	"fmt"
	"sync"

	pvr "github.com/Picovoice/pvrecorder/binding/go"

	"github.com/tubevox/tubevox/pkg/audio"
	"github.com/tubevox/tubevox/pkg/provider/mic"
)

// DefaultFrameLength matches the Porcupine engine frame size so captured
// frames feed the detector without re-chunking.
const DefaultFrameLength = 512

// Ensure Source implements mic.Source at compile time.
var _ mic.Source = (*Source)(nil)

// Option is a functional option for Source.
type Option func(*Source)

// WithDeviceIndex selects a capture device. -1 (the default) picks the
// system default device.
func WithDeviceIndex(idx int) Option {
	return func(s *Source) {
		s.deviceIndex = idx
	}
}

// WithFrameLength sets the samples per Read call.
func WithFrameLength(n int) Option {
	return func(s *Source) {
		s.frameLength = n
	}
}

// Source implements mic.Source using PvRecorder.
type Source struct {
	deviceIndex int
	frameLength int

	mu       sync.Mutex
	recorder *pvr.PvRecorder
	started  bool
	closed   bool
}

// New creates an unstarted Source with the options applied.
func New(opts ...Option) *Source {
	s := &Source{
		deviceIndex: -1,
		frameLength: DefaultFrameLength,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start implements mic.Source. The device is opened here rather than in New
// so construction stays cheap and error-free for wiring.
func (s *Source) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("pvrecorder: context already cancelled: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("pvrecorder: source is closed")
	}
	if s.started {
		return nil
	}

	rec := &pvr.PvRecorder{
		DeviceIndex:         s.deviceIndex,
		FrameLength:         s.frameLength,
		BufferedFramesCount: 50,
	}
	if err := rec.Init(); err != nil {
		return fmt.Errorf("pvrecorder: init device: %w", err)
	}
	if err := rec.Start(); err != nil {
		rec.Delete()
		return fmt.Errorf("pvrecorder: start capture: %w", err)
	}
	s.recorder = rec
	s.started = true
	return nil
}

// Read implements mic.Source.
func (s *Source) Read() ([]int16, error) {
	s.mu.Lock()
	rec := s.recorder
	started := s.started
	s.mu.Unlock()
	if !started || rec == nil {
		return nil, errors.New("pvrecorder: source not started")
	}

	frame, err := rec.Read()
	if err != nil {
		return nil, fmt.Errorf("pvrecorder: read frame: %w", err)
	}
	return frame, nil
}

// SampleRate implements mic.Source. PvRecorder always captures at 16 kHz.
func (s *Source) SampleRate() int {
	return audio.CaptureRate
}

// Close implements mic.Source.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.recorder != nil {
		if s.started {
			if err := s.recorder.Stop(); err != nil {
				s.recorder.Delete()
				return fmt.Errorf("pvrecorder: stop capture: %w", err)
			}
		}
		s.recorder.Delete()
		s.recorder = nil
	}
	return nil
}

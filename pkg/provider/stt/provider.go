// Package stt defines the Provider interface for Speech-to-Text backends.
//
// The daemon transcribes in batches rather than streams: the wake pipeline
// hands over one complete captured utterance at a time, and the transcript
// layer submits whole audio tracks when a video has no usable captions. The
// central abstraction is therefore a single blocking Transcribe call.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"time"
)

// Request carries one utterance or audio track to transcribe.
type Request struct {
	// PCM is raw 16-bit signed little-endian mono audio.
	PCM []byte

	// SampleRate is the audio sample rate in Hz. Zero means 16000.
	SampleRate int

	// Language is the BCP-47 language hint (e.g. "en"). Empty lets the
	// provider auto-detect, if supported.
	Language string
}

// Segment is a time-aligned slice of a transcription result. Providers that
// cannot produce timing information leave Start and End at zero.
type Segment struct {
	Text  string
	Start time.Duration
	End   time.Duration
}

// Result is a completed transcription.
type Result struct {
	// Text is the full transcribed content.
	Text string

	// Segments holds time-aligned pieces when the provider reports them.
	// May be nil.
	Segments []Segment
}

// Provider is the abstraction over any batch STT backend.
type Provider interface {
	// Transcribe submits one audio payload and blocks until the provider
	// returns text or the context is cancelled.
	Transcribe(ctx context.Context, req Request) (Result, error)
}

// Package tts defines the Provider interface for Text-to-Speech backends.
//
// Synthesis is batch: the answer layer produces a complete spoken reply and
// the daemon wraps the returned PCM in a WAV container for the extension to
// fetch. Streaming synthesis is unnecessary at these reply lengths.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Voice describes a synthesis voice configuration.
type Voice struct {
	// ID is the provider-specific voice identifier. Empty selects the
	// provider's default voice.
	ID string

	// SpeedFactor adjusts speaking rate (0.5-2.0, 0 = provider default).
	SpeedFactor float64
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts text to raw 16-bit signed little-endian mono PCM
	// at 16 kHz. It blocks until synthesis completes or ctx is cancelled.
	// An empty text returns an error rather than silence.
	Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error)
}

// Package mock provides a test double for the embeddings.Provider interface.
//
// Vectors returns deterministic per-text vectors so similarity tests can
// construct known orderings; Fn replaces the whole computation when a test
// needs full control.
package mock

import (
	"context"
	"sync"

	"github.com/tubevox/tubevox/pkg/provider/embeddings"
)

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// Vectors maps input text to the vector returned for it. Texts not
	// present fall back to Fn, then to a zero vector of DimensionsValue.
	Vectors map[string][]float32

	// Fn, if non-nil, computes the vector for texts absent from Vectors.
	Fn func(text string) []float32

	// EmbedErr, if non-nil, is returned from Embed and EmbedBatch.
	EmbedErr error

	// DimensionsValue is returned by Dimensions.
	DimensionsValue int

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	// EmbedCalls records every text passed to Embed or EmbedBatch in order.
	EmbedCalls []string
}

// Embed records the call and returns the configured vector for text.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, text)
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	return p.vectorFor(text), nil
}

// EmbedBatch records the calls and returns one vector per input text.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, texts...)
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vectorFor(t)
	}
	return out, nil
}

// Dimensions returns DimensionsValue.
func (p *Provider) Dimensions() int { return p.DimensionsValue }

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string { return p.ModelIDValue }

// CallCount returns the number of texts embedded so far. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.EmbedCalls)
}

func (p *Provider) vectorFor(text string) []float32 {
	if v, ok := p.Vectors[text]; ok {
		return append([]float32(nil), v...)
	}
	if p.Fn != nil {
		return p.Fn(text)
	}
	return make([]float32, p.DimensionsValue)
}

// Ensure Provider implements embeddings.Provider at compile time.
var _ embeddings.Provider = (*Provider)(nil)

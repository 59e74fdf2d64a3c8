// Package embeddings defines the Provider interface for vector embedding
// backends.
//
// An embeddings provider maps text to dense float32 vectors. The semantic
// layer uses these vectors to find the transcript segment closest in meaning
// to a spoken phrase ("jump to where they discuss transformers").
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by a single Provider instance share the same
// dimensionality. Vectors from different models must never be compared; the
// semantic index records ModelID so stale vectors are detected and rebuilt
// rather than mixed.
type Provider interface {
	// Embed computes the embedding vector for a single text string.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes vectors for a slice of texts in one provider
	// call. The i-th result corresponds to texts[i]. On error the entire
	// result is nil; partial results are not returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every vector this provider
	// produces.
	Dimensions() int

	// ModelID returns the provider-specific model identifier
	// (e.g. "text-embedding-3-small"). The semantic index persists it
	// alongside stored vectors.
	ModelID() string
}

// Package search defines the Provider interface for web search backends.
//
// The answer layer uses search to ground conversational replies in current
// information before handing the snippets to an LLM for synthesis.
//
// Implementations must be safe for concurrent use.
package search

import "context"

// Result is one web search hit.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score,omitempty"`
}

// Provider is the abstraction over any web search backend.
type Provider interface {
	// Search runs one query and returns up to maxResults hits ordered by
	// relevance. maxResults <= 0 means the provider default.
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// Package mock provides a test double for the search.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/tubevox/tubevox/pkg/provider/search"
)

// SearchCall records a single invocation of Provider.Search.
type SearchCall struct {
	Query      string
	MaxResults int
}

// Provider is a mock implementation of search.Provider.
type Provider struct {
	mu sync.Mutex

	// Results is returned by every Search call.
	Results []search.Result

	// SearchErr, if non-nil, is returned as the error from Search.
	SearchErr error

	// Calls records every call to Search in order.
	Calls []SearchCall
}

// Search records the call and returns Results, SearchErr.
func (p *Provider) Search(_ context.Context, query string, maxResults int) ([]search.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, SearchCall{Query: query, MaxResults: maxResults})
	if p.SearchErr != nil {
		return nil, p.SearchErr
	}
	return append([]search.Result(nil), p.Results...), nil
}

// CallCount returns the number of Search calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Ensure Provider implements search.Provider at compile time.
var _ search.Provider = (*Provider)(nil)

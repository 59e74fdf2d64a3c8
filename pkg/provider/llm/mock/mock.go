// Package mock provides a test double for the llm.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/tubevox/tubevox/pkg/provider/llm"
)

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Content is the reply text returned by Complete.
	Content string

	// CompleteErr, if non-nil, is returned as the error from Complete.
	CompleteErr error

	// ModelIDValue is returned by ModelID. Defaults to "mock-llm".
	ModelIDValue string

	// Requests records every request passed to Complete in order.
	Requests []llm.CompletionRequest
}

// Complete records the call and returns Content, CompleteErr.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Requests = append(p.Requests, req)
	if p.CompleteErr != nil {
		return nil, p.CompleteErr
	}
	return &llm.CompletionResponse{Content: p.Content}, nil
}

// ModelID returns ModelIDValue or "mock-llm" when unset.
func (p *Provider) ModelID() string {
	if p.ModelIDValue == "" {
		return "mock-llm"
	}
	return p.ModelIDValue
}

// CallCount returns the number of Complete calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}

// LastRequest returns the most recent request, or a zero value when none.
func (p *Provider) LastRequest() llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Requests) == 0 {
		return llm.CompletionRequest{}
	}
	return p.Requests[len(p.Requests)-1]
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)

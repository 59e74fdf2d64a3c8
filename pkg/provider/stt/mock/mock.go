// Package mock provides a test double for the stt.Provider interface.
//
// Pre-populate Result (or Results for per-call sequencing) with what the
// consumer should receive, then inspect Calls afterwards.
package mock

import (
	"context"
	"sync"

	"github.com/tubevox/tubevox/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Req is the request passed to Transcribe. PCM is a copy.
	Req stt.Request
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by every Transcribe call when Results is empty.
	Result stt.Result

	// Results, when non-empty, is consumed one entry per call before
	// falling back to Result.
	Results []stt.Result

	// TranscribeErr, if non-nil, is returned as the error from Transcribe.
	TranscribeErr error

	// Calls records every call to Transcribe in order.
	Calls []TranscribeCall
}

// Transcribe records the call and returns the next configured result.
func (p *Provider) Transcribe(_ context.Context, req stt.Request) (stt.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cp := req
	cp.PCM = append([]byte(nil), req.PCM...)
	p.Calls = append(p.Calls, TranscribeCall{Req: cp})

	if p.TranscribeErr != nil {
		return stt.Result{}, p.TranscribeErr
	}
	if len(p.Results) > 0 {
		res := p.Results[0]
		p.Results = p.Results[1:]
		return res, nil
	}
	return p.Result, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// Package mock provides test doubles for the realtime package interfaces.
//
// Use Provider to verify Connect calls and feed controlled sessions. Use
// Session to drive the event stream and inspect which messages the registry
// and turn aggregator sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Emit(realtime.Event{Kind: realtime.EventTextDelta, Text: "hi"})
package mock

import (
	"context"
	"sync"

	"github.com/tubevox/tubevox/pkg/provider/realtime"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg realtime.SessionConfig
}

// Provider is a mock implementation of realtime.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the handle returned by Connect. If nil, Connect returns a
	// fresh default Session.
	Session realtime.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg realtime.SessionConfig) (realtime.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Ensure Provider implements realtime.Provider at compile time.
var _ realtime.Provider = (*Provider)(nil)

// Session is a mock implementation of realtime.SessionHandle. Drive the
// consumer with Emit and EndSession; inspect SentTexts and InjectedContext
// to verify ordering.
type Session struct {
	mu sync.Mutex

	// SentTexts records every text passed to SendText, in order.
	SentTexts []string

	// InjectedContext records every InjectContext batch, flattened, in order.
	InjectedContext []realtime.ContextItem

	// SendLog interleaves context items and texts in transmission order.
	// Context entries are recorded as "ctx:<content>", texts as "msg:<text>".
	SendLog []string

	// SendTextErr, if non-nil, is returned from SendText.
	SendTextErr error

	// InjectErr, if non-nil, is returned from InjectContext.
	InjectErr error

	events  chan realtime.Event
	errVal  error
	closed  bool
	endOnce sync.Once
}

// NewSession creates a Session with a buffered event channel.
func NewSession() *Session {
	return &Session{events: make(chan realtime.Event, 64)}
}

// Emit pushes an event to the consumer. Panics if called after EndSession.
func (s *Session) Emit(evt realtime.Event) {
	s.events <- evt
}

// EndSession closes the event stream, optionally recording a terminal error.
// Idempotent.
func (s *Session) EndSession(err error) {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.errVal = err
		s.closed = true
		s.mu.Unlock()
		close(s.events)
	})
}

// SendText records the text.
func (s *Session) SendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendTextErr != nil {
		return s.SendTextErr
	}
	s.SentTexts = append(s.SentTexts, text)
	s.SendLog = append(s.SendLog, "msg:"+text)
	return nil
}

// InjectContext records the items.
func (s *Session) InjectContext(items []realtime.ContextItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InjectErr != nil {
		return s.InjectErr
	}
	s.InjectedContext = append(s.InjectedContext, items...)
	for _, item := range items {
		s.SendLog = append(s.SendLog, "ctx:"+item.Content)
	}
	return nil
}

// Texts returns a copy of SentTexts, safe to call concurrently.
func (s *Session) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.SentTexts))
	copy(out, s.SentTexts)
	return out
}

// Log returns a copy of SendLog, safe to call concurrently.
func (s *Session) Log() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.SendLog))
	copy(out, s.SendLog)
	return out
}

// Events returns the mock event stream.
func (s *Session) Events() <-chan realtime.Event { return s.events }

// Open reports whether EndSession or Close has been called.
func (s *Session) Open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Err returns the terminal error recorded by EndSession.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close marks the session closed and ends the event stream. Idempotent.
func (s *Session) Close() error {
	s.EndSession(nil)
	return nil
}

// Ensure Session implements realtime.SessionHandle at compile time.
var _ realtime.SessionHandle = (*Session)(nil)

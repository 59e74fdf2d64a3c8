package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tubevox/tubevox/internal/observe"
	"github.com/tubevox/tubevox/pkg/provider/realtime"
)

// ErrNotConfigured is returned synchronously when no realtime provider is
// available, so callers can fall back to the web-search answer path without
// waiting on a connection attempt.
var ErrNotConfigured = errors.New("turn: realtime backend not configured")

// Registry maps session identifiers to live conversation sessions. Sessions
// are created lazily on first ask, reused while their connection is open,
// and recreated transparently after a drop. The registry is owned by the
// application's composition root; there is no package-level instance.
//
// All methods are safe for concurrent use.
type Registry struct {
	provider     realtime.Provider
	cfg          Config
	clock        func() time.Time
	store        MediaStore
	instructions string
	metrics      *observe.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// RegistryOption is a functional option for NewRegistry.
type RegistryOption func(*Registry)

// WithClock injects the time source used by every session's finalisation
// policy. Defaults to time.Now.
func WithClock(clock func() time.Time) RegistryOption {
	return func(r *Registry) { r.clock = clock }
}

// WithInstructions sets the system-level prompt sent when opening sessions.
func WithInstructions(instructions string) RegistryOption {
	return func(r *Registry) { r.instructions = instructions }
}

// WithMetrics records turn latency and the live-session gauge.
func WithMetrics(m *observe.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates a Registry over provider. provider may be nil, in
// which case every Ask fails fast with [ErrNotConfigured].
func NewRegistry(provider realtime.Provider, cfg Config, store MediaStore, opts ...RegistryOption) *Registry {
	r := &Registry{
		provider: provider,
		cfg:      cfg.withDefaults(),
		clock:    time.Now,
		store:    store,
		sessions: make(map[string]*Session),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Available reports whether a realtime backend is configured.
func (r *Registry) Available() bool {
	return r.provider != nil
}

// Ask routes question to the session identified by sessionID, creating or
// recreating the session as needed, and blocks until the turn finalises,
// the session drops, or ctx is cancelled. Context items are transmitted
// before the question within the same send.
func (r *Registry) Ask(ctx context.Context, sessionID, question string, contextItems []realtime.ContextItem) (Result, error) {
	sess, err := r.getOrCreate(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}

	start := r.clock()
	ch, err := sess.Ask(question, contextItems)
	if err != nil {
		return Result{}, fmt.Errorf("turn: send to session %q: %w", sessionID, err)
	}

	select {
	case out := <-ch:
		if r.metrics != nil {
			r.metrics.TurnDuration.Record(ctx, r.clock().Sub(start).Seconds())
		}
		return out.res, out.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// getOrCreate returns the open session for id, or performs the backend
// handshake to create one. At most one in-flight connection exists per
// session id; concurrent callers observing the same open session get the
// same handle.
func (r *Registry) getOrCreate(ctx context.Context, id string) (*Session, error) {
	if r.provider == nil {
		return nil, ErrNotConfigured
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if sess, ok := r.sessions[id]; ok {
		if sess.Open() {
			r.mu.Unlock()
			return sess, nil
		}
		// A dead entry is replaced, not reused; its teardown already
		// rejected any pending asks.
		delete(r.sessions, id)
		r.sessionGauge(-1)
	}
	r.mu.Unlock()

	handle, err := r.provider.Connect(ctx, realtime.SessionConfig{
		Instructions: r.instructions,
	})
	if err != nil {
		return nil, fmt.Errorf("turn: connect session %q: %w", id, err)
	}

	sess := newSession(id, handle, r.cfg, r.clock, r.store, r.remove)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		sess.Close()
		return nil, ErrSessionClosed
	}
	// Lost the race to another creator: keep theirs, discard ours.
	if existing, ok := r.sessions[id]; ok && existing.Open() {
		r.mu.Unlock()
		sess.Close()
		return existing, nil
	}
	r.sessions[id] = sess
	r.sessionGauge(1)
	r.mu.Unlock()

	slog.Info("turn: session created", "session", id)
	return sess, nil
}

// Dispose tears down the session for id, rejecting its pending asks. The
// next Ask for the same id recreates it.
func (r *Registry) Dispose(id string) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		r.sessionGauge(-1)
	}
	r.mu.Unlock()
	if ok {
		sess.Close()
	}
}

// remove drops a session entry after its event stream ended on its own. The
// pointer compare keeps a duplicate discarded after a creation race from
// evicting the entry that won it.
func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.id] == s {
		delete(r.sessions, s.id)
		r.sessionGauge(-1)
	}
}

// ActiveSessions returns the number of live sessions. Used by health and
// metrics reporting.
func (r *Registry) ActiveSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// sessionGauge moves the live-session gauge by delta. Callers hold r.mu, so
// increments and decrements stay paired with map mutations.
func (r *Registry) sessionGauge(delta int64) {
	if r.metrics != nil {
		r.metrics.ActiveSessions.Add(context.Background(), delta)
	}
}

// Close disposes every session. The registry accepts no further asks.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessionGauge(-int64(len(sessions)))
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

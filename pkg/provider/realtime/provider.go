// Package realtime defines the Provider interface for streaming
// conversational AI backends.
//
// A realtime provider wraps a voice-capable model service reachable over a
// long-lived duplex connection. A session carries an interleaved stream of
// events — text deltas, corrected transcripts, synthesised audio chunks,
// keepalive pings, completion signals — with no guarantee that every
// response shape ends in an explicit completion signal. Deciding when a
// response is actually finished is the turn aggregator's job, not the
// provider's.
//
// All implementations must be safe for concurrent use.
package realtime

import "context"

// EventKind is the closed set of session event variants. Wire-level event
// types are decoded into this enum once, at the provider boundary; anything
// the provider does not recognise becomes [EventUnknown] so the consumer can
// log and ignore it rather than silently dropping it.
type EventKind string

const (
	// EventTextDelta carries the accumulated response text so far. Later
	// deltas supersede earlier ones.
	EventTextDelta EventKind = "text_delta"

	// EventTextFinal carries completed or corrected response text. It always
	// supersedes any delta and marks the text as trustworthy.
	EventTextFinal EventKind = "text_final"

	// EventAudioChunk carries one chunk of raw PCM16 response audio.
	EventAudioChunk EventKind = "audio_chunk"

	// EventDone is the backend's explicit end-of-response signal. Not every
	// response shape produces one.
	EventDone EventKind = "done"

	// EventPing is a keepalive from the backend. The session has already
	// acknowledged it on the wire; it is surfaced only as an activity marker.
	EventPing EventKind = "ping"

	// EventError is a non-fatal error reported by the backend mid-session.
	EventError EventKind = "error"

	// EventUnknown is any wire event the provider does not model.
	EventUnknown EventKind = "unknown"
)

// Event is one decoded session event.
type Event struct {
	Kind EventKind

	// Text is set for EventTextDelta and EventTextFinal.
	Text string

	// Audio is set for EventAudioChunk: raw PCM16 mono, provider rate.
	Audio []byte

	// Err is set for EventError.
	Err error

	// RawType is the wire-level event type, kept for EventUnknown logging.
	RawType string
}

// ContextItem is a text message injected into the session's context ahead
// of a question — video transcript excerpts, current playback position, and
// similar background the model should see before answering.
type ContextItem struct {
	// Role is the speaker role: "system", "user", or "assistant".
	Role string

	// Content is the text content of the context item.
	Content string
}

// SessionConfig is the initial configuration for a new session, sent as the
// initialisation frame immediately after the connection opens.
type SessionConfig struct {
	// Instructions is the system-level prompt for the assistant.
	Instructions string

	// Voice selects the synthesised speech voice, provider-specific.
	Voice string
}

// SessionHandle is an open duplex session. Implementations own a receive
// goroutine that decodes wire events onto the Events channel; the channel is
// closed when the session ends. After it closes, Err reports whether the
// session ended cleanly.
//
// All methods must be safe for concurrent use. Callers must call Close when
// the session is no longer needed.
type SessionHandle interface {
	// SendText submits a user message and asks the model to respond.
	SendText(text string) error

	// InjectContext inserts context items into the session, in order. The
	// caller is responsible for injecting context before the question it
	// annotates; the session transmits items in the order given.
	InjectContext(items []ContextItem) error

	// Events returns the decoded event stream. Closed when the session ends.
	Events() <-chan Event

	// Open reports whether the underlying connection is still usable.
	Open() bool

	// Err returns the error that terminated the session, or nil for a clean
	// close. Only meaningful after Events is closed.
	Err() error

	// Close terminates the session and releases resources. Idempotent.
	Close() error
}

// Provider is the abstraction over any streaming conversational backend.
type Provider interface {
	// Connect performs the handshake and opens a new session. The returned
	// handle is ready to accept context and messages immediately.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)
}

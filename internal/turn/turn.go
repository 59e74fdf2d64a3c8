// Package turn implements the conversational turn state machine and the
// session registry that sits between the streaming realtime backend and the
// daemon's control channel.
//
// A "turn" is one complete question/response exchange. The backend streams
// an interleaved mix of text deltas, corrected text, audio chunks, pings,
// and (sometimes) an explicit completion signal; nothing guarantees which of
// those a given response shape produces. The aggregator buffers the stream
// per session and decides completion with a tri-level idle policy evaluated
// on a poll timer: an explicit done signal finalises immediately, an
// audio-bearing response finalises shortly after audio stops arriving, and a
// text-only response finalises after a longer idle window so streamed deltas
// are not cut off. Tolerating missing or out-of-order completion signals
// without hanging or truncating is the point of the design, not a protocol
// defect to work around.
//
// Every turn resolves exactly one pending ask, oldest first. Closing a
// session rejects all of its pending asks — a caller must never be left
// waiting on a response the daemon silently dropped.
package turn

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tubevox/tubevox/internal/media"
	"github.com/tubevox/tubevox/pkg/provider/realtime"
)

// ErrConnectionLost is wrapped into the rejection of every ask that was
// pending when a session's connection dropped.
var ErrConnectionLost = errors.New("turn: connection lost")

// ErrSessionClosed is returned for asks submitted to a disposed session.
var ErrSessionClosed = errors.New("turn: session closed")

// Config holds the finalisation policy. The historical daemon hard-coded
// several different threshold values over time; they are deliberately
// tunable here.
type Config struct {
	// PollInterval is how often finalisation is evaluated while an ask is
	// pending.
	PollInterval time.Duration

	// AudioIdle finalises an audio-bearing turn once no audio chunk has
	// arrived for this long.
	AudioIdle time.Duration

	// TextIdle finalises a text-only turn once no event of any kind has
	// arrived for this long.
	TextIdle time.Duration

	// SampleRate is the PCM sample rate of backend audio chunks.
	SampleRate int
}

// DefaultConfig returns the production finalisation policy.
func DefaultConfig() Config {
	return Config{
		PollInterval: 275 * time.Millisecond,
		AudioIdle:    1200 * time.Millisecond,
		TextIdle:     3 * time.Second,
		SampleRate:   16000,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.AudioIdle <= 0 {
		c.AudioIdle = d.AudioIdle
	}
	if c.TextIdle <= 0 {
		c.TextIdle = d.TextIdle
	}
	if c.SampleRate <= 0 {
		c.SampleRate = d.SampleRate
	}
	return c
}

// Result is the single finalised outcome of a turn.
type Result struct {
	// Text is the sanitised response text. May be empty if the backend
	// produced audio only.
	Text string

	// AudioRef is the media-store reference of the turn's audio, or empty
	// when the turn produced no audio. Callers decide on a local synthesis
	// fallback in that case.
	AudioRef string
}

// MediaStore persists a turn's accumulated PCM. Satisfied by *media.Store.
type MediaStore interface {
	SavePCM(pcm []byte, f media.WAVFormat) (string, error)
}

// outcome is delivered to exactly one waiting ask.
type outcome struct {
	res Result
	err error
}

// ask is one pending turn-completion callback. The channel is buffered so
// resolution never blocks on an abandoned caller.
type ask struct {
	ch chan outcome
}

// Session aggregates the event stream of one conversation session. All
// turn-scoped state (text buffer, audio chunks, flags) lives behind mu and
// is reset atomically when a turn finalises.
type Session struct {
	id     string
	handle realtime.SessionHandle
	cfg    Config
	clock  func() time.Time
	store  MediaStore

	// onClose is invoked once when the event stream ends, after pending
	// asks have been rejected. Used by the registry to drop the session.
	onClose func(s *Session)

	mu        sync.Mutex
	text      string
	textFinal bool
	chunks    [][]byte
	audioLen  int
	ready     bool
	lastEvent time.Time
	lastAudio time.Time
	pending   []*ask
	closed    bool

	stopPoll  chan struct{}
	closeOnce sync.Once
}

// newSession wires a session around an open handle and starts its event and
// poll goroutines.
func newSession(id string, handle realtime.SessionHandle, cfg Config, clock func() time.Time, store MediaStore, onClose func(s *Session)) *Session {
	s := &Session{
		id:       id,
		handle:   handle,
		cfg:      cfg,
		clock:    clock,
		store:    store,
		onClose:  onClose,
		stopPoll: make(chan struct{}),
	}
	go s.consumeEvents()
	go s.pollLoop()
	return s
}

// Ask enqueues a pending callback, injects context items (in order, before
// the question), transmits the question, and returns the channel the
// eventual outcome arrives on. Concurrent asks on one session resolve in
// FIFO order.
func (s *Session) Ask(question string, contextItems []realtime.ContextItem) (<-chan outcome, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	a := &ask{ch: make(chan outcome, 1)}
	s.pending = append(s.pending, a)
	s.mu.Unlock()

	// Context must be observed by the backend before the question it
	// annotates, so both go out within this one send, context first.
	if len(contextItems) > 0 {
		if err := s.handle.InjectContext(contextItems); err != nil {
			s.dropAsk(a, err)
			return nil, err
		}
	}
	if err := s.handle.SendText(question); err != nil {
		s.dropAsk(a, err)
		return nil, err
	}
	return a.ch, nil
}

// dropAsk removes a from the pending queue after a transmit failure. Teardown
// can race the failed send and reject a first; its outcome already fills the
// cap-1 channel, so only the goroutine that actually dequeued a may deliver,
// and never while holding the session lock.
func (s *Session) dropAsk(a *ask, err error) {
	s.mu.Lock()
	removed := false
	for i, p := range s.pending {
		if p == a {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			removed = true
			break
		}
	}
	s.mu.Unlock()
	if removed {
		a.ch <- outcome{err: err}
	}
}

// consumeEvents applies backend events to the turn buffer in arrival order.
// When the stream closes it rejects every pending ask and tears the session
// down.
func (s *Session) consumeEvents() {
	for evt := range s.handle.Events() {
		s.applyEvent(evt)
	}

	err := s.handle.Err()
	if err == nil {
		err = ErrConnectionLost
	} else {
		err = errors.Join(ErrConnectionLost, err)
	}
	s.teardown(err)
}

// applyEvent mutates turn state under the session lock. Mutations are
// synchronous and atomic; no lock is held across I/O.
func (s *Session) applyEvent(evt realtime.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	switch evt.Kind {
	case realtime.EventTextDelta:
		// A later delta supersedes an earlier placeholder, but never a
		// recorded final.
		if !s.textFinal {
			s.text = evt.Text
		}
		s.lastEvent = now

	case realtime.EventTextFinal:
		// Corrections always overwrite and make the turn eligible for
		// immediate finalisation.
		s.text = evt.Text
		s.textFinal = true
		s.ready = true
		s.lastEvent = now

	case realtime.EventAudioChunk:
		chunk := make([]byte, len(evt.Audio))
		copy(chunk, evt.Audio)
		s.chunks = append(s.chunks, chunk)
		s.audioLen += len(chunk)
		s.lastAudio = now
		s.lastEvent = now

	case realtime.EventDone:
		s.ready = true
		s.lastEvent = now

	case realtime.EventPing:
		// Keepalive only; the provider session already answered it. Turn
		// state, including idle timing, is unaffected.

	case realtime.EventError:
		slog.Warn("turn: backend error event", "session", s.id, "err", evt.Err)

	case realtime.EventUnknown:
		slog.Debug("turn: unhandled backend event", "session", s.id, "type", evt.RawType)
	}
}

// pollLoop evaluates the finalisation policy on a fixed interval while at
// least one ask is pending.
func (s *Session) pollLoop() {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopPoll:
			return
		case <-ticker.C:
			s.maybeFinalize()
		}
	}
}

// maybeFinalize applies the tri-level policy and, if a turn is complete,
// resolves the oldest pending ask with the buffered state.
func (s *Session) maybeFinalize() {
	s.mu.Lock()

	if len(s.pending) == 0 || s.closed {
		s.mu.Unlock()
		return
	}

	now := s.clock()
	finalize := false
	switch {
	case s.ready:
		finalize = true
	case s.audioLen > 0 && now.Sub(s.lastAudio) > s.cfg.AudioIdle:
		finalize = true
	case s.text != "" && now.Sub(s.lastEvent) > s.cfg.TextIdle:
		finalize = true
	}
	if !finalize {
		s.mu.Unlock()
		return
	}

	// Capture and reset turn state atomically with dequeuing the oldest
	// ask, so no callback can ever observe another turn's buffers.
	text := s.text
	chunks := s.chunks
	audioLen := s.audioLen
	a := s.pending[0]
	s.pending = s.pending[1:]
	s.text = ""
	s.textFinal = false
	s.chunks = nil
	s.audioLen = 0
	s.ready = false
	s.mu.Unlock()

	res := Result{Text: Sanitize(text)}
	if audioLen > 0 {
		pcm := make([]byte, 0, audioLen)
		for _, c := range chunks {
			pcm = append(pcm, c...)
		}
		ref, err := s.store.SavePCM(pcm, media.WAVFormat{
			SampleRate:    s.cfg.SampleRate,
			Channels:      1,
			BitsPerSample: 16,
		})
		if err != nil {
			slog.Error("turn: persist audio failed", "session", s.id, "err", err)
		} else {
			res.AudioRef = ref
		}
	}

	slog.Debug("turn: finalized",
		"session", s.id,
		"text_len", len(res.Text),
		"audio_bytes", audioLen,
	)
	a.ch <- outcome{res: res}
}

// Open reports whether the underlying connection is still usable.
func (s *Session) Open() bool {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	return !closed && s.handle.Open()
}

// teardown rejects all pending asks with err, cancels the poll timer, and
// closes the handle. Safe to call more than once.
func (s *Session) teardown(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		pending := s.pending
		s.pending = nil
		s.text = ""
		s.textFinal = false
		s.chunks = nil
		s.audioLen = 0
		s.ready = false
		s.mu.Unlock()

		close(s.stopPoll)
		_ = s.handle.Close()

		for _, a := range pending {
			a.ch <- outcome{err: err}
		}
		if len(pending) > 0 {
			slog.Warn("turn: rejected pending asks on close",
				"session", s.id, "count", len(pending))
		}
		if s.onClose != nil {
			s.onClose(s)
		}
	})
}

// Close disposes of the session, rejecting pending asks with
// [ErrSessionClosed].
func (s *Session) Close() {
	s.teardown(ErrSessionClosed)
}

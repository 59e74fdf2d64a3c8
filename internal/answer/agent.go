package answer

import (
	"context"
	"log/slog"
	"strings"

	"github.com/tubevox/tubevox/internal/turn"
	"github.com/tubevox/tubevox/pkg/provider/realtime"
)

// apology is the last-resort reply when every backend failed. It still goes
// out as a normal agent response so the user hears something rather than
// silence.
const apology = "Sorry, I can't answer that right now."

// Agent routes conversational questions through the backend priority chain:
// the realtime turn registry first, the search-plus-synthesis Service
// second, an apologetic canned reply last. Query never returns an error for
// backend trouble; silence is the one failure mode it refuses to have.
type Agent struct {
	turns     *turn.Registry
	fallback  *Service
	sessionID string
}

// NewAgent creates an Agent. Either backend may be nil.
func NewAgent(turns *turn.Registry, fallback *Service, sessionID string) *Agent {
	if sessionID == "" {
		sessionID = "default"
	}
	return &Agent{turns: turns, fallback: fallback, sessionID: sessionID}
}

// Available reports whether any real backend can serve queries.
func (a *Agent) Available() bool {
	return (a.turns != nil && a.turns.Available()) || (a.fallback != nil && a.fallback.Available())
}

// Query answers question on the agent's default session, optionally preceded
// by context items for the realtime backend (current video title, playback
// position).
func (a *Agent) Query(ctx context.Context, question string, contextItems []realtime.ContextItem) Result {
	return a.QueryInSession(ctx, a.sessionID, question, contextItems)
}

// QueryInSession is Query pinned to an explicit realtime session id, so
// callers that track their own conversations (the HTTP query endpoint) keep
// separate turn state per caller.
func (a *Agent) QueryInSession(ctx context.Context, sessionID, question string, contextItems []realtime.ContextItem) Result {
	if sessionID == "" {
		sessionID = a.sessionID
	}
	if a.turns != nil && a.turns.Available() {
		res, err := a.turns.Ask(ctx, sessionID, question, contextItems)
		switch {
		case err != nil:
			slog.Warn("answer: realtime backend failed, falling back", "err", err)
		case strings.TrimSpace(res.Text) == "":
			// A text-less turn cannot be spoken or displayed; treat it
			// like a backend failure so the user still hears something.
			slog.Warn("answer: realtime backend returned no text, falling back")
		default:
			out := Result{Text: res.Text, AudioRef: res.AudioRef}
			if out.AudioRef == "" && a.fallback != nil {
				if ref, rerr := a.fallback.Speak(ctx, out.Text); rerr != nil {
					slog.Warn("answer: speech synthesis failed, text-only reply", "err", rerr)
				} else {
					out.AudioRef = ref
				}
			}
			return out
		}
	}

	if a.fallback != nil && a.fallback.Available() {
		res, err := a.fallback.Answer(ctx, question)
		if err == nil {
			return res
		}
		slog.Warn("answer: synthesis fallback failed", "err", err)
	}

	return Result{Text: apology}
}

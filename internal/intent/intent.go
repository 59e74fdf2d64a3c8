// Package intent defines the control-message vocabulary shared by the
// daemon and the browser extension, plus the deterministic parser that maps
// recognised speech to playback-control messages.
//
// A Message is a tagged union: its Kind decides which payload field is
// meaningful. Messages are constructed once (by the parser or by turn
// finalisation), validated, broadcast, and never mutated afterwards.
package intent

import (
	"errors"
	"fmt"
)

// Kind enumerates every control message the extension understands.
type Kind string

const (
	// KindBeginListen ducks the video's audio while the daemon captures a
	// spoken command.
	KindBeginListen Kind = "begin_listen"

	// KindEndListen restores the video's audio after a capture window,
	// successful or not.
	KindEndListen Kind = "end_listen"

	KindRewind    Kind = "rewind"
	KindForward   Kind = "forward"
	KindSetSpeed  Kind = "set_speed"
	KindSetVolume Kind = "set_volume"
	KindPause     Kind = "pause"
	KindPlay      Kind = "play"

	// KindJumpToPhrase seeks the video to where the given phrase is spoken.
	KindJumpToPhrase Kind = "jump_to_phrase"

	// KindAgentResponse carries a conversational answer (text plus optional
	// audio reference) back to the extension.
	KindAgentResponse Kind = "agent_response"
)

// Clamping ranges applied by Validate. The extension used to enforce these
// itself; validation now happens centrally before a message is broadcast.
const (
	MinSpeed  = 0.25
	MaxSpeed  = 3.0
	MinVolume = 0
	MaxVolume = 100
)

// ErrInvalid is wrapped by every validation failure from [Message.Validate].
var ErrInvalid = errors.New("intent: invalid message")

// AgentPayload is the structured payload of a KindAgentResponse message.
type AgentPayload struct {
	// Text is the sanitised response text. Never empty for a valid message.
	Text string `json:"text"`

	// AudioRef is the URL path of the synthesised speech for this response,
	// or empty when no audio was produced.
	AudioRef string `json:"audio_reference,omitempty"`
}

// Message is one frame on the control channel. Exactly one of Value, Phrase,
// and Agent is meaningful, determined by Kind; the zero payloads of the
// other fields are omitted from the JSON encoding.
type Message struct {
	Kind Kind `json:"intent"`

	// Value carries seconds for rewind/forward, a multiplier for set_speed,
	// and a percentage for set_volume.
	Value float64 `json:"value,omitempty"`

	// Phrase is the free text of a jump_to_phrase message.
	Phrase string `json:"phrase,omitempty"`

	// Agent is the payload of an agent_response message.
	Agent *AgentPayload `json:"agent,omitempty"`
}

// Validate checks that the payload matches the Kind and that numeric values
// are inside their allowed ranges. It never mutates the message.
func (m Message) Validate() error {
	switch m.Kind {
	case KindBeginListen, KindEndListen, KindPause, KindPlay:
		if m.Value != 0 || m.Phrase != "" || m.Agent != nil {
			return fmt.Errorf("%w: %s takes no payload", ErrInvalid, m.Kind)
		}
	case KindRewind, KindForward:
		if m.Value <= 0 {
			return fmt.Errorf("%w: %s requires positive seconds, got %g", ErrInvalid, m.Kind, m.Value)
		}
		if m.Phrase != "" || m.Agent != nil {
			return fmt.Errorf("%w: %s takes only a numeric payload", ErrInvalid, m.Kind)
		}
	case KindSetSpeed:
		if m.Value < MinSpeed || m.Value > MaxSpeed {
			return fmt.Errorf("%w: speed %g outside [%g, %g]", ErrInvalid, m.Value, MinSpeed, MaxSpeed)
		}
	case KindSetVolume:
		if m.Value < MinVolume || m.Value > MaxVolume {
			return fmt.Errorf("%w: volume %g outside [%d, %d]", ErrInvalid, m.Value, MinVolume, MaxVolume)
		}
	case KindJumpToPhrase:
		if m.Phrase == "" {
			return fmt.Errorf("%w: jump_to_phrase requires a phrase", ErrInvalid)
		}
	case KindAgentResponse:
		if m.Agent == nil || m.Agent.Text == "" {
			return fmt.Errorf("%w: agent_response requires text", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalid, m.Kind)
	}
	return nil
}

// BeginListen returns a begin_listen message.
func BeginListen() Message { return Message{Kind: KindBeginListen} }

// EndListen returns an end_listen message.
func EndListen() Message { return Message{Kind: KindEndListen} }

// AgentResponse constructs a validated agent_response message.
func AgentResponse(text, audioRef string) Message {
	return Message{Kind: KindAgentResponse, Agent: &AgentPayload{Text: text, AudioRef: audioRef}}
}

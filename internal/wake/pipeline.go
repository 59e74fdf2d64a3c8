// Package wake runs the always-on capture pipeline: microphone frames are
// re-chunked to the wake detector's frame size, a detection opens a short
// capture window, and the captured utterance is transcribed and routed as
// either a direct player intent or a conversational question.
//
// The extension is told when the daemon is listening: begin_listen goes out
// the moment the wake word fires and end_listen goes out when the window
// closes, on every path including transcription failure.
package wake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tubevox/tubevox/internal/answer"
	"github.com/tubevox/tubevox/internal/broadcast"
	"github.com/tubevox/tubevox/internal/intent"
	"github.com/tubevox/tubevox/internal/observe"
	"github.com/tubevox/tubevox/pkg/audio"
	"github.com/tubevox/tubevox/pkg/provider/mic"
	"github.com/tubevox/tubevox/pkg/provider/realtime"
	"github.com/tubevox/tubevox/pkg/provider/stt"
	"github.com/tubevox/tubevox/pkg/provider/wakeword"
)

// DefaultCaptureWindow is how much audio is recorded after a wake detection.
// Long enough for a full command, short enough that the user is not left
// hanging.
const DefaultCaptureWindow = 3500 * time.Millisecond

// Broadcaster delivers messages to connected clients. *broadcast.Hub is the
// production implementation.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg intent.Message) (broadcast.Report, error)
}

// Agent answers conversational questions. *answer.Agent is the production
// implementation.
type Agent interface {
	Query(ctx context.Context, question string, contextItems []realtime.ContextItem) answer.Result
}

// Config tunes the pipeline.
type Config struct {
	// CaptureWindow is the post-detection recording length. Zero means
	// DefaultCaptureWindow.
	CaptureWindow time.Duration

	// Language is the STT language hint.
	Language string
}

// Pipeline owns the microphone loop. Run blocks until the context ends or
// the microphone fails.
type Pipeline struct {
	source   mic.Source
	detector wakeword.Detector
	sttp     stt.Provider
	parser   *intent.Parser
	hub      Broadcaster
	agent    Agent
	cfg      Config
	metrics  *observe.Metrics

	aligner *audio.FrameAligner
}

// Option is a functional option for New.
type Option func(*Pipeline)

// WithMetrics records wake detections and transcription outcomes.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New wires a Pipeline. All collaborators are required; the detector's
// sample rate must match the microphone's.
func New(source mic.Source, detector wakeword.Detector, sttp stt.Provider, parser *intent.Parser, hub Broadcaster, agent Agent, cfg Config, opts ...Option) (*Pipeline, error) {
	switch {
	case source == nil:
		return nil, errors.New("wake: mic source must not be nil")
	case detector == nil:
		return nil, errors.New("wake: detector must not be nil")
	case sttp == nil:
		return nil, errors.New("wake: stt provider must not be nil")
	case parser == nil:
		return nil, errors.New("wake: parser must not be nil")
	case hub == nil:
		return nil, errors.New("wake: broadcaster must not be nil")
	case agent == nil:
		return nil, errors.New("wake: agent must not be nil")
	}
	if source.SampleRate() != detector.SampleRate() {
		return nil, fmt.Errorf("wake: mic rate %d != detector rate %d",
			source.SampleRate(), detector.SampleRate())
	}
	if cfg.CaptureWindow <= 0 {
		cfg.CaptureWindow = DefaultCaptureWindow
	}
	p := &Pipeline{
		source:   source,
		detector: detector,
		sttp:     sttp,
		parser:   parser,
		hub:      hub,
		agent:    agent,
		cfg:      cfg,
		aligner:  audio.NewFrameAligner(detector.FrameLength()),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Run starts capture and processes frames until ctx ends. A microphone read
// error stops the loop; a failure inside one wake handling pass does not.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.source.Start(ctx); err != nil {
		return fmt.Errorf("wake: start microphone: %w", err)
	}
	defer p.source.Close()
	defer p.detector.Close()

	slog.Info("wake: pipeline listening",
		"frame_length", p.detector.FrameLength(),
		"capture_window", p.cfg.CaptureWindow,
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		samples, err := p.source.Read()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("wake: microphone read: %w", err)
		}

		for _, frame := range p.aligner.Push(samples) {
			detected, err := p.detector.Process(frame)
			if err != nil {
				return fmt.Errorf("wake: detector: %w", err)
			}
			if detected {
				if p.metrics != nil {
					p.metrics.WakeDetections.Add(ctx, 1)
				}
				p.handleWake(ctx)
				p.aligner.Reset()
				break
			}
		}
	}
}

// handleWake brackets one capture window with begin_listen/end_listen and
// routes whatever was said.
func (p *Pipeline) handleWake(ctx context.Context) {
	if _, err := p.hub.Broadcast(ctx, intent.BeginListen()); err != nil {
		slog.Warn("wake: begin_listen broadcast failed", "err", err)
	}
	endSent := false
	sendEnd := func() {
		if endSent {
			return
		}
		endSent = true
		// A fresh context so shutdown mid-capture still closes the
		// bracket for connected clients.
		endCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := p.hub.Broadcast(endCtx, intent.EndListen()); err != nil {
			slog.Warn("wake: end_listen broadcast failed", "err", err)
		}
	}
	defer sendEnd()

	pcm, err := p.capture(ctx)
	sendEnd()
	if err != nil {
		slog.Warn("wake: capture failed", "err", err)
		return
	}

	sttStart := time.Now()
	res, err := p.sttp.Transcribe(ctx, stt.Request{
		PCM:        pcm,
		SampleRate: p.source.SampleRate(),
		Language:   p.cfg.Language,
	})
	p.countTranscribe(ctx, time.Since(sttStart), err)
	if err != nil {
		slog.Warn("wake: transcription failed", "err", err)
		return
	}
	text := res.Text
	if text == "" {
		slog.Debug("wake: empty transcription, ignoring")
		return
	}
	slog.Info("wake: utterance captured", "text", text)

	if msg, ok := p.parser.Parse(text); ok {
		if _, err := p.hub.Broadcast(ctx, msg); err != nil {
			slog.Warn("wake: intent broadcast failed", "intent", string(msg.Kind), "err", err)
		}
		return
	}

	reply := p.agent.Query(ctx, text, nil)
	if reply.Text == "" {
		slog.Warn("wake: agent returned an empty reply, nothing to broadcast")
		return
	}
	if _, err := p.hub.Broadcast(ctx, intent.AgentResponse(reply.Text, reply.AudioRef)); err != nil {
		slog.Warn("wake: agent_response broadcast failed", "err", err)
	}
}

// countTranscribe records the latency and outcome of one STT call.
func (p *Pipeline) countTranscribe(ctx context.Context, elapsed time.Duration, err error) {
	if p.metrics == nil {
		return
	}
	p.metrics.STTDuration.Record(ctx, elapsed.Seconds())
	status := "ok"
	if err != nil {
		status = "error"
		p.metrics.RecordProviderError(ctx, "stt", "transcribe")
	}
	p.metrics.RecordProviderRequest(ctx, "stt", "transcribe", status)
}

// capture records CaptureWindow worth of samples and returns them as
// little-endian PCM bytes.
func (p *Pipeline) capture(ctx context.Context) ([]byte, error) {
	target := int(float64(p.source.SampleRate()) * p.cfg.CaptureWindow.Seconds())
	buf := make([]int16, 0, target)
	for len(buf) < target {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		samples, err := p.source.Read()
		if err != nil {
			return nil, err
		}
		buf = append(buf, samples...)
	}
	return audio.SamplesToBytes(buf[:target]), nil
}

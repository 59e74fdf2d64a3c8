// Package app wires all tubevox subsystems into a running daemon.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the serving loops, and Shutdown tears everything
// down in order.
//
// For testing, inject mock implementations via functional options
// (WithHub, WithIndexStore, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tubevox/tubevox/internal/answer"
	"github.com/tubevox/tubevox/internal/broadcast"
	"github.com/tubevox/tubevox/internal/config"
	"github.com/tubevox/tubevox/internal/intent"
	"github.com/tubevox/tubevox/internal/media"
	"github.com/tubevox/tubevox/internal/observe"
	"github.com/tubevox/tubevox/internal/semantic"
	"github.com/tubevox/tubevox/internal/server"
	"github.com/tubevox/tubevox/internal/transcript"
	"github.com/tubevox/tubevox/internal/turn"
	"github.com/tubevox/tubevox/internal/wake"
	"github.com/tubevox/tubevox/pkg/provider/embeddings"
	"github.com/tubevox/tubevox/pkg/provider/llm"
	"github.com/tubevox/tubevox/pkg/provider/mic"
	"github.com/tubevox/tubevox/pkg/provider/realtime"
	"github.com/tubevox/tubevox/pkg/provider/search"
	"github.com/tubevox/tubevox/pkg/provider/stt"
	"github.com/tubevox/tubevox/pkg/provider/tts"
	"github.com/tubevox/tubevox/pkg/provider/wakeword"
)

// Default data directories used when the config leaves them empty.
const (
	defaultMediaDir      = "data/media"
	defaultTranscriptDir = "data/transcripts"
	defaultIndexDir      = "data/index"
)

// pingInterval is how often the hub pings all sinks to weed out dead ones.
const pingInterval = 30 * time.Second

// hubWriteTimeout bounds one broadcast write to one sink.
const hubWriteTimeout = 5 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	Realtime   realtime.Provider
	STT        stt.Provider
	TTS        tts.Provider
	LLM        llm.Provider
	Embeddings embeddings.Provider
	Search     search.Provider
	WakeWord   wakeword.Detector
	Mic        mic.Source
}

// App owns all subsystem lifetimes and runs the daemon's serving loops.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	hub         *broadcast.Hub
	media       *media.Store
	transcripts *transcript.Store
	matcher     *semantic.Matcher
	turns       *turn.Registry
	agent       *answer.Agent
	pipeline    *wake.Pipeline
	server      *server.Server
	metrics     *observe.Metrics

	// sampler, when injected, enables the transcript store's STT fallback.
	sampler transcript.AudioSampler

	// indexStore, when injected, replaces the config-derived semantic store.
	indexStore semantic.IndexStore

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHub injects a broadcast hub instead of creating one.
func WithHub(h *broadcast.Hub) Option {
	return func(a *App) { a.hub = h }
}

// WithMetrics injects a metrics instance instead of using the global default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithIndexStore injects a semantic index store instead of creating one from
// config.
func WithIndexStore(s semantic.IndexStore) Option {
	return func(a *App) { a.indexStore = s }
}

// WithAudioSampler enables the transcript store's machine-transcription
// fallback. Without a sampler only official captions are used.
func WithAudioSampler(s transcript.AudioSampler) Option {
	return func(a *App) { a.sampler = s }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
//
// A missing optional provider disables the matching feature and is logged
// once here; nothing in New hard-fails on absent credentials.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.hub == nil {
		a.hub = broadcast.NewHub(hubWriteTimeout)
	}

	if err := a.initMedia(); err != nil {
		return nil, fmt.Errorf("app: init media store: %w", err)
	}
	if err := a.initTranscripts(); err != nil {
		return nil, fmt.Errorf("app: init transcript store: %w", err)
	}
	if err := a.initSemantic(ctx); err != nil {
		return nil, fmt.Errorf("app: init semantic index: %w", err)
	}
	a.initAgent()
	a.initWake()
	if err := a.initServer(); err != nil {
		return nil, fmt.Errorf("app: init server: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initMedia sets up the WAV store serving synthesised speech.
func (a *App) initMedia() error {
	dir := a.cfg.Media.Dir
	if dir == "" {
		dir = defaultMediaDir
	}
	prefix := a.cfg.Media.PathPrefix
	if prefix == "" {
		prefix = "/media"
	}
	store, err := media.NewStore(dir, prefix)
	if err != nil {
		return err
	}
	a.media = store
	return nil
}

// initTranscripts sets up the caption-backed transcript store, with the STT
// fallback when both a provider and a sampler are available.
func (a *App) initTranscripts() error {
	dir := a.cfg.Transcript.Dir
	if dir == "" {
		dir = defaultTranscriptDir
	}

	var captionOpts []transcript.CaptionOption
	if len(a.cfg.Transcript.Languages) > 0 {
		captionOpts = append(captionOpts, transcript.WithLanguages(a.cfg.Transcript.Languages...))
	}
	fetcher := transcript.NewCaptionFetcher(captionOpts...)

	storeOpts := []transcript.StoreOption{transcript.WithMetrics(a.metrics)}
	if a.providers.STT != nil && a.sampler != nil {
		storeOpts = append(storeOpts, transcript.WithSTTFallback(a.providers.STT, a.sampler))
	} else if a.providers.STT != nil {
		slog.Debug("no audio sampler wired; transcript STT fallback disabled")
	}

	store, err := transcript.NewStore(dir, fetcher, storeOpts...)
	if err != nil {
		return err
	}
	a.transcripts = store
	return nil
}

// initSemantic sets up the embedding index matcher. Without an embeddings
// provider, jump_to_phrase degrades to literal and fuzzy search.
func (a *App) initSemantic(ctx context.Context) error {
	if a.providers.Embeddings == nil {
		slog.Info("embeddings provider not configured; semantic segment matching disabled")
		return nil
	}

	store := a.indexStore
	if store == nil {
		if dsn := a.cfg.Semantic.PostgresDSN; dsn != "" {
			dims := a.cfg.Semantic.EmbeddingDimensions
			if dims == 0 {
				dims = 1536
			}
			pg, err := semantic.NewPostgresStore(ctx, dsn, dims)
			if err != nil {
				return err
			}
			a.closers = append(a.closers, func() error {
				pg.Close()
				return nil
			})
			store = pg
			slog.Info("semantic index store: postgres", "dimensions", dims)
		} else {
			dir := a.cfg.Semantic.IndexDir
			if dir == "" {
				dir = defaultIndexDir
			}
			disk, err := semantic.NewDiskStore(dir)
			if err != nil {
				return err
			}
			store = disk
			slog.Info("semantic index store: disk", "dir", dir)
		}
	}

	matcher, err := semantic.NewMatcher(a.providers.Embeddings, store)
	if err != nil {
		return err
	}
	a.matcher = matcher
	return nil
}

// initAgent assembles the conversational backend chain: realtime turn
// registry first, search + synthesis second.
func (a *App) initAgent() {
	if a.providers.Realtime != nil {
		turnCfg := turn.Config{
			PollInterval: time.Duration(a.cfg.Turn.PollIntervalMS) * time.Millisecond,
			AudioIdle:    time.Duration(a.cfg.Turn.AudioIdleMS) * time.Millisecond,
			TextIdle:     time.Duration(a.cfg.Turn.TextIdleMS) * time.Millisecond,
		}
		a.turns = turn.NewRegistry(a.providers.Realtime, turnCfg, a.media, turn.WithMetrics(a.metrics))
		a.closers = append(a.closers, func() error {
			a.turns.Close()
			return nil
		})
	} else {
		slog.Info("realtime provider not configured; conversational queries use the synthesis fallback")
	}

	var svc *answer.Service
	if a.providers.LLM != nil {
		svcOpts := []answer.Option{answer.WithMetrics(a.metrics)}
		if a.providers.Search != nil {
			svcOpts = append(svcOpts, answer.WithSearch(a.providers.Search))
		}
		if a.providers.TTS != nil {
			svcOpts = append(svcOpts, answer.WithSpeech(a.providers.TTS, a.media, tts.Voice{}))
		}
		svc = answer.NewService(a.providers.LLM, svcOpts...)
	}

	a.agent = answer.NewAgent(a.turns, svc, "")
}

// initWake builds the capture pipeline when every required provider is
// present. Otherwise the daemon runs without live audio; /simulate and the
// HTTP surface keep working.
func (a *App) initWake() {
	switch {
	case a.providers.WakeWord == nil:
		slog.Warn("wake-word detector not configured; wake pipeline disabled")
		return
	case a.providers.Mic == nil:
		slog.Warn("microphone not configured; wake pipeline disabled")
		return
	case a.providers.STT == nil:
		slog.Warn("stt provider not configured; wake pipeline disabled")
		return
	}

	p, err := wake.New(
		a.providers.Mic,
		a.providers.WakeWord,
		a.providers.STT,
		intent.NewParser(),
		a.hub,
		a.agent,
		wake.Config{CaptureWindow: a.cfg.Wake.CaptureWindow()},
		wake.WithMetrics(a.metrics),
	)
	if err != nil {
		slog.Warn("wake pipeline unavailable", "err", err)
		return
	}
	a.pipeline = p
}

// initServer assembles the HTTP front end.
func (a *App) initServer() error {
	srv, err := server.New(server.Config{
		ListenAddr:   a.cfg.Server.ListenAddr,
		Hub:          a.hub,
		Agent:        a.agent,
		Transcripts:  a.transcripts,
		Matcher:      a.matcher,
		Media:        a.media.Handler(),
		MediaPrefix:  a.media.Prefix(),
		SemanticTopK: a.cfg.Semantic.TopK,
		Metrics:      a.metrics,
		Availability: a.availability,
	})
	if err != nil {
		return err
	}
	a.server = srv
	return nil
}

// Addr returns the control server's bound address, empty before Run has
// opened the listener. Useful when the config asked for port 0.
func (a *App) Addr() string {
	return a.server.Addr()
}

// availability reports which optional backends are live right now.
func (a *App) availability() server.Availability {
	return server.Availability{
		Realtime:   a.turns != nil && a.turns.Available(),
		STT:        a.providers.STT != nil,
		TTS:        a.providers.TTS != nil,
		LLM:        a.providers.LLM != nil,
		Search:     a.providers.Search != nil,
		Embeddings: a.providers.Embeddings != nil,
		WakeWord:   a.pipeline != nil,
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the serving loops and blocks until ctx is cancelled or a loop
// fails: the HTTP/WS server, the wake pipeline (when configured), and the
// sink keepalive ticker.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.server.Run(ctx)
	})

	if a.pipeline != nil {
		g.Go(func() error {
			err := a.pipeline.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("app: wake pipeline: %w", err)
			}
			return err
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				report := a.hub.PingAll(ctx)
				if report.Failed > 0 {
					slog.Debug("dropped unresponsive sinks", "count", report.Failed)
				}
			}
		}
	})

	slog.Info("tubevox running",
		"wake", a.pipeline != nil,
		"realtime", a.turns != nil,
		"semantic", a.matcher != nil,
	)

	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears subsystems down in order: realtime sessions first so
// pending asks are rejected rather than dropped, then the control channel,
// then stores. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		done := make(chan struct{})
		go func() {
			defer close(done)
			for _, c := range a.closers {
				if err := c(); err != nil {
					errs = append(errs, err)
				}
			}
			a.hub.CloseAll()
		}()

		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("app: shutdown: %w", ctx.Err()))
		}
	})
	return errors.Join(errs...)
}

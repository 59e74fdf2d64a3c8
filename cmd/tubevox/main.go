// Command tubevox is the voice-controlled YouTube assistant daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/tubevox/tubevox/internal/app"
	"github.com/tubevox/tubevox/internal/config"
	"github.com/tubevox/tubevox/internal/observe"
	"github.com/tubevox/tubevox/pkg/provider/embeddings"
	ollamaembed "github.com/tubevox/tubevox/pkg/provider/embeddings/ollama"
	oaembed "github.com/tubevox/tubevox/pkg/provider/embeddings/openai"
	"github.com/tubevox/tubevox/pkg/provider/llm"
	"github.com/tubevox/tubevox/pkg/provider/llm/anyllm"
	"github.com/tubevox/tubevox/pkg/provider/mic"
	"github.com/tubevox/tubevox/pkg/provider/mic/pvrecorder"
	"github.com/tubevox/tubevox/pkg/provider/realtime"
	oairealtime "github.com/tubevox/tubevox/pkg/provider/realtime/openai"
	"github.com/tubevox/tubevox/pkg/provider/search"
	"github.com/tubevox/tubevox/pkg/provider/search/tavily"
	"github.com/tubevox/tubevox/pkg/provider/stt"
	oaistt "github.com/tubevox/tubevox/pkg/provider/stt/openai"
	"github.com/tubevox/tubevox/pkg/provider/stt/whisper"
	"github.com/tubevox/tubevox/pkg/provider/tts"
	"github.com/tubevox/tubevox/pkg/provider/tts/elevenlabs"
	oaitts "github.com/tubevox/tubevox/pkg/provider/tts/openai"
	"github.com/tubevox/tubevox/pkg/provider/wakeword"
	"github.com/tubevox/tubevox/pkg/provider/wakeword/energy"
	"github.com/tubevox/tubevox/pkg/provider/wakeword/porcupine"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "tubevox: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "tubevox: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("tubevox starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "tubevox"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("daemon ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinProviders maps provider category names to the implementations that
// ship with tubevox. Used for startup logging.
var builtinProviders = map[string][]string{
	"realtime":   {"openai"},
	"stt":        {"whisper", "openai"},
	"tts":        {"elevenlabs", "openai"},
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama"},
	"search":     {"tavily"},
	"wakeword":   {"porcupine", "energy"},
	"mic":        {"pvrecorder"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the
// appropriate provider from the real implementation packages. The wake
// detector factories additionally close over cfg.Wake for keyword tuning.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	// ── Realtime ──────────────────────────────────────────────────────────────

	reg.RegisterRealtime("openai", func(entry config.ProviderEntry) (realtime.Provider, error) {
		var opts []oairealtime.Option
		if entry.Model != "" {
			opts = append(opts, oairealtime.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oairealtime.WithBaseURL(entry.BaseURL))
		}
		return oairealtime.New(entry.APIKey, opts...), nil
	})

	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai, anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile
	// all share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"openai", "anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if voice := optString(entry.Options, "voice_id"); voice != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(voice))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oaitts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		return oaitts.New(entry.APIKey, entry.Model, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return ollamaembed.New(entry.BaseURL, entry.Model)
	})

	// ── Search ────────────────────────────────────────────────────────────────

	reg.RegisterSearch("tavily", func(entry config.ProviderEntry) (search.Provider, error) {
		var opts []tavily.Option
		if entry.BaseURL != "" {
			opts = append(opts, tavily.WithBaseURL(entry.BaseURL))
		}
		return tavily.New(entry.APIKey, opts...)
	})

	// ── Wake word ─────────────────────────────────────────────────────────────

	reg.RegisterWakeWord("porcupine", func(entry config.ProviderEntry) (wakeword.Detector, error) {
		var opts []porcupine.Option
		if cfg.Wake.Sensitivity > 0 {
			opts = append(opts, porcupine.WithSensitivity(cfg.Wake.Sensitivity))
		}
		if path := optString(entry.Options, "keyword_path"); path != "" {
			opts = append(opts, porcupine.WithKeywordPath(path))
		}
		return porcupine.New(entry.APIKey, cfg.Wake.Keyword, opts...)
	})

	reg.RegisterWakeWord("energy", func(entry config.ProviderEntry) (wakeword.Detector, error) {
		var opts []energy.Option
		if cfg.Wake.Sensitivity > 0 {
			// Higher sensitivity means a lower trigger threshold.
			opts = append(opts, energy.WithThreshold(3000*(1-float64(cfg.Wake.Sensitivity))))
		}
		return energy.New(opts...), nil
	})

	// ── Microphone ────────────────────────────────────────────────────────────

	reg.RegisterMic("pvrecorder", func(entry config.ProviderEntry) (mic.Source, error) {
		var opts []pvrecorder.Option
		if idx, ok := optInt(entry.Options, "device_index"); ok {
			opts = append(opts, pvrecorder.WithDeviceIndex(idx))
		}
		return pvrecorder.New(opts...), nil
	})

	// Debug log of all registered providers.
	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
// A provider named in the config but missing credentials fails here; a
// provider left unnamed stays nil and the matching feature is disabled.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Providers.Realtime.Name; name != "" {
		p, err := reg.CreateRealtime(cfg.Providers.Realtime)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "realtime", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create realtime provider %q: %w", name, err)
		} else {
			ps.Realtime = p
			slog.Info("provider created", "kind", "realtime", "name", name)
		}
	}

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "stt", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		} else {
			ps.STT = p
			slog.Info("provider created", "kind", "stt", "name", name)
		}
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTS)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "tts", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		} else {
			ps.TTS = p
			slog.Info("provider created", "kind", "tts", "name", name)
		}
	}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "llm", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		} else {
			ps.LLM = p
			slog.Info("provider created", "kind", "llm", "name", name)
		}
	}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "embeddings", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		} else {
			ps.Embeddings = p
			slog.Info("provider created", "kind", "embeddings", "name", name)
		}
	}

	if name := cfg.Providers.Search.Name; name != "" {
		p, err := reg.CreateSearch(cfg.Providers.Search)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "search", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create search provider %q: %w", name, err)
		} else {
			ps.Search = p
			slog.Info("provider created", "kind", "search", "name", name)
		}
	}

	// Wake-word credentials are the one startup failure that must degrade
	// instead of aborting: the daemon still serves the control channel.
	if name := cfg.Providers.WakeWord.Name; name != "" {
		p, err := reg.CreateWakeWord(cfg.Providers.WakeWord)
		if err != nil {
			slog.Warn("wake-word detector unavailable; wake pipeline disabled", "name", name, "err", err)
		} else {
			ps.WakeWord = p
			slog.Info("provider created", "kind", "wakeword", "name", name)
		}
	}

	if name := cfg.Providers.Mic.Name; name != "" {
		p, err := reg.CreateMic(cfg.Providers.Mic)
		if err != nil {
			slog.Warn("microphone unavailable; wake pipeline disabled", "name", name, "err", err)
		} else {
			ps.Mic = p
			slog.Info("provider created", "kind", "mic", "name", name)
		}
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         tubevox — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Realtime", cfg.Providers.Realtime.Name, cfg.Providers.Realtime.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	printProvider("Search", cfg.Providers.Search.Name, "")
	printProvider("Wake word", cfg.Providers.WakeWord.Name, cfg.Wake.Keyword)
	printProvider("Microphone", cfg.Providers.Mic.Name, "")
	if cfg.Semantic.PostgresDSN != "" {
		fmt.Printf("║  Index store     : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Index store     : %-19s ║\n", "disk")
	}
	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = ":17321"
	}
	fmt.Printf("║  Listen addr     : %-19s ║\n", addr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// optInt extracts an integer value from a provider Options map. YAML decodes
// numbers as int; reject anything else.
func optInt(opts map[string]any, key string) (int, bool) {
	if opts == nil {
		return 0, false
	}
	v, ok := opts[key]
	if !ok {
		return 0, false
	}
	n, ok := v.(int)
	return n, ok
}

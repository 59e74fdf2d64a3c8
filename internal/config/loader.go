package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"realtime":   {"openai"},
	"stt":        {"whisper", "openai"},
	"tts":        {"elevenlabs", "openai"},
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama"},
	"search":     {"tavily"},
	"wakeword":   {"porcupine", "energy"},
	"mic":        {"pvrecorder"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Soft misconfiguration that only degrades a feature is logged, not rejected.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("realtime", cfg.Providers.Realtime.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("search", cfg.Providers.Search.Name)
	validateProviderName("wakeword", cfg.Providers.WakeWord.Name)
	validateProviderName("mic", cfg.Providers.Mic.Name)

	// Answer availability warnings. Nothing here hard-fails: the daemon
	// degrades to the apologetic response instead.
	if cfg.Providers.Realtime.Name == "" && cfg.Providers.LLM.Name == "" {
		slog.Warn("no realtime or LLM provider configured; conversational queries will only receive the apology response")
	}
	if cfg.Providers.LLM.Name != "" && cfg.Providers.Search.Name == "" {
		slog.Warn("providers.llm is configured but providers.search is not; fallback answers will not be grounded in web results")
	}

	// Wake
	if cfg.Providers.WakeWord.Name == "" {
		slog.Warn("providers.wakeword is not configured; the wake pipeline will be disabled")
	}
	if cfg.Wake.Sensitivity < 0 || cfg.Wake.Sensitivity > 1 {
		errs = append(errs, fmt.Errorf("wake.sensitivity %.2f is out of range [0, 1]", cfg.Wake.Sensitivity))
	}
	if cfg.Wake.CaptureWindowMS < 0 {
		errs = append(errs, fmt.Errorf("wake.capture_window_ms %d is negative", cfg.Wake.CaptureWindowMS))
	}

	// Turn thresholds. Zero means default; negative is always a mistake.
	if cfg.Turn.PollIntervalMS < 0 {
		errs = append(errs, fmt.Errorf("turn.poll_interval_ms %d is negative", cfg.Turn.PollIntervalMS))
	}
	if cfg.Turn.AudioIdleMS < 0 {
		errs = append(errs, fmt.Errorf("turn.audio_idle_ms %d is negative", cfg.Turn.AudioIdleMS))
	}
	if cfg.Turn.TextIdleMS < 0 {
		errs = append(errs, fmt.Errorf("turn.text_idle_ms %d is negative", cfg.Turn.TextIdleMS))
	}
	if cfg.Turn.AudioIdleMS > 0 && cfg.Turn.TextIdleMS > 0 && cfg.Turn.AudioIdleMS > cfg.Turn.TextIdleMS {
		slog.Warn("turn.audio_idle_ms exceeds turn.text_idle_ms; audio-bearing turns will outlive text-only turns",
			"audio_idle_ms", cfg.Turn.AudioIdleMS,
			"text_idle_ms", cfg.Turn.TextIdleMS,
		)
	}

	// Semantic ↔ embeddings dimensions
	if cfg.Providers.Embeddings.Name != "" && cfg.Semantic.PostgresDSN != "" && cfg.Semantic.EmbeddingDimensions <= 0 {
		slog.Warn("semantic.postgres_dsn is set but semantic.embedding_dimensions is not; defaulting to 1536")
	}
	if cfg.Providers.Embeddings.Name == "" {
		slog.Warn("providers.embeddings is not configured; jump_to_phrase will rely on literal and fuzzy search only")
	}
	if cfg.Semantic.TopK < 0 {
		errs = append(errs, fmt.Errorf("semantic.top_k %d is negative", cfg.Semantic.TopK))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

// Package answer produces spoken replies when the realtime conversational
// backend is unavailable. It grounds the question in web search results,
// synthesises a short answer with an LLM, and optionally renders it to
// speech through a TTS provider.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tubevox/tubevox/internal/media"
	"github.com/tubevox/tubevox/internal/observe"
	"github.com/tubevox/tubevox/pkg/provider/llm"
	"github.com/tubevox/tubevox/pkg/provider/search"
	"github.com/tubevox/tubevox/pkg/provider/tts"
)

// ErrNotConfigured is returned when no LLM backend is wired.
var ErrNotConfigured = errors.New("answer: no llm provider configured")

// systemPrompt keeps replies short enough to speak aloud.
const systemPrompt = "You are a voice assistant answering questions while the user watches a video. " +
	"Answer in one to three spoken sentences. No markdown, no lists, no citations in the text."

// maxSearchResults bounds how many snippets are stuffed into the prompt.
const maxSearchResults = 4

// Result is a grounded answer.
type Result struct {
	// Text is the spoken reply.
	Text string `json:"text"`

	// AudioRef is the media-store reference for the synthesised speech.
	// Empty when no TTS provider is wired or synthesis failed.
	AudioRef string `json:"audio_reference,omitempty"`

	// Sources lists the search hits the answer was grounded in. Nil when
	// search was unavailable.
	Sources []search.Result `json:"sources,omitempty"`
}

// MediaStore persists synthesised speech. *media.Store is the production
// implementation.
type MediaStore interface {
	SaveWAV(wav []byte) (string, error)
}

// Service answers questions through the search-then-synthesise chain.
// Search and TTS are optional; the LLM is required.
type Service struct {
	searcher search.Provider
	model    llm.Provider
	speech   tts.Provider
	store    MediaStore
	voice    tts.Voice
	metrics  *observe.Metrics
}

// Option is a functional option for Service.
type Option func(*Service)

// WithSearch enables web-search grounding.
func WithSearch(p search.Provider) Option {
	return func(s *Service) {
		s.searcher = p
	}
}

// WithSpeech enables TTS rendering of answers into the given store.
func WithSpeech(p tts.Provider, store MediaStore, voice tts.Voice) Option {
	return func(s *Service) {
		s.speech = p
		s.store = store
		s.voice = voice
	}
}

// WithMetrics records synthesis latency and provider call outcomes.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService creates a Service over the given LLM. model may be nil, in
// which case every Answer call fails fast with ErrNotConfigured so callers
// can degrade.
func NewService(model llm.Provider, opts ...Option) *Service {
	s := &Service{model: model}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Available reports whether the service can produce answers.
func (s *Service) Available() bool {
	return s.model != nil
}

// Answer produces a grounded spoken reply to question. Search failures
// degrade to an ungrounded answer; only LLM failure is an error.
func (s *Service) Answer(ctx context.Context, question string) (Result, error) {
	if question = strings.TrimSpace(question); question == "" {
		return Result{}, errors.New("answer: question must not be empty")
	}
	if s.model == nil {
		return Result{}, ErrNotConfigured
	}

	var sources []search.Result
	if s.searcher != nil {
		hits, err := s.searcher.Search(ctx, question, maxSearchResults)
		if err != nil {
			slog.Warn("answer: web search failed, answering ungrounded", "err", err)
		} else {
			sources = hits
		}
	}

	resp, err := s.model.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: buildPrompt(question, sources)}},
		MaxTokens:    256,
	})
	s.countProviderCall(ctx, "llm", "complete", err)
	if err != nil {
		return Result{}, fmt.Errorf("answer: synthesise reply: %w", err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return Result{}, errors.New("answer: model returned empty reply")
	}

	result := Result{Text: text, Sources: sources}
	if s.speech != nil && s.store != nil {
		if ref, err := s.render(ctx, text); err != nil {
			slog.Warn("answer: speech synthesis failed, text-only reply", "err", err)
		} else {
			result.AudioRef = ref
		}
	}
	return result, nil
}

// Speak renders text to speech and returns the media reference for the
// resulting WAV file. Returns empty without error when no TTS provider is
// wired, so callers can treat missing speech as a text-only reply.
func (s *Service) Speak(ctx context.Context, text string) (string, error) {
	if s.speech == nil || s.store == nil {
		return "", nil
	}
	return s.render(ctx, text)
}

// render synthesises text and persists it as a WAV file.
func (s *Service) render(ctx context.Context, text string) (string, error) {
	start := time.Now()
	pcm, err := s.speech.Synthesize(ctx, text, s.voice)
	s.countProviderCall(ctx, "tts", "synthesize", err)
	if s.metrics != nil {
		s.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		return "", err
	}
	return s.store.SaveWAV(media.EncodeWAV(pcm, media.DefaultWAVFormat))
}

// countProviderCall records one backend API call and its outcome.
func (s *Service) countProviderCall(ctx context.Context, provider, op string, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		s.metrics.RecordProviderError(ctx, provider, op)
	}
	s.metrics.RecordProviderRequest(ctx, provider, op, status)
}

// buildPrompt interleaves the question with numbered search snippets.
func buildPrompt(question string, sources []search.Result) string {
	if len(sources) == 0 {
		return question
	}
	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\n\nWeb results:\n")
	for i, r := range sources {
		fmt.Fprintf(&b, "%d. %s — %s\n", i+1, r.Title, r.Snippet)
	}
	b.WriteString("\nAnswer the question using the results where relevant.")
	return b.String()
}

package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tubevox/tubevox/pkg/provider/embeddings"
	"github.com/tubevox/tubevox/pkg/provider/llm"
	"github.com/tubevox/tubevox/pkg/provider/mic"
	"github.com/tubevox/tubevox/pkg/provider/realtime"
	"github.com/tubevox/tubevox/pkg/provider/search"
	"github.com/tubevox/tubevox/pkg/provider/stt"
	"github.com/tubevox/tubevox/pkg/provider/tts"
	"github.com/tubevox/tubevox/pkg/provider/wakeword"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	realtime   map[string]func(ProviderEntry) (realtime.Provider, error)
	stt        map[string]func(ProviderEntry) (stt.Provider, error)
	tts        map[string]func(ProviderEntry) (tts.Provider, error)
	llm        map[string]func(ProviderEntry) (llm.Provider, error)
	embeddings map[string]func(ProviderEntry) (embeddings.Provider, error)
	search     map[string]func(ProviderEntry) (search.Provider, error)
	wakeword   map[string]func(ProviderEntry) (wakeword.Detector, error)
	mic        map[string]func(ProviderEntry) (mic.Source, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		realtime:   make(map[string]func(ProviderEntry) (realtime.Provider, error)),
		stt:        make(map[string]func(ProviderEntry) (stt.Provider, error)),
		tts:        make(map[string]func(ProviderEntry) (tts.Provider, error)),
		llm:        make(map[string]func(ProviderEntry) (llm.Provider, error)),
		embeddings: make(map[string]func(ProviderEntry) (embeddings.Provider, error)),
		search:     make(map[string]func(ProviderEntry) (search.Provider, error)),
		wakeword:   make(map[string]func(ProviderEntry) (wakeword.Detector, error)),
		mic:        make(map[string]func(ProviderEntry) (mic.Source, error)),
	}
}

// RegisterRealtime registers a realtime provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterRealtime(name string, factory func(ProviderEntry) (realtime.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.realtime[name] = factory
}

// RegisterSTT registers an STT provider factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = factory
}

// RegisterSearch registers a web search provider factory under name.
func (r *Registry) RegisterSearch(name string, factory func(ProviderEntry) (search.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.search[name] = factory
}

// RegisterWakeWord registers a wake-word detector factory under name.
func (r *Registry) RegisterWakeWord(name string, factory func(ProviderEntry) (wakeword.Detector, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wakeword[name] = factory
}

// RegisterMic registers a microphone source factory under name.
func (r *Registry) RegisterMic(name string, factory func(ProviderEntry) (mic.Source, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mic[name] = factory
}

// CreateRealtime instantiates a realtime provider using the factory registered
// under entry.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateRealtime(entry ProviderEntry) (realtime.Provider, error) {
	r.mu.RLock()
	factory, ok := r.realtime[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: realtime/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSTT instantiates an STT provider using the factory registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTTS instantiates a TTS provider using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateEmbeddings instantiates an embeddings provider using the factory registered under entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	factory, ok := r.embeddings[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embeddings/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSearch instantiates a web search provider using the factory registered under entry.Name.
func (r *Registry) CreateSearch(entry ProviderEntry) (search.Provider, error) {
	r.mu.RLock()
	factory, ok := r.search[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: search/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateWakeWord instantiates a wake-word detector using the factory registered under entry.Name.
func (r *Registry) CreateWakeWord(entry ProviderEntry) (wakeword.Detector, error) {
	r.mu.RLock()
	factory, ok := r.wakeword[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: wakeword/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateMic instantiates a microphone source using the factory registered under entry.Name.
func (r *Registry) CreateMic(entry ProviderEntry) (mic.Source, error) {
	r.mu.RLock()
	factory, ok := r.mic[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: mic/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

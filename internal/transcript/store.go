package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tubevox/tubevox/internal/observe"
	"github.com/tubevox/tubevox/pkg/provider/stt"
)

// ErrUnavailable is returned when every acquisition source failed or is
// unconfigured.
var ErrUnavailable = errors.New("transcript: no source could produce a transcript")

// CaptionSource fetches an official caption track. *CaptionFetcher is the
// production implementation.
type CaptionSource interface {
	Fetch(ctx context.Context, videoID string) (*Transcript, error)
}

// AudioSampler extracts a short mono PCM sample of a video's audio track for
// machine transcription. Optional; a Store without one skips the STT
// fallback.
type AudioSampler interface {
	Sample(ctx context.Context, videoID string) (pcm []byte, sampleRate int, err error)
}

// Stats describes the store's cache population.
type Stats struct {
	MemoryEntries int `json:"memory_entries"`
	DiskEntries   int `json:"disk_entries"`
}

// Store acquires transcripts through the priority chain and caches results
// in memory and as JSON files on disk.
//
// All methods are safe for concurrent use.
type Store struct {
	dir      string
	captions CaptionSource
	sttp     stt.Provider
	sampler  AudioSampler
	metrics  *observe.Metrics

	mu     sync.Mutex
	memory map[string]*Transcript
}

// StoreOption is a functional option for Store.
type StoreOption func(*Store)

// WithSTTFallback enables machine transcription when captions are missing.
// Both arguments must be non-nil for the fallback to activate.
func WithSTTFallback(p stt.Provider, sampler AudioSampler) StoreOption {
	return func(s *Store) {
		s.sttp = p
		s.sampler = sampler
	}
}

// WithMetrics records transcript acquisitions by source.
func WithMetrics(m *observe.Metrics) StoreOption {
	return func(s *Store) {
		s.metrics = m
	}
}

// NewStore creates a Store caching under dir. The directory is created if
// absent.
func NewStore(dir string, captions CaptionSource, opts ...StoreOption) (*Store, error) {
	if dir == "" {
		return nil, errors.New("transcript: cache dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("transcript: create cache dir: %w", err)
	}
	s := &Store{
		dir:      dir,
		captions: captions,
		memory:   make(map[string]*Transcript),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Get returns the transcript for videoID, acquiring it if necessary. force
// skips both caches and re-fetches from the live sources.
func (s *Store) Get(ctx context.Context, videoID string, force bool) (*Transcript, error) {
	if videoID == "" {
		return nil, errors.New("transcript: videoID must not be empty")
	}

	if !force {
		if t := s.fromMemory(videoID); t != nil {
			s.countFetch(ctx, SourceCache)
			return t, nil
		}
		if t, err := s.fromDisk(videoID); err == nil && t != nil {
			s.toMemory(t)
			s.countFetch(ctx, SourceCache)
			return t, nil
		}
	}

	t, err := s.acquire(ctx, videoID)
	if err != nil {
		return nil, err
	}
	s.countFetch(ctx, t.Source)
	s.toMemory(t)
	if err := s.toDisk(t); err != nil {
		slog.Warn("transcript: cache write failed", "video", videoID, "err", err)
	}
	return t, nil
}

// Has reports whether a transcript for videoID is cached in memory or on
// disk.
func (s *Store) Has(videoID string) bool {
	if s.fromMemory(videoID) != nil {
		return true
	}
	_, err := os.Stat(s.path(videoID))
	return err == nil
}

// Clear drops the cached transcript for videoID from memory and disk.
func (s *Store) Clear(videoID string) error {
	s.mu.Lock()
	delete(s.memory, videoID)
	s.mu.Unlock()
	if err := os.Remove(s.path(videoID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("transcript: clear cache: %w", err)
	}
	return nil
}

// Stats returns cache population counts.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	mem := len(s.memory)
	s.mu.Unlock()

	disk := 0
	entries, err := os.ReadDir(s.dir)
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
				disk++
			}
		}
	}
	return Stats{MemoryEntries: mem, DiskEntries: disk}
}

// acquire runs the live source chain: captions first, STT sample second.
func (s *Store) acquire(ctx context.Context, videoID string) (*Transcript, error) {
	var errs []error

	if s.captions != nil {
		t, err := s.captions.Fetch(ctx, videoID)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, ErrNoCaptions) {
			slog.Warn("transcript: caption fetch failed", "video", videoID, "err", err)
		}
		errs = append(errs, err)
	}

	if s.sttp != nil && s.sampler != nil {
		t, err := s.transcribeSample(ctx, videoID)
		if err == nil {
			return t, nil
		}
		slog.Warn("transcript: stt fallback failed", "video", videoID, "err", err)
		errs = append(errs, err)
	}

	errs = append([]error{fmt.Errorf("%w: video %s", ErrUnavailable, videoID)}, errs...)
	return nil, errors.Join(errs...)
}

func (s *Store) transcribeSample(ctx context.Context, videoID string) (*Transcript, error) {
	pcm, rate, err := s.sampler.Sample(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("sample audio: %w", err)
	}
	res, err := s.sttp.Transcribe(ctx, stt.Request{PCM: pcm, SampleRate: rate})
	if err != nil {
		return nil, fmt.Errorf("transcribe sample: %w", err)
	}

	t := &Transcript{
		VideoID: videoID,
		Source:  SourceSTT,
		Fetched: time.Now().UTC(),
	}
	if len(res.Segments) > 0 {
		for _, seg := range res.Segments {
			t.Segments = append(t.Segments, Segment{Text: strings.TrimSpace(seg.Text), Start: seg.Start, End: seg.End})
		}
	} else if strings.TrimSpace(res.Text) != "" {
		t.Segments = []Segment{{Text: strings.TrimSpace(res.Text)}}
	} else {
		return nil, errors.New("transcribe sample: empty result")
	}
	return t, nil
}

func (s *Store) countFetch(ctx context.Context, source string) {
	if s.metrics != nil {
		s.metrics.RecordTranscriptFetch(ctx, source)
	}
}

func (s *Store) fromMemory(videoID string) *Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memory[videoID]
}

func (s *Store) toMemory(t *Transcript) {
	s.mu.Lock()
	s.memory[t.VideoID] = t
	s.mu.Unlock()
}

func (s *Store) fromDisk(videoID string) (*Transcript, error) {
	data, err := os.ReadFile(s.path(videoID))
	if err != nil {
		return nil, err
	}
	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("transcript: decode cached file: %w", err)
	}
	return &t, nil
}

func (s *Store) toDisk(t *Transcript) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(t.VideoID), data, 0o644)
}

// path sanitises videoID into a cache filename.
func (s *Store) path(videoID string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, videoID)
	return filepath.Join(s.dir, safe+".json")
}

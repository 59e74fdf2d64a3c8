package semantic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/tubevox/tubevox/internal/transcript"
	"github.com/tubevox/tubevox/pkg/provider/embeddings"
)

// Entry pairs one transcript segment with its embedding vector.
type Entry struct {
	Segment transcript.Segment `json:"segment"`
	Vector  []float32          `json:"vector"`
}

// Index holds every embedded segment of one video. An index is only trusted
// when ModelID matches the active embedding model; anything else is rebuilt.
type Index struct {
	VideoID string    `json:"video_id"`
	ModelID string    `json:"model_id"`
	Built   time.Time `json:"built"`
	Entries []Entry   `json:"entries"`
}

// Match is one ranked result.
type Match struct {
	Segment transcript.Segment `json:"segment"`
	Score   float64            `json:"score"`
}

// IndexStore persists indexes between runs. Load returns (nil, nil) when no
// index exists for the video.
type IndexStore interface {
	Load(ctx context.Context, videoID string) (*Index, error)
	Save(ctx context.Context, idx *Index) error
	Drop(ctx context.Context, videoID string) error
}

// NearestSearcher is an optional IndexStore extension for stores that can
// rank server-side (pgvector). The matcher uses it instead of in-memory
// scoring when available.
type NearestSearcher interface {
	Nearest(ctx context.Context, videoID, modelID string, query []float32, k int) ([]Match, error)
}

// DefaultTopK is the result count used when the caller passes k <= 0.
const DefaultTopK = 3

// Matcher builds, refreshes, and queries per-video indexes.
//
// All methods are safe for concurrent use as long as the store is.
type Matcher struct {
	emb   embeddings.Provider
	store IndexStore
}

// NewMatcher creates a Matcher over the given embedding provider and store.
// Both must be non-nil.
func NewMatcher(emb embeddings.Provider, store IndexStore) (*Matcher, error) {
	if emb == nil {
		return nil, errors.New("semantic: embeddings provider must not be nil")
	}
	if store == nil {
		return nil, errors.New("semantic: index store must not be nil")
	}
	return &Matcher{emb: emb, store: store}, nil
}

// Match returns the k segments most similar to phrase, best first. Ties keep
// segment order, so results are deterministic. The index for the video is
// loaded from the store and rebuilt when missing, built by a different
// model, or out of step with the segment list.
func (m *Matcher) Match(ctx context.Context, videoID string, segments []transcript.Segment, phrase string, k int) ([]Match, error) {
	if phrase == "" {
		return nil, errors.New("semantic: phrase must not be empty")
	}
	if len(segments) == 0 {
		return nil, nil
	}
	if k <= 0 {
		k = DefaultTopK
	}

	idx, err := m.ensureIndex(ctx, videoID, segments)
	if err != nil {
		return nil, err
	}

	query, err := m.emb.Embed(ctx, phrase)
	if err != nil {
		return nil, fmt.Errorf("semantic: embed phrase: %w", err)
	}

	if ns, ok := m.store.(NearestSearcher); ok {
		matches, err := ns.Nearest(ctx, videoID, m.emb.ModelID(), query, k)
		if err == nil {
			return matches, nil
		}
		slog.Warn("semantic: store-side search failed, ranking in memory", "err", err)
	}

	return rank(idx.Entries, query, k), nil
}

// Rebuild drops any stored index for the video and builds a fresh one.
func (m *Matcher) Rebuild(ctx context.Context, videoID string, segments []transcript.Segment) error {
	if err := m.store.Drop(ctx, videoID); err != nil {
		return fmt.Errorf("semantic: drop stale index: %w", err)
	}
	_, err := m.ensureIndex(ctx, videoID, segments)
	return err
}

// ensureIndex loads a fresh index or rebuilds it.
func (m *Matcher) ensureIndex(ctx context.Context, videoID string, segments []transcript.Segment) (*Index, error) {
	idx, err := m.store.Load(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("semantic: load index: %w", err)
	}
	if idx != nil && m.fresh(idx, segments) {
		return idx, nil
	}
	if idx != nil {
		slog.Info("semantic: index stale, rebuilding",
			"video", videoID,
			"stored_model", idx.ModelID,
			"active_model", m.emb.ModelID(),
		)
	}
	return m.build(ctx, videoID, segments)
}

// fresh reports whether idx can serve the given segment list.
func (m *Matcher) fresh(idx *Index, segments []transcript.Segment) bool {
	if idx.ModelID != m.emb.ModelID() {
		return false
	}
	if len(idx.Entries) != len(segments) {
		return false
	}
	for i, e := range idx.Entries {
		if e.Segment.Text != segments[i].Text {
			return false
		}
	}
	return true
}

// build embeds every segment in one batch and persists the result.
func (m *Matcher) build(ctx context.Context, videoID string, segments []transcript.Segment) (*Index, error) {
	texts := make([]string, len(segments))
	for i, s := range segments {
		texts[i] = s.Text
	}
	vecs, err := m.emb.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("semantic: embed segments: %w", err)
	}
	if len(vecs) != len(segments) {
		return nil, fmt.Errorf("semantic: expected %d vectors, got %d", len(segments), len(vecs))
	}

	idx := &Index{
		VideoID: videoID,
		ModelID: m.emb.ModelID(),
		Built:   time.Now().UTC(),
		Entries: make([]Entry, len(segments)),
	}
	for i := range segments {
		idx.Entries[i] = Entry{Segment: segments[i], Vector: vecs[i]}
	}

	if err := m.store.Save(ctx, idx); err != nil {
		return nil, fmt.Errorf("semantic: save index: %w", err)
	}
	slog.Debug("semantic: index built", "video", videoID, "segments", len(segments), "model", idx.ModelID)
	return idx, nil
}

// rank scores entries against query and returns the top k, best first.
// sort.SliceStable keeps segment order for equal scores.
func rank(entries []Entry, query []float32, k int) []Match {
	matches := make([]Match, len(entries))
	for i, e := range entries {
		matches[i] = Match{Segment: e.Segment, Score: Cosine(query, e.Vector)}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

package semantic

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/tubevox/tubevox/internal/transcript"
	embmock "github.com/tubevox/tubevox/pkg/provider/embeddings/mock"
)

func TestCosine(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"zero norm a", []float32{0, 0}, []float32{1, 1}, 0.0},
		{"zero norm b", []float32{1, 1}, []float32{0, 0}, 0.0},
		{"both empty", nil, nil, 0.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Cosine(tc.a, tc.b)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("Cosine = %f, want %f", got, tc.want)
			}
		})
	}
}

func segs(texts ...string) []transcript.Segment {
	out := make([]transcript.Segment, len(texts))
	for i, s := range texts {
		out[i] = transcript.Segment{
			Text:  s,
			Start: time.Duration(i) * 5 * time.Second,
			End:   time.Duration(i+1) * 5 * time.Second,
		}
	}
	return out
}

func TestMatcher_RanksBySimilarity(t *testing.T) {
	t.Parallel()

	emb := &embmock.Provider{
		DimensionsValue: 2,
		ModelIDValue:    "model-A",
		Vectors: map[string][]float32{
			"cooking pasta":        {1, 0},
			"discuss transformers": {0, 1},
			"closing thoughts":     {0.5, 0.5},
			"transformers":         {0, 1},
		},
	}
	store, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}
	m, err := NewMatcher(emb, store)
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}

	segments := segs("cooking pasta", "discuss transformers", "closing thoughts")
	matches, err := m.Match(context.Background(), "vid", segments, "transformers", 2)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}

	if len(matches) != 2 {
		t.Fatalf("matches = %d, want 2", len(matches))
	}
	if matches[0].Segment.Text != "discuss transformers" {
		t.Fatalf("best match = %q", matches[0].Segment.Text)
	}
	if matches[0].Score < matches[1].Score {
		t.Fatal("matches not in descending score order")
	}
	if math.Abs(matches[0].Score-1.0) > 1e-6 {
		t.Fatalf("best score = %f, want 1.0", matches[0].Score)
	}
}

func TestMatcher_StableTieOrder(t *testing.T) {
	t.Parallel()

	// All segments embed identically, so every score ties and segment
	// order must be preserved.
	emb := &embmock.Provider{
		DimensionsValue: 2,
		ModelIDValue:    "model-A",
		Fn:              func(string) []float32 { return []float32{1, 1} },
	}
	store, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}
	m, _ := NewMatcher(emb, store)

	segments := segs("first", "second", "third")
	matches, err := m.Match(context.Background(), "vid", segments, "anything", 3)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	for i, want := range []string{"first", "second", "third"} {
		if matches[i].Segment.Text != want {
			t.Fatalf("matches[%d] = %q, want %q", i, matches[i].Segment.Text, want)
		}
	}
}

func TestMatcher_RebuildsOnModelChange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	segments := segs("alpha", "beta")

	embA := &embmock.Provider{DimensionsValue: 2, ModelIDValue: "model-A",
		Fn: func(string) []float32 { return []float32{1, 0} }}
	storeA, _ := NewDiskStore(dir)
	mA, _ := NewMatcher(embA, storeA)
	if _, err := mA.Match(context.Background(), "vid", segments, "alpha", 1); err != nil {
		t.Fatalf("first Match: %v", err)
	}
	buildCalls := embA.CallCount()
	if buildCalls < len(segments) {
		t.Fatalf("embed calls = %d, want >= %d", buildCalls, len(segments))
	}

	// Same store, same segments, fresh model id: index must be rebuilt.
	embB := &embmock.Provider{DimensionsValue: 2, ModelIDValue: "model-B",
		Fn: func(string) []float32 { return []float32{0, 1} }}
	storeB, _ := NewDiskStore(dir)
	mB, _ := NewMatcher(embB, storeB)
	if _, err := mB.Match(context.Background(), "vid", segments, "alpha", 1); err != nil {
		t.Fatalf("second Match: %v", err)
	}
	if embB.CallCount() < len(segments) {
		t.Fatalf("index was not rebuilt for new model: embed calls = %d", embB.CallCount())
	}

	idx, err := storeB.Load(context.Background(), "vid")
	if err != nil || idx == nil {
		t.Fatalf("Load: idx=%v err=%v", idx, err)
	}
	if idx.ModelID != "model-B" {
		t.Fatalf("stored model = %q, want model-B", idx.ModelID)
	}
}

func TestMatcher_ReusesFreshIndex(t *testing.T) {
	t.Parallel()

	emb := &embmock.Provider{DimensionsValue: 2, ModelIDValue: "model-A",
		Fn: func(string) []float32 { return []float32{1, 0} }}
	store, _ := NewDiskStore(t.TempDir())
	m, _ := NewMatcher(emb, store)
	segments := segs("alpha", "beta")

	if _, err := m.Match(context.Background(), "vid", segments, "q1", 1); err != nil {
		t.Fatalf("first Match: %v", err)
	}
	afterBuild := emb.CallCount()

	if _, err := m.Match(context.Background(), "vid", segments, "q2", 1); err != nil {
		t.Fatalf("second Match: %v", err)
	}
	// Only the query itself should have been embedded the second time.
	if got := emb.CallCount() - afterBuild; got != 1 {
		t.Fatalf("second match embedded %d texts, want 1", got)
	}
}

func TestDiskStore_RoundTripAndDrop(t *testing.T) {
	t.Parallel()

	store, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}
	ctx := context.Background()

	if idx, err := store.Load(ctx, "missing"); err != nil || idx != nil {
		t.Fatalf("Load missing: idx=%v err=%v", idx, err)
	}

	idx := &Index{
		VideoID: "vid/with:odd chars",
		ModelID: "model-A",
		Built:   time.Now().UTC(),
		Entries: []Entry{{Segment: transcript.Segment{Text: "hi"}, Vector: []float32{1, 2}}},
	}
	if err := store.Save(ctx, idx); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load(ctx, "vid/with:odd chars")
	if err != nil || loaded == nil {
		t.Fatalf("Load: idx=%v err=%v", loaded, err)
	}
	if loaded.ModelID != "model-A" || len(loaded.Entries) != 1 {
		t.Fatalf("loaded = %+v", loaded)
	}

	if err := store.Drop(ctx, "vid/with:odd chars"); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if idx, _ := store.Load(ctx, "vid/with:odd chars"); idx != nil {
		t.Fatal("index survived Drop")
	}
	// Dropping twice is fine.
	if err := store.Drop(ctx, "vid/with:odd chars"); err != nil {
		t.Fatalf("second Drop: %v", err)
	}
}

package answer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/tubevox/tubevox/internal/observe"
	llmmock "github.com/tubevox/tubevox/pkg/provider/llm/mock"
	"github.com/tubevox/tubevox/pkg/provider/search"
	searchmock "github.com/tubevox/tubevox/pkg/provider/search/mock"
	"github.com/tubevox/tubevox/pkg/provider/tts"
	ttsmock "github.com/tubevox/tubevox/pkg/provider/tts/mock"
)

type fakeStore struct {
	saves int
}

func (f *fakeStore) SaveWAV([]byte) (string, error) {
	f.saves++
	return "/media/answer-1.wav", nil
}

func TestAnswer_GroundsPromptInSearchResults(t *testing.T) {
	t.Parallel()

	searcher := &searchmock.Provider{Results: []search.Result{
		{Title: "Paris", Snippet: "Paris is the capital of France."},
	}}
	model := &llmmock.Provider{Content: "The capital of France is Paris."}

	svc := NewService(model, WithSearch(searcher))
	res, err := svc.Answer(context.Background(), "what's the capital of France")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}

	if res.Text != "The capital of France is Paris." {
		t.Fatalf("text = %q", res.Text)
	}
	if len(res.Sources) != 1 {
		t.Fatalf("sources = %d, want 1", len(res.Sources))
	}
	if res.AudioRef != "" {
		t.Fatalf("audio ref = %q without a TTS provider", res.AudioRef)
	}

	req := model.LastRequest()
	if req.SystemPrompt == "" {
		t.Fatal("system prompt missing")
	}
	prompt := req.Messages[0].Content
	if !strings.Contains(prompt, "what's the capital of France") {
		t.Fatalf("prompt lacks question: %q", prompt)
	}
	if !strings.Contains(prompt, "Paris is the capital of France.") {
		t.Fatalf("prompt lacks snippet: %q", prompt)
	}
}

func TestAnswer_SearchFailureDegradesToUngrounded(t *testing.T) {
	t.Parallel()

	searcher := &searchmock.Provider{SearchErr: errors.New("quota exceeded")}
	model := &llmmock.Provider{Content: "best effort reply"}

	svc := NewService(model, WithSearch(searcher))
	res, err := svc.Answer(context.Background(), "some question")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.Sources != nil {
		t.Fatalf("sources = %v, want nil", res.Sources)
	}
	if got := model.LastRequest().Messages[0].Content; got != "some question" {
		t.Fatalf("prompt = %q, want bare question", got)
	}
}

func TestAnswer_RendersSpeechWhenConfigured(t *testing.T) {
	t.Parallel()

	model := &llmmock.Provider{Content: "spoken reply"}
	speech := &ttsmock.Provider{}
	store := &fakeStore{}

	svc := NewService(model, WithSpeech(speech, store, tts.Voice{}))
	res, err := svc.Answer(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.AudioRef != "/media/answer-1.wav" {
		t.Fatalf("audio ref = %q", res.AudioRef)
	}
	if speech.CallCount() != 1 || store.saves != 1 {
		t.Fatalf("tts calls = %d, saves = %d", speech.CallCount(), store.saves)
	}
}

func TestAnswer_RecordsSynthesisMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	model := &llmmock.Provider{Content: "spoken reply"}
	svc := NewService(model,
		WithSpeech(&ttsmock.Provider{}, &fakeStore{}, tts.Voice{}),
		WithMetrics(metrics))
	if _, err := svc.Answer(context.Background(), "hello"); err != nil {
		t.Fatalf("Answer: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	ttsSamples := uint64(0)
	requests := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			switch met.Name {
			case "tubevox.tts.duration":
				if hist, ok := met.Data.(metricdata.Histogram[float64]); ok && len(hist.DataPoints) > 0 {
					ttsSamples = hist.DataPoints[0].Count
				}
			case "tubevox.provider.requests":
				if sum, ok := met.Data.(metricdata.Sum[int64]); ok {
					for _, dp := range sum.DataPoints {
						provider, _ := dp.Attributes.Value(attribute.Key("provider"))
						requests[provider.AsString()] += dp.Value
					}
				}
			}
		}
	}
	if ttsSamples != 1 {
		t.Errorf("tts duration samples = %d, want 1", ttsSamples)
	}
	if requests["tts"] != 1 || requests["llm"] != 1 {
		t.Errorf("provider requests = %v, want one tts and one llm call", requests)
	}
}

func TestAnswer_SpeechFailureKeepsText(t *testing.T) {
	t.Parallel()

	model := &llmmock.Provider{Content: "still here"}
	speech := &ttsmock.Provider{SynthesizeErr: errors.New("voice server down")}

	svc := NewService(model, WithSpeech(speech, &fakeStore{}, tts.Voice{}))
	res, err := svc.Answer(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.Text != "still here" || res.AudioRef != "" {
		t.Fatalf("result = %+v", res)
	}
}

func TestAnswer_FailsFastWithoutModel(t *testing.T) {
	t.Parallel()

	svc := NewService(nil)
	if svc.Available() {
		t.Fatal("Available must be false without a model")
	}
	if _, err := svc.Answer(context.Background(), "q"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

func TestAnswer_ModelErrorPropagates(t *testing.T) {
	t.Parallel()

	model := &llmmock.Provider{CompleteErr: errors.New("overloaded")}
	svc := NewService(model)
	if _, err := svc.Answer(context.Background(), "q"); err == nil {
		t.Fatal("expected error from model failure")
	}
	if _, err := svc.Answer(context.Background(), "   "); err == nil {
		t.Fatal("expected error for blank question")
	}
}

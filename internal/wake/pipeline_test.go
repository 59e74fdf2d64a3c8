package wake

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/tubevox/tubevox/internal/answer"
	"github.com/tubevox/tubevox/internal/broadcast"
	"github.com/tubevox/tubevox/internal/intent"
	"github.com/tubevox/tubevox/internal/observe"
	micmock "github.com/tubevox/tubevox/pkg/provider/mic/mock"
	"github.com/tubevox/tubevox/pkg/provider/realtime"
	"github.com/tubevox/tubevox/pkg/provider/stt"
	sttmock "github.com/tubevox/tubevox/pkg/provider/stt/mock"
	wwmock "github.com/tubevox/tubevox/pkg/provider/wakeword/mock"
)

type recordingHub struct {
	mu   sync.Mutex
	msgs []intent.Message
}

func (h *recordingHub) Broadcast(_ context.Context, msg intent.Message) (broadcast.Report, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, msg)
	return broadcast.Report{Sent: 1}, nil
}

func (h *recordingHub) kinds() []intent.Kind {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]intent.Kind, len(h.msgs))
	for i, m := range h.msgs {
		out[i] = m.Kind
	}
	return out
}

func (h *recordingHub) messages() []intent.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]intent.Message(nil), h.msgs...)
}

type fixedAgent struct {
	mu      sync.Mutex
	queries []string
	reply   answer.Result
}

func (a *fixedAgent) Query(_ context.Context, question string, _ []realtime.ContextItem) answer.Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queries = append(a.queries, question)
	return a.reply
}

func (a *fixedAgent) queryCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queries)
}

// runPipeline drives one wake cycle and returns once the hub saw want
// messages or the deadline passes.
func runPipeline(t *testing.T, sttp stt.Provider, agent Agent, hub *recordingHub, want int, opts ...Option) {
	t.Helper()

	source := micmock.NewSource(64)
	detector := &wwmock.Detector{TriggerOnFrame: 1}
	pipeline, err := New(source, detector, sttp, intent.NewParser(), hub, agent, Config{
		CaptureWindow: 20 * time.Millisecond, // 320 samples at 16 kHz
	}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// One detector-sized frame triggers the wake, the second covers the
	// whole capture window.
	source.Enqueue(make([]int16, 512))
	source.Enqueue(make([]int16, 512))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pipeline.Run(ctx)
	}()

	deadline := time.After(2 * time.Second)
	for len(hub.kinds()) < want {
		select {
		case <-deadline:
			cancel()
			<-done
			t.Fatalf("timed out with messages %v, want %d", hub.kinds(), want)
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	source.Close()
	<-done
}

func TestPipeline_DirectIntentRoute(t *testing.T) {
	t.Parallel()

	sttp := &sttmock.Provider{Result: stt.Result{Text: "rewind 15 seconds"}}
	hub := &recordingHub{}
	agent := &fixedAgent{}

	runPipeline(t, sttp, agent, hub, 3)

	got := hub.kinds()
	want := []intent.Kind{intent.KindBeginListen, intent.KindEndListen, intent.KindRewind}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("message order = %v, want %v", got, want)
		}
	}
	if msg := hub.messages()[2]; msg.Value != 15 {
		t.Fatalf("rewind value = %v, want 15", msg.Value)
	}
	if len(agent.queries) != 0 {
		t.Fatalf("agent consulted for a direct intent: %v", agent.queries)
	}
}

func TestPipeline_ConversationalRoute(t *testing.T) {
	t.Parallel()

	sttp := &sttmock.Provider{Result: stt.Result{Text: "what's the capital of France"}}
	hub := &recordingHub{}
	agent := &fixedAgent{reply: answer.Result{Text: "Paris.", AudioRef: "/media/a.wav"}}

	runPipeline(t, sttp, agent, hub, 3)

	got := hub.messages()
	if got[0].Kind != intent.KindBeginListen || got[1].Kind != intent.KindEndListen {
		t.Fatalf("bracket missing: %v", hub.kinds())
	}
	if got[2].Kind != intent.KindAgentResponse {
		t.Fatalf("third message = %v, want agent_response", got[2].Kind)
	}
	if got[2].Agent == nil || got[2].Agent.Text != "Paris." || got[2].Agent.AudioRef != "/media/a.wav" {
		t.Fatalf("agent payload = %+v", got[2].Agent)
	}
	if len(agent.queries) != 1 || agent.queries[0] != "what's the capital of France" {
		t.Fatalf("agent queries = %v", agent.queries)
	}
}

func TestPipeline_EndListenOnTranscriptionFailure(t *testing.T) {
	t.Parallel()

	sttp := &sttmock.Provider{TranscribeErr: errors.New("stt server down")}
	hub := &recordingHub{}

	runPipeline(t, sttp, &fixedAgent{}, hub, 2)

	got := hub.kinds()
	if got[0] != intent.KindBeginListen || got[1] != intent.KindEndListen {
		t.Fatalf("bracket = %v, want begin_listen then end_listen", got)
	}
}

func TestPipeline_EmptyAgentReplyIsNotBroadcast(t *testing.T) {
	t.Parallel()

	sttp := &sttmock.Provider{Result: stt.Result{Text: "tell me something interesting"}}
	hub := &recordingHub{}
	agent := &fixedAgent{} // zero-value reply carries no text

	source := micmock.NewSource(64)
	detector := &wwmock.Detector{TriggerOnFrame: 1}
	pipeline, err := New(source, detector, sttp, intent.NewParser(), hub, agent, Config{
		CaptureWindow: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	source.Enqueue(make([]int16, 512))
	source.Enqueue(make([]int16, 512))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pipeline.Run(ctx)
	}()

	deadline := time.After(2 * time.Second)
	for agent.queryCount() < 1 {
		select {
		case <-deadline:
			cancel()
			<-done
			t.Fatal("agent was never consulted")
		case <-time.After(time.Millisecond):
		}
	}
	// Leave room for an agent_response broadcast to arrive if one were sent.
	time.Sleep(20 * time.Millisecond)
	cancel()
	source.Close()
	<-done

	got := hub.kinds()
	want := []intent.Kind{intent.KindBeginListen, intent.KindEndListen}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("messages = %v, want only the listen bracket", got)
	}
}

func TestPipeline_RecordsWakeMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	sttp := &sttmock.Provider{Result: stt.Result{Text: "rewind 15 seconds"}}
	hub := &recordingHub{}

	runPipeline(t, sttp, &fixedAgent{}, hub, 3, WithMetrics(metrics))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	detections, sttSamples := int64(0), uint64(0)
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			switch met.Name {
			case "tubevox.wake.detections":
				if sum, ok := met.Data.(metricdata.Sum[int64]); ok && len(sum.DataPoints) > 0 {
					detections = sum.DataPoints[0].Value
				}
			case "tubevox.stt.duration":
				if hist, ok := met.Data.(metricdata.Histogram[float64]); ok && len(hist.DataPoints) > 0 {
					sttSamples = hist.DataPoints[0].Count
				}
			}
		}
	}
	if detections != 1 {
		t.Errorf("wake detections = %d, want 1", detections)
	}
	if sttSamples != 1 {
		t.Errorf("stt duration samples = %d, want 1", sttSamples)
	}
}

func TestNew_RejectsRateMismatch(t *testing.T) {
	t.Parallel()

	source := micmock.NewSource(1)
	source.SampleRateValue = 48000
	detector := &wwmock.Detector{} // 16 kHz

	_, err := New(source, detector, &sttmock.Provider{}, intent.NewParser(), &recordingHub{}, &fixedAgent{}, Config{})
	if err == nil {
		t.Fatal("expected error for sample-rate mismatch")
	}
}

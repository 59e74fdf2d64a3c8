package turn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/tubevox/tubevox/internal/media"
	"github.com/tubevox/tubevox/internal/observe"
	"github.com/tubevox/tubevox/pkg/provider/realtime"
	"github.com/tubevox/tubevox/pkg/provider/realtime/mock"
)

// testConfig scales the finalisation thresholds down so tests complete in
// tens of milliseconds while preserving the AudioIdle < TextIdle ordering.
func testConfig() Config {
	return Config{
		PollInterval: 5 * time.Millisecond,
		AudioIdle:    40 * time.Millisecond,
		TextIdle:     150 * time.Millisecond,
		SampleRate:   16000,
	}
}

// fakeStore records saved PCM and hands out fixed references.
type fakeStore struct {
	mu    sync.Mutex
	saved [][]byte
	err   error
}

func (f *fakeStore) SavePCM(pcm []byte, _ media.WAVFormat) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.saved = append(f.saved, pcm)
	return "/media/test.wav", nil
}

func newTestRegistry(t *testing.T, sess *mock.Session) (*Registry, *fakeStore) {
	t.Helper()
	store := &fakeStore{}
	reg := NewRegistry(&mock.Provider{Session: sess}, testConfig(), store)
	t.Cleanup(reg.Close)
	return reg, store
}

func askAsync(reg *Registry, sessionID, question string) <-chan outcome {
	ch := make(chan outcome, 1)
	go func() {
		res, err := reg.Ask(context.Background(), sessionID, question, nil)
		ch <- outcome{res: res, err: err}
	}()
	return ch
}

func waitOutcome(t *testing.T, ch <-chan outcome) outcome {
	t.Helper()
	select {
	case out := <-ch:
		return out
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for turn outcome")
		return outcome{}
	}
}

func TestFinalize_AudioIdle(t *testing.T) {
	t.Parallel()
	sess := mock.NewSession()
	reg, store := newTestRegistry(t, sess)

	ch := askAsync(reg, "s1", "what did they say?")

	// Let the ask register before emitting events.
	waitFor(t, func() bool { return len(sess.Texts()) == 1 })

	sess.Emit(realtime.Event{Kind: realtime.EventTextDelta, Text: "a"})
	sess.Emit(realtime.Event{Kind: realtime.EventTextDelta, Text: "a b"})
	sess.Emit(realtime.Event{Kind: realtime.EventAudioChunk, Audio: []byte{1, 2, 3, 4}})

	out := waitOutcome(t, ch)
	if out.err != nil {
		t.Fatalf("unexpected error: %v", out.err)
	}
	if out.res.Text != "a b" {
		t.Errorf("text = %q, want %q", out.res.Text, "a b")
	}
	if out.res.AudioRef == "" {
		t.Error("expected a non-empty audio reference")
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.saved) != 1 || len(store.saved[0]) != 4 {
		t.Errorf("expected one 4-byte PCM save, got %v", store.saved)
	}
}

func TestFinalize_TextIdleWithoutAudio(t *testing.T) {
	t.Parallel()
	sess := mock.NewSession()
	reg, _ := newTestRegistry(t, sess)

	ch := askAsync(reg, "s1", "hello?")
	waitFor(t, func() bool { return len(sess.Texts()) == 1 })

	sess.Emit(realtime.Event{Kind: realtime.EventTextDelta, Text: "hello"})

	start := time.Now()
	out := waitOutcome(t, ch)
	if out.err != nil {
		t.Fatalf("unexpected error: %v", out.err)
	}
	if out.res.Text != "hello" {
		t.Errorf("text = %q, want %q", out.res.Text, "hello")
	}
	if out.res.AudioRef != "" {
		t.Errorf("expected empty audio reference, got %q", out.res.AudioRef)
	}
	// Must have waited for the longer text-idle window, not the audio one.
	if elapsed := time.Since(start); elapsed < testConfig().AudioIdle {
		t.Errorf("finalized after %v, before the audio idle window", elapsed)
	}
}

func TestFinalize_ExplicitDoneWinsImmediately(t *testing.T) {
	t.Parallel()
	sess := mock.NewSession()
	reg, _ := newTestRegistry(t, sess)

	ch := askAsync(reg, "s1", "quick one")
	waitFor(t, func() bool { return len(sess.Texts()) == 1 })

	sess.Emit(realtime.Event{Kind: realtime.EventTextDelta, Text: "fast answer"})
	sess.Emit(realtime.Event{Kind: realtime.EventDone})

	start := time.Now()
	out := waitOutcome(t, ch)
	if out.err != nil {
		t.Fatalf("unexpected error: %v", out.err)
	}
	if out.res.Text != "fast answer" {
		t.Errorf("text = %q", out.res.Text)
	}
	if elapsed := time.Since(start); elapsed > testConfig().TextIdle {
		t.Errorf("done signal should finalize before idle windows, took %v", elapsed)
	}
}

func TestFinalize_CorrectionOverwritesDeltas(t *testing.T) {
	t.Parallel()
	sess := mock.NewSession()
	reg, _ := newTestRegistry(t, sess)

	ch := askAsync(reg, "s1", "corrected?")
	waitFor(t, func() bool { return len(sess.Texts()) == 1 })

	sess.Emit(realtime.Event{Kind: realtime.EventTextDelta, Text: "draft answer"})
	sess.Emit(realtime.Event{Kind: realtime.EventTextFinal, Text: "corrected answer"})
	// A straggling delta must not clobber the recorded final.
	sess.Emit(realtime.Event{Kind: realtime.EventTextDelta, Text: "stale"})

	out := waitOutcome(t, ch)
	if out.err != nil {
		t.Fatalf("unexpected error: %v", out.err)
	}
	if out.res.Text != "corrected answer" {
		t.Errorf("text = %q, want the correction", out.res.Text)
	}
}

func TestConnectionLoss_RejectsAllPending(t *testing.T) {
	t.Parallel()
	sess := mock.NewSession()
	reg, _ := newTestRegistry(t, sess)

	ch1 := askAsync(reg, "s1", "first")
	waitFor(t, func() bool { return len(sess.Texts()) == 1 })
	ch2 := askAsync(reg, "s1", "second")
	waitFor(t, func() bool { return len(sess.Texts()) == 2 })

	sess.EndSession(errors.New("network gone"))

	for _, ch := range []<-chan outcome{ch1, ch2} {
		out := waitOutcome(t, ch)
		if !errors.Is(out.err, ErrConnectionLost) {
			t.Errorf("expected ErrConnectionLost, got %v", out.err)
		}
	}
	waitFor(t, func() bool { return reg.ActiveSessions() == 0 })
}

func TestDropAsk_RacingTeardownDoesNotDeadlock(t *testing.T) {
	t.Parallel()
	handle := mock.NewSession()
	s := newSession("s1", handle, testConfig().withDefaults(), time.Now, &fakeStore{}, nil)

	a := &ask{ch: make(chan outcome, 1)}
	s.mu.Lock()
	s.pending = append(s.pending, a)
	s.mu.Unlock()

	// Connection loss rejects the pending ask first, filling its channel.
	handle.EndSession(errors.New("network gone"))
	waitFor(t, func() bool { return len(a.ch) == 1 })

	// The transmit-failure path then tries to reject the same ask, the way a
	// failed SendText on a dying connection does. It must return instead of
	// blocking on the full channel with the session lock held.
	done := make(chan struct{})
	go func() {
		s.dropAsk(a, errors.New("write failed"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dropAsk blocked after the ask was already rejected")
	}

	out := <-a.ch
	if !errors.Is(out.err, ErrConnectionLost) {
		t.Fatalf("expected the connection-loss rejection, got %v", out.err)
	}
	// The session lock must be free again for the remaining machinery.
	if s.Open() {
		t.Error("session still reports open after teardown")
	}
}

func TestFIFO_OldestAskResolvesFirst(t *testing.T) {
	t.Parallel()
	sess := mock.NewSession()
	reg, _ := newTestRegistry(t, sess)

	ch1 := askAsync(reg, "s1", "first")
	waitFor(t, func() bool { return len(sess.Texts()) == 1 })
	ch2 := askAsync(reg, "s1", "second")
	waitFor(t, func() bool { return len(sess.Texts()) == 2 })

	sess.Emit(realtime.Event{Kind: realtime.EventTextFinal, Text: "answer one"})
	out1 := waitOutcome(t, ch1)
	if out1.err != nil || out1.res.Text != "answer one" {
		t.Fatalf("first ask got %+v", out1)
	}

	// ch2 must still be pending.
	select {
	case out := <-ch2:
		t.Fatalf("second ask resolved early with %+v", out)
	case <-time.After(20 * time.Millisecond):
	}

	sess.Emit(realtime.Event{Kind: realtime.EventTextFinal, Text: "answer two"})
	out2 := waitOutcome(t, ch2)
	if out2.err != nil || out2.res.Text != "answer two" {
		t.Fatalf("second ask got %+v", out2)
	}
}

func TestAsk_ContextPrecedesQuestion(t *testing.T) {
	t.Parallel()
	sess := mock.NewSession()
	reg, _ := newTestRegistry(t, sess)

	go func() {
		_, _ = reg.Ask(context.Background(), "s1", "the question", []realtime.ContextItem{
			{Role: "system", Content: "transcript excerpt"},
			{Role: "system", Content: "position 42s"},
		})
	}()
	waitFor(t, func() bool { return len(sess.Log()) == 3 })

	log := sess.Log()
	want := []string{"ctx:transcript excerpt", "ctx:position 42s", "msg:the question"}
	for i, w := range want {
		if log[i] != w {
			t.Fatalf("send order %v, want %v", log, want)
		}
	}
	sess.Emit(realtime.Event{Kind: realtime.EventDone})
}

func TestRegistry_NotConfiguredFailsFast(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(nil, testConfig(), &fakeStore{})
	_, err := reg.Ask(context.Background(), "s1", "anything", nil)
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestRegistry_ReusesOpenSession(t *testing.T) {
	t.Parallel()
	sess := mock.NewSession()
	provider := &mock.Provider{Session: sess}
	reg := NewRegistry(provider, testConfig(), &fakeStore{})
	t.Cleanup(reg.Close)

	ch1 := askAsync2(reg, "s1")
	waitFor(t, func() bool { return len(sess.Texts()) == 1 })
	sess.Emit(realtime.Event{Kind: realtime.EventTextFinal, Text: "one"})
	waitOutcome(t, ch1)

	ch2 := askAsync2(reg, "s1")
	waitFor(t, func() bool { return len(sess.Texts()) == 2 })
	sess.Emit(realtime.Event{Kind: realtime.EventTextFinal, Text: "two"})
	waitOutcome(t, ch2)

	if got := len(provider.ConnectCalls); got != 1 {
		t.Errorf("expected a single handshake for an open session, got %d", got)
	}
}

func TestRegistry_RecordsTurnMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	sess := mock.NewSession()
	reg := NewRegistry(&mock.Provider{Session: sess}, testConfig(), &fakeStore{}, WithMetrics(metrics))

	ch := askAsync2(reg, "s1")
	waitFor(t, func() bool { return len(sess.Texts()) == 1 })
	sess.Emit(realtime.Event{Kind: realtime.EventTextFinal, Text: "reply"})
	waitOutcome(t, ch)

	if got := gaugeValue(t, reader, "tubevox.active_sessions"); got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
	if got := histogramCount(t, reader, "tubevox.turn.duration"); got != 1 {
		t.Errorf("turn duration samples = %d, want 1", got)
	}

	reg.Close()
	if got := gaugeValue(t, reader, "tubevox.active_sessions"); got != 0 {
		t.Errorf("active sessions after close = %d, want 0", got)
	}
}

// collectMetric gathers the reader's current state and picks one metric out.
func collectMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) (metricdata.Metrics, bool) {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name == name {
				return met, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func gaugeValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	met, ok := collectMetric(t, reader, name)
	if !ok {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 {
		t.Fatalf("metric %q has no int64 data points", name)
	}
	return sum.DataPoints[0].Value
}

func histogramCount(t *testing.T, reader *sdkmetric.ManualReader, name string) uint64 {
	t.Helper()
	met, ok := collectMetric(t, reader, name)
	if !ok {
		t.Fatalf("metric %q not found", name)
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatalf("metric %q has no histogram data points", name)
	}
	return hist.DataPoints[0].Count
}

func askAsync2(reg *Registry, id string) <-chan outcome {
	ch := make(chan outcome, 1)
	go func() {
		res, err := reg.Ask(context.Background(), id, "q", nil)
		ch <- outcome{res: res, err: err}
	}()
	return ch
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

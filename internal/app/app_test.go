package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/tubevox/tubevox/internal/app"
	"github.com/tubevox/tubevox/internal/config"
	embmock "github.com/tubevox/tubevox/pkg/provider/embeddings/mock"
	llmmock "github.com/tubevox/tubevox/pkg/provider/llm/mock"
	micmock "github.com/tubevox/tubevox/pkg/provider/mic/mock"
	sttmock "github.com/tubevox/tubevox/pkg/provider/stt/mock"
	wwmock "github.com/tubevox/tubevox/pkg/provider/wakeword/mock"
)

// testConfig returns a minimal config pointed at temp directories and a
// throwaway port.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: "127.0.0.1:0",
			LogLevel:   config.LogInfo,
		},
		Transcript: config.TranscriptConfig{Dir: t.TempDir()},
		Semantic:   config.SemanticConfig{IndexDir: t.TempDir()},
		Media:      config.MediaConfig{Dir: t.TempDir()},
	}
}

func TestNew_NoProvidersStillRuns(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig(t), &app.Providers{})
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if application == nil {
		t.Fatal("New() returned nil app")
	}
	t.Cleanup(func() { _ = application.Shutdown(context.Background()) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNew_WakePipelineRequiresAllThreeProviders(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		providers *app.Providers
	}{
		{"no detector", &app.Providers{Mic: micmock.NewSource(4), STT: &sttmock.Provider{}}},
		{"no mic", &app.Providers{WakeWord: &wwmock.Detector{}, STT: &sttmock.Provider{}}},
		{"no stt", &app.Providers{WakeWord: &wwmock.Detector{}, Mic: micmock.NewSource(4)}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			application, err := app.New(context.Background(), testConfig(t), tc.providers)
			if err != nil {
				t.Fatalf("New() returned error: %v", err)
			}
			_ = application.Shutdown(context.Background())
		})
	}
}

func TestApp_SimulateRoundTrip(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Server.ListenAddr = "127.0.0.1:0"

	application, err := app.New(context.Background(), cfg, &app.Providers{
		LLM:        &llmmock.Provider{Content: "hi"},
		Embeddings: &embmock.Provider{DimensionsValue: 3, ModelIDValue: "m"},
	})
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = application.Shutdown(context.Background()) })

	// The app binds an ephemeral port; exercise the handler through the
	// health endpoint once Run has started listening.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- application.Run(ctx) }()

	addr := waitForAddr(t, application)
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
	var health struct {
		Backends struct {
			LLM        bool `json:"llm"`
			Embeddings bool `json:"embeddings"`
			WakeWord   bool `json:"wakeword"`
		} `json:"backends"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !health.Backends.LLM || !health.Backends.Embeddings {
		t.Errorf("backends = %+v, want llm and embeddings available", health.Backends)
	}
	if health.Backends.WakeWord {
		t.Error("wakeword should be unavailable")
	}

	sim, err := http.Post("http://"+addr+"/simulate", "application/json",
		bytes.NewReader([]byte(`{"intent":"pause"}`)))
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	sim.Body.Close()
	if sim.StatusCode != http.StatusOK {
		t.Errorf("simulate status = %d", sim.StatusCode)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// waitForAddr polls until the app's listener is bound.
func waitForAddr(t *testing.T, a *app.App) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if addr := a.Addr(); addr != "" {
			return addr
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("listener never bound")
	return ""
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig(t), &app.Providers{})
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if err := application.Shutdown(context.Background()); err != nil {
		t.Errorf("first Shutdown: %v", err)
	}
	if err := application.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

package whisper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tubevox/tubevox/internal/media"
	"github.com/tubevox/tubevox/pkg/provider/stt"
)

func TestNew_RequiresServerURL(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty serverURL")
	}
}

func TestTranscribe_PostsWAVAndParsesSegments(t *testing.T) {
	t.Parallel()

	var gotLanguage, gotFormat string
	var gotWAV []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" {
			t.Errorf("path = %q, want /inference", r.URL.Path)
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		gotLanguage = r.FormValue("language")
		gotFormat = r.FormValue("response_format")

		f, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer f.Close()
		buf := make([]byte, media.WAVHeaderSize)
		if _, err := f.Read(buf); err != nil {
			t.Fatalf("read wav: %v", err)
		}
		gotWAV = buf

		_ = json.NewEncoder(w).Encode(map[string]any{
			"text": "rewind fifteen seconds",
			"segments": []map[string]any{
				{"text": "rewind", "start": 0.0, "end": 0.5},
				{"text": "fifteen seconds", "start": 0.5, "end": 1.4},
			},
		})
	}))
	defer srv.Close()

	p, err := New(srv.URL, WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := p.Transcribe(context.Background(), stt.Request{
		PCM:        make([]byte, 3200),
		SampleRate: 16000,
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if res.Text != "rewind fifteen seconds" {
		t.Fatalf("text = %q", res.Text)
	}
	if len(res.Segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(res.Segments))
	}
	if res.Segments[1].Start != 500*time.Millisecond {
		t.Fatalf("segment start = %v", res.Segments[1].Start)
	}
	if gotLanguage != "en" {
		t.Fatalf("language = %q", gotLanguage)
	}
	if gotFormat != "verbose_json" {
		t.Fatalf("response_format = %q", gotFormat)
	}
	if string(gotWAV[:4]) != "RIFF" {
		t.Fatalf("upload is not a WAV container: % x", gotWAV[:4])
	}
}

func TestTranscribe_RejectsEmptyPayload(t *testing.T) {
	t.Parallel()

	p, err := New("http://localhost:1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Transcribe(context.Background(), stt.Request{}); err == nil {
		t.Fatal("expected error for empty payload")
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Transcribe(context.Background(), stt.Request{PCM: []byte{0, 0}}); err == nil {
		t.Fatal("expected error for HTTP 500")
	}
}

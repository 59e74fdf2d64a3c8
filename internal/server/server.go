// Package server exposes the daemon's HTTP and WebSocket surface on the
// well-known local control port.
//
// The browser extension holds a long-lived connection to /ws and receives
// one JSON intent frame per message. Everything else is a plain request and
// response: /simulate injects a frame for testing without live audio,
// /transcript and /semantic_search query the transcript layer, /query runs
// the conversational agent, /healthz reports per-backend availability, and
// /metrics serves the Prometheus scrape endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tubevox/tubevox/internal/answer"
	"github.com/tubevox/tubevox/internal/broadcast"
	"github.com/tubevox/tubevox/internal/intent"
	"github.com/tubevox/tubevox/internal/observe"
	"github.com/tubevox/tubevox/internal/semantic"
	"github.com/tubevox/tubevox/internal/transcript"
	"github.com/tubevox/tubevox/pkg/provider/realtime"
)

// DefaultListenAddr is the control port the browser extension connects to.
const DefaultListenAddr = ":17321"

// shutdownTimeout bounds how long Shutdown waits for in-flight requests.
const shutdownTimeout = 10 * time.Second

// Agent answers conversational queries. *answer.Agent is the production
// implementation.
type Agent interface {
	QueryInSession(ctx context.Context, sessionID, question string, contextItems []realtime.ContextItem) answer.Result
}

// Availability is the per-backend health report. None of these flags fail
// the health check; a missing backend only degrades the matching feature.
type Availability struct {
	Realtime   bool `json:"realtime"`
	STT        bool `json:"stt"`
	TTS        bool `json:"tts"`
	LLM        bool `json:"llm"`
	Search     bool `json:"search"`
	Embeddings bool `json:"embeddings"`
	WakeWord   bool `json:"wakeword"`
}

// Config carries the server's collaborators. Hub is required; everything
// else may be nil and disables the matching endpoint with a 503.
type Config struct {
	ListenAddr string

	Hub         *broadcast.Hub
	Agent       Agent
	Transcripts *transcript.Store
	Matcher     *semantic.Matcher
	Media       http.Handler // mounted under MediaPrefix when non-nil
	MediaPrefix string

	// SemanticTopK is the result count for phrase searches that do not ask
	// for one. Zero falls through to the matcher's own default.
	SemanticTopK int

	Metrics      *observe.Metrics
	Availability func() Availability
}

// Server is the daemon's HTTP front end.
type Server struct {
	cfg  Config
	http *http.Server

	mu   sync.Mutex
	addr string
}

// New validates cfg and builds the server. The HTTP listener is not opened
// until [Server.Run].
func New(cfg Config) (*Server, error) {
	if cfg.Hub == nil {
		return nil, errors.New("server: hub is required")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.MediaPrefix == "" {
		cfg.MediaPrefix = "/media"
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	s := &Server{cfg: cfg}
	handler := http.Handler(s.routes())
	if cfg.Metrics != nil {
		handler = observe.Middleware(cfg.Metrics)(handler)
	}
	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // /ws connections are long-lived
	}
	return s, nil
}

// routes builds the request mux.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("POST /simulate", s.handleSimulate)
	mux.HandleFunc("GET /transcript", s.handleTranscript)
	mux.HandleFunc("POST /semantic_search", s.handleSemanticSearch)
	mux.HandleFunc("POST /query", s.handleQuery)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())
	if s.cfg.Media != nil {
		mux.Handle(s.cfg.MediaPrefix+"/", s.cfg.Media)
	}
	return mux
}

// Run serves until ctx is cancelled, then drains in-flight requests and
// closes all control-channel connections.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(ln)
	}()

	slog.Info("control server listening", "addr", ln.Addr())

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: serve %s: %w", s.cfg.ListenAddr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	s.cfg.Hub.CloseAll()
	return ctx.Err()
}

// Addr returns the bound listen address, empty before Run.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Handler exposes the mux for tests via httptest.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ─── /ws ─────────────────────────────────────────────────────────────────────

// handleWS upgrades the connection and parks it in the hub. The extension
// never sends application frames; the read loop only notices disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The daemon is loopback-only; the extension's origin is a browser
		// internal scheme that never matches the host.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("ws accept failed", "err", err)
		return
	}

	client := s.cfg.Hub.Register(conn)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ConnectedSinks.Add(r.Context(), 1)
	}
	slog.Info("video sink connected", "remote", r.RemoteAddr)

	defer func() {
		s.cfg.Hub.Unregister(client)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.ConnectedSinks.Add(context.Background(), -1)
		}
		slog.Info("video sink disconnected", "remote", r.RemoteAddr)
	}()

	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
	}
}

// ─── /simulate ───────────────────────────────────────────────────────────────

// handleSimulate accepts one intent frame and broadcasts it verbatim to all
// open sinks. Used for testing the extension without live audio.
func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var msg intent.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	report, err := s.cfg.Hub.Broadcast(r.Context(), msg)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordIntentBroadcast(r.Context(), string(msg.Kind))
		if report.Failed > 0 {
			s.cfg.Metrics.BroadcastFailures.Add(r.Context(), int64(report.Failed))
		}
	}
	writeJSON(w, http.StatusOK, report)
}

// ─── /transcript ─────────────────────────────────────────────────────────────

// handleTranscript returns the transcript for ?video_id=, fetching it if
// needed. ?force=true bypasses the caches.
func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Transcripts == nil {
		httpError(w, http.StatusServiceUnavailable, "transcript store not configured")
		return
	}
	videoID := r.URL.Query().Get("video_id")
	if videoID == "" {
		httpError(w, http.StatusBadRequest, "video_id is required")
		return
	}
	force := r.URL.Query().Get("force") == "true"

	t, err := s.cfg.Transcripts.Get(r.Context(), videoID, force)
	if err != nil {
		if errors.Is(err, transcript.ErrUnavailable) {
			httpError(w, http.StatusNotFound, "no transcript available for "+videoID)
			return
		}
		httpError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ─── /semantic_search ────────────────────────────────────────────────────────

// semanticSearchRequest is the JSON body for the semantic search endpoint.
type semanticSearchRequest struct {
	VideoID string `json:"video_id"`
	Query   string `json:"query"`
	TopK    int    `json:"top_k"`
}

// semanticSearchResponse reports the best match plus the remaining candidates.
// Method records which search stage produced the result: "literal", "fuzzy",
// or "semantic".
type semanticSearchResponse struct {
	Method     string           `json:"method"`
	Best       *semantic.Match  `json:"best,omitempty"`
	Candidates []semantic.Match `json:"candidates"`
}

// handleSemanticSearch resolves a phrase to a transcript segment. A literal
// substring scan of the caption text always runs first, then the fuzzy word
// windows; only when both miss is the query embedded and ranked by cosine
// similarity. Exact quotes therefore never pay an embedding round-trip, and
// phrase search keeps working without an embeddings provider.
func (s *Server) handleSemanticSearch(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Transcripts == nil {
		httpError(w, http.StatusServiceUnavailable, "transcript store not configured")
		return
	}

	var req semanticSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.VideoID == "" || req.Query == "" {
		httpError(w, http.StatusBadRequest, "video_id and query are required")
		return
	}

	t, err := s.cfg.Transcripts.Get(r.Context(), req.VideoID, false)
	if err != nil {
		httpError(w, http.StatusNotFound, "no transcript available for "+req.VideoID)
		return
	}

	if hit, ok := transcript.Find(t, req.Query); ok {
		m := semantic.Match{Segment: hit.Segment, Score: hit.Score}
		writeJSON(w, http.StatusOK, semanticSearchResponse{
			Method:     hit.Method,
			Best:       &m,
			Candidates: []semantic.Match{m},
		})
		return
	}

	if s.cfg.Matcher == nil {
		httpError(w, http.StatusServiceUnavailable, "semantic search not configured")
		return
	}

	topK := req.TopK
	if topK <= 0 {
		topK = s.cfg.SemanticTopK
	}
	matches, err := s.cfg.Matcher.Match(r.Context(), req.VideoID, t.Segments, req.Query, topK)
	if err != nil {
		httpError(w, http.StatusBadGateway, err.Error())
		return
	}

	resp := semanticSearchResponse{Method: "semantic", Candidates: matches}
	if len(matches) > 0 {
		resp.Best = &matches[0]
	}
	writeJSON(w, http.StatusOK, resp)
}

// ─── /query ──────────────────────────────────────────────────────────────────

// queryRequest is the JSON body for the agent query endpoint.
type queryRequest struct {
	Text string `json:"text"`

	// VideoID, when set, attaches the video's transcript as context.
	VideoID string `json:"video_id,omitempty"`

	// PositionSeconds is the current playback position, attached as context
	// when VideoID is set.
	PositionSeconds float64 `json:"position_seconds,omitempty"`

	// SessionID selects the realtime conversation; empty uses the default.
	SessionID string `json:"session_id,omitempty"`
}

// maxContextChars bounds how much transcript text is attached to a query.
const maxContextChars = 4000

// handleQuery runs the conversational agent: realtime backend first, web
// search plus synthesis second, apology last. It always returns 200 with a
// result; backend failures degrade, they do not error.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Agent == nil {
		httpError(w, http.StatusServiceUnavailable, "agent not configured")
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Text == "" {
		httpError(w, http.StatusBadRequest, "text is required")
		return
	}

	items := s.buildContext(r.Context(), req)
	start := time.Now()
	result := s.cfg.Agent.QueryInSession(r.Context(), req.SessionID, req.Text, items)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.AnswerDuration.Record(r.Context(), time.Since(start).Seconds())
	}
	writeJSON(w, http.StatusOK, result)
}

// buildContext assembles realtime context items from the request's video
// reference. Transcript trouble is not fatal; the query just goes out
// without grounding.
func (s *Server) buildContext(ctx context.Context, req queryRequest) []realtime.ContextItem {
	if req.VideoID == "" {
		return nil
	}

	items := []realtime.ContextItem{{
		Role:    "system",
		Content: fmt.Sprintf("The user is watching video %s at position %.0f seconds.", req.VideoID, req.PositionSeconds),
	}}

	if s.cfg.Transcripts != nil {
		t, err := s.cfg.Transcripts.Get(ctx, req.VideoID, false)
		if err != nil {
			slog.Warn("query context: transcript unavailable", "video_id", req.VideoID, "err", err)
			return items
		}
		text := t.Text()
		if len(text) > maxContextChars {
			text = text[:maxContextChars]
		}
		items = append(items, realtime.ContextItem{
			Role:    "system",
			Content: "Video transcript:\n" + text,
		})
	}
	return items
}

// ─── /healthz ────────────────────────────────────────────────────────────────

// healthResponse is the JSON body of the health endpoint.
type healthResponse struct {
	Status   string          `json:"status"`
	Backends Availability    `json:"backends"`
	Sinks    broadcast.Stats `json:"sinks"`
	Cache    *cacheStats     `json:"cache,omitempty"`
}

type cacheStats struct {
	TranscriptsMemory int `json:"transcripts_memory"`
	TranscriptsDisk   int `json:"transcripts_disk"`
}

// handleHealthz always returns 200; a missing backend is a degraded feature,
// not a dead daemon.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status: "ok",
		Sinks:  s.cfg.Hub.Stats(),
	}
	if s.cfg.Availability != nil {
		resp.Backends = s.cfg.Availability()
	}
	if s.cfg.Transcripts != nil {
		st := s.cfg.Transcripts.Stats()
		resp.Cache = &cacheStats{
			TranscriptsMemory: st.MemoryEntries,
			TranscriptsDisk:   st.DiskEntries,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ─── helpers ─────────────────────────────────────────────────────────────────

// errorResponse is the JSON body for non-2xx responses.
type errorResponse struct {
	Error string `json:"error"`
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failure"}`, http.StatusInternalServerError)
	}
}

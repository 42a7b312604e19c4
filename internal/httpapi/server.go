// Package httpapi serves the TalkWise HTTP surface: the summarize relay,
// recording session control, the live transcript with its edit lifecycle,
// transcript history and search, meeting schedules, a websocket feed of live
// transcript changes, and the operational endpoints (health, readiness,
// Prometheus metrics).
//
// Every response body is JSON. Errors are `{"error": "..."}` with a generic
// message; upstream provider detail is logged, never leaked to the caller.
// CORS is wide open (the UI is a local page talking to its own daemon) and a
// preflight OPTIONS on any path succeeds unconditionally. Requests that match
// no route, or a route with the wrong method, get a 404 error body.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"talkwise/internal/history"
	"talkwise/internal/observe"
	"talkwise/internal/session"
	"talkwise/internal/summary"
	"talkwise/internal/transcript"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// is healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Config holds the dependencies of a [Server].
type Config struct {
	// Session controls the recording lifecycle.
	Session *session.Manager

	// Summarizer relays transcripts to the LLM. May be nil; summarize
	// endpoints then answer 503.
	Summarizer *summary.Summarizer

	// History is the archive of finished recordings and schedules. May be
	// nil; history and schedule endpoints then answer 503.
	History history.Store

	// Transcript is the live transcript store.
	Transcript *transcript.Store

	// Hub broadcasts live updates to websocket subscribers. May be nil; the
	// /ws/live endpoint is then not served.
	Hub *Hub

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Checkers are evaluated by the readiness endpoint.
	Checkers []Checker

	// Defaults fills session-start fields the request leaves empty. The
	// zero value falls back to mic capture with auto-detected language.
	Defaults session.StartConfig
}

// Server is the TalkWise HTTP API. Create one with [New], mount it via
// [Server.Handler].
type Server struct {
	session    *session.Manager
	summarizer *summary.Summarizer
	store      history.Store
	transcript *transcript.Store
	hub        *Hub
	metrics    *observe.Metrics
	checkers   []Checker
	defaults   session.StartConfig
}

// New creates a Server with the given dependencies.
func New(cfg Config) *Server {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Server{
		session:    cfg.Session,
		summarizer: cfg.Summarizer,
		store:      cfg.History,
		transcript: cfg.Transcript,
		hub:        cfg.Hub,
		metrics:    m,
		checkers:   cfg.Checkers,
		defaults:   cfg.Defaults,
	}
}

// Handler returns the fully assembled HTTP handler: routes, tracing and
// request metrics, CORS, and the JSON 404 for anything unrouted.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /summarize", s.handleSummarize)

	mux.HandleFunc("POST /api/session/start", s.handleSessionStart)
	mux.HandleFunc("POST /api/session/stop", s.handleSessionStop)
	mux.HandleFunc("GET /api/session/status", s.handleSessionStatus)
	mux.HandleFunc("GET /api/session/recording", s.handleSessionRecording)

	mux.HandleFunc("GET /api/transcript", s.handleLiveTranscript)
	mux.HandleFunc("POST /api/transcript/edit/begin", s.handleEditBegin)
	mux.HandleFunc("POST /api/transcript/edit/draft", s.handleEditDraft)
	mux.HandleFunc("POST /api/transcript/edit/save", s.handleEditSave)
	mux.HandleFunc("POST /api/transcript/edit/cancel", s.handleEditCancel)

	mux.HandleFunc("GET /api/transcripts", s.handleListRecords)
	mux.HandleFunc("GET /api/transcripts/search", s.handleSearchRecords)
	mux.HandleFunc("GET /api/transcripts/{id}", s.handleGetRecord)
	mux.HandleFunc("PUT /api/transcripts/{id}", s.handleUpdateRecord)
	mux.HandleFunc("DELETE /api/transcripts/{id}", s.handleDeleteRecord)
	mux.HandleFunc("POST /api/transcripts/{id}/summarize", s.handleSummarizeRecord)

	mux.HandleFunc("GET /api/schedules", s.handleListSchedules)
	mux.HandleFunc("POST /api/schedules", s.handleCreateSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.handleDeleteSchedule)

	if s.hub != nil {
		mux.HandleFunc("GET /ws/live", s.handleLive)
	}

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)

	// Unrouted requests (unknown path, or known path with the wrong method)
	// answer 404 with a JSON body instead of the mux defaults.
	dispatch := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, pattern := mux.Handler(r); pattern == "" {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		mux.ServeHTTP(w, r)
	})

	return s.withCORS(observe.Middleware(s.metrics)(dispatch))
}

// withCORS sets the CORS headers on every response and answers preflight
// OPTIONS requests unconditionally.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleHealthz is the liveness probe; a process that serves HTTP is alive.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz runs every configured checker and reports 503 if any fails.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.checkers))
	status := http.StatusOK
	overall := "ok"

	for _, c := range s.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			overall = "fail"
			status = http.StatusServiceUnavailable
		} else {
			checks[c.Name] = "ok"
		}
	}

	writeJSON(w, status, map[string]any{"status": overall, "checks": checks})
}

// writeJSON encodes v with the given status code. On encoding failure it
// falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}

// writeError writes a JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON decodes the request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 10<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

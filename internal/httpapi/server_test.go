package httpapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"talkwise/internal/history"
	histmock "talkwise/internal/history/mock"
	"talkwise/internal/httpapi"
	"talkwise/internal/session"
	"talkwise/internal/summary"
	"talkwise/internal/transcript"
	"talkwise/pkg/audio"
	audiomock "talkwise/pkg/audio/mock"
	llmmock "talkwise/pkg/provider/llm/mock"
	sttmock "talkwise/pkg/provider/stt/mock"
)

const structuredResponse = `{
	"title": "Sprint planning",
	"summary": "The team planned the sprint.",
	"key_points": ["scope agreed"],
	"action_items": ["alice: write tickets"]
}`

type fixture struct {
	handler    http.Handler
	store      *histmock.Store
	llm        *llmmock.Provider
	sttProv    *sttmock.Provider
	transcript *transcript.Store
	hub        *httpapi.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:      &histmock.Store{},
		llm:        &llmmock.Provider{Responses: []string{structuredResponse}},
		sttProv:    &sttmock.Provider{},
		transcript: transcript.NewStore(),
	}
	f.hub = httpapi.NewHub(nil)

	audioCtx := &audiomock.Context{
		DeviceList: []audio.DeviceInfo{{ID: "mic-a", Name: "Test Microphone"}},
	}
	mgr := session.NewManager(session.ManagerConfig{
		Audio:      audio.NewManager(audioCtx),
		STT:        f.sttProv,
		History:    f.store,
		Transcript: f.transcript,
		OnUpdate:   f.hub.BroadcastTranscript,
	})

	srv := httpapi.New(httpapi.Config{
		Session:    mgr,
		Summarizer: summary.New(f.llm),
		History:    f.store,
		Transcript: f.transcript,
		Hub:        f.hub,
	})
	f.handler = srv.Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSummarizeStructured(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, "POST", "/summarize", `{"transcript": "we talked about the sprint"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	got := decodeBody[map[string]any](t, rec)
	if got["title"] != "Sprint planning" {
		t.Errorf("title = %v", got["title"])
	}
	if got["summary"] != "The team planned the sprint." {
		t.Errorf("summary = %v", got["summary"])
	}
	if pts, ok := got["key_points"].([]any); !ok || len(pts) != 1 {
		t.Errorf("key_points = %v", got["key_points"])
	}
}

func TestSummarizeEmptyTranscriptRejectedBeforeUpstream(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	for _, body := range []string{`{"transcript": ""}`, `{"transcript": "   \n\t"}`} {
		rec := f.do(t, "POST", "/summarize", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status for %q = %d, want 400", body, rec.Code)
		}
	}
	if f.llm.Calls() != 0 {
		t.Errorf("LLM calls = %d, want 0 for empty transcripts", f.llm.Calls())
	}
}

func TestSummarizeUpstreamFailureIsGeneric(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.llm.Err = errors.New("upstream exploded: secret-key-abc123")

	rec := f.do(t, "POST", "/summarize", `{"transcript": "hello"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	got := decodeBody[map[string]string](t, rec)
	if got["error"] == "" {
		t.Fatal("missing error field")
	}
	if strings.Contains(rec.Body.String(), "secret-key") {
		t.Errorf("upstream detail leaked: %s", rec.Body.String())
	}
}

func TestSummarizeNonJSONFallsBackToRawText(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.llm.Responses = []string{"The meeting was about budgets. No JSON here."}

	rec := f.do(t, "POST", "/summarize", `{"transcript": "hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got := decodeBody[map[string]any](t, rec)
	if got["summary"] != "The meeting was about budgets. No JSON here." {
		t.Errorf("summary = %v", got["summary"])
	}
	if _, hasTitle := got["title"]; hasTitle {
		t.Errorf("fallback response should carry only the summary, got %v", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	for _, path := range []string{"/summarize", "/api/transcripts", "/anything/at/all"} {
		rec := f.do(t, "OPTIONS", path, "")
		if rec.Code != http.StatusOK {
			t.Errorf("OPTIONS %s status = %d, want 200", path, rec.Code)
		}
		if rec.Body.Len() != 0 {
			t.Errorf("OPTIONS %s body = %q, want empty", path, rec.Body.String())
		}
		h := rec.Header()
		if h.Get("Access-Control-Allow-Origin") != "*" ||
			h.Get("Access-Control-Allow-Methods") != "POST, GET, OPTIONS" ||
			h.Get("Access-Control-Allow-Headers") != "Content-Type" {
			t.Errorf("OPTIONS %s CORS headers = %v", path, h)
		}
	}
}

func TestUnknownRoutesAnswer404(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	cases := []struct{ method, path string }{
		{"POST", "/unknown"},
		{"GET", "/summarize"},
		{"DELETE", "/api/session/start"},
	}
	for _, tc := range cases {
		rec := f.do(t, tc.method, tc.path, "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s status = %d, want 404", tc.method, tc.path, rec.Code)
		}
		got := decodeBody[map[string]string](t, rec)
		if got["error"] == "" {
			t.Errorf("%s %s missing error body: %s", tc.method, tc.path, rec.Body.String())
		}
	}
}

func TestSessionStartStopRoundTrip(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	rec := f.do(t, "POST", "/api/session/start", `{"source": "mic", "language": "en-US"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d, body %s", rec.Code, rec.Body.String())
	}
	status := decodeBody[map[string]any](t, rec)
	if status["state"] != "recording" {
		t.Errorf("state = %v", status["state"])
	}

	if rec := f.do(t, "POST", "/api/session/start", `{}`); rec.Code != http.StatusConflict {
		t.Errorf("second start status = %d, want 409", rec.Code)
	}

	waitFor(t, "recognition session", func() bool { return f.sttProv.StartCalls() == 1 })
	f.sttProv.Session(0).EmitFinal("decisions were made")
	waitFor(t, "live transcript", func() bool { return f.transcript.Display() == "decisions were made" })

	rec = f.do(t, "POST", "/api/session/stop", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d, body %s", rec.Code, rec.Body.String())
	}
	stopped := decodeBody[map[string]any](t, rec)
	if stopped["text"] != "decisions were made" {
		t.Errorf("archived text = %v", stopped["text"])
	}

	saved, err := f.store.ListRecords(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(saved) != 1 {
		t.Fatalf("archived %d records, want 1", len(saved))
	}

	// Double stop: a no-op, record count unchanged.
	rec = f.do(t, "POST", "/api/session/stop", "")
	if rec.Code != http.StatusOK {
		t.Errorf("double stop status = %d, want 200", rec.Code)
	}
	saved, _ = f.store.ListRecords(context.Background(), 0, 0)
	if len(saved) != 1 {
		t.Errorf("record count after double stop = %d, want still 1", len(saved))
	}
}

func TestSessionStartRejectsUnknownSource(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, "POST", "/api/session/start", `{"source": "telepathy"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSessionRecordingNotFoundBeforeAnyRecording(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if rec := f.do(t, "GET", "/api/session/recording", ""); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestTranscriptEditLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.transcript.SetLive(transcript.Update{Permanent: "original text"})

	rec := f.do(t, "POST", "/api/transcript/edit/begin", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("begin status = %d", rec.Code)
	}
	if got := decodeBody[map[string]string](t, rec); got["draft"] != "original text" {
		t.Errorf("draft = %q", got["draft"])
	}

	if rec := f.do(t, "POST", "/api/transcript/edit/begin", ""); rec.Code != http.StatusConflict {
		t.Errorf("second begin status = %d, want 409", rec.Code)
	}

	// Live updates arriving while editing do not touch the draft.
	f.transcript.SetLive(transcript.Update{Permanent: "live update during edit"})

	if rec := f.do(t, "POST", "/api/transcript/edit/draft", `{"text": "edited text"}`); rec.Code != http.StatusOK {
		t.Fatalf("draft status = %d", rec.Code)
	}
	if rec := f.do(t, "POST", "/api/transcript/edit/save", ""); rec.Code != http.StatusOK {
		t.Fatalf("save status = %d", rec.Code)
	}

	live := decodeBody[map[string]any](t, f.do(t, "GET", "/api/transcript", ""))
	if live["permanent"] != "edited text" {
		t.Errorf("permanent after save = %v", live["permanent"])
	}

	if rec := f.do(t, "POST", "/api/transcript/edit/save", ""); rec.Code != http.StatusConflict {
		t.Errorf("save without edit status = %d, want 409", rec.Code)
	}
	if rec := f.do(t, "POST", "/api/transcript/edit/cancel", ""); rec.Code != http.StatusConflict {
		t.Errorf("cancel without edit status = %d, want 409", rec.Code)
	}
}

func TestTranscriptEditCancelRestoresPermanent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.transcript.SetLive(transcript.Update{Permanent: "keep me"})

	if rec := f.do(t, "POST", "/api/transcript/edit/begin", ""); rec.Code != http.StatusOK {
		t.Fatalf("begin failed")
	}
	f.do(t, "POST", "/api/transcript/edit/draft", `{"text": "scribbles"}`)
	if rec := f.do(t, "POST", "/api/transcript/edit/cancel", ""); rec.Code != http.StatusOK {
		t.Fatalf("cancel failed")
	}

	live := decodeBody[map[string]any](t, f.do(t, "GET", "/api/transcript", ""))
	if live["permanent"] != "keep me" {
		t.Errorf("permanent after cancel = %v, want untouched", live["permanent"])
	}
}

func seedRecord(t *testing.T, f *fixture, rec history.Record) {
	t.Helper()
	if err := f.store.SaveRecord(context.Background(), rec); err != nil {
		t.Fatalf("SaveRecord: %v", err)
	}
}

func TestRecordEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	now := time.Now()
	seedRecord(t, f, history.Record{ID: "rec-1", Title: "Budget review", Text: "numbers", Duration: 65 * time.Second, CreatedAt: now})
	seedRecord(t, f, history.Record{ID: "rec-2", Title: "Standup", Text: "updates", CreatedAt: now.Add(time.Minute)})

	list := decodeBody[[]map[string]any](t, f.do(t, "GET", "/api/transcripts", ""))
	if len(list) != 2 || list[0]["id"] != "rec-2" {
		t.Errorf("list = %v, want newest first", list)
	}

	one := decodeBody[map[string]any](t, f.do(t, "GET", "/api/transcripts/rec-1", ""))
	if one["title"] != "Budget review" || one["duration_label"] != "1m05s" {
		t.Errorf("record = %v", one)
	}

	rec := f.do(t, "PUT", "/api/transcripts/rec-1", `{"title": "Q3 budget review"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d", rec.Code)
	}
	updated, err := f.store.GetRecord(context.Background(), "rec-1")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if updated.Title != "Q3 budget review" || updated.Text != "numbers" {
		t.Errorf("updated record = %+v", updated)
	}

	if rec := f.do(t, "DELETE", "/api/transcripts/rec-2", ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", rec.Code)
	}
	if rec := f.do(t, "GET", "/api/transcripts/rec-2", ""); rec.Code != http.StatusNotFound {
		t.Errorf("get deleted status = %d, want 404", rec.Code)
	}
}

func TestSearchRecordsEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	now := time.Now()
	seedRecord(t, f, history.Record{ID: "rec-1", Title: "Budget review", Text: "numbers", CreatedAt: now})
	seedRecord(t, f, history.Record{ID: "rec-2", Title: "Retro", Text: "feelings", CreatedAt: now})

	got := decodeBody[[]map[string]any](t, f.do(t, "GET", "/api/transcripts/search?q=budget", ""))
	if len(got) != 1 || got[0]["id"] != "rec-1" {
		t.Errorf("search = %v, want only the budget record", got)
	}
}

func TestSummarizeRecordAttachesSummary(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	seedRecord(t, f, history.Record{ID: "rec-1", Text: "we planned the sprint", CreatedAt: time.Now()})

	rec := f.do(t, "POST", "/api/transcripts/rec-1/summarize", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	stored, err := f.store.GetRecord(context.Background(), "rec-1")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if stored.Summary != "The team planned the sprint." {
		t.Errorf("summary = %q", stored.Summary)
	}
	if stored.Title != "Sprint planning" {
		t.Errorf("title = %q, want filled from the summary", stored.Title)
	}
	if len(stored.KeyPoints) != 1 || len(stored.ActionItems) != 1 {
		t.Errorf("key points / action items = %v / %v", stored.KeyPoints, stored.ActionItems)
	}

	if rec := f.do(t, "POST", "/api/transcripts/rec-nope/summarize", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown record status = %d, want 404", rec.Code)
	}
}

func TestScheduleEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	starts := time.Now().Add(4 * time.Hour).UTC().Truncate(time.Second)

	rec := f.do(t, "POST", "/api/schedules", `{"title": "All hands", "notes": "bring questions", "starts_at": "`+starts.Format(time.RFC3339)+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[map[string]any](t, rec)
	id, _ := created["id"].(string)
	if id == "" || created["title"] != "All hands" {
		t.Fatalf("created = %v", created)
	}

	if rec := f.do(t, "POST", "/api/schedules", `{"title": "  "}`); rec.Code != http.StatusBadRequest {
		t.Errorf("blank title status = %d, want 400", rec.Code)
	}
	if rec := f.do(t, "POST", "/api/schedules", `{"title": "no date"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing starts_at status = %d, want 400", rec.Code)
	}

	list := decodeBody[[]map[string]any](t, f.do(t, "GET", "/api/schedules", ""))
	if len(list) != 1 || list[0]["id"] != id {
		t.Errorf("list = %v", list)
	}

	if rec := f.do(t, "DELETE", "/api/schedules/"+id, ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", rec.Code)
	}
	if rec := f.do(t, "DELETE", "/api/schedules/"+id, ""); rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if rec := f.do(t, "GET", "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", rec.Code)
	}
	if rec := f.do(t, "GET", "/readyz", ""); rec.Code != http.StatusOK {
		t.Errorf("readyz status = %d, want 200 with no checkers", rec.Code)
	}
}

func TestReadyzReportsFailingChecker(t *testing.T) {
	t.Parallel()

	store := &histmock.Store{}
	srv := httpapi.New(httpapi.Config{
		Session:    session.NewManager(session.ManagerConfig{Audio: audio.NewManager(&audiomock.Context{}), STT: &sttmock.Provider{}, Transcript: transcript.NewStore()}),
		History:    store,
		Transcript: transcript.NewStore(),
		Checkers: []httpapi.Checker{
			{Name: "database", Check: func(context.Context) error { return errors.New("connection refused") }},
			{Name: "providers", Check: func(context.Context) error { return nil }},
		},
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["status"] != "fail" {
		t.Errorf("status field = %v", body["status"])
	}
	checks, _ := body["checks"].(map[string]any)
	if checks["providers"] != "ok" || !strings.HasPrefix(checks["database"].(string), "fail:") {
		t.Errorf("checks = %v", checks)
	}
}

func TestMetricsEndpointServesPrometheusText(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, "GET", "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Errorf("metrics status = %d, want 200", rec.Code)
	}
}

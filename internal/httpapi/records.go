package httpapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"talkwise/internal/history"
)

// recordJSON is the wire shape of an archived recording.
type recordJSON struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Text          string    `json:"text"`
	Summary       string    `json:"summary"`
	KeyPoints     []string  `json:"key_points"`
	ActionItems   []string  `json:"action_items"`
	Source        string    `json:"source"`
	Language      string    `json:"language"`
	DurationLabel string    `json:"duration_label"`
	CreatedAt     time.Time `json:"created_at"`
}

func toRecordJSON(rec history.Record) recordJSON {
	return recordJSON{
		ID:            rec.ID,
		Title:         rec.Title,
		Text:          rec.Text,
		Summary:       rec.Summary,
		KeyPoints:     emptySlice(rec.KeyPoints),
		ActionItems:   emptySlice(rec.ActionItems),
		Source:        rec.Source,
		Language:      rec.Language,
		DurationLabel: durationLabel(rec.Duration),
		CreatedAt:     rec.CreatedAt,
	}
}

func toRecordsJSON(records []history.Record) []recordJSON {
	out := make([]recordJSON, len(records))
	for i, rec := range records {
		out[i] = toRecordJSON(rec)
	}
	return out
}

// handleListRecords returns archived recordings, most recent first.
// Query parameters: limit (default 50), offset.
func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "history is not configured")
		return
	}
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	records, err := s.store.ListRecords(r.Context(), limit, offset)
	if err != nil {
		slog.Error("list records failed", "error", err)
		writeError(w, http.StatusInternalServerError, "listing transcripts failed")
		return
	}
	writeJSON(w, http.StatusOK, toRecordsJSON(records))
}

// handleSearchRecords searches archived recordings. Query parameters:
// q (the query), limit.
func (s *Server) handleSearchRecords(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "history is not configured")
		return
	}
	records, err := s.store.SearchRecords(r.Context(), r.URL.Query().Get("q"), queryInt(r, "limit", 50))
	if err != nil {
		slog.Error("search records failed", "error", err)
		writeError(w, http.StatusInternalServerError, "searching transcripts failed")
		return
	}
	writeJSON(w, http.StatusOK, toRecordsJSON(records))
}

// handleGetRecord returns one archived recording.
func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "history is not configured")
		return
	}
	rec, err := s.store.GetRecord(r.Context(), r.PathValue("id"))
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "transcript not found")
		return
	}
	if err != nil {
		slog.Error("get record failed", "error", err)
		writeError(w, http.StatusInternalServerError, "loading the transcript failed")
		return
	}
	writeJSON(w, http.StatusOK, toRecordJSON(rec))
}

// recordUpdateRequest carries the user-editable fields. Absent fields keep
// their stored values.
type recordUpdateRequest struct {
	Title *string `json:"title"`
	Text  *string `json:"text"`
}

// handleUpdateRecord applies a user edit to an archived recording.
func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "history is not configured")
		return
	}
	var req recordUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := s.store.GetRecord(r.Context(), r.PathValue("id"))
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "transcript not found")
		return
	}
	if err != nil {
		slog.Error("get record failed", "error", err)
		writeError(w, http.StatusInternalServerError, "loading the transcript failed")
		return
	}

	if req.Title != nil {
		rec.Title = *req.Title
	}
	if req.Text != nil {
		rec.Text = *req.Text
	}
	if err := s.store.UpdateRecord(r.Context(), rec); err != nil {
		slog.Error("update record failed", "record_id", rec.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "saving the transcript failed")
		return
	}
	writeJSON(w, http.StatusOK, toRecordJSON(rec))
}

// handleDeleteRecord removes an archived recording.
func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "history is not configured")
		return
	}
	err := s.store.DeleteRecord(r.Context(), r.PathValue("id"))
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "transcript not found")
		return
	}
	if err != nil {
		slog.Error("delete record failed", "error", err)
		writeError(w, http.StatusInternalServerError, "deleting the transcript failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// durationLabel renders a duration the way the history list shows it,
// e.g. "1h02m", "12m05s", "42s".
func durationLabel(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	sec := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm%02ds", m, sec)
	default:
		return fmt.Sprintf("%ds", sec)
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func emptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

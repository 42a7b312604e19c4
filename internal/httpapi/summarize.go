package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"talkwise/internal/history"
	"talkwise/internal/summary"
)

type summarizeRequest struct {
	Transcript string `json:"transcript"`
}

// handleSummarize relays a transcript to the LLM and returns the structured
// summary. A response the model mangled beyond parsing still comes back 200,
// with the raw text in the summary field.
func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	if s.summarizer == nil {
		writeError(w, http.StatusServiceUnavailable, "summarization is not configured")
		return
	}

	var req summarizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sum, err := s.summarize(w, r, req.Transcript)
	if err != nil {
		return
	}
	writeSummary(w, sum)
}

// handleSummarizeRecord summarizes an archived recording and attaches the
// result to it.
func (s *Server) handleSummarizeRecord(w http.ResponseWriter, r *http.Request) {
	if s.summarizer == nil {
		writeError(w, http.StatusServiceUnavailable, "summarization is not configured")
		return
	}
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
		slog.Error("load record failed", "error", err)
		writeError(w, http.StatusInternalServerError, "loading the transcript failed")
		return
	}

	sum, err := s.summarize(w, r, rec.Text)
	if err != nil {
		return
	}

	rec.Summary = sum.Summary
	rec.KeyPoints = sum.KeyPoints
	rec.ActionItems = sum.ActionItems
	if rec.Title == "" {
		rec.Title = sum.Title
	}
	if err := s.store.UpdateRecord(r.Context(), rec); err != nil {
		slog.Error("attach summary failed", "record_id", rec.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "saving the summary failed")
		return
	}

	writeJSON(w, http.StatusOK, toRecordJSON(rec))
}

// summarize runs the summarizer and writes the error response itself on
// failure, so callers only handle success.
func (s *Server) summarize(w http.ResponseWriter, r *http.Request, text string) (*summary.Summary, error) {
	sum, err := s.summarizer.Summarize(r.Context(), text)
	if errors.Is(err, summary.ErrEmptyTranscript) {
		writeError(w, http.StatusBadRequest, "transcript is empty")
		return nil, err
	}
	if err != nil {
		// Upstream detail stays in the log.
		slog.Error("summarize failed", "error", err)
		writeError(w, http.StatusInternalServerError, "summarization failed")
		return nil, err
	}
	return sum, nil
}

// writeSummary returns the structured object, or the bare {summary} shape
// when the parser fell back to raw model output.
func writeSummary(w http.ResponseWriter, sum *summary.Summary) {
	if sum.Title == "" && len(sum.KeyPoints) == 0 && len(sum.ActionItems) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"summary": sum.Summary})
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"talkwise/internal/history"
)

// ScheduleJSON is the wire shape of an upcoming meeting.
type ScheduleJSON struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Notes     string    `json:"notes"`
	StartsAt  time.Time `json:"starts_at"`
	CreatedAt time.Time `json:"created_at"`
	Reminded  bool      `json:"reminded"`
}

func toScheduleJSON(sch history.Schedule) ScheduleJSON {
	return ScheduleJSON{
		ID:        sch.ID,
		Title:     sch.Title,
		Notes:     sch.Notes,
		StartsAt:  sch.StartsAt,
		CreatedAt: sch.CreatedAt,
		Reminded:  sch.Reminded,
	}
}

// handleListSchedules returns all schedules, soonest first.
func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "history is not configured")
		return
	}
	schedules, err := s.store.ListSchedules(r.Context())
	if err != nil {
		slog.Error("list schedules failed", "error", err)
		writeError(w, http.StatusInternalServerError, "listing schedules failed")
		return
	}
	out := make([]ScheduleJSON, len(schedules))
	for i, sch := range schedules {
		out[i] = toScheduleJSON(sch)
	}
	writeJSON(w, http.StatusOK, out)
}

type scheduleCreateRequest struct {
	Title    string    `json:"title"`
	Notes    string    `json:"notes"`
	StartsAt time.Time `json:"starts_at"`
}

// handleCreateSchedule saves a new upcoming meeting.
func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "history is not configured")
		return
	}
	var req scheduleCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if req.StartsAt.IsZero() {
		writeError(w, http.StatusBadRequest, "starts_at is required")
		return
	}

	sch := history.Schedule{
		ID:        history.NewID("sch"),
		Title:     strings.TrimSpace(req.Title),
		Notes:     req.Notes,
		StartsAt:  req.StartsAt,
		CreatedAt: time.Now(),
	}
	if err := s.store.SaveSchedule(r.Context(), sch); err != nil {
		slog.Error("save schedule failed", "error", err)
		writeError(w, http.StatusInternalServerError, "saving the schedule failed")
		return
	}
	writeJSON(w, http.StatusCreated, toScheduleJSON(sch))
}

// handleDeleteSchedule removes a schedule.
func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "history is not configured")
		return
	}
	err := s.store.DeleteSchedule(r.Context(), r.PathValue("id"))
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "schedule not found")
		return
	}
	if err != nil {
		slog.Error("delete schedule failed", "error", err)
		writeError(w, http.StatusInternalServerError, "deleting the schedule failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

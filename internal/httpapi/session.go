package httpapi

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"talkwise/internal/session"
	"talkwise/internal/transcript"
	"talkwise/pkg/audio"
)

type sessionStartRequest struct {
	Source     string `json:"source"`
	DeviceID   string `json:"device_id"`
	Language   string `json:"language"`
	SampleRate int    `json:"sample_rate"`
}

type sessionStatusJSON struct {
	State     string     `json:"state"`
	Source    string     `json:"source,omitempty"`
	Language  string     `json:"language,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// handleSessionStart begins a new recording.
func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req sessionStartRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Absent request fields fall back to the configured capture defaults.
	cfg := s.defaults
	if req.Source != "" {
		cfg.Source = audio.Source(req.Source)
	}
	if req.DeviceID != "" {
		cfg.DeviceID = req.DeviceID
	}
	if req.Language != "" {
		cfg.Language = req.Language
	}
	if req.SampleRate != 0 {
		cfg.SampleRate = req.SampleRate
	}
	if cfg.Source == "" {
		cfg.Source = audio.SourceMic
	}
	if !cfg.Source.Valid() {
		writeError(w, http.StatusBadRequest, "unknown audio source")
		return
	}

	err := s.session.Start(r.Context(), cfg)
	if errors.Is(err, session.ErrSessionActive) {
		writeError(w, http.StatusConflict, "a recording is already in progress")
		return
	}
	if err != nil {
		slog.Error("start recording failed", "error", err)
		writeError(w, http.StatusInternalServerError, "starting the recording failed")
		return
	}
	writeJSON(w, http.StatusOK, statusJSON(s.session.Status()))
}

// handleSessionStop ends the recording and returns the archived record.
// Stopping when nothing is recording is a no-op, not an error: the second
// click of a double-clicked stop button changes nothing.
func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	rec, err := s.session.Stop(r.Context())
	if errors.Is(err, session.ErrNoSession) {
		writeJSON(w, http.StatusOK, sessionStatusJSON{State: string(session.StateIdle)})
		return
	}
	if err != nil {
		slog.Error("stop recording failed", "error", err)
		writeError(w, http.StatusInternalServerError, "stopping the recording failed")
		return
	}
	writeJSON(w, http.StatusOK, toRecordJSON(rec))
}

// handleSessionStatus reports the recording lifecycle state.
func (s *Server) handleSessionStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusJSON(s.session.Status()))
}

// handleSessionRecording serves the FLAC audio of the most recently finished
// recording.
func (s *Server) handleSessionRecording(w http.ResponseWriter, _ *http.Request) {
	data := s.session.Recording()
	if len(data) == 0 {
		writeError(w, http.StatusNotFound, "no finished recording available")
		return
	}
	w.Header().Set("Content-Type", "audio/flac")
	w.Header().Set("Content-Disposition", `attachment; filename="recording.flac"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type liveTranscriptJSON struct {
	Permanent string `json:"permanent"`
	Interim   string `json:"interim"`
	Display   string `json:"display"`
	Editing   bool   `json:"editing"`
}

// handleLiveTranscript returns the live transcript of the current session.
func (s *Server) handleLiveTranscript(w http.ResponseWriter, _ *http.Request) {
	permanent, interim := s.transcript.Text()
	writeJSON(w, http.StatusOK, liveTranscriptJSON{
		Permanent: permanent,
		Interim:   interim,
		Display:   s.transcript.Display(),
		Editing:   s.transcript.Editing(),
	})
}

type editDraftRequest struct {
	Text string `json:"text"`
}

// handleEditBegin opens edit mode and returns the draft.
func (s *Server) handleEditBegin(w http.ResponseWriter, _ *http.Request) {
	draft, err := s.transcript.BeginEdit()
	if errors.Is(err, transcript.ErrEditInProgress) {
		writeError(w, http.StatusConflict, "an edit is already in progress")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"draft": draft})
}

// handleEditDraft replaces the draft text.
func (s *Server) handleEditDraft(w http.ResponseWriter, r *http.Request) {
	var req editDraftRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.transcript.UpdateDraft(req.Text); errors.Is(err, transcript.ErrNotEditing) {
		writeError(w, http.StatusConflict, "no edit in progress")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"draft": req.Text})
}

// handleEditSave commits the draft as the permanent transcript.
func (s *Server) handleEditSave(w http.ResponseWriter, _ *http.Request) {
	if err := s.transcript.SaveEdit(); errors.Is(err, transcript.ErrNotEditing) {
		writeError(w, http.StatusConflict, "no edit in progress")
		return
	}
	permanent, _ := s.transcript.Text()
	writeJSON(w, http.StatusOK, map[string]string{"permanent": permanent})
}

// handleEditCancel discards the draft and restores the pre-edit transcript.
func (s *Server) handleEditCancel(w http.ResponseWriter, _ *http.Request) {
	if err := s.transcript.CancelEdit(); errors.Is(err, transcript.ErrNotEditing) {
		writeError(w, http.StatusConflict, "no edit in progress")
		return
	}
	permanent, _ := s.transcript.Text()
	writeJSON(w, http.StatusOK, map[string]string{"permanent": permanent})
}

func statusJSON(info session.Info) sessionStatusJSON {
	out := sessionStatusJSON{
		State:     string(info.State),
		Source:    string(info.Source),
		Language:  info.Language,
		LastError: info.LastError,
	}
	if !info.StartedAt.IsZero() {
		t := info.StartedAt
		out.StartedAt = &t
	}
	return out
}

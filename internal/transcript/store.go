package transcript

import (
	"errors"
	"strings"
	"sync"
)

// Edit lifecycle errors.
var (
	ErrEditInProgress = errors.New("transcript: edit already in progress")
	ErrNotEditing     = errors.New("transcript: no edit in progress")
)

// Store holds the live transcript a recording session exposes to its
// consumers, including the manual-edit lifecycle: entering edit mode
// snapshots the current text into a draft, Save commits the draft as the new
// permanent text, Cancel reverts to the pre-edit state.
//
// Live updates arriving while an edit is open are discarded — the user is
// rewriting the text by hand, and silently splicing new speech into their
// draft would corrupt it.
//
// Safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	permanent string
	interim   string
	editing   bool
	draft     string
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{}
}

// SetLive replaces the live transcript state. Ignored while an edit is open.
func (s *Store) SetLive(u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editing {
		return
	}
	s.permanent = u.Permanent
	s.interim = u.Interim
}

// Text returns the permanent and interim parts of the live transcript.
// While an edit is open it reflects the pre-edit state.
func (s *Store) Text() (permanent, interim string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permanent, s.interim
}

// Display returns the transcript as shown to the user: the draft while
// editing, otherwise permanent and interim joined.
func (s *Store) Display() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editing {
		return s.draft
	}
	return joinText(s.permanent, s.interim)
}

// BeginEdit opens edit mode and returns the draft, seeded with the current
// display text. Returns ErrEditInProgress if an edit is already open.
func (s *Store) BeginEdit() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editing {
		return "", ErrEditInProgress
	}
	s.editing = true
	s.draft = joinText(s.permanent, s.interim)
	return s.draft, nil
}

// UpdateDraft replaces the draft text. Returns ErrNotEditing when no edit is
// open.
func (s *Store) UpdateDraft(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.editing {
		return ErrNotEditing
	}
	s.draft = text
	return nil
}

// SaveEdit commits the draft as the new permanent text and closes edit mode.
// The interim is cleared: the draft already incorporates whatever of it the
// user kept.
func (s *Store) SaveEdit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.editing {
		return ErrNotEditing
	}
	s.permanent = s.draft
	s.interim = ""
	s.editing = false
	s.draft = ""
	return nil
}

// CancelEdit discards the draft and closes edit mode, restoring the pre-edit
// text.
func (s *Store) CancelEdit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.editing {
		return ErrNotEditing
	}
	s.editing = false
	s.draft = ""
	return nil
}

// Editing reports whether an edit is open.
func (s *Store) Editing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editing
}

// Final returns the text to persist when the recording stops: the permanent
// transcript, trimmed. An open edit is cancelled first — an unsaved draft
// does not survive the recording.
func (s *Store) Final() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editing = false
	s.draft = ""
	return strings.TrimSpace(s.permanent)
}

// Reset clears all state for a fresh recording.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permanent = ""
	s.interim = ""
	s.editing = false
	s.draft = ""
}

func joinText(permanent, interim string) string {
	switch {
	case permanent == "":
		return interim
	case interim == "":
		return permanent
	default:
		return permanent + " " + interim
	}
}

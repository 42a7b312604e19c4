// Package history defines the persistent store for finished recordings and
// meeting schedules.
//
// Two implementations exist: a zero-setup local SQLite store (the default)
// and a PostgreSQL store that additionally supports semantic search over
// transcripts via pgvector. Both present the same [Store] interface, so the
// rest of the application never knows which backend is wired in.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when the requested record or schedule does not
// exist.
var ErrNotFound = errors.New("history: not found")

// Record is one archived recording: the transcript plus the structured
// summary generated for it.
type Record struct {
	ID          string
	Title       string
	Text        string
	Summary     string
	KeyPoints   []string
	ActionItems []string

	// Source is the audio source the recording used ("mic", "system",
	// "mixed").
	Source string

	// Language is the BCP-47 recognition language, empty for auto-detect.
	Language string

	// Duration is the length of the recording.
	Duration time.Duration

	CreatedAt time.Time
}

// Schedule is an upcoming meeting the user wants to be reminded to record.
type Schedule struct {
	ID        string
	Title     string
	Notes     string
	StartsAt  time.Time
	CreatedAt time.Time

	// Reminded is set once a reminder for this schedule has been delivered,
	// so restarts do not re-notify.
	Reminded bool
}

// Store is the persistence abstraction over recordings and schedules.
//
// Implementations must be safe for concurrent use. Listing operations return
// the most recent entries first.
type Store interface {
	// SaveRecord inserts a record. The ID must be unique.
	SaveRecord(ctx context.Context, rec Record) error

	// ListRecords returns records ordered most recent first.
	ListRecords(ctx context.Context, limit, offset int) ([]Record, error)

	// GetRecord returns the record with the given ID, or ErrNotFound.
	GetRecord(ctx context.Context, id string) (Record, error)

	// UpdateRecord replaces the record with the same ID, or ErrNotFound.
	// CreatedAt is immutable; the stored value is kept.
	UpdateRecord(ctx context.Context, rec Record) error

	// DeleteRecord removes the record with the given ID, or ErrNotFound.
	DeleteRecord(ctx context.Context, id string) error

	// SearchRecords returns records matching query, best matches first.
	// Matching strategy is implementation-defined (substring, fuzzy,
	// semantic); an empty query lists recent records.
	SearchRecords(ctx context.Context, query string, limit int) ([]Record, error)

	// SaveSchedule inserts a schedule. The ID must be unique.
	SaveSchedule(ctx context.Context, sch Schedule) error

	// ListSchedules returns all schedules ordered by start time ascending.
	ListSchedules(ctx context.Context) ([]Schedule, error)

	// DeleteSchedule removes the schedule with the given ID, or ErrNotFound.
	DeleteSchedule(ctx context.Context, id string) error

	// DueSchedules returns unreminded schedules starting within the window
	// (now, now+within].
	DueSchedules(ctx context.Context, now time.Time, within time.Duration) ([]Schedule, error)

	// MarkReminded flags the schedule as reminded, or ErrNotFound.
	MarkReminded(ctx context.Context, id string) error

	// Close releases the backing resources.
	Close()
}

// NewID returns a unique identifier with the given prefix, e.g.
// "rec-1756716000123456789".
func NewID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

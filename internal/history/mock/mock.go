// Package mock provides a fully functional in-memory [history.Store] for
// tests. It behaves like the real backends (most-recent-first listing,
// ErrNotFound on misses, fuzzy search fallback) without touching disk, and
// exposes an [Store.Err] field to force failures. Safe for concurrent use.
package mock

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"talkwise/internal/history"
)

var _ history.Store = (*Store)(nil)

// Store is an in-memory history store.
type Store struct {
	mu        sync.Mutex
	records   []history.Record
	schedules []history.Schedule
	closed    bool

	// Err, when non-nil, is returned by every method.
	Err error
}

// SaveRecord implements history.Store.
func (s *Store) SaveRecord(_ context.Context, rec history.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.records = append(s.records, rec)
	return nil
}

// ListRecords implements history.Store.
func (s *Store) ListRecords(_ context.Context, limit, offset int) ([]history.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if limit <= 0 {
		limit = 50
	}
	sorted := s.sortedRecords()
	if offset >= len(sorted) {
		return nil, nil
	}
	sorted = sorted[offset:]
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted, nil
}

// GetRecord implements history.Store.
func (s *Store) GetRecord(_ context.Context, id string) (history.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return history.Record{}, s.Err
	}
	for _, rec := range s.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return history.Record{}, history.ErrNotFound
}

// UpdateRecord implements history.Store.
func (s *Store) UpdateRecord(_ context.Context, rec history.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for i := range s.records {
		if s.records[i].ID == rec.ID {
			rec.CreatedAt = s.records[i].CreatedAt
			s.records[i] = rec
			return nil
		}
	}
	return history.ErrNotFound
}

// DeleteRecord implements history.Store.
func (s *Store) DeleteRecord(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for i, rec := range s.records {
		if rec.ID == id {
			s.records = append(s.records[:i], s.records[i+1:]...)
			return nil
		}
	}
	return history.ErrNotFound
}

// SearchRecords implements history.Store.
func (s *Store) SearchRecords(_ context.Context, query string, limit int) ([]history.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if limit <= 0 {
		limit = 50
	}
	sorted := s.sortedRecords()
	if strings.TrimSpace(query) == "" {
		if len(sorted) > limit {
			sorted = sorted[:limit]
		}
		return sorted, nil
	}
	return history.FuzzyRank(sorted, query, limit), nil
}

// SaveSchedule implements history.Store.
func (s *Store) SaveSchedule(_ context.Context, sch history.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.schedules = append(s.schedules, sch)
	return nil
}

// ListSchedules implements history.Store.
func (s *Store) ListSchedules(_ context.Context) ([]history.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]history.Schedule, len(s.schedules))
	copy(out, s.schedules)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartsAt.Before(out[j].StartsAt)
	})
	return out, nil
}

// DeleteSchedule implements history.Store.
func (s *Store) DeleteSchedule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for i, sch := range s.schedules {
		if sch.ID == id {
			s.schedules = append(s.schedules[:i], s.schedules[i+1:]...)
			return nil
		}
	}
	return history.ErrNotFound
}

// DueSchedules implements history.Store.
func (s *Store) DueSchedules(_ context.Context, now time.Time, within time.Duration) ([]history.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	deadline := now.Add(within)
	var out []history.Schedule
	for _, sch := range s.schedules {
		if !sch.Reminded && sch.StartsAt.After(now) && !sch.StartsAt.After(deadline) {
			out = append(out, sch)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartsAt.Before(out[j].StartsAt)
	})
	return out, nil
}

// MarkReminded implements history.Store.
func (s *Store) MarkReminded(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for i := range s.schedules {
		if s.schedules[i].ID == id {
			s.schedules[i].Reminded = true
			return nil
		}
	}
	return history.ErrNotFound
}

// Close implements history.Store.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Closed reports whether Close has been called.
func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// sortedRecords returns a most-recent-first copy. Callers must hold s.mu.
func (s *Store) sortedRecords() []history.Record {
	out := make([]history.Record, len(s.records))
	copy(out, s.records)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

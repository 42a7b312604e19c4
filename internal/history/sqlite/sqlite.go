// Package sqlite provides the default local [history.Store], backed by a
// single SQLite database file. No server, no setup; search falls back to
// phonetic fuzzy ranking since SQLite has no built-in fuzzy matching.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"talkwise/internal/history"
)

// fuzzyScanLimit caps how many recent records the fuzzy fallback loads into
// memory for ranking.
const fuzzyScanLimit = 500

var _ history.Store = (*Store)(nil)

const ddl = `
CREATE TABLE IF NOT EXISTS records (
    id           TEXT     PRIMARY KEY,
    title        TEXT     NOT NULL DEFAULT '',
    text         TEXT     NOT NULL,
    summary      TEXT     NOT NULL DEFAULT '',
    key_points   TEXT     NOT NULL DEFAULT '[]',
    action_items TEXT     NOT NULL DEFAULT '[]',
    source       TEXT     NOT NULL DEFAULT '',
    language     TEXT     NOT NULL DEFAULT '',
    duration_ns  INTEGER  NOT NULL DEFAULT 0,
    created_at   INTEGER  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_created_at ON records (created_at);

CREATE TABLE IF NOT EXISTS schedules (
    id         TEXT     PRIMARY KEY,
    title      TEXT     NOT NULL,
    notes      TEXT     NOT NULL DEFAULT '',
    starts_at  INTEGER  NOT NULL,
    created_at INTEGER  NOT NULL,
    reminded   INTEGER  NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_schedules_starts_at ON schedules (starts_at);
`

// Store is a SQLite-backed history store. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

// New opens (creating if necessary) the database at path and ensures the
// schema exists. Use ":memory:" for an ephemeral store.
func New(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite history: open: %w", err)
	}
	// SQLite allows one writer; serialize access through a single
	// connection rather than surfacing SQLITE_BUSY to callers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite history: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveRecord implements history.Store.
func (s *Store) SaveRecord(ctx context.Context, rec history.Record) error {
	keyPoints, err := json.Marshal(emptyIfNil(rec.KeyPoints))
	if err != nil {
		return fmt.Errorf("sqlite history: marshal key points: %w", err)
	}
	actionItems, err := json.Marshal(emptyIfNil(rec.ActionItems))
	if err != nil {
		return fmt.Errorf("sqlite history: marshal action items: %w", err)
	}

	const q = `
		INSERT INTO records
		    (id, title, text, summary, key_points, action_items, source, language, duration_ns, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q,
		rec.ID, rec.Title, rec.Text, rec.Summary,
		string(keyPoints), string(actionItems),
		rec.Source, rec.Language, int64(rec.Duration), rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite history: save record: %w", err)
	}
	return nil
}

// ListRecords implements history.Store.
func (s *Store) ListRecords(ctx context.Context, limit, offset int) ([]history.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
		SELECT id, title, text, summary, key_points, action_items, source, language, duration_ns, created_at
		FROM   records
		ORDER  BY created_at DESC
		LIMIT  ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, q, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("sqlite history: list records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// GetRecord implements history.Store.
func (s *Store) GetRecord(ctx context.Context, id string) (history.Record, error) {
	const q = `
		SELECT id, title, text, summary, key_points, action_items, source, language, duration_ns, created_at
		FROM   records
		WHERE  id = ?`
	rec, err := scanRecord(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return history.Record{}, history.ErrNotFound
	}
	if err != nil {
		return history.Record{}, fmt.Errorf("sqlite history: get record: %w", err)
	}
	return rec, nil
}

// UpdateRecord implements history.Store.
func (s *Store) UpdateRecord(ctx context.Context, rec history.Record) error {
	keyPoints, err := json.Marshal(emptyIfNil(rec.KeyPoints))
	if err != nil {
		return fmt.Errorf("sqlite history: marshal key points: %w", err)
	}
	actionItems, err := json.Marshal(emptyIfNil(rec.ActionItems))
	if err != nil {
		return fmt.Errorf("sqlite history: marshal action items: %w", err)
	}

	const q = `
		UPDATE records
		SET    title = ?, text = ?, summary = ?, key_points = ?, action_items = ?,
		       source = ?, language = ?, duration_ns = ?
		WHERE  id = ?`
	res, err := s.db.ExecContext(ctx, q,
		rec.Title, rec.Text, rec.Summary,
		string(keyPoints), string(actionItems),
		rec.Source, rec.Language, int64(rec.Duration), rec.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite history: update record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return history.ErrNotFound
	}
	return nil
}

// DeleteRecord implements history.Store.
func (s *Store) DeleteRecord(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite history: delete record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return history.ErrNotFound
	}
	return nil
}

// SearchRecords implements history.Store. Substring matches come straight
// from SQL; when none exist the recent records are ranked phonetically so
// that misspelled queries still find their meeting.
func (s *Store) SearchRecords(ctx context.Context, query string, limit int) ([]history.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	if query == "" {
		return s.ListRecords(ctx, limit, 0)
	}

	const q = `
		SELECT id, title, text, summary, key_points, action_items, source, language, duration_ns, created_at
		FROM   records
		WHERE  instr(lower(title), lower(?)) > 0 OR instr(lower(text), lower(?)) > 0
		ORDER  BY created_at DESC
		LIMIT  ?`
	rows, err := s.db.QueryContext(ctx, q, query, query, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite history: search records: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		return records, nil
	}

	recent, err := s.ListRecords(ctx, fuzzyScanLimit, 0)
	if err != nil {
		return nil, err
	}
	return history.FuzzyRank(recent, query, limit), nil
}

// SaveSchedule implements history.Store.
func (s *Store) SaveSchedule(ctx context.Context, sch history.Schedule) error {
	const q = `
		INSERT INTO schedules (id, title, notes, starts_at, created_at, reminded)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		sch.ID, sch.Title, sch.Notes,
		sch.StartsAt.UnixNano(), sch.CreatedAt.UnixNano(), boolToInt(sch.Reminded),
	)
	if err != nil {
		return fmt.Errorf("sqlite history: save schedule: %w", err)
	}
	return nil
}

// ListSchedules implements history.Store.
func (s *Store) ListSchedules(ctx context.Context) ([]history.Schedule, error) {
	const q = `
		SELECT id, title, notes, starts_at, created_at, reminded
		FROM   schedules
		ORDER  BY starts_at ASC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("sqlite history: list schedules: %w", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// DeleteSchedule implements history.Store.
func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite history: delete schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return history.ErrNotFound
	}
	return nil
}

// DueSchedules implements history.Store.
func (s *Store) DueSchedules(ctx context.Context, now time.Time, within time.Duration) ([]history.Schedule, error) {
	const q = `
		SELECT id, title, notes, starts_at, created_at, reminded
		FROM   schedules
		WHERE  reminded = 0 AND starts_at > ? AND starts_at <= ?
		ORDER  BY starts_at ASC`
	rows, err := s.db.QueryContext(ctx, q, now.UnixNano(), now.Add(within).UnixNano())
	if err != nil {
		return nil, fmt.Errorf("sqlite history: due schedules: %w", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// MarkReminded implements history.Store.
func (s *Store) MarkReminded(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE schedules SET reminded = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite history: mark reminded: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return history.ErrNotFound
	}
	return nil
}

// Close implements history.Store.
func (s *Store) Close() {
	s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (history.Record, error) {
	var (
		rec         history.Record
		keyPoints   string
		actionItems string
		durationNs  int64
		createdAt   int64
	)
	err := row.Scan(
		&rec.ID, &rec.Title, &rec.Text, &rec.Summary,
		&keyPoints, &actionItems,
		&rec.Source, &rec.Language, &durationNs, &createdAt,
	)
	if err != nil {
		return history.Record{}, err
	}
	if err := json.Unmarshal([]byte(keyPoints), &rec.KeyPoints); err != nil {
		return history.Record{}, fmt.Errorf("sqlite history: decode key points: %w", err)
	}
	if err := json.Unmarshal([]byte(actionItems), &rec.ActionItems); err != nil {
		return history.Record{}, fmt.Errorf("sqlite history: decode action items: %w", err)
	}
	rec.Duration = time.Duration(durationNs)
	rec.CreatedAt = time.Unix(0, createdAt)
	return rec, nil
}

func scanRecords(rows *sql.Rows) ([]history.Record, error) {
	var out []history.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite history: scan record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanSchedules(rows *sql.Rows) ([]history.Schedule, error) {
	var out []history.Schedule
	for rows.Next() {
		var (
			sch       history.Schedule
			startsAt  int64
			createdAt int64
			reminded  int
		)
		if err := rows.Scan(&sch.ID, &sch.Title, &sch.Notes, &startsAt, &createdAt, &reminded); err != nil {
			return nil, fmt.Errorf("sqlite history: scan schedule: %w", err)
		}
		sch.StartsAt = time.Unix(0, startsAt)
		sch.CreatedAt = time.Unix(0, createdAt)
		sch.Reminded = reminded != 0
		out = append(out, sch)
	}
	return out, rows.Err()
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

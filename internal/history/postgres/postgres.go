// Package postgres provides a PostgreSQL-backed [history.Store].
//
// Beyond the SQLite backend it supports semantic search: when constructed
// with an [embeddings.Provider], every saved record is embedded and
// SearchRecords ranks by cosine distance over a pgvector HNSW index, so
// "what did we decide about hiring" finds the right meeting even when no
// word matches. The pgvector extension must be available in the target
// database; [Migrate] installs it via CREATE EXTENSION IF NOT EXISTS.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"talkwise/internal/history"
	"talkwise/pkg/provider/embeddings"
)

var _ history.Store = (*Store)(nil)

// Store is a PostgreSQL-backed history store. All operations are safe for
// concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
}

// Option is a functional option for configuring a [Store].
type Option func(*Store)

// WithEmbedder enables semantic search. Saved records are embedded with the
// given provider and SearchRecords ranks by vector similarity instead of
// substring matching.
func WithEmbedder(e embeddings.Provider) Option {
	return func(s *Store) {
		s.embedder = e
	}
}

// New establishes a connection pool to the PostgreSQL database at dsn,
// registers pgvector types on every connection, and runs [Migrate].
func New(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	s := &Store{}
	for _, o := range opts {
		o(s)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres history: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so the embedding
	// column can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres history: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres history: ping: %w", err)
	}

	dims := defaultEmbeddingDimensions
	if s.embedder != nil {
		dims = s.embedder.Dimensions()
	}
	if err := Migrate(ctx, pool, dims); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres history: migrate: %w", err)
	}

	s.pool = pool
	return s, nil
}

// SaveRecord implements history.Store. When an embedder is configured the
// record's title and transcript are embedded for semantic search; an
// embedding failure does not lose the record, it is saved without a vector.
func (s *Store) SaveRecord(ctx context.Context, rec history.Record) error {
	var vec *pgvector.Vector
	if s.embedder != nil {
		emb, err := s.embedder.Embed(ctx, rec.Title+"\n"+rec.Text)
		if err == nil {
			v := pgvector.NewVector(emb)
			vec = &v
		}
	}

	const q = `
		INSERT INTO records
		    (id, title, text, summary, key_points, action_items, source, language, duration_ns, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := s.pool.Exec(ctx, q,
		rec.ID, rec.Title, rec.Text, rec.Summary,
		emptyIfNil(rec.KeyPoints), emptyIfNil(rec.ActionItems),
		rec.Source, rec.Language, int64(rec.Duration), vec, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres history: save record: %w", err)
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
		LIMIT  $1 OFFSET $2`
	rows, err := s.pool.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres history: list records: %w", err)
	}
	return collectRecords(rows)
}

// GetRecord implements history.Store.
func (s *Store) GetRecord(ctx context.Context, id string) (history.Record, error) {
	const q = `
		SELECT id, title, text, summary, key_points, action_items, source, language, duration_ns, created_at
		FROM   records
		WHERE  id = $1`
	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return history.Record{}, fmt.Errorf("postgres history: get record: %w", err)
	}
	rec, err := pgx.CollectOneRow(rows, scanRecord)
	if errors.Is(err, pgx.ErrNoRows) {
		return history.Record{}, history.ErrNotFound
	}
	if err != nil {
		return history.Record{}, fmt.Errorf("postgres history: get record: %w", err)
	}
	return rec, nil
}

// UpdateRecord implements history.Store. The embedding is recomputed from
// the new title and text so semantic search stays consistent with edits.
func (s *Store) UpdateRecord(ctx context.Context, rec history.Record) error {
	var vec *pgvector.Vector
	if s.embedder != nil {
		emb, err := s.embedder.Embed(ctx, rec.Title+"\n"+rec.Text)
		if err == nil {
			v := pgvector.NewVector(emb)
			vec = &v
		}
	}

	const q = `
		UPDATE records
		SET    title = $1, text = $2, summary = $3, key_points = $4, action_items = $5,
		       source = $6, language = $7, duration_ns = $8, embedding = COALESCE($9, embedding)
		WHERE  id = $10`
	tag, err := s.pool.Exec(ctx, q,
		rec.Title, rec.Text, rec.Summary,
		emptyIfNil(rec.KeyPoints), emptyIfNil(rec.ActionItems),
		rec.Source, rec.Language, int64(rec.Duration), vec, rec.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres history: update record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return history.ErrNotFound
	}
	return nil
}

// DeleteRecord implements history.Store.
func (s *Store) DeleteRecord(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres history: delete record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return history.ErrNotFound
	}
	return nil
}

// SearchRecords implements history.Store. With an embedder configured the
// query is embedded and records are ranked by ascending cosine distance;
// otherwise it falls back to case-insensitive substring matching.
func (s *Store) SearchRecords(ctx context.Context, query string, limit int) ([]history.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	if query == "" {
		return s.ListRecords(ctx, limit, 0)
	}
	if s.embedder != nil {
		if records, err := s.semanticSearch(ctx, query, limit); err == nil {
			return records, nil
		}
		// Embedding provider down; degrade to substring search.
	}

	const q = `
		SELECT id, title, text, summary, key_points, action_items, source, language, duration_ns, created_at
		FROM   records
		WHERE  title ILIKE '%' || $1 || '%' OR text ILIKE '%' || $1 || '%'
		ORDER  BY created_at DESC
		LIMIT  $2`
	rows, err := s.pool.Query(ctx, q, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres history: search records: %w", err)
	}
	records, err := collectRecords(rows)
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

func (s *Store) semanticSearch(ctx context.Context, query string, limit int) ([]history.Record, error) {
	emb, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres history: embed query: %w", err)
	}

	const q = `
		SELECT id, title, text, summary, key_points, action_items, source, language, duration_ns, created_at,
		       embedding <=> $1 AS distance
		FROM   records
		WHERE  embedding IS NOT NULL
		ORDER  BY distance
		LIMIT  $2`
	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(emb), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres history: semantic search: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.Record, error) {
		var (
			rec        history.Record
			durationNs int64
			distance   float64
		)
		err := row.Scan(
			&rec.ID, &rec.Title, &rec.Text, &rec.Summary,
			&rec.KeyPoints, &rec.ActionItems,
			&rec.Source, &rec.Language, &durationNs, &rec.CreatedAt,
			&distance,
		)
		rec.Duration = time.Duration(durationNs)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres history: scan rows: %w", err)
	}
	return records, nil
}

// SaveSchedule implements history.Store.
func (s *Store) SaveSchedule(ctx context.Context, sch history.Schedule) error {
	const q = `
		INSERT INTO schedules (id, title, notes, starts_at, created_at, reminded)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.pool.Exec(ctx, q,
		sch.ID, sch.Title, sch.Notes, sch.StartsAt, sch.CreatedAt, sch.Reminded,
	)
	if err != nil {
		return fmt.Errorf("postgres history: save schedule: %w", err)
	}
	return nil
}

// ListSchedules implements history.Store.
func (s *Store) ListSchedules(ctx context.Context) ([]history.Schedule, error) {
	const q = `
		SELECT id, title, notes, starts_at, created_at, reminded
		FROM   schedules
		ORDER  BY starts_at ASC`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres history: list schedules: %w", err)
	}
	return collectSchedules(rows)
}

// DeleteSchedule implements history.Store.
func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres history: delete schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return history.ErrNotFound
	}
	return nil
}

// DueSchedules implements history.Store.
func (s *Store) DueSchedules(ctx context.Context, now time.Time, within time.Duration) ([]history.Schedule, error) {
	const q = `
		SELECT id, title, notes, starts_at, created_at, reminded
		FROM   schedules
		WHERE  NOT reminded AND starts_at > $1 AND starts_at <= $2
		ORDER  BY starts_at ASC`
	rows, err := s.pool.Query(ctx, q, now, now.Add(within))
	if err != nil {
		return nil, fmt.Errorf("postgres history: due schedules: %w", err)
	}
	return collectSchedules(rows)
}

// MarkReminded implements history.Store.
func (s *Store) MarkReminded(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE schedules SET reminded = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres history: mark reminded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return history.ErrNotFound
	}
	return nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

func scanRecord(row pgx.CollectableRow) (history.Record, error) {
	var (
		rec        history.Record
		durationNs int64
	)
	err := row.Scan(
		&rec.ID, &rec.Title, &rec.Text, &rec.Summary,
		&rec.KeyPoints, &rec.ActionItems,
		&rec.Source, &rec.Language, &durationNs, &rec.CreatedAt,
	)
	rec.Duration = time.Duration(durationNs)
	return rec, err
}

func collectRecords(rows pgx.Rows) ([]history.Record, error) {
	records, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("postgres history: scan rows: %w", err)
	}
	return records, nil
}

func collectSchedules(rows pgx.Rows) ([]history.Schedule, error) {
	schedules, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.Schedule, error) {
		var sch history.Schedule
		err := row.Scan(&sch.ID, &sch.Title, &sch.Notes, &sch.StartsAt, &sch.CreatedAt, &sch.Reminded)
		return sch, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres history: scan rows: %w", err)
	}
	return schedules, nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// defaultEmbeddingDimensions is used for the vector column when no embedder
// is configured. Matches OpenAI text-embedding-3-small.
const defaultEmbeddingDimensions = 1536

// fuzzyScanLimit caps how many recent records the fuzzy fallback loads into
// memory for ranking.
const fuzzyScanLimit = 500

const ddlSchedules = `
CREATE TABLE IF NOT EXISTS schedules (
    id          TEXT         PRIMARY KEY,
    title       TEXT         NOT NULL,
    notes       TEXT         NOT NULL DEFAULT '',
    starts_at   TIMESTAMPTZ  NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    reminded    BOOLEAN      NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_schedules_starts_at ON schedules (starts_at);
`

// ddlRecords returns the records DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddlRecords(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS records (
    id           TEXT         PRIMARY KEY,
    title        TEXT         NOT NULL DEFAULT '',
    text         TEXT         NOT NULL,
    summary      TEXT         NOT NULL DEFAULT '',
    key_points   TEXT[]       NOT NULL DEFAULT '{}',
    action_items TEXT[]       NOT NULL DEFAULT '{}',
    source       TEXT         NOT NULL DEFAULT '',
    language     TEXT         NOT NULL DEFAULT '',
    duration_ns  BIGINT       NOT NULL DEFAULT 0,
    embedding    vector(%d),
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_records_created_at
    ON records (created_at);

CREATE INDEX IF NOT EXISTS idx_records_embedding
    ON records USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required tables and extensions exist. It is
// idempotent and safe to call on every application start.
//
// embeddingDimensions must match the configured embedding model (e.g. 1536
// for OpenAI text-embedding-3-small). Changing it after the first migration
// requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlRecords(embeddingDimensions),
		ddlSchedules,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}

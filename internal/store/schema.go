package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlJobs = `
CREATE TABLE IF NOT EXISTS transcription_jobs (
    id             UUID         PRIMARY KEY,
    filename       TEXT         NOT NULL DEFAULT '',
    state          TEXT         NOT NULL,
    total_segments INTEGER      NOT NULL DEFAULT 0,
    succeeded      INTEGER      NOT NULL DEFAULT 0,
    failed         INTEGER      NOT NULL DEFAULT 0,
    message        TEXT         NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_jobs_state
    ON transcription_jobs (state);

CREATE INDEX IF NOT EXISTS idx_jobs_created_at
    ON transcription_jobs (created_at);
`

const ddlTranscripts = `
CREATE TABLE IF NOT EXISTS transcripts (
    job_id      UUID         PRIMARY KEY REFERENCES transcription_jobs (id) ON DELETE CASCADE,
    language    TEXT         NOT NULL DEFAULT '',
    duration_s  DOUBLE PRECISION NOT NULL DEFAULT 0,
    text        TEXT         NOT NULL DEFAULT '',
    document    JSONB        NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcripts_fts
    ON transcripts USING GIN (to_tsvector('english', text));
`

// Migrate creates or ensures all required database tables exist. It is
// idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS) and
// safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlJobs,
		ddlTranscripts,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store migrate: %w", err)
		}
	}
	return nil
}

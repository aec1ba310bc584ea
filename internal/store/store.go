// Package store provides the PostgreSQL-backed persistence layer for
// transcription jobs and their finished transcripts.
//
// All operations share a single [pgxpool.Pool]. [Migrate] runs automatically
// on [NewStore] and is idempotent, so the schema is ensured on every
// application start.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxsplit/voxsplit/pkg/transcribe"
)

// ErrNotFound is returned when a job or transcript does not exist.
var ErrNotFound = errors.New("store: not found")

// JobRecord is the persisted state of a transcription job.
type JobRecord struct {
	ID            uuid.UUID
	Filename      string
	State         string
	TotalSegments int
	Succeeded     int
	Failed        int
	Message       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Store is the PostgreSQL-backed job and transcript store.
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store, establishes a connection pool to the PostgreSQL
// database at dsn, and runs [Migrate] to ensure all required tables exist.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Ping checks database connectivity. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// SaveJob inserts a new job record or updates the mutable fields of an
// existing one (state, progress counters, message).
func (s *Store) SaveJob(ctx context.Context, job JobRecord) error {
	const q = `
		INSERT INTO transcription_jobs
		    (id, filename, state, total_segments, succeeded, failed, message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (id) DO UPDATE SET
		    state          = EXCLUDED.state,
		    total_segments = EXCLUDED.total_segments,
		    succeeded      = EXCLUDED.succeeded,
		    failed         = EXCLUDED.failed,
		    message        = EXCLUDED.message,
		    updated_at     = now()`

	createdAt := job.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, q,
		job.ID,
		job.Filename,
		job.State,
		job.TotalSegments,
		job.Succeeded,
		job.Failed,
		job.Message,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("store: save job: %w", err)
	}
	return nil
}

// GetJob returns the job with the given ID, or [ErrNotFound].
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*JobRecord, error) {
	const q = `
		SELECT id, filename, state, total_segments, succeeded, failed, message, created_at, updated_at
		FROM   transcription_jobs
		WHERE  id = $1`

	var j JobRecord
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&j.ID,
		&j.Filename,
		&j.State,
		&j.TotalSegments,
		&j.Succeeded,
		&j.Failed,
		&j.Message,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get job: %w", err)
	}
	return &j, nil
}

// ListJobs returns the most recent jobs, newest first, up to limit.
// A non-positive limit defaults to 50.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
		SELECT id, filename, state, total_segments, succeeded, failed, message, created_at, updated_at
		FROM   transcription_jobs
		ORDER  BY created_at DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list jobs: %w", err)
	}
	jobs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (JobRecord, error) {
		var j JobRecord
		err := row.Scan(
			&j.ID,
			&j.Filename,
			&j.State,
			&j.TotalSegments,
			&j.Succeeded,
			&j.Failed,
			&j.Message,
			&j.CreatedAt,
			&j.UpdatedAt,
		)
		return j, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan jobs: %w", err)
	}
	if jobs == nil {
		jobs = []JobRecord{}
	}
	return jobs, nil
}

// SaveTranscript stores the merged transcript for a completed job. The full
// transcript (spans and words included) is stored as JSONB alongside the
// flattened text for direct querying.
func (s *Store) SaveTranscript(ctx context.Context, jobID uuid.UUID, tr *transcribe.Transcript) error {
	const q = `
		INSERT INTO transcripts (job_id, language, duration_s, text, document, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (job_id) DO UPDATE SET
		    language   = EXCLUDED.language,
		    duration_s = EXCLUDED.duration_s,
		    text       = EXCLUDED.text,
		    document   = EXCLUDED.document`

	_, err := s.pool.Exec(ctx, q, jobID, tr.Language, tr.Duration, tr.Text, tr)
	if err != nil {
		return fmt.Errorf("store: save transcript: %w", err)
	}
	return nil
}

// GetTranscript returns the transcript for the given job, or [ErrNotFound].
func (s *Store) GetTranscript(ctx context.Context, jobID uuid.UUID) (*transcribe.Transcript, error) {
	const q = `SELECT document FROM transcripts WHERE job_id = $1`

	var tr transcribe.Transcript
	err := s.pool.QueryRow(ctx, q, jobID).Scan(&tr)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: transcript for job %s", ErrNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get transcript: %w", err)
	}
	return &tr, nil
}

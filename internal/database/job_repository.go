// Package database provides PostgreSQL persistence for jobs.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jonesrussell/gogen/internal/domain"
	gerrors "github.com/jonesrussell/gogen/internal/errors"
)

// jobSelectList is the column list for SELECT on jobs (single source for schema changes)
const jobSelectList = `id, prompt, config_name, template_name, status, result,
			error, max_retries, retry_count, next_retry_at,
			created_at, updated_at`

// defaultListLimit bounds unqualified listings.
const defaultListLimit = 50

// JobRepository persists jobs in PostgreSQL. Every state transition must be
// saved before the corresponding queue message is acknowledged.
type JobRepository struct {
	db *sql.DB
}

// NewJobRepository creates a new repository.
func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

// EnsureSchema creates the jobs table and indexes when missing.
func (r *JobRepository) EnsureSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS jobs (
			id            TEXT PRIMARY KEY,
			prompt        TEXT NOT NULL,
			config_name   TEXT NOT NULL,
			template_name TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL,
			result        TEXT NOT NULL DEFAULT '',
			error         TEXT NOT NULL DEFAULT '',
			max_retries   INTEGER NOT NULL DEFAULT 0,
			retry_count   INTEGER NOT NULL DEFAULT 0,
			next_retry_at TIMESTAMPTZ,
			created_at    TIMESTAMPTZ NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status)`

	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return gerrors.WrapWithContext(err, "ensure schema")
	}
	return nil
}

// Save upserts the job's current state.
func (r *JobRepository) Save(ctx context.Context, job *domain.Job) error {
	if job == nil {
		return errors.New("job cannot be nil")
	}

	query := `
		INSERT INTO jobs (` + jobSelectList + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status        = EXCLUDED.status,
			result        = EXCLUDED.result,
			error         = EXCLUDED.error,
			retry_count   = EXCLUDED.retry_count,
			next_retry_at = EXCLUDED.next_retry_at,
			updated_at    = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		job.ID, job.Prompt, job.ConfigName, job.TemplateName, string(job.Status),
		job.Result, job.Error, job.MaxRetries, job.RetryCount, job.NextRetryAt,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return gerrors.WrapWithContextf(err, "save job %s", job.ID)
	}
	return nil
}

// Load returns the job for id, or domain.ErrJobNotFound.
func (r *JobRepository) Load(ctx context.Context, id string) (*domain.Job, error) {
	query := `SELECT ` + jobSelectList + ` FROM jobs WHERE id = $1`

	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	if err != nil {
		return nil, gerrors.WrapWithContextf(err, "load job %s", id)
	}
	return job, nil
}

// List returns the most recently created jobs, newest first.
func (r *JobRepository) List(ctx context.Context, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT ` + jobSelectList + ` FROM jobs ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, gerrors.WrapWithContext(err, "list jobs")
	}
	defer rows.Close()

	jobs := make([]*domain.Job, 0, limit)
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, gerrors.WrapWithContext(scanErr, "scan job")
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Count returns the number of jobs in the given status.
func (r *JobRepository) Count(ctx context.Context, status domain.Status) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status = $1`,
		string(status)).Scan(&count)
	if err != nil {
		return 0, gerrors.WrapWithContext(err, "count jobs")
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		j         domain.Job
		status    string
		nextRetry sql.NullTime
	)

	err := row.Scan(
		&j.ID, &j.Prompt, &j.ConfigName, &j.TemplateName, &status,
		&j.Result, &j.Error, &j.MaxRetries, &j.RetryCount, &nextRetry,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Status = domain.Status(status)
	if nextRetry.Valid {
		t := nextRetry.Time
		j.NextRetryAt = &t
	}
	return &j, nil
}

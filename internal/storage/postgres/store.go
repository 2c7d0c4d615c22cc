// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/breachwatch/breachwatch/internal/crawler"
)

// Schema is the DDL for the tables this store expects.
const Schema = `
CREATE TABLE IF NOT EXISTS crawl_jobs (
	id          UUID PRIMARY KEY,
	name        TEXT NOT NULL,
	status      TEXT NOT NULL,
	settings    JSONB NOT NULL,
	next_run_at TIMESTAMPTZ,
	last_run_at TIMESTAMPTZ,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS downloaded_files (
	id              UUID PRIMARY KEY,
	crawl_job_id    UUID NOT NULL REFERENCES crawl_jobs(id) ON DELETE CASCADE,
	source_url      TEXT NOT NULL,
	file_url        TEXT NOT NULL,
	file_type       TEXT NOT NULL,
	keywords_found  TEXT[] NOT NULL DEFAULT '{}',
	date_found      TIMESTAMPTZ NOT NULL,
	downloaded_at   TIMESTAMPTZ NOT NULL,
	local_path      TEXT NOT NULL,
	file_size_bytes BIGINT NOT NULL,
	checksum_md5    TEXT NOT NULL
);
`

// StoreConfig controls the Postgres connection pool.
type StoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store persists crawl jobs and downloaded-file records in Postgres. It
// implements crawler.JobStore and crawler.FileStore.
type Store struct {
	pool pgxPool
}

// NewStore creates a Postgres-backed Store using the provided config.
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreWithPool constructs a Store from an existing pool (primarily for testing).
func NewStoreWithPool(pool pgxPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateJob inserts a new job row.
func (s *Store) CreateJob(ctx context.Context, job crawler.Job) error {
	settings, err := json.Marshal(job.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO crawl_jobs (id, name, status, settings, next_run_at, last_run_at, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		job.ID, job.Name, string(job.Status), settings,
		job.NextRunAt, job.LastRunAt, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, name, status, settings, next_run_at, last_run_at, created_at, updated_at
FROM crawl_jobs WHERE id = $1`, jobID)
	return scanJob(row)
}

// GetJobStatus returns only the status of a job.
func (s *Store) GetJobStatus(ctx context.Context, jobID string) (crawler.JobStatus, error) {
	var status string
	row := s.pool.QueryRow(ctx, `SELECT status FROM crawl_jobs WHERE id = $1`, jobID)
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("job %s not found", jobID)
		}
		return "", fmt.Errorf("select job status: %w", err)
	}
	return crawler.JobStatus(status), nil
}

// ListJobs returns all jobs ordered by creation time.
func (s *Store) ListJobs(ctx context.Context) ([]crawler.Job, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, name, status, settings, next_run_at, last_run_at, created_at, updated_at
FROM crawl_jobs ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("select jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// MarkRunning moves a pending or scheduled job to running.
func (s *Store) MarkRunning(ctx context.Context, jobID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE crawl_jobs
SET status = $2, last_run_at = $3, next_run_at = NULL, updated_at = $3
WHERE id = $1 AND status IN ($4, $5)`,
		jobID, string(crawler.StatusRunning), at,
		string(crawler.StatusPending), string(crawler.StatusScheduled),
	)
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s is not startable", jobID)
	}
	return nil
}

// RequestStop moves a running job to stopping.
func (s *Store) RequestStop(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE crawl_jobs SET status = $2, updated_at = now()
WHERE id = $1 AND status = $3`,
		jobID, string(crawler.StatusStopping), string(crawler.StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("request stop: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s is not running", jobID)
	}
	return nil
}

// FinishJob writes a terminal status. The update is conditional so a status
// written by another collaborator is never overwritten: running accepts any
// terminal status, stopping accepts only failed.
func (s *Store) FinishJob(ctx context.Context, jobID string, status crawler.JobStatus) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("status %q is not terminal", status)
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE crawl_jobs SET status = $2, updated_at = now()
WHERE id = $1 AND (status = $3 OR (status = $4 AND $2 = $5))`,
		jobID, string(status),
		string(crawler.StatusRunning), string(crawler.StatusStopping), string(crawler.StatusFailed),
	)
	if err != nil {
		return false, fmt.Errorf("finish job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteJob removes a job; file rows cascade.
func (s *Store) DeleteJob(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM crawl_jobs WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s not found", jobID)
	}
	return nil
}

// ListDue returns scheduled jobs whose next_run_at is at or before now.
func (s *Store) ListDue(ctx context.Context, now time.Time) ([]crawler.Job, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, name, status, settings, next_run_at, last_run_at, created_at, updated_at
FROM crawl_jobs
WHERE status = $1 AND next_run_at IS NOT NULL AND next_run_at <= $2
ORDER BY next_run_at`,
		string(crawler.StatusScheduled), now,
	)
	if err != nil {
		return nil, fmt.Errorf("select due jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// CreateFile inserts a downloaded-file row.
func (s *Store) CreateFile(ctx context.Context, file crawler.FoundFile) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO downloaded_files (
	id, crawl_job_id, source_url, file_url, file_type, keywords_found,
	date_found, downloaded_at, local_path, file_size_bytes, checksum_md5
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		file.ID, file.JobID, file.SourceURL, file.FileURL, file.FileType,
		file.KeywordsFound, file.DateFound, file.DownloadedAt,
		file.LocalPath, file.FileSizeBytes, file.ChecksumMD5,
	)
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

// ListFiles returns all file records for a job.
func (s *Store) ListFiles(ctx context.Context, jobID string) ([]crawler.FoundFile, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, crawl_job_id, source_url, file_url, file_type, keywords_found,
	date_found, downloaded_at, local_path, file_size_bytes, checksum_md5
FROM downloaded_files WHERE crawl_job_id = $1 ORDER BY downloaded_at`, jobID)
	if err != nil {
		return nil, fmt.Errorf("select files: %w", err)
	}
	defer rows.Close()

	var files []crawler.FoundFile
	for rows.Next() {
		var f crawler.FoundFile
		if err := rows.Scan(
			&f.ID, &f.JobID, &f.SourceURL, &f.FileURL, &f.FileType, &f.KeywordsFound,
			&f.DateFound, &f.DownloadedAt, &f.LocalPath, &f.FileSizeBytes, &f.ChecksumMD5,
		); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return files, nil
}

func scanJob(row pgx.Row) (crawler.Job, error) {
	var (
		job      crawler.Job
		status   string
		settings []byte
	)
	err := row.Scan(
		&job.ID, &job.Name, &status, &settings,
		&job.NextRunAt, &job.LastRunAt, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Job{}, errors.New("job not found")
		}
		return crawler.Job{}, fmt.Errorf("scan job: %w", err)
	}
	job.Status = crawler.JobStatus(status)
	if err := json.Unmarshal(settings, &job.Settings); err != nil {
		return crawler.Job{}, fmt.Errorf("unmarshal settings: %w", err)
	}
	return job, nil
}

func collectJobs(rows pgx.Rows) ([]crawler.Job, error) {
	var jobs []crawler.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

package crawler

import (
	"context"
	"time"
)

// JobStore persists crawl jobs and their status transitions.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	GetJobStatus(ctx context.Context, jobID string) (JobStatus, error)
	ListJobs(ctx context.Context) ([]Job, error)
	// MarkRunning moves a pending/scheduled job to running and stamps last_run_at.
	MarkRunning(ctx context.Context, jobID string, at time.Time) error
	// RequestStop moves a running job to stopping.
	RequestStop(ctx context.Context, jobID string) error
	// FinishJob writes a terminal status, but only over running (any terminal
	// status) or stopping (failed only). It reports whether the write applied.
	FinishJob(ctx context.Context, jobID string, status JobStatus) (bool, error)
	DeleteJob(ctx context.Context, jobID string) error
	// ListDue returns scheduled jobs whose next_run_at is at or before now.
	ListDue(ctx context.Context, now time.Time) ([]Job, error)
}

// FileStore persists records for downloaded files.
type FileStore interface {
	CreateFile(ctx context.Context, file FoundFile) error
	ListFiles(ctx context.Context, jobID string) ([]FoundFile, error)
}

// Fetcher retrieves a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, referrer string) (FetchResult, error)
	Close()
}

// RobotsPolicy answers whether a URL may be fetched.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// SearchDriver turns a search dork into candidate result URLs.
type SearchDriver interface {
	Search(ctx context.Context, query string, maxResults int) ([]string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

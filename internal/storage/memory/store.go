// Package memory provides in-memory stores for development and testing.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/breachwatch/breachwatch/internal/crawler"
)

// ErrNotFound is returned when a job does not exist.
var ErrNotFound = errors.New("job not found")

// Store keeps jobs and downloaded-file records in process memory. It
// implements both crawler.JobStore and crawler.FileStore.
type Store struct {
	mu    sync.RWMutex
	jobs  map[string]crawler.Job
	files map[string][]crawler.FoundFile
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		jobs:  make(map[string]crawler.Job),
		files: make(map[string][]crawler.FoundFile),
	}
}

// CreateJob stores a new job.
func (s *Store) CreateJob(_ context.Context, job crawler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(_ context.Context, jobID string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, ErrNotFound
	}
	return job, nil
}

// GetJobStatus returns only the status of a job.
func (s *Store) GetJobStatus(_ context.Context, jobID string) (crawler.JobStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return "", ErrNotFound
	}
	return job.Status, nil
}

// ListJobs returns all jobs ordered by creation time.
func (s *Store) ListJobs(_ context.Context) ([]crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// MarkRunning moves a pending or scheduled job to running.
func (s *Store) MarkRunning(_ context.Context, jobID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if job.Status != crawler.StatusPending && job.Status != crawler.StatusScheduled {
		return errors.New("job is not startable")
	}
	job.Status = crawler.StatusRunning
	job.LastRunAt = pointerTime(at)
	job.NextRunAt = nil
	job.UpdatedAt = at
	s.jobs[jobID] = job
	return nil
}

// RequestStop moves a running job to stopping.
func (s *Store) RequestStop(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if job.Status != crawler.StatusRunning {
		return errors.New("job is not running")
	}
	job.Status = crawler.StatusStopping
	job.UpdatedAt = time.Now().UTC()
	s.jobs[jobID] = job
	return nil
}

// FinishJob writes a terminal status. The write applies only when the job is
// still running, or when a stopping job finishes as failed; a status set by
// someone else in the meantime is left alone.
func (s *Store) FinishJob(_ context.Context, jobID string, status crawler.JobStatus) (bool, error) {
	if !status.Terminal() {
		return false, errors.New("status is not terminal")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, ErrNotFound
	}
	allowed := job.Status == crawler.StatusRunning ||
		(job.Status == crawler.StatusStopping && status == crawler.StatusFailed)
	if !allowed {
		return false, nil
	}
	job.Status = status
	job.UpdatedAt = time.Now().UTC()
	s.jobs[jobID] = job
	return true, nil
}

// DeleteJob removes a job and its file records.
func (s *Store) DeleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return ErrNotFound
	}
	delete(s.jobs, jobID)
	delete(s.files, jobID)
	return nil
}

// ListDue returns scheduled jobs whose next_run_at is at or before now.
func (s *Store) ListDue(_ context.Context, now time.Time) ([]crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []crawler.Job
	for _, job := range s.jobs {
		if job.Status == crawler.StatusScheduled && job.NextRunAt != nil && !job.NextRunAt.After(now) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextRunAt.Before(*due[j].NextRunAt)
	})
	return due, nil
}

// CreateFile appends a downloaded-file record.
func (s *Store) CreateFile(_ context.Context, file crawler.FoundFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[file.JobID] = append(s.files[file.JobID], file)
	return nil
}

// ListFiles returns all file records for a job.
func (s *Store) ListFiles(_ context.Context, jobID string) ([]crawler.FoundFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	files := s.files[jobID]
	out := make([]crawler.FoundFile, len(files))
	copy(out, files)
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

package crawler

import "time"

// JobStatus is the lifecycle state of a crawl job.
type JobStatus string

const (
	// StatusPending marks a job accepted but not yet started.
	StatusPending JobStatus = "pending"
	// StatusScheduled marks a job waiting for its next run time.
	StatusScheduled JobStatus = "scheduled"
	// StatusRunning marks a job whose crawl loop is active.
	StatusRunning JobStatus = "running"
	// StatusStopping marks a job asked to stop; the run drains in-flight work.
	StatusStopping JobStatus = "stopping"
	// StatusCompleted marks a finished run that found at least one file.
	StatusCompleted JobStatus = "completed"
	// StatusCompletedEmpty marks a finished run that found nothing.
	StatusCompletedEmpty JobStatus = "completed_empty"
	// StatusFailed marks a run that crashed or was stopped early.
	StatusFailed JobStatus = "failed"
)

// Terminal reports whether the status is a final state.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCompletedEmpty, StatusFailed:
		return true
	default:
		return false
	}
}

// Schedule types.
const (
	ScheduleOneShot = "one_shot"
	ScheduleCron    = "cron"
)

// ScheduleSpec describes when a job should run. One-shot schedules carry a
// RunAt instant; cron schedules carry an expression for an external
// scheduler to evaluate.
type ScheduleSpec struct {
	Type           string     `json:"type" mapstructure:"type"`
	RunAt          *time.Time `json:"run_at,omitempty" mapstructure:"run_at"`
	CronExpression string     `json:"cron_expression,omitempty" mapstructure:"cron_expression"`
	Timezone       string     `json:"timezone,omitempty" mapstructure:"timezone"`
}

// Job is a persisted crawl job.
type Job struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Status    JobStatus     `json:"status"`
	Settings  CrawlSettings `json:"settings"`
	NextRunAt *time.Time    `json:"next_run_at,omitempty"`
	LastRunAt *time.Time    `json:"last_run_at,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// FoundFile is a downloaded resource that matched the job's extension and
// keyword criteria.
type FoundFile struct {
	ID            string    `json:"id"`
	JobID         string    `json:"crawl_job_id"`
	SourceURL     string    `json:"source_url"`
	FileURL       string    `json:"file_url"`
	FileType      string    `json:"file_type"`
	KeywordsFound []string  `json:"keywords_found"`
	DateFound     time.Time `json:"date_found"`
	DownloadedAt  time.Time `json:"downloaded_at"`
	LocalPath     string    `json:"local_path"`
	FileSizeBytes int64     `json:"file_size_bytes"`
	ChecksumMD5   string    `json:"checksum_md5"`
}

// FrontierEntry is a URL queued for processing, with the depth it was
// discovered at and the page that referred to it.
type FrontierEntry struct {
	URL      string
	Depth    int
	Referrer string
}

// FetchResult is the outcome of a successful page fetch.
type FetchResult struct {
	FinalURL    string
	StatusCode  int
	ContentType string
	Body        []byte
}

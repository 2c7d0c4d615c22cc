// Package runner starts crawl runs, persists their results and promotes
// scheduled jobs when they come due.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/breachwatch/breachwatch/internal/crawler"
	"github.com/breachwatch/breachwatch/internal/registry"
)

const defaultUserAgent = "breachwatch-bot/1.0"

// ErrJobActive is returned when an operation requires the job to be idle.
var ErrJobActive = errors.New("job has an active run")

// Config tunes run-wide crawl parameters that are not per-job settings.
type Config struct {
	Workers            int
	DownloadRoot       string
	FetchTimeout       time.Duration
	MaxBodyBytes       int
	StatusPollInterval time.Duration
	SchedulerInterval  time.Duration
}

// Runner owns the lifecycle of crawl runs. Runs execute on a base context
// tied to process lifetime, not to the HTTP request that started them.
type Runner struct {
	baseCtx  context.Context
	cfg      Config
	jobs     crawler.JobStore
	files    crawler.FileStore
	registry *registry.Registry
	search   crawler.SearchDriver
	clock    crawler.Clock
	ids      crawler.IDGenerator
	logger   *zap.Logger
}

// New builds a Runner. A nil search driver falls back to DuckDuckGo.
func New(
	baseCtx context.Context,
	cfg Config,
	jobs crawler.JobStore,
	files crawler.FileStore,
	reg *registry.Registry,
	search crawler.SearchDriver,
	clock crawler.Clock,
	ids crawler.IDGenerator,
	logger *zap.Logger,
) *Runner {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if cfg.SchedulerInterval <= 0 {
		cfg.SchedulerInterval = 30 * time.Second
	}
	if search == nil {
		search = crawler.NewDuckDuckGoDriver(cfg.FetchTimeout, logger.Named("search"))
	}
	return &Runner{
		baseCtx:  baseCtx,
		cfg:      cfg,
		jobs:     jobs,
		files:    files,
		registry: reg,
		search:   search,
		clock:    clock,
		ids:      ids,
		logger:   logger,
	}
}

// StartJob wires the per-run collaborators for a job and launches its crawl.
// The run's found files are drained into the file store; the registry entry
// lives until the result stream closes.
func (r *Runner) StartJob(job crawler.Job) error {
	settings := job.Settings
	limiter := crawler.NewLimiter(settings.Delay(), settings.MaxConcurrentPerDomain)

	fetcher, err := crawler.NewCollyFetcher(settings, limiter, crawler.FetcherOptions{
		Timeout:      r.cfg.FetchTimeout,
		MaxBodyBytes: r.cfg.MaxBodyBytes,
	}, r.logger.Named("fetcher"))
	if err != nil {
		return fmt.Errorf("build fetcher: %w", err)
	}

	downloader, err := crawler.NewDownloader(
		r.cfg.DownloadRoot,
		3*r.cfg.FetchTimeout,
		r.ids,
		r.clock,
		r.logger.Named("downloader"),
	)
	if err != nil {
		fetcher.Close()
		return fmt.Errorf("build downloader: %w", err)
	}
	if _, err := downloader.WithPoliteness(limiter, settings.Proxies); err != nil {
		fetcher.Close()
		return fmt.Errorf("configure downloader: %w", err)
	}

	ua := settings.CustomUserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	deps := crawler.Deps{
		Fetcher:            fetcher,
		Robots:             crawler.NewRobotsGate(settings.RespectRobotsTxt, ua, r.logger.Named("robots")),
		Search:             r.search,
		Sitemaps:           crawler.NewSitemapResolver(fetcher, r.logger.Named("sitemaps")),
		Downloader:         downloader,
		Jobs:               r.jobs,
		Clock:              r.clock,
		Logger:             r.logger.Named("crawl"),
		Workers:            r.cfg.Workers,
		StatusPollInterval: r.cfg.StatusPollInterval,
	}
	run := crawler.NewMasterCrawler(job.ID, settings, deps)

	if err := r.registry.Register(job.ID, run); err != nil {
		fetcher.Close()
		return err
	}
	go r.drain(job.ID, run.Run(r.baseCtx))
	return nil
}

func (r *Runner) drain(jobID string, results <-chan crawler.FoundFile) {
	defer r.registry.Deregister(jobID)
	for file := range results {
		if err := r.files.CreateFile(r.baseCtx, file); err != nil {
			r.logger.Error("failed to persist found file",
				zap.String("job_id", jobID),
				zap.String("file_url", file.FileURL),
				zap.Error(err),
			)
		}
	}
}

// StopJob flips the job to stopping and signals its active run, if any.
func (r *Runner) StopJob(ctx context.Context, jobID string) error {
	if err := r.jobs.RequestStop(ctx, jobID); err != nil {
		return err
	}
	r.registry.Stop(jobID)
	return nil
}

// DeleteJob removes a job, its file records (via store cascade) and its
// download directory. Active jobs must be stopped first.
func (r *Runner) DeleteJob(ctx context.Context, jobID string) error {
	if r.registry.Active(jobID) {
		return ErrJobActive
	}
	status, err := r.jobs.GetJobStatus(ctx, jobID)
	if err != nil {
		return err
	}
	if status == crawler.StatusRunning || status == crawler.StatusStopping {
		return ErrJobActive
	}
	if err := r.jobs.DeleteJob(ctx, jobID); err != nil {
		return err
	}
	dir := filepath.Join(r.cfg.DownloadRoot, jobID)
	if err := os.RemoveAll(dir); err != nil {
		r.logger.Warn("failed to remove job download directory",
			zap.String("job_id", jobID), zap.String("dir", dir), zap.Error(err))
	}
	return nil
}

// RunScheduler promotes due scheduled jobs until the context ends. One-shot
// schedules run once; cron expressions are stored but not evaluated here.
func (r *Runner) RunScheduler(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SchedulerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.startDue(ctx)
		}
	}
}

func (r *Runner) startDue(ctx context.Context) {
	due, err := r.jobs.ListDue(ctx, r.clock.Now())
	if err != nil {
		r.logger.Error("failed to list due jobs", zap.Error(err))
		return
	}
	for _, job := range due {
		if r.registry.Active(job.ID) {
			continue
		}
		r.logger.Info("starting scheduled job", zap.String("job_id", job.ID))
		if err := r.StartJob(job); err != nil {
			r.logger.Error("failed to start scheduled job",
				zap.String("job_id", job.ID), zap.Error(err))
		}
	}
}

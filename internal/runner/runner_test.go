package runner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/breachwatch/breachwatch/internal/clock/system"
	"github.com/breachwatch/breachwatch/internal/crawler"
	"github.com/breachwatch/breachwatch/internal/id/uuid"
	"github.com/breachwatch/breachwatch/internal/metrics"
	"github.com/breachwatch/breachwatch/internal/registry"
	"github.com/breachwatch/breachwatch/internal/storage/memory"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><a href="/report.sql">dump</a></body></html>`))
	})
	mux.HandleFunc("/report.sql", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("SELECT 1;"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testSettings(seed string) crawler.CrawlSettings {
	s := crawler.DefaultSettings()
	s.Keywords = []string{"report"}
	s.FileExtensions = []string{"sql"}
	s.SeedURLs = []string{seed}
	s.CrawlDepth = 1
	s.RespectRobotsTxt = false
	s.RequestDelaySeconds = 0
	return s
}

func newTestRunner(t *testing.T, store *memory.Store, cfg Config) (*Runner, *registry.Registry) {
	t.Helper()
	metrics.Init()
	if cfg.DownloadRoot == "" {
		cfg.DownloadRoot = t.TempDir()
	}
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	reg := registry.New()
	r := New(context.Background(), cfg, store, store, reg, nil, system.New(), uuid.New(), zaptest.NewLogger(t))
	return r, reg
}

func createJob(t *testing.T, store *memory.Store, settings crawler.CrawlSettings, status crawler.JobStatus) crawler.Job {
	t.Helper()
	now := time.Now().UTC()
	job := crawler.Job{
		ID:        "0198b7a0-0000-7000-8000-000000000001",
		Name:      "test job",
		Status:    status,
		Settings:  settings,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.CreateJob(context.Background(), job))
	return job
}

func waitForStatus(t *testing.T, store *memory.Store, jobID string, want crawler.JobStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		status, err := store.GetJobStatus(context.Background(), jobID)
		return err == nil && status == want
	}, 30*time.Second, 20*time.Millisecond)
}

func TestRunnerStartJobRunsToCompletion(t *testing.T) {
	srv := newTestServer(t)
	store := memory.NewStore()
	r, reg := newTestRunner(t, store, Config{})
	job := createJob(t, store, testSettings(srv.URL+"/"), crawler.StatusPending)

	require.NoError(t, r.StartJob(job))
	waitForStatus(t, store, job.ID, crawler.StatusCompleted)

	require.Eventually(t, func() bool { return !reg.Active(job.ID) }, 5*time.Second, 10*time.Millisecond)

	files, err := store.ListFiles(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, srv.URL+"/report.sql", files[0].FileURL)
	require.FileExists(t, files[0].LocalPath)
}

func TestRunnerStartJobRejectsActiveRun(t *testing.T) {
	srv := newTestServer(t)
	store := memory.NewStore()
	r, reg := newTestRunner(t, store, Config{})
	job := createJob(t, store, testSettings(srv.URL+"/"), crawler.StatusPending)

	require.NoError(t, reg.Register(job.ID, &noopStopper{}))
	require.Error(t, r.StartJob(job))
}

type noopStopper struct{}

func (noopStopper) Stop() {}

func TestRunnerStopJob(t *testing.T) {
	store := memory.NewStore()
	r, _ := newTestRunner(t, store, Config{})
	job := createJob(t, store, testSettings("https://example.com/"), crawler.StatusPending)

	// Not running yet.
	require.Error(t, r.StopJob(context.Background(), job.ID))

	require.NoError(t, store.MarkRunning(context.Background(), job.ID, time.Now().UTC()))
	require.NoError(t, r.StopJob(context.Background(), job.ID))

	status, err := store.GetJobStatus(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.StatusStopping, status)
}

func TestRunnerDeleteJob(t *testing.T) {
	store := memory.NewStore()
	root := t.TempDir()
	r, reg := newTestRunner(t, store, Config{DownloadRoot: root})
	job := createJob(t, store, testSettings("https://example.com/"), crawler.StatusCompleted)

	dir := filepath.Join(root, job.ID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.sql"), []byte("x"), 0o644))

	// An active run blocks deletion.
	require.NoError(t, reg.Register(job.ID, &noopStopper{}))
	require.ErrorIs(t, r.DeleteJob(context.Background(), job.ID), ErrJobActive)
	reg.Deregister(job.ID)

	require.NoError(t, r.DeleteJob(context.Background(), job.ID))
	_, err := store.GetJob(context.Background(), job.ID)
	require.ErrorIs(t, err, memory.ErrNotFound)
	require.NoDirExists(t, dir)
}

func TestRunnerDeleteJobBlocksRunningStatus(t *testing.T) {
	store := memory.NewStore()
	r, _ := newTestRunner(t, store, Config{})
	job := createJob(t, store, testSettings("https://example.com/"), crawler.StatusRunning)

	require.ErrorIs(t, r.DeleteJob(context.Background(), job.ID), ErrJobActive)
}

func TestRunnerSchedulerPromotesDueJobs(t *testing.T) {
	srv := newTestServer(t)
	store := memory.NewStore()
	r, _ := newTestRunner(t, store, Config{SchedulerInterval: 20 * time.Millisecond})

	settings := testSettings(srv.URL + "/")
	runAt := time.Now().UTC().Add(-time.Minute)
	settings.Schedule = &crawler.ScheduleSpec{Type: crawler.ScheduleOneShot, RunAt: &runAt}

	now := time.Now().UTC()
	job := crawler.Job{
		ID:        "0198b7a0-0000-7000-8000-000000000002",
		Name:      "scheduled job",
		Status:    crawler.StatusScheduled,
		Settings:  settings,
		NextRunAt: &runAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.CreateJob(context.Background(), job))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.RunScheduler(ctx)

	waitForStatus(t, store, job.ID, crawler.StatusCompleted)
}

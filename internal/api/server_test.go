package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/breachwatch/breachwatch/internal/clock/system"
	"github.com/breachwatch/breachwatch/internal/crawler"
	"github.com/breachwatch/breachwatch/internal/id/uuid"
	"github.com/breachwatch/breachwatch/internal/metrics"
	"github.com/breachwatch/breachwatch/internal/registry"
	"github.com/breachwatch/breachwatch/internal/runner"
	"github.com/breachwatch/breachwatch/internal/storage/memory"
)

func newTestAPI(t *testing.T) (http.Handler, *memory.Store) {
	t.Helper()
	metrics.Init()
	store := memory.NewStore()
	logger := zaptest.NewLogger(t)
	run := runner.New(context.Background(), runner.Config{
		Workers:      2,
		DownloadRoot: t.TempDir(),
	}, store, store, registry.New(), nil, system.New(), uuid.New(), logger)
	srv := NewServer(store, store, run, uuid.New(), system.New(), logger)
	return srv.Handler(), store
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	payload := map[string]json.RawMessage{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	}
	return rec, payload
}

func scheduledSettings() crawler.CrawlSettings {
	s := crawler.DefaultSettings()
	s.Keywords = []string{"password"}
	s.FileExtensions = []string{"sql"}
	s.SeedURLs = []string{"https://example.com/"}
	runAt := time.Now().UTC().Add(24 * time.Hour)
	s.Schedule = &crawler.ScheduleSpec{Type: crawler.ScheduleOneShot, RunAt: &runAt}
	return s
}

func TestHealthEndpoints(t *testing.T) {
	h, _ := newTestAPI(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec, _ := doJSON(t, h, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "breachwatch_")
}

func TestCreateJobValidation(t *testing.T) {
	h, _ := newTestAPI(t)

	t.Run("invalid JSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/jobs/", bytes.NewBufferString("{not json"))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing name", func(t *testing.T) {
		rec, _ := doJSON(t, h, http.MethodPost, "/v1/jobs/", map[string]any{
			"settings": scheduledSettings(),
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid settings", func(t *testing.T) {
		settings := scheduledSettings()
		settings.Keywords = nil
		rec, body := doJSON(t, h, http.MethodPost, "/v1/jobs/", map[string]any{
			"name":     "bad job",
			"settings": settings,
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, string(body["error"]), "keyword")
	})

	t.Run("depth out of range", func(t *testing.T) {
		settings := scheduledSettings()
		settings.CrawlDepth = 11
		rec, _ := doJSON(t, h, http.MethodPost, "/v1/jobs/", map[string]any{
			"name":     "deep job",
			"settings": settings,
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCreateScheduledJob(t *testing.T) {
	h, store := newTestAPI(t)

	rec, body := doJSON(t, h, http.MethodPost, "/v1/jobs/", map[string]any{
		"name":     "nightly sweep",
		"settings": scheduledSettings(),
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var jobID, status string
	require.NoError(t, json.Unmarshal(body["job_id"], &jobID))
	require.NoError(t, json.Unmarshal(body["status"], &status))
	require.Equal(t, string(crawler.StatusScheduled), status)

	job, err := store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, crawler.StatusScheduled, job.Status)
	require.NotNil(t, job.NextRunAt)
}

func TestCreateJobStartsCrawl(t *testing.T) {
	seed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/report.sql" {
			_, _ = w.Write([]byte("SELECT 1;"))
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><a href="/report.sql">dump</a></body></html>`))
	}))
	defer seed.Close()

	h, store := newTestAPI(t)
	settings := crawler.DefaultSettings()
	settings.Keywords = []string{"report"}
	settings.FileExtensions = []string{"sql"}
	settings.SeedURLs = []string{seed.URL + "/"}
	settings.CrawlDepth = 1
	settings.RespectRobotsTxt = false
	settings.RequestDelaySeconds = 0

	rec, body := doJSON(t, h, http.MethodPost, "/v1/jobs/", map[string]any{
		"name":     "live job",
		"settings": settings,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var jobID string
	require.NoError(t, json.Unmarshal(body["job_id"], &jobID))

	require.Eventually(t, func() bool {
		status, err := store.GetJobStatus(context.Background(), jobID)
		return err == nil && status == crawler.StatusCompleted
	}, 30*time.Second, 20*time.Millisecond)

	rec, body = doJSON(t, h, http.MethodGet, fmt.Sprintf("/v1/jobs/%s/files", jobID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var files []crawler.FoundFile
	require.NoError(t, json.Unmarshal(body["files"], &files))
	require.Len(t, files, 1)
	require.Equal(t, seed.URL+"/report.sql", files[0].FileURL)
}

func TestGetJob(t *testing.T) {
	h, store := newTestAPI(t)

	rec, _ := doJSON(t, h, http.MethodGet, "/v1/jobs/missing/", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	now := time.Now().UTC()
	require.NoError(t, store.CreateJob(context.Background(), crawler.Job{
		ID: "j1", Name: "existing", Status: crawler.StatusCompleted, CreatedAt: now, UpdatedAt: now,
	}))

	rec, body := doJSON(t, h, http.MethodGet, "/v1/jobs/j1/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var job crawler.Job
	require.NoError(t, json.Unmarshal(body["job"], &job))
	require.Equal(t, "existing", job.Name)
}

func TestListJobs(t *testing.T) {
	h, store := newTestAPI(t)
	now := time.Now().UTC()
	require.NoError(t, store.CreateJob(context.Background(), crawler.Job{
		ID: "j1", Name: "one", Status: crawler.StatusPending, CreatedAt: now, UpdatedAt: now,
	}))

	rec, body := doJSON(t, h, http.MethodGet, "/v1/jobs/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var jobs []crawler.Job
	require.NoError(t, json.Unmarshal(body["jobs"], &jobs))
	require.Len(t, jobs, 1)
}

func TestStopJob(t *testing.T) {
	h, store := newTestAPI(t)
	now := time.Now().UTC()
	require.NoError(t, store.CreateJob(context.Background(), crawler.Job{
		ID: "j1", Name: "idle", Status: crawler.StatusPending, CreatedAt: now, UpdatedAt: now,
	}))

	// Only running jobs can be stopped.
	rec, _ := doJSON(t, h, http.MethodPost, "/v1/jobs/j1/stop", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	require.NoError(t, store.MarkRunning(context.Background(), "j1", now))
	rec, body := doJSON(t, h, http.MethodPost, "/v1/jobs/j1/stop", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var status string
	require.NoError(t, json.Unmarshal(body["status"], &status))
	require.Equal(t, string(crawler.StatusStopping), status)
}

func TestDeleteJob(t *testing.T) {
	h, store := newTestAPI(t)
	now := time.Now().UTC()

	rec, _ := doJSON(t, h, http.MethodDelete, "/v1/jobs/missing/", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, store.CreateJob(context.Background(), crawler.Job{
		ID: "j1", Name: "busy", Status: crawler.StatusRunning, CreatedAt: now, UpdatedAt: now,
	}))
	rec, _ = doJSON(t, h, http.MethodDelete, "/v1/jobs/j1/", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	require.NoError(t, store.CreateJob(context.Background(), crawler.Job{
		ID: "j2", Name: "done", Status: crawler.StatusCompleted, CreatedAt: now, UpdatedAt: now,
	}))
	rec, _ = doJSON(t, h, http.MethodDelete, "/v1/jobs/j2/", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = doJSON(t, h, http.MethodGet, "/v1/jobs/j2/", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

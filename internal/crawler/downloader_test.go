package crawler

import (
	"context"
	"crypto/md5" //nolint:gosec
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/breachwatch/breachwatch/internal/id/uuid"
	"github.com/breachwatch/breachwatch/internal/metrics"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newTestDownloader(t *testing.T) (*Downloader, string) {
	t.Helper()
	metrics.Init()
	root := t.TempDir()
	d, err := NewDownloader(root, 5*time.Second, uuid.New(), fixedClock{t: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return d, root
}

func TestDownloaderStreams(t *testing.T) {
	content := []byte("SELECT * FROM users; -- leaked report")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(content)
	}))
	defer srv.Close()

	d, root := newTestDownloader(t)
	identity := FileIdentity{Name: "report.sql", Extension: "sql"}
	file, err := d.Download(context.Background(), "job-1", srv.URL+"/report.sql", srv.URL+"/", identity, []string{"report"}, nil)
	require.NoError(t, err)

	require.Equal(t, filepath.Join(root, "job-1", "report.sql"), file.LocalPath)
	require.Equal(t, int64(len(content)), file.FileSizeBytes)
	sum := md5.Sum(content) //nolint:gosec
	require.Equal(t, hex.EncodeToString(sum[:]), file.ChecksumMD5)
	require.Equal(t, "sql", file.FileType)
	require.Equal(t, []string{"report"}, file.KeywordsFound)
	require.NotEmpty(t, file.ID)

	onDisk, err := os.ReadFile(file.LocalPath)
	require.NoError(t, err)
	require.Equal(t, content, onDisk)
}

func TestDownloaderPrefetchedBody(t *testing.T) {
	d, root := newTestDownloader(t)
	body := []byte("cached content")
	identity := FileIdentity{Name: "cached.txt", Extension: "txt"}
	file, err := d.Download(context.Background(), "job-2", "https://unreachable.invalid/cached.txt", "", identity, nil, body)
	require.NoError(t, err)
	require.Equal(t, int64(len(body)), file.FileSizeBytes)

	onDisk, err := os.ReadFile(filepath.Join(root, "job-2", "cached.txt"))
	require.NoError(t, err)
	require.Equal(t, body, onDisk)
}

func TestDownloaderDiscardsEmptyFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, root := newTestDownloader(t)
	identity := FileIdentity{Name: "empty.sql", Extension: "sql"}
	_, err := d.Download(context.Background(), "job-3", srv.URL+"/empty.sql", "", identity, nil, nil)
	require.ErrorIs(t, err, ErrEmptyFile)

	_, statErr := os.Stat(filepath.Join(root, "job-3", "empty.sql"))
	require.True(t, os.IsNotExist(statErr))
}

func TestDownloaderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	d, _ := newTestDownloader(t)
	_, err := d.Download(context.Background(), "job-4", srv.URL+"/f.sql", "", FileIdentity{Name: "f.sql", Extension: "sql"}, nil, nil)
	require.Error(t, err)
}

func TestDownloaderStreamHonorsPoliteness(t *testing.T) {
	var mu sync.Mutex
	var hits []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		hits = append(hits, time.Now())
		mu.Unlock()
		_, _ = w.Write([]byte("SELECT 1;"))
	}))
	defer srv.Close()

	d, _ := newTestDownloader(t)
	_, err := d.WithPoliteness(NewLimiter(100*time.Millisecond, 1), nil)
	require.NoError(t, err)

	for i, name := range []string{"first.sql", "second.sql"} {
		identity := FileIdentity{Name: name, Extension: "sql"}
		_, err := d.Download(context.Background(), "job-6", srv.URL+"/"+name, "", identity, nil, nil)
		require.NoError(t, err, "download %d", i)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, hits, 2)
	require.GreaterOrEqual(t, hits[1].Sub(hits[0]), 80*time.Millisecond)
}

func TestDownloaderWithPolitenessProxies(t *testing.T) {
	d, _ := newTestDownloader(t)
	_, err := d.WithPoliteness(nil, []string{"http://proxy.example.com:8080"})
	require.NoError(t, err)
	require.NotNil(t, d.client.Transport)

	d2, _ := newTestDownloader(t)
	_, err = d2.WithPoliteness(nil, []string{"://bad"})
	require.Error(t, err)
}

func TestDownloaderFallbackFilename(t *testing.T) {
	d, _ := newTestDownloader(t)
	body := []byte("data")
	file, err := d.Download(context.Background(), "job-5", "https://example.com/", "", FileIdentity{Extension: "sql"}, nil, body)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(file.LocalPath, ".sql"))
}

func TestSanitizeFilename(t *testing.T) {
	require.Equal(t, "report.sql", SanitizeFilename("report.sql"))
	require.Equal(t, "we_ird_name_.sql", SanitizeFilename("we*ird/name?.sql"))
	require.Empty(t, SanitizeFilename("???"))
	require.Empty(t, SanitizeFilename(""))

	long := strings.Repeat("a", 200) + ".sql"
	got := SanitizeFilename(long)
	require.Len(t, got, 100)
	require.True(t, strings.HasSuffix(got, ".sql"))
}

package crawler

import (
	"context"
	"crypto/md5" //nolint:gosec // integrity checksum, not a security boundary
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/breachwatch/breachwatch/internal/metrics"
)

// ErrEmptyFile marks a download that produced zero bytes. Empty files are
// removed from disk and never persisted.
var ErrEmptyFile = errors.New("downloaded file is empty")

var invalidFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

const maxFilenameLen = 100

// Downloader streams matched resources into per-job directories, computing
// the MD5 checksum and size along the way.
type Downloader struct {
	client  *http.Client
	root    string
	ids     IDGenerator
	clock   Clock
	limiter *Limiter
	logger  *zap.Logger
}

// NewDownloader builds a Downloader rooted at root. Downloads get a longer
// timeout than page fetches since target files can be large.
func NewDownloader(root string, timeout time.Duration, ids IDGenerator, clock Clock, logger *zap.Logger) (*Downloader, error) {
	if root == "" {
		return nil, fmt.Errorf("download root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create download root: %w", err)
	}
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Downloader{
		client: &http.Client{Timeout: timeout},
		root:   root,
		ids:    ids,
		clock:  clock,
		logger: logger,
	}, nil
}

// WithPoliteness routes streamed downloads through the run's per-domain
// limiter and proxy pool, so large files honor the same delay, concurrency
// and proxy constraints as page fetches.
func (d *Downloader) WithPoliteness(limiter *Limiter, proxies []string) (*Downloader, error) {
	parsed, err := parseProxies(proxies)
	if err != nil {
		return nil, err
	}
	d.limiter = limiter
	if len(parsed) > 0 {
		d.client.Transport = &http.Transport{
			Proxy: func(*http.Request) (*url.URL, error) {
				return parsed[rand.IntN(len(parsed))], nil
			},
		}
	}
	return d, nil
}

// Download persists the resource at fileURL under <root>/<jobID>/ and returns
// its record. When prefetched is non-empty the body is written directly
// instead of re-fetching. Zero-byte results are removed and reported as
// ErrEmptyFile.
func (d *Downloader) Download(
	ctx context.Context,
	jobID, fileURL, sourceURL string,
	identity FileIdentity,
	keywords []string,
	prefetched []byte,
) (FoundFile, error) {
	dir := filepath.Join(d.root, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return FoundFile{}, fmt.Errorf("create job directory: %w", err)
	}

	name, err := d.targetFilename(identity)
	if err != nil {
		return FoundFile{}, err
	}
	localPath := filepath.Join(dir, name)

	var size int64
	var checksum string
	if len(prefetched) > 0 {
		size, checksum, err = d.writeBytes(localPath, prefetched)
	} else {
		size, checksum, err = d.streamURL(ctx, fileURL, localPath)
	}
	if err != nil {
		d.removeQuietly(localPath)
		return FoundFile{}, err
	}
	if size == 0 {
		d.removeQuietly(localPath)
		return FoundFile{}, ErrEmptyFile
	}

	id, err := d.ids.NewID()
	if err != nil {
		d.removeQuietly(localPath)
		return FoundFile{}, fmt.Errorf("generate file id: %w", err)
	}

	now := d.clock.Now()
	metrics.ObserveDownload(identity.Extension, size)
	d.logger.Info("file downloaded",
		zap.String("url", fileURL),
		zap.String("path", localPath),
		zap.Int64("size_bytes", size),
	)
	return FoundFile{
		ID:            id,
		JobID:         jobID,
		SourceURL:     sourceURL,
		FileURL:       fileURL,
		FileType:      identity.Extension,
		KeywordsFound: keywords,
		DateFound:     now,
		DownloadedAt:  now,
		LocalPath:     localPath,
		FileSizeBytes: size,
		ChecksumMD5:   checksum,
	}, nil
}

func (d *Downloader) targetFilename(identity FileIdentity) (string, error) {
	name := SanitizeFilename(identity.Name)
	if name == "" {
		id, err := d.ids.NewID()
		if err != nil {
			return "", fmt.Errorf("generate filename: %w", err)
		}
		ext := identity.Extension
		if ext == "" {
			ext = "dat"
		}
		name = strings.ReplaceAll(id, "-", "") + "." + ext
	}
	return name, nil
}

func (d *Downloader) writeBytes(localPath string, body []byte) (int64, string, error) {
	if err := os.WriteFile(localPath, body, 0o644); err != nil {
		return 0, "", fmt.Errorf("write file: %w", err)
	}
	sum := md5.Sum(body) //nolint:gosec
	return int64(len(body)), hex.EncodeToString(sum[:]), nil
}

func (d *Downloader) streamURL(ctx context.Context, fileURL, localPath string) (int64, string, error) {
	if d.limiter != nil {
		domain := DomainKey(fileURL)
		if err := d.limiter.Acquire(ctx, domain); err != nil {
			return 0, "", err
		}
		defer d.limiter.Release(domain)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return 0, "", fmt.Errorf("new download request: %w", err)
	}
	req.Header.Set("User-Agent", defaultUserAgents[0])

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("download %s: %w", fileURL, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			d.logger.Debug("failed to close download body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, "", fmt.Errorf("download %s: unexpected status %d", fileURL, resp.StatusCode)
	}

	out, err := os.Create(localPath)
	if err != nil {
		return 0, "", fmt.Errorf("create file: %w", err)
	}

	hasher := md5.New() //nolint:gosec
	size, err := io.Copy(io.MultiWriter(out, hasher), resp.Body)
	if cerr := out.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return 0, "", fmt.Errorf("stream %s: %w", fileURL, err)
	}
	return size, hex.EncodeToString(hasher.Sum(nil)), nil
}

func (d *Downloader) removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		d.logger.Debug("failed to remove partial file", zap.String("path", path), zap.Error(err))
	}
}

// SanitizeFilename restricts a name to [a-zA-Z0-9._-] and caps its length at
// 100 characters, keeping the extension when truncating. Names that collapse
// to nothing return "".
func SanitizeFilename(name string) string {
	name = invalidFilenameChars.ReplaceAllString(strings.TrimSpace(name), "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return ""
	}
	if len(name) <= maxFilenameLen {
		return name
	}
	ext := filepath.Ext(name)
	if len(ext) >= maxFilenameLen {
		return name[:maxFilenameLen]
	}
	return name[:maxFilenameLen-len(ext)] + ext
}

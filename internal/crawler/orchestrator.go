package crawler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/breachwatch/breachwatch/internal/metrics"
)

const (
	defaultWorkers            = 8
	defaultStatusPollInterval = 5 * time.Second

	// Bodies smaller than this are handed to the downloader directly
	// instead of being fetched a second time.
	prefetchedBodyLimit = 5 << 20

	// Content scanning only applies to text-like bodies up to this size.
	maxContentScanBytes = 1 << 20
)

// Deps bundles the collaborators of one crawl run.
type Deps struct {
	Fetcher            Fetcher
	Robots             RobotsPolicy
	Search             SearchDriver
	Sitemaps           *SitemapResolver
	Downloader         *Downloader
	Jobs               JobStore
	Clock              Clock
	Logger             *zap.Logger
	Workers            int
	StatusPollInterval time.Duration
}

// MasterCrawler drives one crawl run: it expands the frontier from seeds and
// search dorks through a bounded worker pool, downloads matched resources,
// streams their records to the caller and writes the terminal job status.
type MasterCrawler struct {
	jobID    string
	settings CrawlSettings
	deps     Deps

	frontier   *frontier
	visited    *concurrentVisitTracker
	pending    sync.WaitGroup
	filesFound atomic.Int64
	stopped    atomic.Bool

	logger *zap.Logger
}

// NewMasterCrawler builds a crawler for a single run of jobID.
func NewMasterCrawler(jobID string, settings CrawlSettings, deps Deps) *MasterCrawler {
	if deps.Workers <= 0 {
		deps.Workers = defaultWorkers
	}
	if deps.StatusPollInterval <= 0 {
		deps.StatusPollInterval = defaultStatusPollInterval
	}
	return &MasterCrawler{
		jobID:    jobID,
		settings: settings,
		deps:     deps,
		frontier: newFrontier(),
		visited:  newConcurrentVisitTracker(),
		logger:   deps.Logger.With(zap.String("job_id", jobID)),
	}
}

// Run starts the crawl and returns the stream of found files. The channel is
// closed once the run reaches a terminal status; the caller must drain it.
func (c *MasterCrawler) Run(ctx context.Context) <-chan FoundFile {
	results := make(chan FoundFile, 16)
	go c.run(ctx, results)
	return results
}

// Stop asks the run to halt: no new fetches start, in-flight work drains,
// and the run finishes as failed. Safe to call from any goroutine, any
// number of times.
func (c *MasterCrawler) Stop() {
	if c.stopped.CompareAndSwap(false, true) {
		c.logger.Info("stop requested")
	}
}

func (c *MasterCrawler) run(ctx context.Context, results chan<- FoundFile) {
	defer close(results)
	defer c.deps.Fetcher.Close()

	if err := c.deps.Jobs.MarkRunning(ctx, c.jobID, c.deps.Clock.Now()); err != nil {
		c.logger.Error("failed to mark job running", zap.Error(err))
		c.finish(ctx, StatusFailed)
		return
	}
	c.logger.Info("crawl started",
		zap.Int("seed_urls", len(c.settings.SeedURLs)),
		zap.Int("search_dorks", len(c.settings.SearchDorks)),
		zap.Int("crawl_depth", c.settings.CrawlDepth),
	)

	pollDone := make(chan struct{})
	go c.watchForStop(ctx, pollDone)
	defer close(pollDone)

	seeds := c.collectSeeds(ctx)
	if len(seeds) == 0 {
		c.logger.Warn("no valid seed URLs; nothing to crawl")
		c.finish(ctx, c.terminalStatus())
		return
	}
	for _, seed := range seeds {
		c.enqueue(FrontierEntry{URL: seed, Depth: 0})
	}

	var workers sync.WaitGroup
	for i := 0; i < c.deps.Workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			c.worker(ctx, results)
		}()
	}

	// Once every enqueued entry has been processed the frontier can close,
	// which releases the workers.
	go func() {
		c.pending.Wait()
		c.frontier.close()
	}()
	workers.Wait()

	c.finish(ctx, c.terminalStatus())
}

func (c *MasterCrawler) terminalStatus() JobStatus {
	switch {
	case c.stopped.Load():
		return StatusFailed
	case c.filesFound.Load() > 0:
		return StatusCompleted
	default:
		return StatusCompletedEmpty
	}
}

func (c *MasterCrawler) finish(ctx context.Context, status JobStatus) {
	applied, err := c.deps.Jobs.FinishJob(ctx, c.jobID, status)
	if err != nil {
		c.logger.Error("failed to write terminal status",
			zap.String("status", string(status)), zap.Error(err))
		return
	}
	if !applied && status != StatusFailed {
		// A stop request can land between the last stopped-flag check and
		// the terminal write. The store rejects the completed write then,
		// but a stopping job still needs its failed status.
		current, serr := c.deps.Jobs.GetJobStatus(ctx, c.jobID)
		if serr == nil && current == StatusStopping {
			status = StatusFailed
			applied, err = c.deps.Jobs.FinishJob(ctx, c.jobID, status)
			if err != nil {
				c.logger.Error("failed to write terminal status",
					zap.String("status", string(status)), zap.Error(err))
				return
			}
		}
	}
	metrics.ObserveJob(string(status))
	c.logger.Info("crawl finished",
		zap.String("status", string(status)),
		zap.Bool("status_written", applied),
		zap.Int64("files_found", c.filesFound.Load()),
	)
}

// watchForStop reacts to context cancellation and to external status flips
// (the stop endpoint writes "stopping" to the store).
func (c *MasterCrawler) watchForStop(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(c.deps.StatusPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			c.Stop()
			return
		case <-ticker.C:
			status, err := c.deps.Jobs.GetJobStatus(ctx, c.jobID)
			if err != nil {
				c.logger.Debug("status poll failed", zap.Error(err))
				continue
			}
			if status == StatusStopping {
				c.Stop()
				return
			}
		}
	}
}

// collectSeeds normalizes seed URLs and expands search dorks, deduplicating
// across both sources. Dork failures are logged and skipped.
func (c *MasterCrawler) collectSeeds(ctx context.Context) []string {
	var (
		mu    sync.Mutex
		seeds []string
	)
	seen := make(map[string]struct{})
	add := func(raw string) {
		norm, key, err := NormalizeURL(raw)
		if err != nil {
			c.logger.Debug("dropping invalid seed", zap.String("url", raw), zap.Error(err))
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		seeds = append(seeds, norm)
	}

	for _, seed := range c.settings.SeedURLs {
		add(seed)
	}

	if c.settings.UseSearchEngines && c.deps.Search != nil && !c.stopped.Load() {
		var wg sync.WaitGroup
		for _, dork := range c.settings.SearchDorks {
			wg.Add(1)
			go func(dork string) {
				defer wg.Done()
				urls, err := c.deps.Search.Search(ctx, dork, c.settings.MaxResultsPerDork)
				if err != nil {
					metrics.ObserveSearchDork("error")
					c.logger.Warn("search dork failed", zap.String("dork", dork), zap.Error(err))
					return
				}
				metrics.ObserveSearchDork("ok")
				for _, u := range urls {
					add(u)
				}
			}(dork)
		}
		wg.Wait()
	}
	return seeds
}

func (c *MasterCrawler) enqueue(e FrontierEntry) {
	c.pending.Add(1)
	c.frontier.push(e)
}

func (c *MasterCrawler) worker(ctx context.Context, results chan<- FoundFile) {
	for {
		entry, ok := c.frontier.pop()
		if !ok {
			return
		}
		metrics.IncActiveWorkers()
		c.process(ctx, entry, results)
		metrics.DecActiveWorkers()
		c.pending.Done()
	}
}

func (c *MasterCrawler) process(ctx context.Context, entry FrontierEntry, results chan<- FoundFile) {
	if c.stopped.Load() {
		return
	}
	norm, key, err := NormalizeURL(entry.URL)
	if err != nil {
		c.logger.Debug("dropping invalid URL", zap.String("url", entry.URL), zap.Error(err))
		return
	}
	if entry.Depth > c.settings.CrawlDepth {
		return
	}
	if !c.visited.MarkIfNew(key) {
		return
	}
	if !c.deps.Robots.Allowed(ctx, norm) {
		c.logger.Debug("blocked by robots.txt", zap.String("url", norm))
		return
	}

	res, err := c.deps.Fetcher.Fetch(ctx, norm, entry.Referrer)
	if err != nil {
		// Already classified and logged by the fetcher.
		return
	}

	c.inspectResource(ctx, norm, entry, res, results)

	if strings.Contains(strings.ToLower(res.ContentType), "text/html") && !c.stopped.Load() {
		c.expandPage(ctx, norm, entry, res)
	}
}

// inspectResource decides whether the fetched resource is a target file and,
// if so, downloads it and emits its record.
func (c *MasterCrawler) inspectResource(
	ctx context.Context,
	norm string,
	entry FrontierEntry,
	res FetchResult,
	results chan<- FoundFile,
) {
	identity := IdentifyResource(norm, res.ContentType, bodyPrefix(res.Body))
	if !identity.MatchesExtension(c.settings.FileExtensions) {
		return
	}

	matched := MatchKeywords(identity.Name, c.settings.Keywords)
	if len(matched) == 0 && c.settings.ScanContent &&
		isTextLike(identity.MIMEType) && len(res.Body) <= maxContentScanBytes {
		matched = MatchKeywords(string(res.Body), c.settings.Keywords)
	}
	if len(matched) == 0 || c.stopped.Load() {
		return
	}

	source := entry.Referrer
	if source == "" {
		source = norm
	}
	var prefetched []byte
	if n := len(res.Body); n > 0 && n <= prefetchedBodyLimit {
		prefetched = res.Body
	}

	file, err := c.deps.Downloader.Download(ctx, c.jobID, norm, source, identity, matched, prefetched)
	switch {
	case errors.Is(err, ErrEmptyFile):
		c.logger.Debug("discarding empty download", zap.String("url", norm))
	case err != nil:
		c.logger.Warn("download failed", zap.String("url", norm), zap.Error(err))
	default:
		c.filesFound.Add(1)
		results <- file
	}
}

// expandPage enqueues sitemap-discovered URLs and, depth permitting, the
// page's outgoing links. Both enter the frontier one level deeper.
func (c *MasterCrawler) expandPage(ctx context.Context, norm string, entry FrontierEntry, res FetchResult) {
	if c.deps.Sitemaps != nil {
		for _, sitemapURL := range FindSitemapReferences(res.Body, norm) {
			for _, discovered := range c.deps.Sitemaps.Resolve(ctx, sitemapURL) {
				c.enqueue(FrontierEntry{URL: discovered, Depth: entry.Depth + 1, Referrer: norm})
			}
		}
	}

	if entry.Depth >= c.settings.CrawlDepth {
		return
	}
	links, err := ExtractLinks(res.Body, norm)
	if err != nil {
		c.logger.Debug("link extraction failed", zap.String("url", norm), zap.Error(err))
		return
	}
	for _, link := range links {
		c.enqueue(FrontierEntry{URL: link, Depth: entry.Depth + 1, Referrer: norm})
	}
}

func bodyPrefix(body []byte) []byte {
	const sniffLen = 512
	if len(body) > sniffLen {
		return body[:sniffLen]
	}
	return body
}

func isTextLike(mimeType string) bool {
	return strings.HasPrefix(mimeType, "text/") ||
		strings.Contains(mimeType, "json") ||
		strings.Contains(mimeType, "xml") ||
		strings.Contains(mimeType, "javascript")
}

package crawler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/breachwatch/breachwatch/internal/metrics"
)

// defaultUserAgents is the rotation pool used when a job does not pin a
// custom user agent.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:126.0) Gecko/20100101 Firefox/126.0",
}

// CollyFetcher fetches pages through a Colly collector cloned per request,
// rotating user agents and proxies and holding a politeness slot for the
// duration of each fetch.
type CollyFetcher struct {
	base      *colly.Collector
	transport *http.Transport
	limiter   *Limiter
	userAgent string
	proxies   []*url.URL
	logger    *zap.Logger
}

// FetcherOptions tunes the transport shared by all fetches of one run.
type FetcherOptions struct {
	Timeout      time.Duration
	MaxBodyBytes int
}

// NewCollyFetcher constructs a Fetcher for one crawl run.
func NewCollyFetcher(settings CrawlSettings, limiter *Limiter, opts FetcherOptions, logger *zap.Logger) (*CollyFetcher, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 << 20
	}

	proxies, err := parseProxies(settings.Proxies)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		MaxIdleConns:          128,
		MaxIdleConnsPerHost:   32,
		MaxConnsPerHost:       settings.MaxConcurrentPerDomain * 2,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: opts.Timeout,
		ForceAttemptHTTP2:     true,
	}

	base := colly.NewCollector(
		colly.Async(true),
		colly.IgnoreRobotsTxt(),
		colly.MaxBodySize(opts.MaxBodyBytes),
	)
	// The orchestrator keeps its own visited set keyed on normalized URLs.
	base.AllowURLRevisit = true
	base.WithTransport(transport)
	base.SetRequestTimeout(opts.Timeout)

	return &CollyFetcher{
		base:      base,
		transport: transport,
		limiter:   limiter,
		userAgent: settings.CustomUserAgent,
		proxies:   proxies,
		logger:    logger,
	}, nil
}

// Fetch retrieves a page. The politeness slot for the URL's domain is held
// until the response (or error) arrives.
func (f *CollyFetcher) Fetch(ctx context.Context, rawURL, referrer string) (FetchResult, error) {
	domain := DomainKey(rawURL)
	if err := f.limiter.Acquire(ctx, domain); err != nil {
		return FetchResult{}, err
	}
	defer f.limiter.Release(domain)

	collector := f.base.Clone()
	if len(f.proxies) > 0 {
		collector.SetProxyFunc(f.pickProxy)
	}

	resultCh := make(chan collyResult, 1)
	var once sync.Once
	send := func(res collyResult) {
		once.Do(func() {
			resultCh <- res
		})
	}

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", f.pickUserAgent())
		if referrer != "" {
			r.Headers.Set("Referer", referrer)
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		res := FetchResult{
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte{}, r.Body...),
		}
		if r.Headers != nil {
			res.ContentType = r.Headers.Get("Content-Type")
		}
		send(collyResult{result: res})
	})

	collector.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		send(collyResult{status: status, err: err})
	})

	if err := collector.Visit(rawURL); err != nil {
		return FetchResult{}, fmt.Errorf("visit %s: %w", rawURL, err)
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return FetchResult{}, err
		}
		if res.err != nil {
			f.logFailure(rawURL, res.status, res.err)
			metrics.ObserveCrawl(rawURL, strconv.Itoa(res.status), 0)
			return FetchResult{}, fmt.Errorf("fetch %s: %w", rawURL, res.err)
		}
		metrics.ObserveCrawl(rawURL, strconv.Itoa(res.result.StatusCode), len(res.result.Body))
		return res.result, nil
	default:
		return FetchResult{}, errors.New("colly fetch produced no result")
	}
}

// Close releases idle transport connections.
func (f *CollyFetcher) Close() {
	if f.transport != nil {
		f.transport.CloseIdleConnections()
	}
}

func (f *CollyFetcher) pickUserAgent() string {
	if f.userAgent != "" {
		return f.userAgent
	}
	return defaultUserAgents[rand.IntN(len(defaultUserAgents))]
}

func (f *CollyFetcher) pickProxy(*http.Request) (*url.URL, error) {
	return f.proxies[rand.IntN(len(f.proxies))], nil
}

func (f *CollyFetcher) logFailure(rawURL string, status int, err error) {
	fields := []zap.Field{
		zap.String("url", rawURL),
		zap.Int("status", status),
		zap.Error(err),
	}
	switch status {
	case http.StatusNotFound, http.StatusGone:
		f.logger.Debug("resource missing", fields...)
	case http.StatusUnauthorized, http.StatusForbidden:
		f.logger.Warn("access denied", fields...)
	case http.StatusTooManyRequests:
		f.logger.Warn("rate limited by server; consider a longer request delay", fields...)
	default:
		f.logger.Debug("fetch failed", fields...)
	}
}

type collyResult struct {
	result FetchResult
	status int
	err    error
}

func parseProxies(raw []string) ([]*url.URL, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]*url.URL, 0, len(raw))
	for _, p := range raw {
		u, err := url.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("parse proxy %q: %w", p, err)
		}
		out = append(out, u)
	}
	return out, nil
}

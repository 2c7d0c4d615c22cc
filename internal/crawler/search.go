package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

const defaultSearchEndpoint = "https://html.duckduckgo.com/html/"

// DuckDuckGoDriver expands search dorks through the DuckDuckGo HTML
// endpoint. It uses its own HTTP client so that search traffic does not
// compete with crawl politeness limits.
type DuckDuckGoDriver struct {
	client   *http.Client
	endpoint string
	logger   *zap.Logger
}

// NewDuckDuckGoDriver builds a SearchDriver with the given request timeout.
func NewDuckDuckGoDriver(timeout time.Duration, logger *zap.Logger) *DuckDuckGoDriver {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &DuckDuckGoDriver{
		client:   &http.Client{Timeout: timeout},
		endpoint: defaultSearchEndpoint,
		logger:   logger,
	}
}

// WithEndpoint overrides the search endpoint (used in tests).
func (d *DuckDuckGoDriver) WithEndpoint(endpoint string) *DuckDuckGoDriver {
	d.endpoint = endpoint
	return d
}

// Search runs one dork and returns up to maxResults result URLs, with
// redirect-wrapped links unwrapped and search-engine hosts skipped.
func (d *DuckDuckGoDriver) Search(ctx context.Context, query string, maxResults int) ([]string, error) {
	searchURL := d.endpoint + "?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new search request: %w", err)
	}
	req.Header.Set("User-Agent", defaultUserAgents[0])

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			d.logger.Debug("failed to close search response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search %q: unexpected status %d", query, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse search results: %w", err)
	}

	var results []string
	seen := make(map[string]struct{})
	doc.Find("a.result__a").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, ok := sel.Attr("href")
		if !ok {
			return true
		}
		target := unwrapRedirect(href)
		if target == "" || isSearchEngineHost(target) {
			return true
		}
		if _, dup := seen[target]; dup {
			return true
		}
		seen[target] = struct{}{}
		results = append(results, target)
		return len(results) < maxResults
	})

	d.logger.Debug("search dork expanded",
		zap.String("query", query), zap.Int("results", len(results)))
	return results, nil
}

// unwrapRedirect extracts the destination from DuckDuckGo's /l/?uddg=...
// redirect links. Direct links pass through unchanged.
func unwrapRedirect(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "http" || u.Scheme == "https" {
		return href
	}
	return ""
}

func isSearchEngineHost(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "duckduckgo.com" || strings.HasSuffix(host, ".duckduckgo.com")
}

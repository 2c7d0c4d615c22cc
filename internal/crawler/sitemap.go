package crawler

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// FindSitemapReferences collects sitemap URLs referenced by an HTML page:
// link[rel=sitemap] elements plus anchors whose target looks like a sitemap
// file. When the page references none, the conventional root-level locations
// for the page's host are returned as guesses.
func FindSitemapReferences(html []byte, pageURL string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	var refs []string
	seen := make(map[string]struct{})
	add := func(href string) {
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		link := abs.String()
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		refs = append(refs, link)
	}

	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html)); err == nil {
		doc.Find(`link[rel="sitemap"]`).Each(func(_ int, sel *goquery.Selection) {
			if href, ok := sel.Attr("href"); ok {
				add(href)
			}
		})
		doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
			href, _ := sel.Attr("href")
			if looksLikeSitemap(href) {
				add(href)
			}
		})
	}

	if len(refs) == 0 {
		for _, p := range []string{"/sitemap.xml", "/sitemap_index.xml", "/sitemap.txt"} {
			add(p)
		}
	}
	return refs
}

func looksLikeSitemap(href string) bool {
	lower := strings.ToLower(href)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	return strings.HasSuffix(lower, "sitemap.xml") ||
		strings.HasSuffix(lower, "sitemap_index.xml") ||
		strings.HasSuffix(lower, "sitemap.txt") ||
		strings.HasSuffix(lower, "sitemap.xml.gz")
}

// sitemapKind is the closed set of sitemap document shapes the resolver
// understands. The kind is decided once per document, right after fetch.
type sitemapKind int

const (
	sitemapUnknown sitemapKind = iota
	sitemapPlainText
	sitemapIndex
	sitemapURLSet
)

// SitemapResolver fetches sitemap documents and expands them into page URLs.
// Each sitemap URL is fetched at most once per run.
type SitemapResolver struct {
	fetcher Fetcher
	logger  *zap.Logger
	seen    *concurrentVisitTracker
}

// NewSitemapResolver builds a resolver bound to the run's fetcher.
func NewSitemapResolver(fetcher Fetcher, logger *zap.Logger) *SitemapResolver {
	return &SitemapResolver{
		fetcher: fetcher,
		logger:  logger,
		seen:    newConcurrentVisitTracker(),
	}
}

// Resolve expands a sitemap URL into the page URLs it lists. Index sitemaps
// recurse into their children concurrently. Failures are logged and yield an
// empty result.
func (r *SitemapResolver) Resolve(ctx context.Context, sitemapURL string) []string {
	if !r.seen.MarkIfNew(sitemapURL) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return nil
	}

	res, err := r.fetcher.Fetch(ctx, sitemapURL, "")
	if err != nil {
		r.logger.Debug("sitemap fetch failed", zap.String("url", sitemapURL), zap.Error(err))
		return nil
	}

	body, err := maybeGunzip(res.Body, sitemapURL, res.ContentType)
	if err != nil {
		r.logger.Debug("sitemap gunzip failed", zap.String("url", sitemapURL), zap.Error(err))
		return nil
	}

	switch detectSitemapKind(body, res.ContentType, sitemapURL) {
	case sitemapPlainText:
		return parsePlainSitemap(body)
	case sitemapURLSet:
		return r.parseURLSet(body, sitemapURL)
	case sitemapIndex:
		return r.resolveIndex(ctx, body, sitemapURL)
	case sitemapUnknown:
		r.logger.Debug("unrecognized sitemap format", zap.String("url", sitemapURL))
		return nil
	default:
		return nil
	}
}

func (r *SitemapResolver) parseURLSet(body []byte, sitemapURL string) []string {
	var set struct {
		URLs []struct {
			Loc string `xml:"loc"`
		} `xml:"url"`
	}
	if err := xml.Unmarshal(body, &set); err != nil {
		r.logger.Debug("sitemap urlset parse failed", zap.String("url", sitemapURL), zap.Error(err))
		return nil
	}
	urls := make([]string, 0, len(set.URLs))
	for _, u := range set.URLs {
		loc := strings.TrimSpace(u.Loc)
		if loc == "" {
			continue
		}
		if decoded, err := url.QueryUnescape(loc); err == nil {
			loc = decoded
		}
		urls = append(urls, loc)
	}
	return urls
}

func (r *SitemapResolver) resolveIndex(ctx context.Context, body []byte, sitemapURL string) []string {
	var index struct {
		Sitemaps []struct {
			Loc string `xml:"loc"`
		} `xml:"sitemap"`
	}
	if err := xml.Unmarshal(body, &index); err != nil {
		r.logger.Debug("sitemap index parse failed", zap.String("url", sitemapURL), zap.Error(err))
		return nil
	}

	var (
		mu   sync.Mutex
		urls []string
		wg   sync.WaitGroup
	)
	for _, child := range index.Sitemaps {
		loc := strings.TrimSpace(child.Loc)
		if loc == "" {
			continue
		}
		wg.Add(1)
		go func(loc string) {
			defer wg.Done()
			found := r.Resolve(ctx, loc)
			mu.Lock()
			urls = append(urls, found...)
			mu.Unlock()
		}(loc)
	}
	wg.Wait()
	return urls
}

func detectSitemapKind(body []byte, contentType, sitemapURL string) sitemapKind {
	if root, ok := xmlRootName(body); ok {
		switch root {
		case "sitemapindex":
			return sitemapIndex
		case "urlset":
			return sitemapURLSet
		default:
			return sitemapUnknown
		}
	}
	if strings.Contains(strings.ToLower(contentType), "text/plain") ||
		strings.HasSuffix(strings.ToLower(trimURLQuery(sitemapURL)), ".txt") ||
		bytes.HasPrefix(bytes.TrimSpace(body), []byte("http")) {
		return sitemapPlainText
	}
	return sitemapUnknown
}

func xmlRootName(body []byte) (string, bool) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", false
		}
		if start, ok := tok.(xml.StartElement); ok {
			return strings.ToLower(start.Name.Local), true
		}
	}
}

func parsePlainSitemap(body []byte) []string {
	var urls []string
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
			urls = append(urls, line)
		}
	}
	return urls
}

func maybeGunzip(body []byte, sitemapURL, contentType string) ([]byte, error) {
	gzipped := strings.Contains(strings.ToLower(contentType), "gzip") ||
		strings.HasSuffix(strings.ToLower(trimURLQuery(sitemapURL)), ".gz") ||
		(len(body) > 2 && body[0] == 0x1f && body[1] == 0x8b)
	if !gzipped {
		return body, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer zr.Close() //nolint:errcheck
	out, err := io.ReadAll(io.LimitReader(zr, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("gunzip: %w", err)
	}
	return out, nil
}

func trimURLQuery(rawURL string) string {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

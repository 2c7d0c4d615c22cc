package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

const robotsMaxBody = 1 << 20

// RobotsGate enforces robots.txt directives, caching one policy per
// scheme://host. A 404 caches as allow-all; other fetch failures allow the
// URL but leave the cache empty so the next query retries.
type RobotsGate struct {
	client    *http.Client
	cache     sync.Map
	userAgent string
	logger    *zap.Logger
}

// NewRobotsGate builds a RobotsPolicy honoring the job's respect toggle.
func NewRobotsGate(respect bool, userAgent string, logger *zap.Logger) RobotsPolicy {
	if !respect {
		return &allowAllPolicy{}
	}
	return &RobotsGate{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		userAgent: userAgent,
		logger:    logger,
	}
}

// Allowed implements RobotsPolicy.
func (r *RobotsGate) Allowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	key := strings.ToLower(parsed.Scheme + "://" + parsed.Host)
	if cached, ok := r.cache.Load(key); ok {
		data, assertOK := cached.(*robotstxt.RobotsData)
		if !assertOK {
			return true
		}
		return r.test(data, parsed)
	}

	data, cacheable, err := r.fetch(ctx, parsed)
	if err != nil {
		r.logger.Warn("robots fetch failed; allowing access",
			zap.String("host", parsed.Host), zap.Error(err))
		return true
	}
	if cacheable {
		r.cache.Store(key, data)
	}
	return r.test(data, parsed)
}

func (r *RobotsGate) test(data *robotstxt.RobotsData, u *url.URL) bool {
	group := data.FindGroup(r.userAgent)
	if group == nil {
		return true
	}
	p := u.Path
	if p == "" {
		p = "/"
	}
	return group.Test(p)
}

func (r *RobotsGate) fetch(ctx context.Context, parsed *url.URL) (data *robotstxt.RobotsData, cacheable bool, err error) {
	robotsURL := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, false, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, robotsMaxBody))
		if err != nil {
			return nil, false, fmt.Errorf("read robots body: %w", err)
		}
		data, err := robotstxt.FromBytes(body)
		if err != nil {
			return nil, false, fmt.Errorf("parse robots: %w", err)
		}
		return data, true, nil
	case resp.StatusCode == http.StatusNotFound:
		// No robots.txt: everything is allowed, and that is worth remembering.
		data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, nil)
		if err != nil {
			return nil, false, fmt.Errorf("parse robots: %w", err)
		}
		return data, true, nil
	default:
		r.logger.Debug("unexpected robots status; allowing without caching",
			zap.String("host", parsed.Host), zap.Int("status", resp.StatusCode))
		data, err := robotstxt.FromStatusAndBytes(http.StatusNotFound, nil)
		if err != nil {
			return nil, false, fmt.Errorf("parse robots: %w", err)
		}
		return data, false, nil
	}
}

type allowAllPolicy struct{}

func (a *allowAllPolicy) Allowed(context.Context, string) bool { return true }

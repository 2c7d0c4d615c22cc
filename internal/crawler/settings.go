package crawler

import (
	"fmt"
	"strings"
	"time"
)

// Settings bounds.
const (
	MaxCrawlDepth         = 10
	MaxRequestDelay       = 30 * time.Second
	MaxConcurrentPerHost  = 10
	MaxResultsPerDorkCap  = 100
	defaultCrawlDepth     = 2
	defaultRequestDelay   = time.Second
	defaultMaxConcurrent  = 2
	defaultResultsPerDork = 20
)

// CrawlSettings holds the per-job crawl parameters.
type CrawlSettings struct {
	Keywords               []string      `json:"keywords" mapstructure:"keywords"`
	FileExtensions         []string      `json:"file_extensions" mapstructure:"file_extensions"`
	SeedURLs               []string      `json:"seed_urls" mapstructure:"seed_urls"`
	SearchDorks            []string      `json:"search_dorks" mapstructure:"search_dorks"`
	CrawlDepth             int           `json:"crawl_depth" mapstructure:"crawl_depth"`
	RespectRobotsTxt       bool          `json:"respect_robots_txt" mapstructure:"respect_robots_txt"`
	RequestDelaySeconds    float64       `json:"request_delay_seconds" mapstructure:"request_delay_seconds"`
	MaxConcurrentPerDomain int           `json:"max_concurrent_requests_per_domain" mapstructure:"max_concurrent_requests_per_domain"`
	UseSearchEngines       bool          `json:"use_search_engines" mapstructure:"use_search_engines"`
	MaxResultsPerDork      int           `json:"max_results_per_dork" mapstructure:"max_results_per_dork"`
	CustomUserAgent        string        `json:"custom_user_agent,omitempty" mapstructure:"custom_user_agent"`
	Proxies                []string      `json:"proxies,omitempty" mapstructure:"proxies"`
	ScanContent            bool          `json:"scan_content" mapstructure:"scan_content"`
	Schedule               *ScheduleSpec `json:"schedule,omitempty" mapstructure:"schedule"`
}

// DefaultSettings returns settings with conservative crawl parameters.
// Keywords, extensions and seeds still have to be supplied by the caller.
func DefaultSettings() CrawlSettings {
	return CrawlSettings{
		CrawlDepth:             defaultCrawlDepth,
		RespectRobotsTxt:       true,
		RequestDelaySeconds:    defaultRequestDelay.Seconds(),
		MaxConcurrentPerDomain: defaultMaxConcurrent,
		MaxResultsPerDork:      defaultResultsPerDork,
	}
}

// Delay converts the configured per-domain delay into a duration.
func (s CrawlSettings) Delay() time.Duration {
	return time.Duration(s.RequestDelaySeconds * float64(time.Second))
}

// Normalize trims and lowercases extensions and drops blank list entries.
func (s *CrawlSettings) Normalize() {
	s.Keywords = compactStrings(s.Keywords)
	s.SeedURLs = compactStrings(s.SeedURLs)
	s.SearchDorks = compactStrings(s.SearchDorks)
	exts := make([]string, 0, len(s.FileExtensions))
	for _, e := range s.FileExtensions {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" {
			exts = append(exts, e)
		}
	}
	s.FileExtensions = exts
	if s.MaxConcurrentPerDomain == 0 {
		s.MaxConcurrentPerDomain = defaultMaxConcurrent
	}
	if s.MaxResultsPerDork == 0 {
		s.MaxResultsPerDork = defaultResultsPerDork
	}
}

// Validate enforces the documented parameter ranges.
func (s CrawlSettings) Validate() error {
	if len(s.Keywords) == 0 {
		return fmt.Errorf("settings: at least one keyword is required")
	}
	if len(s.FileExtensions) == 0 {
		return fmt.Errorf("settings: at least one file extension is required")
	}
	if len(s.SeedURLs) == 0 && !(s.UseSearchEngines && len(s.SearchDorks) > 0) {
		return fmt.Errorf("settings: seed URLs or search dorks are required")
	}
	if s.CrawlDepth < 0 || s.CrawlDepth > MaxCrawlDepth {
		return fmt.Errorf("settings: crawl_depth must be between 0 and %d", MaxCrawlDepth)
	}
	if s.RequestDelaySeconds < 0 || s.Delay() > MaxRequestDelay {
		return fmt.Errorf("settings: request_delay_seconds must be between 0 and %s", MaxRequestDelay)
	}
	if s.MaxConcurrentPerDomain < 1 || s.MaxConcurrentPerDomain > MaxConcurrentPerHost {
		return fmt.Errorf("settings: max_concurrent_requests_per_domain must be between 1 and %d", MaxConcurrentPerHost)
	}
	if s.MaxResultsPerDork < 1 || s.MaxResultsPerDork > MaxResultsPerDorkCap {
		return fmt.Errorf("settings: max_results_per_dork must be between 1 and %d", MaxResultsPerDorkCap)
	}
	if s.Schedule != nil {
		switch s.Schedule.Type {
		case ScheduleOneShot:
			if s.Schedule.RunAt == nil {
				return fmt.Errorf("settings: one_shot schedule requires run_at")
			}
		case ScheduleCron:
			if s.Schedule.CronExpression == "" {
				return fmt.Errorf("settings: cron schedule requires cron_expression")
			}
		default:
			return fmt.Errorf("settings: unknown schedule type %q", s.Schedule.Type)
		}
	}
	return nil
}

func compactStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/breachwatch/breachwatch/internal/metrics"
)

// Limiter enforces per-domain politeness: at most maxConcurrent in-flight
// requests per domain, and at least delay between consecutive request starts
// on the same domain. Limits for different domains are independent. A
// Limiter belongs to a single run; state is not shared across jobs.
type Limiter struct {
	mu            sync.Mutex
	delay         time.Duration
	maxConcurrent int
	domains       map[string]*domainLimiter
}

type domainLimiter struct {
	slots chan struct{}
	pacer *rate.Limiter
}

// NewLimiter builds a Limiter. A non-positive maxConcurrent falls back to 1;
// a non-positive delay disables pacing.
func NewLimiter(delay time.Duration, maxConcurrent int) *Limiter {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Limiter{
		delay:         delay,
		maxConcurrent: maxConcurrent,
		domains:       make(map[string]*domainLimiter),
	}
}

// Acquire blocks until a slot for the domain is free and the inter-request
// delay has elapsed, or the context is done.
func (l *Limiter) Acquire(ctx context.Context, domain string) error {
	d := l.forDomain(domain)
	select {
	case d.slots <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("politeness acquire: %w", ctx.Err())
	}
	start := time.Now()
	if err := d.pacer.Wait(ctx); err != nil {
		<-d.slots
		return fmt.Errorf("politeness wait: %w", err)
	}
	if waited := time.Since(start); waited > 0 {
		metrics.ObserveRateLimitDelay(domain, waited)
	}
	return nil
}

// Release frees the domain slot taken by a prior Acquire.
func (l *Limiter) Release(domain string) {
	d := l.forDomain(domain)
	select {
	case <-d.slots:
	default:
	}
}

func (l *Limiter) forDomain(domain string) *domainLimiter {
	if domain == "" {
		domain = "unknown"
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.domains[domain]
	if !ok {
		limit := rate.Inf
		if l.delay > 0 {
			limit = rate.Every(l.delay)
		}
		d = &domainLimiter{
			slots: make(chan struct{}, l.maxConcurrent),
			pacer: rate.NewLimiter(limit, 1),
		}
		l.domains[domain] = d
	}
	return d
}

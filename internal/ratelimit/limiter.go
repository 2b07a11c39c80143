// Package ratelimit paces outbound requests with one token bucket per host.
package ratelimit

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter hands out per-host token buckets. A nil *Limiter never blocks.
type Limiter struct {
	mu    sync.Mutex
	hosts map[string]*rate.Limiter
	limit rate.Limit
}

// NewIntervalLimiter allows one request per interval per host. A
// non-positive interval means unlimited.
func NewIntervalLimiter(interval time.Duration) *Limiter {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Limiter{hosts: make(map[string]*rate.Limiter), limit: limit}
}

// Wait takes a token for rawURL's host, sleeping until the bucket allows it
// or ctx is done. A cancelled wait gives the token back.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	if l == nil {
		return ctx.Err()
	}
	b, err := l.bucketFor(rawURL)
	if err != nil {
		return err
	}

	r := b.ReserveN(Now(), 1)
	d := r.DelayFrom(Now())
	if d <= 0 {
		return ctx.Err()
	}
	if err := Sleep(ctx, d); err != nil {
		r.Cancel()
		return err
	}
	return nil
}

// SetHostInterval replaces host's bucket with one request per interval.
// The scraper uses it for a robots.txt crawl-delay.
func (l *Limiter) SetHostInterval(host string, interval time.Duration) {
	l.mu.Lock()
	l.hosts[host] = rate.NewLimiter(rate.Every(interval), 1)
	l.mu.Unlock()
}

func (l *Limiter) bucketFor(rawURL string) (*rate.Limiter, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.hosts[u.Host]
	if !ok {
		b = rate.NewLimiter(l.limit, 1)
		l.hosts[u.Host] = b
	}
	return b, nil
}

// Now and Sleep are the limiter's clock. Tests replace them.
var (
	Now = time.Now

	Sleep = func(ctx context.Context, d time.Duration) error {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	}
)

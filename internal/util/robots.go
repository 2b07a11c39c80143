package util

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// ErrDisallowed is returned when robots.txt forbids fetching a URL
var ErrDisallowed = errors.New("disallowed by robots.txt")

// RobotsChecker answers robots.txt questions for the review endpoint.
// Parsed files are kept per host for the life of the checker.
type RobotsChecker struct {
	mu         sync.Mutex
	hosts      map[string]*robotstxt.Group
	httpClient *http.Client
	userAgent  string
	agent      string
}

// NewRobotsChecker creates a checker that identifies as userAgent
func NewRobotsChecker(userAgent string, httpClient *http.Client) *RobotsChecker {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &RobotsChecker{
		hosts:      make(map[string]*robotstxt.Group),
		httpClient: httpClient,
		userAgent:  userAgent,
		agent:      productToken(userAgent),
	}
}

// Check returns ErrDisallowed if rawURL may not be fetched, and the crawl
// delay robots.txt asks for. An unreachable robots.txt allows everything.
func (r *RobotsChecker) Check(ctx context.Context, rawURL string) (time.Duration, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, fmt.Errorf("parse URL: %w", err)
	}

	group, err := r.group(ctx, u)
	if err != nil {
		return 0, nil
	}
	if !group.Test(u.EscapedPath()) {
		return group.CrawlDelay, fmt.Errorf("%w: %s", ErrDisallowed, rawURL)
	}
	return group.CrawlDelay, nil
}

func (r *RobotsChecker) group(ctx context.Context, u *url.URL) (*robotstxt.Group, error) {
	r.mu.Lock()
	g, ok := r.hosts[u.Host]
	r.mu.Unlock()
	if ok {
		return g, nil
	}

	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// FromResponse maps 4xx to allow-all and 5xx to disallow-all
	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	g = data.FindGroup(r.agent)

	r.mu.Lock()
	r.hosts[u.Host] = g
	r.mu.Unlock()
	return g, nil
}

// productToken reduces "SentiScan/0.1 (+url)" to "SentiScan" for group matching
func productToken(ua string) string {
	fields := strings.Fields(ua)
	if len(fields) == 0 {
		return ua
	}
	return strings.SplitN(fields[0], "/", 2)[0]
}

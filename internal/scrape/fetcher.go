// Package scrape pages through the review source newest first and collects
// the reviews newer than the current cutoff.
package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/LuisMada/SentiScan/internal/metrics"
	"github.com/LuisMada/SentiScan/internal/model"
	"github.com/LuisMada/SentiScan/internal/ratelimit"
	"github.com/LuisMada/SentiScan/internal/resilience"
	"github.com/LuisMada/SentiScan/internal/source"
)

// StopReason says why pagination ended
type StopReason string

const (
	StopNoReviews StopReason = "no_reviews" // first page was empty
	StopEmpty     StopReason = "empty_page" // a later page came back empty
	StopCutoff    StopReason = "cutoff"     // reached a review at or before the cutoff
	StopExhausted StopReason = "exhausted"  // no continuation token
	StopMaxPages  StopReason = "max_pages"  // page budget spent
)

// Options are the per-app fetch parameters
type Options struct {
	AppID     string
	Country   string
	Language  string
	BatchSize int
	MaxPages  int // 0 means unbounded
	// PageDelay is the minimum spacing between page requests
	PageDelay time.Duration
	// Endpoint keys the per-host limiter
	Endpoint string
}

// Result is what one fetch accepted
type Result struct {
	Reviews []model.Review
	// Newest is the largest accepted timestamp, the next watermark candidate
	Newest time.Time
	Pages  int
	Reason StopReason
}

// Fetcher implements the incremental pagination protocol over a ReviewSource
type Fetcher struct {
	source  source.ReviewSource
	opts    Options
	exec    *resilience.Executor
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// NewFetcher creates a fetcher. exec and rec may be nil.
func NewFetcher(src source.ReviewSource, opts Options, exec *resilience.Executor, logger *slog.Logger, rec *metrics.Recorder) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 400
	}
	return &Fetcher{
		source:  src,
		opts:    opts,
		exec:    exec,
		limiter: ratelimit.NewIntervalLimiter(opts.PageDelay),
		logger:  logger,
		metrics: rec,
	}
}

// Fetch collects every review inside w, newest first. A page failure that
// survives the retry policy aborts the fetch and nothing is returned.
func (f *Fetcher) Fetch(ctx context.Context, w Window) (*Result, error) {
	if err := f.preflight(ctx); err != nil {
		return nil, err
	}

	f.logger.Info("fetching reviews",
		"app_id", f.opts.AppID,
		"cutoff", w.Cutoff.Format(time.RFC3339),
		"origin", w.Origin,
		"batch_size", f.opts.BatchSize,
	)

	res := &Result{}
	seen := make(map[string]struct{})
	req := source.PageRequest{
		AppID:    f.opts.AppID,
		Country:  f.opts.Country,
		Language: f.opts.Language,
		Count:    f.opts.BatchSize,
	}

	for {
		if f.opts.MaxPages > 0 && res.Pages >= f.opts.MaxPages {
			res.Reason = StopMaxPages
			break
		}
		if err := f.limiter.Wait(ctx, f.opts.Endpoint); err != nil {
			return nil, fmt.Errorf("throttle: %w", err)
		}

		page, err := resilience.Call(ctx, f.exec, "source.page", func(ctx context.Context) (*source.Page, error) {
			return f.source.Page(ctx, req)
		})
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", res.Pages+1, err)
		}
		res.Pages++
		f.metrics.IncPages()

		if len(page.Reviews) == 0 {
			if res.Pages == 1 {
				f.logger.Info("no reviews found", "app_id", f.opts.AppID)
				res.Reason = StopNoReviews
			} else {
				f.logger.Info("empty page, stopping", "page", res.Pages)
				res.Reason = StopEmpty
			}
			break
		}

		stopped := false
		skipped := 0
		for _, r := range page.Reviews {
			if w.Stops(r.At) {
				stopped = true
				break
			}
			if w.Skips(r.At) {
				skipped++
				continue
			}
			key := r.Key()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			res.Reviews = append(res.Reviews, r)
			if r.At.After(res.Newest) {
				res.Newest = r.At
			}
		}

		f.logger.Debug("page processed",
			"page", res.Pages,
			"reviews", len(page.Reviews),
			"accepted", len(res.Reviews),
			"skipped_after_end", skipped,
		)

		if stopped {
			res.Reason = StopCutoff
			break
		}
		if page.NextToken == "" {
			res.Reason = StopExhausted
			break
		}
		req.Token = page.NextToken
	}

	f.metrics.AddReviews(len(res.Reviews))
	f.logger.Info("fetch finished",
		"reviews", len(res.Reviews),
		"pages", res.Pages,
		"reason", res.Reason,
	)
	return res, nil
}

func (f *Fetcher) preflight(ctx context.Context) error {
	p, ok := f.source.(source.Preflighter)
	if !ok {
		return nil
	}
	crawlDelay, err := p.Preflight(ctx, f.opts.AppID)
	if err != nil {
		return fmt.Errorf("preflight: %w", err)
	}
	if crawlDelay > f.opts.PageDelay {
		f.logger.Info("honouring crawl delay", "crawl_delay", crawlDelay, "page_delay", f.opts.PageDelay)
		f.limiter.SetHostInterval(hostOf(f.opts.Endpoint), crawlDelay)
	}
	return nil
}

func hostOf(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return ""
	}
	return u.Host
}

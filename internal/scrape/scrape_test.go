package scrape

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/LuisMada/SentiScan/internal/checkpoint"
	"github.com/LuisMada/SentiScan/internal/handoff"
	"github.com/LuisMada/SentiScan/internal/model"
	"github.com/LuisMada/SentiScan/internal/ratelimit"
	"github.com/LuisMada/SentiScan/internal/source"
	"github.com/stretchr/testify/require"
)

// pagedSource serves fixed pages; the continuation token is the next page index
type pagedSource struct {
	pages     [][]model.Review
	err       error
	calls     []source.PageRequest
	preflight error
}

func (p *pagedSource) Page(_ context.Context, req source.PageRequest) (*source.Page, error) {
	p.calls = append(p.calls, req)
	if p.err != nil {
		return nil, p.err
	}
	idx := 0
	if req.Token != "" {
		idx, _ = strconv.Atoi(req.Token)
	}
	if idx >= len(p.pages) {
		return &source.Page{}, nil
	}
	page := &source.Page{Reviews: p.pages[idx]}
	if idx+1 < len(p.pages) {
		page.NextToken = strconv.Itoa(idx + 1)
	}
	return page, nil
}

type robotsSource struct {
	pagedSource
	delay time.Duration
}

func (r *robotsSource) Preflight(context.Context, string) (time.Duration, error) {
	return r.delay, r.preflight
}

func review(at time.Time, text string) model.Review {
	return model.Review{Author: "user", Rating: 4, At: at, Text: text}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// noSleep swaps the limiter clock for one that advances on Sleep, and
// records every pause
func noSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var slept []time.Duration
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	origNow, origSleep := ratelimit.Now, ratelimit.Sleep
	ratelimit.Now = func() time.Time { return clock }
	ratelimit.Sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		clock = clock.Add(d)
		return nil
	}
	t.Cleanup(func() { ratelimit.Now, ratelimit.Sleep = origNow, origSleep })
	return &slept
}

func newFetcher(src source.ReviewSource, opts Options) *Fetcher {
	if opts.AppID == "" {
		opts.AppID = "com.angkas.app"
	}
	return NewFetcher(src, opts, nil, quietLogger(), nil)
}

func TestFetch_StopsAtCutoff(t *testing.T) {
	noSleep(t)
	T := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	at := func(h int) time.Time { return T.Add(-time.Duration(h) * time.Hour) }

	src := &pagedSource{pages: [][]model.Review{
		{review(at(1), "t-1"), review(at(2), "t-2")},
		{review(at(3), "t-3"), review(at(4), "t-4")},
		{review(at(5), "t-5")},
	}}

	res, err := newFetcher(src, Options{BatchSize: 2}).Fetch(context.Background(), Window{Cutoff: at(3)})
	require.NoError(t, err)
	require.Len(t, res.Reviews, 2)
	require.Equal(t, "t-1", res.Reviews[0].Text)
	require.Equal(t, "t-2", res.Reviews[1].Text)
	require.Equal(t, at(1), res.Newest)
	require.Equal(t, StopCutoff, res.Reason)
	require.Len(t, src.calls, 2, "no page past the cutoff is requested")
	require.Equal(t, 2, src.calls[0].Count)
	require.Equal(t, "1", src.calls[1].Token)
}

func TestFetch_Exhausted(t *testing.T) {
	noSleep(t)
	T := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	src := &pagedSource{pages: [][]model.Review{
		{review(T.Add(-time.Hour), "a")},
		{review(T.Add(-2*time.Hour), "b")},
	}}

	res, err := newFetcher(src, Options{}).Fetch(context.Background(), Window{Cutoff: T.Add(-24 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, res.Reviews, 2)
	require.Equal(t, StopExhausted, res.Reason)
	require.Equal(t, 2, res.Pages)
}

func TestFetch_FirstPageEmpty(t *testing.T) {
	noSleep(t)
	src := &pagedSource{}

	res, err := newFetcher(src, Options{}).Fetch(context.Background(), Window{Cutoff: time.Now()})
	require.NoError(t, err)
	require.Empty(t, res.Reviews)
	require.True(t, res.Newest.IsZero())
	require.Equal(t, StopNoReviews, res.Reason)
}

func TestFetch_ExplicitRange(t *testing.T) {
	noSleep(t)
	w := ResolveWindow(model.ScrapeConfig{DateRange: []string{"2024-01-01", "2024-01-02"}}, time.Time{}, false, time.Now(), quietLogger())

	src := &pagedSource{pages: [][]model.Review{{
		review(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "start of day"),
		review(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), "noon"),
		review(time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC), "before range"),
	}}}

	res, err := newFetcher(src, Options{}).Fetch(context.Background(), w)
	require.NoError(t, err)
	require.Len(t, res.Reviews, 2)
	require.Equal(t, "start of day", res.Reviews[0].Text)
	require.Equal(t, "noon", res.Reviews[1].Text)
	require.Equal(t, StopCutoff, res.Reason)
}

func TestFetch_SkipsAfterRangeEnd(t *testing.T) {
	noSleep(t)
	w := ResolveWindow(model.ScrapeConfig{DateRange: []string{"2024-01-01", "2024-01-02"}}, time.Time{}, false, time.Now(), quietLogger())

	src := &pagedSource{pages: [][]model.Review{
		{review(time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), "too new")},
		{
			review(time.Date(2024, 1, 2, 23, 0, 0, 0, time.UTC), "late on end day"),
			review(time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC), "in range"),
			review(time.Date(2023, 12, 31, 23, 59, 0, 0, time.UTC), "too old"),
		},
	}}

	res, err := newFetcher(src, Options{}).Fetch(context.Background(), w)
	require.NoError(t, err)
	require.Len(t, res.Reviews, 2)
	require.Equal(t, "late on end day", res.Reviews[0].Text)
	require.Equal(t, "in range", res.Reviews[1].Text)
	require.Equal(t, 2, res.Pages)
}

func TestFetch_DropsDuplicates(t *testing.T) {
	noSleep(t)
	T := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	dup := review(T.Add(-time.Hour), "same")
	src := &pagedSource{pages: [][]model.Review{{dup}, {dup, review(T.Add(-2*time.Hour), "other")}}}

	res, err := newFetcher(src, Options{}).Fetch(context.Background(), Window{Cutoff: T.Add(-24 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, res.Reviews, 2)
}

func TestFetch_MaxPagesAndDelay(t *testing.T) {
	slept := noSleep(t)
	T := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	var pages [][]model.Review
	for i := 1; i <= 5; i++ {
		pages = append(pages, []model.Review{review(T.Add(-time.Duration(i)*time.Minute), strconv.Itoa(i))})
	}
	src := &pagedSource{pages: pages}

	res, err := newFetcher(src, Options{MaxPages: 3, PageDelay: 2 * time.Second}).Fetch(context.Background(), Window{Cutoff: T.Add(-time.Hour)})
	require.NoError(t, err)
	require.Equal(t, StopMaxPages, res.Reason)
	require.Len(t, res.Reviews, 3)
	require.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, *slept)
}

func TestFetch_StopsOnEmptyLaterPage(t *testing.T) {
	noSleep(t)
	T := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	src := &pagedSource{pages: [][]model.Review{
		{review(T.Add(-time.Hour), "a")},
		{},
		{review(T.Add(-2*time.Hour), "b")},
	}}

	res, err := newFetcher(src, Options{}).Fetch(context.Background(), Window{Cutoff: T.Add(-24 * time.Hour)})
	require.NoError(t, err)
	require.Equal(t, StopEmpty, res.Reason)
	require.Equal(t, 2, res.Pages)
	require.Len(t, res.Reviews, 1)
	require.Len(t, src.calls, 2)
}

func TestFetch_CrawlDelayWidensPageSpacing(t *testing.T) {
	slept := noSleep(t)
	T := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	src := &robotsSource{delay: 10 * time.Second}
	src.pages = [][]model.Review{
		{review(T.Add(-time.Hour), "a")},
		{review(T.Add(-2*time.Hour), "b")},
	}

	opts := Options{PageDelay: 2 * time.Second, Endpoint: "https://serpapi.com/search.json"}
	res, err := newFetcher(src, opts).Fetch(context.Background(), Window{Cutoff: T.Add(-24 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, res.Reviews, 2)
	require.Equal(t, []time.Duration{10 * time.Second}, *slept)
}

func TestFetch_SourceError(t *testing.T) {
	noSleep(t)
	src := &pagedSource{err: errors.New("connection reset")}

	_, err := newFetcher(src, Options{}).Fetch(context.Background(), Window{Cutoff: time.Now()})
	require.ErrorContains(t, err, "connection reset")
}

func TestFetch_PreflightDisallowed(t *testing.T) {
	src := &robotsSource{}
	src.preflight = errors.New("disallowed by robots.txt")

	_, err := newFetcher(src, Options{}).Fetch(context.Background(), Window{Cutoff: time.Now()})
	require.ErrorContains(t, err, "preflight")
	require.Empty(t, src.calls)
}

func TestResolveWindow(t *testing.T) {
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	wm := time.Date(2024, 1, 9, 8, 0, 0, 0, time.UTC)
	logger := quietLogger()

	w := ResolveWindow(model.ScrapeConfig{TimeToScrape: 6}, time.Time{}, false, now, logger)
	require.Equal(t, OriginLookback, w.Origin)
	require.Equal(t, now.Add(-6*time.Hour), w.Cutoff)
	require.False(t, w.Inclusive)

	w = ResolveWindow(model.ScrapeConfig{TimeToScrape: 6}, wm, true, now, logger)
	require.Equal(t, OriginWatermark, w.Origin)
	require.Equal(t, wm, w.Cutoff)

	w = ResolveWindow(model.ScrapeConfig{TimeToScrape: 6, DateRange: []string{"2024-01-01"}}, wm, true, now, logger)
	require.Equal(t, OriginRange, w.Origin)
	require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), w.Cutoff)
	require.True(t, w.Inclusive)
	require.True(t, w.End.IsZero())

	w = ResolveWindow(model.ScrapeConfig{DateRange: []string{"2024-01-01", "2024-01-02T06:00:00"}}, wm, true, now, logger)
	require.Equal(t, time.Date(2024, 1, 2, 6, 0, 0, 0, time.UTC), w.End)

	// unusable ranges fall back to the watermark
	w = ResolveWindow(model.ScrapeConfig{DateRange: []string{"soon"}}, wm, true, now, logger)
	require.Equal(t, OriginWatermark, w.Origin)
	w = ResolveWindow(model.ScrapeConfig{DateRange: []string{"2024-01-05", "2024-01-01"}}, wm, true, now, logger)
	require.Equal(t, OriginWatermark, w.Origin)
	w = ResolveWindow(model.ScrapeConfig{DateRange: []string{"2024-01-01", "2024-01-02", "2024-01-03"}}, wm, true, now, logger)
	require.Equal(t, OriginWatermark, w.Origin)
}

func TestWindow_Boundaries(t *testing.T) {
	cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	exclusive := Window{Cutoff: cutoff}
	require.True(t, exclusive.Stops(cutoff))
	require.False(t, exclusive.Stops(cutoff.Add(time.Second)))

	inclusive := Window{Cutoff: cutoff, Inclusive: true}
	require.False(t, inclusive.Stops(cutoff))
	require.True(t, inclusive.Stops(cutoff.Add(-time.Second)))
}

type stageFixture struct {
	layout handoff.Layout
	store  *checkpoint.Store
	now    time.Time
}

func newStageFixture(t *testing.T) stageFixture {
	t.Helper()
	noSleep(t)
	layout := handoff.NewLayout(t.TempDir(), "Angkas")
	return stageFixture{
		layout: layout,
		store:  checkpoint.NewStore(layout.CheckpointPath(), quietLogger()),
		now:    time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC),
	}
}

func (f stageFixture) stage(src source.ReviewSource, cfg model.ScrapeConfig) *Stage {
	if cfg.TimeToScrape == 0 {
		cfg.TimeToScrape = 24
	}
	s := NewStage(newFetcher(src, Options{}), f.layout, f.store, cfg, quietLogger(), nil)
	s.Now = func() time.Time { return f.now }
	return s
}

func TestStage_WritesRawAndAdvances(t *testing.T) {
	f := newStageFixture(t)
	src := &pagedSource{pages: [][]model.Review{{
		review(f.now.Add(-time.Hour), "new"),
		review(f.now.Add(-2*time.Hour), "newer than lookback"),
		review(f.now.Add(-30*time.Hour), "old"),
	}}}

	out, err := f.stage(src, model.ScrapeConfig{}).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, f.layout.RawPath(f.now), out.Path)
	require.Equal(t, 2, out.Reviews)
	require.True(t, out.Advanced)

	got, err := handoff.ReadRaw(out.Path)
	require.NoError(t, err)
	require.Len(t, got, 2)

	wm, ok := f.store.Load()
	require.True(t, ok)
	require.Equal(t, f.now.Add(-time.Hour), wm)
}

func TestStage_NoNewReviewsIsIdempotent(t *testing.T) {
	f := newStageFixture(t)
	require.NoError(t, f.store.Save(f.now))
	src := &pagedSource{pages: [][]model.Review{{
		review(f.now.Add(-time.Minute), "seen"),
		review(f.now.Add(-time.Hour), "seen too"),
	}}}

	out, err := f.stage(src, model.ScrapeConfig{}).Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, out.Path)
	require.False(t, out.Advanced)

	_, err = f.layout.RawFiles(f.now)
	require.ErrorIs(t, err, model.ErrMissingInput)
	wm, _ := f.store.Load()
	require.Equal(t, f.now, wm)
}

func TestStage_RangeNeverLowersWatermark(t *testing.T) {
	f := newStageFixture(t)
	later := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.store.Save(later))
	src := &pagedSource{pages: [][]model.Review{{
		review(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), "backfill"),
		review(time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC), "too old"),
	}}}

	out, err := f.stage(src, model.ScrapeConfig{DateRange: []string{"2024-01-01", "2024-01-02"}}).Run(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, out.Path)
	require.False(t, out.Advanced)

	wm, _ := f.store.Load()
	require.Equal(t, later, wm)
}

func TestStage_SourceFailureLeavesNoTrace(t *testing.T) {
	f := newStageFixture(t)
	before := f.now.Add(-48 * time.Hour)
	require.NoError(t, f.store.Save(before))
	src := &pagedSource{err: &model.HTTPStatusError{Service: "serpapi", StatusCode: 500}}

	_, err := f.stage(src, model.ScrapeConfig{}).Run(context.Background())
	require.ErrorIs(t, err, model.ErrSourceFetch)

	var statusErr *model.HTTPStatusError
	require.ErrorAs(t, err, &statusErr)

	_, err = f.layout.RawFiles(f.now)
	require.ErrorIs(t, err, model.ErrMissingInput)
	wm, _ := f.store.Load()
	require.Equal(t, before, wm)
}

func TestStage_FirstPageEmpty(t *testing.T) {
	f := newStageFixture(t)

	out, err := f.stage(&pagedSource{}, model.ScrapeConfig{}).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StopNoReviews, out.Reason)
	_, ok := f.store.Load()
	require.False(t, ok)
}

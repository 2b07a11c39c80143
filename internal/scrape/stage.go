package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/LuisMada/SentiScan/internal/checkpoint"
	"github.com/LuisMada/SentiScan/internal/handoff"
	"github.com/LuisMada/SentiScan/internal/metrics"
	"github.com/LuisMada/SentiScan/internal/model"
)

// Outcome describes a finished scrape run
type Outcome struct {
	Path      string // raw file written, empty when nothing new was found
	Reviews   int
	Pages     int
	Watermark time.Time
	Advanced  bool
	Reason    StopReason
}

// Stage runs fetch, raw file write and watermark advance in that order
type Stage struct {
	fetcher *Fetcher
	layout  handoff.Layout
	store   *checkpoint.Store
	cfg     model.ScrapeConfig
	logger  *slog.Logger
	metrics *metrics.Recorder

	// Now is the run clock, replaceable in tests
	Now func() time.Time
}

// NewStage wires a scrape stage
func NewStage(fetcher *Fetcher, layout handoff.Layout, store *checkpoint.Store, cfg model.ScrapeConfig, logger *slog.Logger, rec *metrics.Recorder) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stage{
		fetcher: fetcher,
		layout:  layout,
		store:   store,
		cfg:     cfg,
		logger:  logger.With("stage", "scrape"),
		metrics: rec,
		Now:     time.Now,
	}
}

// Run performs one scrape. Finding nothing new is not an error: no file is
// written and the watermark stays where it was.
func (s *Stage) Run(ctx context.Context) (*Outcome, error) {
	now := s.Now().UTC()

	watermark, ok := s.store.Load()
	if ok {
		s.logger.Info("loaded watermark", "watermark", watermark.Format(time.RFC3339))
	}
	window := ResolveWindow(s.cfg, watermark, ok, now, s.logger)

	res, err := s.fetcher.Fetch(ctx, window)
	if err != nil {
		return nil, model.NewStageError("scrape", model.ErrSourceFetch, err)
	}

	out := &Outcome{Pages: res.Pages, Reason: res.Reason, Watermark: watermark}
	if len(res.Reviews) == 0 {
		s.logger.Info("no new reviews", "cutoff", window.Cutoff.Format(time.RFC3339), "reason", res.Reason)
		return out, nil
	}

	path := s.layout.RawPath(now)
	if err := handoff.WriteRaw(path, res.Reviews); err != nil {
		return nil, fmt.Errorf("scrape: %w", err)
	}
	out.Path = path
	out.Reviews = len(res.Reviews)
	s.logger.Info("wrote raw reviews", "path", path, "reviews", out.Reviews)

	advanced, err := s.store.Advance(res.Newest)
	if err != nil {
		return nil, model.NewStageError("scrape", model.ErrWatermark, err)
	}
	out.Advanced = advanced
	if advanced {
		out.Watermark = res.Newest
		s.metrics.SetWatermark(res.Newest)
		s.logger.Info("advanced watermark", "watermark", res.Newest.Format(time.RFC3339))
	} else {
		s.logger.Info("watermark unchanged", "candidate", res.Newest.Format(time.RFC3339))
	}
	return out, nil
}

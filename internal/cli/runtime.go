package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/LuisMada/SentiScan/internal/cache"
	"github.com/LuisMada/SentiScan/internal/checkpoint"
	"github.com/LuisMada/SentiScan/internal/classify"
	"github.com/LuisMada/SentiScan/internal/enrich"
	"github.com/LuisMada/SentiScan/internal/handoff"
	"github.com/LuisMada/SentiScan/internal/llm"
	"github.com/LuisMada/SentiScan/internal/logging"
	"github.com/LuisMada/SentiScan/internal/metrics"
	"github.com/LuisMada/SentiScan/internal/model"
	"github.com/LuisMada/SentiScan/internal/publish"
	"github.com/LuisMada/SentiScan/internal/resilience"
	"github.com/LuisMada/SentiScan/internal/scrape"
	"github.com/LuisMada/SentiScan/internal/source"
	"github.com/LuisMada/SentiScan/internal/util"
	"github.com/google/uuid"
)

// Stage names used in logs and metrics
const (
	stageScrape  = "scrape"
	stageEnrich  = "enrich"
	stagePublish = "publish"
)

// runtime holds what one pipeline invocation shares across its stages
type runtime struct {
	cfg        model.Config
	runID      string
	logger     *slog.Logger
	metrics    *metrics.Recorder
	exec       *resilience.Executor
	httpClient *http.Client
	layout     handoff.Layout
}

// newRuntime validates cfg and builds the per-run collaborators. Every run
// gets its own run_id and metrics registry.
func newRuntime(cfg model.Config, base *slog.Logger) (*runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	logger := base.With("run_id", runID, "app", cfg.App.Name)

	return &runtime{
		cfg:        cfg,
		runID:      runID,
		logger:     logger,
		metrics:    metrics.New(cfg.App.Name),
		exec:       resilience.NewExecutor(resilience.ConfigFromModel(cfg.Resilience), logger),
		httpClient: util.NewHTTPClient(cfg.HTTP),
		layout:     handoff.NewLayout(cfg.Paths.BaseDir, cfg.App.Name),
	}, nil
}

// baseLogger builds the process logger from the logging section
func baseLogger(cfg model.Config) *slog.Logger {
	return logging.New(os.Stderr, cfg.Log)
}

func (r *runtime) scrapeStage() *scrape.Stage {
	src := source.NewSerpAPI(source.SerpAPIConfig{
		BaseURL:   r.cfg.Source.BaseURL,
		APIKey:    r.cfg.Source.APIKey,
		UserAgent: r.cfg.HTTP.UserAgent,
	}, r.httpClient)
	if r.cfg.Source.RespectRobots {
		src.WithRobots(util.NewRobotsChecker(r.cfg.HTTP.UserAgent, r.httpClient))
	}

	fetcher := scrape.NewFetcher(src, scrape.Options{
		AppID:     r.cfg.App.ID,
		Country:   r.cfg.App.Country,
		Language:  r.cfg.App.Language,
		BatchSize: r.cfg.Scrape.BatchSize,
		MaxPages:  r.cfg.Scrape.MaxPages,
		PageDelay: r.cfg.Scrape.PageDelay,
		Endpoint:  r.cfg.Source.BaseURL,
	}, r.exec, r.logger.With("stage", stageScrape), r.metrics)

	store := checkpoint.NewStore(r.layout.CheckpointPath(), r.logger)
	return scrape.NewStage(fetcher, r.layout, store, r.cfg.Scrape, r.logger, r.metrics)
}

func (r *runtime) enrichEngine(ctx context.Context) (*enrich.Engine, error) {
	hf := classify.NewHFSentiment(classify.HFConfig{
		BaseURL: r.cfg.Sentiment.BaseURL,
		Model:   r.cfg.Sentiment.Model,
		APIKey:  r.cfg.Sentiment.APIKey,
	}, r.httpClient, r.exec)

	provider, err := llm.NewProvider(llm.ConfigFromModel(r.cfg.Topics, r.cfg.HTTP))
	if err != nil {
		return nil, fmt.Errorf("topics: %w", err)
	}
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if !provider.IsAvailable(probeCtx) {
		r.logger.Warn("topic provider did not answer; unclassified reviews will fall back to Generic", "provider", provider.Name())
	}
	topics := classify.NewLLMTopics(provider, r.cfg.Topics.Categories, r.cfg.Topics.Model, r.exec)

	c := cache.New(r.cfg.Cache, r.cfg.Paths.BaseDir)
	sentiment := classify.NewCachedSentiment(hf, c, hf.Model(), r.cfg.Cache.TTL)
	cachedTopics := classify.NewCachedTopics(topics, c, topics.Model(), r.cfg.Topics.Categories, r.cfg.Cache.TTL)

	return enrich.NewEngine(r.layout, sentiment, cachedTopics, enrich.Options{
		Merge:       r.cfg.Enrich.Merge,
		Concurrency: r.cfg.Enrich.Concurrency,
	}, r.logger, r.metrics), nil
}

func (r *runtime) publisher() (*publish.Publisher, error) {
	var open publish.Opener
	switch strings.ToLower(r.cfg.Publish.Target) {
	case "", "sheets":
		id, creds := r.cfg.Publish.SpreadsheetID, r.cfg.CredentialsPath()
		open = func(ctx context.Context) (publish.Sheet, error) {
			return publish.NewGoogleSheet(ctx, id, creds)
		}
	case "xlsx":
		path := r.cfg.Publish.XLSXPath
		if path == "" {
			path = filepath.Join(r.layout.Root(), r.cfg.App.Name+"_Reviews.xlsx")
		}
		open = publish.Static(publish.NewWorkbook(path))
	default:
		return nil, fmt.Errorf("%w: unknown publish.target %q", model.ErrConfig, r.cfg.Publish.Target)
	}
	return publish.NewPublisher(r.layout, open, r.cfg.SheetName(), r.exec, r.logger, r.metrics), nil
}

func (r *runtime) runScrape(ctx context.Context) error {
	start := time.Now()
	out, err := r.scrapeStage().Run(ctx)
	r.metrics.ObserveStage(stageScrape, start, resultOf(err))
	if err != nil {
		return err
	}
	if out.Path == "" {
		r.logger.Info("scrape finished with no new reviews", "reason", out.Reason, "pages", out.Pages)
		return nil
	}
	r.logger.Info("scrape finished",
		"reviews", out.Reviews,
		"pages", out.Pages,
		"reason", out.Reason,
		"raw", out.Path,
		"watermark_advanced", out.Advanced,
	)
	return nil
}

func (r *runtime) runEnrich(ctx context.Context) error {
	start := time.Now()
	engine, err := r.enrichEngine(ctx)
	if err != nil {
		r.metrics.ObserveStage(stageEnrich, start, metrics.ResultError)
		return err
	}
	report, err := engine.Run(ctx)
	r.metrics.ObserveStage(stageEnrich, start, resultOf(err))
	if err != nil {
		return err
	}
	r.logger.Info("enrich finished", "files", len(report.Files), "rows", report.Rows, "output", report.Output)
	return nil
}

func (r *runtime) runPublish(ctx context.Context) error {
	start := time.Now()
	p, err := r.publisher()
	if err != nil {
		r.metrics.ObserveStage(stagePublish, start, metrics.ResultError)
		return err
	}
	report, err := p.Run(ctx)
	r.metrics.ObserveStage(stagePublish, start, resultOf(err))
	if err != nil {
		return err
	}
	r.logger.Info("publish finished", "rows", report.Rows, "tab", report.Tab, "source", report.Source)
	return nil
}

// runAll runs the three stages in order. A stage that finds no input does
// not stop the later ones: publish can still push today's processed file
// when there was nothing new to scrape. Any other failure stops the run.
// The result is that of the last stage, or the first hard failure.
func (r *runtime) runAll(ctx context.Context) error {
	stages := []struct {
		name string
		run  func(context.Context) error
	}{
		{stageScrape, r.runScrape},
		{stageEnrich, r.runEnrich},
		{stagePublish, r.runPublish},
	}

	var last error
	for _, s := range stages {
		last = s.run(ctx)
		if last == nil {
			continue
		}
		if errors.Is(last, model.ErrMissingInput) {
			r.logger.Info("stage had nothing to do", "stage", s.name, "error", last)
			continue
		}
		return last
	}
	return last
}

// finish writes the run's metrics if a textfile is configured
func (r *runtime) finish() {
	path := r.cfg.Metrics.Textfile
	if path == "" {
		return
	}
	if err := r.metrics.WriteTextfile(path); err != nil {
		r.logger.Warn("could not write metrics textfile", "path", path, "error", err)
	}
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, model.ErrMissingInput):
		return metrics.ResultMissingInput
	default:
		return metrics.ResultError
	}
}

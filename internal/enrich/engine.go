// Package enrich labels the day's raw reviews with sentiment and topics and
// writes the day's processed file.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/LuisMada/SentiScan/internal/classify"
	"github.com/LuisMada/SentiScan/internal/handoff"
	"github.com/LuisMada/SentiScan/internal/metrics"
	"github.com/LuisMada/SentiScan/internal/model"
	"github.com/LuisMada/SentiScan/internal/resilience"
	"github.com/LuisMada/SentiScan/internal/worker"
)

// Options control how output is written
type Options struct {
	// Merge appends to the day's processed file instead of replacing it
	Merge       bool
	Concurrency int
}

// FileReport summarises one raw file
type FileReport struct {
	Raw                string
	Reviews            int
	SentimentFallbacks int
	TopicFallbacks     int
	Skipped            string // reason, empty when processed
}

// Report summarises an enrich run
type Report struct {
	Output string
	Rows   int
	Files  []FileReport
}

// Engine runs the enrich stage
type Engine struct {
	layout    handoff.Layout
	sentiment classify.SentimentClassifier
	topics    classify.TopicClassifier
	opts      Options
	logger    *slog.Logger
	metrics   *metrics.Recorder

	// set once an open breaker has been reported for the kind
	sentimentOpen atomic.Bool
	topicsOpen    atomic.Bool

	// Now is the run clock, replaceable in tests
	Now func() time.Time
}

// NewEngine wires the enrich stage
func NewEngine(layout handoff.Layout, sentiment classify.SentimentClassifier, topics classify.TopicClassifier, opts Options, logger *slog.Logger, rec *metrics.Recorder) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Engine{
		layout:    layout,
		sentiment: sentiment,
		topics:    topics,
		opts:      opts,
		logger:    logger.With("stage", "enrich"),
		metrics:   rec,
		Now:       time.Now,
	}
}

// Run processes every raw file of the current UTC day not yet marked
// processed. It returns model.ErrMissingInput when there is nothing to do.
//
// Without Merge each raw file replaces the day's processed file, so after
// a day with several scrape runs only the last raw file's rows remain.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	day := e.Now().UTC()

	pending, err := e.layout.PendingRawFiles(day)
	if err != nil {
		e.logger.Warn("nothing to enrich", "error", err)
		return nil, fmt.Errorf("enrich: %w", err)
	}

	out := e.layout.ProcessedPath(day)
	report := &Report{Output: out}

	for _, path := range pending {
		fr, records, err := e.processFile(ctx, day, path)
		if err != nil {
			return report, fmt.Errorf("enrich %s: %w", path, err)
		}
		report.Files = append(report.Files, fr)
		if fr.Skipped != "" {
			continue
		}

		if e.opts.Merge {
			existing, err := handoff.ReadProcessed(out)
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				return report, fmt.Errorf("read existing processed file: %w", err)
			}
			records = append(existing, records...)
		} else if _, err := os.Stat(out); err == nil {
			e.logger.Warn("replacing processed file; earlier rows for today are dropped", "path", out, "raw", path)
		}

		if err := handoff.WriteProcessed(out, records); err != nil {
			return report, fmt.Errorf("write processed file: %w", err)
		}
		if err := e.layout.MarkProcessed(day, path); err != nil {
			return report, fmt.Errorf("mark processed: %w", err)
		}
		report.Rows = len(records)
		e.logger.Info("processed raw file",
			"raw", path,
			"reviews", fr.Reviews,
			"sentiment_fallbacks", fr.SentimentFallbacks,
			"topic_fallbacks", fr.TopicFallbacks,
			"output", out,
		)
	}

	return report, nil
}

func (e *Engine) processFile(ctx context.Context, day time.Time, path string) (FileReport, []model.ProcessedReview, error) {
	fr := FileReport{Raw: path}

	reviews, err := handoff.ReadRaw(path)
	if err != nil {
		if errors.Is(err, handoff.ErrMissingColumn) {
			e.logger.Error("skipping raw file", "raw", path, "error", err)
			fr.Skipped = "missing content column"
			return fr, nil, nil
		}
		return fr, nil, err
	}
	if len(reviews) == 0 {
		e.logger.Warn("no reviews to process", "raw", path)
		fr.Skipped = "empty"
		// nothing to label; mark it so later runs do not pick it up again
		if err := e.layout.MarkProcessed(day, path); err != nil {
			return fr, nil, fmt.Errorf("mark processed: %w", err)
		}
		return fr, nil, nil
	}

	e.logger.Info("processing reviews", "raw", path, "reviews", len(reviews))
	records, err := e.classifyAll(ctx, reviews)
	if err != nil {
		return fr, nil, err
	}

	fr.Reviews = len(records)
	for _, r := range records {
		if r.Sentiment == model.SentimentUnknown {
			fr.SentimentFallbacks++
		}
		if r.fellBack {
			fr.TopicFallbacks++
		}
	}
	return fr, unwrap(records), nil
}

type labelled struct {
	model.ProcessedReview
	fellBack bool
}

func unwrap(in []labelled) []model.ProcessedReview {
	out := make([]model.ProcessedReview, len(in))
	for i, r := range in {
		out[i] = r.ProcessedReview
	}
	return out
}

// classifyAll labels every review on the worker pool and keeps input order.
// A failed review never fails the batch; only cancellation does.
func (e *Engine) classifyAll(ctx context.Context, reviews []model.Review) ([]labelled, error) {
	return worker.Map(ctx, e.opts.Concurrency, reviews, e.classifyOne)
}

func (e *Engine) classifyOne(ctx context.Context, i int, review model.Review) labelled {
	res := labelled{ProcessedReview: model.ProcessedReview{Review: review}}

	sentiment, err := e.sentiment.Classify(ctx, review.Text)
	if err != nil {
		e.warnFallback("sentiment", &e.sentimentOpen, i, err)
		sentiment = model.SentimentUnknown
	}
	e.metrics.RecordClassification("sentiment", err == nil)
	res.Sentiment = sentiment

	topics, err := e.topics.Classify(ctx, review.Text)
	if err != nil || len(topics) == 0 {
		if err != nil {
			e.warnFallback("topics", &e.topicsOpen, i, err)
		}
		topics = []string{model.TopicGeneric}
		res.fellBack = err != nil
	}
	e.metrics.RecordClassification("topics", err == nil)
	res.Topics = topics

	return res
}

// warnFallback logs a classification failure. While a breaker is open every
// review fails the same way, so that is reported once per run.
func (e *Engine) warnFallback(kind string, open *atomic.Bool, i int, err error) {
	if resilience.IsCircuitOpen(err) {
		if open.CompareAndSwap(false, true) {
			e.logger.Warn("circuit open, remaining reviews fall back", "kind", kind, "review", i, "error", err)
		}
		return
	}
	e.logger.Warn(kind+" failed, using fallback", "review", i, "error", err)
}

// Package publish pushes the day's processed file to a spreadsheet tab.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/LuisMada/SentiScan/internal/handoff"
	"github.com/LuisMada/SentiScan/internal/metrics"
	"github.com/LuisMada/SentiScan/internal/model"
	"github.com/LuisMada/SentiScan/internal/resilience"
)

// Sheet is a spreadsheet tab that can be replaced wholesale
type Sheet interface {
	// Replace clears tab and writes rows starting at the top-left cell.
	// rows[0] is the header.
	Replace(ctx context.Context, tab string, rows [][]string) error
}

// Opener connects to the Sheet. It runs only once there is a processed
// file to upload, so a missing file never needs credentials.
type Opener func(ctx context.Context) (Sheet, error)

// Static returns an Opener for an already built Sheet
func Static(s Sheet) Opener {
	return func(context.Context) (Sheet, error) { return s, nil }
}

// Report summarises a publish run
type Report struct {
	Source string
	Tab    string
	Rows   int // data rows, header excluded
}

// Publisher runs the publish stage
type Publisher struct {
	layout  handoff.Layout
	open    Opener
	tab     string
	exec    *resilience.Executor
	logger  *slog.Logger
	metrics *metrics.Recorder

	// Now is the run clock, replaceable in tests
	Now func() time.Time
}

// NewPublisher wires the publish stage
func NewPublisher(layout handoff.Layout, open Opener, tab string, exec *resilience.Executor, logger *slog.Logger, rec *metrics.Recorder) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		layout:  layout,
		open:    open,
		tab:     tab,
		exec:    exec,
		logger:  logger.With("stage", "publish", "tab", tab),
		metrics: rec,
		Now:     time.Now,
	}
}

// Run replaces the tab with today's processed file. Without a processed file
// it returns model.ErrMissingInput and the sheet is neither opened nor
// touched. Connection and upload failures are model.ErrPublish; the local
// file is never modified.
func (p *Publisher) Run(ctx context.Context) (*Report, error) {
	day := p.Now().UTC()

	path, err := p.layout.FindProcessed(day)
	if err != nil {
		p.logger.Warn("nothing to publish", "error", err)
		return nil, fmt.Errorf("publish: %w", err)
	}

	table, err := handoff.ReadTable(path)
	if err != nil {
		return nil, fmt.Errorf("publish: load %s: %w", path, err)
	}

	grid := BuildGrid(table)
	report := &Report{Source: path, Tab: p.tab, Rows: len(grid) - 1}
	sheet, err := p.open(ctx)
	if err != nil {
		p.logger.Error("could not open sheet; processed file left in place", "source", path, "error", err)
		return report, model.NewStageError("publish", model.ErrPublish, err)
	}

	p.logger.Info("uploading", "source", path, "rows", report.Rows)
	err = p.exec.Execute(ctx, "sheet.replace", func(ctx context.Context) error {
		return sheet.Replace(ctx, p.tab, grid)
	}, nil)
	if err != nil {
		p.logger.Error("upload failed; processed file left in place", "source", path, "error", err)
		return report, model.NewStageError("publish", model.ErrPublish, err)
	}

	p.metrics.AddRowsPublished(report.Rows)
	p.logger.Info("sheet updated", "rows", report.Rows)
	return report, nil
}

// BuildGrid normalises a processed table into the text grid sent to the
// sheet: blank sentiment becomes Unknown, dates are shown as DD/MM/YYYY and
// topics are projected into Positive and Negative columns.
func BuildGrid(t *handoff.Table) [][]string {
	sentimentCol := t.EnsureColumn(handoff.ColSentiment)
	topicsCol := t.EnsureColumn(handoff.ColTopics)
	atCol := t.Index(handoff.ColAt)
	posCol := t.EnsureColumn(handoff.ColPositive)
	negCol := t.EnsureColumn(handoff.ColNegative)

	for i := range t.Rows {
		sentiment := strings.TrimSpace(t.Cell(i, handoff.ColSentiment))
		if sentiment == "" {
			sentiment = model.SentimentUnknown
		}
		topics := strings.TrimSpace(t.Cell(i, handoff.ColTopics))

		t.Set(i, sentimentCol, sentiment)
		t.Set(i, topicsCol, topics)
		if atCol >= 0 {
			t.Set(i, atCol, displayDate(t.Cell(i, handoff.ColAt)))
		}

		pos, neg := model.Project(sentiment, topics)
		t.Set(i, posCol, pos)
		t.Set(i, negCol, neg)
	}
	return t.Grid()
}

func displayDate(s string) string {
	ts, err := model.ParseTimestamp(s)
	if err != nil {
		return ""
	}
	return ts.Format(model.DisplayDateLayout)
}

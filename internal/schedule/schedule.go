// Package schedule runs the pipeline on a cron expression inside one
// long-lived process.
package schedule

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/LuisMada/SentiScan/internal/model"
	"github.com/robfig/cron/v3"
)

// Job is one scheduled pipeline run
type Job func(ctx context.Context) error

// Scheduler fires a job on a cron schedule. A tick that arrives while the
// previous run is still going is skipped, so runs never overlap.
type Scheduler struct {
	cron   *cron.Cron
	spec   string
	logger *slog.Logger
}

// New parses spec (standard five-field cron or a descriptor such as
// "@every 6h") and registers job under it
func New(ctx context.Context, spec string, job Job, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")
	cl := cronLogger{logger: logger}

	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	_, err := c.AddFunc(spec, func() {
		if err := job(ctx); err != nil {
			logger.Error("scheduled run failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%w: schedule.cron %q: %w", model.ErrConfig, spec, err)
	}
	return &Scheduler{cron: c, spec: spec, logger: logger}, nil
}

// Run starts the scheduler and blocks until ctx is done, then waits for a
// run in progress to finish
func (s *Scheduler) Run(ctx context.Context) {
	s.cron.Start()
	s.logger.Info("scheduler started", "cron", s.spec, "next", s.Next())

	<-ctx.Done()
	s.logger.Info("scheduler stopping")
	<-s.cron.Stop().Done()
}

// Next is the next planned run, zero before the scheduler has entries
func (s *Scheduler) Next() string {
	entries := s.cron.Entries()
	if len(entries) == 0 || entries[0].Next.IsZero() {
		return ""
	}
	return entries[0].Next.UTC().Format(model.WatermarkLayout)
}

// cronLogger routes cron's logr-style calls to slog
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}

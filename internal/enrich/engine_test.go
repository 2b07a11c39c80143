package enrich

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LuisMada/SentiScan/internal/handoff"
	"github.com/LuisMada/SentiScan/internal/model"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/require"
)

type fakeSentiment struct {
	calls atomic.Int32
}

func (f *fakeSentiment) Classify(_ context.Context, text string) (string, error) {
	f.calls.Add(1)
	switch {
	case strings.Contains(text, "sentiment-down"):
		return "", fmt.Errorf("%w: sentiment: 503", model.ErrClassification)
	case strings.Contains(text, "breaker-open"):
		return "", fmt.Errorf("%w: sentiment: %w", model.ErrClassification, gobreaker.ErrOpenState)
	case strings.Contains(text, "bad"):
		return model.SentimentNegative, nil
	default:
		return model.SentimentPositive, nil
	}
}

type fakeTopics struct {
	calls atomic.Int32
}

func (f *fakeTopics) Classify(_ context.Context, text string) ([]string, error) {
	f.calls.Add(1)
	switch {
	case strings.Contains(text, "topics-down"):
		return nil, errors.New("rate limited")
	case strings.Contains(text, "pay"):
		return []string{"Payment"}, nil
	default:
		return []string{"App Performance", "Pricing"}, nil
	}
}

type fixture struct {
	layout    handoff.Layout
	day       time.Time
	sentiment *fakeSentiment
	topics    *fakeTopics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		layout:    handoff.NewLayout(t.TempDir(), "Angkas"),
		day:       time.Date(2024, 3, 5, 20, 0, 0, 0, time.UTC),
		sentiment: &fakeSentiment{},
		topics:    &fakeTopics{},
	}
}

func (f *fixture) engine(opts Options) *Engine {
	e := NewEngine(f.layout, f.sentiment, f.topics, opts, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	e.Now = func() time.Time { return f.day }
	return e
}

func (f *fixture) writeRaw(t *testing.T, hour int, texts ...string) string {
	t.Helper()
	reviews := make([]model.Review, len(texts))
	for i, text := range texts {
		reviews[i] = model.Review{
			Author: fmt.Sprintf("user%d", i),
			Rating: 3,
			At:     f.day.Add(-time.Duration(i+1) * time.Minute),
			Text:   text,
		}
	}
	path := f.layout.RawPath(time.Date(2024, 3, 5, hour, 0, 0, 0, time.UTC))
	require.NoError(t, handoff.WriteRaw(path, reviews))
	return path
}

func TestEngine_LabelsAndIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	raw := f.writeRaw(t, 8, "bad pay experience", "sentiment-down but fine", "topics-down app", "smooth ride")

	report, err := f.engine(Options{Concurrency: 3}).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, f.layout.ProcessedPath(f.day), report.Output)
	require.Len(t, report.Files, 1)
	require.Equal(t, 4, report.Files[0].Reviews)
	require.Equal(t, 1, report.Files[0].SentimentFallbacks)
	require.Equal(t, 1, report.Files[0].TopicFallbacks)

	got, err := handoff.ReadProcessed(report.Output)
	require.NoError(t, err)
	require.Len(t, got, 4)

	require.Equal(t, "bad pay experience", got[0].Text)
	require.Equal(t, "Negative", got[0].Sentiment)
	require.Equal(t, []string{"Payment"}, got[0].Topics)

	require.Equal(t, "Unknown", got[1].Sentiment)
	require.Equal(t, []string{"App Performance", "Pricing"}, got[1].Topics)

	require.Equal(t, "Positive", got[2].Sentiment)
	require.Equal(t, []string{"Generic"}, got[2].Topics)

	require.Equal(t, "smooth ride", got[3].Text)

	done, err := f.layout.Processed(f.day)
	require.NoError(t, err)
	require.True(t, done[filepath.Base(raw)])
}

func TestEngine_OpenBreakerLoggedOnce(t *testing.T) {
	f := newFixture(t)
	f.writeRaw(t, 8, "breaker-open one", "breaker-open two", "breaker-open three", "sentiment-down")

	var logs bytes.Buffer
	e := NewEngine(f.layout, f.sentiment, f.topics, Options{}, slog.New(slog.NewTextHandler(&logs, nil)), nil)
	e.Now = func() time.Time { return f.day }

	report, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, report.Files[0].SentimentFallbacks)
	require.Equal(t, 1, strings.Count(logs.String(), "circuit open"))
	require.Equal(t, 1, strings.Count(logs.String(), "sentiment failed"))
}

func TestEngine_OverwriteKeepsOnlyLastRawFile(t *testing.T) {
	f := newFixture(t)
	f.writeRaw(t, 8, "morning one", "morning two")
	f.writeRaw(t, 14, "afternoon")

	report, err := f.engine(Options{}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Files, 2)

	got, err := handoff.ReadProcessed(report.Output)
	require.NoError(t, err)
	require.Len(t, got, 1, "each raw file replaces the day's processed file")
	require.Equal(t, "afternoon", got[0].Text)
}

func TestEngine_MergeKeepsEveryRawFile(t *testing.T) {
	f := newFixture(t)
	f.writeRaw(t, 8, "morning one", "morning two")
	f.writeRaw(t, 14, "afternoon")

	report, err := f.engine(Options{Merge: true}).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, report.Rows)

	got, err := handoff.ReadProcessed(report.Output)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "morning one", got[0].Text)
	require.Equal(t, "afternoon", got[2].Text)
}

func TestEngine_OnlyPendingFilesOnRerun(t *testing.T) {
	f := newFixture(t)
	f.writeRaw(t, 8, "first run")

	e := f.engine(Options{Merge: true})
	_, err := e.Run(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, f.sentiment.calls.Load())

	_, err = e.Run(context.Background())
	require.ErrorIs(t, err, model.ErrMissingInput)
	require.EqualValues(t, 1, f.sentiment.calls.Load())

	f.writeRaw(t, 12, "second run")
	report, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Files, 1)
	require.EqualValues(t, 2, f.sentiment.calls.Load())

	got, err := handoff.ReadProcessed(report.Output)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestEngine_MissingInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine(Options{}).Run(context.Background())
	require.ErrorIs(t, err, model.ErrMissingInput)

	_, statErr := os.Stat(f.layout.ProcessedPath(f.day))
	require.True(t, os.IsNotExist(statErr))
}

func TestEngine_SkipsUnusableFiles(t *testing.T) {
	f := newFixture(t)
	empty := f.writeRaw(t, 6)
	broken := f.layout.RawPath(time.Date(2024, 3, 5, 7, 0, 0, 0, time.UTC))
	require.NoError(t, os.WriteFile(broken, []byte("userName,score,at\nana,5,2024-03-05 06:00:00\n"), 0644))
	f.writeRaw(t, 9, "usable")

	report, err := f.engine(Options{}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Files, 3)
	require.Equal(t, "empty", report.Files[0].Skipped)
	require.Equal(t, "missing content column", report.Files[1].Skipped)
	require.Empty(t, report.Files[2].Skipped)

	done, err := f.layout.Processed(f.day)
	require.NoError(t, err)
	require.True(t, done[filepath.Base(empty)])
	require.False(t, done[filepath.Base(broken)])
}

func TestEngine_PreservesOrderUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	texts := make([]string, 50)
	for i := range texts {
		texts[i] = fmt.Sprintf("review %02d", i)
	}
	f.writeRaw(t, 10, texts...)

	report, err := f.engine(Options{Concurrency: 8}).Run(context.Background())
	require.NoError(t, err)

	got, err := handoff.ReadProcessed(report.Output)
	require.NoError(t, err)
	require.Len(t, got, 50)
	for i, r := range got {
		require.Equal(t, texts[i], r.Text)
	}
}

func TestEngine_Cancelled(t *testing.T) {
	f := newFixture(t)
	raw := f.writeRaw(t, 10, "a", "b")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine(Options{}).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	done, _ := f.layout.Processed(f.day)
	require.False(t, done[filepath.Base(raw)])
}

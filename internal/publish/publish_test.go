package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/LuisMada/SentiScan/internal/handoff"
	"github.com/LuisMada/SentiScan/internal/model"
	"github.com/LuisMada/SentiScan/internal/resilience"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"google.golang.org/api/option"
)

type fakeSheet struct {
	mu    sync.Mutex
	calls int
	tab   string
	rows  [][]string
	errs  []error
}

func (f *fakeSheet) Replace(_ context.Context, tab string, rows [][]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	f.tab = tab
	f.rows = rows
	return nil
}

var testDay = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

func newTestPublisher(t *testing.T, sheet Sheet, exec *resilience.Executor) (*Publisher, handoff.Layout) {
	t.Helper()
	layout := handoff.NewLayout(t.TempDir(), "Angkas")
	p := NewPublisher(layout, Static(sheet), "Angkas Reviews", exec, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	p.Now = func() time.Time { return testDay }
	return p, layout
}

func writeProcessed(t *testing.T, layout handoff.Layout) string {
	t.Helper()
	path := layout.ProcessedPath(testDay)
	records := []model.ProcessedReview{
		{
			Review:    model.Review{Author: "Ana", Rating: 5, At: time.Date(2024, 3, 4, 23, 10, 0, 0, time.UTC), Text: "fast"},
			Sentiment: model.SentimentPositive,
			Topics:    []string{"Rider Experience", "Booking Experience"},
		},
		{
			Review:    model.Review{Author: "Ben", Rating: 1, At: time.Date(2024, 3, 5, 1, 0, 0, 0, time.UTC), Text: "charged twice"},
			Sentiment: model.SentimentNegative,
			Topics:    []string{"Payment"},
		},
		{
			Review:    model.Review{Author: "Cy", Rating: 3, Text: "meh"},
			Sentiment: model.SentimentUnknown,
			Topics:    []string{"Generic"},
		},
	}
	require.NoError(t, handoff.WriteProcessed(path, records))
	return path
}

func TestPublisher_Run(t *testing.T) {
	sheet := &fakeSheet{}
	p, layout := newTestPublisher(t, sheet, nil)
	path := writeProcessed(t, layout)

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, path, report.Source)
	require.Equal(t, 3, report.Rows)

	require.Equal(t, 1, sheet.calls)
	require.Equal(t, "Angkas Reviews", sheet.tab)
	require.Equal(t, [][]string{
		{"userName", "score", "at", "content", "sentiment", "topics", "Positive", "Negative"},
		{"Ana", "5", "04/03/2024", "fast", "Positive", "Rider Experience, Booking Experience", "Rider Experience, Booking Experience", ""},
		{"Ben", "1", "05/03/2024", "charged twice", "Negative", "Payment", "", "Payment"},
		{"Cy", "3", "", "meh", "Unknown", "Generic", "", ""},
	}, sheet.rows)
}

func TestPublisher_MissingInputLeavesSheetAlone(t *testing.T) {
	sheet := &fakeSheet{}
	p, _ := newTestPublisher(t, sheet, nil)

	_, err := p.Run(context.Background())
	require.ErrorIs(t, err, model.ErrMissingInput)
	require.Zero(t, sheet.calls)
}

func TestPublisher_MissingInputNeverOpensSheet(t *testing.T) {
	layout := handoff.NewLayout(t.TempDir(), "Angkas")
	opened := 0
	open := func(context.Context) (Sheet, error) {
		opened++
		return nil, errors.New("no credentials")
	}
	p := NewPublisher(layout, open, "Angkas Reviews", nil, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	p.Now = func() time.Time { return testDay }

	_, err := p.Run(context.Background())
	require.ErrorIs(t, err, model.ErrMissingInput)
	require.Zero(t, opened)
}

func TestPublisher_OpenFailureIsPublishError(t *testing.T) {
	layout := handoff.NewLayout(t.TempDir(), "Angkas")
	path := writeProcessed(t, layout)
	open := func(context.Context) (Sheet, error) {
		return nil, fmt.Errorf("%w: publish.spreadsheet_id is required", model.ErrConfig)
	}
	p := NewPublisher(layout, open, "Angkas Reviews", nil, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	p.Now = func() time.Time { return testDay }

	report, err := p.Run(context.Background())
	require.ErrorIs(t, err, model.ErrPublish)
	require.ErrorIs(t, err, model.ErrConfig)
	require.Equal(t, path, report.Source)
}

func TestPublisher_UploadFailureKeepsLocalFile(t *testing.T) {
	sheet := &fakeSheet{errs: []error{&model.HTTPStatusError{Service: "sheets", StatusCode: 403}}}
	p, layout := newTestPublisher(t, sheet, nil)
	path := writeProcessed(t, layout)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.ErrorIs(t, err, model.ErrPublish)

	var stageErr *model.StageError
	require.True(t, errors.As(err, &stageErr))
	require.Equal(t, "publish", stageErr.Stage)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestPublisher_RetriesTransientFailures(t *testing.T) {
	sheet := &fakeSheet{errs: []error{&model.HTTPStatusError{Service: "sheets", StatusCode: 503}}}
	exec := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p, layout := newTestPublisher(t, sheet, exec)
	writeProcessed(t, layout)

	_, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, sheet.calls)
	require.Len(t, sheet.rows, 4)
}

func TestBuildGrid_NormalisesSparseTable(t *testing.T) {
	tbl := &handoff.Table{
		Header: []string{"userName", "at", "content"},
		Rows: [][]string{
			{"a", "2024-01-02T03:04:05Z", "x"},
			{"b", "not a date", "y"},
		},
	}

	grid := BuildGrid(tbl)
	require.Equal(t, [][]string{
		{"userName", "at", "content", "sentiment", "topics", "Positive", "Negative"},
		{"a", "02/01/2024", "x", "Unknown", "", "", ""},
		{"b", "", "y", "Unknown", "", "", ""},
	}, grid)
}

func TestBuildGrid_KeepsExistingProjectionColumns(t *testing.T) {
	tbl := &handoff.Table{
		Header: []string{"content", "sentiment", "topics", "Positive", "Negative"},
		Rows:   [][]string{{"x", "Negative", " Payment ", "stale", "stale"}},
	}

	grid := BuildGrid(tbl)
	require.Equal(t, []string{"x", "Negative", "Payment", "", "Payment"}, grid[1])
	require.Len(t, grid[0], 5)
}

func TestWorkbook_CreatesAndReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "reviews.xlsx")
	wb := NewWorkbook(path)
	ctx := context.Background()

	first := [][]string{{"h1", "h2"}, {"a", "b"}, {"c", "d"}}
	require.NoError(t, wb.Replace(ctx, "Angkas Reviews", first))

	second := [][]string{{"h1", "h2"}, {"e", "f"}}
	require.NoError(t, wb.Replace(ctx, "Angkas Reviews", second))
	require.NoError(t, wb.Replace(ctx, "Other", [][]string{{"z"}}))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	require.Equal(t, []string{"Angkas Reviews", "Other"}, f.GetSheetList())
	rows, err := f.GetRows("Angkas Reviews")
	require.NoError(t, err)
	require.Equal(t, second, rows)
}

func TestWorkbook_CancelledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reviews.xlsx")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewWorkbook(path).Replace(ctx, "tab", [][]string{{"a"}})
	require.ErrorIs(t, err, context.Canceled)
	_, statErr := os.Stat(path)
	require.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestGoogleSheet_ClearThenUpdate(t *testing.T) {
	var (
		mu       sync.Mutex
		requests []string
		written  [][]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		requests = append(requests, r.Method+" "+r.URL.Path)

		if r.Method == http.MethodPut {
			if got := r.URL.Query().Get("valueInputOption"); got != "RAW" {
				t.Errorf("valueInputOption = %q, want RAW", got)
			}
			var body struct {
				Values [][]string `json:"values"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode body: %v", err)
			}
			written = body.Values
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	g, err := NewGoogleSheet(ctx, "sheet-1", "", option.WithEndpoint(srv.URL+"/"), option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	rows := [][]string{{"userName", "content"}, {"Ana", "fast"}}
	require.NoError(t, g.Replace(ctx, "Angkas Reviews", rows))

	require.Len(t, requests, 2)
	require.True(t, strings.HasPrefix(requests[0], "POST "), requests[0])
	require.True(t, strings.HasSuffix(requests[0], ":clear"), requests[0])
	require.Contains(t, requests[0], "/spreadsheets/sheet-1/values/'Angkas Reviews'")
	require.True(t, strings.HasPrefix(requests[1], "PUT "), requests[1])
	require.Contains(t, requests[1], "'Angkas Reviews'!A1")
	require.Equal(t, rows, written)
}

func TestGoogleSheet_ErrorStatusIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota exceeded"}}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	g, err := NewGoogleSheet(ctx, "sheet-1", "", option.WithEndpoint(srv.URL+"/"), option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	err = g.Replace(ctx, "tab", [][]string{{"a"}})
	var statusErr *model.HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	require.True(t, statusErr.Temporary())
}

func TestNewGoogleSheet_RequiresSpreadsheetID(t *testing.T) {
	_, err := NewGoogleSheet(context.Background(), "", "creds.json")
	require.ErrorIs(t, err, model.ErrConfig)
}

func TestQuoteTab(t *testing.T) {
	require.Equal(t, "'Angkas Reviews'", quoteTab("Angkas Reviews"))
	require.Equal(t, "'Bob''s'", quoteTab("Bob's"))
}

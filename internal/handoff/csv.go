package handoff

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/LuisMada/SentiScan/internal/model"
)

// Column names. The raw names are the ones downstream sheet consumers know.
const (
	ColAuthor    = "userName"
	ColRating    = "score"
	ColAt        = "at"
	ColContent   = "content"
	ColSentiment = "sentiment"
	ColTopics    = "topics"
	ColPositive  = "Positive"
	ColNegative  = "Negative"
)

// RawColumns is the fixed header of a raw file
var RawColumns = []string{ColAuthor, ColRating, ColAt, ColContent}

// ProcessedColumns is the fixed header of a processed file
var ProcessedColumns = []string{ColAuthor, ColRating, ColAt, ColContent, ColSentiment, ColTopics}

// ErrMissingColumn is returned when a file lacks a required column
var ErrMissingColumn = errors.New("missing column")

// Table is a CSV file loaded as text: a header and rows of cells
type Table struct {
	Header []string
	Rows   [][]string
}

// Index returns the position of a column or -1
func (t *Table) Index(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// Cell returns the value of a column in row i, or "" if absent
func (t *Table) Cell(i int, name string) string {
	col := t.Index(name)
	if col < 0 || col >= len(t.Rows[i]) {
		return ""
	}
	return t.Rows[i][col]
}

// EnsureColumn appends a blank column if it does not exist and returns its index
func (t *Table) EnsureColumn(name string) int {
	if idx := t.Index(name); idx >= 0 {
		return idx
	}
	t.Header = append(t.Header, name)
	for i := range t.Rows {
		t.Rows[i] = append(t.Rows[i], "")
	}
	return len(t.Header) - 1
}

// Set writes a cell, padding short rows
func (t *Table) Set(i, col int, value string) {
	for len(t.Rows[i]) <= col {
		t.Rows[i] = append(t.Rows[i], "")
	}
	t.Rows[i][col] = value
}

// Grid returns header plus rows, the shape a spreadsheet write expects
func (t *Table) Grid() [][]string {
	grid := make([][]string, 0, len(t.Rows)+1)
	grid = append(grid, append([]string(nil), t.Header...))
	for _, row := range t.Rows {
		out := make([]string, len(t.Header))
		copy(out, row)
		grid = append(grid, out)
	}
	return grid
}

// ReadTable loads a CSV file. Rows may be ragged.
func ReadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return &Table{}, nil
		}
		return nil, fmt.Errorf("read header of %s: %w", filepath.Base(path), err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	t := &Table{Header: header}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, nil
}

// WriteRaw writes a scrape run's reviews to path. It refuses to overwrite an
// existing file; run-stamped names make collisions a bug, not a retry.
func WriteRaw(path string, reviews []model.Review) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create date folder: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("create raw file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close raw file: %w", closeErr)
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write(RawColumns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range reviews {
		if err := w.Write(rawRecord(r)); err != nil {
			return fmt.Errorf("write review: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

// ReadRaw loads the reviews of a raw file. The content column is required;
// other missing columns read as zero values.
func ReadRaw(path string) ([]model.Review, error) {
	t, err := ReadTable(path)
	if err != nil {
		return nil, err
	}
	if t.Index(ColContent) < 0 {
		return nil, fmt.Errorf("%w %q in %s", ErrMissingColumn, ColContent, filepath.Base(path))
	}

	reviews := make([]model.Review, 0, len(t.Rows))
	for i := range t.Rows {
		reviews = append(reviews, reviewFromRow(t, i))
	}
	return reviews, nil
}

// ReadProcessed loads a processed file into typed records
func ReadProcessed(path string) ([]model.ProcessedReview, error) {
	t, err := ReadTable(path)
	if err != nil {
		return nil, err
	}
	out := make([]model.ProcessedReview, 0, len(t.Rows))
	for i := range t.Rows {
		out = append(out, model.ProcessedReview{
			Review:    reviewFromRow(t, i),
			Sentiment: t.Cell(i, ColSentiment),
			Topics:    model.SplitTopics(t.Cell(i, ColTopics)),
		})
	}
	return out, nil
}

// WriteProcessed replaces path with the given records. The file is written
// to a temporary name first so readers never see a partial file.
func WriteProcessed(path string, records []model.ProcessedReview) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create date folder: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".processed-*.csv")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	w := csv.NewWriter(tmp)
	if err := w.Write(ProcessedColumns); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write header: %w", err)
	}
	for _, p := range records {
		rec := append(rawRecord(p.Review), p.Sentiment, p.TopicsString())
		if err := w.Write(rec); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("write record: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flush processed file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace processed file: %w", err)
	}
	return nil
}

func rawRecord(r model.Review) []string {
	at := ""
	if !r.At.IsZero() {
		at = r.At.UTC().Format(model.ReviewTimeLayout)
	}
	return []string{r.Author, strconv.Itoa(r.Rating), at, r.Text}
}

func reviewFromRow(t *Table, i int) model.Review {
	r := model.Review{
		Author: t.Cell(i, ColAuthor),
		Text:   t.Cell(i, ColContent),
	}
	if v := strings.TrimSpace(t.Cell(i, ColRating)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			r.Rating = int(f)
		}
	}
	if at, err := model.ParseTimestamp(t.Cell(i, ColAt)); err == nil {
		r.At = at
	}
	return r
}

// Package handoff defines the on-disk contract the pipeline stages use to
// pass data to each other. A producer writes to a well-known location and
// the next stage discovers it by name, so each stage can be scheduled on its
// own.
//
//	<base>/<app>_CSVFiles/last_scraped.txt
//	<base>/<app>_CSVFiles/<MM-DD-YYYY>/<app>_Reviews_<MM-DD-YYYY_HH-MM-SS>.csv
//	<base>/<app>_CSVFiles/<MM-DD-YYYY>/<app>_ReviewsProcessed_<MM-DD-YYYY>.csv
//
// Dates are UTC calendar dates. Folders are created on first write and never
// removed.
package handoff

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/LuisMada/SentiScan/internal/model"
)

const (
	checkpointFile = "last_scraped.txt"
	rawInfix       = "_Reviews_"
	processedInfix = "_ReviewsProcessed_"
	csvExt         = ".csv"
)

// Layout resolves every path of the handoff contract for one app
type Layout struct {
	baseDir string
	app     string
}

// NewLayout creates a layout rooted at baseDir
func NewLayout(baseDir, app string) Layout {
	if baseDir == "" {
		baseDir = "."
	}
	return Layout{baseDir: baseDir, app: app}
}

// Root is the per-app output folder holding the date folders
func (l Layout) Root() string {
	return filepath.Join(l.baseDir, l.app+"_CSVFiles")
}

// CheckpointPath is the watermark file. It lives outside date folders so it
// survives across days.
func (l Layout) CheckpointPath() string {
	return filepath.Join(l.Root(), checkpointFile)
}

// DateFolder returns the folder for the UTC calendar date of day
func (l Layout) DateFolder(day time.Time) string {
	return filepath.Join(l.Root(), day.UTC().Format(model.DateFolderLayout))
}

// RawFileName names the raw output of a scrape run started at runAt
func (l Layout) RawFileName(runAt time.Time) string {
	return l.app + rawInfix + runAt.UTC().Format(model.RunStampLayout) + csvExt
}

// RawPath is the full path of the raw output of a scrape run
func (l Layout) RawPath(runAt time.Time) string {
	return filepath.Join(l.DateFolder(runAt), l.RawFileName(runAt))
}

// ProcessedFileName names the day's processed output. It is derived from the
// date only, not from the raw file it came from.
func (l Layout) ProcessedFileName(day time.Time) string {
	return l.app + processedInfix + day.UTC().Format(model.DateFolderLayout) + csvExt
}

// ProcessedPath is the full path of the day's processed output
func (l Layout) ProcessedPath(day time.Time) string {
	return filepath.Join(l.DateFolder(day), l.ProcessedFileName(day))
}

// IsRawFile reports whether name follows the raw file pattern for this app
func (l Layout) IsRawFile(name string) bool {
	prefix := l.app + rawInfix
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, csvExt) {
		return false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), csvExt)
	_, err := time.Parse(model.RunStampLayout, stamp)
	return err == nil
}

// RawFiles lists the raw files in the day's folder, oldest run first.
// A missing folder or an empty listing is reported as model.ErrMissingInput.
func (l Layout) RawFiles(day time.Time) ([]string, error) {
	dir := l.DateFolder(day)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no folder for %s: %s", model.ErrMissingInput, day.UTC().Format(model.DateFolderLayout), dir)
		}
		return nil, fmt.Errorf("read date folder: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !l.IsRawFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no raw review files in %s", model.ErrMissingInput, dir)
	}

	// the run stamp is MM-DD-YYYY, which does not sort lexically across years
	sort.Slice(names, func(i, j int) bool {
		return l.runStamp(names[i]).Before(l.runStamp(names[j]))
	})

	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(dir, name)
	}
	return paths, nil
}

func (l Layout) runStamp(name string) time.Time {
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, l.app+rawInfix), csvExt)
	t, _ := time.Parse(model.RunStampLayout, stamp)
	return t
}

// FindProcessed returns the day's processed file or model.ErrMissingInput
func (l Layout) FindProcessed(day time.Time) (string, error) {
	path := l.ProcessedPath(day)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: processed file not found: %s", model.ErrMissingInput, path)
		}
		return "", fmt.Errorf("stat processed file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: processed path is a directory: %s", model.ErrMissingInput, path)
	}
	return path, nil
}

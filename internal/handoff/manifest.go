package handoff

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/LuisMada/SentiScan/internal/model"
)

const manifestFile = ".processed"

// ManifestPath is the per-day record of raw files already enriched
func (l Layout) ManifestPath(day time.Time) string {
	return filepath.Join(l.DateFolder(day), manifestFile)
}

// Processed returns the raw file names already marked as enriched for day
func (l Layout) Processed(day time.Time) (map[string]bool, error) {
	done := make(map[string]bool)

	f, err := os.Open(l.ManifestPath(day))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return done, nil
		}
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if name := strings.TrimSpace(scanner.Text()); name != "" {
			done[name] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return done, nil
}

// MarkProcessed records a raw file as enriched
func (l Layout) MarkProcessed(day time.Time, rawPath string) error {
	done, err := l.Processed(day)
	if err != nil {
		return err
	}
	done[filepath.Base(rawPath)] = true

	names := make([]string, 0, len(done))
	for name := range done {
		names = append(names, name)
	}
	sort.Strings(names)

	if err := os.MkdirAll(l.DateFolder(day), 0755); err != nil {
		return fmt.Errorf("create date folder: %w", err)
	}
	data := strings.Join(names, "\n") + "\n"
	if err := os.WriteFile(l.ManifestPath(day), []byte(data), 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// PendingRawFiles lists the day's raw files that are not yet marked processed.
// It returns model.ErrMissingInput when there is nothing to do.
func (l Layout) PendingRawFiles(day time.Time) ([]string, error) {
	all, err := l.RawFiles(day)
	if err != nil {
		return nil, err
	}
	done, err := l.Processed(day)
	if err != nil {
		return nil, err
	}

	var pending []string
	for _, path := range all {
		if !done[filepath.Base(path)] {
			pending = append(pending, path)
		}
	}
	if len(pending) == 0 {
		return nil, errAllProcessed(l.DateFolder(day))
	}
	return pending, nil
}

func errAllProcessed(dir string) error {
	return fmt.Errorf("%w: every raw file in %s is already processed", model.ErrMissingInput, dir)
}

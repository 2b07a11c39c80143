// Package checkpoint persists the scrape watermark: the timestamp of the
// newest review already captured.
package checkpoint

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/LuisMada/SentiScan/internal/model"
)

// Store reads and writes a single watermark value as plain text.
// There is no locking; concurrent writers race and the last one wins.
type Store struct {
	path   string
	logger *slog.Logger
}

// NewStore creates a store backed by the file at path
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// Path returns the backing file path
func (s *Store) Path() string {
	return s.path
}

// Load returns the persisted watermark. A missing, empty or unparsable file
// yields ok=false and is never an error.
func (s *Store) Load() (time.Time, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("watermark unreadable", "path", s.path, "error", fmt.Errorf("%w: %v", model.ErrWatermark, err))
		}
		return time.Time{}, false
	}

	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return time.Time{}, false
	}

	ts, err := model.ParseTimestamp(raw)
	if err != nil {
		s.logger.Warn("watermark corrupt, ignoring", "path", s.path, "error", fmt.Errorf("%w: %v", model.ErrWatermark, err))
		return time.Time{}, false
	}
	return ts, true
}

// Save overwrites the watermark unconditionally. The value goes to a temp
// file that is renamed over the old one, so a crash leaves either value
// intact.
func (s *Store) Save(ts time.Time) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".last_scraped-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0644); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod checkpoint: %w", err)
	}
	if _, err := tmp.WriteString(ts.UTC().Format(model.WatermarkLayout)); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

// Advance saves ts only if it is strictly newer than the stored watermark,
// so the watermark never moves backwards. It reports whether it wrote.
func (s *Store) Advance(ts time.Time) (bool, error) {
	if current, ok := s.Load(); ok && !ts.After(current) {
		s.logger.Debug("watermark not advanced", "current", current, "candidate", ts)
		return false, nil
	}
	if err := s.Save(ts); err != nil {
		return false, err
	}
	return true, nil
}

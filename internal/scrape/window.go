package scrape

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/LuisMada/SentiScan/internal/model"
)

// Window is the time range a fetch accepts reviews from
type Window struct {
	Cutoff time.Time
	// Inclusive accepts a review stamped exactly at Cutoff. It is set for
	// explicit date ranges, whose start day is part of the range.
	Inclusive bool
	// End, when set, skips (without stopping) reviews stamped after it
	End    time.Time
	Origin string
}

// Window origins, in order of precedence
const (
	OriginRange     = "date_range"
	OriginWatermark = "watermark"
	OriginLookback  = "lookback"
)

// Stops reports whether a review stamped at ts is at or past the cutoff.
// Source order is newest first, so nothing after it can be accepted.
func (w Window) Stops(ts time.Time) bool {
	if w.Inclusive {
		return ts.Before(w.Cutoff)
	}
	return !ts.After(w.Cutoff)
}

// Skips reports whether ts is newer than the range end
func (w Window) Skips(ts time.Time) bool {
	return !w.End.IsZero() && ts.After(w.End)
}

// ResolveWindow picks the cutoff: an explicit date range wins over the
// watermark, which wins over now minus time_to_scrape hours. An unparsable
// date range is logged and ignored.
func ResolveWindow(cfg model.ScrapeConfig, watermark time.Time, hasWatermark bool, now time.Time, logger *slog.Logger) Window {
	if logger == nil {
		logger = slog.Default()
	}

	if len(cfg.DateRange) > 0 {
		w, err := rangeWindow(cfg.DateRange)
		if err == nil {
			return w
		}
		logger.Warn("ignoring date_range", "date_range", cfg.DateRange, "error", err)
	}

	if hasWatermark {
		return Window{Cutoff: watermark.UTC(), Origin: OriginWatermark}
	}

	hours := cfg.TimeToScrape
	if hours <= 0 {
		hours = 24
	}
	return Window{
		Cutoff: now.UTC().Add(-time.Duration(hours) * time.Hour),
		Origin: OriginLookback,
	}
}

func rangeWindow(values []string) (Window, error) {
	if len(values) > 2 {
		return Window{}, fmt.Errorf("expected [start] or [start, end], got %d values", len(values))
	}

	start, err := model.ParseTimestamp(values[0])
	if err != nil {
		return Window{}, fmt.Errorf("start: %w", err)
	}
	w := Window{Cutoff: start, Inclusive: true, Origin: OriginRange}

	if len(values) == 2 && strings.TrimSpace(values[1]) != "" {
		end, err := model.ParseTimestamp(values[1])
		if err != nil {
			return Window{}, fmt.Errorf("end: %w", err)
		}
		if isDateOnly(values[1]) {
			// a bare date covers the whole day
			end = end.Add(24*time.Hour - time.Nanosecond)
		}
		if end.Before(start) {
			return Window{}, fmt.Errorf("end %s is before start %s", values[1], values[0])
		}
		w.End = end
	}
	return w, nil
}

func isDateOnly(s string) bool {
	_, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	return err == nil
}

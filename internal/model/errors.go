package model

import (
	"errors"
	"fmt"
	"net/http"
)

// Error taxonomy shared by all stages. Wrap with fmt.Errorf("...: %w", ErrX)
// or StageError and test with errors.Is.
var (
	// ErrConfig is returned for invalid or incomplete configuration
	ErrConfig = errors.New("invalid configuration")

	// ErrWatermark marks an unreadable checkpoint. It is soft: callers log it
	// and fall back to the default lookback window.
	ErrWatermark = errors.New("watermark unavailable")

	// ErrSourceFetch aborts a scrape run
	ErrSourceFetch = errors.New("review source fetch failed")

	// ErrClassification is per review and never aborts a batch
	ErrClassification = errors.New("classification failed")

	// ErrMissingInput means a stage found nothing to work on (soft no-op)
	ErrMissingInput = errors.New("input not found")

	// ErrPublish is recoverable: local files are untouched and publishing can be retried
	ErrPublish = errors.New("publish failed")
)

// StageError attaches the pipeline stage to a taxonomy error.
type StageError struct {
	Stage string
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As.
func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewStageError builds a StageError.
func NewStageError(stage string, kind, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

// HTTPStatusError is returned by the HTTP adapters for non-2xx responses.
type HTTPStatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Service, e.StatusCode, e.Body)
}

// Temporary reports whether a retry may succeed (rate limited or server side).
func (e *HTTPStatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Package metrics collects per-run pipeline metrics and writes them in the
// Prometheus text format for the node exporter textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sentiscan"

// Recorder is the set of metrics one process run reports.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	reviewsFetched  prometheus.Counter
	pagesFetched    prometheus.Counter
	classifications *prometheus.CounterVec
	rowsPublished   prometheus.Counter
	stageDuration   *prometheus.GaugeVec
	stageResult     *prometheus.GaugeVec
	watermark       prometheus.Gauge
}

// New creates a Recorder with its own registry. app is attached to every
// series as a constant label.
func New(app string) *Recorder {
	labels := prometheus.Labels{"app": app}
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		reviewsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "reviews_fetched_total",
			Help:        "Reviews accepted by the scraper.",
			ConstLabels: labels,
		}),
		pagesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "pages_fetched_total",
			Help:        "Review pages requested from the source.",
			ConstLabels: labels,
		}),
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "classifications_total",
			Help:        "Classifier calls by kind and status.",
			ConstLabels: labels,
		}, []string{"kind", "status"}),
		rowsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "rows_published_total",
			Help:        "Data rows written to the publish target.",
			ConstLabels: labels,
		}),
		stageDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "stage_duration_seconds",
			Help:        "Wall time of the last run of each stage.",
			ConstLabels: labels,
		}, []string{"stage"}),
		stageResult: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "stage_last_result",
			Help:        "Outcome of the last run of each stage (1 for the current result).",
			ConstLabels: labels,
		}, []string{"stage", "result"}),
		watermark: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "watermark_timestamp_seconds",
			Help:        "Unix time of the newest review captured.",
			ConstLabels: labels,
		}),
	}

	r.registry.MustRegister(
		r.reviewsFetched,
		r.pagesFetched,
		r.classifications,
		r.rowsPublished,
		r.stageDuration,
		r.stageResult,
		r.watermark,
	)
	return r
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// AddReviews counts accepted reviews
func (r *Recorder) AddReviews(n int) {
	if r == nil {
		return
	}
	r.reviewsFetched.Add(float64(n))
}

// IncPages counts a page request
func (r *Recorder) IncPages() {
	if r == nil {
		return
	}
	r.pagesFetched.Inc()
}

// RecordClassification counts one classifier call. kind is sentiment or
// topics; ok is false when the fallback label was used.
func (r *Recorder) RecordClassification(kind string, ok bool) {
	if r == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "fallback"
	}
	r.classifications.WithLabelValues(kind, status).Inc()
}

// AddRowsPublished counts published data rows
func (r *Recorder) AddRowsPublished(n int) {
	if r == nil {
		return
	}
	r.rowsPublished.Add(float64(n))
}

// SetWatermark records the newest captured review time
func (r *Recorder) SetWatermark(ts time.Time) {
	if r == nil || ts.IsZero() {
		return
	}
	r.watermark.Set(float64(ts.Unix()))
}

// ObserveStage records how long a stage took and how it ended.
// result is one of ok, missing_input or error.
func (r *Recorder) ObserveStage(stage string, start time.Time, result string) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Set(time.Since(start).Seconds())
	for _, res := range []string{ResultOK, ResultMissingInput, ResultError} {
		v := 0.0
		if res == result {
			v = 1
		}
		r.stageResult.WithLabelValues(stage, res).Set(v)
	}
}

// Stage results
const (
	ResultOK           = "ok"
	ResultMissingInput = "missing_input"
	ResultError        = "error"
)

// WriteTextfile writes the registry to path atomically. An empty path is a no-op.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

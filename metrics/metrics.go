// Package metrics records per-run pipeline metrics and writes them in the Prometheus
// text format for the node exporter textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// File outcome labels.
const (
	StatusProcessed      = "processed"
	StatusSchemaMismatch = "schema_mismatch"
	StatusReadError      = "read_error"
)

// RunMetrics groups the collectors of one process on a private registry.
type RunMetrics struct {
	registry *prometheus.Registry

	FilesTotal       *prometheus.CounterVec
	RecordsExtracted prometheus.Counter
	RecordsAppended  prometheus.Counter
	RecordsSkipped   prometheus.Counter
	LossyDecodes     prometheus.Counter
	RunsTotal        *prometheus.CounterVec
	LastRunTimestamp prometheus.Gauge
	RunDuration      prometheus.Gauge
	ViewRows         prometheus.Gauge
}

// New registers the pipeline collectors on a fresh registry.
func New() *RunMetrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &RunMetrics{
		registry: reg,
		FilesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "inverter_report_files_total",
			Help: "Report files handled, by outcome",
		}, []string{"status"}),
		RecordsExtracted: f.NewCounter(prometheus.CounterOpts{
			Name: "inverter_report_records_extracted_total",
			Help: "Canonical records extracted from report files",
		}),
		RecordsAppended: f.NewCounter(prometheus.CounterOpts{
			Name: "inverter_report_records_appended_total",
			Help: "Records appended to the master dataset",
		}),
		RecordsSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "inverter_report_records_skipped_total",
			Help: "Records skipped by dedup-on-write",
		}),
		LossyDecodes: f.NewCounter(prometheus.CounterOpts{
			Name: "inverter_report_lossy_decodes_total",
			Help: "Delimited reports that needed lossy UTF-8 decoding",
		}),
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "inverter_report_runs_total",
			Help: "Pipeline runs, by result",
		}, []string{"result"}),
		LastRunTimestamp: f.NewGauge(prometheus.GaugeOpts{
			Name: "inverter_report_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		}),
		RunDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "inverter_report_last_run_duration_seconds",
			Help: "Wall time of the last run",
		}),
		ViewRows: f.NewGauge(prometheus.GaugeOpts{
			Name: "inverter_report_view_rows",
			Help: "Device rows in the last written pivot view",
		}),
	}
}

// ObserveRun records the end of a run.
func (m *RunMetrics) ObserveRun(result string, started, finished time.Time) {
	m.RunsTotal.WithLabelValues(result).Inc()
	m.LastRunTimestamp.Set(float64(finished.Unix()))
	m.RunDuration.Set(finished.Sub(started).Seconds())
}

// Registry exposes the underlying registry, mainly for tests.
func (m *RunMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes all collectors to path atomically.
func (m *RunMetrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("metrics: create dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("metrics: write %q: %w", path, err)
	}
	return nil
}

package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are collected per process and written once as a node_exporter
// textfile when the job ends.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPCallsTotal *prometheus.CounterVec
	HTTPLatency    *prometheus.HistogramVec

	FilesDownloaded *prometheus.CounterVec
	BytesDownloaded *prometheus.CounterVec
	FilesSkipped    *prometheus.CounterVec

	StageRuns     *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec

	WavenumbersProjected *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		HTTPCallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qmodes_http_calls_total",
				Help: "Total HTTP calls to remote data services",
			},
			[]string{"service", "status"},
		),
		HTTPLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "qmodes_http_latency_seconds",
				Help:    "HTTP call latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service"},
		),
		FilesDownloaded: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qmodes_files_downloaded_total",
				Help: "Total files downloaded",
			},
			[]string{"source"},
		),
		BytesDownloaded: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qmodes_bytes_downloaded_total",
				Help: "Total bytes downloaded",
			},
			[]string{"source"},
		),
		FilesSkipped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qmodes_files_skipped_total",
				Help: "Files skipped because a verified local copy exists",
			},
			[]string{"source"},
		),
		StageRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qmodes_stage_runs_total",
				Help: "Job runs by stage and outcome",
			},
			[]string{"stage", "status"},
		),
		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "qmodes_stage_duration_seconds",
				Help:    "Job duration in seconds",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"stage"},
		),
		WavenumbersProjected: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qmodes_wavenumbers_projected_total",
				Help: "Zonal wavenumbers projected onto q",
			},
			[]string{"species"},
		),
	}
}

// WriteTextfile writes the registry to path. An empty path is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

// Package pipeline runs the qmodes batch jobs. Jobs read and write files
// under the configured data and output directories and every run is
// recorded in the catalog.
package pipeline

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lox/qmodes/internal/config"
	"github.com/lox/qmodes/internal/era5"
	"github.com/lox/qmodes/internal/metrics"
	"github.com/lox/qmodes/internal/models"
	"github.com/lox/qmodes/internal/ncio"
	"github.com/lox/qmodes/internal/store"
)

// Stage names as recorded in the catalog and metrics.
const (
	StageFetchModes = "fetch-modes"
	StageFetchERA5  = "fetch-era5"
	StageVSFInt     = "vsf-int"
	StageQK         = "qk"
	StageQModes     = "qmodes"
	StageVariance   = "variance"
	StageBands      = "bands"
	StageContour    = "contour"
	StageDispersion = "dispersion"
)

// CreationDateLayout formats the creation_date attribute of output files.
const CreationDateLayout = "01/02/2006, 15:04:05"

type Runner struct {
	Config  *config.Config
	Store   *store.Store // optional
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Clock   clockwork.Clock
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func (r *Runner) clock() clockwork.Clock {
	if r.Clock == nil {
		return clockwork.NewRealClock()
	}
	return r.Clock
}

// Track runs fn as one run of stage and records the outcome. fn receives
// the catalog run id (empty without a store) and returns the main output
// path.
func (r *Runner) Track(stage, date, species string, params any, fn func(runID string) (string, error)) (string, error) {
	log := r.logger().With("stage", stage)
	start := r.clock().Now()

	var run *models.Run
	if r.Store != nil {
		var err error
		run, err = r.Store.StartRun(stage, date, species, params)
		if err != nil {
			log.Warn("record run start", "error", err)
		}
	}
	runID := ""
	if run != nil {
		runID = run.ID
	}

	output, err := fn(runID)
	elapsed := r.clock().Since(start)

	if run != nil {
		if cerr := r.Store.CompleteRun(run, output, err); cerr != nil {
			log.Warn("record run completion", "error", cerr)
		}
	}
	if r.Metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		r.Metrics.StageRuns.WithLabelValues(stage, status).Inc()
		r.Metrics.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	}
	if err != nil {
		return output, fmt.Errorf("%s: %w", stage, err)
	}
	log.Info("stage complete", "output", output, "duration", elapsed.Round(time.Millisecond))
	return output, nil
}

// provenance is the set of global attributes stamped on every output
// file. Unset author details are left out.
func (r *Runner) provenance() []ncio.Attr {
	attrs := []ncio.Attr{{Key: "creation_date", Value: r.clock().Now().Format(CreationDateLayout)}}
	if r.Config.Author != "" {
		attrs = append(attrs, ncio.Attr{Key: "author", Value: r.Config.Author})
	}
	if r.Config.Email != "" {
		attrs = append(attrs, ncio.Attr{Key: "email", Value: r.Config.Email})
	}
	return attrs
}

// ERAFile is the interpolated ERA5 file fetch-era5 writes for a date.
func (r *Runner) ERAFile(date time.Time) string {
	return filepath.Join(r.Config.Paths().ERA, era5.FileNames(date, era5.DefaultOptions()).Output)
}

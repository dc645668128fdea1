package era5

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lox/qmodes/internal/metrics"
	"github.com/lox/qmodes/internal/models"
	"github.com/lox/qmodes/internal/store"
)

// Fetcher retrieves and interpolates one file per day.
type Fetcher struct {
	CDS     *CDSClient
	CDO     Commander
	Store   *store.Store
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Dir     string
	Options Options
	RunID   string

	// Progress, when set, is called after each day.
	Progress func(day time.Time)
}

// Days lists the dates from start to end inclusive.
func Days(start, end time.Time) ([]time.Time, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("end %s is before start %s", end.Format("20060102"), start.Format("20060102"))
	}
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days, nil
}

// FetchRange fetches every day in [start, end] and returns the output
// paths.
func (f *Fetcher) FetchRange(ctx context.Context, start, end time.Time) ([]string, error) {
	if err := f.Options.Validate(); err != nil {
		return nil, err
	}
	days, err := Days(start, end)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, day := range days {
		path, err := f.FetchDay(ctx, day)
		if err != nil {
			return out, fmt.Errorf("%s: %w", day.Format("20060102"), err)
		}
		out = append(out, path)
		if f.Progress != nil {
			f.Progress(day)
		}
	}
	return out, nil
}

// FetchDay produces ERA5_<date>_<names>_pl_data.nc. A day whose output
// already exists is skipped.
func (f *Fetcher) FetchDay(ctx context.Context, day time.Time) (string, error) {
	log := f.logger().With("date", day.Format("20060102"))
	files := FileNames(day, f.Options)
	out := filepath.Join(f.Dir, files.Output)

	if _, err := os.Stat(out); err == nil {
		log.Info("already retrieved", "file", files.Output)
		if f.Metrics != nil {
			f.Metrics.FilesSkipped.WithLabelValues("cds").Inc()
		}
		return out, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	for _, r := range []struct {
		req  Request
		name string
	}{
		{ModelLevelRequest(day, f.Options), files.ModelLevels},
		{SurfaceRequest(day, f.Options), files.Surface},
	} {
		job, n, err := f.CDS.Retrieve(ctx, Dataset, r.req, filepath.Join(f.Dir, r.name))
		if f.Store != nil && job != nil {
			doc, _ := json.Marshal(map[string]any{"job": job, "inputs": r.req})
			if _, serr := f.Store.StoreRawPayload(f.RunID, "cds", "jobs/"+job.JobID, doc); serr != nil {
				log.Warn("archive cds job", "error", serr)
			}
		}
		if err != nil {
			return "", err
		}
		log.Info("retrieved", "file", r.name, "size_mb", fmt.Sprintf("%.1f", float64(n)/(1<<20)))
		if f.Metrics != nil {
			f.Metrics.FilesDownloaded.WithLabelValues("cds").Inc()
			f.Metrics.BytesDownloaded.WithLabelValues("cds").Add(float64(n))
		}
	}

	if err := Interpolate(ctx, f.CDO, f.Dir, files); err != nil {
		return "", err
	}

	info, err := os.Stat(out)
	if err != nil {
		return "", fmt.Errorf("interpolated output: %w", err)
	}
	if f.Store != nil {
		if err := f.Store.RecordDownload(models.Download{Source: "cds", Dataset: "era5", Path: out, Size: info.Size()}); err != nil {
			return "", err
		}
	}
	log.Info("interpolated to pressure levels", "file", files.Output)
	return out, nil
}

func (f *Fetcher) logger() *slog.Logger {
	if f.Logger == nil {
		return slog.Default()
	}
	return f.Logger
}

package zenodo

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"

	"github.com/lox/qmodes/internal/metrics"
	"github.com/lox/qmodes/internal/models"
	"github.com/lox/qmodes/internal/store"
)

// Fetcher downloads datasets into a data directory, skipping files whose
// checksum already matches.
type Fetcher struct {
	Client  *Client
	Mirror  Mirror // optional
	Store   *store.Store
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	DataDir string
	RunID   string

	// Progress, when set, is called after each file of a record.
	Progress func(done, total int)
}

// FetchResult summarises one dataset.
type FetchResult struct {
	Dataset    Dataset
	Title      string
	DOI        string
	TotalBytes int64
	Downloaded int
	Skipped    int
}

func (f *Fetcher) logger() *slog.Logger {
	if f.Logger == nil {
		return slog.Default()
	}
	return f.Logger
}

// Fetch downloads every file of a dataset record.
func (f *Fetcher) Fetch(ctx context.Context, ds Dataset) (*FetchResult, error) {
	log := f.logger().With("dataset", ds.Name)

	id, err := f.Client.ResolveRecordID(ctx, ds.DOI)
	if err != nil {
		return nil, err
	}
	rec, raw, err := f.Client.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if f.Store != nil {
		if _, err := f.Store.StoreRawPayload(f.RunID, "zenodo", "records/"+id, raw); err != nil {
			return nil, err
		}
	}

	res := &FetchResult{Dataset: ds, Title: rec.Metadata.Title, DOI: rec.Metadata.DOI, TotalBytes: rec.TotalSize()}
	log.Info("dataset",
		"title", rec.Metadata.Title,
		"doi", rec.Metadata.DOI,
		"total_mb", fmt.Sprintf("%.1f", float64(res.TotalBytes)/(1<<20)),
		"files", len(rec.Files))

	dir := filepath.Join(f.DataDir, ds.Dir)
	for i, file := range rec.Files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		dst := filepath.Join(dir, file.Key)

		ok, err := VerifyChecksum(dst, file.Checksum)
		if err != nil {
			return res, fmt.Errorf("%s: %w", file.Key, err)
		}
		if ok {
			log.Debug("already downloaded", "file", file.Key)
			res.Skipped++
			if f.Metrics != nil {
				f.Metrics.FilesSkipped.WithLabelValues("zenodo").Inc()
			}
			f.progress(i+1, len(rec.Files))
			continue
		}

		source, n, err := f.download(ctx, ds, file, dst)
		if err != nil {
			return res, err
		}
		ok, err = VerifyChecksum(dst, file.Checksum)
		if err != nil {
			return res, fmt.Errorf("%s: %w", file.Key, err)
		}
		if !ok {
			return res, fmt.Errorf("%s: checksum mismatch after download", file.Key)
		}

		res.Downloaded++
		log.Info("downloaded", "file", filepath.Join(ds.Dir, file.Key), "size_mb", fmt.Sprintf("%.2f", float64(n)/(1<<20)), "source", source)
		if f.Metrics != nil {
			f.Metrics.FilesDownloaded.WithLabelValues(source).Inc()
			f.Metrics.BytesDownloaded.WithLabelValues(source).Add(float64(n))
		}
		if f.Store != nil {
			if err := f.Store.RecordDownload(models.Download{
				Source:   source,
				Dataset:  ds.Dir,
				Path:     dst,
				Size:     n,
				Checksum: sql.NullString{String: file.Checksum, Valid: file.Checksum != ""},
			}); err != nil {
				return res, err
			}
		}
		f.progress(i+1, len(rec.Files))
	}
	return res, nil
}

// download prefers the mirror and falls back to Zenodo.
func (f *Fetcher) download(ctx context.Context, ds Dataset, file File, dst string) (string, int64, error) {
	if f.Mirror != nil {
		n, err := f.Mirror.Fetch(ctx, path.Join(ds.Dir, file.Key), dst)
		if err == nil {
			return "ftp", n, nil
		}
		f.logger().Warn("mirror fetch failed, using zenodo", "file", file.Key, "error", err)
	}
	n, err := f.Client.Download(ctx, file, dst)
	if err != nil {
		return "", 0, fmt.Errorf("download %s: %w", file.Key, err)
	}
	return "zenodo", n, nil
}

func (f *Fetcher) progress(done, total int) {
	if f.Progress != nil {
		f.Progress(done, total)
	}
}

package models

import (
	"database/sql"
	"time"
)

// Download is a file fetched into the data directory.
type Download struct {
	ID        int64
	Source    string // "zenodo", "ftp", "cds"
	Dataset   string // "vsf", "coef", "hough", "era5"
	Path      string
	Size      int64
	Checksum  sql.NullString // "md5:<hex>" when the source publishes one
	FetchedAt time.Time
}

// Run is one invocation of a batch job.
type Run struct {
	ID         string
	Stage      string // "fetch-modes", "fetch-era5", "vsf-int", "qk", "qmodes", ...
	Date       sql.NullString
	Species    sql.NullString
	Params     string // JSON encoded flags
	Output     sql.NullString
	StartedAt  time.Time
	FinishedAt sql.NullTime
	Success    bool
	Error      sql.NullString
}

// Duration is the wall time of a finished run, zero while running.
func (r Run) Duration() time.Duration {
	if !r.FinishedAt.Valid {
		return 0
	}
	return r.FinishedAt.Time.Sub(r.StartedAt)
}

// StageSummary aggregates runs of one stage.
type StageSummary struct {
	Stage     string
	Runs      int
	Failures  int
	LastRunAt sql.NullTime
}

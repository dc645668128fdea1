package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"

	"github.com/lox/qmodes/internal/models"
)

// Store is the catalog of downloads and job runs.
type Store struct {
	db    *sql.DB
	clock clockwork.Clock
}

func New(db *sql.DB, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{db: db, clock: clock}
}

// Open opens (creating if needed) the catalog at path and migrates it.
func Open(path string, clock clockwork.Clock) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create catalog dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	if path == ":memory:" {
		// each pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	s := New(db, clock)
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordDownload stores a fetched file, replacing any earlier record for
// the same path.
func (s *Store) RecordDownload(d models.Download) error {
	if d.FetchedAt.IsZero() {
		d.FetchedAt = s.clock.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO downloads (source, dataset, path, size, checksum, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			source = excluded.source,
			dataset = excluded.dataset,
			size = excluded.size,
			checksum = excluded.checksum,
			fetched_at = excluded.fetched_at
	`, d.Source, d.Dataset, d.Path, d.Size, d.Checksum, d.FetchedAt)
	if err != nil {
		return fmt.Errorf("record download %s: %w", d.Path, err)
	}
	return nil
}

// GetDownload returns the record for path, or nil when none exists.
func (s *Store) GetDownload(path string) (*models.Download, error) {
	row := s.db.QueryRow(`
		SELECT id, source, dataset, path, size, checksum, fetched_at
		FROM downloads
		WHERE path = ?
	`, path)

	var d models.Download
	err := row.Scan(&d.ID, &d.Source, &d.Dataset, &d.Path, &d.Size, &d.Checksum, &d.FetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDownloads returns downloads of a dataset, or all when dataset is
// empty, newest first.
func (s *Store) ListDownloads(dataset string) ([]models.Download, error) {
	rows, err := s.db.Query(`
		SELECT id, source, dataset, path, size, checksum, fetched_at
		FROM downloads
		WHERE ? = '' OR dataset = ?
		ORDER BY fetched_at DESC, id DESC
	`, dataset, dataset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var downloads []models.Download
	for rows.Next() {
		var d models.Download
		if err := rows.Scan(&d.ID, &d.Source, &d.Dataset, &d.Path, &d.Size, &d.Checksum, &d.FetchedAt); err != nil {
			return nil, err
		}
		downloads = append(downloads, d)
	}
	return downloads, rows.Err()
}

// DownloadedBytes sums the recorded sizes per dataset.
func (s *Store) DownloadedBytes() (map[string]int64, error) {
	rows, err := s.db.Query(`SELECT dataset, SUM(size) FROM downloads GROUP BY dataset`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var dataset string
		var total int64
		if err := rows.Scan(&dataset, &total); err != nil {
			return nil, err
		}
		out[dataset] = total
	}
	return out, rows.Err()
}

package store

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// RawPayload is an archived API response: Zenodo record metadata or a
// CDS job document.
type RawPayload struct {
	ID                int64
	RunID             sql.NullString
	FetchedAt         time.Time
	Source            string
	Endpoint          string
	PayloadCompressed []byte
	PayloadHash       string
}

// StoreRawPayload gzips and stores a payload. It returns the payload id,
// or 0 when an identical payload is already stored.
func (s *Store) StoreRawPayload(runID, source, endpoint string, payload []byte) (int64, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return 0, fmt.Errorf("compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("close gzip: %w", err)
	}

	hash := sha256.Sum256(payload)
	result, err := s.db.Exec(`
		INSERT INTO raw_payloads (run_id, fetched_at, source, endpoint, payload_compressed, payload_hash)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(payload_hash) DO NOTHING
	`, sql.NullString{String: runID, Valid: runID != ""}, s.clock.Now().UTC(), source, endpoint,
		buf.Bytes(), hex.EncodeToString(hash[:]))
	if err != nil {
		return 0, fmt.Errorf("insert raw payload: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil || n == 0 {
		return 0, err
	}
	return result.LastInsertId()
}

// GetRawPayload retrieves and decompresses a stored payload by id.
func (s *Store) GetRawPayload(id int64) ([]byte, error) {
	var compressed []byte
	err := s.db.QueryRow(`SELECT payload_compressed FROM raw_payloads WHERE id = ?`, id).
		Scan(&compressed)
	if err != nil {
		return nil, err
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	return io.ReadAll(gz)
}

// LatestRawPayload returns the newest payload for a source and endpoint,
// or nil when none is stored.
func (s *Store) LatestRawPayload(source, endpoint string) (*RawPayload, error) {
	row := s.db.QueryRow(`
		SELECT id, run_id, fetched_at, source, endpoint, payload_compressed, payload_hash
		FROM raw_payloads
		WHERE source = ? AND endpoint = ?
		ORDER BY fetched_at DESC, id DESC
		LIMIT 1
	`, source, endpoint)

	var p RawPayload
	err := row.Scan(&p.ID, &p.RunID, &p.FetchedAt, &p.Source, &p.Endpoint, &p.PayloadCompressed, &p.PayloadHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

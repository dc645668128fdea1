package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lox/qmodes/internal/models"
)

// StartRun creates a run record for a job and returns it.
func (s *Store) StartRun(stage, date, species string, params any) (*models.Run, error) {
	encoded, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode run params: %w", err)
	}
	run := &models.Run{
		ID:        uuid.NewString(),
		Stage:     stage,
		Date:      sql.NullString{String: date, Valid: date != ""},
		Species:   sql.NullString{String: species, Valid: species != ""},
		Params:    string(encoded),
		StartedAt: s.clock.Now().UTC(),
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (id, stage, date, species, params, started_at, success)
		VALUES (?, ?, ?, ?, ?, ?, FALSE)
	`, run.ID, run.Stage, run.Date, run.Species, run.Params, run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// CompleteRun marks the run finished with its output or error.
func (s *Store) CompleteRun(run *models.Run, output string, runErr error) error {
	if run == nil {
		return nil
	}
	run.FinishedAt = sql.NullTime{Time: s.clock.Now().UTC(), Valid: true}
	run.Output = sql.NullString{String: output, Valid: output != ""}
	run.Success = runErr == nil
	if runErr != nil {
		run.Error = sql.NullString{String: runErr.Error(), Valid: true}
	}

	_, err := s.db.Exec(`
		UPDATE runs SET finished_at = ?, output = ?, success = ?, error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.Output, run.Success, run.Error, run.ID)
	if err != nil {
		return fmt.Errorf("complete run %s: %w", run.ID, err)
	}
	return nil
}

const runColumns = `id, stage, date, species, params, output, started_at, finished_at, success, error_message`

func scanRun(sc interface{ Scan(...any) error }) (models.Run, error) {
	var r models.Run
	err := sc.Scan(&r.ID, &r.Stage, &r.Date, &r.Species, &r.Params, &r.Output, &r.StartedAt, &r.FinishedAt, &r.Success, &r.Error)
	return r, err
}

// GetRun returns a run by id, or nil when it does not exist.
func (s *Store) GetRun(id string) (*models.Run, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRuns returns the most recent runs, optionally of one stage.
func (s *Store) ListRuns(stage string, limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT `+runColumns+`
		FROM runs
		WHERE ? = '' OR stage = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, stage, stage, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// StageSummaries counts runs and failures per stage.
func (s *Store) StageSummaries() ([]models.StageSummary, error) {
	rows, err := s.db.Query(`SELECT stage, started_at, success FROM runs ORDER BY stage, started_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.StageSummary
	for rows.Next() {
		var stage string
		var started time.Time
		var success bool
		if err := rows.Scan(&stage, &started, &success); err != nil {
			return nil, err
		}
		if len(out) == 0 || out[len(out)-1].Stage != stage {
			out = append(out, models.StageSummary{Stage: stage})
		}
		st := &out[len(out)-1]
		st.Runs++
		if !success {
			st.Failures++
		}
		st.LastRunAt = sql.NullTime{Time: started, Valid: true}
	}
	return out, rows.Err()
}

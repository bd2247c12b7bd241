package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	ref_path    TEXT NOT NULL,
	stop        TEXT NOT NULL,
	iterations  INTEGER NOT NULL,
	applied     INTEGER NOT NULL,
	final_score REAL NOT NULL,
	created_at  INTEGER NOT NULL,
	payload     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_created_at ON runs (created_at DESC);
`

// SQLiteStore implements the Store interface on an embedded SQLite database.
// Listing columns are denormalized next to the JSON payload so ListRuns
// never decodes full records.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) the database at path and applies the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY between our own goroutines
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	slog.Debug("SQLite store opened", "path", path)
	return &SQLiteStore{db: db, path: path}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveRun validates and upserts a run record.
func (s *SQLiteStore) SaveRun(rec *RunRecord) error {
	if rec == nil {
		return fmt.Errorf("run record cannot be nil")
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to serialize run record: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (run_id, ref_path, stop, iterations, applied, final_score, created_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			ref_path = excluded.ref_path,
			stop = excluded.stop,
			iterations = excluded.iterations,
			applied = excluded.applied,
			final_score = excluded.final_score,
			created_at = excluded.created_at,
			payload = excluded.payload`,
		rec.RunID, rec.Config.RefPath, rec.Stop, rec.Iterations, len(rec.Applied),
		rec.FinalScore, rec.Timestamp.UnixNano(), string(payload))
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	slog.Debug("Run saved", "run_id", rec.RunID, "path", s.path)
	return nil
}

// LoadRun retrieves the record for the given run.
func (s *SQLiteStore) LoadRun(runID string) (*RunRecord, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}

	var payload string
	err := s.db.QueryRow(`SELECT payload FROM runs WHERE run_id = ?`, runID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{RunID: runID}
	} else if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	var rec RunRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("failed to deserialize run record: %w", err)
	}
	return &rec, nil
}

// ListRuns returns metadata for all stored runs, newest first.
func (s *SQLiteStore) ListRuns() ([]RunInfo, error) {
	rows, err := s.db.Query(`
		SELECT run_id, ref_path, stop, iterations, applied, final_score, created_at
		FROM runs ORDER BY created_at DESC, run_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	infos := []RunInfo{}
	for rows.Next() {
		var info RunInfo
		var created int64
		if err := rows.Scan(&info.RunID, &info.RefPath, &info.Stop, &info.Iterations,
			&info.Applied, &info.FinalScore, &created); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		info.Timestamp = time.Unix(0, created)
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return infos, nil
}

// DeleteRun removes the record for the given run.
func (s *SQLiteStore) DeleteRun(runID string) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}

	res, err := s.db.Exec(`DELETE FROM runs WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n == 0 {
		return &NotFoundError{RunID: runID}
	}

	slog.Debug("Run deleted", "run_id", runID, "path", s.path)
	return nil
}

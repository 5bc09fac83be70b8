// Package sqlite implements run persistence on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/nebelbild/data-analysis/pkg/domain"
	"github.com/nebelbild/data-analysis/pkg/store"
)

// Store persists runs and threads in a SQLite database.
type Store struct {
	db *sql.DB
}

// Verify interface compliance.
var _ store.RunStore = (*Store)(nil)

// New opens (creating if needed) the database at path and applies the
// schema. WAL mode keeps the HTTP handlers and the orchestrator from
// blocking each other.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	request TEXT NOT NULL,
	file_path TEXT NOT NULL DEFAULT '',
	output_dir TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMP NOT NULL,
	ended_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_runs_session ON runs(session_id, started_at DESC);

CREATE TABLE IF NOT EXISTS threads (
	run_id TEXT NOT NULL REFERENCES runs(id),
	seq INTEGER NOT NULL,
	execution_id INTEGER NOT NULL,
	process_id TEXT NOT NULL,
	thread_id INTEGER NOT NULL,
	user_request TEXT NOT NULL DEFAULT '',
	code TEXT NOT NULL,
	stdout TEXT NOT NULL DEFAULT '',
	stderr TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	observation TEXT NOT NULL DEFAULT '',
	results TEXT NOT NULL DEFAULT '[]',
	saved_paths TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (run_id, seq)
);
`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateRun(ctx context.Context, run *domain.Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, session_id, request, file_path, output_dir, status, error, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.SessionID, run.Request, run.FilePath, run.OutputDir,
		run.Status, run.Error, run.StartedAt)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}
	return nil
}

func (s *Store) FinishRun(ctx context.Context, runID, status, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, ended_at = ? WHERE id = ?`,
		status, errMsg, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

func (s *Store) AppendThread(ctx context.Context, runID string, t *domain.DataThread) error {
	results, err := json.Marshal(t.Results)
	if err != nil {
		return fmt.Errorf("encoding thread results: %w", err)
	}
	saved, err := json.Marshal(t.SavedPaths)
	if err != nil {
		return fmt.Errorf("encoding thread paths: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO threads (run_id, seq, execution_id, process_id, thread_id,
			user_request, code, stdout, stderr, error, observation, results, saved_paths)
		VALUES (?, (SELECT COALESCE(MAX(seq), -1) + 1 FROM threads WHERE run_id = ?),
			?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, runID, t.ID, t.ProcessID, t.ThreadID,
		t.UserRequest, t.Code, t.Stdout, t.Stderr, t.Error, t.Observation,
		string(results), string(saved))
	if err != nil {
		return fmt.Errorf("inserting thread for run %s: %w", runID, err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, request, file_path, output_dir, status, error, started_at, ended_at
		FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}
	return run, nil
}

func (s *Store) ListRuns(ctx context.Context, sessionID string) ([]domain.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, request, file_path, output_dir, status, error, started_at, ended_at
		FROM runs WHERE session_id = ? ORDER BY started_at DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing runs for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (s *Store) ListThreads(ctx context.Context, runID string) ([]domain.DataThread, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_id, process_id, thread_id, user_request, code,
			stdout, stderr, error, observation, results, saved_paths
		FROM threads WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing threads for run %s: %w", runID, err)
	}
	defer rows.Close()

	var threads []domain.DataThread
	for rows.Next() {
		var t domain.DataThread
		var results, saved string
		err := rows.Scan(&t.ID, &t.ProcessID, &t.ThreadID, &t.UserRequest, &t.Code,
			&t.Stdout, &t.Stderr, &t.Error, &t.Observation, &results, &saved)
		if err != nil {
			return nil, fmt.Errorf("scanning thread: %w", err)
		}
		if err := json.Unmarshal([]byte(results), &t.Results); err != nil {
			return nil, fmt.Errorf("decoding thread results: %w", err)
		}
		if err := json.Unmarshal([]byte(saved), &t.SavedPaths); err != nil {
			return nil, fmt.Errorf("decoding thread paths: %w", err)
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*domain.Run, error) {
	var run domain.Run
	var endedAt sql.NullTime
	err := row.Scan(&run.ID, &run.SessionID, &run.Request, &run.FilePath,
		&run.OutputDir, &run.Status, &run.Error, &run.StartedAt, &endedAt)
	if err != nil {
		return nil, err
	}
	if endedAt.Valid {
		run.EndedAt = endedAt.Time
	}
	return &run, nil
}

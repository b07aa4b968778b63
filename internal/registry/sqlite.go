package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go)
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
  id          TEXT PRIMARY KEY,
  backend     TEXT NOT NULL,
  deployment  TEXT NOT NULL,
  nodes       INTEGER NOT NULL,
  started_at  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS processes (
  id          INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id      TEXT NOT NULL REFERENCES runs(id),
  role        TEXT NOT NULL,
  identity    INTEGER NOT NULL,
  port        INTEGER NOT NULL,
  handle_id   TEXT,
  started_at  TEXT NOT NULL,
  exit_code   INTEGER,
  exited_at   TEXT,
  error       TEXT
);
CREATE INDEX IF NOT EXISTS processes_run ON processes(run_id, identity);
`

// SQLiteStore is a Store backed by a SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the schema.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Exit callbacks arrive from many goroutines; one connection serializes writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the tables if they do not exist.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// RecordRun inserts a run.
func (s *SQLiteStore) RecordRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, backend, deployment, nodes, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Backend, run.Deployment, run.Nodes, formatTime(run.StartedAt))
	if err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}
	return nil
}

// RecordProcess inserts a spawn attempt.
func (s *SQLiteStore) RecordProcess(ctx context.Context, p Process) error {
	var exitCode sql.NullInt64
	var exitedAt, errMsg sql.NullString
	if p.Exited {
		exitCode = sql.NullInt64{Int64: int64(p.ExitCode), Valid: true}
		exitedAt = sql.NullString{String: formatTime(p.ExitedAt), Valid: true}
	}
	if p.Error != "" {
		errMsg = sql.NullString{String: p.Error, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processes (run_id, role, identity, port, handle_id, started_at, exit_code, exited_at, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.RunID, p.Role, p.Identity, p.Port, p.HandleID, formatTime(p.StartedAt), exitCode, exitedAt, errMsg)
	if err != nil {
		return fmt.Errorf("record process %s/%d: %w", p.Role, p.Identity, err)
	}
	return nil
}

// MarkExited sets the exit code of a recorded process.
func (s *SQLiteStore) MarkExited(ctx context.Context, runID, handleID string, code int, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE processes SET exit_code = ?, exited_at = ? WHERE run_id = ? AND handle_id = ?`,
		code, formatTime(at), runID, handleID)
	if err != nil {
		return fmt.Errorf("mark exited %s: %w", handleID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark exited %s: %w", handleID, ErrNotFound)
	}
	return nil
}

// GetRun loads one run.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, backend, deployment, nodes, started_at FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return run, err
}

// Runs returns the most recent runs first. limit <= 0 means all.
func (s *SQLiteStore) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, backend, deployment, nodes, started_at FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Processes returns the spawn attempts of a run in spawn order.
func (s *SQLiteStore) Processes(ctx context.Context, runID string) ([]Process, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, role, identity, port, handle_id, started_at, exit_code, exited_at, error
		 FROM processes WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	defer rows.Close()

	var out []Process
	for rows.Next() {
		var p Process
		var handleID, startedAt, exitedAt, errMsg sql.NullString
		var exitCode sql.NullInt64
		if err := rows.Scan(&p.RunID, &p.Role, &p.Identity, &p.Port, &handleID, &startedAt, &exitCode, &exitedAt, &errMsg); err != nil {
			return nil, err
		}
		p.HandleID = handleID.String
		p.StartedAt = parseTime(startedAt.String)
		if exitCode.Valid {
			p.Exited = true
			p.ExitCode = int(exitCode.Int64)
			p.ExitedAt = parseTime(exitedAt.String)
		}
		p.Error = errMsg.String
		out = append(out, p)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var run Run
	var startedAt string
	if err := row.Scan(&run.ID, &run.Backend, &run.Deployment, &run.Nodes, &startedAt); err != nil {
		return Run{}, err
	}
	run.StartedAt = parseTime(startedAt)
	return run, nil
}

// timeLayout is fixed-width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

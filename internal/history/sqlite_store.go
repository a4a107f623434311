package history

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// SQLiteStore is a Store backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing the
// driver:
//
//	import _ "modernc.org/sqlite"
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the required schema in the given database and
// returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			workflow_name TEXT NOT NULL,
			status TEXT NOT NULL,
			steps INTEGER NOT NULL,
			error TEXT,
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL
		);`,
	)
	return err
}

func (s *SQLiteStore) SaveRun(ctx context.Context, rec *Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, workflow_id, workflow_name, status, steps, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			steps = excluded.steps,
			error = excluded.error,
			finished_at = excluded.finished_at`,
		rec.RunID,
		rec.WorkflowID,
		rec.WorkflowName,
		rec.Status,
		rec.Steps,
		rec.Error,
		rec.StartedAt.UnixMilli(),
		rec.FinishedAt.UnixMilli(),
	)
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, workflow_id, workflow_name, status, steps, error, started_at, finished_at
		FROM runs WHERE run_id = ?`, runID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return rec, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, f Filter) ([]*Record, error) {
	query := `
		SELECT run_id, workflow_id, workflow_name, status, steps, error, started_at, finished_at
		FROM runs`
	var (
		conds []string
		args  []any
	)
	if f.WorkflowID != "" {
		conds = append(conds, "workflow_id = ?")
		args = append(args, f.WorkflowID)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY started_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec               Record
		started, finished int64
	)
	err := row.Scan(
		&rec.RunID,
		&rec.WorkflowID,
		&rec.WorkflowName,
		&rec.Status,
		&rec.Steps,
		&rec.Error,
		&started,
		&finished,
	)
	if err != nil {
		return nil, err
	}
	rec.StartedAt = time.UnixMilli(started)
	rec.FinishedAt = time.UnixMilli(finished)
	return &rec, nil
}

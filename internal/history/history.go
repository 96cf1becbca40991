// Package history keeps one row per run in a local SQLite database.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"lmsrun/internal/logging"
	"lmsrun/internal/stats"

	_ "modernc.org/sqlite"
)

// Run is one row of the run history.
type Run struct {
	ID               string
	StartedAt        time.Time
	DurationSeconds  float64
	CoursesProcessed int
	Completed        int
	Skipped          int
	AlreadyDone      int
	Failed           int
	Outcome          string
	ReportPath       string
}

// Outcomes recorded for a run.
const (
	OutcomeSuccess     = "success"
	OutcomeInterrupted = "interrupted"
	OutcomeFailed      = "failed"
)

// timeLayout is fixed-width so started_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store wraps the history database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS runs (
  id TEXT PRIMARY KEY,
  started_at TEXT NOT NULL,
  duration_seconds REAL NOT NULL,
  courses_processed INTEGER NOT NULL,
  completed INTEGER NOT NULL,
  skipped INTEGER NOT NULL,
  already_done INTEGER NOT NULL,
  failed INTEGER NOT NULL,
  outcome TEXT NOT NULL,
  report_path TEXT
);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create runs table: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunFromSummary converts a statistics summary into a history row.
func RunFromSummary(sum stats.Summary, outcome, reportPath string) Run {
	return Run{
		ID:               sum.RunID,
		StartedAt:        sum.StartedAt,
		DurationSeconds:  sum.Duration.Seconds(),
		CoursesProcessed: sum.CoursesProcessed,
		Completed:        sum.Completed,
		Skipped:          sum.Skipped,
		AlreadyDone:      sum.AlreadyDone,
		Failed:           sum.Failed,
		Outcome:          outcome,
		ReportPath:       reportPath,
	}
}

// Record inserts or replaces a run row.
func (s *Store) Record(ctx context.Context, r Run) error {
	const stmt = `
INSERT INTO runs (id, started_at, duration_seconds, courses_processed, completed, skipped, already_done, failed, outcome, report_path)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  started_at=excluded.started_at,
  duration_seconds=excluded.duration_seconds,
  courses_processed=excluded.courses_processed,
  completed=excluded.completed,
  skipped=excluded.skipped,
  already_done=excluded.already_done,
  failed=excluded.failed,
  outcome=excluded.outcome,
  report_path=excluded.report_path;
`
	_, err := s.db.ExecContext(ctx, stmt,
		r.ID,
		r.StartedAt.UTC().Format(timeLayout),
		r.DurationSeconds,
		r.CoursesProcessed,
		r.Completed,
		r.Skipped,
		r.AlreadyDone,
		r.Failed,
		r.Outcome,
		r.ReportPath,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", r.ID, err)
	}
	logging.History("Run recorded: id=%s outcome=%s completed=%d failed=%d", r.ID, r.Outcome, r.Completed, r.Failed)
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, started_at, duration_seconds, courses_processed, completed, skipped, already_done, failed, outcome, COALESCE(report_path, '')
FROM runs
ORDER BY started_at DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var started string
		if err := rows.Scan(&r.ID, &started, &r.DurationSeconds, &r.CoursesProcessed,
			&r.Completed, &r.Skipped, &r.AlreadyDone, &r.Failed, &r.Outcome, &r.ReportPath); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if t, err := time.Parse(timeLayout, started); err == nil {
			r.StartedAt = t
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

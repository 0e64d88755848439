// Package runstore keeps a local history of finished runs.
//
// Every completed task appends one row to a SQLite database so
// `conductor runs list` can show recent activity without re-parsing
// task log files.
package runstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/haasonsaas/conductor/internal/observability"
	"github.com/haasonsaas/conductor/pkg/models"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Record is one finished run.
type Record struct {
	TaskID      string
	Task        string
	Status      string
	BoxedAnswer string
	Turns       int
	ToolCalls   int
	Usage       models.TokenUsage
	LogPath     string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Duration returns the wall time the run took.
func (r *Record) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Store persists run records to a SQLite database.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	metrics *observability.Metrics
}

// Open opens the run database at path, creating the file and schema as
// needed. An empty path opens an in-memory database; a nil metrics handle
// disables query instrumentation.
func Open(path string, logger *slog.Logger, metrics *observability.Metrics) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		path = ":memory:"
	} else if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create run store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	// SQLite allows one writer at a time; a single connection avoids
	// SQLITE_BUSY when serve mode records runs concurrently.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger, metrics: metrics}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// record instruments one query once it finishes.
func (s *Store) record(op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordStoreQuery(op, status, time.Since(start).Seconds())
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			task_id TEXT PRIMARY KEY,
			task TEXT NOT NULL,
			status TEXT NOT NULL,
			boxed_answer TEXT,
			turns INTEGER NOT NULL DEFAULT 0,
			tool_calls INTEGER NOT NULL DEFAULT 0,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			cache_read_tokens INTEGER NOT NULL DEFAULT 0,
			cache_write_tokens INTEGER NOT NULL DEFAULT 0,
			log_path TEXT,
			started_at DATETIME NOT NULL,
			finished_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_finished_at ON runs(finished_at)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure runs schema: %w", err)
		}
	}
	return nil
}

const runColumns = `task_id, task, status, boxed_answer, turns, tool_calls,
	input_tokens, output_tokens, cache_read_tokens, cache_write_tokens,
	log_path, started_at, finished_at`

// Save records a finished run, replacing any previous record for the
// same task id.
func (s *Store) Save(ctx context.Context, rec *Record) (err error) {
	if rec == nil {
		return nil
	}
	start := time.Now()
	defer func() { s.record("insert", start, err) }()

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (`+runColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
	`,
		rec.TaskID,
		rec.Task,
		rec.Status,
		nullString(rec.BoxedAnswer),
		rec.Turns,
		rec.ToolCalls,
		rec.Usage.InputTokens,
		rec.Usage.OutputTokens,
		rec.Usage.CacheReadInputTokens,
		rec.Usage.CacheWriteInputTokens,
		nullString(rec.LogPath),
		rec.StartedAt.UTC(),
		rec.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// Get returns the record for a task, or nil when none exists.
func (s *Store) Get(ctx context.Context, taskID string) (rec *Record, err error) {
	if taskID == "" {
		return nil, nil
	}
	start := time.Now()
	defer func() { s.record("select", start, err) }()

	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE task_id = ?`, taskID)
	rec, err = scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return rec, nil
}

// List returns finished runs, most recent first.
func (s *Store) List(ctx context.Context, limit int) (records []*Record, err error) {
	start := time.Now()
	defer func() { s.record("select", start, err) }()

	query := `SELECT ` + runColumns + ` FROM runs ORDER BY finished_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return records, nil
}

// Prune removes records that finished more than olderThan ago and
// reports how many rows were deleted.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (pruned int64, err error) {
	start := time.Now()
	defer func() { s.record("delete", start, err) }()

	cutoff := time.Now().Add(-olderThan).UTC()
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE finished_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	pruned, err = res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	if pruned > 0 {
		s.logger.Info("pruned run records", "count", pruned)
	}
	return pruned, nil
}

type runScanner interface {
	Scan(dest ...any) error
}

func scanRecord(scanner runScanner) (*Record, error) {
	var (
		rec     Record
		boxed   sql.NullString
		logPath sql.NullString
	)
	if err := scanner.Scan(
		&rec.TaskID,
		&rec.Task,
		&rec.Status,
		&boxed,
		&rec.Turns,
		&rec.ToolCalls,
		&rec.Usage.InputTokens,
		&rec.Usage.OutputTokens,
		&rec.Usage.CacheReadInputTokens,
		&rec.Usage.CacheWriteInputTokens,
		&logPath,
		&rec.StartedAt,
		&rec.FinishedAt,
	); err != nil {
		return nil, err
	}
	if boxed.Valid {
		rec.BoxedAnswer = boxed.String
	}
	if logPath.Valid {
		rec.LogPath = logPath.String
	}
	return &rec, nil
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

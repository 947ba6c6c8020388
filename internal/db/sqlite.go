package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)
)

// migrations define the trail tables. Version is tracked in schema_versions.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS step_approvals (
    id          TEXT PRIMARY KEY,
    step_id     TEXT NOT NULL,
    request_id  TEXT NOT NULL DEFAULT '',
    step_name   TEXT NOT NULL DEFAULT '',
    actor       TEXT NOT NULL DEFAULT '',
    decision    TEXT NOT NULL CHECK(decision IN ('pending', 'approved')),
    created_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_approvals_request ON step_approvals(request_id, created_at ASC);
CREATE INDEX IF NOT EXISTS idx_approvals_step    ON step_approvals(step_id);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS step_executions (
    step_id       TEXT PRIMARY KEY,
    request_id    TEXT NOT NULL DEFAULT '',
    step_name     TEXT NOT NULL DEFAULT '',
    step_type     TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL,
    user_id       TEXT NOT NULL DEFAULT '',
    success       INTEGER NOT NULL DEFAULT 0,
    message       TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    result        TEXT NOT NULL DEFAULT '{}',
    started_at    DATETIME NOT NULL,
    completed_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_request ON step_executions(request_id, started_at DESC);
`,
	},
}

type sqliteStore struct {
	db *sql.DB
}

var _ Store = (*sqliteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path and applies migrations.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// Every pooled connection to :memory: would get its own empty database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqliteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Approvals ────────────────────────────────────────────────────────────────

func (s *sqliteStore) AppendApproval(ctx context.Context, rec *ApprovalRecord) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO step_approvals(id, step_id, request_id, step_name, actor, decision, created_at)
        VALUES(?,?,?,?,?,?,?)
    `,
		rec.ID, rec.StepID, rec.RequestID, rec.StepName, rec.Actor, rec.Decision, formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

func (s *sqliteStore) ListApprovals(ctx context.Context, q ApprovalQuery) ([]*ApprovalRecord, error) {
	query := `SELECT id,step_id,request_id,step_name,actor,decision,created_at FROM step_approvals WHERE 1=1`
	args := []any{}

	if q.RequestID != "" {
		query += ` AND request_id = ?`
		args = append(args, q.RequestID)
	}
	if q.StepID != "" {
		query += ` AND step_id = ?`
		args = append(args, q.StepID)
	}
	if q.Decision != "" {
		query += ` AND decision = ?`
		args = append(args, q.Decision)
	}
	query += ` ORDER BY created_at ASC, rowid ASC`
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d OFFSET %d`, q.Limit, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*ApprovalRecord
	for rows.Next() {
		rec := &ApprovalRecord{}
		var ts string
		if err := rows.Scan(&rec.ID, &rec.StepID, &rec.RequestID, &rec.StepName,
			&rec.Actor, &rec.Decision, &ts); err != nil {
			return nil, err
		}
		rec.CreatedAt, _ = parseTime(ts)
		result = append(result, rec)
	}
	return result, rows.Err()
}

// ─── Executions ───────────────────────────────────────────────────────────────

func (s *sqliteStore) SaveExecution(ctx context.Context, rec *ExecutionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result := rec.Result
	if result == "" {
		result = "{}"
	}

	_, err = tx.ExecContext(ctx, `
        INSERT INTO step_executions(step_id, request_id, step_name, step_type, status, user_id,
            success, message, error_message, result, started_at, completed_at)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
        ON CONFLICT(step_id) DO UPDATE SET
            status        = excluded.status,
            success       = excluded.success,
            message       = excluded.message,
            error_message = excluded.error_message,
            result        = excluded.result,
            completed_at  = excluded.completed_at
    `,
		rec.StepID, rec.RequestID, rec.StepName, rec.StepType, rec.Status, rec.UserID,
		rec.Success, rec.Message, rec.ErrorMessage, result,
		formatTime(rec.StartedAt), formatTime(rec.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert execution: %w", err)
	}
	return tx.Commit()
}

const executionColumns = `step_id,request_id,step_name,step_type,status,user_id,success,message,error_message,result,started_at,completed_at`

func (s *sqliteStore) GetExecution(ctx context.Context, stepID string) (*ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM step_executions WHERE step_id=?`, stepID)
	rec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (s *sqliteStore) ListExecutions(ctx context.Context, requestID string, limit int) ([]*ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM step_executions WHERE request_id=? ORDER BY started_at DESC LIMIT ?`,
		requestID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*ExecutionRecord, error) {
	rec := &ExecutionRecord{}
	var startedAt, completedAt string
	err := row.Scan(&rec.StepID, &rec.RequestID, &rec.StepName, &rec.StepType, &rec.Status,
		&rec.UserID, &rec.Success, &rec.Message, &rec.ErrorMessage, &rec.Result,
		&startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	rec.StartedAt, _ = parseTime(startedAt)
	rec.CompletedAt, _ = parseTime(completedAt)
	return rec, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// timeLayout is fixed-width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

// parseTime handles multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999 -0700 MST",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}

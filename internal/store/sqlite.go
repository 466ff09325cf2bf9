// ABOUTME: SQLite storage gateway using modernc.org/sqlite
// ABOUTME: Owns the single writer handle, schema creation, migrations and transaction boundaries

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so text timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// SQLiteStore is the storage gateway for every coven-context entity
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path.
// The schema is created if it doesn't exist and parent directories are created if needed.
// Pass ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// All mutations are serialized through one connection
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", p, err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			description  TEXT,
			channel      TEXT NOT NULL DEFAULT 'general',
			project_path TEXT,
			status       TEXT NOT NULL DEFAULT 'active',
			ended_at     TEXT,
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL,

			CHECK (status IN ('active', 'paused', 'completed'))
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
		CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_path);

		CREATE TABLE IF NOT EXISTS context_items (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			key        TEXT NOT NULL,
			value      TEXT NOT NULL,
			category   TEXT NOT NULL DEFAULT 'note',
			priority   TEXT NOT NULL DEFAULT 'normal',
			channel    TEXT,
			tags       TEXT NOT NULL DEFAULT '[]',
			size       INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,

			UNIQUE(session_id, key),
			CHECK (category IN ('reminder', 'decision', 'progress', 'note', 'task')),
			CHECK (priority IN ('high', 'normal', 'low'))
		);

		CREATE INDEX IF NOT EXISTS idx_context_items_session ON context_items(session_id, created_at);

		CREATE TABLE IF NOT EXISTS checkpoints (
			id          TEXT PRIMARY KEY,
			session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			name        TEXT NOT NULL,
			description TEXT,
			git_status  TEXT,
			git_branch  TEXT,
			item_count  INTEGER NOT NULL DEFAULT 0,
			total_size  INTEGER NOT NULL DEFAULT 0,
			created_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON checkpoints(session_id, created_at);

		CREATE TABLE IF NOT EXISTS checkpoint_items (
			id              TEXT PRIMARY KEY,
			checkpoint_id   TEXT NOT NULL REFERENCES checkpoints(id) ON DELETE CASCADE,
			position        INTEGER NOT NULL,
			key             TEXT NOT NULL,
			value           TEXT NOT NULL,
			category        TEXT NOT NULL,
			priority        TEXT NOT NULL,
			channel         TEXT,
			tags            TEXT NOT NULL DEFAULT '[]',
			size            INTEGER NOT NULL DEFAULT 0,
			item_created_at TEXT NOT NULL,
			item_updated_at TEXT NOT NULL,

			UNIQUE(checkpoint_id, key)
		);

		CREATE INDEX IF NOT EXISTS idx_checkpoint_items_checkpoint ON checkpoint_items(checkpoint_id, position);

		CREATE TABLE IF NOT EXISTS event_log (
			sequence  INTEGER PRIMARY KEY AUTOINCREMENT,
			topic     TEXT NOT NULL,
			payload   TEXT NOT NULL,
			timestamp INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_event_log_timestamp ON event_log(timestamp);

		CREATE TABLE IF NOT EXISTS issues (
			id           TEXT PRIMARY KEY,
			project_path TEXT,
			title        TEXT NOT NULL,
			description  TEXT,
			status       TEXT NOT NULL DEFAULT 'open',
			issue_type   TEXT NOT NULL DEFAULT 'task',
			priority     INTEGER NOT NULL DEFAULT 2,
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL,

			CHECK (status IN ('open', 'in_progress', 'closed'))
		);

		CREATE INDEX IF NOT EXISTS idx_issues_project ON issues(project_path, status);

		CREATE TABLE IF NOT EXISTS issue_dependencies (
			issue_id        TEXT NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
			depends_on_id   TEXT NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
			dependency_type TEXT NOT NULL DEFAULT 'blocks',
			created_at      TEXT NOT NULL,

			PRIMARY KEY (issue_id, depends_on_id),
			CHECK (dependency_type IN ('blocks', 'parent-child', 'related'))
		);

		CREATE INDEX IF NOT EXISTS idx_issue_deps_target ON issue_dependencies(depends_on_id, dependency_type);

		CREATE TABLE IF NOT EXISTS plans (
			id           TEXT PRIMARY KEY,
			project_path TEXT,
			session_id   TEXT,
			title        TEXT NOT NULL,
			content      TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL DEFAULT 'draft',
			completed_at TEXT,
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL,

			CHECK (status IN ('draft', 'active', 'completed'))
		);

		CREATE INDEX IF NOT EXISTS idx_plans_project ON plans(project_path, status);

		CREATE TABLE IF NOT EXISTS project_memory (
			id           TEXT PRIMARY KEY,
			project_path TEXT NOT NULL,
			key          TEXT NOT NULL,
			value        TEXT NOT NULL,
			category     TEXT NOT NULL DEFAULT 'command',
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL,

			UNIQUE(project_path, key)
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "context_items",
			column: "size",
			apply:  `ALTER TABLE context_items ADD COLUMN size INTEGER NOT NULL DEFAULT 0`,
		},
		{
			table:  "checkpoints",
			column: "git_branch",
			apply:  `ALTER TABLE checkpoints ADD COLUMN git_branch TEXT`,
		},
		{
			table:  "plans",
			column: "session_id",
			apply:  `ALTER TABLE plans ADD COLUMN session_id TEXT`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Ping verifies the database is reachable
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTx runs fn inside a transaction, committing on success and rolling back otherwise.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "PRIMARY KEY constraint failed")
}

// nullString converts empty strings to SQL NULL
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// rows written by older builds used plain RFC3339
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encoding tags: %w", err)
	}
	return string(data), nil
}

func decodeTags(raw string) ([]string, error) {
	tags := []string{}
	if raw == "" {
		return tags, nil
	}
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("decoding tags: %w", err)
	}
	return tags, nil
}

// sessionExists reports whether a session row exists, using the given querier.
func sessionExists(ctx context.Context, q querier, id string) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking session: %w", err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

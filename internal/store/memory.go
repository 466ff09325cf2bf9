// ABOUTME: Project memory persistence: key/value facts scoped to a project path
// ABOUTME: Saves are upserts keyed by (project_path, key)

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SaveMemory creates or replaces a memory entry and reports whether it was new
func (s *SQLiteStore) SaveMemory(ctx context.Context, m *Memory, now time.Time) (bool, error) {
	if m.Category == "" {
		m.Category = "command"
	}

	var created bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := getMemory(ctx, tx, m.ProjectPath, m.Key)
		if err != nil && err != ErrNotFound {
			return err
		}
		if existing != nil {
			m.ID = existing.ID
			m.CreatedAt = existing.CreatedAt
		} else {
			created = true
			if m.ID == "" {
				m.ID = NewID("mem")
			}
			m.CreatedAt = now
		}
		m.UpdatedAt = now

		_, err = tx.ExecContext(ctx, `
			INSERT INTO project_memory (id, project_path, key, value, category, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(project_path, key) DO UPDATE SET
				value = excluded.value,
				category = excluded.category,
				updated_at = excluded.updated_at`,
			m.ID, m.ProjectPath, m.Key, m.Value, m.Category, formatTime(m.CreatedAt), formatTime(m.UpdatedAt))
		if err != nil {
			return fmt.Errorf("saving memory: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// GetMemory retrieves a memory entry by project and key
func (s *SQLiteStore) GetMemory(ctx context.Context, projectPath, key string) (*Memory, error) {
	return getMemory(ctx, s.db, projectPath, key)
}

func getMemory(ctx context.Context, q querier, projectPath, key string) (*Memory, error) {
	var m Memory
	var createdAt, updatedAt string

	err := q.QueryRowContext(ctx, `
		SELECT id, project_path, key, value, category, created_at, updated_at
		FROM project_memory WHERE project_path = ? AND key = ?`, projectPath, key).
		Scan(&m.ID, &m.ProjectPath, &m.Key, &m.Value, &m.Category, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying memory: %w", err)
	}

	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &m, nil
}

// ListMemory lists a project's memory entries by key
func (s *SQLiteStore) ListMemory(ctx context.Context, projectPath string) ([]*Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_path, key, value, category, created_at, updated_at
		FROM project_memory WHERE project_path = ?
		ORDER BY key ASC`, projectPath)
	if err != nil {
		return nil, fmt.Errorf("querying memory: %w", err)
	}
	defer rows.Close()

	var entries []*Memory
	for rows.Next() {
		var m Memory
		var createdAt, updatedAt string
		if err := rows.Scan(&m.ID, &m.ProjectPath, &m.Key, &m.Value, &m.Category, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning memory: %w", err)
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		entries = append(entries, &m)
	}
	return entries, rows.Err()
}

// DeleteMemory removes a memory entry.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) DeleteMemory(ctx context.Context, projectPath, key string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM project_memory WHERE project_path = ? AND key = ?`, projectPath, key)
	if err != nil {
		return fmt.Errorf("deleting memory: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

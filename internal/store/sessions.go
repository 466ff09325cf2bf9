// ABOUTME: Session persistence: create, lookup, status transitions and cascading delete
// ABOUTME: Transitions are compare-and-set inside a transaction so concurrent callers can't skip states

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const sessionColumns = `id, name, description, channel, project_path, status, ended_at, created_at, updated_at`

// CreateSession inserts a new session row
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *Session) error {
	if sess.Channel == "" {
		sess.Channel = DefaultChannel
	}
	if sess.Status == "" {
		sess.Status = SessionActive
	}

	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var endedAt any
	if sess.EndedAt != nil {
		endedAt = formatTime(*sess.EndedAt)
	}

	_, err := s.db.ExecContext(ctx, query,
		sess.ID,
		sess.Name,
		nullString(sess.Description),
		sess.Channel,
		nullString(sess.ProjectPath),
		string(sess.Status),
		endedAt,
		formatTime(sess.CreatedAt),
		formatTime(sess.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting session: %w", err)
	}

	s.logger.Debug("created session", "id", sess.ID, "name", sess.Name)
	return nil
}

// GetSession retrieves a session by ID.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	return getSession(ctx, s.db, id)
}

func getSession(ctx context.Context, q querier, id string) (*Session, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	return sess, nil
}

// FindPausedSession returns the most recently updated paused session with the
// given name and project path. Returns ErrNotFound when there is none.
func (s *SQLiteStore) FindPausedSession(ctx context.Context, name, projectPath string) (*Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE name = ? AND IFNULL(project_path, '') = ? AND status = 'paused'
		ORDER BY updated_at DESC
		LIMIT 1
	`

	sess, err := scanSession(s.db.QueryRowContext(ctx, query, name, projectPath))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying paused session: %w", err)
	}
	return sess, nil
}

// ListSessions returns sessions ordered by most recent activity.
// If limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]*Session, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	var where []string
	var args []any
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.ProjectPath != "" {
		where = append(where, "project_path = ?")
		args = append(args, filter.ProjectPath)
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}

	return sessions, nil
}

// TransitionSession moves a session to status `to` if its current status is one of `from`.
// ended_at is stamped for paused and completed and cleared for active.
// Returns ErrNotFound for a missing session and an error wrapping ErrStatusConflict
// when the current status is not in `from`.
func (s *SQLiteStore) TransitionSession(ctx context.Context, id string, from []SessionStatus, to SessionStatus, now time.Time) (*Session, error) {
	var result *Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getSession(ctx, tx, id)
		if err != nil {
			return err
		}

		allowed := false
		for _, st := range from {
			if current.Status == st {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: session %s is %s", ErrStatusConflict, id, current.Status)
		}

		var endedAt any
		if to == SessionPaused || to == SessionCompleted {
			endedAt = formatTime(now)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE sessions SET status = ?, ended_at = ?, updated_at = ? WHERE id = ?`,
			string(to), endedAt, formatTime(now), id,
		)
		if err != nil {
			return fmt.Errorf("updating session status: %w", err)
		}

		result, err = getSession(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("session transitioned", "id", id, "status", to)
	return result, nil
}

// RenameSession changes a session's name (and description when non-nil).
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) RenameSession(ctx context.Context, id, name string, description *string, now time.Time) (*Session, error) {
	var result *Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var res sql.Result
		var err error
		if description != nil {
			res, err = tx.ExecContext(ctx,
				`UPDATE sessions SET name = ?, description = ?, updated_at = ? WHERE id = ?`,
				name, nullString(*description), formatTime(now), id)
		} else {
			res, err = tx.ExecContext(ctx,
				`UPDATE sessions SET name = ?, updated_at = ? WHERE id = ?`,
				name, formatTime(now), id)
		}
		if err != nil {
			return fmt.Errorf("renaming session: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("getting rows affected: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}
		result, err = getSession(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteSession removes a non-active session along with its context items and
// checkpoints. Returns ErrNotFound for a missing session and ErrSessionActive
// when the session is still active; in that case nothing is removed.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) (*SessionDeletion, error) {
	del := &SessionDeletion{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getSession(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.Status == SessionActive {
			return ErrSessionActive
		}

		_, err = tx.ExecContext(ctx, `
			DELETE FROM checkpoint_items
			WHERE checkpoint_id IN (SELECT id FROM checkpoints WHERE session_id = ?)`, id)
		if err != nil {
			return fmt.Errorf("deleting checkpoint items: %w", err)
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE session_id = ?`, id)
		if err != nil {
			return fmt.Errorf("deleting checkpoints: %w", err)
		}
		if del.CheckpointsDeleted, err = res.RowsAffected(); err != nil {
			return fmt.Errorf("getting rows affected: %w", err)
		}

		res, err = tx.ExecContext(ctx, `DELETE FROM context_items WHERE session_id = ?`, id)
		if err != nil {
			return fmt.Errorf("deleting context items: %w", err)
		}
		if del.ItemsDeleted, err = res.RowsAffected(); err != nil {
			return fmt.Errorf("getting rows affected: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
			return fmt.Errorf("deleting session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("deleted session",
		"id", id,
		"items_deleted", del.ItemsDeleted,
		"checkpoints_deleted", del.CheckpointsDeleted)
	return del, nil
}

func scanSession(row scanner) (*Session, error) {
	var sess Session
	var description, projectPath, endedAt sql.NullString
	var status, createdAt, updatedAt string

	if err := row.Scan(
		&sess.ID,
		&sess.Name,
		&description,
		&sess.Channel,
		&projectPath,
		&status,
		&endedAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	sess.Description = description.String
	sess.ProjectPath = projectPath.String
	sess.Status = SessionStatus(status)

	var err error
	if sess.EndedAt, err = parseNullTime(endedAt); err != nil {
		return nil, fmt.Errorf("parsing ended_at: %w", err)
	}
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if sess.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &sess, nil
}

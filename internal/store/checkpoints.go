// ABOUTME: Checkpoint persistence: header plus frozen item rows written in one transaction
// ABOUTME: Checkpoint items are never updated; they are only removed with their checkpoint

package store

import (
	"context"
	"database/sql"
	"fmt"
)

const checkpointColumns = `id, session_id, name, description, git_status, git_branch, item_count, total_size, created_at`

const checkpointItemColumns = `id, checkpoint_id, position, key, value, category, priority, channel, tags, size, item_created_at, item_updated_at`

// CreateCheckpoint inserts a checkpoint header and all of its items atomically.
// ItemCount and TotalSize are recomputed from items. Returns ErrNotFound if the
// owning session doesn't exist.
func (s *SQLiteStore) CreateCheckpoint(ctx context.Context, cp *Checkpoint, items []*CheckpointItem) error {
	cp.ItemCount = len(items)
	cp.TotalSize = 0
	for _, it := range items {
		cp.TotalSize += it.Size
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := sessionExists(ctx, tx, cp.SessionID); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO checkpoints (`+checkpointColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			cp.ID,
			cp.SessionID,
			cp.Name,
			nullString(cp.Description),
			nullString(cp.GitStatus),
			nullString(cp.GitBranch),
			cp.ItemCount,
			cp.TotalSize,
			formatTime(cp.CreatedAt),
		)
		if err != nil {
			if isConstraintViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("inserting checkpoint: %w", err)
		}

		if len(items) == 0 {
			return nil
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO checkpoint_items (`+checkpointItemColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing checkpoint item insert: %w", err)
		}
		defer stmt.Close()

		for i, it := range items {
			it.CheckpointID = cp.ID
			it.Position = i
			if it.ID == "" {
				it.ID = NewID("cpi")
			}
			tags, err := encodeTags(it.Tags)
			if err != nil {
				return err
			}
			_, err = stmt.ExecContext(ctx,
				it.ID,
				it.CheckpointID,
				it.Position,
				it.Key,
				it.Value,
				string(it.Category),
				string(it.Priority),
				nullString(it.Channel),
				tags,
				it.Size,
				formatTime(it.ItemCreatedAt),
				formatTime(it.ItemUpdatedAt),
			)
			if err != nil {
				return fmt.Errorf("inserting checkpoint item %q: %w", it.Key, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("created checkpoint", "id", cp.ID, "session_id", cp.SessionID, "items", cp.ItemCount)
	return nil
}

// GetCheckpoint retrieves a checkpoint header by ID.
// Returns ErrNotFound if the checkpoint doesn't exist.
func (s *SQLiteStore) GetCheckpoint(ctx context.Context, id string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+checkpointColumns+` FROM checkpoints WHERE id = ?`, id)
	cp, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying checkpoint: %w", err)
	}
	return cp, nil
}

// ListCheckpoints returns a session's checkpoints newest first.
// If limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) ListCheckpoints(ctx context.Context, sessionID string, limit int) ([]*Checkpoint, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+checkpointColumns+`
		FROM checkpoints
		WHERE session_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []*Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning checkpoint: %w", err)
		}
		checkpoints = append(checkpoints, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating checkpoints: %w", err)
	}
	return checkpoints, nil
}

// ListCheckpointItems returns a checkpoint's frozen items in capture order.
func (s *SQLiteStore) ListCheckpointItems(ctx context.Context, checkpointID string) ([]*CheckpointItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+checkpointItemColumns+`
		FROM checkpoint_items
		WHERE checkpoint_id = ?
		ORDER BY position ASC`, checkpointID)
	if err != nil {
		return nil, fmt.Errorf("querying checkpoint items: %w", err)
	}
	defer rows.Close()

	var items []*CheckpointItem
	for rows.Next() {
		it, err := scanCheckpointItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning checkpoint item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating checkpoint items: %w", err)
	}
	return items, nil
}

// DeleteCheckpoint removes a checkpoint and its items in one transaction.
// Returns ErrNotFound if the checkpoint doesn't exist.
func (s *SQLiteStore) DeleteCheckpoint(ctx context.Context, id string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoint_items WHERE checkpoint_id = ?`, id); err != nil {
			return fmt.Errorf("deleting checkpoint items: %w", err)
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("deleting checkpoint: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("getting rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("deleted checkpoint", "id", id)
	return nil
}

func scanCheckpoint(row scanner) (*Checkpoint, error) {
	var cp Checkpoint
	var description, gitStatus, gitBranch sql.NullString
	var createdAt string

	if err := row.Scan(
		&cp.ID,
		&cp.SessionID,
		&cp.Name,
		&description,
		&gitStatus,
		&gitBranch,
		&cp.ItemCount,
		&cp.TotalSize,
		&createdAt,
	); err != nil {
		return nil, err
	}

	cp.Description = description.String
	cp.GitStatus = gitStatus.String
	cp.GitBranch = gitBranch.String

	var err error
	if cp.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &cp, nil
}

func scanCheckpointItem(row scanner) (*CheckpointItem, error) {
	var it CheckpointItem
	var category, priority, tags, createdAt, updatedAt string
	var channel sql.NullString

	if err := row.Scan(
		&it.ID,
		&it.CheckpointID,
		&it.Position,
		&it.Key,
		&it.Value,
		&category,
		&priority,
		&channel,
		&tags,
		&it.Size,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	it.Category = Category(category)
	it.Priority = Priority(priority)
	it.Channel = channel.String

	var err error
	if it.Tags, err = decodeTags(tags); err != nil {
		return nil, err
	}
	if it.ItemCreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing item_created_at: %w", err)
	}
	if it.ItemUpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing item_updated_at: %w", err)
	}
	return &it, nil
}

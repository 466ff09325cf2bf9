// ABOUTME: Context item persistence with upsert, partial update and delete
// ABOUTME: Items are unique per (session, key); last write wins

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const itemColumns = `id, session_id, key, value, category, priority, channel, tags, size, created_at, updated_at`

// UpsertContextItem inserts the item if (session, key) is absent and otherwise
// merges the provided fields into the stored row. Returns the resulting item and
// whether it was newly created. Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) UpsertContextItem(ctx context.Context, in ItemUpsert, now time.Time) (*ContextItem, bool, error) {
	var result *ContextItem
	var created bool

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sess, err := getSession(ctx, tx, in.SessionID)
		if err != nil {
			return err
		}

		existing, err := getContextItem(ctx, tx, in.SessionID, in.Key)
		if err != nil && err != ErrNotFound {
			return err
		}

		if existing == nil {
			item := &ContextItem{
				ID:        NewID("item"),
				SessionID: in.SessionID,
				Key:       in.Key,
				Value:     in.Value,
				Category:  in.Category,
				Priority:  in.Priority,
				Channel:   in.Channel,
				Tags:      in.Tags,
				Size:      len(in.Value),
				CreatedAt: now,
				UpdatedAt: now,
			}
			if item.Category == "" {
				item.Category = CategoryNote
			}
			if item.Priority == "" {
				item.Priority = PriorityNormal
			}
			if item.Channel == "" {
				item.Channel = sess.Channel
			}
			if item.Tags == nil {
				item.Tags = []string{}
			}
			if err := insertContextItem(ctx, tx, item); err != nil {
				return err
			}
			result, created = item, true
			return nil
		}

		existing.Value = in.Value
		existing.Size = len(in.Value)
		if in.Category != "" {
			existing.Category = in.Category
		}
		if in.Priority != "" {
			existing.Priority = in.Priority
		}
		if in.Channel != "" {
			existing.Channel = in.Channel
		}
		if in.Tags != nil {
			existing.Tags = in.Tags
		}
		existing.UpdatedAt = now

		tags, err := encodeTags(existing.Tags)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE context_items
			SET value = ?, category = ?, priority = ?, channel = ?, tags = ?, size = ?, updated_at = ?
			WHERE id = ?`,
			existing.Value,
			string(existing.Category),
			string(existing.Priority),
			nullString(existing.Channel),
			tags,
			existing.Size,
			formatTime(now),
			existing.ID,
		)
		if err != nil {
			return fmt.Errorf("updating context item: %w", err)
		}
		result = existing
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	s.logger.Debug("saved context item", "session_id", in.SessionID, "key", in.Key, "created", created)
	return result, created, nil
}

func insertContextItem(ctx context.Context, q querier, item *ContextItem) error {
	tags, err := encodeTags(item.Tags)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO context_items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID,
		item.SessionID,
		item.Key,
		item.Value,
		string(item.Category),
		string(item.Priority),
		nullString(item.Channel),
		tags,
		item.Size,
		formatTime(item.CreatedAt),
		formatTime(item.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting context item: %w", err)
	}
	return nil
}

// UpdateContextItem applies a partial update and returns the number of rows changed.
// Returns ErrNotFound when the (session, key) pair does not exist.
func (s *SQLiteStore) UpdateContextItem(ctx context.Context, sessionID, key string, patch ItemPatch, now time.Time) (int64, error) {
	sets := []string{"updated_at = ?"}
	args := []any{formatTime(now)}

	if patch.Value != nil {
		sets = append(sets, "value = ?", "size = ?")
		args = append(args, *patch.Value, len(*patch.Value))
	}
	if patch.Category != nil {
		sets = append(sets, "category = ?")
		args = append(args, string(*patch.Category))
	}
	if patch.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, string(*patch.Priority))
	}
	if patch.Channel != nil {
		sets = append(sets, "channel = ?")
		args = append(args, nullString(*patch.Channel))
	}
	if patch.Tags != nil {
		tags, err := encodeTags(*patch.Tags)
		if err != nil {
			return 0, err
		}
		sets = append(sets, "tags = ?")
		args = append(args, tags)
	}

	query := `UPDATE context_items SET ` + strings.Join(sets, ", ") + ` WHERE session_id = ? AND key = ?`
	args = append(args, sessionID, key)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("updating context item: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return 0, ErrNotFound
	}

	s.logger.Debug("updated context item", "session_id", sessionID, "key", key)
	return rowsAffected, nil
}

// DeleteContextItem removes an item and returns the number of rows removed.
// Deleting an absent item is not an error at this layer; it reports 0.
func (s *SQLiteStore) DeleteContextItem(ctx context.Context, sessionID, key string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM context_items WHERE session_id = ? AND key = ?`, sessionID, key)
	if err != nil {
		return 0, fmt.Errorf("deleting context item: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	s.logger.Debug("deleted context item", "session_id", sessionID, "key", key, "removed", rowsAffected)
	return rowsAffected, nil
}

// GetContextItem retrieves one item by session and key.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetContextItem(ctx context.Context, sessionID, key string) (*ContextItem, error) {
	return getContextItem(ctx, s.db, sessionID, key)
}

func getContextItem(ctx context.Context, q querier, sessionID, key string) (*ContextItem, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM context_items WHERE session_id = ? AND key = ?`, sessionID, key)
	item, err := scanContextItem(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying context item: %w", err)
	}
	return item, nil
}

// ListContextItems returns a session's items in creation order.
// A zero Limit returns every item.
func (s *SQLiteStore) ListContextItems(ctx context.Context, sessionID string, q ItemQuery) ([]*ContextItem, error) {
	where := []string{"session_id = ?"}
	args := []any{sessionID}

	if q.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(q.Category))
	}
	if q.Priority != "" {
		where = append(where, "priority = ?")
		args = append(args, string(q.Priority))
	}
	if q.Channel != "" {
		where = append(where, "channel = ?")
		args = append(args, q.Channel)
	}
	if q.Tag != "" {
		where = append(where, "EXISTS (SELECT 1 FROM json_each(context_items.tags) WHERE json_each.value = ?)")
		args = append(args, q.Tag)
	}

	query := `SELECT ` + itemColumns + ` FROM context_items WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at ASC, key ASC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying context items: %w", err)
	}
	defer rows.Close()

	var items []*ContextItem
	for rows.Next() {
		item, err := scanContextItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning context item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating context items: %w", err)
	}
	return items, nil
}

// CountContextItems returns how many items a session holds
func (s *SQLiteStore) CountContextItems(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM context_items WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting context items: %w", err)
	}
	return n, nil
}

func scanContextItem(row scanner) (*ContextItem, error) {
	var item ContextItem
	var category, priority, tags, createdAt, updatedAt string
	var channel sql.NullString

	if err := row.Scan(
		&item.ID,
		&item.SessionID,
		&item.Key,
		&item.Value,
		&category,
		&priority,
		&channel,
		&tags,
		&item.Size,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	item.Category = Category(category)
	item.Priority = Priority(priority)
	item.Channel = channel.String

	var err error
	if item.Tags, err = decodeTags(tags); err != nil {
		return nil, err
	}
	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if item.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &item, nil
}

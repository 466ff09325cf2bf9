// ABOUTME: Append-only event log table backing cross-client notifications
// ABOUTME: Rows are inserted and age-pruned, never updated; reads walk a (timestamp, sequence) cursor

package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// EventQuery selects event log rows strictly after a cursor.
// When AfterSequence is positive the sequence alone decides; otherwise rows
// with timestamp > AfterTimestamp are returned.
type EventQuery struct {
	AfterTimestamp int64
	AfterSequence  int64
	Topic          string
	Limit          int // 1-1000, defaults to 500
}

// AppendEvent inserts one event row and returns its sequence number.
// payload must be valid JSON; nil is stored as an empty object.
func (s *SQLiteStore) AppendEvent(ctx context.Context, topic string, payload json.RawMessage, ts int64) (int64, error) {
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO event_log (topic, payload, timestamp) VALUES (?, ?, ?)`,
		topic, string(payload), ts)
	if err != nil {
		return 0, fmt.Errorf("inserting event: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting event sequence: %w", err)
	}
	return seq, nil
}

// EventsAfter returns events after the cursor in insertion order.
// hasMore reports whether rows beyond Limit were available.
func (s *SQLiteStore) EventsAfter(ctx context.Context, q EventQuery) (events []Event, hasMore bool, err error) {
	if q.Limit <= 0 {
		q.Limit = 500
	}
	if q.Limit > 1000 {
		q.Limit = 1000
	}

	query := `SELECT sequence, topic, payload, timestamp FROM event_log WHERE `
	var args []any
	if q.AfterSequence > 0 {
		query += `sequence > ?`
		args = append(args, q.AfterSequence)
	} else {
		query += `timestamp > ?`
		args = append(args, q.AfterTimestamp)
	}
	if q.Topic != "" {
		query += ` AND topic = ?`
		args = append(args, q.Topic)
	}

	// Fetch limit+1 to detect if there are more results
	query += ` ORDER BY sequence ASC LIMIT ?`
	args = append(args, q.Limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ev Event
		var payload string
		if err := rows.Scan(&ev.Sequence, &ev.Topic, &payload, &ev.Timestamp); err != nil {
			return nil, false, fmt.Errorf("scanning event row: %w", err)
		}
		ev.Payload = json.RawMessage(payload)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterating event rows: %w", err)
	}

	if len(events) > q.Limit {
		events = events[:q.Limit]
		hasMore = true
	}
	return events, hasMore, nil
}

// PruneEventsBefore deletes rows with timestamp < cutoff and returns how many went
func (s *SQLiteStore) PruneEventsBefore(ctx context.Context, cutoff int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM event_log WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning events: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	if n > 0 {
		s.logger.Debug("pruned event log", "removed", n, "cutoff", cutoff)
	}
	return n, nil
}

// LatestEventSequence returns the highest sequence written so far, or 0 for an empty log
func (s *SQLiteStore) LatestEventSequence(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT IFNULL(MAX(sequence), 0) FROM event_log`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("querying latest event: %w", err)
	}
	return seq, nil
}

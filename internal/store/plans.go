// ABOUTME: Plan persistence for project implementation plans
// ABOUTME: completed_at is stamped when a plan first reaches the completed status

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const planColumns = `id, project_path, session_id, title, content, status, completed_at, created_at, updated_at`

// CreatePlan inserts a new plan
func (s *SQLiteStore) CreatePlan(ctx context.Context, p *Plan) error {
	if p.Status == "" {
		p.Status = PlanDraft
	}

	var completedAt any
	if p.CompletedAt != nil {
		completedAt = formatTime(*p.CompletedAt)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plans (`+planColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		nullString(p.ProjectPath),
		nullString(p.SessionID),
		p.Title,
		p.Content,
		p.Status,
		completedAt,
		formatTime(p.CreatedAt),
		formatTime(p.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting plan: %w", err)
	}

	s.logger.Debug("created plan", "id", p.ID)
	return nil
}

// GetPlan retrieves a plan by ID.
// Returns ErrNotFound if the plan doesn't exist.
func (s *SQLiteStore) GetPlan(ctx context.Context, id string) (*Plan, error) {
	return getPlan(ctx, s.db, id)
}

func getPlan(ctx context.Context, q querier, id string) (*Plan, error) {
	p, err := scanPlan(q.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying plan: %w", err)
	}
	return p, nil
}

// UpdatePlan applies a partial update and returns the stored plan.
// Returns ErrNotFound if the plan doesn't exist.
func (s *SQLiteStore) UpdatePlan(ctx context.Context, id string, patch PlanPatch, now time.Time) (*Plan, error) {
	var result *Plan
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getPlan(ctx, tx, id)
		if err != nil {
			return err
		}

		sets := []string{"updated_at = ?"}
		args := []any{formatTime(now)}
		if patch.Title != nil {
			sets = append(sets, "title = ?")
			args = append(args, *patch.Title)
		}
		if patch.Content != nil {
			sets = append(sets, "content = ?")
			args = append(args, *patch.Content)
		}
		if patch.Status != nil {
			sets = append(sets, "status = ?")
			args = append(args, *patch.Status)
			if *patch.Status == PlanCompleted && current.CompletedAt == nil {
				sets = append(sets, "completed_at = ?")
				args = append(args, formatTime(now))
			}
		}
		args = append(args, id)

		if _, err := tx.ExecContext(ctx,
			`UPDATE plans SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
			return fmt.Errorf("updating plan: %w", err)
		}

		result, err = getPlan(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListPlans returns plans for a project, most recently updated first.
// An empty status matches every status.
func (s *SQLiteStore) ListPlans(ctx context.Context, projectPath, status string, limit int) ([]*Plan, error) {
	if limit <= 0 {
		limit = 50
	}

	var where []string
	var args []any
	if projectPath != "" {
		where = append(where, "project_path = ?")
		args = append(args, projectPath)
	}
	if status != "" {
		where = append(where, "status = ?")
		args = append(args, status)
	}

	query := `SELECT ` + planColumns + ` FROM plans`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying plans: %w", err)
	}
	defer rows.Close()

	var plans []*Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

func scanPlan(row scanner) (*Plan, error) {
	var p Plan
	var projectPath, sessionID, completedAt sql.NullString
	var createdAt, updatedAt string

	if err := row.Scan(
		&p.ID,
		&projectPath,
		&sessionID,
		&p.Title,
		&p.Content,
		&p.Status,
		&completedAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	p.ProjectPath = projectPath.String
	p.SessionID = sessionID.String

	var err error
	if p.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, fmt.Errorf("parsing completed_at: %w", err)
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &p, nil
}

// ABOUTME: Issue and typed dependency edge persistence
// ABOUTME: Subtasks are issues with a parent-child edge pointing at their parent

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const issueColumns = `id, project_path, title, description, status, issue_type, priority, created_at, updated_at`

// IssueFilter narrows ListIssues results
type IssueFilter struct {
	ProjectPath string
	Status      string
	Limit       int
}

// CreateIssue inserts a new issue
func (s *SQLiteStore) CreateIssue(ctx context.Context, issue *Issue) error {
	if issue.Status == "" {
		issue.Status = IssueOpen
	}
	if issue.IssueType == "" {
		issue.IssueType = "task"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO issues (`+issueColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		issue.ID,
		nullString(issue.ProjectPath),
		issue.Title,
		nullString(issue.Description),
		issue.Status,
		issue.IssueType,
		issue.Priority,
		formatTime(issue.CreatedAt),
		formatTime(issue.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting issue: %w", err)
	}

	s.logger.Debug("created issue", "id", issue.ID)
	return nil
}

// GetIssue retrieves an issue by ID.
// Returns ErrNotFound if the issue doesn't exist.
func (s *SQLiteStore) GetIssue(ctx context.Context, id string) (*Issue, error) {
	return getIssue(ctx, s.db, id)
}

func getIssue(ctx context.Context, q querier, id string) (*Issue, error) {
	row := q.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE id = ?`, id)
	issue, err := scanIssue(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying issue: %w", err)
	}
	return issue, nil
}

// ListIssues returns issues by priority, then newest first
func (s *SQLiteStore) ListIssues(ctx context.Context, f IssueFilter) ([]*Issue, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}

	var where []string
	var args []any
	if f.ProjectPath != "" {
		where = append(where, "project_path = ?")
		args = append(args, f.ProjectPath)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}

	query := `SELECT ` + issueColumns + ` FROM issues`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY priority ASC, created_at DESC LIMIT ?`
	args = append(args, f.Limit)
	return s.queryIssues(ctx, query, args...)
}

// ReadyIssues returns open issues with no blocks edge to an issue that is
// still unclosed, in ListIssues order. An empty projectPath spans every project.
func (s *SQLiteStore) ReadyIssues(ctx context.Context, projectPath string, limit int) ([]*Issue, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + issueColumns + ` FROM issues i
		WHERE i.status = ?
		AND NOT EXISTS (
			SELECT 1 FROM issue_dependencies d
			JOIN issues b ON b.id = d.depends_on_id
			WHERE d.issue_id = i.id AND d.dependency_type = ? AND b.status != ?
		)`
	args := []any{IssueOpen, DependencyBlocks, IssueClosed}
	if projectPath != "" {
		query += ` AND i.project_path = ?`
		args = append(args, projectPath)
	}
	query += ` ORDER BY i.priority ASC, i.created_at DESC LIMIT ?`
	args = append(args, limit)
	return s.queryIssues(ctx, query, args...)
}

func (s *SQLiteStore) queryIssues(ctx context.Context, query string, args ...any) ([]*Issue, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying issues: %w", err)
	}
	defer rows.Close()

	var issues []*Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning issue: %w", err)
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

// SetIssueStatus changes an issue's status.
// Returns ErrNotFound if the issue doesn't exist.
func (s *SQLiteStore) SetIssueStatus(ctx context.Context, id, status string, now time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE issues SET status = ?, updated_at = ? WHERE id = ?`, status, formatTime(now), id)
	if err != nil {
		return fmt.Errorf("updating issue: %w", err)
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

// AddIssueDependency records that dep.IssueID depends on dep.DependsOnID.
// Both issues must exist. Re-adding an edge replaces its type.
func (s *SQLiteStore) AddIssueDependency(ctx context.Context, dep *IssueDependency) error {
	if dep.DependencyType == "" {
		dep.DependencyType = DependencyBlocks
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getIssue(ctx, tx, dep.IssueID); err != nil {
			return err
		}
		if _, err := getIssue(ctx, tx, dep.DependsOnID); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO issue_dependencies (issue_id, depends_on_id, dependency_type, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(issue_id, depends_on_id) DO UPDATE SET dependency_type = excluded.dependency_type`,
			dep.IssueID, dep.DependsOnID, dep.DependencyType, formatTime(dep.CreatedAt))
		if err != nil {
			return fmt.Errorf("inserting issue dependency: %w", err)
		}
		return nil
	})
}

// ListChildIssueIDs returns the direct subtasks of parentID, oldest first
func (s *SQLiteStore) ListChildIssueIDs(ctx context.Context, parentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.issue_id
		FROM issue_dependencies d
		JOIN issues i ON i.id = d.issue_id
		WHERE d.depends_on_id = ? AND d.dependency_type = ?
		ORDER BY i.created_at ASC, i.id ASC`, parentID, DependencyParentChild)
	if err != nil {
		return nil, fmt.Errorf("querying child issues: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning child issue: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteIssues removes the given issues in order inside one transaction.
// Edges touching a removed issue go with it. Returns ErrNotFound if the last
// id (the root of the cascade) doesn't exist; missing earlier ids are skipped.
func (s *SQLiteStore) DeleteIssues(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var removed int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for i, id := range ids {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM issue_dependencies WHERE issue_id = ? OR depends_on_id = ?`, id, id); err != nil {
				return fmt.Errorf("deleting issue edges: %w", err)
			}
			result, err := tx.ExecContext(ctx, `DELETE FROM issues WHERE id = ?`, id)
			if err != nil {
				return fmt.Errorf("deleting issue %s: %w", id, err)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("getting rows affected: %w", err)
			}
			if n == 0 && i == len(ids)-1 {
				return ErrNotFound
			}
			removed += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Debug("deleted issues", "root", ids[len(ids)-1], "removed", removed)
	return removed, nil
}

func scanIssue(row scanner) (*Issue, error) {
	var issue Issue
	var projectPath, description sql.NullString
	var createdAt, updatedAt string

	if err := row.Scan(
		&issue.ID,
		&projectPath,
		&issue.Title,
		&description,
		&issue.Status,
		&issue.IssueType,
		&issue.Priority,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	issue.ProjectPath = projectPath.String
	issue.Description = description.String

	var err error
	if issue.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if issue.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &issue, nil
}

// ABOUTME: Issue operations including parent-child cascade deletion
// ABOUTME: Children are always removed before their parent so no subtask is orphaned

package workitems

import (
	"context"
	"strings"

	"github.com/2389/coven-context/internal/eventlog"
	"github.com/2389/coven-context/internal/session"
	"github.com/2389/coven-context/internal/store"
)

// CascadeMode selects how far an issue delete reaches
type CascadeMode string

const (
	// CascadeChildren removes direct subtasks only
	CascadeChildren CascadeMode = "children"
	// CascadeDescendants walks parent-child edges transitively
	CascadeDescendants CascadeMode = "descendants"
)

// ParseCascadeMode accepts "", "children" or "descendants"
func ParseCascadeMode(s string) (CascadeMode, error) {
	switch CascadeMode(s) {
	case "", CascadeChildren:
		return CascadeChildren, nil
	case CascadeDescendants:
		return CascadeDescendants, nil
	}
	return "", &session.InvalidArgumentError{Field: "cascade", Reason: "must be children or descendants"}
}

// IssueInput describes a new issue
type IssueInput struct {
	ProjectPath string `json:"project_path,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	IssueType   string `json:"issue_type,omitempty"`
	Priority    int    `json:"priority,omitempty"`
	// ParentID links the new issue as a subtask
	ParentID string `json:"parent_id,omitempty"`
}

// IssueDeletion reports what an issue delete removed
type IssueDeletion struct {
	Removed int64    `json:"removed"`
	IDs     []string `json:"ids"`
}

// CreateIssue inserts an issue and, with ParentID set, its parent-child edge
func (s *Service) CreateIssue(ctx context.Context, in IssueInput) (*store.Issue, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, &session.InvalidArgumentError{Field: "title", Reason: "must not be empty"}
	}
	if in.Priority < 0 || in.Priority > 4 {
		return nil, &session.InvalidArgumentError{Field: "priority", Reason: "must be between 0 and 4"}
	}
	if in.ParentID != "" {
		if _, err := s.store.GetIssue(ctx, in.ParentID); err != nil {
			return nil, session.Classify("create issue", "issue", in.ParentID, err)
		}
	}

	now := s.now()
	issue := &store.Issue{
		ID:          store.NewID("iss"),
		ProjectPath: in.ProjectPath,
		Title:       title,
		Description: in.Description,
		IssueType:   in.IssueType,
		Priority:    in.Priority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateIssue(ctx, issue); err != nil {
		return nil, session.Classify("create issue", "issue", issue.ID, err)
	}

	if in.ParentID != "" {
		err := s.store.AddIssueDependency(ctx, &store.IssueDependency{
			IssueID:        issue.ID,
			DependsOnID:    in.ParentID,
			DependencyType: store.DependencyParentChild,
			CreatedAt:      now,
		})
		if err != nil {
			return nil, session.Classify("link subtask", "issue", in.ParentID, err)
		}
	}

	s.notify(ctx, eventlog.TopicIssue, eventlog.Change{Type: eventlog.TypeCreated, IssueID: issue.ID, ProjectPath: issue.ProjectPath})
	return issue, nil
}

// GetIssue returns one issue
func (s *Service) GetIssue(ctx context.Context, id string) (*store.Issue, error) {
	issue, err := s.store.GetIssue(ctx, id)
	if err != nil {
		return nil, session.Classify("get issue", "issue", id, err)
	}
	return issue, nil
}

// ListIssues returns issues for a project
func (s *Service) ListIssues(ctx context.Context, f store.IssueFilter) ([]*store.Issue, error) {
	issues, err := s.store.ListIssues(ctx, f)
	if err != nil {
		return nil, session.Classify("list issues", "issue", "", err)
	}
	if issues == nil {
		issues = []*store.Issue{}
	}
	return issues, nil
}

// SetIssueStatus moves an issue to open, in_progress or closed
func (s *Service) SetIssueStatus(ctx context.Context, id, status string) (*store.Issue, error) {
	switch status {
	case store.IssueOpen, store.IssueInProgress, store.IssueClosed:
	default:
		return nil, &session.InvalidArgumentError{Field: "status", Reason: "must be open, in_progress or closed"}
	}
	if err := s.store.SetIssueStatus(ctx, id, status, s.now()); err != nil {
		return nil, session.Classify("update issue", "issue", id, err)
	}
	issue, err := s.GetIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, eventlog.TopicIssue, eventlog.Change{Type: eventlog.TypeUpdated, IssueID: id, ProjectPath: issue.ProjectPath})
	return issue, nil
}

// AddDependency records that issueID depends on dependsOnID
func (s *Service) AddDependency(ctx context.Context, issueID, dependsOnID, depType string) error {
	if issueID == dependsOnID {
		return &session.InvalidArgumentError{Field: "depends_on_id", Reason: "an issue cannot depend on itself"}
	}
	switch depType {
	case "":
		depType = store.DependencyBlocks
	case store.DependencyBlocks, store.DependencyParentChild, store.DependencyRelated:
	default:
		return &session.InvalidArgumentError{Field: "dependency_type", Reason: "must be blocks, parent-child or related"}
	}

	err := s.store.AddIssueDependency(ctx, &store.IssueDependency{
		IssueID:        issueID,
		DependsOnID:    dependsOnID,
		DependencyType: depType,
		CreatedAt:      s.now(),
	})
	if err != nil {
		return session.Classify("add dependency", "issue", issueID+" or "+dependsOnID, err)
	}
	s.notify(ctx, eventlog.TopicIssue, eventlog.Change{Type: eventlog.TypeUpdated, IssueID: issueID})
	return nil
}

// DeleteIssue removes an issue after its subtasks. CascadeChildren removes one
// level of subtasks; CascadeDescendants removes the whole subtree. Everything
// is deleted in one transaction, deepest first.
func (s *Service) DeleteIssue(ctx context.Context, id string, mode CascadeMode) (*IssueDeletion, error) {
	if mode == "" {
		mode = CascadeChildren
	}

	var order []string
	switch mode {
	case CascadeChildren:
		children, err := s.store.ListChildIssueIDs(ctx, id)
		if err != nil {
			return nil, session.Classify("delete issue", "issue", id, err)
		}
		order = append(children, id)
	case CascadeDescendants:
		descendants, err := s.descendants(ctx, id)
		if err != nil {
			return nil, session.Classify("delete issue", "issue", id, err)
		}
		order = append(descendants, id)
	default:
		return nil, &session.InvalidArgumentError{Field: "cascade", Reason: "must be children or descendants"}
	}

	n, err := s.store.DeleteIssues(ctx, order)
	if err != nil {
		return nil, session.Classify("delete issue", "issue", id, err)
	}

	s.logger.Debug("deleted issue", "id", id, "mode", mode, "removed", n)
	s.notify(ctx, eventlog.TopicIssue, eventlog.Change{Type: eventlog.TypeDeleted, IssueID: id, Count: int(n)})
	return &IssueDeletion{Removed: n, IDs: order}, nil
}

// descendants walks parent-child edges breadth first and returns the subtree
// below root ordered deepest level first. Cycles are cut at the first revisit.
func (s *Service) descendants(ctx context.Context, root string) ([]string, error) {
	seen := map[string]bool{root: true}
	var levels [][]string
	frontier := []string{root}

	for len(frontier) > 0 {
		var next []string
		for _, parent := range frontier {
			children, err := s.store.ListChildIssueIDs(ctx, parent)
			if err != nil {
				return nil, err
			}
			for _, c := range children {
				if seen[c] {
					continue
				}
				seen[c] = true
				next = append(next, c)
			}
		}
		if len(next) > 0 {
			levels = append(levels, next)
		}
		frontier = next
	}

	var out []string
	for i := len(levels) - 1; i >= 0; i-- {
		out = append(out, levels[i]...)
	}
	return out, nil
}

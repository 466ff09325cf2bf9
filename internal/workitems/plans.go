package workitems

import (
	"context"
	"strings"

	"github.com/2389/coven-context/internal/eventlog"
	"github.com/2389/coven-context/internal/session"
	"github.com/2389/coven-context/internal/store"
)

// PlanInput describes a new plan
type PlanInput struct {
	ProjectPath string `json:"project_path,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	Status      string `json:"status,omitempty"`
}

// PlanUpdate is a partial plan update; nil fields are left untouched
type PlanUpdate struct {
	Title   *string `json:"title,omitempty"`
	Content *string `json:"content,omitempty"`
	Status  *string `json:"status,omitempty"`
}

func validPlanStatus(status string) bool {
	switch status {
	case store.PlanDraft, store.PlanActive, store.PlanCompleted:
		return true
	}
	return false
}

// CreatePlan stores a new plan, draft unless a status is given
func (s *Service) CreatePlan(ctx context.Context, in PlanInput) (*store.Plan, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, &session.InvalidArgumentError{Field: "title", Reason: "must not be empty"}
	}
	if in.Status != "" && !validPlanStatus(in.Status) {
		return nil, &session.InvalidArgumentError{Field: "status", Reason: "must be draft, active or completed"}
	}

	now := s.now()
	p := &store.Plan{
		ID:          store.NewID("plan"),
		ProjectPath: in.ProjectPath,
		SessionID:   in.SessionID,
		Title:       title,
		Content:     in.Content,
		Status:      in.Status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if p.Status == store.PlanCompleted {
		p.CompletedAt = &now
	}
	if err := s.store.CreatePlan(ctx, p); err != nil {
		return nil, session.Classify("create plan", "plan", p.ID, err)
	}

	s.notify(ctx, eventlog.TopicPlan, eventlog.Change{Type: eventlog.TypeCreated, PlanID: p.ID, ProjectPath: p.ProjectPath})
	return p, nil
}

// UpdatePlan applies a partial update. Moving a plan to completed emits a
// completed change instead of updated.
func (s *Service) UpdatePlan(ctx context.Context, id string, in PlanUpdate) (*store.Plan, error) {
	if in.Title == nil && in.Content == nil && in.Status == nil {
		return nil, &session.InvalidArgumentError{Field: "fields", Reason: "nothing to update"}
	}
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return nil, &session.InvalidArgumentError{Field: "title", Reason: "must not be empty"}
	}
	if in.Status != nil && !validPlanStatus(*in.Status) {
		return nil, &session.InvalidArgumentError{Field: "status", Reason: "must be draft, active or completed"}
	}

	before, err := s.store.GetPlan(ctx, id)
	if err != nil {
		return nil, session.Classify("update plan", "plan", id, err)
	}

	p, err := s.store.UpdatePlan(ctx, id, store.PlanPatch{Title: in.Title, Content: in.Content, Status: in.Status}, s.now())
	if err != nil {
		return nil, session.Classify("update plan", "plan", id, err)
	}

	changeType := eventlog.TypeUpdated
	if p.Status == store.PlanCompleted && before.Status != store.PlanCompleted {
		changeType = eventlog.TypeCompleted
	}
	s.notify(ctx, eventlog.TopicPlan, eventlog.Change{Type: changeType, PlanID: id, ProjectPath: p.ProjectPath})
	return p, nil
}

// GetPlan returns one plan
func (s *Service) GetPlan(ctx context.Context, id string) (*store.Plan, error) {
	p, err := s.store.GetPlan(ctx, id)
	if err != nil {
		return nil, session.Classify("get plan", "plan", id, err)
	}
	return p, nil
}

// ListPlans returns a project's plans; an empty status matches all
func (s *Service) ListPlans(ctx context.Context, projectPath, status string, limit int) ([]*store.Plan, error) {
	if status != "" && !validPlanStatus(status) {
		return nil, &session.InvalidArgumentError{Field: "status", Reason: "must be draft, active or completed"}
	}
	plans, err := s.store.ListPlans(ctx, projectPath, status, limit)
	if err != nil {
		return nil, session.Classify("list plans", "plan", "", err)
	}
	if plans == nil {
		plans = []*store.Plan{}
	}
	return plans, nil
}

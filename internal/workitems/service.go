// ABOUTME: Work item service: issues with dependency edges, plans and project memory
// ABOUTME: Each committed mutation emits a change on its own topic

package workitems

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/coven-context/internal/eventlog"
	"github.com/2389/coven-context/internal/session"
	"github.com/2389/coven-context/internal/store"
)

// Store defines what the work item service needs from storage
type Store interface {
	CreateIssue(ctx context.Context, issue *store.Issue) error
	GetIssue(ctx context.Context, id string) (*store.Issue, error)
	ListIssues(ctx context.Context, f store.IssueFilter) ([]*store.Issue, error)
	SetIssueStatus(ctx context.Context, id, status string, now time.Time) error
	AddIssueDependency(ctx context.Context, dep *store.IssueDependency) error
	ListChildIssueIDs(ctx context.Context, parentID string) ([]string, error)
	DeleteIssues(ctx context.Context, ids []string) (int64, error)

	CreatePlan(ctx context.Context, p *store.Plan) error
	GetPlan(ctx context.Context, id string) (*store.Plan, error)
	UpdatePlan(ctx context.Context, id string, patch store.PlanPatch, now time.Time) (*store.Plan, error)
	ListPlans(ctx context.Context, projectPath, status string, limit int) ([]*store.Plan, error)

	SaveMemory(ctx context.Context, m *store.Memory, now time.Time) (bool, error)
	GetMemory(ctx context.Context, projectPath, key string) (*store.Memory, error)
	ListMemory(ctx context.Context, projectPath string) ([]*store.Memory, error)
	DeleteMemory(ctx context.Context, projectPath, key string) error
}

// Service owns issues, plans and project memory
type Service struct {
	store  Store
	events session.Notifier
	now    func() time.Time
	logger *slog.Logger
}

// New creates a work item Service. Pass nil logger for default.
func New(st Store, events session.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  st,
		events: events,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With("component", "workitems"),
	}
}

func (s *Service) notify(ctx context.Context, topic string, change eventlog.Change) {
	if s.events == nil {
		return
	}
	s.events.Notify(ctx, topic, change)
}

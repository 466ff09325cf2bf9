// ABOUTME: Read-only session primer aggregating context, issues and project memory
// ABOUTME: The result is one block an agent can load at the start of a conversation

package primer

import (
	"context"
	"log/slog"

	"github.com/2389/coven-context/internal/session"
	"github.com/2389/coven-context/internal/store"
)

// Section caps
const (
	highPriorityLimit = 10
	decisionLimit     = 10
	reminderLimit     = 10
	progressLimit     = 5
	issueLimit        = 10
	memoryLimit       = 20

	// openIssueScan bounds the issue rows read to count open work
	openIssueScan = 1000
)

// Store defines what the primer reads
type Store interface {
	GetSession(ctx context.Context, id string) (*store.Session, error)
	ListContextItems(ctx context.Context, sessionID string, q store.ItemQuery) ([]*store.ContextItem, error)
	ListIssues(ctx context.Context, f store.IssueFilter) ([]*store.Issue, error)
	ReadyIssues(ctx context.Context, projectPath string, limit int) ([]*store.Issue, error)
	ListMemory(ctx context.Context, projectPath string) ([]*store.Memory, error)
}

// ContextBlock holds the capped item sections, newest first
type ContextBlock struct {
	HighPriority   []*store.ContextItem `json:"high_priority"`
	Decisions      []*store.ContextItem `json:"decisions"`
	Reminders      []*store.ContextItem `json:"reminders"`
	RecentProgress []*store.ContextItem `json:"recent_progress"`
	TotalItems     int                  `json:"total_items"`
}

// IssueBlock holds started and ready issues for the project
type IssueBlock struct {
	Active    []*store.Issue `json:"active"`
	Ready     []*store.Issue `json:"ready"`
	TotalOpen int            `json:"total_open"`
}

// Primer is everything an agent needs to pick a session back up
type Primer struct {
	Session     *store.Session  `json:"session"`
	ProjectPath string          `json:"project_path,omitempty"`
	Context     ContextBlock    `json:"context"`
	Issues      IssueBlock      `json:"issues"`
	Memory      []*store.Memory `json:"memory"`
	MemoryTotal int             `json:"memory_total"`
}

// Builder assembles primers. It never writes.
type Builder struct {
	store  Store
	logger *slog.Logger
}

// New creates a Builder. Pass nil logger for default.
func New(st Store, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{store: st, logger: logger.With("component", "primer")}
}

// Build assembles the primer for sessionID. Issues and memory are scoped to
// the session's project path, or to projectPath when the session has none.
// Without either, issues span every project and memory is left empty.
func (b *Builder) Build(ctx context.Context, sessionID, projectPath string) (*Primer, error) {
	if sessionID == "" {
		return nil, &session.InvalidArgumentError{Field: "session_id", Reason: "must not be empty"}
	}
	sess, err := b.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, session.Classify("build primer", "session", sessionID, err)
	}
	if sess.ProjectPath != "" {
		projectPath = sess.ProjectPath
	}

	items, err := b.store.ListContextItems(ctx, sessionID, store.ItemQuery{})
	if err != nil {
		return nil, session.Classify("build primer", "session", sessionID, err)
	}

	p := &Primer{
		Session:     sess,
		ProjectPath: projectPath,
		Context:     contextBlock(items),
		Memory:      []*store.Memory{},
	}

	if p.Issues, err = b.issues(ctx, projectPath); err != nil {
		return nil, session.Classify("build primer", "project", projectPath, err)
	}

	if projectPath != "" {
		mem, err := b.store.ListMemory(ctx, projectPath)
		if err != nil {
			return nil, session.Classify("build primer", "project", projectPath, err)
		}
		p.MemoryTotal = len(mem)
		if len(mem) > memoryLimit {
			mem = mem[:memoryLimit]
		}
		if mem != nil {
			p.Memory = mem
		}
	}

	b.logger.Debug("built primer", "session_id", sessionID, "items", p.Context.TotalItems, "open_issues", p.Issues.TotalOpen)
	return p, nil
}

func (b *Builder) issues(ctx context.Context, projectPath string) (IssueBlock, error) {
	active, err := b.store.ListIssues(ctx, store.IssueFilter{ProjectPath: projectPath, Status: store.IssueInProgress, Limit: openIssueScan})
	if err != nil {
		return IssueBlock{}, err
	}
	open, err := b.store.ListIssues(ctx, store.IssueFilter{ProjectPath: projectPath, Status: store.IssueOpen, Limit: openIssueScan})
	if err != nil {
		return IssueBlock{}, err
	}
	ready, err := b.store.ReadyIssues(ctx, projectPath, issueLimit)
	if err != nil {
		return IssueBlock{}, err
	}
	return IssueBlock{
		Active:    capIssues(active, issueLimit),
		Ready:     capIssues(ready, issueLimit),
		TotalOpen: len(active) + len(open),
	}, nil
}

func contextBlock(items []*store.ContextItem) ContextBlock {
	block := ContextBlock{
		HighPriority:   []*store.ContextItem{},
		Decisions:      []*store.ContextItem{},
		Reminders:      []*store.ContextItem{},
		RecentProgress: []*store.ContextItem{},
		TotalItems:     len(items),
	}
	for _, it := range store.NewestFirst(items) {
		if it.Priority == store.PriorityHigh && len(block.HighPriority) < highPriorityLimit {
			block.HighPriority = append(block.HighPriority, it)
		}
		switch it.Category {
		case store.CategoryDecision:
			if len(block.Decisions) < decisionLimit {
				block.Decisions = append(block.Decisions, it)
			}
		case store.CategoryReminder:
			if len(block.Reminders) < reminderLimit {
				block.Reminders = append(block.Reminders, it)
			}
		case store.CategoryProgress:
			if len(block.RecentProgress) < progressLimit {
				block.RecentProgress = append(block.RecentProgress, it)
			}
		}
	}
	return block
}

func capIssues(issues []*store.Issue, n int) []*store.Issue {
	if len(issues) > n {
		issues = issues[:n]
	}
	if issues == nil {
		return []*store.Issue{}
	}
	return issues
}

// ABOUTME: Pre-compaction snapshot: an automatic full checkpoint plus a digest of critical items
// ABOUTME: The digest is what an agent re-reads after its conversation window is compacted

package checkpoint

import (
	"context"
	"fmt"
	"strings"

	"github.com/2389/coven-context/internal/session"
	"github.com/2389/coven-context/internal/store"
)

// Digest limits, newest items first
const (
	compactHighPriority = 5
	compactNextSteps    = 5
	compactDecisions    = 10
	compactProgress     = 3
)

// CompactionInput names the session to snapshot. Git fields are recorded on
// the checkpoint as given.
type CompactionInput struct {
	SessionID string `json:"session_id"`
	GitStatus string `json:"git_status,omitempty"`
	GitBranch string `json:"git_branch,omitempty"`
}

// CompactionStats counts what the digest was drawn from
type CompactionStats struct {
	ItemsSaved   int `json:"items_saved"`
	HighPriority int `json:"high_priority"`
	PendingTasks int `json:"pending_tasks"`
	Decisions    int `json:"decisions"`
}

// CriticalContext is the capped digest of a session
type CriticalContext struct {
	HighPriority   []*store.ContextItem `json:"high_priority"`
	NextSteps      []*store.ContextItem `json:"next_steps"`
	Decisions      []*store.ContextItem `json:"decisions"`
	RecentProgress []*store.ContextItem `json:"recent_progress"`
}

// Compaction is the result of PrepareCompaction
type Compaction struct {
	Checkpoint *Summary        `json:"checkpoint"`
	Stats      CompactionStats `json:"stats"`
	Critical   CriticalContext `json:"critical_context"`
	Message    string          `json:"message"`
}

// PrepareCompaction captures every item of the session into a checkpoint
// named pre-compact-<UTC time> and returns a digest of the items an agent
// should see again first: high priority items, unfinished reminders,
// decisions and recent progress.
func (e *Engine) PrepareCompaction(ctx context.Context, in CompactionInput) (*Compaction, error) {
	now := e.now()
	cp, err := e.Capture(ctx, CaptureInput{
		SessionID:   in.SessionID,
		Name:        "pre-compact-" + now.Format("20060102-150405"),
		Description: "Automatic checkpoint before context compaction",
		GitStatus:   in.GitStatus,
		GitBranch:   in.GitBranch,
	})
	if err != nil {
		return nil, err
	}

	live, err := e.store.ListContextItems(ctx, in.SessionID, store.ItemQuery{})
	if err != nil {
		return nil, session.Classify("prepare compaction", "session", in.SessionID, err)
	}

	var high, steps, decisions, progress []*store.ContextItem
	for _, it := range store.NewestFirst(live) {
		if it.Priority == store.PriorityHigh {
			high = append(high, it)
		}
		switch it.Category {
		case store.CategoryReminder:
			if !finished(it.Value) {
				steps = append(steps, it)
			}
		case store.CategoryDecision:
			decisions = append(decisions, it)
		case store.CategoryProgress:
			progress = append(progress, it)
		}
	}

	out := &Compaction{
		Checkpoint: cp,
		Stats: CompactionStats{
			ItemsSaved:   cp.ItemCount,
			HighPriority: len(high),
			PendingTasks: len(steps),
			Decisions:    len(decisions),
		},
		Critical: CriticalContext{
			HighPriority:   head(high, compactHighPriority),
			NextSteps:      head(steps, compactNextSteps),
			Decisions:      head(decisions, compactDecisions),
			RecentProgress: head(progress, compactProgress),
		},
		Message: fmt.Sprintf("Restore checkpoint %s (%s) to continue. %d pending tasks and %d decisions recorded.",
			cp.Name, cp.ID, len(steps), len(decisions)),
	}
	e.logger.Info("prepared compaction", "session_id", in.SessionID, "checkpoint", cp.ID, "items", cp.ItemCount)
	return out, nil
}

// finished reports a reminder whose text marks it done
func finished(value string) bool {
	v := strings.ToLower(value)
	return strings.Contains(v, "completed") || strings.Contains(v, "done")
}

func head(items []*store.ContextItem, n int) []*store.ContextItem {
	if len(items) > n {
		items = items[:n]
	}
	if items == nil {
		return []*store.ContextItem{}
	}
	return items
}

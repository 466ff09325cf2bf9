// ABOUTME: Golden tests for the text renderers used by coven-ctx output
// ABOUTME: Color is disabled in TestMain so fixtures hold plain text

package cli

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/sebdah/goldie/v2"

	"github.com/2389/coven-context/internal/checkpoint"
	"github.com/2389/coven-context/internal/primer"
	"github.com/2389/coven-context/internal/store"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func TestRender_Golden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	updated := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	sess := &store.Session{
		ID:          "sess-1",
		Name:        "auth-refactor",
		Description: "Move auth to middleware",
		Channel:     store.DefaultChannel,
		ProjectPath: "/src/app",
		Status:      store.SessionActive,
		UpdatedAt:   updated,
	}
	item := &store.ContextItem{
		Key:      "db/schema",
		Value:    "use sqlite\nwal mode",
		Category: store.CategoryDecision,
		Priority: store.PriorityHigh,
		Tags:     []string{"db", "arch"},
	}
	detail := &checkpoint.Detail{
		Checkpoint: &store.Checkpoint{
			ID:        "cp-1",
			Name:      "before-split",
			ItemCount: 2,
			TotalSize: 30,
			GitBranch: "main",
			CreatedAt: updated.Add(30 * time.Minute),
		},
		Items: []*store.CheckpointItem{
			{Position: 1, Key: "db/schema", Category: store.CategoryDecision, Priority: store.PriorityHigh},
			{Position: 2, Key: "todo", Category: store.CategoryTask, Priority: store.PriorityNormal},
		},
	}

	next := &store.ContextItem{Key: "next", Value: "wire the CLI", Category: store.CategoryReminder}
	compaction := &checkpoint.Compaction{
		Checkpoint: &store.Checkpoint{
			ID:          "cp-9",
			Name:        "pre-compact-20260301-100000",
			Description: "Automatic checkpoint before context compaction",
			ItemCount:   3,
			TotalSize:   42,
			GitBranch:   "main",
			CreatedAt:   updated.Add(30 * time.Minute),
		},
		Stats: checkpoint.CompactionStats{ItemsSaved: 3, HighPriority: 1, PendingTasks: 1, Decisions: 1},
		Critical: checkpoint.CriticalContext{
			HighPriority:   []*store.ContextItem{item},
			NextSteps:      []*store.ContextItem{next},
			Decisions:      []*store.ContextItem{item},
			RecentProgress: []*store.ContextItem{},
		},
	}
	prime := &primer.Primer{
		Session: sess,
		Context: primer.ContextBlock{
			HighPriority:   []*store.ContextItem{item},
			Decisions:      []*store.ContextItem{item},
			Reminders:      []*store.ContextItem{next},
			RecentProgress: []*store.ContextItem{},
			TotalItems:     4,
		},
		Issues: primer.IssueBlock{
			Active:    []*store.Issue{{ID: "iss-1", Status: store.IssueInProgress, Priority: 1, Title: "Split handlers"}},
			Ready:     []*store.Issue{{ID: "iss-2", Status: store.IssueOpen, Priority: 2, Title: "Write docs"}},
			TotalOpen: 2,
		},
		Memory: []*store.Memory{{Key: "build/cmd", Category: "command", Value: "make test"}},
	}

	tests := []struct {
		name   string
		render func(b *bytes.Buffer)
	}{
		{"session", func(b *bytes.Buffer) { renderSession(b, sess) }},
		{"session_rows", func(b *bytes.Buffer) {
			renderSessionRow(b, sess)
			paused := *sess
			paused.ID, paused.Name, paused.Status = "sess-2", "docs", store.SessionPaused
			renderSessionRow(b, &paused)
		}},
		{"item", func(b *bytes.Buffer) { renderItem(b, item) }},
		{"checkpoint_detail", func(b *bytes.Buffer) { renderCheckpointDetail(b, detail) }},
		{"work_items", func(b *bytes.Buffer) {
			renderIssue(b, &store.Issue{ID: "iss-1", Status: store.IssueInProgress, Priority: 1, Title: "Split handlers"})
			renderMemory(b, &store.Memory{Key: "build/cmd", Category: "command", Value: "make test"})
		}},
		{"plans", func(b *bytes.Buffer) {
			renderPlanRow(b, &store.Plan{ID: "plan-1", Status: store.PlanActive, Title: "Move auth"})
			renderPlanRow(b, &store.Plan{ID: "plan-2", Status: store.PlanDraft, Title: "Split store"})
			renderPlan(b, &store.Plan{Title: "Move auth", Status: store.PlanActive, Content: "1. middleware\n2. tests"})
		}},
		{"compaction", func(b *bytes.Buffer) { renderCompaction(b, compaction) }},
		{"primer", func(b *bytes.Buffer) { renderPrimer(b, prime) }},
		{"event", func(b *bytes.Buffer) {
			ts := time.Date(2026, 3, 1, 9, 30, 15, 250_000_000, time.UTC).UnixMilli()
			renderEvent(b, 7, ts, "session", []byte(`{"action":"started"}`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b bytes.Buffer
			tt.render(&b)
			g.Assert(t, "render_"+tt.name, b.Bytes())
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
	if got := truncate("line one\nline two", 100); got != "line one line two" {
		t.Errorf("newlines not flattened: %q", got)
	}
	if got := truncate("abcdefghij", 8); got != "abcde..." {
		t.Errorf("truncate = %q, want abcde...", got)
	}
}

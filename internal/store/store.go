// ABOUTME: Data types and sentinel errors for coven-context persistence
// ABOUTME: Defines sessions, context items, checkpoints, event log entries and collaborator records

package store

import (
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique constraint would be violated
var ErrDuplicate = errors.New("already exists")

// ErrSessionActive is returned when deleting a session that is still active
var ErrSessionActive = errors.New("session is active")

// ErrStatusConflict is returned when a status transition does not apply to the current status
var ErrStatusConflict = errors.New("status conflict")

// SessionStatus is the lifecycle state of a session
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
)

// DefaultChannel is used for sessions created without an explicit channel
const DefaultChannel = "general"

// Category classifies a context item
type Category string

const (
	CategoryReminder Category = "reminder"
	CategoryDecision Category = "decision"
	CategoryProgress Category = "progress"
	CategoryNote     Category = "note"
	CategoryTask     Category = "task"
)

// Valid reports whether c is one of the known categories
func (c Category) Valid() bool {
	switch c {
	case CategoryReminder, CategoryDecision, CategoryProgress, CategoryNote, CategoryTask:
		return true
	}
	return false
}

// Priority ranks a context item
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Valid reports whether p is one of the known priorities
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// Session is the unit of ownership for context items and checkpoints
type Session struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Channel     string        `json:"channel"`
	ProjectPath string        `json:"project_path,omitempty"`
	Status      SessionStatus `json:"status"`
	EndedAt     *time.Time    `json:"ended_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// SessionFilter narrows ListSessions results
type SessionFilter struct {
	Status      SessionStatus
	ProjectPath string
	Limit       int
}

// SessionDeletion reports what a cascading session delete removed
type SessionDeletion struct {
	ItemsDeleted       int64
	CheckpointsDeleted int64
}

// ContextItem is a named fact or note scoped to a session
type ContextItem struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Category  Category  `json:"category"`
	Priority  Priority  `json:"priority"`
	Channel   string    `json:"channel,omitempty"`
	Tags      []string  `json:"tags"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasTag reports whether the item carries the exact tag
func (i *ContextItem) HasTag(tag string) bool {
	for _, t := range i.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// NewestFirst returns a copy of items ordered by last update, newest first.
// Ties go to the item later in the input, so creation-ordered lists stay
// newest first.
func NewestFirst(items []*ContextItem) []*ContextItem {
	out := slices.Clone(items)
	slices.Reverse(out)
	slices.SortStableFunc(out, func(a, b *ContextItem) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return out
}

// ItemUpsert describes a save. Empty Category, Priority and Channel, and a nil
// Tags slice, keep the stored values on update and take defaults on insert.
type ItemUpsert struct {
	SessionID string
	Key       string
	Value     string
	Category  Category
	Priority  Priority
	Channel   string
	Tags      []string
}

// ItemPatch is a partial update. Nil fields are left untouched.
type ItemPatch struct {
	Value    *string
	Category *Category
	Priority *Priority
	Channel  *string
	Tags     *[]string
}

// Empty reports whether the patch changes nothing
func (p ItemPatch) Empty() bool {
	return p.Value == nil && p.Category == nil && p.Priority == nil && p.Channel == nil && p.Tags == nil
}

// ItemQuery narrows ListContextItems results
type ItemQuery struct {
	Category Category
	Priority Priority
	Channel  string
	Tag      string
	Limit    int
}

// Checkpoint is an immutable snapshot header
type Checkpoint struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	GitStatus   string    `json:"git_status,omitempty"`
	GitBranch   string    `json:"git_branch,omitempty"`
	ItemCount   int       `json:"item_count"`
	TotalSize   int       `json:"total_size"`
	CreatedAt   time.Time `json:"created_at"`
}

// CheckpointItem is a frozen copy of a context item at capture time
type CheckpointItem struct {
	ID            string    `json:"id"`
	CheckpointID  string    `json:"checkpoint_id"`
	Position      int       `json:"position"`
	Key           string    `json:"key"`
	Value         string    `json:"value"`
	Category      Category  `json:"category"`
	Priority      Priority  `json:"priority"`
	Channel       string    `json:"channel,omitempty"`
	Tags          []string  `json:"tags"`
	Size          int       `json:"size"`
	ItemCreatedAt time.Time `json:"item_created_at"`
	ItemUpdatedAt time.Time `json:"item_updated_at"`
}

// HasTag reports whether the frozen item carries the exact tag
func (i *CheckpointItem) HasTag(tag string) bool {
	for _, t := range i.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Event is one append-only event log row. Timestamp is unix milliseconds.
type Event struct {
	Sequence  int64           `json:"sequence"`
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// IssueStatus values
const (
	IssueOpen       = "open"
	IssueInProgress = "in_progress"
	IssueClosed     = "closed"
)

// Dependency types for issue edges
const (
	DependencyBlocks      = "blocks"
	DependencyParentChild = "parent-child"
	DependencyRelated     = "related"
)

// Issue is a tracked unit of work. Subtasks point at their parent through a
// parent-child dependency edge.
type Issue struct {
	ID          string    `json:"id"`
	ProjectPath string    `json:"project_path,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	IssueType   string    `json:"issue_type"`
	Priority    int       `json:"priority"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IssueDependency is a typed edge: IssueID depends on DependsOnID
type IssueDependency struct {
	IssueID        string    `json:"issue_id"`
	DependsOnID    string    `json:"depends_on_id"`
	DependencyType string    `json:"dependency_type"`
	CreatedAt      time.Time `json:"created_at"`
}

// Plan status values
const (
	PlanDraft     = "draft"
	PlanActive    = "active"
	PlanCompleted = "completed"
)

// Plan is a longer-form implementation plan attached to a project
type Plan struct {
	ID          string     `json:"id"`
	ProjectPath string     `json:"project_path,omitempty"`
	SessionID   string     `json:"session_id,omitempty"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	Status      string     `json:"status"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// PlanPatch is a partial plan update
type PlanPatch struct {
	Title   *string
	Content *string
	Status  *string
}

// Memory is a project-scoped key/value fact that outlives sessions
type Memory struct {
	ID          string    `json:"id"`
	ProjectPath string    `json:"project_path"`
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Category    string    `json:"category"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewID returns a short prefixed identifier such as "sess_1a2b3c4d5e6f"
func NewID(prefix string) string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return prefix + "_" + raw[:12]
}

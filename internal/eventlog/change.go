// ABOUTME: Change is the payload shape every domain mutation emits
// ABOUTME: Field names are camelCase because they are spread into stream frames as-is

package eventlog

// Change types
const (
	TypeCreated   = "created"
	TypeUpdated   = "updated"
	TypeDeleted   = "deleted"
	TypeResumed   = "resumed"
	TypePaused    = "paused"
	TypeCompleted = "completed"
	TypeRestored  = "restored"
	TypeSplit     = "split"
	TypeImported  = "imported"
	TypeSaved     = "saved"
)

// Change describes one committed mutation
type Change struct {
	Type         string `json:"type"`
	SessionID    string `json:"sessionId,omitempty"`
	Key          string `json:"key,omitempty"`
	CheckpointID string `json:"checkpointId,omitempty"`
	IssueID      string `json:"issueId,omitempty"`
	PlanID       string `json:"planId,omitempty"`
	ProjectPath  string `json:"projectPath,omitempty"`
	Count        int    `json:"count,omitempty"`
}

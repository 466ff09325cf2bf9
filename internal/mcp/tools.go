// ABOUTME: Context tools exposed over MCP: session lifecycle, context items, checkpoints, memory, issues and primers
// ABOUTME: Tools default to the client's current coven session when session_id is omitted

package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/2389/coven-context/internal/checkpoint"
	"github.com/2389/coven-context/internal/primer"
	"github.com/2389/coven-context/internal/session"
	"github.com/2389/coven-context/internal/store"
	"github.com/2389/coven-context/internal/workitems"
)

// Services are the domain services the tools call into
type Services struct {
	Sessions    *session.Service
	Checkpoints *checkpoint.Engine
	WorkItems   *workitems.Service
	Primer      *primer.Builder
}

// ContextTools returns the full tool set bound to svc
func ContextTools(svc Services) []*Tool {
	h := &toolHandlers{svc: svc}
	return []*Tool{
		{
			Name:        "session_start",
			Description: "Start a work session, resuming a paused one with the same name and project unless force_new is set",
			InputSchema: `{"type":"object","properties":{"name":{"type":"string"},"description":{"type":"string"},"channel":{"type":"string"},"project_path":{"type":"string"},"force_new":{"type":"boolean"}},"required":["name"]}`,
			Handler:     h.sessionStart,
		},
		{
			Name:        "session_pause",
			Description: "Pause the current session",
			InputSchema: sessionOnlySchema,
			Handler:     h.sessionPause,
		},
		{
			Name:        "session_resume",
			Description: "Resume a paused or completed session and make it current",
			InputSchema: `{"type":"object","properties":{"session_id":{"type":"string"}},"required":["session_id"]}`,
			Handler:     h.sessionResume,
		},
		{
			Name:        "session_complete",
			Description: "Mark the current session completed",
			InputSchema: sessionOnlySchema,
			Handler:     h.sessionComplete,
		},
		{
			Name:        "context_save",
			Description: "Save a context item. Starts a session automatically when none is current",
			InputSchema: `{"type":"object","properties":{"session_id":{"type":"string"},"project_path":{"type":"string"},"key":{"type":"string"},"value":{"type":"string"},"category":{"type":"string","enum":["reminder","decision","progress","note","task"]},"priority":{"type":"string","enum":["high","normal","low"]},"channel":{"type":"string"},"tags":{"type":"array","items":{"type":"string"}}},"required":["key","value"]}`,
			Handler:     h.contextSave,
		},
		{
			Name:        "context_update",
			Description: "Update fields of an existing context item",
			InputSchema: `{"type":"object","properties":{"session_id":{"type":"string"},"key":{"type":"string"},"value":{"type":"string"},"category":{"type":"string","enum":["reminder","decision","progress","note","task"]},"priority":{"type":"string","enum":["high","normal","low"]},"channel":{"type":"string"},"tags":{"type":"array","items":{"type":"string"}}},"required":["key"]}`,
			Handler:     h.contextUpdate,
		},
		{
			Name:        "context_delete",
			Description: "Delete a context item by key",
			InputSchema: `{"type":"object","properties":{"session_id":{"type":"string"},"key":{"type":"string"}},"required":["key"]}`,
			Handler:     h.contextDelete,
		},
		{
			Name:        "context_list",
			Description: "List context items, optionally filtered",
			InputSchema: `{"type":"object","properties":{"session_id":{"type":"string"},"category":{"type":"string"},"priority":{"type":"string"},"channel":{"type":"string"},"tag":{"type":"string"},"limit":{"type":"integer"}}}`,
			Handler:     h.contextList,
		},
		{
			Name:        "checkpoint_create",
			Description: "Freeze the session's context items, or the filtered subset, into a checkpoint",
			InputSchema: `{"type":"object","properties":{"session_id":{"type":"string"},"name":{"type":"string"},"description":{"type":"string"},"git_status":{"type":"string"},"git_branch":{"type":"string"},` + filterProps + `},"required":["name"]}`,
			Handler:     h.checkpointCreate,
		},
		{
			Name:        "checkpoint_restore",
			Description: "Write a checkpoint's items, or the filtered subset, back into its session",
			InputSchema: `{"type":"object","properties":{"checkpoint_id":{"type":"string"},` + filterProps + `},"required":["checkpoint_id"]}`,
			Handler:     h.checkpointRestore,
		},
		{
			Name:        "checkpoint_split",
			Description: "Carve new checkpoints out of an existing checkpoint's frozen items",
			InputSchema: `{"type":"object","properties":{"checkpoint_id":{"type":"string"},"splits":{"type":"array","items":{"type":"object","properties":{"name":{"type":"string"},"description":{"type":"string"},` + filterProps + `},"required":["name"]}}},"required":["checkpoint_id","splits"]}`,
			Handler:     h.checkpointSplit,
		},
		{
			Name:        "checkpoint_delete",
			Description: "Delete a checkpoint. Live context items are untouched",
			InputSchema: `{"type":"object","properties":{"checkpoint_id":{"type":"string"}},"required":["checkpoint_id"]}`,
			Handler:     h.checkpointDelete,
		},
		{
			Name:        "checkpoint_list",
			Description: "List the session's checkpoints, newest first",
			InputSchema: `{"type":"object","properties":{"session_id":{"type":"string"},"limit":{"type":"integer"}}}`,
			Handler:     h.checkpointList,
		},
		{
			Name:        "context_prepare_compaction",
			Description: "Checkpoint every item of the session and return the high priority items, open reminders, decisions and recent progress to carry across a compaction",
			InputSchema: `{"type":"object","properties":{"session_id":{"type":"string"},"git_status":{"type":"string"},"git_branch":{"type":"string"}}}`,
			Handler:     h.prepareCompaction,
		},
		{
			Name:        "session_prime",
			Description: "Read the session's key context together with its project's active and ready issues and memory",
			InputSchema: `{"type":"object","properties":{"session_id":{"type":"string"},"project_path":{"type":"string"}}}`,
			Handler:     h.sessionPrime,
		},
		{
			Name:        "memory_save",
			Description: "Save a project-scoped fact that outlives sessions",
			InputSchema: `{"type":"object","properties":{"project_path":{"type":"string"},"key":{"type":"string"},"value":{"type":"string"},"category":{"type":"string","enum":["command","config","note"]}},"required":["project_path","key","value"]}`,
			Handler:     h.memorySave,
		},
		{
			Name:        "issue_create",
			Description: "Create an issue, optionally as a subtask of parent_id",
			InputSchema: `{"type":"object","properties":{"project_path":{"type":"string"},"title":{"type":"string"},"description":{"type":"string"},"issue_type":{"type":"string"},"priority":{"type":"integer","minimum":0,"maximum":4},"parent_id":{"type":"string"}},"required":["title"]}`,
			Handler:     h.issueCreate,
		},
	}
}

const sessionOnlySchema = `{"type":"object","properties":{"session_id":{"type":"string"}}}`

const filterProps = `"include_tags":{"type":"array","items":{"type":"string"}},"exclude_tags":{"type":"array","items":{"type":"string"}},"include_categories":{"type":"array","items":{"type":"string"}},"include_keys":{"type":"array","items":{"type":"string"}}`

type toolHandlers struct {
	svc Services
}

func decodeInput(input json.RawMessage, v any) error {
	if err := json.Unmarshal(input, v); err != nil {
		return &session.InvalidArgumentError{Field: "arguments", Reason: err.Error()}
	}
	return nil
}

// sessionFor picks the explicit id, falling back to the client's current session
func sessionFor(op string, client *ClientSession, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if cur := client.Current(); cur != "" {
		return cur, nil
	}
	return "", &session.PreconditionError{Op: op, Reason: "no current session; call session_start or pass session_id"}
}

type sessionRef struct {
	SessionID string `json:"session_id"`
}

func (h *toolHandlers) sessionStart(ctx context.Context, client *ClientSession, input json.RawMessage) (any, error) {
	var in session.StartInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	res, err := h.svc.Sessions.Start(ctx, in)
	if err != nil {
		return nil, err
	}
	client.SetCurrent(res.Session.ID)
	return res, nil
}

func (h *toolHandlers) sessionPause(ctx context.Context, client *ClientSession, input json.RawMessage) (any, error) {
	var in sessionRef
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	id, err := sessionFor("pause session", client, in.SessionID)
	if err != nil {
		return nil, err
	}
	return h.svc.Sessions.Pause(ctx, id)
}

func (h *toolHandlers) sessionResume(ctx context.Context, client *ClientSession, input json.RawMessage) (any, error) {
	var in sessionRef
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if in.SessionID == "" {
		return nil, &session.InvalidArgumentError{Field: "session_id", Reason: "must not be empty"}
	}
	sess, err := h.svc.Sessions.Resume(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	client.SetCurrent(sess.ID)
	return sess, nil
}

func (h *toolHandlers) sessionComplete(ctx context.Context, client *ClientSession, input json.RawMessage) (any, error) {
	var in sessionRef
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	id, err := sessionFor("complete session", client, in.SessionID)
	if err != nil {
		return nil, err
	}
	sess, err := h.svc.Sessions.Complete(ctx, id)
	if err != nil {
		return nil, err
	}
	if client.Current() == id {
		client.SetCurrent("")
	}
	return sess, nil
}

type contextSaveInput struct {
	SessionID   string `json:"session_id"`
	ProjectPath string `json:"project_path"`
	session.SaveInput
}

func (h *toolHandlers) contextSave(ctx context.Context, client *ClientSession, input json.RawMessage) (any, error) {
	var in contextSaveInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}

	id := in.SessionID
	if id == "" {
		id = client.Current()
	}
	if id == "" {
		started, err := h.svc.Sessions.Start(ctx, session.StartInput{
			Name:        autoSessionName(in.ProjectPath),
			ProjectPath: in.ProjectPath,
		})
		if err != nil {
			return nil, err
		}
		id = started.Session.ID
		client.SetCurrent(id)
	}

	return h.svc.Sessions.Save(ctx, id, in.SaveInput)
}

// autoSessionName names sessions started implicitly by a first save
func autoSessionName(projectPath string) string {
	if p := strings.TrimRight(projectPath, "/"); p != "" {
		return filepath.Base(p)
	}
	return "scratch"
}

type contextUpdateInput struct {
	SessionID string `json:"session_id"`
	Key       string `json:"key"`
	session.UpdateInput
}

func (h *toolHandlers) contextUpdate(ctx context.Context, client *ClientSession, input json.RawMessage) (any, error) {
	var in contextUpdateInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	id, err := sessionFor("update context item", client, in.SessionID)
	if err != nil {
		return nil, err
	}
	changed, err := h.svc.Sessions.Update(ctx, id, in.Key, in.UpdateInput)
	if err != nil {
		return nil, err
	}
	return map[string]any{"changed": changed}, nil
}

func (h *toolHandlers) contextDelete(ctx context.Context, client *ClientSession, input json.RawMessage) (any, error) {
	var in struct {
		SessionID string `json:"session_id"`
		Key       string `json:"key"`
	}
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	id, err := sessionFor("delete context item", client, in.SessionID)
	if err != nil {
		return nil, err
	}
	changed, err := h.svc.Sessions.DeleteItem(ctx, id, in.Key)
	if err != nil {
		return nil, err
	}
	return map[string]any{"changed": changed}, nil
}

func (h *toolHandlers) contextList(ctx context.Context, client *ClientSession, input json.RawMessage) (any, error) {
	var in struct {
		SessionID string `json:"session_id"`
		Category  string `json:"category"`
		Priority  string `json:"priority"`
		Channel   string `json:"channel"`
		Tag       string `json:"tag"`
		Limit     int    `json:"limit"`
	}
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	id, err := sessionFor("list context items", client, in.SessionID)
	if err != nil {
		return nil, err
	}
	items, err := h.svc.Sessions.ListItems(ctx, id, session.ItemFilter{
		Category: store.Category(in.Category),
		Priority: store.Priority(in.Priority),
		Channel:  in.Channel,
		Tag:      in.Tag,
		Limit:    in.Limit,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"session_id": id, "items": items}, nil
}

type checkpointCreateInput struct {
	SessionID   string `json:"session_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	GitStatus   string `json:"git_status"`
	GitBranch   string `json:"git_branch"`
	checkpoint.Filter
}

func (h *toolHandlers) checkpointCreate(ctx context.Context, client *ClientSession, input json.RawMessage) (any, error) {
	var in checkpointCreateInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	id, err := sessionFor("create checkpoint", client, in.SessionID)
	if err != nil {
		return nil, err
	}
	return h.svc.Checkpoints.Capture(ctx, checkpoint.CaptureInput{
		SessionID:   id,
		Name:        in.Name,
		Description: in.Description,
		GitStatus:   in.GitStatus,
		GitBranch:   in.GitBranch,
		Filter:      in.Filter,
	})
}

func (h *toolHandlers) checkpointRestore(ctx context.Context, client *ClientSession, input json.RawMessage) (any, error) {
	var in struct {
		CheckpointID string `json:"checkpoint_id"`
		checkpoint.Filter
	}
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	var filter *checkpoint.Filter
	if !in.Filter.IsZero() {
		filter = &in.Filter
	}
	res, err := h.svc.Checkpoints.Restore(ctx, in.CheckpointID, filter)
	if err != nil {
		return nil, err
	}
	client.SetCurrent(res.SessionID)
	return res, nil
}

type splitInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	checkpoint.Filter
}

func (h *toolHandlers) checkpointSplit(ctx context.Context, _ *ClientSession, input json.RawMessage) (any, error) {
	var in struct {
		CheckpointID string       `json:"checkpoint_id"`
		Splits       []splitInput `json:"splits"`
	}
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	specs := make([]checkpoint.SplitSpec, len(in.Splits))
	for i, s := range in.Splits {
		specs[i] = checkpoint.SplitSpec{Name: s.Name, Description: s.Description, Filter: s.Filter}
	}
	parts, err := h.svc.Checkpoints.Split(ctx, in.CheckpointID, specs)
	if err != nil {
		return nil, err
	}
	return map[string]any{"checkpoints": parts}, nil
}

func (h *toolHandlers) checkpointDelete(ctx context.Context, _ *ClientSession, input json.RawMessage) (any, error) {
	var in struct {
		CheckpointID string `json:"checkpoint_id"`
	}
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if err := h.svc.Checkpoints.Delete(ctx, in.CheckpointID); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": in.CheckpointID}, nil
}

func (h *toolHandlers) checkpointList(ctx context.Context, client *ClientSession, input json.RawMessage) (any, error) {
	var in struct {
		SessionID string `json:"session_id"`
		Limit     int    `json:"limit"`
	}
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	id, err := sessionFor("list checkpoints", client, in.SessionID)
	if err != nil {
		return nil, err
	}
	list, err := h.svc.Checkpoints.List(ctx, id, in.Limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"session_id": id, "checkpoints": list}, nil
}

func (h *toolHandlers) prepareCompaction(ctx context.Context, client *ClientSession, input json.RawMessage) (any, error) {
	var in checkpoint.CompactionInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	id, err := sessionFor("prepare compaction", client, in.SessionID)
	if err != nil {
		return nil, err
	}
	in.SessionID = id
	return h.svc.Checkpoints.PrepareCompaction(ctx, in)
}

func (h *toolHandlers) sessionPrime(ctx context.Context, client *ClientSession, input json.RawMessage) (any, error) {
	var in struct {
		SessionID   string `json:"session_id"`
		ProjectPath string `json:"project_path"`
	}
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	id, err := sessionFor("prime session", client, in.SessionID)
	if err != nil {
		return nil, err
	}
	return h.svc.Primer.Build(ctx, id, in.ProjectPath)
}

func (h *toolHandlers) memorySave(ctx context.Context, _ *ClientSession, input json.RawMessage) (any, error) {
	var in struct {
		ProjectPath string `json:"project_path"`
		Key         string `json:"key"`
		Value       string `json:"value"`
		Category    string `json:"category"`
	}
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	return h.svc.WorkItems.SaveMemory(ctx, in.ProjectPath, in.Key, in.Value, in.Category)
}

func (h *toolHandlers) issueCreate(ctx context.Context, _ *ClientSession, input json.RawMessage) (any, error) {
	var in workitems.IssueInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	return h.svc.WorkItems.CreateIssue(ctx, in)
}

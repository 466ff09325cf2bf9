// ABOUTME: Checkpoint engine: filtered capture, restore, split and delete of frozen item sets
// ABOUTME: Captures copy items verbatim; restores upsert them back one key at a time

package checkpoint

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/coven-context/internal/eventlog"
	"github.com/2389/coven-context/internal/metrics"
	"github.com/2389/coven-context/internal/session"
	"github.com/2389/coven-context/internal/store"
)

// Store defines what the engine needs from storage
type Store interface {
	GetSession(ctx context.Context, id string) (*store.Session, error)
	ListContextItems(ctx context.Context, sessionID string, q store.ItemQuery) ([]*store.ContextItem, error)
	UpsertContextItem(ctx context.Context, in store.ItemUpsert, now time.Time) (*store.ContextItem, bool, error)

	CreateCheckpoint(ctx context.Context, cp *store.Checkpoint, items []*store.CheckpointItem) error
	GetCheckpoint(ctx context.Context, id string) (*store.Checkpoint, error)
	ListCheckpoints(ctx context.Context, sessionID string, limit int) ([]*store.Checkpoint, error)
	ListCheckpointItems(ctx context.Context, checkpointID string) ([]*store.CheckpointItem, error)
	DeleteCheckpoint(ctx context.Context, id string) error
}

// Engine captures and re-applies checkpoints
type Engine struct {
	store  Store
	events session.Notifier
	now    func() time.Time
	logger *slog.Logger
}

// New creates an Engine. Pass nil logger for default.
func New(st Store, events session.Notifier, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  st,
		events: events,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With("component", "checkpoint"),
	}
}

// CaptureInput describes a new checkpoint
type CaptureInput struct {
	SessionID   string `json:"session_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	GitStatus   string `json:"git_status,omitempty"`
	GitBranch   string `json:"git_branch,omitempty"`
	Filter      Filter `json:"filter"`
}

// Summary is a checkpoint header returned by capture, split and import
type Summary = store.Checkpoint

// Detail is a checkpoint with its frozen items
type Detail struct {
	Checkpoint *store.Checkpoint       `json:"checkpoint"`
	Items      []*store.CheckpointItem `json:"items"`
}

// RestoreResult reports how many items were written back
type RestoreResult struct {
	CheckpointID  string `json:"checkpoint_id"`
	SessionID     string `json:"session_id"`
	RestoredCount int    `json:"restored_count"`
	Attempted     int    `json:"attempted"`
}

// SplitSpec describes one checkpoint carved out of a source checkpoint
type SplitSpec struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Filter      Filter `json:"filter"`
}

// Capture freezes the session items that pass the filter into a new checkpoint.
// No matching items is valid and produces an empty checkpoint.
func (e *Engine) Capture(ctx context.Context, in CaptureInput) (*Summary, error) {
	summary, err := e.capture(ctx, in)
	if err != nil {
		metrics.CheckpointCaptures.WithLabelValues(metrics.StatusError).Inc()
		return nil, err
	}
	metrics.CheckpointCaptures.WithLabelValues(metrics.StatusOK).Inc()
	metrics.CheckpointItems.Observe(float64(summary.ItemCount))
	return summary, nil
}

func (e *Engine) capture(ctx context.Context, in CaptureInput) (*Summary, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, &session.InvalidArgumentError{Field: "name", Reason: "must not be empty"}
	}
	matcher, err := Compile(in.Filter)
	if err != nil {
		return nil, err
	}

	if _, err := e.store.GetSession(ctx, in.SessionID); err != nil {
		return nil, session.Classify("capture checkpoint", "session", in.SessionID, err)
	}

	live, err := e.store.ListContextItems(ctx, in.SessionID, store.ItemQuery{})
	if err != nil {
		return nil, session.Classify("capture checkpoint", "session", in.SessionID, err)
	}

	frozen := make([]*store.CheckpointItem, 0, len(live))
	for _, it := range live {
		if matcher.MatchItem(it) {
			frozen = append(frozen, freeze(it))
		}
	}

	cp := &store.Checkpoint{
		ID:          store.NewID("ckpt"),
		SessionID:   in.SessionID,
		Name:        name,
		Description: in.Description,
		GitStatus:   in.GitStatus,
		GitBranch:   in.GitBranch,
		CreatedAt:   e.now(),
	}
	if err := e.store.CreateCheckpoint(ctx, cp, frozen); err != nil {
		return nil, session.Classify("capture checkpoint", "session", in.SessionID, err)
	}

	e.logger.Debug("captured checkpoint", "id", cp.ID, "session_id", cp.SessionID, "items", cp.ItemCount, "of", len(live))
	e.notify(ctx, eventlog.TypeCreated, cp, cp.ItemCount)
	return cp, nil
}

// Restore upserts the checkpoint's items, or the subset passing filter, back
// into the originating session. Existing keys are overwritten and every
// written key is reported on the context topic. The loop is not
// transactional: on a mid-loop failure the partial result is returned with a
// StorageError, and re-running the restore is safe.
func (e *Engine) Restore(ctx context.Context, checkpointID string, filter *Filter) (*RestoreResult, error) {
	start := time.Now()
	res, err := e.restore(ctx, checkpointID, filter)
	metrics.CheckpointRestoreDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CheckpointRestores.WithLabelValues(metrics.StatusError).Inc()
		return res, err
	}
	metrics.CheckpointRestores.WithLabelValues(metrics.StatusOK).Inc()
	return res, nil
}

func (e *Engine) restore(ctx context.Context, checkpointID string, filter *Filter) (*RestoreResult, error) {
	var matcher *Matcher
	if filter != nil && !filter.IsZero() {
		m, err := Compile(*filter)
		if err != nil {
			return nil, err
		}
		matcher = m
	}

	detail, err := e.Get(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	cp := detail.Checkpoint

	selected := detail.Items
	if matcher != nil {
		selected = make([]*store.CheckpointItem, 0, len(detail.Items))
		for _, it := range detail.Items {
			if matcher.MatchFrozen(it) {
				selected = append(selected, it)
			}
		}
		if len(selected) == 0 {
			return nil, &session.PreconditionError{Op: "restore checkpoint", Reason: "filter matched no checkpoint items"}
		}
	}

	res := &RestoreResult{CheckpointID: cp.ID, SessionID: cp.SessionID, Attempted: len(selected)}
	for _, it := range selected {
		if err := ctx.Err(); err != nil {
			return res, &session.StorageError{Op: "restore checkpoint", Err: err}
		}
		_, created, err := e.store.UpsertContextItem(ctx, thaw(cp.SessionID, it), e.now())
		if err != nil {
			e.logger.Error("restore stopped mid-loop", "id", cp.ID, "key", it.Key, "restored", res.RestoredCount, "error", err)
			return res, session.Classify("restore checkpoint", "session", cp.SessionID, err)
		}
		res.RestoredCount++
		e.notifyItem(ctx, created, cp.SessionID, it.Key)
	}

	e.logger.Debug("restored checkpoint", "id", cp.ID, "session_id", cp.SessionID, "restored", res.RestoredCount)
	e.notify(ctx, eventlog.TypeRestored, cp, res.RestoredCount)
	return res, nil
}

// Split produces one new checkpoint per spec from the source checkpoint's
// frozen items. The live session is never consulted.
func (e *Engine) Split(ctx context.Context, sourceID string, specs []SplitSpec) ([]*Summary, error) {
	if len(specs) == 0 {
		return nil, &session.InvalidArgumentError{Field: "splits", Reason: "at least one split is required"}
	}

	matchers := make([]*Matcher, len(specs))
	for i, spec := range specs {
		if strings.TrimSpace(spec.Name) == "" {
			return nil, &session.InvalidArgumentError{Field: "splits.name", Reason: "must not be empty"}
		}
		m, err := Compile(spec.Filter)
		if err != nil {
			return nil, err
		}
		matchers[i] = m
	}

	source, err := e.Get(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	out := make([]*Summary, 0, len(specs))
	for i, spec := range specs {
		var items []*store.CheckpointItem
		for _, it := range source.Items {
			if matchers[i].MatchFrozen(it) {
				items = append(items, copyFrozen(it))
			}
		}

		cp := &store.Checkpoint{
			ID:          store.NewID("ckpt"),
			SessionID:   source.Checkpoint.SessionID,
			Name:        strings.TrimSpace(spec.Name),
			Description: spec.Description,
			GitStatus:   source.Checkpoint.GitStatus,
			GitBranch:   source.Checkpoint.GitBranch,
			CreatedAt:   e.now(),
		}
		if err := e.store.CreateCheckpoint(ctx, cp, items); err != nil {
			return out, session.Classify("split checkpoint", "session", cp.SessionID, err)
		}
		metrics.CheckpointItems.Observe(float64(cp.ItemCount))
		e.notify(ctx, eventlog.TypeSplit, cp, cp.ItemCount)
		out = append(out, cp)
	}

	e.logger.Debug("split checkpoint", "source", sourceID, "parts", len(out))
	return out, nil
}

// Delete removes a checkpoint and its frozen items. Live items are untouched.
func (e *Engine) Delete(ctx context.Context, checkpointID string) error {
	cp, err := e.store.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		return session.Classify("delete checkpoint", "checkpoint", checkpointID, err)
	}
	if err := e.store.DeleteCheckpoint(ctx, checkpointID); err != nil {
		return session.Classify("delete checkpoint", "checkpoint", checkpointID, err)
	}
	e.notify(ctx, eventlog.TypeDeleted, cp, 0)
	return nil
}

// Get returns a checkpoint and its items in capture order
func (e *Engine) Get(ctx context.Context, checkpointID string) (*Detail, error) {
	cp, err := e.store.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		return nil, session.Classify("get checkpoint", "checkpoint", checkpointID, err)
	}
	items, err := e.store.ListCheckpointItems(ctx, checkpointID)
	if err != nil {
		return nil, session.Classify("get checkpoint", "checkpoint", checkpointID, err)
	}
	if items == nil {
		items = []*store.CheckpointItem{}
	}
	return &Detail{Checkpoint: cp, Items: items}, nil
}

// List returns a session's checkpoints, newest first
func (e *Engine) List(ctx context.Context, sessionID string, limit int) ([]*Summary, error) {
	if _, err := e.store.GetSession(ctx, sessionID); err != nil {
		return nil, session.Classify("list checkpoints", "session", sessionID, err)
	}
	list, err := e.store.ListCheckpoints(ctx, sessionID, limit)
	if err != nil {
		return nil, session.Classify("list checkpoints", "session", sessionID, err)
	}
	if list == nil {
		list = []*Summary{}
	}
	return list, nil
}

func (e *Engine) notify(ctx context.Context, changeType string, cp *store.Checkpoint, count int) {
	if e.events == nil {
		return
	}
	e.events.Notify(ctx, eventlog.TopicCheckpoint, eventlog.Change{
		Type:         changeType,
		SessionID:    cp.SessionID,
		CheckpointID: cp.ID,
		Count:        count,
	})
}

// notifyItem reports a restored key on the context topic, the same way a save does
func (e *Engine) notifyItem(ctx context.Context, created bool, sessionID, key string) {
	if e.events == nil {
		return
	}
	changeType := eventlog.TypeUpdated
	if created {
		changeType = eventlog.TypeCreated
	}
	e.events.Notify(ctx, eventlog.TopicContext, eventlog.Change{Type: changeType, SessionID: sessionID, Key: key})
}

// freeze deep-copies a live item into a checkpoint item
func freeze(it *store.ContextItem) *store.CheckpointItem {
	return &store.CheckpointItem{
		Key:           it.Key,
		Value:         it.Value,
		Category:      it.Category,
		Priority:      it.Priority,
		Channel:       it.Channel,
		Tags:          append([]string{}, it.Tags...),
		Size:          it.Size,
		ItemCreatedAt: it.CreatedAt,
		ItemUpdatedAt: it.UpdatedAt,
	}
}

func copyFrozen(it *store.CheckpointItem) *store.CheckpointItem {
	return &store.CheckpointItem{
		Key:           it.Key,
		Value:         it.Value,
		Category:      it.Category,
		Priority:      it.Priority,
		Channel:       it.Channel,
		Tags:          append([]string{}, it.Tags...),
		Size:          it.Size,
		ItemCreatedAt: it.ItemCreatedAt,
		ItemUpdatedAt: it.ItemUpdatedAt,
	}
}

// thaw turns a frozen item back into an upsert. Tags are always non-nil so a
// restore overwrites tags even when the frozen set is empty.
func thaw(sessionID string, it *store.CheckpointItem) store.ItemUpsert {
	return store.ItemUpsert{
		SessionID: sessionID,
		Key:       it.Key,
		Value:     it.Value,
		Category:  it.Category,
		Priority:  it.Priority,
		Channel:   it.Channel,
		Tags:      append([]string{}, it.Tags...),
	}
}

// ABOUTME: Context item operations on top of the session service
// ABOUTME: Save is an upsert; update and delete report how many rows changed

package session

import (
	"context"
	"strings"

	"github.com/2389/coven-context/internal/eventlog"
	"github.com/2389/coven-context/internal/store"
)

// SaveInput describes an upsert. Zero-valued Category, Priority and Channel
// and a nil Tags slice keep stored values on update and take defaults on insert.
type SaveInput struct {
	Key      string         `json:"key"`
	Value    string         `json:"value"`
	Category store.Category `json:"category,omitempty"`
	Priority store.Priority `json:"priority,omitempty"`
	Channel  string         `json:"channel,omitempty"`
	Tags     []string       `json:"tags,omitempty"`
}

// SaveResult reports the stored item and whether it was newly created
type SaveResult struct {
	Item    *store.ContextItem `json:"item"`
	Created bool               `json:"created"`
}

// UpdateInput is a partial update; nil fields are left untouched
type UpdateInput struct {
	Value    *string         `json:"value,omitempty"`
	Category *store.Category `json:"category,omitempty"`
	Priority *store.Priority `json:"priority,omitempty"`
	Channel  *string         `json:"channel,omitempty"`
	Tags     *[]string       `json:"tags,omitempty"`
}

// ItemFilter narrows ListItems results
type ItemFilter struct {
	Category store.Category
	Priority store.Priority
	Channel  string
	Tag      string
	Limit    int
}

// Save inserts the item if its key is new to the session and otherwise
// overwrites the provided fields. Last write wins.
func (s *Service) Save(ctx context.Context, sessionID string, in SaveInput) (*SaveResult, error) {
	key := strings.TrimSpace(in.Key)
	if key == "" {
		return nil, &InvalidArgumentError{Field: "key", Reason: "must not be empty"}
	}
	if err := validateCategory(in.Category, true); err != nil {
		return nil, err
	}
	if err := validatePriority(in.Priority, true); err != nil {
		return nil, err
	}

	item, created, err := s.store.UpsertContextItem(ctx, store.ItemUpsert{
		SessionID: sessionID,
		Key:       key,
		Value:     in.Value,
		Category:  in.Category,
		Priority:  in.Priority,
		Channel:   in.Channel,
		Tags:      normalizeTags(in.Tags),
	}, s.now())
	if err != nil {
		return nil, Classify("save context item", "session", sessionID, err)
	}

	changeType := eventlog.TypeUpdated
	if created {
		changeType = eventlog.TypeCreated
	}
	s.notifyItem(ctx, changeType, sessionID, key)

	return &SaveResult{Item: item, Created: created}, nil
}

// Update applies a partial update and returns the number of rows changed.
// A missing (session, key) pair is a NotFoundError.
func (s *Service) Update(ctx context.Context, sessionID, key string, in UpdateInput) (int64, error) {
	if in.Category != nil {
		if err := validateCategory(*in.Category, false); err != nil {
			return 0, err
		}
	}
	if in.Priority != nil {
		if err := validatePriority(*in.Priority, false); err != nil {
			return 0, err
		}
	}

	patch := store.ItemPatch{
		Value:    in.Value,
		Category: in.Category,
		Priority: in.Priority,
		Channel:  in.Channel,
	}
	if in.Tags != nil {
		tags := normalizeTags(*in.Tags)
		patch.Tags = &tags
	}
	if patch.Empty() {
		return 0, &InvalidArgumentError{Field: "fields", Reason: "nothing to update"}
	}

	n, err := s.store.UpdateContextItem(ctx, sessionID, key, patch, s.now())
	if err != nil {
		return 0, Classify("update context item", "context item", key, err)
	}
	s.notifyItem(ctx, eventlog.TypeUpdated, sessionID, key)
	return n, nil
}

// DeleteItem removes an item and returns the rows removed.
// An item that is already absent is reported as a NotFoundError.
func (s *Service) DeleteItem(ctx context.Context, sessionID, key string) (int64, error) {
	n, err := s.store.DeleteContextItem(ctx, sessionID, key)
	if err != nil {
		return 0, Classify("delete context item", "context item", key, err)
	}
	if n == 0 {
		return 0, &NotFoundError{Entity: "context item", ID: key}
	}
	s.notifyItem(ctx, eventlog.TypeDeleted, sessionID, key)
	return n, nil
}

// GetItem returns one item by session and key
func (s *Service) GetItem(ctx context.Context, sessionID, key string) (*store.ContextItem, error) {
	item, err := s.store.GetContextItem(ctx, sessionID, key)
	if err != nil {
		return nil, Classify("get context item", "context item", key, err)
	}
	return item, nil
}

// ListItems returns a session's items in creation order. The session must exist.
func (s *Service) ListItems(ctx context.Context, sessionID string, f ItemFilter) ([]*store.ContextItem, error) {
	if _, err := s.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	if err := validateCategory(f.Category, true); err != nil {
		return nil, err
	}
	if err := validatePriority(f.Priority, true); err != nil {
		return nil, err
	}

	items, err := s.store.ListContextItems(ctx, sessionID, store.ItemQuery{
		Category: f.Category,
		Priority: f.Priority,
		Channel:  f.Channel,
		Tag:      f.Tag,
		Limit:    f.Limit,
	})
	if err != nil {
		return nil, Classify("list context items", "session", sessionID, err)
	}
	if items == nil {
		items = []*store.ContextItem{}
	}
	return items, nil
}

func (s *Service) notifyItem(ctx context.Context, changeType, sessionID, key string) {
	if s.events == nil {
		return
	}
	s.events.Notify(ctx, eventlog.TopicContext, eventlog.Change{Type: changeType, SessionID: sessionID, Key: key})
}

func validateCategory(c store.Category, allowEmpty bool) error {
	if c == "" && allowEmpty {
		return nil
	}
	if !c.Valid() {
		return &InvalidArgumentError{Field: "category", Reason: "must be one of reminder, decision, progress, note, task"}
	}
	return nil
}

func validatePriority(p store.Priority, allowEmpty bool) error {
	if p == "" && allowEmpty {
		return nil
	}
	if !p.Valid() {
		return &InvalidArgumentError{Field: "priority", Reason: "must be one of high, normal, low"}
	}
	return nil
}

// normalizeTags trims and de-duplicates tags, preserving first-seen order.
// Tags are case-sensitive. A nil input stays nil.
func normalizeTags(tags []string) []string {
	if tags == nil {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

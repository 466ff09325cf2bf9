// ABOUTME: Client methods for sessions and their context items
// ABOUTME: Item keys may contain slashes; each segment is escaped separately

package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/2389/coven-context/internal/primer"
	"github.com/2389/coven-context/internal/session"
	"github.com/2389/coven-context/internal/store"
)

// StartSession creates a session, or resumes a paused one with the same name and project.
func (c *Client) StartSession(ctx context.Context, in session.StartInput) (*session.StartResult, error) {
	var out session.StartResult
	if err := c.do(ctx, http.MethodPost, "/api/sessions", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SessionQuery narrows ListSessions
type SessionQuery struct {
	Status      string
	ProjectPath string
	Limit       int
}

func (c *Client) ListSessions(ctx context.Context, q SessionQuery) ([]*store.Session, error) {
	v := url.Values{}
	setIf(v, "status", q.Status)
	setIf(v, "project", q.ProjectPath)

	var out struct {
		Sessions []*store.Session `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/sessions", limitQuery(v, q.Limit), nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

func (c *Client) GetSession(ctx context.Context, id string) (*store.Session, error) {
	var out store.Session
	if err := c.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// transition posts to one of the lifecycle verbs: pause, resume, complete.
func (c *Client) transition(ctx context.Context, id, verb string) (*store.Session, error) {
	var out store.Session
	if err := c.do(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(id)+"/"+verb, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PauseSession(ctx context.Context, id string) (*store.Session, error) {
	return c.transition(ctx, id, "pause")
}

func (c *Client) ResumeSession(ctx context.Context, id string) (*store.Session, error) {
	return c.transition(ctx, id, "resume")
}

func (c *Client) CompleteSession(ctx context.Context, id string) (*store.Session, error) {
	return c.transition(ctx, id, "complete")
}

// SwitchSession makes to active, pausing from when it is set.
func (c *Client) SwitchSession(ctx context.Context, from, to string) (*store.Session, error) {
	var out store.Session
	body := map[string]string{"from": from}
	if err := c.do(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(to)+"/switch", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RenameSession sets the name and, when description is non-nil, the description.
func (c *Client) RenameSession(ctx context.Context, id, name string, description *string) (*store.Session, error) {
	body := struct {
		Name        string  `json:"name"`
		Description *string `json:"description,omitempty"`
	}{name, description}

	var out store.Session
	if err := c.do(ctx, http.MethodPatch, "/api/sessions/"+url.PathEscape(id), nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteSession(ctx context.Context, id string) (*session.DeleteResult, error) {
	var out session.DeleteResult
	if err := c.do(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Primer reads the session's aggregated context. project scopes sessions
// started without a project path.
func (c *Client) Primer(ctx context.Context, sessionID, project string) (*primer.Primer, error) {
	var out primer.Primer
	q := url.Values{}
	setIf(q, "project", project)
	if err := c.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(sessionID)+"/primer", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func itemPath(sessionID, key string) string {
	return "/api/sessions/" + url.PathEscape(sessionID) + "/items/" + escapeKey(key)
}

// SaveItem upserts in.Key on the session.
func (c *Client) SaveItem(ctx context.Context, sessionID string, in session.SaveInput) (*session.SaveResult, error) {
	var out session.SaveResult
	if err := c.do(ctx, http.MethodPut, itemPath(sessionID, in.Key), nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateItem applies a partial update and returns the number of rows changed.
func (c *Client) UpdateItem(ctx context.Context, sessionID, key string, in session.UpdateInput) (int64, error) {
	var out struct {
		Changed int64 `json:"changed"`
	}
	if err := c.do(ctx, http.MethodPatch, itemPath(sessionID, key), nil, in, &out); err != nil {
		return 0, err
	}
	return out.Changed, nil
}

func (c *Client) DeleteItem(ctx context.Context, sessionID, key string) (int64, error) {
	var out struct {
		Changed int64 `json:"changed"`
	}
	if err := c.do(ctx, http.MethodDelete, itemPath(sessionID, key), nil, nil, &out); err != nil {
		return 0, err
	}
	return out.Changed, nil
}

func (c *Client) GetItem(ctx context.Context, sessionID, key string) (*store.ContextItem, error) {
	var out store.ContextItem
	if err := c.do(ctx, http.MethodGet, itemPath(sessionID, key), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ItemQuery narrows ListItems
type ItemQuery struct {
	Category string
	Priority string
	Channel  string
	Tag      string
	Limit    int
}

func (c *Client) ListItems(ctx context.Context, sessionID string, q ItemQuery) ([]*store.ContextItem, error) {
	v := url.Values{}
	setIf(v, "category", q.Category)
	setIf(v, "priority", q.Priority)
	setIf(v, "channel", q.Channel)
	setIf(v, "tag", q.Tag)

	var out struct {
		Items []*store.ContextItem `json:"items"`
	}
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/items"
	if err := c.do(ctx, http.MethodGet, path, limitQuery(v, q.Limit), nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

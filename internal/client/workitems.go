// ABOUTME: Client methods for issues, plans and project memory
// ABOUTME: Memory routes are scoped by the project query parameter

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/2389/coven-context/internal/store"
	"github.com/2389/coven-context/internal/workitems"
)

func decodeJSON(r io.Reader, out any) error {
	if err := json.NewDecoder(r).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *Client) CreateIssue(ctx context.Context, in workitems.IssueInput) (*store.Issue, error) {
	var out store.Issue
	if err := c.do(ctx, http.MethodPost, "/api/issues", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IssueQuery narrows ListIssues
type IssueQuery struct {
	ProjectPath string
	Status      string
	Limit       int
}

func (c *Client) ListIssues(ctx context.Context, q IssueQuery) ([]*store.Issue, error) {
	v := url.Values{}
	setIf(v, "project", q.ProjectPath)
	setIf(v, "status", q.Status)

	var out struct {
		Issues []*store.Issue `json:"issues"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/issues", limitQuery(v, q.Limit), nil, &out); err != nil {
		return nil, err
	}
	return out.Issues, nil
}

func (c *Client) GetIssue(ctx context.Context, id string) (*store.Issue, error) {
	var out store.Issue
	if err := c.do(ctx, http.MethodGet, "/api/issues/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SetIssueStatus(ctx context.Context, id, status string) (*store.Issue, error) {
	var out store.Issue
	body := map[string]string{"status": status}
	if err := c.do(ctx, http.MethodPatch, "/api/issues/"+url.PathEscape(id), nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteIssue removes id and its subtasks. cascade is "children" (the
// default when empty) or "descendants".
func (c *Client) DeleteIssue(ctx context.Context, id, cascade string) (*workitems.IssueDeletion, error) {
	q := url.Values{}
	setIf(q, "cascade", cascade)

	var out workitems.IssueDeletion
	if err := c.do(ctx, http.MethodDelete, "/api/issues/"+url.PathEscape(id), q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddDependency records that issueID depends on dependsOnID.
func (c *Client) AddDependency(ctx context.Context, issueID, dependsOnID, depType string) error {
	body := map[string]string{"depends_on_id": dependsOnID}
	if depType != "" {
		body["dependency_type"] = depType
	}
	return c.do(ctx, http.MethodPost, "/api/issues/"+url.PathEscape(issueID)+"/dependencies", nil, body, nil)
}

func (c *Client) CreatePlan(ctx context.Context, in workitems.PlanInput) (*store.Plan, error) {
	var out store.Plan
	if err := c.do(ctx, http.MethodPost, "/api/plans", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListPlans filters on project and status the same way ListIssues does.
func (c *Client) ListPlans(ctx context.Context, q IssueQuery) ([]*store.Plan, error) {
	v := url.Values{}
	setIf(v, "project", q.ProjectPath)
	setIf(v, "status", q.Status)

	var out struct {
		Plans []*store.Plan `json:"plans"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/plans", limitQuery(v, q.Limit), nil, &out); err != nil {
		return nil, err
	}
	return out.Plans, nil
}

func (c *Client) GetPlan(ctx context.Context, id string) (*store.Plan, error) {
	var out store.Plan
	if err := c.do(ctx, http.MethodGet, "/api/plans/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdatePlan(ctx context.Context, id string, in workitems.PlanUpdate) (*store.Plan, error) {
	var out store.Plan
	if err := c.do(ctx, http.MethodPatch, "/api/plans/"+url.PathEscape(id), nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func memoryQuery(project string) url.Values {
	return url.Values{"project": {project}}
}

func (c *Client) SaveMemory(ctx context.Context, project, key, value, category string) (*store.Memory, error) {
	body := map[string]string{"value": value}
	if category != "" {
		body["category"] = category
	}
	var out store.Memory
	if err := c.do(ctx, http.MethodPut, "/api/memory/"+escapeKey(key), memoryQuery(project), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListMemory(ctx context.Context, project string) ([]*store.Memory, error) {
	var out struct {
		Memory []*store.Memory `json:"memory"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/memory", memoryQuery(project), nil, &out); err != nil {
		return nil, err
	}
	return out.Memory, nil
}

func (c *Client) DeleteMemory(ctx context.Context, project, key string) error {
	return c.do(ctx, http.MethodDelete, "/api/memory/"+escapeKey(key), memoryQuery(project), nil, nil)
}

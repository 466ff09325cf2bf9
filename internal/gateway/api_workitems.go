// ABOUTME: Issue, plan and project memory handlers
// ABOUTME: Issue deletes take ?cascade=children|descendants; memory is scoped by ?project=

package gateway

import (
	"net/http"

	"github.com/2389/coven-context/internal/session"
	"github.com/2389/coven-context/internal/store"
	"github.com/2389/coven-context/internal/workitems"
)

func (g *Gateway) handleCreateIssue(w http.ResponseWriter, r *http.Request) {
	var in workitems.IssueInput
	if err := decodeBody(r, &in); err != nil {
		g.sendError(w, r, err)
		return
	}
	issue, err := g.workItems.CreateIssue(r.Context(), in)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusCreated, issue)
}

func (g *Gateway) handleListIssues(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	q := r.URL.Query()
	issues, err := g.workItems.ListIssues(r.Context(), store.IssueFilter{
		ProjectPath: q.Get("project"),
		Status:      q.Get("status"),
		Limit:       limit,
	})
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"issues": issues})
}

func (g *Gateway) handleGetIssue(w http.ResponseWriter, r *http.Request) {
	issue, err := g.workItems.GetIssue(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, issue)
}

func (g *Gateway) handleUpdateIssue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &req); err != nil {
		g.sendError(w, r, err)
		return
	}
	issue, err := g.workItems.SetIssueStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, issue)
}

func (g *Gateway) handleDeleteIssue(w http.ResponseWriter, r *http.Request) {
	mode, err := workitems.ParseCascadeMode(r.URL.Query().Get("cascade"))
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	res, err := g.workItems.DeleteIssue(r.Context(), r.PathValue("id"), mode)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, res)
}

// dependencyRequest is the POST /api/issues/{id}/dependencies body
type dependencyRequest struct {
	DependsOnID    string `json:"depends_on_id"`
	DependencyType string `json:"dependency_type,omitempty"`
}

func (g *Gateway) handleAddDependency(w http.ResponseWriter, r *http.Request) {
	var req dependencyRequest
	if err := decodeBody(r, &req); err != nil {
		g.sendError(w, r, err)
		return
	}
	if req.DependsOnID == "" {
		g.sendError(w, r, &session.InvalidArgumentError{Field: "depends_on_id", Reason: "must not be empty"})
		return
	}
	if req.DependencyType == "" {
		req.DependencyType = store.DependencyBlocks
	}
	id := r.PathValue("id")
	if err := g.workItems.AddDependency(r.Context(), id, req.DependsOnID, req.DependencyType); err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusCreated, map[string]string{
		"issue_id":        id,
		"depends_on_id":   req.DependsOnID,
		"dependency_type": req.DependencyType,
	})
}

func (g *Gateway) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var in workitems.PlanInput
	if err := decodeBody(r, &in); err != nil {
		g.sendError(w, r, err)
		return
	}
	plan, err := g.workItems.CreatePlan(r.Context(), in)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusCreated, plan)
}

func (g *Gateway) handleListPlans(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	q := r.URL.Query()
	plans, err := g.workItems.ListPlans(r.Context(), q.Get("project"), q.Get("status"), limit)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"plans": plans})
}

func (g *Gateway) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := g.workItems.GetPlan(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, plan)
}

func (g *Gateway) handleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	var in workitems.PlanUpdate
	if err := decodeBody(r, &in); err != nil {
		g.sendError(w, r, err)
		return
	}
	plan, err := g.workItems.UpdatePlan(r.Context(), r.PathValue("id"), in)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, plan)
}

// projectParam returns ?project=, which every memory route requires
func projectParam(r *http.Request) (string, error) {
	p := r.URL.Query().Get("project")
	if p == "" {
		return "", &session.InvalidArgumentError{Field: "project", Reason: "query parameter is required"}
	}
	return p, nil
}

func (g *Gateway) handleListMemory(w http.ResponseWriter, r *http.Request) {
	project, err := projectParam(r)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	entries, err := g.workItems.ListMemory(r.Context(), project)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"memory": entries})
}

func (g *Gateway) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	project, err := projectParam(r)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	m, err := g.workItems.GetMemory(r.Context(), project, r.PathValue("key"))
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, m)
}

func (g *Gateway) handleSaveMemory(w http.ResponseWriter, r *http.Request) {
	project, err := projectParam(r)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	var req struct {
		Value    string `json:"value"`
		Category string `json:"category,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		g.sendError(w, r, err)
		return
	}
	m, err := g.workItems.SaveMemory(r.Context(), project, r.PathValue("key"), req.Value, req.Category)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, m)
}

func (g *Gateway) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	project, err := projectParam(r)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	key := r.PathValue("key")
	if err := g.workItems.DeleteMemory(r.Context(), project, key); err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]string{"deleted": key})
}

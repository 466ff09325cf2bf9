// ABOUTME: HTTP JSON helpers plus session and context item handlers
// ABOUTME: Maps the domain error taxonomy onto 404/409/400/500 JSON error bodies

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/2389/coven-context/internal/eventlog"
	"github.com/2389/coven-context/internal/session"
	"github.com/2389/coven-context/internal/store"
)

// maxBodySize caps JSON request bodies
const maxBodySize = 1 << 20

// sendJSON writes v with the given status.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Warn("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}

// errorStatus maps err onto an HTTP status and the message the caller sees.
// Storage and unknown failures never leak their cause.
func errorStatus(err error) (int, string) {
	switch {
	case session.IsNotFound(err):
		return http.StatusNotFound, err.Error()
	case session.IsPrecondition(err):
		return http.StatusConflict, err.Error()
	case session.IsInvalidArgument(err), errors.Is(err, eventlog.ErrInvalidPayload):
		return http.StatusBadRequest, err.Error()
	}
	return http.StatusInternalServerError, "internal error"
}

// sendError writes err using the taxonomy mapping.
func (g *Gateway) sendError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := errorStatus(err)
	if status == http.StatusInternalServerError {
		g.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	g.sendJSONError(w, status, msg)
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return &session.InvalidArgumentError{Field: "body", Reason: "invalid JSON body"}
	}
	return nil
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &session.InvalidArgumentError{Field: name, Reason: "must be a non-negative integer"}
	}
	return n, nil
}

func (g *Gateway) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var in session.StartInput
	if err := decodeBody(r, &in); err != nil {
		g.sendError(w, r, err)
		return
	}

	res, err := g.sessions.Start(r.Context(), in)
	if err != nil {
		g.sendError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Resumed {
		status = http.StatusOK
	}
	g.sendJSON(w, status, res)
}

func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	q := r.URL.Query()
	list, err := g.sessions.List(r.Context(), session.ListFilter{
		Status:      store.SessionStatus(q.Get("status")),
		ProjectPath: q.Get("project"),
		Limit:       limit,
	})
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (g *Gateway) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := g.sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, sess)
}

// renameRequest is the PATCH /api/sessions/{id} body
type renameRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

func (g *Gateway) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := decodeBody(r, &req); err != nil {
		g.sendError(w, r, err)
		return
	}
	sess, err := g.sessions.Rename(r.Context(), r.PathValue("id"), req.Name, req.Description)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, sess)
}

func (g *Gateway) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	res, err := g.sessions.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, res)
}

func (g *Gateway) handlePauseSession(w http.ResponseWriter, r *http.Request) {
	sess, err := g.sessions.Pause(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, sess)
}

func (g *Gateway) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	sess, err := g.sessions.Resume(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, sess)
}

func (g *Gateway) handleCompleteSession(w http.ResponseWriter, r *http.Request) {
	sess, err := g.sessions.Complete(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, sess)
}

// handleSwitchSession makes {id} active, pausing the session named by "from".
func (g *Gateway) handleSwitchSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From string `json:"from"`
	}
	if err := decodeBody(r, &req); err != nil {
		g.sendError(w, r, err)
		return
	}
	sess, err := g.sessions.Switch(r.Context(), req.From, r.PathValue("id"))
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, sess)
}

// handlePrimer aggregates the session with its project's issues and memory.
// The project query parameter scopes sessions started without one.
func (g *Gateway) handlePrimer(w http.ResponseWriter, r *http.Request) {
	p, err := g.primer.Build(r.Context(), r.PathValue("id"), r.URL.Query().Get("project"))
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, p)
}

func (g *Gateway) handleListItems(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	q := r.URL.Query()
	items, err := g.sessions.ListItems(r.Context(), r.PathValue("id"), session.ItemFilter{
		Category: store.Category(q.Get("category")),
		Priority: store.Priority(q.Get("priority")),
		Channel:  q.Get("channel"),
		Tag:      q.Get("tag"),
		Limit:    limit,
	})
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (g *Gateway) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := g.sessions.GetItem(r.Context(), r.PathValue("id"), r.PathValue("key"))
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, item)
}

// handleSaveItem upserts the item named in the path. The body key, if any, is ignored.
func (g *Gateway) handleSaveItem(w http.ResponseWriter, r *http.Request) {
	var in session.SaveInput
	if err := decodeBody(r, &in); err != nil {
		g.sendError(w, r, err)
		return
	}
	in.Key = r.PathValue("key")

	res, err := g.sessions.Save(r.Context(), r.PathValue("id"), in)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	g.sendJSON(w, status, res)
}

func (g *Gateway) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var in session.UpdateInput
	if err := decodeBody(r, &in); err != nil {
		g.sendError(w, r, err)
		return
	}
	n, err := g.sessions.Update(r.Context(), r.PathValue("id"), r.PathValue("key"), in)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]int64{"changed": n})
}

func (g *Gateway) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	n, err := g.sessions.DeleteItem(r.Context(), r.PathValue("id"), r.PathValue("key"))
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]int64{"changed": n})
}

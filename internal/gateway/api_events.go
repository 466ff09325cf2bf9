// ABOUTME: Event log handlers: emit an entry and read a page after a cursor
// ABOUTME: The SSE stream itself is served by the stream package

package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/2389/coven-context/internal/eventlog"
	"github.com/2389/coven-context/internal/session"
)

// emitRequest is the POST /api/events body
type emitRequest struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

func (g *Gateway) handleEmitEvent(w http.ResponseWriter, r *http.Request) {
	var req emitRequest
	if err := decodeBody(r, &req); err != nil {
		g.sendError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Topic) == "" {
		g.sendError(w, r, &session.InvalidArgumentError{Field: "topic", Reason: "must not be empty"})
		return
	}
	payload := req.Payload
	if len(payload) == 0 || string(payload) == "null" {
		payload = json.RawMessage("{}")
	}

	entry, err := g.events.Emit(r.Context(), req.Topic, payload)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusCreated, entry)
}

// handleReadEvents returns one page after ?since= (unix ms) or ?after_seq=.
// Callers page by passing next.sequence back as after_seq.
func (g *Gateway) handleReadEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var cursor eventlog.Cursor
	for _, p := range []struct {
		name string
		dst  *int64
	}{
		{"since", &cursor.Timestamp},
		{"after_seq", &cursor.Sequence},
	} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			g.sendError(w, r, &session.InvalidArgumentError{Field: p.name, Reason: "must be a non-negative integer"})
			return
		}
		*p.dst = v
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		g.sendError(w, r, err)
		return
	}

	batch, err := g.events.ReadSince(r.Context(), eventlog.Query{
		Cursor: cursor,
		Topic:  q.Get("topic"),
		Limit:  limit,
	})
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, batch)
}

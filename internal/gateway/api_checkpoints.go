// ABOUTME: Checkpoint handlers: capture, compaction, list, get, delete, restore, split, export and import
// ABOUTME: Bundles travel as zstd-compressed bodies; a partial restore reports its count with the error

package gateway

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/2389/coven-context/internal/checkpoint"
)

// maxBundleSize caps an uploaded checkpoint bundle
const maxBundleSize = 64 << 20

// captureRequest is the POST /api/sessions/{id}/checkpoints body
type captureRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	GitStatus   string            `json:"git_status,omitempty"`
	GitBranch   string            `json:"git_branch,omitempty"`
	Filter      checkpoint.Filter `json:"filter"`
}

func (g *Gateway) handleCaptureCheckpoint(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if err := decodeBody(r, &req); err != nil {
		g.sendError(w, r, err)
		return
	}

	cp, err := g.checkpoints.Capture(r.Context(), checkpoint.CaptureInput{
		SessionID:   r.PathValue("id"),
		Name:        req.Name,
		Description: req.Description,
		GitStatus:   req.GitStatus,
		GitBranch:   req.GitBranch,
		Filter:      req.Filter,
	})
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusCreated, cp)
}

func (g *Gateway) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	list, err := g.checkpoints.List(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"checkpoints": list})
}

func (g *Gateway) handleGetCheckpoint(w http.ResponseWriter, r *http.Request) {
	detail, err := g.checkpoints.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, detail)
}

func (g *Gateway) handleDeleteCheckpoint(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := g.checkpoints.Delete(r.Context(), id); err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

// handlePrepareCompaction takes an optional body with git_status and git_branch
func (g *Gateway) handlePrepareCompaction(w http.ResponseWriter, r *http.Request) {
	var in checkpoint.CompactionInput
	if err := decodeBody(r, &in); err != nil {
		g.sendError(w, r, err)
		return
	}
	in.SessionID = r.PathValue("id")

	res, err := g.checkpoints.PrepareCompaction(r.Context(), in)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusCreated, res)
}

// handleRestoreCheckpoint takes an optional Filter body. A mid-loop failure
// still reports how many items were written before it.
func (g *Gateway) handleRestoreCheckpoint(w http.ResponseWriter, r *http.Request) {
	var filter checkpoint.Filter
	if err := decodeBody(r, &filter); err != nil {
		g.sendError(w, r, err)
		return
	}
	var fp *checkpoint.Filter
	if !filter.IsZero() {
		fp = &filter
	}

	res, err := g.checkpoints.Restore(r.Context(), r.PathValue("id"), fp)
	if err != nil {
		if res == nil {
			g.sendError(w, r, err)
			return
		}
		status, msg := errorStatus(err)
		g.logger.Error("restore incomplete", "checkpoint_id", res.CheckpointID,
			"restored", res.RestoredCount, "attempted", res.Attempted, "error", err)
		g.sendJSON(w, status, map[string]any{
			"error":          msg,
			"restored_count": res.RestoredCount,
			"attempted":      res.Attempted,
		})
		return
	}
	g.sendJSON(w, http.StatusOK, res)
}

// splitRequest is the POST /api/checkpoints/{id}/split body
type splitRequest struct {
	Splits []checkpoint.SplitSpec `json:"splits"`
}

func (g *Gateway) handleSplitCheckpoint(w http.ResponseWriter, r *http.Request) {
	var req splitRequest
	if err := decodeBody(r, &req); err != nil {
		g.sendError(w, r, err)
		return
	}
	parts, err := g.checkpoints.Split(r.Context(), r.PathValue("id"), req.Splits)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusCreated, map[string]any{"checkpoints": parts})
}

// handleExportCheckpoint buffers the bundle so a failure can still produce a JSON error.
func (g *Gateway) handleExportCheckpoint(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var buf bytes.Buffer
	if err := g.checkpoints.Export(r.Context(), id, &buf); err != nil {
		g.sendError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/zstd")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".ckpt.zst"))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		g.logger.Warn("export write failed", "checkpoint_id", id, "error", err)
	}
}

// handleImportCheckpoint reads a bundle body into a new checkpoint on {id}.
// ?name= overrides the bundled name.
func (g *Gateway) handleImportCheckpoint(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxBundleSize)
	cp, err := g.checkpoints.Import(r.Context(), checkpoint.ImportInput{
		SessionID: r.PathValue("id"),
		Name:      r.URL.Query().Get("name"),
	}, body)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusCreated, cp)
}

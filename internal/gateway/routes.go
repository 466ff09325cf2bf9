// ABOUTME: HTTP route table for the coven-context API
// ABOUTME: Uses method-qualified ServeMux patterns with path wildcards

package gateway

import (
	"net/http"

	"github.com/2389/coven-context/internal/metrics"
)

func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	if g.config.Metrics.Enabled {
		mux.Handle("GET "+g.config.Metrics.Path, metrics.Handler())
	}
	if g.mcpServer != nil {
		g.mcpServer.RegisterRoutes(mux)
	}

	// Sessions
	mux.HandleFunc("POST /api/sessions", g.handleStartSession)
	mux.HandleFunc("GET /api/sessions", g.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", g.handleGetSession)
	mux.HandleFunc("PATCH /api/sessions/{id}", g.handleRenameSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", g.handleDeleteSession)
	mux.HandleFunc("POST /api/sessions/{id}/pause", g.handlePauseSession)
	mux.HandleFunc("POST /api/sessions/{id}/resume", g.handleResumeSession)
	mux.HandleFunc("POST /api/sessions/{id}/complete", g.handleCompleteSession)
	mux.HandleFunc("POST /api/sessions/{id}/switch", g.handleSwitchSession)
	mux.HandleFunc("GET /api/sessions/{id}/primer", g.handlePrimer)

	// Context items
	mux.HandleFunc("GET /api/sessions/{id}/items", g.handleListItems)
	mux.HandleFunc("GET /api/sessions/{id}/items/{key...}", g.handleGetItem)
	mux.HandleFunc("PUT /api/sessions/{id}/items/{key...}", g.handleSaveItem)
	mux.HandleFunc("PATCH /api/sessions/{id}/items/{key...}", g.handleUpdateItem)
	mux.HandleFunc("DELETE /api/sessions/{id}/items/{key...}", g.handleDeleteItem)

	// Checkpoints
	mux.HandleFunc("POST /api/sessions/{id}/checkpoints", g.handleCaptureCheckpoint)
	mux.HandleFunc("GET /api/sessions/{id}/checkpoints", g.handleListCheckpoints)
	mux.HandleFunc("POST /api/sessions/{id}/checkpoints/import", g.handleImportCheckpoint)
	mux.HandleFunc("POST /api/sessions/{id}/compaction", g.handlePrepareCompaction)
	mux.HandleFunc("GET /api/checkpoints/{id}", g.handleGetCheckpoint)
	mux.HandleFunc("DELETE /api/checkpoints/{id}", g.handleDeleteCheckpoint)
	mux.HandleFunc("POST /api/checkpoints/{id}/restore", g.handleRestoreCheckpoint)
	mux.HandleFunc("POST /api/checkpoints/{id}/split", g.handleSplitCheckpoint)
	mux.HandleFunc("GET /api/checkpoints/{id}/export", g.handleExportCheckpoint)

	// Event log
	mux.HandleFunc("POST /api/events", g.handleEmitEvent)
	mux.HandleFunc("GET /api/events", g.handleReadEvents)
	mux.Handle("GET /api/events/stream", g.stream)

	// Issues
	mux.HandleFunc("POST /api/issues", g.handleCreateIssue)
	mux.HandleFunc("GET /api/issues", g.handleListIssues)
	mux.HandleFunc("GET /api/issues/{id}", g.handleGetIssue)
	mux.HandleFunc("PATCH /api/issues/{id}", g.handleUpdateIssue)
	mux.HandleFunc("DELETE /api/issues/{id}", g.handleDeleteIssue)
	mux.HandleFunc("POST /api/issues/{id}/dependencies", g.handleAddDependency)

	// Plans
	mux.HandleFunc("POST /api/plans", g.handleCreatePlan)
	mux.HandleFunc("GET /api/plans", g.handleListPlans)
	mux.HandleFunc("GET /api/plans/{id}", g.handleGetPlan)
	mux.HandleFunc("PATCH /api/plans/{id}", g.handleUpdatePlan)

	// Project memory
	mux.HandleFunc("GET /api/memory", g.handleListMemory)
	mux.HandleFunc("GET /api/memory/{key...}", g.handleGetMemory)
	mux.HandleFunc("PUT /api/memory/{key...}", g.handleSaveMemory)
	mux.HandleFunc("DELETE /api/memory/{key...}", g.handleDeleteMemory)

	return mux
}

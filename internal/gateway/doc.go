// Package gateway wires the coven-context server together and serves its HTTP API.
//
// # Overview
//
// A Gateway owns the SQLite store, the event log and its broadcaster, the
// session, checkpoint, work item and primer services, the SSE stream handler and the
// optional MCP endpoint. New builds all of them from a config.Config; Run
// serves until its context ends.
//
// # HTTP API
//
// All bodies are JSON. Errors come back as {"error": "..."} with the status
// picked by errorStatus:
//
//   - not found -> 404
//   - precondition failed (wrong session state, duplicate) -> 409
//   - invalid argument -> 400
//   - anything else -> 500 with the cause only in the server log
//
// Routes, grouped as in routes.go:
//
//   - /api/sessions: start, list, get, rename, delete, pause, resume, complete, switch
//   - /api/sessions/{id}/primer: read-only digest of the session and its project
//   - /api/sessions/{id}/compaction: full checkpoint plus a critical-context digest
//   - /api/sessions/{id}/items/{key...}: save (PUT), update (PATCH), get, delete
//   - /api/sessions/{id}/checkpoints and /api/checkpoints/{id}: capture, list,
//     restore, split, delete, export and import as zstd bundles
//   - /api/events: emit, read after a cursor, and /api/events/stream for SSE
//   - /api/issues, /api/plans, /api/memory: project work items
//   - /health and /health/ready
//   - /mcp when mcp.enabled is set
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return gw.Run(ctx) // blocks; cancel ctx to stop
//
// With events.background_sweep set, Run also ticks the event log retention
// sweeper; otherwise reads and writes prune the log. Shutdown cancels the base
// context of every request first so open SSE streams end before the HTTP
// server drains.
package gateway

// ABOUTME: Contract tests for the HTTP route table and the MCP tool names
// ABOUTME: A route counts as present when the mux dispatches it to a handler

package contract

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-context/internal/config"
	"github.com/2389/coven-context/internal/gateway"
	"github.com/2389/coven-context/internal/mcp"
)

// expectedRoutes is the public HTTP surface the CLI and scripts call.
// Wildcards are filled with ids that do not exist.
var expectedRoutes = []struct {
	method, path string
}{
	{"GET", "/health"},
	{"GET", "/health/ready"},
	{"GET", "/metrics"},
	{"POST", "/mcp"},

	{"POST", "/api/sessions"},
	{"GET", "/api/sessions"},
	{"GET", "/api/sessions/s1"},
	{"PATCH", "/api/sessions/s1"},
	{"DELETE", "/api/sessions/s1"},
	{"POST", "/api/sessions/s1/pause"},
	{"POST", "/api/sessions/s1/resume"},
	{"POST", "/api/sessions/s1/complete"},
	{"POST", "/api/sessions/s1/switch"},
	{"GET", "/api/sessions/s1/primer"},

	{"GET", "/api/sessions/s1/items"},
	{"GET", "/api/sessions/s1/items/notes/a"},
	{"PUT", "/api/sessions/s1/items/notes/a"},
	{"PATCH", "/api/sessions/s1/items/notes/a"},
	{"DELETE", "/api/sessions/s1/items/notes/a"},

	{"POST", "/api/sessions/s1/checkpoints"},
	{"GET", "/api/sessions/s1/checkpoints"},
	{"POST", "/api/sessions/s1/checkpoints/import"},
	{"POST", "/api/sessions/s1/compaction"},
	{"GET", "/api/checkpoints/c1"},
	{"DELETE", "/api/checkpoints/c1"},
	{"POST", "/api/checkpoints/c1/restore"},
	{"POST", "/api/checkpoints/c1/split"},
	{"GET", "/api/checkpoints/c1/export"},

	{"POST", "/api/events"},
	{"GET", "/api/events"},
	{"GET", "/api/events/stream"},

	{"POST", "/api/issues"},
	{"GET", "/api/issues"},
	{"GET", "/api/issues/i1"},
	{"PATCH", "/api/issues/i1"},
	{"DELETE", "/api/issues/i1"},
	{"POST", "/api/issues/i1/dependencies"},

	{"POST", "/api/plans"},
	{"GET", "/api/plans"},
	{"GET", "/api/plans/p1"},
	{"PATCH", "/api/plans/p1"},

	{"GET", "/api/memory"},
	{"GET", "/api/memory/build/cmd"},
	{"PUT", "/api/memory/build/cmd"},
	{"DELETE", "/api/memory/build/cmd"},
}

// muxMiss is what ServeMux writes when no pattern matches the path
const muxMiss = "404 page not found\n"

func TestRouteSurface(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "contract.db")
	cfg.Metrics.Enabled = true

	gw, err := gateway.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })
	handler := gw.Handler()

	for _, rt := range expectedRoutes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			// A canceled context makes the event stream return right away
			ctx, cancel := context.WithCancel(context.Background())
			if strings.HasSuffix(rt.path, "/stream") {
				cancel()
			}
			defer cancel()

			req := httptest.NewRequest(rt.method, rt.path, strings.NewReader("{}")).WithContext(ctx)
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.NotEqual(t, http.StatusMethodNotAllowed, rec.Code, "method not routed")
			assert.NotEqual(t, muxMiss, rec.Body.String(), "path not routed")
		})
	}
}

// expectedTools are the MCP tool names agents are configured against.
var expectedTools = []string{
	"session_start", "session_pause", "session_resume", "session_complete",
	"context_save", "context_update", "context_delete", "context_list",
	"checkpoint_create", "checkpoint_restore", "checkpoint_split",
	"checkpoint_delete", "checkpoint_list",
	"context_prepare_compaction", "session_prime",
	"memory_save", "issue_create",
}

func TestMCPToolSurface(t *testing.T) {
	reg := mcp.NewRegistry()
	require.NoError(t, reg.Register(mcp.ContextTools(mcp.Services{})...))

	for _, name := range expectedTools {
		assert.NotNil(t, reg.Get(name), "tool %s should be registered", name)
	}
	for _, tool := range reg.List() {
		assert.NotEmpty(t, tool.Description, "tool %s needs a description", tool.Name)
		assert.NotEmpty(t, tool.InputSchema, "tool %s needs an input schema", tool.Name)
	}
}

// ABOUTME: Tests for the Gateway orchestrator lifecycle and health endpoints
// ABOUTME: Runs a real HTTP listener against a temporary SQLite database

package gateway

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/2389/coven-context/internal/config"
)

// testConfig creates a config with a free HTTP port and a temp database.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available HTTP port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	cfg := config.Default()
	cfg.Server.HTTPAddr = addr
	cfg.Database.Path = filepath.Join(t.TempDir(), "context.db")
	cfg.Metrics.Enabled = true
	return cfg
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitForServer polls /health until the listener answers.
func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://" + addr + "/health")
		if err == nil {
			resp.Body.Close()
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("server at %s never came up", addr)
}

func TestGatewayNew(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer gw.Shutdown(context.Background())

	if gw.config != cfg {
		t.Error("gateway config mismatch")
	}
	if gw.store == nil {
		t.Error("store should not be nil")
	}
	if gw.events == nil || gw.broadcaster == nil {
		t.Error("event log should be wired")
	}
	if gw.sessions == nil || gw.checkpoints == nil || gw.workItems == nil {
		t.Error("services should be wired")
	}
	if gw.mcpServer == nil {
		t.Error("mcpServer should be set when mcp.enabled is true")
	}
}

func TestGatewayNew_MCPDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.MCP.Enabled = false

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer gw.Shutdown(context.Background())

	if gw.mcpServer != nil {
		t.Error("mcpServer should be nil when mcp.enabled is false")
	}
}

func TestGatewayNew_BadDatabasePath(t *testing.T) {
	cfg := testConfig(t)
	// A file where the parent directory should be
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.Database.Path = filepath.Join(blocker, "context.db")

	if _, err := New(cfg, testLogger()); err == nil {
		t.Fatal("New() should fail when the database directory cannot be created")
	}
}

func TestGatewayRunAndShutdown(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Run(ctx)
	}()
	waitForServer(t, cfg.Server.HTTPAddr)

	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("gateway did not shutdown in time")
	}

	// A second shutdown is a no-op
	if err := gw.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() = %v, want nil", err)
	}
}

func TestGatewayShutdownEndsOpenStreams(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Run(ctx)
	}()
	waitForServer(t, cfg.Server.HTTPAddr)

	resp, err := http.Get("http://" + cfg.Server.HTTPAddr + "/api/events/stream")
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Content-Type"); !strings.HasPrefix(got, "text/event-stream") {
		t.Fatalf("Content-Type = %q, want text/event-stream", got)
	}

	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("open stream held up shutdown")
	}

	// The stream body ends once the server is gone
	_, _ = io.Copy(io.Discard, resp.Body)
}

func TestGatewayRun_ListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	cfg := testConfig(t)
	cfg.Server.HTTPAddr = ln.Addr().String()

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if err := gw.Run(context.Background()); err == nil {
		t.Fatal("Run() should fail when the address is taken")
	}
}

func TestHealthEndpoint(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	go func() {
		_ = gw.Run(t.Context())
	}()
	waitForServer(t, cfg.Server.HTTPAddr)

	resp, err := http.Get("http://" + cfg.Server.HTTPAddr + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestReadyEndpoint(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	go func() {
		_ = gw.Run(t.Context())
	}()
	waitForServer(t, cfg.Server.HTTPAddr)

	resp, err := http.Get("http://" + cfg.Server.HTTPAddr + "/health/ready")
	if err != nil {
		t.Fatalf("ready request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("ready status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.HasPrefix(string(body), "ready") {
		t.Errorf("ready body = %q", body)
	}
}

func TestReadyEndpoint_StoreClosed(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer gw.Shutdown(context.Background())

	if err := gw.store.Close(); err != nil {
		t.Fatal(err)
	}

	req, _ := http.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ready status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestReadyEndpoint_LogsSequenceFailure(t *testing.T) {
	cfg := testConfig(t)
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	gw, err := New(cfg, logger)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer gw.Shutdown(context.Background())

	// The database still answers pings but the event table is gone
	db, err := sql.Open("sqlite", cfg.Database.Path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`DROP TABLE event_log`); err != nil {
		t.Fatal(err)
	}
	db.Close()

	req, _ := http.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("ready status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "event sequence 0") {
		t.Errorf("ready body = %q", rec.Body.String())
	}
	if !strings.Contains(logs.String(), "reading latest event sequence") {
		t.Errorf("sequence failure not logged; logs = %q", logs.String())
	}
}

func TestGatewayRun_NoTimedSweepByDefault(t *testing.T) {
	cfg := config.Default()
	if cfg.Events.BackgroundSweep {
		t.Fatal("events.background_sweep should default to false")
	}
}

func TestGatewayRun_BackgroundSweep(t *testing.T) {
	cfg := testConfig(t)
	cfg.Events.BackgroundSweep = true
	cfg.Events.SweepInterval = 10 * time.Millisecond

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Run(ctx)
	}()
	waitForServer(t, cfg.Server.HTTPAddr)
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("gateway with background sweep did not shutdown in time")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer gw.Shutdown(context.Background())

	req, _ := http.NewRequest(http.MethodGet, cfg.Metrics.Path, nil)
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("metrics output should include the Go runtime collectors")
	}
}

// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "context.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	t.Setenv(EnvDBPath, "")
	path := writeConfig(t, `
server:
  http_addr: "0.0.0.0:9000"

database:
  path: "./test.db"

events:
  retention: "2h"
  sweep_interval: "30s"
  background_sweep: true

stream:
  poll_interval: "250ms"
  keepalive_interval: "15s"
  reconnect_window: "10s"

mcp:
  enabled: true
  idle_timeout: "20m"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  path: "/metrics"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:9000" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:9000")
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Events.Retention != 2*time.Hour {
		t.Errorf("Events.Retention = %v, want 2h", cfg.Events.Retention)
	}
	if cfg.Events.SweepInterval != 30*time.Second {
		t.Errorf("Events.SweepInterval = %v, want 30s", cfg.Events.SweepInterval)
	}
	if !cfg.Events.BackgroundSweep {
		t.Error("Events.BackgroundSweep = false, want true")
	}
	if cfg.Stream.PollInterval != 250*time.Millisecond {
		t.Errorf("Stream.PollInterval = %v, want 250ms", cfg.Stream.PollInterval)
	}
	if cfg.Stream.KeepaliveInterval != 15*time.Second {
		t.Errorf("Stream.KeepaliveInterval = %v, want 15s", cfg.Stream.KeepaliveInterval)
	}
	if cfg.Stream.ReconnectWindow != 10*time.Second {
		t.Errorf("Stream.ReconnectWindow = %v, want 10s", cfg.Stream.ReconnectWindow)
	}
	if !cfg.MCP.Enabled {
		t.Error("MCP.Enabled = false, want true")
	}
	if cfg.MCP.IdleTimeout != 20*time.Minute {
		t.Errorf("MCP.IdleTimeout = %v, want 20m", cfg.MCP.IdleTimeout)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want debug/json", cfg.Logging)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics = %+v, want enabled at /metrics", cfg.Metrics)
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	t.Setenv(EnvDBPath, "")
	path := writeConfig(t, `
database:
  path: "./test.db"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != DefaultHTTPAddr {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, DefaultHTTPAddr)
	}
	if cfg.Events.Retention != DefaultRetention {
		t.Errorf("Events.Retention = %v, want %v", cfg.Events.Retention, DefaultRetention)
	}
	if cfg.Events.SweepInterval != DefaultSweepInterval {
		t.Errorf("Events.SweepInterval = %v, want %v", cfg.Events.SweepInterval, DefaultSweepInterval)
	}
	if cfg.Events.BackgroundSweep {
		t.Error("Events.BackgroundSweep = true, want false by default")
	}
	if cfg.Stream.PollInterval != DefaultPollInterval {
		t.Errorf("Stream.PollInterval = %v, want %v", cfg.Stream.PollInterval, DefaultPollInterval)
	}
	if cfg.Stream.KeepaliveInterval != DefaultKeepaliveInterval {
		t.Errorf("Stream.KeepaliveInterval = %v, want %v", cfg.Stream.KeepaliveInterval, DefaultKeepaliveInterval)
	}
	if cfg.Stream.ReconnectWindow != DefaultReconnectWindow {
		t.Errorf("Stream.ReconnectWindow = %v, want %v", cfg.Stream.ReconnectWindow, DefaultReconnectWindow)
	}
	if cfg.MCP.IdleTimeout != DefaultMCPIdleTimeout {
		t.Errorf("MCP.IdleTimeout = %v, want %v", cfg.MCP.IdleTimeout, DefaultMCPIdleTimeout)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v, want info/text", cfg.Logging)
	}
	if cfg.Metrics.Path != DefaultMetricsPath {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, DefaultMetricsPath)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv(EnvDBPath, "")
	t.Setenv("TEST_CONTEXT_ADDR", "127.0.0.1:4000")
	t.Setenv("TEST_CONTEXT_DIR", "/tmp/ctx")

	path := writeConfig(t, `
server:
  http_addr: "${TEST_CONTEXT_ADDR}"
database:
  path: "${TEST_CONTEXT_DIR}/context.db"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPAddr != "127.0.0.1:4000" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:4000")
	}
	if cfg.Database.Path != "/tmp/ctx/context.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/ctx/context.db")
	}
}

func TestLoad_DBPathEnvOverride(t *testing.T) {
	t.Setenv(EnvDBPath, "/override/context.db")
	path := writeConfig(t, `
database:
  path: "./from-file.db"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != "/override/context.db" {
		t.Errorf("Database.Path = %q, want the %s override", cfg.Database.Path, EnvDBPath)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/context.yaml")
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [unterminated")

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected error for invalid YAML, got nil")
	}
	if !strings.Contains(err.Error(), "parsing config file") {
		t.Errorf("error = %v, want it to mention parsing config file", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
events:
  retention: "forever"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected error for invalid duration, got nil")
	}
	if !strings.Contains(err.Error(), "retention") {
		t.Errorf("error = %v, want it to name retention", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults are valid", func(c *Config) {}, ""},
		{"missing http addr", func(c *Config) { c.Server.HTTPAddr = "" }, "server.http_addr"},
		{"missing db path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"negative poll", func(c *Config) { c.Stream.PollInterval = -time.Second }, "stream.poll_interval"},
		{
			"reconnect window longer than retention",
			func(c *Config) { c.Stream.ReconnectWindow = 2 * time.Hour },
			"stream.reconnect_window",
		},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"relative metrics path", func(c *Config) { c.Metrics.Path = "metrics" }, "metrics.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestSampleParses(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	t.Setenv(EnvDBPath, "")

	cfg, err := Parse([]byte(Sample))
	if err != nil {
		t.Fatalf("Parse(Sample) error = %v", err)
	}
	if cfg.Database.Path != "/home/tester/.local/share/coven/context.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv(EnvConfigPath, "/etc/coven/context.yaml")
	if got := DefaultPath(); got != "/etc/coven/context.yaml" {
		t.Errorf("DefaultPath() = %q with env set", got)
	}

	t.Setenv(EnvConfigPath, "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := DefaultPath(); got != "/xdg/coven/context.yaml" {
		t.Errorf("DefaultPath() = %q with XDG_CONFIG_HOME set", got)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FOO", "bar")
	t.Setenv("BAZ", "qux")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"single env var", "${FOO}", "bar"},
		{"env var with surrounding text", "prefix-${FOO}-suffix", "prefix-bar-suffix"},
		{"multiple env vars", "${FOO}/${BAZ}", "bar/qux"},
		{"no env vars", "no-vars-here", "no-vars-here"},
		{"unset env var", "${UNSET_VAR_FOR_CONTEXT_TEST}", ""},
		{"empty string", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandEnvVars(tt.input)
			if result != tt.expected {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

// ABOUTME: Configuration loading and parsing for coven-context
// ABOUTME: Supports YAML files with environment variable expansion, duration parsing and defaults

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that influence configuration
const (
	EnvConfigPath = "COVEN_CONTEXT_CONFIG"
	EnvDBPath     = "COVEN_CONTEXT_DB"
)

// Defaults applied by Load for fields left empty
const (
	DefaultHTTPAddr          = "127.0.0.1:3847"
	DefaultRetention         = time.Hour
	DefaultSweepInterval     = time.Minute
	DefaultPollInterval      = time.Second
	DefaultKeepaliveInterval = 30 * time.Second
	DefaultReconnectWindow   = 5 * time.Second
	DefaultMetricsPath       = "/metrics"
	DefaultMCPIdleTimeout    = time.Hour
)

// Config represents the complete coven-context configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Events   EventsConfig   `yaml:"events"`
	Stream   StreamConfig   `yaml:"stream"`
	MCP      MCPConfig      `yaml:"mcp"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// EventsConfig holds event log retention settings
type EventsConfig struct {
	Retention     time.Duration `yaml:"-"`
	SweepInterval time.Duration `yaml:"-"`

	// BackgroundSweep adds a timer-driven sweep on top of the sweeps that
	// reads and writes already trigger
	BackgroundSweep bool `yaml:"background_sweep"`

	// Raw string values for YAML unmarshaling
	RetentionRaw     string `yaml:"retention"`
	SweepIntervalRaw string `yaml:"sweep_interval"`
}

// StreamConfig holds notification fan-out timing
type StreamConfig struct {
	PollInterval      time.Duration `yaml:"-"`
	KeepaliveInterval time.Duration `yaml:"-"`
	ReconnectWindow   time.Duration `yaml:"-"`

	PollIntervalRaw      string `yaml:"poll_interval"`
	KeepaliveIntervalRaw string `yaml:"keepalive_interval"`
	ReconnectWindowRaw   string `yaml:"reconnect_window"`
}

// MCPConfig toggles the agent tool endpoint. Agent connections that stay
// quiet longer than IdleTimeout must initialize again.
type MCPConfig struct {
	Enabled     bool          `yaml:"enabled"`
	IdleTimeout time.Duration `yaml:"-"`

	IdleTimeoutRaw string `yaml:"idle_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from YAML bytes the same way Load does
func Parse(data []byte) (*Config, error) {
	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if dbPath := os.Getenv(EnvDBPath); dbPath != "" {
		cfg.Database.Path = dbPath
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file exists
func Default() *Config {
	cfg := &Config{MCP: MCPConfig{Enabled: true}}
	cfg.applyDefaults()
	return cfg
}

// DefaultPath resolves the config file location: $COVEN_CONTEXT_CONFIG,
// then $XDG_CONFIG_HOME/coven/context.yaml, then ~/.config/coven/context.yaml
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "coven", "context.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "context.yaml"
	}
	return filepath.Join(home, ".config", "coven", "context.yaml")
}

// DefaultDBPath is ~/.local/share/coven/context.db
func DefaultDBPath() string {
	if p := os.Getenv(EnvDBPath); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "context.db"
	}
	return filepath.Join(home, ".local", "share", "coven", "context.db")
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Database.Path == "" {
		c.Database.Path = DefaultDBPath()
	}
	if c.Events.Retention == 0 {
		c.Events.Retention = DefaultRetention
	}
	if c.Events.SweepInterval == 0 {
		c.Events.SweepInterval = DefaultSweepInterval
	}
	if c.Stream.PollInterval == 0 {
		c.Stream.PollInterval = DefaultPollInterval
	}
	if c.Stream.KeepaliveInterval == 0 {
		c.Stream.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if c.Stream.ReconnectWindow == 0 {
		c.Stream.ReconnectWindow = DefaultReconnectWindow
	}
	if c.MCP.IdleTimeout == 0 {
		c.MCP.IdleTimeout = DefaultMCPIdleTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars substitutes ${NAME} with the variable's value; unset names become "".
// Bare $NAME is left alone so values like "$2a$..." survive.
func expandEnvVars(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(ref[2 : len(ref)-1])
	})
}

// Validate checks that configuration values are usable.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	positive := []struct {
		name string
		d    time.Duration
	}{
		{"events.retention", c.Events.Retention},
		{"events.sweep_interval", c.Events.SweepInterval},
		{"stream.poll_interval", c.Stream.PollInterval},
		{"stream.keepalive_interval", c.Stream.KeepaliveInterval},
		{"stream.reconnect_window", c.Stream.ReconnectWindow},
		{"mcp.idle_timeout", c.MCP.IdleTimeout},
	}
	for _, p := range positive {
		if p.d < 0 {
			return fmt.Errorf("%s must be positive, got %s", p.name, p.d)
		}
	}
	if c.Stream.ReconnectWindow >= c.Events.Retention {
		return fmt.Errorf("stream.reconnect_window (%s) must be shorter than events.retention (%s)",
			c.Stream.ReconnectWindow, c.Events.Retention)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"retention", cfg.Events.RetentionRaw, &cfg.Events.Retention},
		{"sweep_interval", cfg.Events.SweepIntervalRaw, &cfg.Events.SweepInterval},
		{"poll_interval", cfg.Stream.PollIntervalRaw, &cfg.Stream.PollInterval},
		{"keepalive_interval", cfg.Stream.KeepaliveIntervalRaw, &cfg.Stream.KeepaliveInterval},
		{"reconnect_window", cfg.Stream.ReconnectWindowRaw, &cfg.Stream.ReconnectWindow},
		{"idle_timeout", cfg.MCP.IdleTimeoutRaw, &cfg.MCP.IdleTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// Sample is the YAML written by `coven-context init`
const Sample = `# coven-context configuration

server:
  http_addr: "127.0.0.1:3847"

database:
  path: "${HOME}/.local/share/coven/context.db"

events:
  retention: "1h"        # entries older than this are pruned
  sweep_interval: "1m"   # minimum time between retention sweeps
  background_sweep: false # also sweep on a timer while idle

stream:
  poll_interval: "1s"
  keepalive_interval: "30s"
  reconnect_window: "5s" # replay window for subscribers without a cursor

mcp:
  enabled: true
  idle_timeout: "1h"     # agents idle longer than this re-initialize

logging:
  level: "info"   # debug, info, warn, error
  format: "text"  # text, json

metrics:
  enabled: false
  path: "/metrics"
`

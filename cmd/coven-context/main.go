// ABOUTME: Entry point for the coven-context server
// ABOUTME: serve runs the HTTP API, init writes a config file, health and ready probe a running server

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-context/internal/config"
	"github.com/2389/coven-context/internal/gateway"
)

// version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                                   _            _
  ___ _____   _____ _ __         ___ ___  _ __ | |_ _____  _| |_
 / __/ _ \ \ / / _ \ '_ \ _____ / __/ _ \| '_ \| __/ _ \ \/ / __|
| (_| (_) \ V /  __/ | | |_____| (_| (_) | | | | ||  __/>  <| |_
 \___\___/ \_/ \___|_| |_|      \___\___/|_| |_|\__\___/_/\_\\__|
`

func usage() {
	fmt.Println("Usage: coven-context <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve     Start the context server")
	fmt.Println("  init      Create a config file interactively")
	fmt.Println("  health    Check that the server is alive")
	fmt.Println("  ready     Check that the server can reach its database")
	fmt.Println("  version   Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin, os.Stdout)
	case "health":
		err = runProbe(ctx, "/health", "healthy")
	case "ready":
		err = runProbe(ctx, "/health/ready", "ready")
	case "version":
		fmt.Println(version)
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, falling back to defaults when the default
// path does not exist. An explicit COVEN_CONTEXT_CONFIG must exist.
func loadConfig() (*config.Config, string, error) {
	path := config.DefaultPath()
	if _, err := os.Stat(path); os.IsNotExist(err) && os.Getenv(config.EnvConfigPath) == "" {
		return config.Default(), "(defaults)", nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func runServe(ctx context.Context) error {
	gateway.Version = version

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Events:    retention %s\n", cfg.Events.Retention)
	if cfg.MCP.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("MCP:       http://%s/mcp\n", cfg.Server.HTTPAddr)
	} else {
		yellow.Print("    ▶ ")
		fmt.Println("MCP:       disabled")
	}
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:   http://%s%s\n", cfg.Server.HTTPAddr, cfg.Metrics.Path)
	}
	fmt.Println()

	logger.Info("starting coven-context",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"version", version,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(ctx)
}

// runProbe GETs path on the configured server and prints ok on a 200.
func runProbe(ctx context.Context, path, ok string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s check failed: %w", ok, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("not %s: status %d %s", ok, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(ok)
	return nil
}

// initAnswers are the values runInit asks for
type initAnswers struct {
	HTTPAddr  string
	DBPath    string
	Retention string
	MCP       bool
	Metrics   bool
	LogLevel  string
	LogFormat string
}

// renderConfig produces a YAML config from the answers, annotated like config.Sample.
func renderConfig(a initAnswers) string {
	var b strings.Builder
	b.WriteString("# coven-context configuration\n")
	b.WriteString("# Generated by coven-context init\n\n")

	fmt.Fprintf(&b, "server:\n  http_addr: %q\n\n", a.HTTPAddr)
	fmt.Fprintf(&b, "database:\n  path: %q\n\n", a.DBPath)
	fmt.Fprintf(&b, "events:\n  retention: %q\n  sweep_interval: \"1m\"\n  background_sweep: false\n\n", a.Retention)
	b.WriteString("stream:\n  poll_interval: \"1s\"\n  keepalive_interval: \"30s\"\n  reconnect_window: \"5s\"\n\n")
	fmt.Fprintf(&b, "mcp:\n  enabled: %t\n  idle_timeout: \"1h\"\n\n", a.MCP)
	fmt.Fprintf(&b, "logging:\n  level: %q\n  format: %q\n\n", a.LogLevel, a.LogFormat)
	fmt.Fprintf(&b, "metrics:\n  enabled: %t\n  path: %q\n", a.Metrics, config.DefaultMetricsPath)
	return b.String()
}

func runInit(in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "coven-context configuration setup")
	fmt.Fprintln(out, "=================================")
	fmt.Fprintln(out)

	outputFile := prompt(reader, out, "Config file path", config.DefaultPath())
	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, out, "File exists. Overwrite?", "no")) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	var a initAnswers
	fmt.Fprintln(out, "\n--- Server ---")
	a.HTTPAddr = prompt(reader, out, "HTTP address", config.DefaultHTTPAddr)
	a.DBPath = prompt(reader, out, "SQLite database path", config.DefaultDBPath())
	a.Retention = prompt(reader, out, "Event retention", config.DefaultRetention.String())
	a.MCP = yes(prompt(reader, out, "Enable MCP endpoint?", "yes"))
	a.Metrics = yes(prompt(reader, out, "Enable Prometheus metrics?", "no"))

	fmt.Fprintln(out, "\n--- Logging ---")
	a.LogLevel = prompt(reader, out, "Log level (debug/info/warn/error)", "info")
	a.LogFormat = prompt(reader, out, "Log format (text/json)", "text")

	content := renderConfig(a)
	if _, err := config.Parse([]byte(content)); err != nil {
		return fmt.Errorf("generated config is invalid: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	dataDir := filepath.Dir(a.DBPath)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintf(out, "Data directory: %s\n", dataDir)
	fmt.Fprintln(out, "\nTo start the server:")
	fmt.Fprintln(out, "  coven-context serve")
	return nil
}

func yes(answer string) bool {
	a := strings.ToLower(answer)
	return a == "yes" || a == "y"
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		fmt.Fprintln(out)
		return defaultVal
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}

// ABOUTME: TOML settings for the coven-ctx command line: server URL, output format, status key
// ABOUTME: Loaded from the XDG config path with ${VAR} expansion; a missing default file is fine

package cli

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

// DefaultServerURL points at the gateway's default listen address
const DefaultServerURL = "http://127.0.0.1:3847"

// EnvServerURL overrides the server URL from the config file
const EnvServerURL = "COVEN_CONTEXT_URL"

// Settings is the on-disk CLI configuration
type Settings struct {
	Server ServerSettings `toml:"server"`
	Output OutputSettings `toml:"output"`
	Status StatusSettings `toml:"status"`
}

type ServerSettings struct {
	URL string `toml:"url"`
}

type OutputSettings struct {
	Format string `toml:"format"`
}

// StatusSettings pins the status cache key instead of deriving it from the terminal
type StatusSettings struct {
	Key string `toml:"key"`
}

// DefaultSettingsPath is $XDG_CONFIG_HOME/coven/ctx.toml, falling back to ~/.config
func DefaultSettingsPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "coven", "ctx.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "coven", "ctx.toml")
}

// LoadSettings reads path. When optional is true a missing file yields defaults.
func LoadSettings(path string, optional bool) (*Settings, error) {
	s := &Settings{}
	if path == "" {
		return s.withDefaults(), nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && optional {
		return s.withDefaults(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if _, err := toml.Decode(expandEnvVars(string(data)), s); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	s = s.withDefaults()
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}
	return s, nil
}

func (s *Settings) withDefaults() *Settings {
	if s.Server.URL == "" {
		s.Server.URL = DefaultServerURL
	}
	if s.Output.Format == "" {
		s.Output.Format = FormatText
	}
	return s
}

// Validate checks the server URL scheme and the output format
func (s *Settings) Validate() error {
	u, err := url.Parse(s.Server.URL)
	if err != nil {
		return fmt.Errorf("server.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server.url must use http or https scheme")
	}
	if !isValidFormat(s.Output.Format) {
		return fmt.Errorf("output.format %q must be one of %v", s.Output.Format, ValidFormats)
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}"))
	})
}

// Package config handles configuration loading for coven-context.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_CONTEXT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/context.yaml
//  3. ~/.config/coven/context.yaml
//
// A missing file is not an error for the server; Default() is used instead.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	database:
//	  path: "${HOME}/.local/share/coven/context.db"
//
// COVEN_CONTEXT_DB overrides database.path after expansion.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	events:
//	  retention: "1h"
//	  sweep_interval: "1m"
//	  background_sweep: false
//	stream:
//	  poll_interval: "1s"
//	  keepalive_interval: "30s"
//	  reconnect_window: "5s"
//
// # Validation
//
// Load applies defaults and then validates: durations must not be
// negative, the reconnect window must be shorter than event retention, and
// logging level/format must be known values.
package config

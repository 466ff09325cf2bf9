// ABOUTME: Per-terminal current-session pointer stored as one JSON file per status key
// ABOUTME: Entries expire after two hours; writes go through a temp file and rename

package statuscache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TTL is how long an entry stays valid after it was written
const TTL = 2 * time.Hour

// maxKeyLen caps the sanitized key used as a file name
const maxKeyLen = 100

// Environment variables consulted by ResolveKey, in order
const (
	EnvStatusKey = "COVEN_STATUS_KEY"
	EnvTermID    = "TERM_SESSION_ID"
	EnvITermID   = "ITERM_SESSION_ID"
)

// ErrNoKey means no status key could be resolved for this terminal
var ErrNoKey = errors.New("no status key for this terminal")

// Entry is the cached pointer. Field names match what status-line scripts read.
type Entry struct {
	SessionID     string `json:"sessionId"`
	SessionName   string `json:"sessionName"`
	ProjectPath   string `json:"projectPath,omitempty"`
	SessionStatus string `json:"sessionStatus,omitempty"`
	ItemCount     int    `json:"itemCount,omitempty"`
	// Timestamp is unix milliseconds at write time
	Timestamp int64 `json:"timestamp"`
}

// Cache reads and writes entries under one directory.
type Cache struct {
	dir string
	key string
	now func() time.Time
}

// New returns a cache rooted at dir for the given status key. An empty key
// makes every operation a no-op that reports ErrNoKey.
func New(dir, key string) *Cache {
	return &Cache{dir: dir, key: sanitizeKey(key), now: time.Now}
}

// Default returns a cache at DefaultDir for the key resolved from the environment.
func Default() *Cache {
	return New(DefaultDir(), ResolveKey(os.Getenv))
}

// DefaultDir is ~/.local/share/coven/status-cache
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "coven-status-cache")
	}
	return filepath.Join(home, ".local", "share", "coven", "status-cache")
}

// ResolveKey picks the status key: an explicit COVEN_STATUS_KEY first, then
// the Terminal.app and iTerm2 session ids. It returns "" when none is set.
func ResolveKey(getenv func(string) string) string {
	if v := getenv(EnvStatusKey); v != "" {
		return sanitizeKey(v)
	}
	if v := getenv(EnvTermID); v != "" {
		return sanitizeKey("term-" + v)
	}
	if v := getenv(EnvITermID); v != "" {
		return sanitizeKey("iterm-" + v)
	}
	return ""
}

// sanitizeKey maps path separators, shell metacharacters and whitespace to
// underscores and truncates the result.
func sanitizeKey(key string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(key) {
		if b.Len() >= maxKeyLen {
			break
		}
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r), r == ' ', r == '\t', r == '\n', r == '\r':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Key returns the sanitized status key, which may be empty.
func (c *Cache) Key() string {
	return c.key
}

func (c *Cache) path() string {
	return filepath.Join(c.dir, c.key+".json")
}

// Write stamps e and stores it atomically with mode 0600.
func (c *Cache) Write(e Entry) error {
	if c.key == "" {
		return ErrNoKey
	}
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return fmt.Errorf("creating status cache dir: %w", err)
	}

	e.Timestamp = c.now().UnixMilli()
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling status entry: %w", err)
	}
	data = append(data, '\n')

	path := c.path()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing status entry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming status entry into place: %w", err)
	}
	return nil
}

// Read returns the entry for this terminal. A missing, corrupt or expired
// entry returns (nil, nil); expired files are removed.
func (c *Cache) Read() (*Entry, error) {
	if c.key == "" {
		return nil, ErrNoKey
	}

	data, err := os.ReadFile(c.path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading status entry: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil || e.SessionID == "" {
		return nil, nil
	}

	age := c.now().Sub(time.UnixMilli(e.Timestamp))
	if age > TTL {
		_ = os.Remove(c.path())
		return nil, nil
	}
	return &e, nil
}

// Clear removes the entry. Clearing a missing entry is not an error.
func (c *Cache) Clear() error {
	if c.key == "" {
		return ErrNoKey
	}
	if err := os.Remove(c.path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clearing status entry: %w", err)
	}
	return nil
}

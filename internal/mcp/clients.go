// ABOUTME: Per-connection MCP client state keyed by the Mcp-Session-Id header
// ABOUTME: Clients idle past the timeout are dropped lazily on the next lookup or open

package mcp

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ClientSession is one MCP client connection. It remembers which coven
// session the agent is working in so tools can omit session_id.
type ClientSession struct {
	id      string
	version string

	mu      sync.Mutex
	current string
}

// NewClientSession creates a detached client session, for callers that run
// tools outside the HTTP transport.
func NewClientSession() *ClientSession {
	return &ClientSession{id: uuid.NewString(), version: protocolVersion}
}

// ID returns the Mcp-Session-Id
func (c *ClientSession) ID() string { return c.id }

// Current returns the current coven session id, or ""
func (c *ClientSession) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// SetCurrent records the current coven session id
func (c *ClientSession) SetCurrent(sessionID string) {
	c.mu.Lock()
	c.current = sessionID
	c.mu.Unlock()
}

type clientEntry struct {
	client   *ClientSession
	lastSeen time.Time
}

// clientTable holds live clients. A zero idle duration disables expiry.
type clientTable struct {
	mu      sync.Mutex
	entries map[string]*clientEntry
	idle    time.Duration
	now     func() time.Time
}

func newClientTable(idle time.Duration) *clientTable {
	return &clientTable{entries: make(map[string]*clientEntry), idle: idle, now: time.Now}
}

func (t *clientTable) open() *ClientSession {
	c := NewClientSession()

	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.pruneLocked(now)
	t.entries[c.id] = &clientEntry{client: c, lastSeen: now}
	return c
}

// lookup returns the client and refreshes its idle clock
func (t *clientTable) lookup(id string) (*ClientSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return nil, false
	}
	now := t.now()
	if t.expired(e, now) {
		delete(t.entries, id)
		return nil, false
	}
	e.lastSeen = now
	return e.client, true
}

func (t *clientTable) close(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[id]
	delete(t.entries, id)
	return ok
}

func (t *clientTable) reset() {
	t.mu.Lock()
	t.entries = make(map[string]*clientEntry)
	t.mu.Unlock()
}

func (t *clientTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *clientTable) expired(e *clientEntry, now time.Time) bool {
	return t.idle > 0 && now.Sub(e.lastSeen) > t.idle
}

func (t *clientTable) pruneLocked(now time.Time) {
	for id, e := range t.entries {
		if t.expired(e, now) {
			delete(t.entries, id)
		}
	}
}

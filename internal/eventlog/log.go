// ABOUTME: Append-only event log with cursor reads and opportunistic retention sweeps
// ABOUTME: Every mutation emits here after its own transaction commits; failures never undo the mutation

package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-context/internal/metrics"
	"github.com/2389/coven-context/internal/store"
)

// Topics
const (
	TopicSession    = "session"
	TopicContext    = "context"
	TopicCheckpoint = "checkpoint"
	TopicIssue      = "issue"
	TopicPlan       = "plan"
	TopicMemory     = "memory"
)

// Defaults used when Options leaves a field zero
const (
	DefaultRetention     = time.Hour
	DefaultSweepInterval = time.Minute
	DefaultPageSize      = 500
)

// ErrInvalidPayload is returned when a payload does not encode to a JSON object
var ErrInvalidPayload = errors.New("event payload must be a JSON object")

// Entry is one event log row
type Entry = store.Event

// Store is the persistence the log needs
type Store interface {
	AppendEvent(ctx context.Context, topic string, payload json.RawMessage, ts int64) (int64, error)
	EventsAfter(ctx context.Context, q store.EventQuery) ([]store.Event, bool, error)
	PruneEventsBefore(ctx context.Context, cutoff int64) (int64, error)
}

// Cursor marks a read position. A positive Sequence takes precedence; a
// zero Sequence reads everything with a timestamp after Timestamp. Entries
// sharing a millisecond are only told apart by Sequence.
type Cursor struct {
	Timestamp int64 `json:"timestamp"`
	Sequence  int64 `json:"sequence,omitempty"`
}

// After returns the cursor positioned on e
func (c Cursor) After(e Entry) Cursor {
	return Cursor{Timestamp: e.Timestamp, Sequence: e.Sequence}
}

// Query selects a page of entries
type Query struct {
	Cursor Cursor
	Topic  string
	Limit  int
}

// Batch is one page of ReadSince results
type Batch struct {
	Entries []Entry `json:"events"`
	Next    Cursor  `json:"next"`
	HasMore bool    `json:"has_more"`
}

// Options configures a Log
type Options struct {
	Retention     time.Duration
	SweepInterval time.Duration
	Broadcaster   *Broadcaster
	Logger        *slog.Logger
	Now           func() time.Time
}

// Log is the process-wide event log
type Log struct {
	store         Store
	broadcaster   *Broadcaster
	retention     time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	logger        *slog.Logger

	mu        sync.Mutex
	lastSweep time.Time
	lastStamp int64

	// appendMu keeps stamp order and sequence order identical
	appendMu sync.Mutex
}

// New creates a Log over st
func New(st Store, opts Options) *Log {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Log{
		store:         st,
		broadcaster:   opts.Broadcaster,
		retention:     opts.Retention,
		sweepInterval: opts.SweepInterval,
		now:           opts.Now,
		logger:        opts.Logger.With("component", "eventlog"),
	}
}

// Broadcaster returns the wake-up broadcaster, which may be nil
func (l *Log) Broadcaster() *Broadcaster {
	return l.broadcaster
}

// stamp returns the current time in milliseconds, never earlier than the last stamp
func (l *Log) stamp() int64 {
	ts := l.now().UnixMilli()
	l.mu.Lock()
	defer l.mu.Unlock()
	if ts < l.lastStamp {
		ts = l.lastStamp
	}
	l.lastStamp = ts
	return ts
}

// Emit appends one entry. payload may be a json.RawMessage, a map or a struct
// and must encode to a JSON object. A successful append may also run the
// retention sweep, so a log that is only written to still stays bounded.
func (l *Log) Emit(ctx context.Context, topic string, payload any) (*Entry, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		metrics.EventsEmitted.WithLabelValues(topic, metrics.StatusError).Inc()
		return nil, err
	}

	l.appendMu.Lock()
	ts := l.stamp()
	seq, err := l.store.AppendEvent(ctx, topic, raw, ts)
	l.appendMu.Unlock()
	if err != nil {
		metrics.EventsEmitted.WithLabelValues(topic, metrics.StatusError).Inc()
		return nil, err
	}
	metrics.EventsEmitted.WithLabelValues(topic, metrics.StatusOK).Inc()

	entry := &Entry{Sequence: seq, Topic: topic, Payload: raw, Timestamp: ts}
	if l.broadcaster != nil {
		l.broadcaster.Publish(entry)
	}

	l.logger.Debug("event emitted", "topic", topic, "sequence", seq)
	l.maybeSweep(ctx)
	return entry, nil
}

// Notify emits and swallows failures. Callers use it after their primary
// mutation has committed, when the event is only a refresh signal.
func (l *Log) Notify(ctx context.Context, topic string, payload any) {
	if _, err := l.Emit(ctx, topic, payload); err != nil {
		l.logger.Warn("failed to emit event", "topic", topic, "error", err)
	}
}

// ReadSince returns entries strictly after q.Cursor in insertion order.
// It also runs a retention sweep when the sweep interval has elapsed.
func (l *Log) ReadSince(ctx context.Context, q Query) (*Batch, error) {
	l.maybeSweep(ctx)

	if q.Limit <= 0 {
		q.Limit = DefaultPageSize
	}
	events, hasMore, err := l.store.EventsAfter(ctx, store.EventQuery{
		AfterTimestamp: q.Cursor.Timestamp,
		AfterSequence:  q.Cursor.Sequence,
		Topic:          q.Topic,
		Limit:          q.Limit,
	})
	if err != nil {
		return nil, err
	}

	batch := &Batch{Entries: events, Next: q.Cursor, HasMore: hasMore}
	if batch.Entries == nil {
		batch.Entries = []Entry{}
	}
	if n := len(events); n > 0 {
		batch.Next = q.Cursor.After(events[n-1])
	}
	return batch, nil
}

// maybeSweep prunes expired rows at most once per sweep interval
func (l *Log) maybeSweep(ctx context.Context) {
	now := l.now()

	l.mu.Lock()
	if now.Sub(l.lastSweep) < l.sweepInterval {
		l.mu.Unlock()
		return
	}
	l.lastSweep = now
	l.mu.Unlock()

	if _, err := l.prune(ctx, now); err != nil {
		l.logger.Warn("retention sweep failed", "error", err)
	}
}

// Sweep prunes expired rows immediately and returns how many were removed
func (l *Log) Sweep(ctx context.Context) (int64, error) {
	now := l.now()
	l.mu.Lock()
	l.lastSweep = now
	l.mu.Unlock()
	return l.prune(ctx, now)
}

func (l *Log) prune(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-l.retention).UnixMilli()
	n, err := l.store.PruneEventsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.EventsPruned.Add(float64(n))
		l.logger.Debug("retention sweep", "removed", n)
	}
	return n, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	var raw json.RawMessage
	switch p := payload.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encoding event payload: %w", err)
		}
		raw = b
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, ErrInvalidPayload
	}
	return raw, nil
}

// ABOUTME: In-memory fan-out of freshly appended event log entries
// ABOUTME: Subscribers use deliveries as a wake-up; the persisted log stays authoritative

package eventlog

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber
const subscriberBufferSize = 64

// Broadcaster provides in-memory pub/sub for appended entries.
// Delivery is best effort: a full subscriber channel drops the entry, and the
// subscriber is expected to catch up by reading the log.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan *Entry // subID -> ch
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]chan *Entry),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber and returns its channel and ID.
// The subscription is cleaned up automatically when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan *Entry, string) {
	subID := uuid.New().String()
	ch := make(chan *Entry, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish hands an entry to every subscriber without blocking
func (b *Broadcaster) Publish(entry *Entry) {
	b.mu.RLock()
	if len(b.subscribers) == 0 {
		b.mu.RUnlock()
		return
	}
	targets := make([]chan *Entry, 0, len(b.subscribers))
	for _, ch := range b.subscribers {
		targets = append(targets, ch)
	}

	// Sends happen under the read lock so Unsubscribe can't close a channel mid-send
	for _, ch := range targets {
		select {
		case ch <- entry:
		default:
			b.logger.Debug("dropped entry for slow subscriber", "sequence", entry.Sequence)
		}
	}
	b.mu.RUnlock()
}

// Unsubscribe removes a subscription and closes its channel
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Count returns the number of live subscriptions
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close shuts down the broadcaster and closes all subscriber channels
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subID, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, subID)
	}
	b.closed = true

	b.logger.Debug("broadcaster closed")
}

// ABOUTME: Notification fan-out: one SSE subscriber loop per connection over the event log
// ABOUTME: Polls on a ticker, wakes early on broadcaster publishes and sends keep-alives when idle

package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-context/internal/eventlog"
	"github.com/2389/coven-context/internal/metrics"
)

// Defaults used when Options leaves a field zero
const (
	DefaultPollInterval      = time.Second
	DefaultKeepaliveInterval = 30 * time.Second
	DefaultReconnectWindow   = 5 * time.Second
)

// Source is the event log as the fan-out sees it
type Source interface {
	ReadSince(ctx context.Context, q eventlog.Query) (*eventlog.Batch, error)
}

// StreamTransportError means a write to one subscriber failed. It ends that
// subscriber's loop and nothing else.
type StreamTransportError struct {
	SubscriberID string
	Err          error
}

func (e *StreamTransportError) Error() string {
	return fmt.Sprintf("stream subscriber %s: %v", e.SubscriberID, e.Err)
}

func (e *StreamTransportError) Unwrap() error {
	return e.Err
}

// Options configures a Handler
type Options struct {
	PollInterval      time.Duration
	KeepaliveInterval time.Duration
	// ReconnectWindow is how far back a subscriber without a cursor starts
	ReconnectWindow time.Duration
	Broadcaster     *eventlog.Broadcaster
	Logger          *slog.Logger
	Now             func() time.Time
}

// Handler serves GET /api/events/stream
type Handler struct {
	source Source
	opts   Options
	logger *slog.Logger
}

// NewHandler creates a fan-out handler over src
func NewHandler(src Source, opts Options) *Handler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if opts.ReconnectWindow <= 0 {
		opts.ReconnectWindow = DefaultReconnectWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handler{
		source: src,
		opts:   opts,
		logger: opts.Logger.With("component", "stream"),
	}
}

// subscriber is the per-connection state. Only the serving goroutine touches it.
type subscriber struct {
	id      string
	w       http.ResponseWriter
	flusher http.Flusher
	cursor  eventlog.Cursor
	topic   string
	wrote   bool
}

func (s *subscriber) write(frame []byte, kind string) error {
	if _, err := s.w.Write(frame); err != nil {
		return &StreamTransportError{SubscriberID: s.id, Err: err}
	}
	s.flusher.Flush()
	s.wrote = true
	metrics.StreamFrames.WithLabelValues(kind).Inc()
	return nil
}

// ServeHTTP streams event log entries until the client goes away.
// Query parameters: since (unix ms), after_seq, topic. A Last-Event-ID
// header from a browser reconnect is treated as after_seq.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	cursor, err := h.startCursor(r)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "{\"error\":%q}\n", err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sub := &subscriber{
		id:      uuid.New().String(),
		w:       w,
		flusher: flusher,
		cursor:  cursor,
		topic:   r.URL.Query().Get("topic"),
	}

	metrics.StreamSubscribers.Inc()
	defer metrics.StreamSubscribers.Dec()

	h.logger.Debug("subscriber connected", "subscriber", sub.id, "since", cursor.Timestamp, "after_seq", cursor.Sequence)
	err = h.run(r.Context(), sub)
	var te *StreamTransportError
	switch {
	case err == nil:
		h.logger.Debug("subscriber disconnected", "subscriber", sub.id)
	case errors.As(err, &te):
		h.logger.Info("subscriber dropped", "subscriber", sub.id, "error", te.Err)
	default:
		h.logger.Warn("subscriber loop stopped", "subscriber", sub.id, "error", err)
	}
}

// run is the subscriber loop. Both tickers live in one select so writes to the
// ResponseWriter never race, and both stop when ctx is done.
func (h *Handler) run(ctx context.Context, sub *subscriber) error {
	if err := sub.write(ConnectedFrame, "connected"); err != nil {
		return err
	}

	var wake <-chan *eventlog.Entry
	if h.opts.Broadcaster != nil {
		ch, subID := h.opts.Broadcaster.Subscribe(ctx)
		defer h.opts.Broadcaster.Unsubscribe(subID)
		wake = ch
	}

	poll := time.NewTicker(h.opts.PollInterval)
	defer poll.Stop()
	keepalive := time.NewTicker(h.opts.KeepaliveInterval)
	defer keepalive.Stop()

	if err := h.forward(ctx, sub); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-poll.C:
			if err := h.forward(ctx, sub); err != nil {
				return err
			}

		case _, ok := <-wake:
			if !ok {
				wake = nil
				continue
			}
			if err := h.forward(ctx, sub); err != nil {
				return err
			}

		case <-keepalive.C:
			if !sub.wrote {
				if err := sub.write(KeepaliveFrame, "keepalive"); err != nil {
					return err
				}
			}
			sub.wrote = false
		}
	}
}

// forward drains everything after the subscriber's cursor. The cursor only
// advances to entries that were actually written.
func (h *Handler) forward(ctx context.Context, sub *subscriber) error {
	for {
		batch, err := h.source.ReadSince(ctx, eventlog.Query{Cursor: sub.cursor, Topic: sub.topic})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// A failed read is retried on the next tick.
			h.logger.Warn("reading event log", "subscriber", sub.id, "error", err)
			return nil
		}

		for i := range batch.Entries {
			entry := &batch.Entries[i]
			frame, err := EncodeFrame(entry)
			if err != nil {
				h.logger.Warn("skipping unencodable event", "sequence", entry.Sequence, "error", err)
				sub.cursor = sub.cursor.After(*entry)
				continue
			}
			if err := sub.write(frame, "event"); err != nil {
				return err
			}
			sub.cursor = sub.cursor.After(*entry)
		}

		if !batch.HasMore {
			return nil
		}
	}
}

func (h *Handler) startCursor(r *http.Request) (eventlog.Cursor, error) {
	q := r.URL.Query()

	var cursor eventlog.Cursor
	seqRaw := q.Get("after_seq")
	if seqRaw == "" {
		seqRaw = r.Header.Get("Last-Event-ID")
	}
	if seqRaw != "" {
		seq, err := strconv.ParseInt(seqRaw, 10, 64)
		if err != nil || seq < 0 {
			return cursor, fmt.Errorf("invalid after_seq %q", seqRaw)
		}
		cursor.Sequence = seq
	}

	if raw := q.Get("since"); raw != "" {
		since, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || since < 0 {
			return cursor, fmt.Errorf("invalid since %q", raw)
		}
		cursor.Timestamp = since
	} else if cursor.Sequence == 0 {
		cursor.Timestamp = h.opts.Now().Add(-h.opts.ReconnectWindow).UnixMilli()
	}
	return cursor, nil
}

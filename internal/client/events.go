// ABOUTME: Client methods for the event log: emit, paged reads, SSE stream and tail
// ABOUTME: Tail reconnects with doubling backoff and drops sequences it already delivered

package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/2389/coven-context/internal/dedupe"
	"github.com/2389/coven-context/internal/eventlog"
)

// ErrStreamClosed means the server ended the stream while the caller still wanted it.
var ErrStreamClosed = errors.New("event stream closed by server")

// EmitEvent appends one entry. payload must encode to a JSON object.
func (c *Client) EmitEvent(ctx context.Context, topic string, payload json.RawMessage) (*eventlog.Entry, error) {
	body := struct {
		Topic   string          `json:"topic"`
		Payload json.RawMessage `json:"payload,omitempty"`
	}{topic, payload}

	var out eventlog.Entry
	if err := c.do(ctx, http.MethodPost, "/api/events", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// cursorQuery renders a cursor and topic as query parameters.
func cursorQuery(cur eventlog.Cursor, topic string) url.Values {
	q := url.Values{}
	if cur.Timestamp > 0 {
		q.Set("since", strconv.FormatInt(cur.Timestamp, 10))
	}
	if cur.Sequence > 0 {
		q.Set("after_seq", strconv.FormatInt(cur.Sequence, 10))
	}
	setIf(q, "topic", topic)
	return q
}

// ReadEvents returns one page of entries after q.Cursor.
func (c *Client) ReadEvents(ctx context.Context, q eventlog.Query) (*eventlog.Batch, error) {
	var out eventlog.Batch
	if err := c.do(ctx, http.MethodGet, "/api/events", limitQuery(cursorQuery(q.Cursor, q.Topic), q.Limit), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Frame is one SSE data frame from /api/events/stream.
type Frame struct {
	Event     string
	Sequence  int64
	Timestamp int64
	// Data is the raw JSON object on the data line
	Data json.RawMessage
}

// Connected reports whether f is the greeting sent when a stream opens.
func (f Frame) Connected() bool {
	return f.Event == "connected"
}

// StreamOptions selects where a stream starts
type StreamOptions struct {
	Cursor eventlog.Cursor
	Topic  string
}

// Stream reads the event stream once, calling fn for each data frame until ctx
// ends (nil), the server closes the stream (ErrStreamClosed) or fn fails.
func (c *Client) Stream(ctx context.Context, opts StreamOptions, fn func(Frame) error) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/events/stream", cursorQuery(opts.Cursor, opts.Topic), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("opening stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	err = parseStream(resp.Body, fn)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// parseStream splits SSE frames on blank lines. Comment lines and fields
// other than data are ignored; multiple data lines are joined with newlines.
func parseStream(r io.Reader, fn func(Frame) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 4<<20)

	var data []string
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if len(data) > 0 {
				frame, err := decodeFrame(strings.Join(data, "\n"))
				if err != nil {
					return err
				}
				if err := fn(frame); err != nil {
					return err
				}
			}
			data = data[:0]
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}
		if v, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimPrefix(v, " "))
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	return ErrStreamClosed
}

func decodeFrame(data string) (Frame, error) {
	var head struct {
		Event     string `json:"event"`
		Sequence  int64  `json:"sequence"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.Unmarshal([]byte(data), &head); err != nil {
		return Frame{}, fmt.Errorf("decoding stream frame: %w", err)
	}
	return Frame{
		Event:     head.Event,
		Sequence:  head.Sequence,
		Timestamp: head.Timestamp,
		Data:      json.RawMessage(data),
	}, nil
}

// Tail backoff and dedupe defaults
const (
	DefaultMinBackoff = 500 * time.Millisecond
	DefaultMaxBackoff = 30 * time.Second
	DefaultDedupeTTL  = 10 * time.Minute
	dedupeMaxSize     = 10000
)

// TailOptions configures Tail
type TailOptions struct {
	StreamOptions
	MinBackoff time.Duration
	MaxBackoff time.Duration
	DedupeTTL  time.Duration
}

// Tail follows the event stream across disconnects. Each reconnect resumes
// after the last delivered sequence. Connected greetings are not delivered.
// It returns nil when ctx ends, fn's error when fn fails, and an *APIError
// for 4xx responses, which retrying cannot fix.
func (c *Client) Tail(ctx context.Context, opts TailOptions, fn func(Frame) error) error {
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = DefaultMinBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = max(DefaultMaxBackoff, opts.MinBackoff)
	}
	if opts.DedupeTTL <= 0 {
		opts.DedupeTTL = DefaultDedupeTTL
	}

	seen := dedupe.New[int64](opts.DedupeTTL, dedupeMaxSize)
	cur := opts.StreamOptions
	backoff := opts.MinBackoff

	var fnErr error
	deliver := func(f Frame) error {
		if f.Connected() {
			backoff = opts.MinBackoff
			return nil
		}
		if f.Sequence > 0 && seen.CheckAndMark(f.Sequence) {
			return nil
		}
		if err := fn(f); err != nil {
			fnErr = err
			return err
		}
		if f.Sequence > cur.Cursor.Sequence {
			cur.Cursor = eventlog.Cursor{Timestamp: f.Timestamp, Sequence: f.Sequence}
		}
		return nil
	}

	for {
		err := c.Stream(ctx, cur, deliver)
		if fnErr != nil {
			return fnErr
		}
		if ctx.Err() != nil {
			return nil
		}
		if status := StatusOf(err); status >= 400 && status < 500 {
			return err
		}

		c.logger.Warn("event stream interrupted, reconnecting",
			"error", err, "backoff", backoff, "after_seq", cur.Cursor.Sequence)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, opts.MaxBackoff)
	}
}

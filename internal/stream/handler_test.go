// ABOUTME: Tests for the SSE fan-out: framing, cursor handling, keep-alives and teardown
// ABOUTME: Runs the handler behind httptest against a real event log

package stream

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-context/internal/eventlog"
	"github.com/2389/coven-context/internal/store"
)

func setupTestLog(t *testing.T) *eventlog.Log {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "stream.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return eventlog.New(st, eventlog.Options{Broadcaster: eventlog.NewBroadcaster(nil)})
}

// connect opens the stream and returns a frame reader plus a cancel func
func connect(t *testing.T, h http.Handler, query string) (*bufio.Reader, context.CancelFunc) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events/stream"+query, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	return bufio.NewReader(resp.Body), cancel
}

// readFrame reads up to and including the blank line that ends a frame
func readFrame(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	type result struct {
		frame string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		var sb strings.Builder
		for {
			line, err := r.ReadString('\n')
			sb.WriteString(line)
			if err != nil {
				done <- result{sb.String(), err}
				return
			}
			if line == "\n" {
				done <- result{sb.String(), nil}
				return
			}
		}
	}()

	select {
	case res := <-done:
		require.NoError(t, res.err)
		return res.frame
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for frame")
		return ""
	}
}

func TestEncodeFrame_Golden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	tests := []struct {
		name  string
		entry eventlog.Entry
	}{
		{
			name: "frame_context_created",
			entry: eventlog.Entry{
				Sequence:  42,
				Topic:     eventlog.TopicContext,
				Payload:   []byte(`{"type":"created","sessionId":"sess_1","key":"auth"}`),
				Timestamp: 1760000000000,
			},
		},
		{
			name: "frame_reserved_fields",
			entry: eventlog.Entry{
				Sequence:  7,
				Topic:     eventlog.TopicCheckpoint,
				Payload:   []byte(`{"event":"spoofed","count":3}`),
				Timestamp: 5,
			},
		},
		{
			name:  "frame_empty_payload",
			entry: eventlog.Entry{Sequence: 1, Topic: eventlog.TopicSession, Timestamp: 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := EncodeFrame(&tt.entry)
			require.NoError(t, err)
			g.Assert(t, tt.name, frame)
		})
	}
}

func TestEncodeFrame_RejectsNonObjectPayload(t *testing.T) {
	_, err := EncodeFrame(&eventlog.Entry{Sequence: 1, Topic: "x", Payload: []byte(`[1,2]`)})
	assert.Error(t, err)
}

func TestHandler_ConnectedThenBacklogThenLive(t *testing.T) {
	log := setupTestLog(t)
	ctx := context.Background()

	_, err := log.Emit(ctx, eventlog.TopicSession, eventlog.Change{Type: eventlog.TypeCreated, SessionID: "sess_1"})
	require.NoError(t, err)

	h := NewHandler(log, Options{
		PollInterval:      20 * time.Millisecond,
		KeepaliveInterval: time.Hour,
		Broadcaster:       log.Broadcaster(),
	})
	r, _ := connect(t, h, "?since=0")

	assert.Equal(t, string(ConnectedFrame), readFrame(t, r))

	backlog := readFrame(t, r)
	assert.Contains(t, backlog, `"event":"session"`)
	assert.Contains(t, backlog, `"sessionId":"sess_1"`)

	_, err = log.Emit(ctx, eventlog.TopicContext, eventlog.Change{Type: eventlog.TypeCreated, SessionID: "sess_1", Key: "k"})
	require.NoError(t, err)

	live := readFrame(t, r)
	assert.Contains(t, live, `"event":"context"`)
	assert.Contains(t, live, `"key":"k"`)
}

func TestHandler_NoDuplicatesAcrossWakeAndPoll(t *testing.T) {
	log := setupTestLog(t)
	ctx := context.Background()

	h := NewHandler(log, Options{
		PollInterval:      5 * time.Millisecond,
		KeepaliveInterval: time.Hour,
		Broadcaster:       log.Broadcaster(),
	})
	r, _ := connect(t, h, "?since=0")
	readFrame(t, r)

	for i := 0; i < 5; i++ {
		_, err := log.Emit(ctx, eventlog.TopicContext, map[string]any{"n": i})
		require.NoError(t, err)
	}

	for i := 0; i < 5; i++ {
		frame := readFrame(t, r)
		assert.Contains(t, frame, `"n":`+strconv.Itoa(i), "frames arrive once each, in order")
	}
}

func TestHandler_AfterSeqCursor(t *testing.T) {
	log := setupTestLog(t)
	ctx := context.Background()

	first, err := log.Emit(ctx, eventlog.TopicContext, map[string]any{"n": "first"})
	require.NoError(t, err)
	_, err = log.Emit(ctx, eventlog.TopicContext, map[string]any{"n": "second"})
	require.NoError(t, err)

	h := NewHandler(log, Options{PollInterval: 20 * time.Millisecond, KeepaliveInterval: time.Hour})
	r, _ := connect(t, h, "?after_seq="+strconv.FormatInt(first.Sequence, 10))
	readFrame(t, r)

	frame := readFrame(t, r)
	assert.Contains(t, frame, `"n":"second"`)
}

func TestHandler_DefaultCursorIsReconnectWindow(t *testing.T) {
	log := setupTestLog(t)
	_, err := log.Emit(context.Background(), eventlog.TopicContext, map[string]any{"old": true})
	require.NoError(t, err)

	h := NewHandler(log, Options{
		PollInterval:      10 * time.Millisecond,
		KeepaliveInterval: 50 * time.Millisecond,
		ReconnectWindow:   time.Second,
		Now:               func() time.Time { return time.Now().Add(time.Hour) },
	})
	r, _ := connect(t, h, "")
	readFrame(t, r)

	assert.Equal(t, string(KeepaliveFrame), readFrame(t, r), "entries older than the reconnect window are not replayed")
}

func TestHandler_KeepaliveWhenIdle(t *testing.T) {
	log := setupTestLog(t)
	h := NewHandler(log, Options{PollInterval: 10 * time.Millisecond, KeepaliveInterval: 30 * time.Millisecond})
	r, _ := connect(t, h, "?since=0")

	readFrame(t, r)
	assert.Equal(t, ": keepalive\n\n", readFrame(t, r))
}

func TestHandler_RejectsBadCursor(t *testing.T) {
	h := NewHandler(setupTestLog(t), Options{})

	for _, q := range []string{"?since=abc", "?after_seq=-1"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events/stream"+q, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		assert.Contains(t, rec.Body.String(), "error")
	}
}

func TestHandler_UnsubscribesOnDisconnect(t *testing.T) {
	log := setupTestLog(t)
	h := NewHandler(log, Options{PollInterval: 10 * time.Millisecond, Broadcaster: log.Broadcaster()})
	r, cancel := connect(t, h, "?since=0")
	readFrame(t, r)

	require.Eventually(t, func() bool { return log.Broadcaster().Count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.Eventually(t, func() bool { return log.Broadcaster().Count() == 0 }, 2*time.Second, 5*time.Millisecond)
}

// brokenWriter fails every write after the first, like a client that vanished
type brokenWriter struct {
	header http.Header
	writes atomic.Int32
}

func (w *brokenWriter) Header() http.Header { return w.header }
func (w *brokenWriter) WriteHeader(int)     {}
func (w *brokenWriter) Flush()              {}

func (w *brokenWriter) Write(p []byte) (int, error) {
	if w.writes.Add(1) > 1 {
		return 0, errors.New("broken pipe")
	}
	return len(p), nil
}

func TestHandler_TransportErrorEndsOnlyThatSubscriber(t *testing.T) {
	log := setupTestLog(t)
	ctx := context.Background()
	_, err := log.Emit(ctx, eventlog.TopicContext, map[string]any{"n": 1})
	require.NoError(t, err)

	h := NewHandler(log, Options{PollInterval: 10 * time.Millisecond, KeepaliveInterval: time.Hour, Broadcaster: log.Broadcaster()})

	healthy, _ := connect(t, h, "?since=0")
	readFrame(t, healthy)
	readFrame(t, healthy)

	done := make(chan struct{})
	go func() {
		h.ServeHTTP(&brokenWriter{header: http.Header{}}, httptest.NewRequest(http.MethodGet, "/api/events/stream?since=0", nil))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("broken subscriber loop did not stop")
	}

	_, err = log.Emit(ctx, eventlog.TopicContext, map[string]any{"n": 2})
	require.NoError(t, err)
	assert.Contains(t, readFrame(t, healthy), `"n":2`)
}

func TestStreamTransportError(t *testing.T) {
	cause := errors.New("reset by peer")
	err := &StreamTransportError{SubscriberID: "sub-1", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "stream subscriber sub-1: reset by peer", err.Error())
}

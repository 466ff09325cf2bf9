// ABOUTME: Tests for checkpoint capture, restore, split and delete against a real SQLite store
// ABOUTME: Items are written through session.Service so restores see realistic rows

package checkpoint

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-context/internal/eventlog"
	"github.com/2389/coven-context/internal/session"
	"github.com/2389/coven-context/internal/store"
)

// recordingNotifier keeps checkpoint and context changes apart
type recordingNotifier struct {
	mu      sync.Mutex
	changes []eventlog.Change
	items   []eventlog.Change
}

func (r *recordingNotifier) Notify(_ context.Context, topic string, payload any) {
	c, ok := payload.(eventlog.Change)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	switch topic {
	case eventlog.TopicCheckpoint:
		r.changes = append(r.changes, c)
	case eventlog.TopicContext:
		r.items = append(r.items, c)
	}
}

// itemMark returns how many context changes have been seen so far
func (r *recordingNotifier) itemMark() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func (r *recordingNotifier) itemsSince(mark int) []eventlog.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]eventlog.Change(nil), r.items[mark:]...)
}

func (r *recordingNotifier) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.changes))
	for i, c := range r.changes {
		out[i] = c.Type
	}
	return out
}

type fixture struct {
	engine   *Engine
	sessions *session.Service
	store    *store.SQLiteStore
	rec      *recordingNotifier
}

func setupTestEngine(t *testing.T) *fixture {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "checkpoint.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	rec := &recordingNotifier{}
	return &fixture{
		engine:   New(st, rec, nil),
		sessions: session.New(st, rec, nil),
		store:    st,
		rec:      rec,
	}
}

func (f *fixture) start(t *testing.T, name string) string {
	t.Helper()
	res, err := f.sessions.Start(context.Background(), session.StartInput{Name: name})
	require.NoError(t, err)
	return res.Session.ID
}

func (f *fixture) save(t *testing.T, sessionID string, in session.SaveInput) {
	t.Helper()
	_, err := f.sessions.Save(context.Background(), sessionID, in)
	require.NoError(t, err)
}

func (f *fixture) value(t *testing.T, sessionID, key string) string {
	t.Helper()
	it, err := f.sessions.GetItem(context.Background(), sessionID, key)
	require.NoError(t, err)
	return it.Value
}

func TestCapture_IncludeTagsSelectsSubset(t *testing.T) {
	f := setupTestEngine(t)
	ctx := context.Background()
	sid := f.start(t, "S1")

	f.save(t, sid, session.SaveInput{Key: "a", Value: "1", Tags: []string{}})
	f.save(t, sid, session.SaveInput{Key: "b", Value: "2", Tags: []string{"x"}})

	cp, err := f.engine.Capture(ctx, CaptureInput{
		SessionID: sid,
		Name:      "C1",
		Filter:    Filter{IncludeTags: []string{"x"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, cp.ItemCount)
	assert.Equal(t, 1, cp.TotalSize)

	detail, err := f.engine.Get(ctx, cp.ID)
	require.NoError(t, err)
	require.Len(t, detail.Items, 1)
	assert.Equal(t, "b", detail.Items[0].Key)

	assert.Equal(t, []string{eventlog.TypeCreated}, f.rec.types())
}

func TestCapture_NoFilterTakesEverything(t *testing.T) {
	f := setupTestEngine(t)
	sid := f.start(t, "all")
	for _, k := range []string{"one", "two", "three"} {
		f.save(t, sid, session.SaveInput{Key: k, Value: k})
	}

	cp, err := f.engine.Capture(context.Background(), CaptureInput{SessionID: sid, Name: "full"})
	require.NoError(t, err)
	assert.Equal(t, 3, cp.ItemCount)
	assert.Equal(t, len("one")+len("two")+len("three"), cp.TotalSize)
}

func TestCapture_EmptyMatchIsValid(t *testing.T) {
	f := setupTestEngine(t)
	sid := f.start(t, "empty")
	f.save(t, sid, session.SaveInput{Key: "a", Value: "1"})

	cp, err := f.engine.Capture(context.Background(), CaptureInput{
		SessionID: sid,
		Name:      "nothing",
		Filter:    Filter{IncludeKeys: []string{"zzz*"}},
	})
	require.NoError(t, err)
	assert.Zero(t, cp.ItemCount)
	assert.Zero(t, cp.TotalSize)
}

func TestCapture_Errors(t *testing.T) {
	f := setupTestEngine(t)
	ctx := context.Background()
	sid := f.start(t, "err")

	_, err := f.engine.Capture(ctx, CaptureInput{SessionID: sid, Name: " "})
	assert.True(t, session.IsInvalidArgument(err))

	_, err = f.engine.Capture(ctx, CaptureInput{SessionID: "sess_missing", Name: "x"})
	assert.True(t, session.IsNotFound(err))

	_, err = f.engine.Capture(ctx, CaptureInput{SessionID: sid, Name: "x", Filter: Filter{IncludeCategories: []string{"gossip"}}})
	assert.True(t, session.IsInvalidArgument(err))
}

func TestCapture_ItemsAreFrozen(t *testing.T) {
	f := setupTestEngine(t)
	ctx := context.Background()
	sid := f.start(t, "frozen")
	f.save(t, sid, session.SaveInput{Key: "k", Value: "before", Tags: []string{"t"}})

	cp, err := f.engine.Capture(ctx, CaptureInput{SessionID: sid, Name: "snap"})
	require.NoError(t, err)
	before, err := f.engine.Get(ctx, cp.ID)
	require.NoError(t, err)

	f.save(t, sid, session.SaveInput{Key: "k", Value: "after", Tags: []string{"changed"}})
	_, err = f.sessions.DeleteItem(ctx, sid, "k")
	require.NoError(t, err)

	after, err := f.engine.Get(ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Items, after.Items)
	assert.Equal(t, "before", after.Items[0].Value)
	assert.Equal(t, []string{"t"}, after.Items[0].Tags)
}

func TestRestore_OverwritesAndIsIdempotent(t *testing.T) {
	f := setupTestEngine(t)
	ctx := context.Background()
	sid := f.start(t, "restore")
	f.save(t, sid, session.SaveInput{Key: "a", Value: "1", Category: store.CategoryDecision, Tags: []string{"x"}})
	f.save(t, sid, session.SaveInput{Key: "b", Value: "2"})

	cp, err := f.engine.Capture(ctx, CaptureInput{SessionID: sid, Name: "base"})
	require.NoError(t, err)

	f.save(t, sid, session.SaveInput{Key: "a", Value: "edited", Category: store.CategoryNote, Tags: []string{}})
	_, err = f.sessions.DeleteItem(ctx, sid, "b")
	require.NoError(t, err)
	f.save(t, sid, session.SaveInput{Key: "c", Value: "new"})

	res, err := f.engine.Restore(ctx, cp.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.RestoredCount)
	assert.Equal(t, 2, res.Attempted)

	first, err := f.sessions.ListItems(ctx, sid, session.ItemFilter{})
	require.NoError(t, err)

	a, err := f.sessions.GetItem(ctx, sid, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", a.Value)
	assert.Equal(t, store.CategoryDecision, a.Category)
	assert.Equal(t, []string{"x"}, a.Tags)
	assert.Equal(t, "2", f.value(t, sid, "b"))
	assert.Equal(t, "new", f.value(t, sid, "c"), "restore does not clear keys absent from the checkpoint")

	_, err = f.engine.Restore(ctx, cp.ID, nil)
	require.NoError(t, err)
	second, err := f.sessions.ListItems(ctx, sid, session.ItemFilter{})
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Key, second[i].Key)
		assert.Equal(t, first[i].Value, second[i].Value)
		assert.Equal(t, first[i].Category, second[i].Category)
		assert.Equal(t, first[i].Priority, second[i].Priority)
		assert.Equal(t, first[i].Tags, second[i].Tags)
	}
}

func TestRestore_FilterSubsetAndNoMatch(t *testing.T) {
	f := setupTestEngine(t)
	ctx := context.Background()
	sid := f.start(t, "subset")
	f.save(t, sid, session.SaveInput{Key: "api.auth", Value: "1", Category: store.CategoryDecision})
	f.save(t, sid, session.SaveInput{Key: "ui.theme", Value: "2", Category: store.CategoryNote})

	cp, err := f.engine.Capture(ctx, CaptureInput{SessionID: sid, Name: "base"})
	require.NoError(t, err)
	f.save(t, sid, session.SaveInput{Key: "api.auth", Value: "x"})
	f.save(t, sid, session.SaveInput{Key: "ui.theme", Value: "y"})

	res, err := f.engine.Restore(ctx, cp.ID, &Filter{IncludeKeys: []string{"api.*"}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.RestoredCount)
	assert.Equal(t, "1", f.value(t, sid, "api.auth"))
	assert.Equal(t, "y", f.value(t, sid, "ui.theme"))

	_, err = f.engine.Restore(ctx, cp.ID, &Filter{IncludeTags: []string{"nope"}})
	assert.True(t, session.IsPrecondition(err))

	_, err = f.engine.Restore(ctx, "ckpt_missing", nil)
	assert.True(t, session.IsNotFound(err))
}

func TestRestore_EmptyCheckpointWithoutFilter(t *testing.T) {
	f := setupTestEngine(t)
	ctx := context.Background()
	sid := f.start(t, "empty")

	cp, err := f.engine.Capture(ctx, CaptureInput{SessionID: sid, Name: "void"})
	require.NoError(t, err)

	res, err := f.engine.Restore(ctx, cp.ID, &Filter{})
	require.NoError(t, err)
	assert.Zero(t, res.RestoredCount)
}

// flakyStore fails UpsertContextItem after a number of successful calls
type flakyStore struct {
	*store.SQLiteStore
	okCalls int
	calls   int
}

func (s *flakyStore) UpsertContextItem(ctx context.Context, in store.ItemUpsert, now time.Time) (*store.ContextItem, bool, error) {
	s.calls++
	if s.calls > s.okCalls {
		return nil, false, errors.New("disk I/O error")
	}
	return s.SQLiteStore.UpsertContextItem(ctx, in, now)
}

func TestRestore_PartialFailureReportsCount(t *testing.T) {
	f := setupTestEngine(t)
	ctx := context.Background()
	sid := f.start(t, "partial")
	for _, k := range []string{"a", "b", "c"} {
		f.save(t, sid, session.SaveInput{Key: k, Value: k})
	}
	cp, err := f.engine.Capture(ctx, CaptureInput{SessionID: sid, Name: "three"})
	require.NoError(t, err)

	flaky := &flakyStore{SQLiteStore: f.store, okCalls: 2}
	eng := New(flaky, f.rec, nil)

	res, err := eng.Restore(ctx, cp.ID, nil)
	require.Error(t, err)
	var se *session.StorageError
	require.ErrorAs(t, err, &se)
	require.NotNil(t, res)
	assert.Equal(t, 2, res.RestoredCount)
	assert.Equal(t, 3, res.Attempted)
	assert.NotContains(t, f.rec.types(), eventlog.TypeRestored)
}

func TestSplit_UsesFrozenItems(t *testing.T) {
	f := setupTestEngine(t)
	ctx := context.Background()
	sid := f.start(t, "split")
	f.save(t, sid, session.SaveInput{Key: "db.schema", Value: "v1", Tags: []string{"backend"}})
	f.save(t, sid, session.SaveInput{Key: "ui.nav", Value: "tabs", Tags: []string{"frontend"}})
	f.save(t, sid, session.SaveInput{Key: "ops.deploy", Value: "blue", Tags: []string{"backend", "ops"}})

	src, err := f.engine.Capture(ctx, CaptureInput{SessionID: sid, Name: "src"})
	require.NoError(t, err)

	f.save(t, sid, session.SaveInput{Key: "db.schema", Value: "v2", Tags: []string{"backend"}})
	f.save(t, sid, session.SaveInput{Key: "db.index", Value: "late", Tags: []string{"backend"}})

	parts, err := f.engine.Split(ctx, src.ID, []SplitSpec{
		{Name: "backend", Filter: Filter{IncludeTags: []string{"backend"}, ExcludeTags: []string{"ops"}}},
		{Name: "frontend", Filter: Filter{IncludeTags: []string{"frontend"}}},
	})
	require.NoError(t, err)
	require.Len(t, parts, 2)

	backend, err := f.engine.Get(ctx, parts[0].ID)
	require.NoError(t, err)
	require.Len(t, backend.Items, 1)
	assert.Equal(t, "db.schema", backend.Items[0].Key)
	assert.Equal(t, "v1", backend.Items[0].Value)

	assert.Equal(t, 1, parts[1].ItemCount)
	assert.Equal(t, sid, parts[1].SessionID)

	types := f.rec.types()
	assert.Equal(t, []string{eventlog.TypeCreated, eventlog.TypeSplit, eventlog.TypeSplit}, types)
}

func TestSplit_Validation(t *testing.T) {
	f := setupTestEngine(t)
	ctx := context.Background()

	_, err := f.engine.Split(ctx, "ckpt_x", nil)
	assert.True(t, session.IsInvalidArgument(err))

	_, err = f.engine.Split(ctx, "ckpt_x", []SplitSpec{{Name: ""}})
	assert.True(t, session.IsInvalidArgument(err))

	_, err = f.engine.Split(ctx, "ckpt_x", []SplitSpec{{Name: "a"}})
	assert.True(t, session.IsNotFound(err))
}

func TestDelete_LeavesLiveItems(t *testing.T) {
	f := setupTestEngine(t)
	ctx := context.Background()
	sid := f.start(t, "del")
	f.save(t, sid, session.SaveInput{Key: "k", Value: "v"})

	cp, err := f.engine.Capture(ctx, CaptureInput{SessionID: sid, Name: "gone"})
	require.NoError(t, err)

	require.NoError(t, f.engine.Delete(ctx, cp.ID))
	_, err = f.engine.Get(ctx, cp.ID)
	assert.True(t, session.IsNotFound(err))
	assert.Equal(t, "v", f.value(t, sid, "k"))

	err = f.engine.Delete(ctx, cp.ID)
	assert.True(t, session.IsNotFound(err))
}

func TestList_NewestFirst(t *testing.T) {
	f := setupTestEngine(t)
	ctx := context.Background()
	sid := f.start(t, "list")

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, name := range []string{"first", "second"} {
		f.engine.now = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		_, err := f.engine.Capture(ctx, CaptureInput{SessionID: sid, Name: name})
		require.NoError(t, err)
	}

	list, err := f.engine.List(ctx, sid, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[0].Name)

	_, err = f.engine.List(ctx, "sess_missing", 0)
	assert.True(t, session.IsNotFound(err))
}

func TestRestore_ReportsEachKeyOnContextTopic(t *testing.T) {
	f := setupTestEngine(t)
	ctx := context.Background()
	sid := f.start(t, "events")

	f.save(t, sid, session.SaveInput{Key: "a", Value: "1"})
	f.save(t, sid, session.SaveInput{Key: "b", Value: "2"})
	cp, err := f.engine.Capture(ctx, CaptureInput{SessionID: sid, Name: "both"})
	require.NoError(t, err)

	f.save(t, sid, session.SaveInput{Key: "a", Value: "changed"})
	_, err = f.sessions.DeleteItem(ctx, sid, "b")
	require.NoError(t, err)

	mark := f.rec.itemMark()
	res, err := f.engine.Restore(ctx, cp.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.RestoredCount)
	assert.Equal(t, "1", f.value(t, sid, "a"))

	got := f.rec.itemsSince(mark)
	require.Len(t, got, 2)
	byKey := map[string]string{}
	for _, c := range got {
		assert.Equal(t, sid, c.SessionID)
		byKey[c.Key] = c.Type
	}
	assert.Equal(t, map[string]string{
		"a": eventlog.TypeUpdated,
		"b": eventlog.TypeCreated,
	}, byKey)
}

func TestRestore_ThroughEventLogIsReadableByTopic(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "log.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	log := eventlog.New(st, eventlog.Options{})
	sessions := session.New(st, log, nil)
	engine := New(st, log, nil)
	ctx := context.Background()

	started, err := sessions.Start(ctx, session.StartInput{Name: "topic"})
	require.NoError(t, err)
	sid := started.Session.ID
	_, err = sessions.Save(ctx, sid, session.SaveInput{Key: "a", Value: "1"})
	require.NoError(t, err)
	cp, err := engine.Capture(ctx, CaptureInput{SessionID: sid, Name: "c"})
	require.NoError(t, err)
	_, err = sessions.Save(ctx, sid, session.SaveInput{Key: "a", Value: "2"})
	require.NoError(t, err)

	before, err := log.ReadSince(ctx, eventlog.Query{Topic: eventlog.TopicContext})
	require.NoError(t, err)

	_, err = engine.Restore(ctx, cp.ID, nil)
	require.NoError(t, err)

	after, err := log.ReadSince(ctx, eventlog.Query{Topic: eventlog.TopicContext})
	require.NoError(t, err)
	assert.Len(t, after.Entries, len(before.Entries)+1)
}

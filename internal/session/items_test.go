package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-context/internal/eventlog"
	"github.com/2389/coven-context/internal/store"
)

func TestSave_CreatedThenUpdated(t *testing.T) {
	svc, rec, _ := setupTestService(t)
	ctx := context.Background()
	sess := startSession(t, svc, "s")

	res, err := svc.Save(ctx, sess.ID, SaveInput{Key: "c", Value: "3"})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, eventlog.Change{Type: eventlog.TypeCreated, SessionID: sess.ID, Key: "c"}, rec.last())

	res, err = svc.Save(ctx, sess.ID, SaveInput{Key: "c", Value: "4"})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, "4", res.Item.Value)
	assert.Equal(t, eventlog.TypeUpdated, rec.last().Type)
}

func TestSave_Validation(t *testing.T) {
	svc, _, _ := setupTestService(t)
	ctx := context.Background()
	sess := startSession(t, svc, "s")

	_, err := svc.Save(ctx, sess.ID, SaveInput{Key: "", Value: "x"})
	assert.True(t, IsInvalidArgument(err))

	_, err = svc.Save(ctx, sess.ID, SaveInput{Key: "k", Value: "x", Category: "gossip"})
	assert.True(t, IsInvalidArgument(err))

	_, err = svc.Save(ctx, sess.ID, SaveInput{Key: "k", Value: "x", Priority: "urgent"})
	assert.True(t, IsInvalidArgument(err))

	_, err = svc.Save(ctx, "sess_missing", SaveInput{Key: "k", Value: "x"})
	assert.True(t, IsNotFound(err))
}

func TestSave_AllowedInAnyStatus(t *testing.T) {
	svc, _, _ := setupTestService(t)
	ctx := context.Background()
	sess := startSession(t, svc, "s")
	_, err := svc.Complete(ctx, sess.ID)
	require.NoError(t, err)

	_, err = svc.Save(ctx, sess.ID, SaveInput{Key: "late", Value: "note"})
	assert.NoError(t, err)
}

func TestSave_NormalizesTags(t *testing.T) {
	svc, _, _ := setupTestService(t)
	sess := startSession(t, svc, "s")

	res, err := svc.Save(context.Background(), sess.ID, SaveInput{Key: "k", Value: "v", Tags: []string{" X ", "x", "X", ""}})
	require.NoError(t, err)
	assert.Equal(t, []string{"X", "x"}, res.Item.Tags)
}

func TestUpdate_ChangesOnlyGivenFields(t *testing.T) {
	svc, rec, _ := setupTestService(t)
	ctx := context.Background()
	sess := startSession(t, svc, "s")

	_, err := svc.Save(ctx, sess.ID, SaveInput{
		Key:      "k",
		Value:    "original",
		Category: store.CategoryDecision,
		Priority: store.PriorityLow,
		Channel:  "backend",
		Tags:     []string{"api"},
	})
	require.NoError(t, err)

	value := "changed"
	n, err := svc.Update(ctx, sess.ID, "k", UpdateInput{Value: &value})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, eventlog.Change{Type: eventlog.TypeUpdated, SessionID: sess.ID, Key: "k"}, rec.last())

	got, err := svc.GetItem(ctx, sess.ID, "k")
	require.NoError(t, err)
	assert.Equal(t, "changed", got.Value)
	assert.Equal(t, store.CategoryDecision, got.Category)
	assert.Equal(t, store.PriorityLow, got.Priority)
	assert.Equal(t, "backend", got.Channel)
	assert.Equal(t, []string{"api"}, got.Tags)
	assert.Equal(t, len("changed"), got.Size)
}

func TestUpdate_Errors(t *testing.T) {
	svc, _, _ := setupTestService(t)
	ctx := context.Background()
	sess := startSession(t, svc, "s")

	value := "v"
	_, err := svc.Update(ctx, sess.ID, "absent", UpdateInput{Value: &value})
	assert.True(t, IsNotFound(err))

	_, err = svc.Update(ctx, sess.ID, "absent", UpdateInput{})
	assert.True(t, IsInvalidArgument(err))

	bad := store.Category("nope")
	_, err = svc.Update(ctx, sess.ID, "absent", UpdateInput{Category: &bad})
	assert.True(t, IsInvalidArgument(err))
}

func TestDeleteItem_DistinguishesAbsent(t *testing.T) {
	svc, rec, _ := setupTestService(t)
	ctx := context.Background()
	sess := startSession(t, svc, "s")

	_, err := svc.Save(ctx, sess.ID, SaveInput{Key: "k", Value: "v"})
	require.NoError(t, err)

	n, err := svc.DeleteItem(ctx, sess.ID, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, eventlog.Change{Type: eventlog.TypeDeleted, SessionID: sess.ID, Key: "k"}, rec.last())

	before := rec.count()
	n, err = svc.DeleteItem(ctx, sess.ID, "k")
	assert.True(t, IsNotFound(err))
	assert.Zero(t, n)
	assert.Equal(t, before, rec.count(), "no event for a delete that removed nothing")
}

func TestListItems_FiltersAndMissingSession(t *testing.T) {
	svc, _, _ := setupTestService(t)
	ctx := context.Background()
	sess := startSession(t, svc, "s")

	_, err := svc.Save(ctx, sess.ID, SaveInput{Key: "a", Value: "1", Tags: []string{"x"}})
	require.NoError(t, err)
	_, err = svc.Save(ctx, sess.ID, SaveInput{Key: "b", Value: "2", Category: store.CategoryTask})
	require.NoError(t, err)

	tagged, err := svc.ListItems(ctx, sess.ID, ItemFilter{Tag: "x"})
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	assert.Equal(t, "a", tagged[0].Key)

	tasks, err := svc.ListItems(ctx, sess.ID, ItemFilter{Category: store.CategoryTask})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "b", tasks[0].Key)

	_, err = svc.ListItems(ctx, "sess_missing", ItemFilter{})
	assert.True(t, IsNotFound(err))
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify("op", "session", "x", nil))

	nf := Classify("op", "session", "sess_1", store.ErrNotFound)
	assert.EqualError(t, nf, `session "sess_1" not found`)

	pre := Classify("delete session", "session", "sess_1", store.ErrSessionActive)
	assert.True(t, IsPrecondition(pre))

	wrapped := &PreconditionError{Op: "x", Reason: "y"}
	assert.Same(t, wrapped, Classify("op", "e", "i", wrapped))

	storageErr := Classify("op", "e", "i", assert.AnError)
	var se *StorageError
	require.ErrorAs(t, storageErr, &se)
	assert.ErrorIs(t, storageErr, assert.AnError)
}

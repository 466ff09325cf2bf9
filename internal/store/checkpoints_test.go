package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateCheckpoint_ComputesAggregates(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	sess := createTestSession(t, store, "s", SessionActive)

	cp := &Checkpoint{ID: NewID("ckpt"), SessionID: sess.ID, Name: "before-refactor", GitBranch: "main", CreatedAt: testNow()}
	items := []*CheckpointItem{
		{Key: "a", Value: "one", Category: CategoryNote, Priority: PriorityNormal, Tags: []string{"x"}, Size: 3},
		{Key: "b", Value: "three", Category: CategoryTask, Priority: PriorityLow, Size: 5},
	}
	require.NoError(t, store.CreateCheckpoint(ctx, cp, items))
	assert.Equal(t, 2, cp.ItemCount)
	assert.Equal(t, 8, cp.TotalSize)

	got, err := store.GetCheckpoint(ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, "before-refactor", got.Name)
	assert.Equal(t, "main", got.GitBranch)
	assert.Equal(t, 2, got.ItemCount)
	assert.Equal(t, 8, got.TotalSize)

	frozen, err := store.ListCheckpointItems(ctx, cp.ID)
	require.NoError(t, err)
	require.Len(t, frozen, 2)
	assert.Equal(t, "a", frozen[0].Key)
	assert.Equal(t, 0, frozen[0].Position)
	assert.Equal(t, []string{"x"}, frozen[0].Tags)
	assert.Equal(t, "b", frozen[1].Key)
	assert.Equal(t, []string{}, frozen[1].Tags)
}

func TestCreateCheckpoint_Empty(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	sess := createTestSession(t, store, "s", SessionActive)

	cp := &Checkpoint{ID: NewID("ckpt"), SessionID: sess.ID, Name: "empty", CreatedAt: testNow()}
	require.NoError(t, store.CreateCheckpoint(ctx, cp, nil))

	got, err := store.GetCheckpoint(ctx, cp.ID)
	require.NoError(t, err)
	assert.Zero(t, got.ItemCount)
	assert.Zero(t, got.TotalSize)
}

func TestCreateCheckpoint_MissingSession(t *testing.T) {
	store := setupTestStore(t)

	cp := &Checkpoint{ID: NewID("ckpt"), SessionID: "sess_missing", Name: "x", CreatedAt: testNow()}
	err := store.CreateCheckpoint(context.Background(), cp, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListCheckpoints_NewestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	sess := createTestSession(t, store, "s", SessionActive)

	base := testNow()
	for i, name := range []string{"first", "second", "third"} {
		cp := &Checkpoint{ID: NewID("ckpt"), SessionID: sess.ID, Name: name, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		require.NoError(t, store.CreateCheckpoint(ctx, cp, nil))
	}

	list, err := store.ListCheckpoints(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "third", list[0].Name)
	assert.Equal(t, "first", list[2].Name)
}

func TestDeleteCheckpoint(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	sess := createTestSession(t, store, "s", SessionActive)

	_, _, err := store.UpsertContextItem(ctx, ItemUpsert{SessionID: sess.ID, Key: "a", Value: "1"}, testNow())
	require.NoError(t, err)

	cp := &Checkpoint{ID: NewID("ckpt"), SessionID: sess.ID, Name: "x", CreatedAt: testNow()}
	require.NoError(t, store.CreateCheckpoint(ctx, cp, []*CheckpointItem{{Key: "a", Value: "1", Category: CategoryNote, Priority: PriorityNormal}}))

	require.NoError(t, store.DeleteCheckpoint(ctx, cp.ID))

	_, err = store.GetCheckpoint(ctx, cp.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	items, err := store.ListCheckpointItems(ctx, cp.ID)
	require.NoError(t, err)
	assert.Empty(t, items)

	// live items are untouched
	_, err = store.GetContextItem(ctx, sess.ID, "a")
	assert.NoError(t, err)

	assert.ErrorIs(t, store.DeleteCheckpoint(ctx, cp.ID), ErrNotFound)
}

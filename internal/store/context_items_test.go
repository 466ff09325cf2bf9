package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertContextItem_InsertAppliesDefaults(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	sess := createTestSession(t, store, "s", SessionActive)

	item, created, err := store.UpsertContextItem(ctx, ItemUpsert{SessionID: sess.ID, Key: "k", Value: "hello"}, testNow())
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, CategoryNote, item.Category)
	assert.Equal(t, PriorityNormal, item.Priority)
	assert.Equal(t, DefaultChannel, item.Channel)
	assert.Equal(t, []string{}, item.Tags)
	assert.Equal(t, 5, item.Size)

	got, err := store.GetContextItem(ctx, sess.ID, "k")
	require.NoError(t, err)
	assert.Equal(t, item.ID, got.ID)
	assert.Equal(t, "hello", got.Value)
}

func TestUpsertContextItem_UpdateKeepsUnspecifiedFields(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	sess := createTestSession(t, store, "s", SessionActive)

	first, _, err := store.UpsertContextItem(ctx, ItemUpsert{
		SessionID: sess.ID,
		Key:       "k",
		Value:     "v1",
		Category:  CategoryDecision,
		Priority:  PriorityHigh,
		Tags:      []string{"x"},
	}, testNow())
	require.NoError(t, err)

	second, created, err := store.UpsertContextItem(ctx, ItemUpsert{SessionID: sess.ID, Key: "k", Value: "v2"}, testNow())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "v2", second.Value)
	assert.Equal(t, CategoryDecision, second.Category)
	assert.Equal(t, PriorityHigh, second.Priority)
	assert.Equal(t, []string{"x"}, second.Tags)
}

func TestUpsertContextItem_MissingSession(t *testing.T) {
	store := setupTestStore(t)

	_, _, err := store.UpsertContextItem(context.Background(), ItemUpsert{SessionID: "sess_missing", Key: "k", Value: "v"}, testNow())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateContextItem_Partial(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	sess := createTestSession(t, store, "s", SessionActive)

	_, _, err := store.UpsertContextItem(ctx, ItemUpsert{
		SessionID: sess.ID,
		Key:       "k",
		Value:     "original",
		Category:  CategoryTask,
		Tags:      []string{"a", "b"},
	}, testNow())
	require.NoError(t, err)

	high := PriorityHigh
	n, err := store.UpdateContextItem(ctx, sess.ID, "k", ItemPatch{Priority: &high}, testNow())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := store.GetContextItem(ctx, sess.ID, "k")
	require.NoError(t, err)
	assert.Equal(t, PriorityHigh, got.Priority)
	assert.Equal(t, "original", got.Value)
	assert.Equal(t, CategoryTask, got.Category)
	assert.Equal(t, []string{"a", "b"}, got.Tags)
}

func TestUpdateContextItem_NotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	sess := createTestSession(t, store, "s", SessionActive)

	v := "x"
	n, err := store.UpdateContextItem(ctx, sess.ID, "absent", ItemPatch{Value: &v}, testNow())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, n)
}

func TestDeleteContextItem_ReportsCount(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	sess := createTestSession(t, store, "s", SessionActive)

	_, _, err := store.UpsertContextItem(ctx, ItemUpsert{SessionID: sess.ID, Key: "k", Value: "v"}, testNow())
	require.NoError(t, err)

	n, err := store.DeleteContextItem(ctx, sess.ID, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.DeleteContextItem(ctx, sess.ID, "k")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListContextItems_Filters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	sess := createTestSession(t, store, "s", SessionActive)

	inputs := []ItemUpsert{
		{SessionID: sess.ID, Key: "a", Value: "1", Category: CategoryTask, Tags: []string{"x"}},
		{SessionID: sess.ID, Key: "b", Value: "2", Category: CategoryNote, Tags: []string{"y"}},
		{SessionID: sess.ID, Key: "c", Value: "3", Category: CategoryTask, Priority: PriorityHigh, Tags: []string{"x", "y"}},
	}
	for _, in := range inputs {
		_, _, err := store.UpsertContextItem(ctx, in, testNow())
		require.NoError(t, err)
	}

	all, err := store.ListContextItems(ctx, sess.ID, ItemQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	tasks, err := store.ListContextItems(ctx, sess.ID, ItemQuery{Category: CategoryTask})
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	tagged, err := store.ListContextItems(ctx, sess.ID, ItemQuery{Tag: "y"})
	require.NoError(t, err)
	var keys []string
	for _, it := range tagged {
		keys = append(keys, it.Key)
	}
	assert.ElementsMatch(t, []string{"b", "c"}, keys)

	high, err := store.ListContextItems(ctx, sess.ID, ItemQuery{Priority: PriorityHigh})
	require.NoError(t, err)
	require.Len(t, high, 1)
	assert.Equal(t, "c", high[0].Key)

	limited, err := store.ListContextItems(ctx, sess.ID, ItemQuery{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLStore(t *testing.T) *SQLDocumentStore {
	t.Helper()
	store, err := NewSQLDocumentStore("sqlite", "file::memory:?cache=shared", "fsm_documents")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLDocumentStorePutGet(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "doc-1", []byte("payload-1")))
	r, err := store.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload-1"), r.Payload)
}

func TestSQLDocumentStoreGetMissing(t *testing.T) {
	store := newTestSQLStore(t)
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLDocumentStorePutIfAbsent(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutIfAbsent(ctx, "doc-2", []byte("first")))
	err := store.PutIfAbsent(ctx, "doc-2", []byte("second"))
	assert.ErrorIs(t, err, ErrConditionFailed)
}

func TestSQLDocumentStorePutIfFenceMatches(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	f1, err := store.PutIfFenceMatches(ctx, "lease-1", 0, []byte("holder-a"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), f1)

	_, err = store.PutIfFenceMatches(ctx, "lease-1", 0, []byte("holder-b"))
	assert.ErrorIs(t, err, ErrConditionFailed)

	f2, err := store.PutIfFenceMatches(ctx, "lease-1", f1, []byte("holder-a-renew"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), f2)
}

func TestSQLDocumentStoreReleaseFenceDoesNotAdvanceFence(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	f1, err := store.PutIfFenceMatches(ctx, "lease-1", 0, []byte("holder-a"))
	require.NoError(t, err)

	require.NoError(t, store.ReleaseFence(ctx, "lease-1", f1, []byte{}))

	r, err := store.Get(ctx, "lease-1")
	require.NoError(t, err)
	assert.Equal(t, f1, r.Fence)

	err = store.ReleaseFence(ctx, "lease-1", f1+1, []byte{})
	assert.ErrorIs(t, err, ErrConditionFailed)
}

func TestSQLDocumentStoreBatchPut(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	require.NoError(t, store.BatchPut(ctx, map[string][]byte{
		"a": []byte("1"),
		"b": []byte("2"),
	}))
	ra, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), ra.Payload)
}

func TestSQLDocumentStoreDelete(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "doc-3", []byte("v")))
	require.NoError(t, store.Delete(ctx, "doc-3"))
	_, err := store.Get(ctx, "doc-3")
	assert.ErrorIs(t, err, ErrNotFound)
}

package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStreamPutRecord(t *testing.T) {
	s := NewMemoryStream()
	require.NoError(t, s.PutRecord(context.Background(), "corr-1", []byte("a")))
	require.NoError(t, s.PutRecord(context.Background(), "corr-1", []byte("b")))
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, s.Records["corr-1"])
}

func TestMemoryQueueClampsDelay(t *testing.T) {
	q := NewMemoryQueue()
	require.NoError(t, q.SendMessage(context.Background(), []byte("m"), 5000))
	require.Len(t, q.Messages, 1)
	assert.Equal(t, MaxDelaySeconds, q.Messages[0].DelaySeconds)
}

func TestMemoryDocumentStorePutIfAbsent(t *testing.T) {
	d := NewMemoryDocumentStore()
	ctx := context.Background()

	require.NoError(t, d.PutIfAbsent(ctx, "k1", []byte("v1")))
	err := d.PutIfAbsent(ctx, "k1", []byte("v2"))
	assert.ErrorIs(t, err, ErrConditionFailed)

	r, err := d.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), r.Payload)
}

func TestMemoryDocumentStoreGetMissing(t *testing.T) {
	d := NewMemoryDocumentStore()
	_, err := d.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryDocumentStorePutIfFenceMatchesMonotonic(t *testing.T) {
	d := NewMemoryDocumentStore()
	ctx := context.Background()

	f1, err := d.PutIfFenceMatches(ctx, "lease-1", 0, []byte("holder-a"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), f1)

	_, err = d.PutIfFenceMatches(ctx, "lease-1", 0, []byte("holder-b"))
	assert.ErrorIs(t, err, ErrConditionFailed)

	f2, err := d.PutIfFenceMatches(ctx, "lease-1", f1, []byte("holder-a-renew"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), f2)
	assert.Greater(t, f2, f1)
}

func TestMemoryDocumentStoreReleaseFenceDoesNotAdvanceFence(t *testing.T) {
	d := NewMemoryDocumentStore()
	ctx := context.Background()

	f1, err := d.PutIfFenceMatches(ctx, "lease-1", 0, []byte("holder-a"))
	require.NoError(t, err)

	require.NoError(t, d.ReleaseFence(ctx, "lease-1", f1, nil))

	r, err := d.Get(ctx, "lease-1")
	require.NoError(t, err)
	assert.Equal(t, f1, r.Fence)
	assert.Nil(t, r.Payload)

	err = d.ReleaseFence(ctx, "lease-1", f1+1, nil)
	assert.ErrorIs(t, err, ErrConditionFailed)
}

func TestMemoryCacheSetIfAbsentAndCAS(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.SetIfAbsent(ctx, "idem-1", []byte("done"), 0))
	err := c.SetIfAbsent(ctx, "idem-1", []byte("done-again"), 0)
	assert.ErrorIs(t, err, ErrConditionFailed)

	entry, err := c.Get(ctx, "idem-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("done"), entry.Value)

	err = c.CompareAndSwap(ctx, "idem-1", entry.Fence, []byte("updated"), 0)
	require.NoError(t, err)

	err = c.CompareAndSwap(ctx, "idem-1", entry.Fence, []byte("stale-write"), 0)
	assert.ErrorIs(t, err, ErrConditionFailed)
}

func TestMemoryCacheExpires(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lambdafsm/dispatcher/transport"
)

func TestStartThenGet(t *testing.T) {
	ctx := context.Background()
	store := transport.NewMemoryDocumentStore()
	s := New(store)

	runAt := time.Now().Add(5 * time.Second)
	require.NoError(t, s.Start(ctx, "cid1", "cid1-2", runAt, []byte("payload"), 1))

	rec, ok, err := s.Get(ctx, "cid1", "cid1-2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "cid1-2", rec.CorrelationIDSteps)
	assert.Equal(t, 1, rec.Retries)
}

func TestStopDeletesRecord(t *testing.T) {
	ctx := context.Background()
	store := transport.NewMemoryDocumentStore()
	s := New(store)

	require.NoError(t, s.Start(ctx, "cid1", "cid1-2", time.Now(), []byte("p"), 0))
	require.NoError(t, s.Stop(ctx, "cid1", "cid1-2"))

	_, ok, err := s.Get(ctx, "cid1", "cid1-2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStopOnMissingRecordIsNotAnError(t *testing.T) {
	ctx := context.Background()
	store := transport.NewMemoryDocumentStore()
	s := New(store)

	assert.NoError(t, s.Stop(ctx, "cid1", "cid1-2"))
}

func TestPartitionIsStableAndInRange(t *testing.T) {
	p := Partition("cid1")
	assert.GreaterOrEqual(t, p, 0)
	assert.Less(t, p, PartitionCount)
	assert.Equal(t, p, Partition("cid1"))
}

func TestSweepPartitionResubmitsOnlyDueRecords(t *testing.T) {
	ctx := context.Background()
	store := transport.NewMemoryDocumentStore()
	s := New(store)

	now := time.Now()
	partition := Partition("cid1")
	require.NoError(t, s.Start(ctx, "cid1", "cid1-1", now.Add(-time.Minute), []byte("due"), 1))
	require.NoError(t, s.Start(ctx, "cid1", "cid1-2", now.Add(time.Hour), []byte("not-due"), 1))

	var resubmitted []string
	sweeper := NewSweeper(store, func(_ context.Context, correlationIDSteps string, payload []byte) error {
		resubmitted = append(resubmitted, correlationIDSteps)
		return nil
	})

	count, err := sweeper.SweepPartition(ctx, partition, now)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, []string{"cid1-1"}, resubmitted)
}

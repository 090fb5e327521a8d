package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/lambdafsm/dispatcher/transport"
)

// Sweeper is the external-to-the-pipeline process that replays due retry
// records (spec §4.8: "a sweeper queries the partition index for
// run_at < now and re-submits payloads to the stream"). It is driven by
// cmd/retrysweeper, not by the dispatch pipeline itself.
type Sweeper struct {
	store  transport.Scanner
	submit func(ctx context.Context, correlationIDSteps string, payload []byte) error
}

// NewSweeper returns a Sweeper that scans store and hands due payloads to
// submit (ordinarily a Stream.PutRecord call through the failover router).
func NewSweeper(store transport.Scanner, submit func(ctx context.Context, correlationIDSteps string, payload []byte) error) *Sweeper {
	return &Sweeper{store: store, submit: submit}
}

// SweepPartition re-submits every due record in partition, up to SweepLimit,
// returning the count it resubmitted. It over-fetches (scanning more than
// SweepLimit rows when the prefix-scan backend can't filter by run_at
// server-side) and filters client-side, since transport.Scanner only knows
// opaque payload bytes.
func (s *Sweeper) SweepPartition(ctx context.Context, partition int, now time.Time) (int, error) {
	prefix := fmt.Sprintf("%d#", partition)
	rows, err := s.store.ScanPrefix(ctx, prefix, SweepLimit*4)
	if err != nil {
		return 0, err
	}

	due := make([]Record, 0, len(rows))
	for _, row := range rows {
		var record Record
		if err := json.Unmarshal(row.Payload, &record); err != nil {
			continue
		}
		if !record.RunAt.After(now) {
			due = append(due, record)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].RunAt.Before(due[j].RunAt) })
	if len(due) > SweepLimit {
		due = due[:SweepLimit]
	}

	resubmitted := 0
	for _, record := range due {
		if err := s.submit(ctx, record.CorrelationIDSteps, record.Payload); err != nil {
			continue
		}
		resubmitted++
	}
	return resubmitted, nil
}

// SweepAll runs SweepPartition across every partition, in index order.
func (s *Sweeper) SweepAll(ctx context.Context, now time.Time) (int, error) {
	total := 0
	for p := 0; p < PartitionCount; p++ {
		n, err := s.SweepPartition(ctx, p, now)
		if err != nil {
			return total, fmt.Errorf("retry: sweep partition %d: %w", p, err)
		}
		total += n
	}
	return total, nil
}

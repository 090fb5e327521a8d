// Package retry implements the durable retry scheduler: on step failure the
// dispatch pipeline persists a RetryRecord for a sweeper to replay later; on
// success it removes that record (spec §4.8).
package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/lambdafsm/dispatcher/transport"
)

// PartitionCount is the number of retry-table partitions the sweeper fans
// out across (spec §4.8: "partition = hash(correlation_id) mod 16").
const PartitionCount = 16

// SweepLimit bounds how many due records the sweeper re-submits per
// partition per sweep (spec §4.8: "Limit=100 per partition per sweep").
const SweepLimit = 100

// Record is the durable retry-table row (spec §6 "Persisted state").
type Record struct {
	Partition         int       `json:"partition"`
	CorrelationIDSteps string   `json:"correlation_id_steps"`
	RunAt             time.Time `json:"run_at"`
	Payload           []byte    `json:"payload"`
	Retries           int       `json:"retries"`
}

// Partition hashes correlationID into [0, PartitionCount) with FNV-1a, the
// same non-cryptographic hash the teacher's checkpoint/store layer uses for
// its own sharding.
func Partition(correlationID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(correlationID))
	return int(h.Sum32() % PartitionCount)
}

// key formats the document-store row key: "partition#correlation_id-steps".
func key(partition int, correlationIDSteps string) string {
	return fmt.Sprintf("%d#%s", partition, correlationIDSteps)
}

// Scheduler persists and clears retry records over a transport.DocumentStore.
type Scheduler struct {
	store transport.DocumentStore
}

// New returns a Scheduler backed by store.
func New(store transport.DocumentStore) *Scheduler {
	return &Scheduler{store: store}
}

// Start persists a RetryRecord for correlationIDSteps, due at runAt, per
// spec §4.8's start_retries. retries is the attempt count so far, stamped
// into the record; the sweeper selects records by run_at only and does not
// read it.
func (s *Scheduler) Start(ctx context.Context, correlationID, correlationIDSteps string, runAt time.Time, payload []byte, retries int) error {
	partition := Partition(correlationID)
	record := Record{
		Partition:          partition,
		CorrelationIDSteps: correlationIDSteps,
		RunAt:              runAt,
		Payload:            payload,
		Retries:            retries,
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.store.Put(ctx, key(partition, correlationIDSteps), encoded)
}

// Stop deletes the retry record for (correlationID, correlationIDSteps)
// after that step completes successfully (spec §4.8's stop_retries).
func (s *Scheduler) Stop(ctx context.Context, correlationID, correlationIDSteps string) error {
	partition := Partition(correlationID)
	err := s.store.Delete(ctx, key(partition, correlationIDSteps))
	if err == transport.ErrNotFound {
		return nil
	}
	return err
}

// Get returns the retry record for (correlationID, correlationIDSteps), if
// any, so the interpreter's retry policy can inspect the attempt count.
func (s *Scheduler) Get(ctx context.Context, correlationID, correlationIDSteps string) (Record, bool, error) {
	partition := Partition(correlationID)
	rec, err := s.store.Get(ctx, key(partition, correlationIDSteps))
	if err == transport.ErrNotFound {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	var record Record
	if err := json.Unmarshal(rec.Payload, &record); err != nil {
		return Record{}, false, err
	}
	return record, true, nil
}

package fsm

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lambdafsm/dispatcher/transport"
)

// checkpointRecord is the checkpoint table's row shape (spec §6: "key
// correlation_id, attribute sent").
type checkpointRecord struct {
	Sent      string    `json:"sent"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CheckpointStore records the last successfully-emitted event per
// correlation id.
type CheckpointStore struct {
	backend transport.DocumentStore
}

// NewCheckpointStore returns a CheckpointStore backed by backend.
func NewCheckpointStore(backend transport.DocumentStore) *CheckpointStore {
	return &CheckpointStore{backend: backend}
}

// StoreCheckpoint records that sentEvent was successfully emitted for
// correlationID (spec §4.9 step 6's store_checkpoint).
func (c *CheckpointStore) StoreCheckpoint(ctx context.Context, correlationID, sentEvent string) error {
	encoded, err := json.Marshal(checkpointRecord{Sent: sentEvent, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return c.backend.Put(ctx, correlationID, encoded)
}

// LastCheckpoint returns the last recorded sent event for correlationID.
func (c *CheckpointStore) LastCheckpoint(ctx context.Context, correlationID string) (string, bool, error) {
	rec, err := c.backend.Get(ctx, correlationID)
	if err == transport.ErrNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	var decoded checkpointRecord
	if err := json.Unmarshal(rec.Payload, &decoded); err != nil {
		return "", false, err
	}
	return decoded.Sent, true, nil
}

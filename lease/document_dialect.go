package lease

import (
	"context"
	"time"

	"github.com/lambdafsm/dispatcher/transport"
)

// documentDialect implements the lease contract over transport.DocumentStore
// using its conditional UPDATE (PutIfFenceMatches), the only dialect with a
// store-native monotonic fence spec §4.7 treats as authoritative.
type documentDialect struct {
	store transport.DocumentStore
	key   func(correlationID string) string
}

// NewDocumentDialect returns a Dialect backed by store.
func NewDocumentDialect(store transport.DocumentStore, keyPrefix string) Dialect {
	return &documentDialect{
		store: store,
		key:   func(correlationID string) string { return keyPrefix + correlationID },
	}
}

func (d *documentDialect) Acquire(ctx context.Context, correlationID string, steps, retries int) Outcome {
	key := d.key(correlationID)
	now := time.Now()

	existing, err := d.store.Get(ctx, key)
	expectFence := existing.Fence
	switch err {
	case nil:
		ownerSteps, ownerRetries, expires, ok := decodeRecord(string(existing.Payload))
		if !available(ownerSteps, ownerRetries, expires, ok, now, steps, retries) {
			return contended()
		}
	case transport.ErrNotFound:
		expectFence = 0
	default:
		return unavailable(err)
	}

	payload := []byte(encodeRecord(steps, retries, now.Add(DefaultTimeout)))
	newFence, err := d.store.PutIfFenceMatches(ctx, key, expectFence, payload)
	if err != nil {
		if err == transport.ErrConditionFailed {
			return contended()
		}
		return unavailable(err)
	}
	return acquired(newFence)
}

func (d *documentDialect) Release(ctx context.Context, correlationID string, steps, retries int, fence int64) Outcome {
	key := d.key(correlationID)
	existing, err := d.store.Get(ctx, key)
	if err == transport.ErrNotFound {
		return released()
	}
	if err != nil {
		return unavailable(err)
	}
	ownerSteps, ownerRetries, _, ok := decodeRecord(string(existing.Payload))
	if !ok || !sameOwner(ownerKey(ownerSteps, ownerRetries), steps, retries) || existing.Fence != fence {
		return contended()
	}
	if err := d.store.ReleaseFence(ctx, key, fence, nil); err != nil {
		if err == transport.ErrConditionFailed {
			return contended()
		}
		return unavailable(err)
	}
	return released()
}

// Package idempotency implements the dispatch pipeline's duplicate-step
// guard: before running actions, check whether (correlation_id, steps) has
// already completed; after emission, record it (spec §4.6).
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/lambdafsm/dispatcher/transport"
)

// DefaultTTL bounds how long a completed-step marker lingers in the cache,
// long enough to cover retry storms without growing unbounded.
const DefaultTTL = 24 * time.Hour

// Cache is the idempotency guard over transport.Cache.
type Cache struct {
	backend transport.Cache
	prefix  string
	ttl     time.Duration
}

// New returns a Cache backed by backend. keyPrefix namespaces idempotency
// keys within a shared cache instance.
func New(backend transport.Cache, keyPrefix string) *Cache {
	return &Cache{backend: backend, prefix: keyPrefix, ttl: DefaultTTL}
}

// WithTTL overrides DefaultTTL.
func (c *Cache) WithTTL(ttl time.Duration) *Cache {
	c.ttl = ttl
	return c
}

func key(prefix, correlationID string, steps int) string {
	return fmt.Sprintf("%s%s-%d", prefix, correlationID, steps)
}

// Seen reports whether (correlationID, steps) has already run to
// completion. A transport error other than ErrNotFound is returned to the
// caller rather than silently treated as "not seen". fsm.Dispatcher.Dispatch
// goes on to lease acquisition when Seen errors, so the lease is then the
// only duplicate guard for that record.
func (c *Cache) Seen(ctx context.Context, correlationID string, steps int) (bool, error) {
	_, err := c.backend.Get(ctx, key(c.prefix, correlationID, steps))
	switch err {
	case nil:
		return true, nil
	case transport.ErrNotFound:
		return false, nil
	default:
		return false, err
	}
}

// MarkDone records (correlationID, steps) as completed, using
// conditional-write-if-absent so a concurrent winner is detected rather
// than silently overwritten. A false return (with nil error) means someone
// else already recorded this step first — per spec §4.6 the caller treats
// its own effects as abandoned, not rolled back.
func (c *Cache) MarkDone(ctx context.Context, correlationID string, steps int) (bool, error) {
	err := c.backend.SetIfAbsent(ctx, key(c.prefix, correlationID, steps), []byte("1"), c.ttl)
	switch err {
	case nil:
		return true, nil
	case transport.ErrConditionFailed:
		return false, nil
	default:
		return false, err
	}
}

package lease

import (
	"context"
	"time"

	"github.com/lambdafsm/dispatcher/transport"
)

// releaseTTL is how long a released lease's empty marker lingers before the
// cache backend reclaims the key on its own (spec §4.7: "release writes an
// empty value with a short TTL rather than deleting the key outright").
const releaseTTL = time.Second

// cacheDialect implements the lease contract over transport.Cache using
// compare-and-swap. It has no real fencing counter: the value it stores is
// only ever "steps-retries-expiresUnixNano" or empty, so every acquire
// reports Fence 0 unless a synthesizer is supplied (see WithSynthesizedFence
// below, spec §9's open question about the cache dialect's fencing limit).
type cacheDialect struct {
	cache   transport.Cache
	key     func(correlationID string) string
	timeout time.Duration
	fencer  fencer
}

// fencer synthesizes a monotonic fence out-of-band for dialects that don't
// have one natively. nil means "always report fence 0".
type fencer interface {
	Next(ctx context.Context, correlationID string) (int64, error)
}

// CacheOption configures NewCacheDialect.
type CacheOption func(*cacheDialect)

// WithTimeout overrides DefaultTimeout for this dialect instance.
func WithTimeout(d time.Duration) CacheOption {
	return func(c *cacheDialect) { c.timeout = d }
}

// WithSynthesizedFence opts the cache dialect into a real monotonic fence
// by drawing one from fencer on every successful acquire, instead of
// silently reporting Fence 0. Spec §9: "An implementer should either
// document this limitation or synthesize a fence via a separate counter
// key; do not silently paper over it."
func WithSynthesizedFence(f fencer) CacheOption {
	return func(c *cacheDialect) { c.fencer = f }
}

// NewCacheDialect returns a Dialect backed by cache (memcached-style CAS).
// keyPrefix namespaces the lease keys within the shared cache.
func NewCacheDialect(cache transport.Cache, keyPrefix string, opts ...CacheOption) Dialect {
	d := &cacheDialect{
		cache:   cache,
		key:     func(correlationID string) string { return keyPrefix + correlationID },
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *cacheDialect) Acquire(ctx context.Context, correlationID string, steps, retries int) Outcome {
	key := d.key(correlationID)
	now := time.Now()
	entry, err := d.cache.Get(ctx, key)
	switch {
	case err == nil:
		ownerSteps, ownerRetries, expires, ok := decodeRecord(string(entry.Value))
		if !available(ownerSteps, ownerRetries, expires, ok, now, steps, retries) {
			return contended()
		}
	case err == transport.ErrNotFound:
		// no existing record; fall through to claim it
	default:
		return unavailable(err)
	}

	newValue := []byte(encodeRecord(steps, retries, now.Add(d.timeout)))
	if err := d.compareAndSwap(ctx, key, entry.Fence, newValue); err != nil {
		if err == transport.ErrConditionFailed {
			return contended()
		}
		return unavailable(err)
	}
	return acquired(d.fence(ctx, correlationID))
}

func (d *cacheDialect) Release(ctx context.Context, correlationID string, steps, retries int, fence int64) Outcome {
	key := d.key(correlationID)
	entry, err := d.cache.Get(ctx, key)
	if err == transport.ErrNotFound {
		return released()
	}
	if err != nil {
		return unavailable(err)
	}
	ownerSteps, ownerRetries, _, ok := decodeRecord(string(entry.Value))
	if !ok || !sameOwner(ownerKey(ownerSteps, ownerRetries), steps, retries) {
		return contended()
	}
	if err := d.cache.Set(ctx, key, nil, releaseTTL); err != nil {
		return unavailable(err)
	}
	return released()
}

// compareAndSwap claims key with newValue, using SetIfAbsent when the prior
// fence was zero (meaning the key had no record, per transport.Cache.Get's
// zero-value return on ErrNotFound) and CompareAndSwap otherwise.
func (d *cacheDialect) compareAndSwap(ctx context.Context, key string, priorFence int64, newValue []byte) error {
	if priorFence == 0 {
		if err := d.cache.SetIfAbsent(ctx, key, newValue, d.timeout); err == nil {
			return nil
		} else if err != transport.ErrConditionFailed {
			return err
		}
		// lost the race to claim an absent key; fall through to CAS so a
		// concurrent release (fence now nonzero) can still be observed.
	}
	return d.cache.CompareAndSwap(ctx, key, priorFence, newValue, d.timeout)
}

func (d *cacheDialect) fence(ctx context.Context, correlationID string) int64 {
	if d.fencer == nil {
		return 0
	}
	next, err := d.fencer.Next(ctx, correlationID)
	if err != nil {
		return 0
	}
	return next
}

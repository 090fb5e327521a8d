// Package lease implements the fencing lease manager: mutual exclusion
// over a correlation_id with a monotonic fence token, across three
// interchangeable backend dialects (spec §4.7).
package lease

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// errContended is used internally by dialects that need to signal
// contention out of a transaction closure (e.g. redis.Tx's function return)
// without it being mistaken for an infrastructure error.
var errContended = errors.New("lease: contended")

// DefaultTimeout is the lease duration stamped on a successful acquire
// (spec §4.7's LEASE_TIMEOUT, default 300s).
const DefaultTimeout = 300 * time.Second

// OutcomeKind tags an Outcome instead of using exceptions for control flow,
// per spec §9's design notes.
type OutcomeKind int

const (
	// Acquired means the caller now holds the lease; Fence is valid.
	Acquired OutcomeKind = iota
	// Contended means a live lease is held by someone else; retry later.
	Contended
	// Released means a Release call succeeded.
	Released
	// Unavailable means the backend could not be reached; Err is valid.
	// Callers use this to try the failover router's other side rather
	// than treating it as "lost the race".
	Unavailable
)

func (k OutcomeKind) String() string {
	switch k {
	case Acquired:
		return "acquired"
	case Contended:
		return "contended"
	case Released:
		return "released"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Outcome is the tagged result of an Acquire or Release call.
type Outcome struct {
	Kind  OutcomeKind
	Fence int64
	Err   error
}

func acquired(fence int64) Outcome { return Outcome{Kind: Acquired, Fence: fence} }
func contended() Outcome           { return Outcome{Kind: Contended} }
func released() Outcome            { return Outcome{Kind: Released} }
func unavailable(err error) Outcome {
	return Outcome{Kind: Unavailable, Err: err}
}

// Dialect is one backend's implementation of the acquire/release contract.
// transport.DocumentStore backs documentDialect (real monotonic fence);
// transport.Cache backs cacheDialect (no real fence, spec §9); Redis backs
// redisDialect (same CAS shape as cacheDialect, run inside a transaction).
type Dialect interface {
	Acquire(ctx context.Context, correlationID string, steps, retries int) Outcome
	Release(ctx context.Context, correlationID string, steps, retries int, fence int64) Outcome
}

// Manager is the fencing lease manager: a thin, dialect-agnostic facade
// so callers (the dispatch pipeline) never need to know which backend is
// in play.
type Manager struct {
	dialect Dialect
}

// New returns a Manager backed by dialect.
func New(dialect Dialect) *Manager {
	return &Manager{dialect: dialect}
}

// Acquire attempts to take the lease for correlationID at (steps, retries),
// per spec §4.7's availability rule: available iff absent, open, expired,
// or already owned by this same (steps, retries) tuple.
func (m *Manager) Acquire(ctx context.Context, correlationID string, steps, retries int) Outcome {
	return m.dialect.Acquire(ctx, correlationID, steps, retries)
}

// Release attempts to release the lease, succeeding only if it is
// currently held by (steps, retries). The document dialect also requires
// the matching fence; the cache and Redis dialects do not compare fence.
func (m *Manager) Release(ctx context.Context, correlationID string, steps, retries int, fence int64) Outcome {
	return m.dialect.Release(ctx, correlationID, steps, retries, fence)
}

// ownerKey encodes the (steps, retries) tuple the way spec §4.7's cache
// dialect parses it back: "steps-retries".
func ownerKey(steps, retries int) string {
	return fmt.Sprintf("%d-%d", steps, retries)
}

// sameOwner reports whether owner matches (steps, retries).
func sameOwner(owner string, steps, retries int) bool {
	return owner == ownerKey(steps, retries)
}

// encodeRecord formats the cache/Redis dialects' wire value:
// "steps-retries-expiresUnixNano".
func encodeRecord(steps, retries int, expires time.Time) string {
	return fmt.Sprintf("%d-%d-%d", steps, retries, expires.UnixNano())
}

// decodeRecord parses a value written by encodeRecord. ok is false if v is
// empty (the "open"/released representation) or malformed.
func decodeRecord(v string) (steps, retries int, expires time.Time, ok bool) {
	if v == "" {
		return 0, 0, time.Time{}, false
	}
	parts := strings.SplitN(v, "-", 3)
	if len(parts) != 3 {
		return 0, 0, time.Time{}, false
	}
	s, err1 := strconv.Atoi(parts[0])
	r, err2 := strconv.Atoi(parts[1])
	nanos, err3 := strconv.ParseInt(parts[2], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, 0, time.Time{}, false
	}
	return s, r, time.Unix(0, nanos), true
}

// available implements spec §4.7's shared availability rule: the lease is
// takeable by (wantSteps, wantRetries) iff the stored record is absent
// (ok=false), expired, or already owned by that same tuple.
func available(ownerSteps, ownerRetries int, expires time.Time, ok bool, now time.Time, wantSteps, wantRetries int) bool {
	if !ok {
		return true
	}
	if now.After(expires) {
		return true
	}
	return sameOwner(ownerKey(ownerSteps, ownerRetries), wantSteps, wantRetries)
}

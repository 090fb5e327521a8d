// Package broker caches backend clients per ARN and optionally wraps them
// in a fault-injecting decorator for chaos testing.
package broker

import (
	"context"
	"sync"
	"time"

	"github.com/lambdafsm/dispatcher/arn"
)

// DefaultConnectTimeout and DefaultReadTimeout match the original system's
// process-wide defaults (aws_lambda_fsm/constants.py:AWS.CONNECT_TIMEOUT /
// AWS.READ_TIMEOUT), used whenever a caller does not override them.
const (
	DefaultConnectTimeout = 60 * time.Second
	DefaultReadTimeout    = 60 * time.Second
)

// Conn is anything the broker can cache and, if chaos is enabled, decorate.
// Its only requirement is that it name the service it speaks to, so the
// chaos wrapper can match rules against it.
type Conn interface {
	Service() arn.Service
}

// Factory constructs a fresh Conn for a, honoring the requested timeouts.
// transport's per-backend constructors (kinesis.go, dynamo.go, ...) each
// supply one of these to the broker.
type Factory func(ctx context.Context, a arn.ARN, connectTimeout, readTimeout time.Duration) (Conn, error)

// Options configures how Broker.Get constructs and caches a connection.
type Options struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	DisableChaos   bool
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	return o
}

// Broker returns a client for an ARN, constructing it on first use and
// caching it keyed by the ARN's canonical string in process-local storage
// (spec §4.2). A single Broker is shared by every role the failover router
// resolves, so the cache is safe for concurrent Get calls.
type Broker struct {
	factories map[arn.Service]Factory
	chaos     *ChaosConfig

	mu    sync.RWMutex
	cache map[string]Conn
}

// New returns a Broker with no chaos configuration. Call SetChaos to enable
// fault injection.
func New(factories map[arn.Service]Factory) *Broker {
	return &Broker{
		factories: factories,
		cache:     map[string]Conn{},
	}
}

// SetChaos installs the process-wide chaos configuration. A nil or empty
// cfg disables fault injection for every subsequent Get call, matching the
// "CHAOS configuration is non-empty" gate in spec §4.2.
func (b *Broker) SetChaos(cfg *ChaosConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chaos = cfg
}

// Get returns the cached connection for a, building it via the registered
// factory on a cache miss. When chaos is configured and opts.DisableChaos is
// false, the returned Conn is a ChaosConnection wrapping the real client.
func (b *Broker) Get(ctx context.Context, a arn.ARN, opts Options) (Conn, error) {
	opts = opts.withDefaults()
	key := a.Format()

	b.mu.RLock()
	if c, ok := b.cache[key]; ok {
		b.mu.RUnlock()
		return c, nil
	}
	b.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	// Re-check: another goroutine may have populated the cache while we
	// waited on the write lock.
	if c, ok := b.cache[key]; ok {
		return c, nil
	}

	factory, ok := b.factories[a.Service]
	if !ok {
		return nil, ErrNoFactory
	}

	conn, err := factory(ctx, a, opts.ConnectTimeout, opts.ReadTimeout)
	if err != nil {
		return nil, err
	}

	if b.chaos != nil && !b.chaos.IsEmpty() && !opts.DisableChaos {
		conn = WrapChaos(conn, b.chaos)
	}

	b.cache[key] = conn
	return conn, nil
}

// Forget evicts the cached connection for a, if any. Used by tests and by
// callers recovering from a connection-level failure that a fresh client
// might clear.
func (b *Broker) Forget(a arn.ARN) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.cache, a.Format())
}

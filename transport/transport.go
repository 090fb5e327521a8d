// Package transport implements the uniform send/receive/get/put/cas
// operations spec §4.3 defines over the AWS backends (and a local SQL /
// in-memory pair for tests and credential-free demos), keyed by ARN service.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get/cache lookups that find nothing.
var ErrNotFound = errors.New("transport: not found")

// ErrConditionFailed is returned by conditional writes (CAS, put-if-absent,
// put-if-fence-matches) whose precondition did not hold. Callers treat this
// as "lost the race", never as an infrastructure failure.
var ErrConditionFailed = errors.New("transport: condition failed")

// MaxDelaySeconds is the backend-imposed ceiling spec §4.3 requires queue
// sends to clamp DelaySeconds to (SQS's own limit).
const MaxDelaySeconds = 900

// Record is a single addressable document: the generic shape every
// document-store backend (DynamoDB, the local SQL store, memory) persists
// and retrieves by key. Payload carries the caller's JSON-encoded envelope
// or record body; callers interpret it.
type Record struct {
	Key       string
	Payload   []byte
	Fence     int64
	UpdatedAt time.Time
}

// Stream is the "stream" role backend (Kinesis in production): durable,
// partitioned, ordered-per-partition delivery.
type Stream interface {
	// PutRecord sends a single record, partitioned by partitionKey
	// (correlation_id, per spec §4.3).
	PutRecord(ctx context.Context, partitionKey string, payload []byte) error
	// PutRecords sends a batch in one call where the backend supports it.
	PutRecords(ctx context.Context, records map[string][]byte) error
}

// Topic is the "topic" role backend (SNS). SNS has no native batch publish,
// so PublishBatch loops over single publishes per spec §4.3's table.
type Topic interface {
	Publish(ctx context.Context, payload []byte) error
	PublishBatch(ctx context.Context, payloads [][]byte) error
}

// Queue is the "queue" role backend (SQS). DelaySeconds is clamped to
// MaxDelaySeconds by implementations before the call reaches the wire.
type Queue interface {
	SendMessage(ctx context.Context, payload []byte, delaySeconds int) error
	SendMessageBatch(ctx context.Context, entries []QueueEntry) error
}

// QueueEntry is one member of a batched SendMessageBatch call; ID is the
// per-entry identifier spec §4.3 sets to correlation_id.
type QueueEntry struct {
	ID           string
	Payload      []byte
	DelaySeconds int
}

// DocumentStore is the "document store" role backend (DynamoDB, or the
// local SQL store). It backs the checkpoint store, retry store, and the
// document dialect of the fencing lease manager.
type DocumentStore interface {
	Put(ctx context.Context, key string, payload []byte) error
	Get(ctx context.Context, key string) (Record, error)
	// PutIfAbsent fails with ErrConditionFailed if key already exists —
	// the idempotency cache's conditional-write-if-absent semantics.
	PutIfAbsent(ctx context.Context, key string, payload []byte) error
	// PutIfFenceMatches performs the document dialect's conditional
	// UPDATE: succeeds only if the stored fence equals expectFence (or the
	// key is absent and expectFence is 0), and atomically increments the
	// stored fence by one on success, returning the new fence.
	PutIfFenceMatches(ctx context.Context, key string, expectFence int64, payload []byte) (newFence int64, err error)
	// ReleaseFence performs the lease dialect's release write: succeeds
	// only if the stored fence equals expectFence, but — unlike
	// PutIfFenceMatches — leaves the stored fence unchanged, since release
	// transitions lease_state to open without claiming a new fence (spec
	// §4.7).
	ReleaseFence(ctx context.Context, key string, expectFence int64, payload []byte) error
	Delete(ctx context.Context, key string) error
}

// Scanner is implemented by document stores that can answer the retry
// sweeper's "keys starting with this partition prefix" query (spec §4.8's
// "query the partition index for run_at < now"). The memory and SQL stores
// return results in ascending key order; the DynamoDB store returns them in
// Scan order. Callers filter/sort further by their own payload schema since
// the store only knows opaque bytes.
type Scanner interface {
	ScanPrefix(ctx context.Context, prefix string, limit int) ([]Record, error)
}

// BatchWriter is implemented by document stores that can batch-write put
// requests in one call (spec §4.3's "send batch" row for document stores).
// Not every DocumentStore needs to support this; callers fall back to
// looping Put calls when a store doesn't implement it.
type BatchWriter interface {
	BatchPut(ctx context.Context, items map[string][]byte) error
}

// CacheEntry is the value half of a cache Get.
type CacheEntry struct {
	Value []byte
	Fence int64
}

// Cache is the "cache" role backend (ElastiCache memcached or Redis). It
// backs the idempotency cache and the cache dialect of the fencing lease
// manager.
type Cache interface {
	Get(ctx context.Context, key string) (CacheEntry, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetIfAbsent is memcached-style "add": fails with ErrConditionFailed
	// if key already holds a value.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// CompareAndSwap succeeds only if the stored value's opaque fence
	// token equals expectFence, a CAS primitive with no real monotonic
	// fence guarantee (spec §9's documented cache-dialect limitation).
	CompareAndSwap(ctx context.Context, key string, expectFence int64, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// MetricsSink receives the counters fsm/metrics.go maintains, in addition
// to (not instead of) the in-process Prometheus registry. transport's
// CloudWatch implementation pushes PutMetricData calls; nil is a valid
// sink that drops everything.
type MetricsSink interface {
	Increment(ctx context.Context, name string, dims map[string]string, delta float64)
}

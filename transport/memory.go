package transport

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lambdafsm/dispatcher/arn"
)

// MemoryStream is an in-memory Stream, for unit tests and local demos that
// never touch Kinesis. Thread-safe.
type MemoryStream struct {
	mu      sync.Mutex
	Records map[string][][]byte // partitionKey -> ordered payloads
}

// NewMemoryStream returns an empty MemoryStream.
func NewMemoryStream() *MemoryStream {
	return &MemoryStream{Records: map[string][][]byte{}}
}

func (s *MemoryStream) Service() arn.Service { return arn.ServiceKinesis }

func (s *MemoryStream) PutRecord(_ context.Context, partitionKey string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Records[partitionKey] = append(s.Records[partitionKey], payload)
	return nil
}

func (s *MemoryStream) PutRecords(_ context.Context, records map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range records {
		s.Records[k] = append(s.Records[k], v)
	}
	return nil
}

// MemoryTopic is an in-memory Topic.
type MemoryTopic struct {
	mu       sync.Mutex
	Messages [][]byte
}

func NewMemoryTopic() *MemoryTopic { return &MemoryTopic{} }

func (t *MemoryTopic) Service() arn.Service { return arn.ServiceSNS }

func (t *MemoryTopic) Publish(_ context.Context, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Messages = append(t.Messages, payload)
	return nil
}

func (t *MemoryTopic) PublishBatch(ctx context.Context, payloads [][]byte) error {
	for _, p := range payloads {
		if err := t.Publish(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// MemoryQueue is an in-memory Queue.
type MemoryQueue struct {
	mu       sync.Mutex
	Messages []QueueEntry
}

func NewMemoryQueue() *MemoryQueue { return &MemoryQueue{} }

func (q *MemoryQueue) Service() arn.Service { return arn.ServiceSQS }

func (q *MemoryQueue) SendMessage(_ context.Context, payload []byte, delaySeconds int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.Messages = append(q.Messages, QueueEntry{Payload: payload, DelaySeconds: clampDelay(delaySeconds)})
	return nil
}

func (q *MemoryQueue) SendMessageBatch(_ context.Context, entries []QueueEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range entries {
		e.DelaySeconds = clampDelay(e.DelaySeconds)
		q.Messages = append(q.Messages, e)
	}
	return nil
}

func clampDelay(seconds int) int {
	if seconds > MaxDelaySeconds {
		return MaxDelaySeconds
	}
	if seconds < 0 {
		return 0
	}
	return seconds
}

// MemoryDocumentStore is an in-memory DocumentStore implementing the same
// conditional-write semantics as the DynamoDB and local SQL dialects.
type MemoryDocumentStore struct {
	mu    sync.Mutex
	items map[string]Record
}

func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{items: map[string]Record{}}
}

func (d *MemoryDocumentStore) Service() arn.Service { return arn.ServiceDynamoDB }

func (d *MemoryDocumentStore) Put(_ context.Context, key string, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items[key] = Record{Key: key, Payload: payload, UpdatedAt: time.Now()}
	return nil
}

func (d *MemoryDocumentStore) Get(_ context.Context, key string) (Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.items[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (d *MemoryDocumentStore) PutIfAbsent(_ context.Context, key string, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.items[key]; ok {
		return ErrConditionFailed
	}
	d.items[key] = Record{Key: key, Payload: payload, UpdatedAt: time.Now()}
	return nil
}

func (d *MemoryDocumentStore) PutIfFenceMatches(_ context.Context, key string, expectFence int64, payload []byte) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	existing, ok := d.items[key]
	current := int64(0)
	if ok {
		current = existing.Fence
	}
	if current != expectFence {
		return 0, ErrConditionFailed
	}
	newFence := current + 1
	d.items[key] = Record{Key: key, Payload: payload, Fence: newFence, UpdatedAt: time.Now()}
	return newFence, nil
}

// ReleaseFence mirrors PutIfFenceMatches's condition check but leaves the
// stored fence unchanged on success, unlike PutIfFenceMatches.
func (d *MemoryDocumentStore) ReleaseFence(_ context.Context, key string, expectFence int64, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	existing, ok := d.items[key]
	current := int64(0)
	if ok {
		current = existing.Fence
	}
	if current != expectFence {
		return ErrConditionFailed
	}
	d.items[key] = Record{Key: key, Payload: payload, Fence: current, UpdatedAt: time.Now()}
	return nil
}

func (d *MemoryDocumentStore) ScanPrefix(_ context.Context, prefix string, limit int) ([]Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]string, 0, len(d.items))
	for k := range d.items {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		out = append(out, d.items[k])
	}
	return out, nil
}

func (d *MemoryDocumentStore) BatchPut(ctx context.Context, items map[string][]byte) error {
	for k, v := range items {
		if err := d.Put(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}

func (d *MemoryDocumentStore) Delete(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.items, key)
	return nil
}

// MemoryCache is an in-memory Cache implementing memcached-style
// add/CAS semantics without a real monotonic fence, matching the
// production cache dialect's documented limitation.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]cacheItem
}

type cacheItem struct {
	value     []byte
	fence     int64
	expiresAt time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: map[string]cacheItem{}}
}

func (c *MemoryCache) Service() arn.Service { return arn.ServiceElastiCache }

func (c *MemoryCache) get(key string) (cacheItem, bool) {
	item, ok := c.entries[key]
	if !ok {
		return cacheItem{}, false
	}
	if !item.expiresAt.IsZero() && time.Now().After(item.expiresAt) {
		delete(c.entries, key)
		return cacheItem{}, false
	}
	return item, true
}

func (c *MemoryCache) Get(_ context.Context, key string) (CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.get(key)
	if !ok {
		return CacheEntry{}, ErrNotFound
	}
	return CacheEntry{Value: item.value, Fence: item.fence}, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = c.newItem(key, value, ttl)
	return nil
}

func (c *MemoryCache) newItem(key string, value []byte, ttl time.Duration) cacheItem {
	existing, ok := c.entries[key]
	fence := int64(1)
	if ok {
		fence = existing.fence + 1
	}
	item := cacheItem{value: value, fence: fence}
	if ttl > 0 {
		item.expiresAt = time.Now().Add(ttl)
	}
	return item
}

func (c *MemoryCache) SetIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.get(key); ok {
		return ErrConditionFailed
	}
	c.entries[key] = c.newItem(key, value, ttl)
	return nil
}

func (c *MemoryCache) CompareAndSwap(_ context.Context, key string, expectFence int64, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.get(key)
	current := int64(0)
	if ok {
		current = item.fence
	}
	if current != expectFence {
		return ErrConditionFailed
	}
	c.entries[key] = c.newItem(key, value, ttl)
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

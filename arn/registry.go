package arn

import (
	"context"
	"os"
	"sync"
)

// Endpoint is the resolved connection target for an ARN: a network
// address plus, for cache ARNs, which client engine speaks to it.
type Endpoint struct {
	Address string
	Engine  CacheEngine
}

// CacheEngine disambiguates the two cache backends the lease manager and
// idempotency cache can run against.
type CacheEngine string

const (
	EngineMemcached CacheEngine = "memcached"
	EngineRedis     CacheEngine = "redis"
)

// CacheClusterDescriber abstracts the ElastiCache DescribeCacheClusters
// call so this package does not need to import the AWS SDK. transport's
// ElastiCache client implements this.
type CacheClusterDescriber interface {
	DescribeCacheCluster(ctx context.Context, clusterID string) (Endpoint, error)
}

// Registry resolves ARNs to connection parameters using the precedence
// spec §4.1 describes:
//  1. Per-ARN override map.
//  2. Per-(service, region) map.
//  3. Environment variable lookup.
//  4. Fall through to the ARN's native region.
//
// Registry is safe for concurrent reads after construction; the single
// mutable piece (the ElastiCache describe-cache cache) is guarded by its
// own mutex and populated lazily, exactly the "process-local singleton"
// pattern spec §9 calls for.
type Registry struct {
	// PerARN overrides connection parameters for one exact ARN string.
	PerARN map[string]string
	// PerServiceRegion overrides for a (service, region) pair.
	PerServiceRegion map[string]map[Service]string
	// EnvLookup maps a service to the environment variable name holding
	// its endpoint override, e.g. ServiceSQS -> "SQS_ENDPOINT".
	EnvLookup map[Service]string

	// ElastiCacheEndpoints is the explicit per-ARN override
	// (ELASTICACHE_ENDPOINTS in spec §4.1), checked before any API call.
	ElastiCacheEndpoints map[string]Endpoint
	// LegacyMemcachedEndpoints is the fallback static memcached-only map
	// consulted before resorting to a DescribeCacheClusters call.
	LegacyMemcachedEndpoints map[string]string
	// Describer performs the DescribeCacheClusters API call when neither
	// static map has an entry. May be nil in tests that never reach it.
	Describer CacheClusterDescriber

	mu            sync.RWMutex
	describeCache map[string]Endpoint
}

// NewRegistry returns an empty Registry ready for field population.
func NewRegistry() *Registry {
	return &Registry{
		PerARN:                   map[string]string{},
		PerServiceRegion:         map[string]map[Service]string{},
		EnvLookup:                map[Service]string{},
		ElastiCacheEndpoints:     map[string]Endpoint{},
		LegacyMemcachedEndpoints: map[string]string{},
		describeCache:            map[string]Endpoint{},
	}
}

// Resolve returns the connection parameter (a DSN, URL, or bare endpoint
// string depending on the service) for a. A cache miss at every precedence
// level falls through to a's own region, never returning an error — callers
// treat an empty string as "no connection available" and skip the
// operation (spec §4.4).
func (r *Registry) Resolve(a ARN) string {
	if v, ok := r.PerARN[a.Format()]; ok && v != "" {
		return v
	}
	if byService, ok := r.PerServiceRegion[a.Region]; ok {
		if v, ok := byService[a.Service]; ok && v != "" {
			return v
		}
	}
	if envVar, ok := r.EnvLookup[a.Service]; ok {
		if v := os.Getenv(envVar); v != "" {
			return v
		}
	}
	return a.Region
}

// ResolveCache disambiguates engine and endpoint for a cache-service ARN,
// following spec §4.1's cache-specific precedence. A returned ok=false
// means "no endpoint" — the caller treats the backend as unavailable, not
// as an error.
func (r *Registry) ResolveCache(ctx context.Context, a ARN) (Endpoint, bool) {
	key := a.Format()

	if ep, ok := r.ElastiCacheEndpoints[key]; ok {
		return ep, true
	}
	if addr, ok := r.LegacyMemcachedEndpoints[key]; ok {
		return Endpoint{Address: addr, Engine: EngineMemcached}, true
	}

	r.mu.RLock()
	if ep, ok := r.describeCache[key]; ok {
		r.mu.RUnlock()
		return ep, true
	}
	r.mu.RUnlock()

	if r.Describer == nil {
		return Endpoint{}, false
	}

	ep, err := r.Describer.DescribeCacheCluster(ctx, a.LastSlashSegment())
	if err != nil {
		return Endpoint{}, false
	}

	r.mu.Lock()
	r.describeCache[key] = ep
	r.mu.Unlock()
	return ep, true
}

package transport

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/lambdafsm/dispatcher/arn"
	"github.com/lambdafsm/dispatcher/broker"
)

// redisFenceField is stored alongside the value in a Redis hash so
// CompareAndSwap can WATCH/MULTI/EXEC against a per-key fence. The lease
// package's Redis dialect does not use this hash; it keeps plain string
// values and its own INCR counter key.
const redisFenceField = "fence"
const redisValueField = "value"

// RedisCache is the "cache" role Cache backed by Redis, used when
// arn.Registry.ResolveCache reports engine=redis. It backs both the
// idempotency cache and the Redis dialect of the fencing lease manager.
type RedisCache struct {
	client *redis.Client
}

// RedisCacheFactory returns a broker.Factory that resolves a's endpoint
// through registry before dialing, so the broker's ARN-keyed cache still
// works for the cache role even though Redis needs a live connection
// rather than a bare endpoint string.
func RedisCacheFactory(registry *arn.Registry) broker.Factory {
	return func(ctx context.Context, a arn.ARN, connectTimeout, readTimeout time.Duration) (broker.Conn, error) {
		endpoint, ok := registry.ResolveCache(ctx, a)
		if !ok {
			return nil, ErrNotFound
		}
		client := redis.NewClient(&redis.Options{
			Addr:        endpoint.Address,
			DialTimeout: connectTimeout,
			ReadTimeout: readTimeout,
		})
		return &RedisCache{client: client}, nil
	}
}

func (c *RedisCache) Service() arn.Service { return arn.ServiceElastiCache }

// Client exposes the underlying go-redis client for the lease package's
// Redis dialect, which needs WATCH/MULTI/EXEC directly rather than through
// the Cache interface's CAS abstraction.
func (c *RedisCache) Client() *redis.Client { return c.client }

func (c *RedisCache) Get(ctx context.Context, key string) (CacheEntry, error) {
	res, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return CacheEntry{}, err
	}
	if len(res) == 0 {
		return CacheEntry{}, ErrNotFound
	}
	fence, _ := strconv.ParseInt(res[redisFenceField], 10, 64)
	return CacheEntry{Value: []byte(res[redisValueField]), Fence: fence}, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.HSet(ctx, key, redisValueField, value, redisFenceField, 1).Err(); err != nil {
		return err
	}
	return c.expire(ctx, key, ttl)
}

func (c *RedisCache) expire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return c.client.Expire(ctx, key, ttl).Err()
}

func (c *RedisCache) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	set, err := c.client.SetNX(ctx, key+":lock", "1", ttl).Result()
	if err != nil {
		return err
	}
	if !set {
		return ErrConditionFailed
	}
	return c.Set(ctx, key, value, ttl)
}

// CompareAndSwap runs a WATCH/MULTI/EXEC transaction against key's fence
// field. (The lease package's Redis dialect runs its own WATCH/MULTI/EXEC
// through Client() rather than calling this.) Returning
// ErrConditionFailed on redis.TxFailedErr mirrors the cache dialect's
// "contended" outcome.
func (c *RedisCache) CompareAndSwap(ctx context.Context, key string, expectFence int64, value []byte, ttl time.Duration) error {
	txf := func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, redisFenceField).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if current != expectFence {
			return ErrConditionFailed
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, redisValueField, value, redisFenceField, expectFence+1)
			if ttl > 0 {
				pipe.Expire(ctx, key, ttl)
			}
			return nil
		})
		return err
	}

	err := c.client.Watch(ctx, txf, key)
	if err == redis.TxFailedErr {
		return ErrConditionFailed
	}
	return err
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// Package redis wraps a go-redis client in a TTL-aware cache storing
// msgpack-encoded values.
package redis

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/marshaler"
	libstore "github.com/eko/gocache/lib/v4/store"
	redisstore "github.com/eko/gocache/store/redis/v4"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/imilosk/blobstore/configuration"
)

// NewClient returns a client for the server described by cfg.
func NewClient(cfg configuration.Redis) redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Cache stores values in Redis with a TTL.
type Cache struct {
	cache      *gocache.Cache[any]
	marshaler  *marshaler.Marshaler
	defaultTTL time.Duration
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithDefaultTTL sets the expiration of keys stored without WithTTL.
func WithDefaultTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		c.defaultTTL = ttl
	}
}

// SetOption configures a single MarshalSet call.
type SetOption func(*setOptions)

type setOptions struct {
	ttl time.Duration
}

// WithTTL overrides the default TTL of an entry.
func WithTTL(ttl time.Duration) SetOption {
	return func(o *setOptions) {
		o.ttl = ttl
	}
}

// NewCache returns a Cache on top of client.
func NewCache(client redis.UniversalClient, opts ...CacheOption) *Cache {
	c := new(Cache)
	for _, opt := range opts {
		opt(c)
	}

	redisStore := redisstore.NewRedis(client, libstore.WithExpiration(c.defaultTTL))
	c.cache = gocache.New[any](redisStore)
	c.marshaler = marshaler.New(c.cache)

	return c
}

// GetWithTTL returns the raw value stored at key and its remaining TTL.
func (c *Cache) GetWithTTL(ctx context.Context, key string) (string, time.Duration, error) {
	value, ttl, err := c.cache.GetWithTTL(ctx, key)
	if err != nil {
		return "", 0, err
	}
	v, ok := value.(string)
	if !ok {
		return "", 0, fmt.Errorf("invalid key value type %T", value)
	}

	return v, ttl, nil
}

// UnmarshalGet decodes the value stored at key into object. A missing key
// returns redis.Nil.
func (c *Cache) UnmarshalGet(ctx context.Context, key string, object any) error {
	_, err := c.marshaler.Get(ctx, key, object)
	return err
}

// UnmarshalGetWithTTL is like UnmarshalGet and also returns the remaining
// TTL of the key.
func (c *Cache) UnmarshalGetWithTTL(ctx context.Context, key string, object any) (time.Duration, error) {
	value, ttl, err := c.cache.GetWithTTL(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to get key from cache: %w", err)
	}

	switch v := value.(type) {
	case []byte:
		err = msgpack.Unmarshal(v, object)
	case string:
		err = msgpack.Unmarshal([]byte(v), object)
	default:
		err = fmt.Errorf("unexpected key value type: %T", v)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to unmarshal key value: %w", err)
	}

	return ttl, nil
}

// MarshalSet encodes object and stores it at key.
func (c *Cache) MarshalSet(ctx context.Context, key string, object any, opts ...SetOption) error {
	options := setOptions{
		ttl: c.defaultTTL,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return c.marshaler.Set(ctx, key, object, libstore.WithExpiration(options.ttl))
}

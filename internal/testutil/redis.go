// Package testutil provides shared helpers for tests.
package testutil

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"

	iredis "github.com/imilosk/blobstore/internal/redis"
)

// RedisServer starts a new miniredis server and registers its cleanup after the test is done.
func RedisServer(tb testing.TB) *miniredis.Miniredis {
	tb.Helper()

	return miniredis.RunT(tb)
}

func redisClient(tb testing.TB, srv *miniredis.Miniredis) redis.UniversalClient {
	tb.Helper()

	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	tb.Cleanup(func() { _ = client.Close() })
	return client
}

// RedisCache creates a cache backed by a new miniredis server. A global TTL for cached objects can be specified
// (defaults to no TTL).
func RedisCache(tb testing.TB, ttl time.Duration) *iredis.Cache {
	tb.Helper()

	return iredis.NewCache(redisClient(tb, RedisServer(tb)), iredis.WithDefaultTTL(ttl))
}

// RedisCacheMock is similar to RedisCache but uses a redismock client.
func RedisCacheMock(tb testing.TB, ttl time.Duration) (*iredis.Cache, redismock.ClientMock) {
	tb.Helper()

	client, mock := redismock.NewClientMock()
	return iredis.NewCache(client, iredis.WithDefaultTTL(ttl)), mock
}

// RedisCacheController bundles a cache with the server behind it, so tests can manipulate time and keys.
type RedisCacheController struct {
	*iredis.Cache
	*miniredis.Miniredis
}

// NewRedisCacheController creates a cache and exposes its miniredis server.
func NewRedisCacheController(tb testing.TB, ttl time.Duration) RedisCacheController {
	tb.Helper()

	srv := RedisServer(tb)
	return RedisCacheController{
		Cache:     iredis.NewCache(redisClient(tb, srv), iredis.WithDefaultTTL(ttl)),
		Miniredis: srv,
	}
}

// Package urlcache caches presigned shared file URIs in Redis.
package urlcache

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"

	"github.com/imilosk/blobstore/configuration"
	iredis "github.com/imilosk/blobstore/internal/redis"
	"github.com/imilosk/blobstore/log"
	"github.com/imilosk/blobstore/storage"
	"github.com/imilosk/blobstore/storage/internal/metrics"
)

// cacheOpTimeout bounds every Redis operation.
const cacheOpTimeout = 500 * time.Millisecond

// defaultMinURLValidity is the minimum time a URI must remain valid to be
// served from cache.
const defaultMinURLValidity = 10 * time.Minute

// Storage decorates a storage.BlobStorage, serving SharedFileURI from Redis
// while the cached URI remains valid for at least the minimum validity.
// Every other operation goes straight to the wrapped backend.
type Storage struct {
	storage.BlobStorage
	cache          *iredis.Cache
	dryRun         bool
	minURLValidity time.Duration
	urlValidity    time.Duration
}

var _ storage.BlobStorage = (*Storage)(nil)

// CacheEntry is the cached form of a presigned URI.
type CacheEntry struct {
	URI string
}

// for testing purposes
var systemClock clock.Clock = clock.New()

// New wraps backend. urlValidity is the expiry backend applies to the URIs
// it presigns.
func New(backend storage.BlobStorage, cache *iredis.Cache, cfg configuration.URLCache, urlValidity time.Duration) (*Storage, error) {
	if cache == nil {
		return nil, errors.New("urlcache: redis cache is required")
	}

	minURLValidity := cfg.MinURLValidity
	if minURLValidity == 0 {
		minURLValidity = defaultMinURLValidity
	}
	if minURLValidity >= urlValidity {
		return nil, fmt.Errorf("urlcache: min URL validity (%v) must be less than the URL validity (%v)", minURLValidity, urlValidity)
	}

	return &Storage{
		BlobStorage:    backend,
		cache:          cache,
		dryRun:         cfg.DryRun,
		minURLValidity: minURLValidity,
		urlValidity:    urlValidity,
	}, nil
}

// entryKey derives the Redis key of a URI. The full sha256 sum is used, a
// collision would hand out a URI for another object.
func entryKey(bucket, key, contentType string) string {
	h := sha256.New()
	_, _ = fmt.Fprintf(h, "%s\x00%s\x00%s", bucket, key, contentType)
	return fmt.Sprintf("blobstore:storage:urlcache:%x", h.Sum(nil))
}

func (*Storage) logger(ctx context.Context) log.Logger {
	return log.GetLogger(ctx).WithField("component", "storage.urlcache")
}

// SharedFileURI returns a cached URI for bucket/key served as contentType,
// presigning and caching a new one on a miss.
func (s *Storage) SharedFileURI(ctx context.Context, bucket, key, contentType string) (storage.SharedFileURIResult, error) {
	l := s.logger(ctx).WithFields(log.Fields{"bucket": bucket, "key": key})

	cacheKey := entryKey(bucket, key, contentType)
	entry := new(CacheEntry)

	getCtx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	err := s.cache.UnmarshalGet(getCtx, cacheKey, entry)
	if err == nil {
		l.Debug("shared file URI cache hit")
		metrics.URLCacheRequest(true, "")

		if s.dryRun {
			return s.BlobStorage.SharedFileURI(ctx, bucket, key, contentType)
		}
		return storage.SharedFileURIResult{Success: true, PresignedURI: entry.URI}, nil
	}
	if !errors.Is(err, redis.Nil) {
		l.WithError(err).Info("fetching shared file URI entry from Redis")
		metrics.URLCacheRequest(false, "error")

		return s.BlobStorage.SharedFileURI(ctx, bucket, key, contentType)
	}

	l.Debug("shared file URI cache miss")
	metrics.URLCacheRequest(false, "not_found")

	expiresAt := systemClock.Now().Add(s.urlValidity)

	result, err := s.BlobStorage.SharedFileURI(ctx, bucket, key, contentType)
	if err != nil || !result.Success {
		return result, err
	}

	remainingValidity := expiresAt.Sub(systemClock.Now())
	if remainingValidity <= s.minURLValidity {
		l.WithFields(log.Fields{
			"remaining_validity": remainingValidity.String(),
			"min_validity":       s.minURLValidity.String(),
		}).Error("presigned URI expires before the minimum URL validity")
		return result, nil
	}

	setCtx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	entry = &CacheEntry{URI: result.PresignedURI}
	if err := s.cache.MarshalSet(setCtx, cacheKey, entry, iredis.WithTTL(remainingValidity-s.minURLValidity)); err != nil {
		l.WithError(err).Info("storing shared file URI entry in Redis")
	}

	return result, nil
}

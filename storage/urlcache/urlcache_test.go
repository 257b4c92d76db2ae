package urlcache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/imilosk/blobstore/configuration"
	"github.com/imilosk/blobstore/internal/testutil"
	"github.com/imilosk/blobstore/storage"
	"github.com/imilosk/blobstore/storage/mocks"
)

const (
	testBucket      = "bucket"
	testKey         = "path/to/object.pdf"
	testContentType = "application/pdf"
	testURI         = "https://bucket.s3.amazonaws.com/path/to/object.pdf?X-Amz-Signature=abc"
	testValidity    = time.Hour
)

func TestNew(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockBlobStorage(ctrl)

	testCases := []struct {
		name        string
		cacheNil    bool
		cfg         configuration.URLCache
		validity    time.Duration
		errContains string
		validate    func(t *testing.T, s *Storage)
	}{
		{
			name:        "missing redis cache",
			cacheNil:    true,
			validity:    testValidity,
			errContains: "redis cache is required",
		},
		{
			name:     "defaults",
			validity: testValidity,
			validate: func(t *testing.T, s *Storage) {
				assert.Equal(t, defaultMinURLValidity, s.minURLValidity)
				assert.Equal(t, testValidity, s.urlValidity)
				assert.False(t, s.dryRun)
			},
		},
		{
			name:     "custom min validity and dry run",
			cfg:      configuration.URLCache{MinURLValidity: 5 * time.Minute, DryRun: true},
			validity: testValidity,
			validate: func(t *testing.T, s *Storage) {
				assert.Equal(t, 5*time.Minute, s.minURLValidity)
				assert.True(t, s.dryRun)
			},
		},
		{
			name:        "min validity not below url validity",
			cfg:         configuration.URLCache{MinURLValidity: 2 * time.Hour},
			validity:    testValidity,
			errContains: "must be less than the URL validity",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cache := testutil.RedisCache(t, 0)
			if tc.cacheNil {
				cache = nil
			}

			s, err := New(backend, cache, tc.cfg, tc.validity)
			if tc.errContains != "" {
				require.ErrorContains(t, err, tc.errContains)
				return
			}
			require.NoError(t, err)
			tc.validate(t, s)
		})
	}
}

type SharedFileURISuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	ctx     context.Context
	clock   *clock.Mock
	now     time.Time
	backend *mocks.MockBlobStorage
	restore clock.Clock
}

func TestSharedFileURISuite(t *testing.T) {
	suite.Run(t, new(SharedFileURISuite))
}

func (s *SharedFileURISuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.ctx = testutil.NewContextWithLogger(s.T())
	s.backend = mocks.NewMockBlobStorage(s.ctrl)

	s.now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.clock = clock.NewMock()
	s.clock.Set(s.now)

	s.restore = systemClock
	systemClock = s.clock
}

func (s *SharedFileURISuite) TearDownTest() {
	systemClock = s.restore
}

func (s *SharedFileURISuite) newStorage(cfg configuration.URLCache) (*Storage, testutil.RedisCacheController) {
	cache := testutil.NewRedisCacheController(s.T(), 0)
	uc, err := New(s.backend, cache.Cache, cfg, testValidity)
	require.NoError(s.T(), err)
	return uc, cache
}

func (s *SharedFileURISuite) TestCacheMissThenHit() {
	s.backend.EXPECT().SharedFileURI(gomock.Any(), testBucket, testKey, testContentType).
		Return(storage.SharedFileURIResult{Success: true, PresignedURI: testURI}, nil).
		Times(1)

	uc, cache := s.newStorage(configuration.URLCache{})

	result, err := uc.SharedFileURI(s.ctx, testBucket, testKey, testContentType)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), storage.SharedFileURIResult{Success: true, PresignedURI: testURI}, result)

	cacheKey := entryKey(testBucket, testKey, testContentType)
	assert.Equal(s.T(), testValidity-defaultMinURLValidity, cache.TTL(cacheKey))

	result, err = uc.SharedFileURI(s.ctx, testBucket, testKey, testContentType)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), storage.SharedFileURIResult{Success: true, PresignedURI: testURI}, result)
}

func (s *SharedFileURISuite) TestCacheExpiresBeforeURI() {
	s.backend.EXPECT().SharedFileURI(gomock.Any(), testBucket, testKey, testContentType).
		Return(storage.SharedFileURIResult{Success: true, PresignedURI: testURI}, nil).
		Times(2)

	uc, cache := s.newStorage(configuration.URLCache{})

	_, err := uc.SharedFileURI(s.ctx, testBucket, testKey, testContentType)
	require.NoError(s.T(), err)

	cache.FastForward(testValidity - defaultMinURLValidity + time.Second)

	_, err = uc.SharedFileURI(s.ctx, testBucket, testKey, testContentType)
	require.NoError(s.T(), err)
}

func (s *SharedFileURISuite) TestContentTypeIsPartOfKey() {
	s.backend.EXPECT().SharedFileURI(gomock.Any(), testBucket, testKey, testContentType).
		Return(storage.SharedFileURIResult{Success: true, PresignedURI: testURI}, nil).
		Times(1)
	s.backend.EXPECT().SharedFileURI(gomock.Any(), testBucket, testKey, "text/plain").
		Return(storage.SharedFileURIResult{Success: true, PresignedURI: testURI + "&plain"}, nil).
		Times(1)

	uc, _ := s.newStorage(configuration.URLCache{})

	pdf, err := uc.SharedFileURI(s.ctx, testBucket, testKey, testContentType)
	require.NoError(s.T(), err)
	plain, err := uc.SharedFileURI(s.ctx, testBucket, testKey, "text/plain")
	require.NoError(s.T(), err)

	assert.NotEqual(s.T(), pdf.PresignedURI, plain.PresignedURI)
}

func (s *SharedFileURISuite) TestDryRun() {
	s.backend.EXPECT().SharedFileURI(gomock.Any(), testBucket, testKey, testContentType).
		Return(storage.SharedFileURIResult{Success: true, PresignedURI: testURI}, nil).
		Times(2)

	uc, _ := s.newStorage(configuration.URLCache{DryRun: true})

	for i := 0; i < 2; i++ {
		result, err := uc.SharedFileURI(s.ctx, testBucket, testKey, testContentType)
		require.NoError(s.T(), err)
		assert.Equal(s.T(), testURI, result.PresignedURI)
	}
}

func (s *SharedFileURISuite) TestFailedResultNotCached() {
	s.backend.EXPECT().SharedFileURI(gomock.Any(), testBucket, testKey, testContentType).
		Return(storage.SharedFileURIFailed, nil).
		Times(2)

	uc, cache := s.newStorage(configuration.URLCache{})

	for i := 0; i < 2; i++ {
		result, err := uc.SharedFileURI(s.ctx, testBucket, testKey, testContentType)
		require.NoError(s.T(), err)
		assert.Equal(s.T(), storage.SharedFileURIFailed, result)
	}

	assert.False(s.T(), cache.Exists(entryKey(testBucket, testKey, testContentType)))
}

func (s *SharedFileURISuite) TestBackendError() {
	s.backend.EXPECT().SharedFileURI(gomock.Any(), testBucket, testKey, testContentType).
		Return(storage.SharedFileURIFailed, errors.New("boom"))

	uc, _ := s.newStorage(configuration.URLCache{})

	_, err := uc.SharedFileURI(s.ctx, testBucket, testKey, testContentType)
	require.EqualError(s.T(), err, "boom")
}

func (s *SharedFileURISuite) TestRedisGetError() {
	s.backend.EXPECT().SharedFileURI(gomock.Any(), testBucket, testKey, testContentType).
		Return(storage.SharedFileURIResult{Success: true, PresignedURI: testURI}, nil).
		Times(1)

	redisCache, redisMock := testutil.RedisCacheMock(s.T(), 0)
	uc, err := New(s.backend, redisCache, configuration.URLCache{}, testValidity)
	require.NoError(s.T(), err)

	redisMock.ExpectGet(entryKey(testBucket, testKey, testContentType)).SetErr(fmt.Errorf("foo error"))

	result, err := uc.SharedFileURI(s.ctx, testBucket, testKey, testContentType)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), testURI, result.PresignedURI)

	require.NoError(s.T(), redisMock.ExpectationsWereMet())
}

func (s *SharedFileURISuite) TestRedisSetError() {
	s.backend.EXPECT().SharedFileURI(gomock.Any(), testBucket, testKey, testContentType).
		Return(storage.SharedFileURIResult{Success: true, PresignedURI: testURI}, nil).
		Times(1)

	redisCache, redisMock := testutil.RedisCacheMock(s.T(), 0)
	uc, err := New(s.backend, redisCache, configuration.URLCache{}, testValidity)
	require.NoError(s.T(), err)

	key := entryKey(testBucket, testKey, testContentType)
	redisMock.ExpectGet(key).RedisNil()
	redisMock.CustomMatch(func(_, actual []any) error {
		if actual[1] != key {
			return errors.New("key does not match")
		}
		return nil
	}).ExpectSet(key, "", testValidity-defaultMinURLValidity).SetErr(fmt.Errorf("foo error"))

	result, err := uc.SharedFileURI(s.ctx, testBucket, testKey, testContentType)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), testURI, result.PresignedURI)

	require.NoError(s.T(), redisMock.ExpectationsWereMet())
}

func (s *SharedFileURISuite) TestOtherOperationsPassThrough() {
	req := storage.NewDownloadRequest(storage.NewAddress(testBucket, testKey))
	meta := storage.ObjectMetadata{ETag: "abc", ObjectName: testKey, Size: 3, VersionID: storage.EmptyVersionID}
	s.backend.EXPECT().ObjectMetadata(gomock.Any(), req).Return(meta, nil)
	s.backend.EXPECT().CreateBucketIfNotExists(gomock.Any(), testBucket).Return(nil)

	uc, _ := s.newStorage(configuration.URLCache{})

	got, err := uc.ObjectMetadata(s.ctx, req)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), meta, got)
	require.NoError(s.T(), uc.CreateBucketIfNotExists(s.ctx, testBucket))
}

func TestEntryKey(t *testing.T) {
	a := entryKey("bucket", "a/b", "text/plain")
	require.Equal(t, a, entryKey("bucket", "a/b", "text/plain"))
	require.NotEqual(t, a, entryKey("bucket", "a/b", "text/html"))
	require.NotEqual(t, a, entryKey("bucketa", "/b", "text/plain"))
	require.Contains(t, a, "blobstore:storage:urlcache:")
}

func TestRedisNilIsMiss(t *testing.T) {
	cache := testutil.RedisCache(t, 0)
	var entry CacheEntry
	require.ErrorIs(t, cache.UnmarshalGet(context.Background(), "missing", &entry), redis.Nil)
}

package s3

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/imilosk/blobstore/configuration"
	"github.com/imilosk/blobstore/internal/feature"
	"github.com/imilosk/blobstore/internal/testutil"
	"github.com/imilosk/blobstore/storage"
)

const (
	testBucket    = "test-bucket"
	testRegion    = "us-east-1"
	fakeAccessKey = "minioadmin"
	fakeSecretKey = "minioadmin-secret"
)

type StorageSuite struct {
	suite.Suite

	ctx      context.Context
	fake     *testutil.FakeS3
	settings configuration.BlobStorage
	storage  *Storage
}

func TestStorageSuite(t *testing.T) {
	suite.Run(t, new(StorageSuite))
}

func (s *StorageSuite) SetupTest() {
	s.fake = testutil.NewFakeS3(s.T(), fakeAccessKey, fakeSecretKey, testRegion)
	s.fake.AddBucket(testBucket)

	s.ctx = testutil.NewContextWithLogger(s.T())
	s.settings = configuration.BlobStorage{
		Endpoint:        s.fake.Endpoint(),
		AccessKeyID:     fakeAccessKey,
		SecretAccessKey: fakeSecretKey,
		PresignExpiry:   2 * time.Hour,
	}

	clk := clock.NewMock()
	clk.Set(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	st, err := New(s.settings,
		WithClock(clk),
		WithDoer(NewExecutor(configuration.HTTP{Timeout: 5 * time.Second, MaxRetries: 1, Backoff: time.Millisecond})),
	)
	s.Require().NoError(err)
	s.storage = st
}

func (s *StorageSuite) TestOpenDownload() {
	obj := s.fake.AddObject(testBucket, "dir/a b+c.txt", "text/plain", []byte("hello world"))

	addr := storage.NewAddress(testBucket, "dir/a b+c.txt")
	result, err := s.storage.OpenDownload(s.ctx, storage.NewDownloadRequest(addr))
	s.Require().NoError(err)
	s.Require().True(result.Success)
	defer result.Body.Close()

	body, err := io.ReadAll(result.Body)
	s.Require().NoError(err)
	s.Equal("hello world", string(body))

	s.Equal(storage.ObjectMetadata{
		ETag:       obj.ETag,
		ObjectName: "dir/a b+c.txt",
		Size:       11,
		VersionID:  storage.EmptyVersionID,
	}, result.Metadata)
	s.Equal(1, s.fake.Verified())
}

func (s *StorageSuite) TestOpenDownload_Versioned() {
	s.Require().NoError(s.storage.EnableBucketVersioning(s.ctx, testBucket))
	first := s.fake.AddObject(testBucket, "key", "text/plain", []byte("first"))
	s.fake.AddObject(testBucket, "key", "text/plain", []byte("second"))

	addr := storage.NewAddress(testBucket, "key")

	latest, err := s.storage.OpenDownload(s.ctx, storage.NewDownloadRequest(addr))
	s.Require().NoError(err)
	defer latest.Body.Close()
	s.Equal("v2", latest.Metadata.VersionID.String())

	// Only the latest version is kept by the fake.
	result, err := s.storage.OpenDownload(s.ctx, storage.NewVersionedDownloadRequest(addr, storage.NewVersionID(first.VersionID)))
	s.Require().Error(err)
	s.Equal(storage.DownloadFailed, result)
	s.ErrorIs(err, storage.ErrObjectNotFound)
}

func (s *StorageSuite) TestOpenDownload_NotFound() {
	result, err := s.storage.OpenDownload(s.ctx, storage.NewDownloadRequest(storage.NewAddress(testBucket, "missing")))
	s.Require().Error(err)
	s.Equal(storage.DownloadFailed, result)
	s.ErrorIs(err, storage.ErrObjectNotFound)

	var statusErr *StatusError
	s.Require().ErrorAs(err, &statusErr)
	s.Equal(404, statusErr.StatusCode)
}

func (s *StorageSuite) TestOpenDownload_WrongCredentials() {
	s.storage.settings.SecretAccessKey = "wrong"

	result, err := s.storage.OpenDownload(s.ctx, storage.NewDownloadRequest(storage.NewAddress(testBucket, "missing")))
	s.Require().Error(err)
	s.Equal(storage.DownloadFailed, result)
	s.NotErrorIs(err, storage.ErrObjectNotFound)

	var statusErr *StatusError
	s.Require().ErrorAs(err, &statusErr)
	s.Equal(403, statusErr.StatusCode)
}

func (s *StorageSuite) TestDownload() {
	s.fake.AddObject(testBucket, "path/to/object", "text/plain", []byte("content"))

	rc, err := s.storage.Download(s.ctx, "s3://"+testBucket+"/path/to/object", storage.EmptyVersionID)
	s.Require().NoError(err)
	defer rc.Close()

	body, err := io.ReadAll(rc)
	s.Require().NoError(err)
	s.Equal("content", string(body))

	_, err = s.storage.Download(s.ctx, "https://example.com/x", storage.EmptyVersionID)
	s.ErrorIs(err, storage.ErrInvalidAddress)
}

func (s *StorageSuite) TestDownloadObject() {
	s.fake.AddObject(testBucket, "key", "text/plain", []byte("content"))

	rc, err := s.storage.DownloadObject(s.ctx, testBucket, "key", storage.EmptyVersionID)
	s.Require().NoError(err)
	defer rc.Close()

	body, err := io.ReadAll(rc)
	s.Require().NoError(err)
	s.Equal("content", string(body))

	_, err = s.storage.DownloadObject(s.ctx, testBucket, "missing", storage.EmptyVersionID)
	s.ErrorIs(err, storage.ErrObjectNotFound)
}

func (s *StorageSuite) TestObjectMetadata() {
	obj := s.fake.AddObject(testBucket, "key", "application/pdf", []byte("12345"))

	meta, err := s.storage.ObjectMetadata(s.ctx, storage.NewDownloadRequest(storage.NewAddress(testBucket, "key")))
	s.Require().NoError(err)
	s.Equal(storage.ObjectMetadata{
		ETag:       obj.ETag,
		ObjectName: "key",
		Size:       5,
		VersionID:  storage.EmptyVersionID,
	}, meta)
}

func (s *StorageSuite) TestObjectMetadata_NotFound() {
	meta, err := s.storage.ObjectMetadata(s.ctx, storage.NewDownloadRequest(storage.NewAddress(testBucket, "missing")))
	s.ErrorIs(err, storage.ErrObjectNotFound)
	s.Equal(storage.EmptyObjectMetadata, meta)
}

func (s *StorageSuite) TestUploadStream() {
	data := "streamed content"

	result, err := s.storage.UploadStream(s.ctx, testBucket, "stream.txt", "text/plain", strings.NewReader(data), int64(len(data)))
	s.Require().NoError(err)
	s.True(result.Success)
	s.Equal("stream.txt", result.ObjectName)
	s.EqualValues(len(data), result.Size)

	obj, ok := s.fake.Object(testBucket, "stream.txt")
	s.Require().True(ok)
	s.Equal(obj.ETag, result.ETag)
	s.Equal("text/plain", obj.ContentType)
}

func (s *StorageSuite) TestUploadStream_MissingBucket() {
	result, err := s.storage.UploadStream(s.ctx, "missing-bucket", "key", "text/plain", strings.NewReader("x"), 1)
	s.Require().NoError(err)
	s.Equal(storage.UploadFailed, result)
}

func (s *StorageSuite) TestUploadStream_NoETag() {
	s.fake.OmitETag("key")

	result, _ := s.storage.UploadStream(s.ctx, testBucket, "key", "text/plain", strings.NewReader("x"), 1)
	s.Equal(storage.UploadFailed, result)
}

func (s *StorageSuite) TestUploadStream_NoETagAccepted() {
	s.T().Setenv(feature.RequireUploadETag.EnvVariable, "false")
	s.fake.OmitETag("key")

	result, err := s.storage.UploadStream(s.ctx, testBucket, "key", "text/plain", strings.NewReader("x"), 1)
	s.Require().NoError(err)
	s.True(result.Success)
	s.EqualValues(1, result.Size)
	s.Empty(result.ETag)
}

func (s *StorageSuite) TestUploadFile() {
	path := filepath.Join(s.T().TempDir(), "report.pdf")
	s.Require().NoError(os.WriteFile(path, []byte("%PDF-1.7"), 0o600))

	result, err := s.storage.UploadFile(s.ctx, testBucket, "reports/report.pdf", "application/pdf", path)
	s.Require().NoError(err)
	s.True(result.Success)
	s.EqualValues(8, result.Size)
	s.NotEmpty(result.ETag)

	obj, ok := s.fake.Object(testBucket, "reports/report.pdf")
	s.Require().True(ok)
	s.Equal("application/pdf", obj.ContentType)
}

func (s *StorageSuite) TestUploadFile_Empty() {
	path := filepath.Join(s.T().TempDir(), "empty")
	s.Require().NoError(os.WriteFile(path, nil, 0o600))

	result, err := s.storage.UploadFile(s.ctx, testBucket, "empty", "text/plain", path)
	s.Require().NoError(err)
	s.Equal(storage.UploadFailed, result)
}

func (s *StorageSuite) TestUploadFile_MissingBucket() {
	path := filepath.Join(s.T().TempDir(), "file")
	s.Require().NoError(os.WriteFile(path, []byte("x"), 0o600))

	result, err := s.storage.UploadFile(s.ctx, "missing-bucket", "key", "text/plain", path)
	s.Require().NoError(err)
	s.Equal(storage.UploadFailed, result)
}

func (s *StorageSuite) TestUploadFile_MissingFile() {
	result, err := s.storage.UploadFile(s.ctx, testBucket, "key", "text/plain", filepath.Join(s.T().TempDir(), "missing"))
	s.Require().Error(err)
	s.Equal(storage.UploadFailed, result)
}

func (s *StorageSuite) TestSharedFileURI() {
	result, err := s.storage.SharedFileURI(s.ctx, testBucket, "report.pdf", "application/pdf")
	s.Require().NoError(err)
	s.Require().True(result.Success)

	u, err := url.Parse(result.PresignedURI)
	s.Require().NoError(err)
	s.Equal("/"+testBucket+"/report.pdf", u.Path)

	q := u.Query()
	s.Equal("application/pdf", q.Get("response-content-type"))
	s.Equal("7200", q.Get("X-Amz-Expires"))
	s.Equal("AWS4-HMAC-SHA256", q.Get("X-Amz-Algorithm"))
	s.NotEmpty(q.Get("X-Amz-Signature"))
}

func (s *StorageSuite) TestSharedFileURI_NoContentType() {
	result, err := s.storage.SharedFileURI(s.ctx, testBucket, "report.pdf", "")
	s.Require().NoError(err)
	s.Require().True(result.Success)
	s.NotContains(result.PresignedURI, "response-content-type")
}

func (s *StorageSuite) TestSharedFileURI_MissingBucket() {
	result, err := s.storage.SharedFileURI(s.ctx, "missing-bucket", "key", "text/plain")
	s.Require().NoError(err)
	s.Equal(storage.SharedFileURIFailed, result)
}

func (s *StorageSuite) TestCreateBucketIfNotExists() {
	s.Require().NoError(s.storage.CreateBucketIfNotExists(s.ctx, "new-bucket"))

	exists, err := s.storage.bucketExists(s.ctx, "new-bucket")
	s.Require().NoError(err)
	s.True(exists)

	// Existing buckets are left alone.
	s.Require().NoError(s.storage.CreateBucketIfNotExists(s.ctx, "new-bucket"))
}

func (s *StorageSuite) TestEnableBucketVersioning() {
	s.Require().NoError(s.storage.EnableBucketVersioning(s.ctx, testBucket))
	s.True(s.fake.VersioningEnabled(testBucket))

	data := "versioned"
	_, err := s.storage.UploadStream(s.ctx, testBucket, "key", "text/plain", strings.NewReader(data), int64(len(data)))
	s.Require().NoError(err)

	meta, err := s.storage.ObjectMetadata(s.ctx, storage.NewDownloadRequest(storage.NewAddress(testBucket, "key")))
	s.Require().NoError(err)
	s.True(meta.VersionID.IsValid())
}

func (s *StorageSuite) TestEnableBucketVersioning_MissingBucket() {
	err := s.storage.EnableBucketVersioning(s.ctx, "missing-bucket")
	s.ErrorIs(err, storage.ErrBucketNotFound)
}

func (s *StorageSuite) TestPresignExpiry() {
	s.Equal(2*time.Hour, s.storage.PresignExpiry())

	s.storage.settings.PresignExpiry = 0
	s.Equal(time.Hour, s.storage.PresignExpiry())
}

func TestNew_RegionRequiredForAmazon(t *testing.T) {
	_, err := New(configuration.BlobStorage{Endpoint: "s3.amazonaws.com", UseSSL: true})
	require.ErrorIs(t, err, storage.ErrConfiguration)

	st, err := New(configuration.BlobStorage{Endpoint: "s3.amazonaws.com", Region: "eu-west-1", UseSSL: true})
	require.NoError(t, err)
	require.NotNil(t, st)
}

func (s *StorageSuite) TestTrace() {
	var sb strings.Builder
	st, err := New(s.settings, WithTrace(&sb))
	s.Require().NoError(err)

	exists, err := st.bucketExists(s.ctx, testBucket)
	s.Require().NoError(err)
	s.True(exists)
	s.Contains(sb.String(), "HEAD /"+testBucket+"/")
}

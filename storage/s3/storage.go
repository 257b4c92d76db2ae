// Package s3 implements storage.BlobStorage against S3-compatible object
// storage. Downloads are signed by RequestBuilder and executed by a Doer,
// every other operation goes through minio-go.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/imilosk/blobstore/configuration"
	"github.com/imilosk/blobstore/internal/feature"
	"github.com/imilosk/blobstore/log"
	"github.com/imilosk/blobstore/storage"
	"github.com/imilosk/blobstore/storage/internal/metrics"
)

const (
	queryResponseContentType = "response-content-type"
	defaultPresignExpiry     = time.Hour

	codeNoSuchKey               = "NoSuchKey"
	codeNoSuchBucket            = "NoSuchBucket"
	codeBucketAlreadyOwnedByYou = "BucketAlreadyOwnedByYou"
)

var _ storage.BlobStorage = (*Storage)(nil)

// Storage is the S3 backend. It is safe for concurrent use.
type Storage struct {
	settings configuration.BlobStorage
	client   *minio.Client
	doer     Doer
	clock    clock.Clock
}

// Option configures a Storage.
type Option func(*storageOpts)

type storageOpts struct {
	doer      Doer
	clock     clock.Clock
	transport http.RoundTripper
	trace     io.Writer
}

// WithDoer sets the executor of signed download requests. Defaults to an
// Executor with the default HTTP settings.
func WithDoer(d Doer) Option {
	return func(o *storageOpts) {
		o.doer = d
	}
}

// WithClock sets the clock used to timestamp signed requests.
func WithClock(c clock.Clock) Option {
	return func(o *storageOpts) {
		o.clock = c
	}
}

// WithTransport sets the transport of the minio client.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *storageOpts) {
		o.transport = rt
	}
}

// WithTrace writes minio request traces to w.
func WithTrace(w io.Writer) Option {
	return func(o *storageOpts) {
		o.trace = w
	}
}

// New returns a Storage for the endpoint described by settings.
func New(settings configuration.BlobStorage, opts ...Option) (*Storage, error) {
	o := storageOpts{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.doer == nil {
		o.doer = NewExecutor(configuration.HTTP{})
	}

	if isAmazonEndpoint(settings.Endpoint) && strings.TrimSpace(settings.Region) == "" {
		return nil, storage.ConfigurationError{Reason: errRegionText}
	}

	region := strings.TrimSpace(settings.Region)
	if region == "" {
		region = defaultRegion
	}

	client, err := minio.New(settings.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(settings.AccessKeyID, settings.SecretAccessKey, ""),
		Secure:    settings.UseSSL,
		Region:    region,
		Transport: o.transport,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object storage client: %w", err)
	}
	if o.trace != nil {
		client.TraceOn(o.trace)
	}

	return &Storage{
		settings: settings,
		client:   client,
		doer:     o.doer,
		clock:    o.clock,
	}, nil
}

func (s *Storage) logger(ctx context.Context) log.Logger {
	return log.GetLogger(ctx).WithField("component", "storage.s3")
}

// OpenDownload signs and executes a GET request for req. A non-2xx answer
// yields storage.DownloadFailed and a *StatusError.
func (s *Storage) OpenDownload(ctx context.Context, req storage.DownloadRequest) (storage.DownloadResult, error) {
	b, err := NewRequestBuilder(s.settings, s.clock)
	if err != nil {
		return storage.DownloadFailed, err
	}

	httpReq, err := b.WithAddress(req.Address).WithVersionID(req.VersionID).Sign().Request(ctx)
	if err != nil {
		return storage.DownloadFailed, fmt.Errorf("building download request for %s: %w", req.Address, err)
	}

	resp, err := s.doer.Do(httpReq)
	if err != nil {
		return storage.DownloadFailed, fmt.Errorf("downloading %s: %w", req.Address, err)
	}

	result, err := newDownloadResult(req.Address, resp)
	if err != nil {
		s.logger(ctx).WithFields(log.Fields{
			"address":    req.Address.String(),
			"version_id": req.VersionID.String(),
			"status":     resp.StatusCode,
		}).Info("download failed")
		return result, err
	}

	return result, nil
}

// Download opens the object addressed by uri, in any form accepted by
// storage.ParseAddress.
func (s *Storage) Download(ctx context.Context, uri string, v storage.VersionID) (io.ReadCloser, error) {
	addr, err := storage.ParseAddress(uri)
	if err != nil {
		return nil, err
	}
	return s.download(ctx, storage.NewVersionedDownloadRequest(addr, v))
}

// DownloadObject opens key in bucket.
func (s *Storage) DownloadObject(ctx context.Context, bucket, key string, v storage.VersionID) (io.ReadCloser, error) {
	return s.download(ctx, storage.NewVersionedDownloadRequest(storage.NewAddress(bucket, key), v))
}

func (s *Storage) download(ctx context.Context, req storage.DownloadRequest) (io.ReadCloser, error) {
	result, err := s.OpenDownload(ctx, req)
	if err != nil {
		return nil, err
	}
	return result.Body, nil
}

// ObjectMetadata stats the object described by req.
func (s *Storage) ObjectMetadata(ctx context.Context, req storage.DownloadRequest) (storage.ObjectMetadata, error) {
	done := metrics.InstrumentRequest("stat_object")
	info, err := s.client.StatObject(ctx, req.Address.Bucket, req.Address.Key, minio.StatObjectOptions{
		VersionID: req.VersionID.String(),
	})
	done(minioCode(err))
	if err != nil {
		return storage.EmptyObjectMetadata, parseError(req.Address, err)
	}

	return storage.ObjectMetadata{
		ETag:       info.ETag,
		ObjectName: info.Key,
		Size:       info.Size,
		VersionID:  storage.NewVersionID(info.VersionID),
	}, nil
}

// UploadStream stores size bytes of r under bucket/key. A negative size
// streams until EOF.
func (s *Storage) UploadStream(ctx context.Context, bucket, key, contentType string, r io.Reader, size int64) (storage.UploadResult, error) {
	l := s.logger(ctx).WithFields(log.Fields{"bucket": bucket, "key": key})

	exists, err := s.bucketExists(ctx, bucket)
	if err != nil {
		return storage.UploadFailed, err
	}
	if !exists {
		l.Warn("upload skipped, bucket does not exist")
		return storage.UploadFailed, nil
	}

	done := metrics.InstrumentRequest("put_object")
	info, err := s.client.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	done(minioCode(err))
	if err != nil {
		return storage.UploadFailed, fmt.Errorf("uploading %s: %w", storage.NewAddress(bucket, key), err)
	}

	if etagMissing(info.ETag) || (size >= 0 && info.Size != size) {
		l.WithFields(log.Fields{"etag": info.ETag, "size": info.Size, "expected_size": size}).Warn("upload incomplete")
		return storage.UploadFailed, nil
	}

	return storage.UploadResult{Success: true, ETag: info.ETag, ObjectName: info.Key, Size: info.Size}, nil
}

// UploadFile stores the file at path under bucket/key.
func (s *Storage) UploadFile(ctx context.Context, bucket, key, contentType, path string) (storage.UploadResult, error) {
	l := s.logger(ctx).WithFields(log.Fields{"bucket": bucket, "key": key, "path": path})

	exists, err := s.bucketExists(ctx, bucket)
	if err != nil {
		return storage.UploadFailed, err
	}
	if !exists {
		l.Warn("upload skipped, bucket does not exist")
		return storage.UploadFailed, nil
	}

	done := metrics.InstrumentRequest("put_object")
	info, err := s.client.FPutObject(ctx, bucket, key, path, minio.PutObjectOptions{ContentType: contentType})
	done(minioCode(err))
	if err != nil {
		return storage.UploadFailed, fmt.Errorf("uploading %q to %s: %w", path, storage.NewAddress(bucket, key), err)
	}

	if etagMissing(info.ETag) || info.Size <= 0 {
		l.WithFields(log.Fields{"etag": info.ETag, "size": info.Size}).Warn("upload incomplete")
		return storage.UploadFailed, nil
	}

	return storage.UploadResult{Success: true, ETag: info.ETag, ObjectName: info.Key, Size: info.Size}, nil
}

func etagMissing(etag string) bool {
	return etag == "" && feature.RequireUploadETag.Enabled()
}

// SharedFileURI presigns a GET of bucket/key served with contentType, valid
// for the configured presign expiry.
func (s *Storage) SharedFileURI(ctx context.Context, bucket, key, contentType string) (storage.SharedFileURIResult, error) {
	exists, err := s.bucketExists(ctx, bucket)
	if err != nil {
		return storage.SharedFileURIFailed, err
	}
	if !exists {
		s.logger(ctx).WithField("bucket", bucket).Warn("presign skipped, bucket does not exist")
		return storage.SharedFileURIFailed, nil
	}

	params := make(url.Values)
	if contentType != "" {
		params.Set(queryResponseContentType, contentType)
	}

	u, err := s.client.PresignedGetObject(ctx, bucket, key, s.PresignExpiry(), params)
	if err != nil {
		return storage.SharedFileURIFailed, fmt.Errorf("presigning %s: %w", storage.NewAddress(bucket, key), err)
	}

	return storage.SharedFileURIResult{Success: true, PresignedURI: u.String()}, nil
}

// PresignExpiry is the validity of URIs returned by SharedFileURI.
func (s *Storage) PresignExpiry() time.Duration {
	if s.settings.PresignExpiry > 0 {
		return s.settings.PresignExpiry
	}
	return defaultPresignExpiry
}

// CreateBucketIfNotExists creates bucket in the configured region unless it
// exists already.
func (s *Storage) CreateBucketIfNotExists(ctx context.Context, bucket string) error {
	exists, err := s.bucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	done := metrics.InstrumentRequest("make_bucket")
	err = s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.settings.Region})
	done(minioCode(err))
	if err != nil {
		if minio.ToErrorResponse(err).Code == codeBucketAlreadyOwnedByYou {
			return nil
		}
		return fmt.Errorf("creating bucket %q: %w", bucket, err)
	}

	s.logger(ctx).WithField("bucket", bucket).Info("bucket created")
	return nil
}

// EnableBucketVersioning turns on versioning for bucket.
func (s *Storage) EnableBucketVersioning(ctx context.Context, bucket string) error {
	done := metrics.InstrumentRequest("put_bucket_versioning")
	err := s.client.EnableVersioning(ctx, bucket)
	done(minioCode(err))
	if err != nil {
		if minio.ToErrorResponse(err).Code == codeNoSuchBucket {
			return fmt.Errorf("enabling versioning on %q: %w", bucket, storage.ErrBucketNotFound)
		}
		return fmt.Errorf("enabling versioning on %q: %w", bucket, err)
	}
	return nil
}

func (s *Storage) bucketExists(ctx context.Context, bucket string) (bool, error) {
	done := metrics.InstrumentRequest("head_bucket")
	exists, err := s.client.BucketExists(ctx, bucket)
	done(minioCode(err))
	if err != nil {
		return false, fmt.Errorf("checking bucket %q: %w", bucket, err)
	}
	return exists, nil
}

func parseError(addr storage.Address, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case codeNoSuchKey:
		return fmt.Errorf("%s: %w", addr, storage.ErrObjectNotFound)
	case codeNoSuchBucket:
		return fmt.Errorf("%s: %w", addr, storage.ErrBucketNotFound)
	}
	return fmt.Errorf("%s: %w", addr, err)
}

func minioCode(err error) string {
	if err == nil {
		return metrics.StatusCode(http.StatusOK)
	}
	var resp minio.ErrorResponse
	if errors.As(err, &resp) && resp.StatusCode != 0 {
		return metrics.StatusCode(resp.StatusCode)
	}
	return metrics.CodeError
}

// Package storage defines the object addresses, version identifiers and
// result values shared by all blobstore backends, together with the
// BlobStorage interface they implement.
//
// Addresses are parsed from s3:// URIs as well as from virtual-hosted-style
// and path-style HTTP URLs:
//
//	addr, err := storage.ParseAddress("https://bucket.s3.amazonaws.com/path/to/object")
//
// Parsing is pure and safe for concurrent use.
package storage

import (
	"context"
	"io"
)

//go:generate mockgen -package mocks -destination mocks/blobstorage.go . BlobStorage

// BlobStorage is implemented by object storage backends.
type BlobStorage interface {
	// OpenDownload starts downloading the object described by req. The
	// returned result carries the body stream when Success is true.
	OpenDownload(ctx context.Context, req DownloadRequest) (DownloadResult, error)

	// ObjectMetadata fetches the metadata of the object described by req.
	// Returns ErrObjectNotFound if the object does not exist.
	ObjectMetadata(ctx context.Context, req DownloadRequest) (ObjectMetadata, error)

	// UploadStream stores size bytes read from r at bucket/key. Returns
	// UploadFailed if the bucket does not exist.
	UploadStream(ctx context.Context, bucket, key, contentType string, r io.Reader, size int64) (UploadResult, error)

	// UploadFile stores the local file at path under bucket/key. Returns
	// UploadFailed if the bucket does not exist.
	UploadFile(ctx context.Context, bucket, key, contentType, path string) (UploadResult, error)

	// SharedFileURI returns a time-limited presigned URI for bucket/key
	// which serves the object with the given content type. Returns
	// SharedFileURIFailed if the bucket does not exist.
	SharedFileURI(ctx context.Context, bucket, key, contentType string) (SharedFileURIResult, error)

	// CreateBucketIfNotExists creates bucket unless it already exists.
	CreateBucketIfNotExists(ctx context.Context, bucket string) error

	// EnableBucketVersioning turns on versioning for bucket.
	EnableBucketVersioning(ctx context.Context, bucket string) error
}

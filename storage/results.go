package storage

import "io"

// DownloadRequest bundles the address and the optional version of an object
// to fetch.
type DownloadRequest struct {
	Address   Address
	VersionID VersionID
}

// NewDownloadRequest returns a request for the latest version of addr.
func NewDownloadRequest(addr Address) DownloadRequest {
	return DownloadRequest{Address: addr, VersionID: EmptyVersionID}
}

// NewVersionedDownloadRequest returns a request for version v of addr.
func NewVersionedDownloadRequest(addr Address, v VersionID) DownloadRequest {
	return DownloadRequest{Address: addr, VersionID: v}
}

// ObjectMetadata describes a stored object.
type ObjectMetadata struct {
	ETag       string
	ObjectName string
	Size       int64
	VersionID  VersionID
}

// EmptyObjectMetadata is returned when no metadata is available.
var EmptyObjectMetadata = ObjectMetadata{Size: -1, VersionID: EmptyVersionID}

// DownloadResult is the outcome of a download. Body must be closed by the
// caller when non-nil.
type DownloadResult struct {
	Success  bool
	Body     io.ReadCloser
	Metadata ObjectMetadata
}

// DownloadFailed is the result of a download that produced nothing.
var DownloadFailed = DownloadResult{Metadata: EmptyObjectMetadata}

// UploadResult is the outcome of an upload.
type UploadResult struct {
	Success    bool
	ETag       string
	ObjectName string
	Size       int64
}

// UploadFailed is the result of an upload that did not happen.
var UploadFailed = UploadResult{Size: -1}

// SharedFileURIResult is the outcome of presigning an object for sharing.
type SharedFileURIResult struct {
	Success      bool
	PresignedURI string
}

// SharedFileURIFailed is the result of a presign that did not happen.
var SharedFileURIFailed = SharedFileURIResult{}

package s3

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/imilosk/blobstore/storage"
)

const headerVersionID = "x-amz-version-id"

// StatusError is returned when object storage answers with a non-2xx
// status. A 404 matches storage.ErrObjectNotFound.
type StatusError struct {
	Address    storage.Address
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("object storage returned %s for %s", e.Status, e.Address)
}

// Is reports whether target is storage.ErrObjectNotFound for a 404.
func (e *StatusError) Is(target error) bool {
	return e.StatusCode == http.StatusNotFound && target == storage.ErrObjectNotFound
}

// newDownloadResult translates resp into a DownloadResult. The body of a
// failed response is drained and closed.
func newDownloadResult(addr storage.Address, resp *http.Response) (storage.DownloadResult, error) {
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return storage.DownloadFailed, &StatusError{Address: addr, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	return storage.DownloadResult{
		Success:  true,
		Body:     resp.Body,
		Metadata: newObjectMetadata(addr, resp),
	}, nil
}

// newObjectMetadata reads the object metadata carried by response headers.
// Size is -1 when the length is unknown.
func newObjectMetadata(addr storage.Address, resp *http.Response) storage.ObjectMetadata {
	return storage.ObjectMetadata{
		ETag:       strings.Trim(resp.Header.Get("ETag"), `"`),
		ObjectName: addr.Key,
		Size:       resp.ContentLength,
		VersionID:  storage.NewVersionID(resp.Header.Get(headerVersionID)),
	}
}

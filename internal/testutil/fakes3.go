package testutil

import (
	"crypto/md5"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/imilosk/blobstore/sigv4"
)

const (
	fakeQueryVersion    = "versionId"
	fakeHeaderVersionID = "x-amz-version-id"
	fakeNoSuchBucket    = "NoSuchBucket"
)

// FakeS3 is an in-memory, path-style S3 endpoint covering the calls made by
// the storage/s3 package. Signed downloads are verified against its
// credentials.
type FakeS3 struct {
	tb testing.TB
	mu sync.Mutex

	accessKey string
	secretKey string
	region    string
	server    *httptest.Server

	buckets  map[string]*fakeBucket
	uploads  map[string]*fakeUpload
	versions int
	omitETag map[string]bool
	verified int
}

type fakeUpload struct {
	bucket      string
	key         string
	contentType string
	size        int64
}

type fakeBucket struct {
	versioning bool
	objects    map[string]FakeObject
}

// FakeObject is an object stored by FakeS3. Uploaded objects keep their size
// but not their content.
type FakeObject struct {
	Data        []byte
	Size        int64
	ETag        string
	VersionID   string
	ContentType string
}

type fakeInitiateResult struct {
	XMLName  xml.Name `xml:"InitiateMultipartUploadResult"`
	Bucket   string   `xml:"Bucket"`
	Key      string   `xml:"Key"`
	UploadID string   `xml:"UploadId"`
}

type fakeCompleteResult struct {
	XMLName xml.Name `xml:"CompleteMultipartUploadResult"`
	Bucket  string   `xml:"Bucket"`
	Key     string   `xml:"Key"`
	ETag    string   `xml:"ETag"`
}

type fakeError struct {
	XMLName    xml.Name `xml:"Error"`
	Code       string   `xml:"Code"`
	Message    string   `xml:"Message"`
	BucketName string   `xml:"BucketName,omitempty"`
	Key        string   `xml:"Key,omitempty"`
}

var fakeLastModified = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// NewFakeS3 starts a FakeS3 accepting the given credentials and registers
// its shutdown after the test is done.
func NewFakeS3(tb testing.TB, accessKey, secretKey, region string) *FakeS3 {
	tb.Helper()

	f := &FakeS3{
		tb:        tb,
		accessKey: accessKey,
		secretKey: secretKey,
		region:    region,
		buckets:   make(map[string]*fakeBucket),
		uploads:   make(map[string]*fakeUpload),
		omitETag:  make(map[string]bool),
	}

	r := mux.NewRouter()
	r.HandleFunc("/{bucket}/", f.headBucket).Methods(http.MethodHead)
	r.HandleFunc("/{bucket}/", f.putBucket).Methods(http.MethodPut)
	r.HandleFunc("/{bucket}/{key:.+}", f.getObject).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/{bucket}/{key:.+}", f.putObject).Methods(http.MethodPut)
	r.HandleFunc("/{bucket}/{key:.+}", f.postObject).Methods(http.MethodPost)
	r.HandleFunc("/{bucket}/{key:.+}", f.abortUpload).Methods(http.MethodDelete)

	f.server = httptest.NewServer(r)
	tb.Cleanup(f.server.Close)

	return f
}

// Endpoint returns the host:port of the server.
func (f *FakeS3) Endpoint() string {
	return strings.TrimPrefix(f.server.URL, "http://")
}

// AddBucket creates an empty bucket.
func (f *FakeS3) AddBucket(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buckets[name] = &fakeBucket{objects: make(map[string]FakeObject)}
}

// AddObject stores data under bucket/key, which must exist.
func (f *FakeS3) AddObject(bucket, key, contentType string, data []byte) FakeObject {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.store(bucket, key, contentType, data, int64(len(data)))
}

// Object returns the object stored under bucket/key.
func (f *FakeS3) Object(bucket, key string) (FakeObject, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.buckets[bucket]
	if !ok {
		return FakeObject{}, false
	}
	obj, ok := b.objects[key]
	return obj, ok
}

// HasBucket reports whether bucket exists.
func (f *FakeS3) HasBucket(bucket string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.buckets[bucket]
	return ok
}

// VersioningEnabled reports whether versioning is on for bucket.
func (f *FakeS3) VersioningEnabled(bucket string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.buckets[bucket]
	return ok && b.versioning
}

// OmitETag makes uploads of key answer without an ETag.
func (f *FakeS3) OmitETag(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.omitETag[key] = true
}

// Verified returns the number of GET requests whose signature matched.
func (f *FakeS3) Verified() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.verified
}

// store must be called with mu held.
func (f *FakeS3) store(bucket, key, contentType string, data []byte, size int64) FakeObject {
	b := f.buckets[bucket]
	obj := FakeObject{
		Data:        data,
		Size:        size,
		ETag:        fmt.Sprintf("%x", md5.Sum([]byte(bucket+"/"+key+strconv.Itoa(f.versions)))),
		ContentType: contentType,
	}
	if b.versioning {
		f.versions++
		obj.VersionID = "v" + strconv.Itoa(f.versions)
	}
	b.objects[key] = obj
	return obj
}

func (f *FakeS3) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}
	vars := mux.Vars(r)
	_ = xml.NewEncoder(w).Encode(fakeError{
		Code:       code,
		Message:    code,
		BucketName: vars["bucket"],
		Key:        vars["key"],
	})
}

func (f *FakeS3) headBucket(w http.ResponseWriter, r *http.Request) {
	if !f.HasBucket(mux.Vars(r)["bucket"]) {
		f.writeError(w, r, http.StatusNotFound, fakeNoSuchBucket)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (f *FakeS3) putBucket(w http.ResponseWriter, r *http.Request) {
	_, _ = io.Copy(io.Discard, r.Body)
	name := mux.Vars(r)["bucket"]

	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.buckets[name]
	if _, versioning := r.URL.Query()["versioning"]; versioning {
		if !ok {
			f.writeError(w, r, http.StatusNotFound, fakeNoSuchBucket)
			return
		}
		b.versioning = true
		w.WriteHeader(http.StatusOK)
		return
	}

	if ok {
		f.writeError(w, r, http.StatusConflict, "BucketAlreadyOwnedByYou")
		return
	}
	f.buckets[name] = &fakeBucket{objects: make(map[string]FakeObject)}
	w.WriteHeader(http.StatusOK)
}

func (f *FakeS3) getObject(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if r.Method == http.MethodGet {
		if err := f.verifySignature(r); err != nil {
			f.tb.Log(err)
			f.writeError(w, r, http.StatusForbidden, "SignatureDoesNotMatch")
			return
		}
	}

	obj, ok := f.Object(vars["bucket"], vars["key"])
	if !ok {
		f.writeError(w, r, http.StatusNotFound, "NoSuchKey")
		return
	}
	if v := r.URL.Query().Get(fakeQueryVersion); v != "" && v != obj.VersionID {
		f.writeError(w, r, http.StatusNotFound, "NoSuchVersion")
		return
	}

	h := w.Header()
	h.Set("ETag", `"`+obj.ETag+`"`)
	h.Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	h.Set("Content-Type", obj.ContentType)
	h.Set("Last-Modified", fakeLastModified.Format(http.TimeFormat))
	if obj.VersionID != "" {
		h.Set(fakeHeaderVersionID, obj.VersionID)
	}
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodGet {
		_, _ = w.Write(obj.Data)
	}
}

func requestSize(r *http.Request) int64 {
	_, _ = io.Copy(io.Discard, r.Body)

	if decoded := r.Header.Get("X-Amz-Decoded-Content-Length"); decoded != "" {
		size, _ := strconv.ParseInt(decoded, 10, 64)
		return size
	}
	return r.ContentLength
}

func (f *FakeS3) putObject(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("uploadId") != "" {
		f.uploadPart(w, r)
		return
	}

	vars := mux.Vars(r)
	size := requestSize(r)

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.buckets[vars["bucket"]]; !ok {
		f.writeError(w, r, http.StatusNotFound, fakeNoSuchBucket)
		return
	}

	obj := f.store(vars["bucket"], vars["key"], r.Header.Get("Content-Type"), nil, size)
	if !f.omitETag[vars["key"]] {
		w.Header().Set("ETag", `"`+obj.ETag+`"`)
	}
	if obj.VersionID != "" {
		w.Header().Set(fakeHeaderVersionID, obj.VersionID)
	}
	w.WriteHeader(http.StatusOK)
}

// postObject initiates (?uploads) or completes (?uploadId=) a multipart
// upload.
func (f *FakeS3) postObject(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	_, _ = io.Copy(io.Discard, r.Body)

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.buckets[vars["bucket"]]; !ok {
		f.writeError(w, r, http.StatusNotFound, fakeNoSuchBucket)
		return
	}

	if _, initiate := r.URL.Query()["uploads"]; initiate {
		id := "upload-" + strconv.Itoa(len(f.uploads)+1)
		f.uploads[id] = &fakeUpload{bucket: vars["bucket"], key: vars["key"], contentType: r.Header.Get("Content-Type")}
		w.Header().Set("Content-Type", "application/xml")
		_ = xml.NewEncoder(w).Encode(fakeInitiateResult{Bucket: vars["bucket"], Key: vars["key"], UploadID: id})
		return
	}

	id := r.URL.Query().Get("uploadId")
	up, ok := f.uploads[id]
	if !ok {
		f.writeError(w, r, http.StatusNotFound, "NoSuchUpload")
		return
	}
	delete(f.uploads, id)

	obj := f.store(up.bucket, up.key, up.contentType, nil, up.size)
	etag := ""
	if !f.omitETag[up.key] {
		etag = `"` + obj.ETag + `"`
	}
	if obj.VersionID != "" {
		w.Header().Set(fakeHeaderVersionID, obj.VersionID)
	}
	w.Header().Set("Content-Type", "application/xml")
	_ = xml.NewEncoder(w).Encode(fakeCompleteResult{Bucket: up.bucket, Key: up.key, ETag: etag})
}

func (f *FakeS3) uploadPart(w http.ResponseWriter, r *http.Request) {
	size := requestSize(r)
	id := r.URL.Query().Get("uploadId")

	f.mu.Lock()
	defer f.mu.Unlock()

	up, ok := f.uploads[id]
	if !ok {
		f.writeError(w, r, http.StatusNotFound, "NoSuchUpload")
		return
	}
	up.size += size

	w.Header().Set("ETag", fmt.Sprintf(`"%x"`, md5.Sum([]byte(id+r.URL.Query().Get("partNumber")))))
	w.WriteHeader(http.StatusOK)
}

func (f *FakeS3) abortUpload(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	delete(f.uploads, r.URL.Query().Get("uploadId"))
	f.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

// verifySignature recomputes the signature of a signed download request.
func (f *FakeS3) verifySignature(r *http.Request) error {
	auth := r.Header.Get(sigv4.HeaderAuthorization)
	_, rest, ok := strings.Cut(auth, "SignedHeaders=")
	if !ok {
		return fmt.Errorf("no signed headers in %q", auth)
	}
	signed, _, _ := strings.Cut(rest, ",")

	headers := make(map[string]string)
	for _, name := range strings.Split(signed, ";") {
		if name == "host" {
			headers[name] = r.Host
			continue
		}
		headers[name] = r.Header.Get(name)
	}

	query := make(map[string]string)
	for k, v := range r.URL.Query() {
		query[k] = v[0]
	}

	ts, err := sigv4.ParseAmzDate(r.Header.Get(sigv4.HeaderDate))
	if err != nil {
		return err
	}

	want := sigv4.Sign(sigv4.Request{
		Time:      ts,
		AccessKey: f.accessKey,
		SecretKey: f.secretKey,
		Headers:   headers,
		Query:     query,
		Method:    r.Method,
		Path:      r.URL.EscapedPath(),
		Region:    f.region,
		Service:   "s3",
	})
	if want != auth {
		return fmt.Errorf("signature mismatch: got %q, want %q", auth, want)
	}

	f.mu.Lock()
	f.verified++
	f.mu.Unlock()
	return nil
}

package storage

import (
	"net/url"
	"regexp"
	"strings"
)

// Accepted address forms:
//
//	s3://example-bucket/path/to/object
//	https://s3.amazonaws.com/example-bucket/path/to/object
//	https://s3.us-west-2.amazonaws.com/example-bucket/path/to/object
//	https://s3express.amazonaws.com/example-bucket/path/to/object
//	https://example-bucket.s3.amazonaws.com/path/to/object
//	https://example.bucket.s3-us-west-2.amazonaws.com/path/to/object
var (
	s3EndpointRegexp = regexp.MustCompile(`^(.+\.)?(?:s3|s3express)[.-]([a-z0-9-]+)\.`)
	hostStyleRegexp  = regexp.MustCompile(`^(?P<bucket>.+)\.(?:s3|s3express)[.-][a-z0-9-]+\.`)
)

const schemeS3 = "s3"

// Address identifies an object in S3-compatible storage. Key may be empty,
// addressing the bucket root.
type Address struct {
	Bucket string
	Key    string
}

// NewAddress returns the address of key in bucket.
func NewAddress(bucket, key string) Address {
	return Address{Bucket: bucket, Key: key}
}

// String returns the address in s3://bucket/key form.
func (a Address) String() string {
	return "s3://" + a.Bucket + "/" + a.Key
}

// ParseAddress parses an s3:// URI, a virtual-hosted-style URL or a
// path-style URL into an Address.
func ParseAddress(rawURI string) (Address, error) {
	u, err := url.Parse(rawURI)
	if err != nil {
		return Address{}, InvalidAddressError{Address: rawURI, Reason: err.Error()}
	}
	return ParseAddressURL(u)
}

// ParseAddressURL is like ParseAddress for an already parsed URL.
func ParseAddressURL(u *url.URL) (Address, error) {
	if u == nil {
		return Address{}, InvalidAddressError{Reason: "no address given"}
	}
	raw := u.String()

	if u.Host == "" {
		return Address{}, InvalidAddressError{Address: raw, Reason: "no hostname present"}
	}

	// u.Path is already percent-decoded.
	path := strings.TrimPrefix(u.Path, "/")

	if strings.EqualFold(u.Scheme, schemeS3) {
		return Address{Bucket: u.Host, Key: path}, nil
	}

	host := strings.ToLower(u.Hostname())
	if !s3EndpointRegexp.MatchString(host) {
		return Address{}, InvalidAddressError{Address: raw, Reason: "not a recognized object-storage endpoint"}
	}

	// A label before the s3 token makes the host virtual-hosted, even when
	// the bucket name itself starts with s3.
	addr, ok := parseHostStyle(host, path)
	if !ok && !hostStyleRegexp.MatchString(host) {
		addr, ok = parsePathStyle(path)
	}
	if !ok {
		return Address{}, InvalidAddressError{Address: raw, Reason: "bucket and key could not be determined"}
	}

	return addr, nil
}

// parsePathStyle handles https://s3.region.amazonaws.com/bucket/key, where
// the first path segment is the bucket.
func parsePathStyle(path string) (Address, bool) {
	bucket, key, _ := strings.Cut(path, "/")
	if bucket == "" {
		return Address{}, false
	}
	return Address{Bucket: bucket, Key: key}, true
}

// parseHostStyle handles https://bucket.s3.region.amazonaws.com/key, where
// everything before the last s3 token of the host is the bucket.
func parseHostStyle(host, path string) (Address, bool) {
	m := hostStyleRegexp.FindStringSubmatch(host)
	if m == nil {
		return Address{}, false
	}
	bucket := m[hostStyleRegexp.SubexpIndex("bucket")]
	if bucket == "" {
		return Address{}, false
	}
	return Address{Bucket: bucket, Key: path}, true
}

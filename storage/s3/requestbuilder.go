package s3

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aws/smithy-go/encoding/httpbinding"
	"github.com/benbjohnson/clock"

	"github.com/imilosk/blobstore/configuration"
	"github.com/imilosk/blobstore/sigv4"
	"github.com/imilosk/blobstore/storage"
)

const (
	headerHost    = "Host"
	queryVersion  = "versionId"
	schemeHTTP    = "http"
	schemeHTTPS   = "https"
	amazonS3Host  = "s3.amazonaws.com"
	errRegionText = "region is required for the Amazon endpoint"
)

// RequestBuilder assembles a single SigV4-signed request. Its timestamp is
// fixed when it is created, so a builder must not be reused across
// requests, nor mutated concurrently.
type RequestBuilder struct {
	settings configuration.BlobStorage
	amazon   bool

	timestamp time.Time
	method    string
	address   storage.Address

	scheme string
	host   string
	port   int
	path   string

	query   map[string]string
	headers map[string]string
}

// NewRequestBuilder returns a GET request builder for the endpoint described
// by settings, timestamped with clk.
func NewRequestBuilder(settings configuration.BlobStorage, clk clock.Clock) (*RequestBuilder, error) {
	amazon := isAmazonEndpoint(settings.Endpoint)
	if amazon && strings.TrimSpace(settings.Region) == "" {
		return nil, storage.ConfigurationError{Reason: errRegionText}
	}

	b := &RequestBuilder{
		settings:  settings,
		amazon:    amazon,
		timestamp: clk.Now().UTC().Truncate(time.Second),
		method:    http.MethodGet,
		query:     make(map[string]string),
		headers:   make(map[string]string),
	}
	b.headers[sigv4.HeaderContentSHA256] = sigv4.UnsignedPayload
	b.headers[sigv4.HeaderDate] = sigv4.FormatAmzDate(b.timestamp)
	b.resolve()

	return b, nil
}

// WithAddress targets addr.
func (b *RequestBuilder) WithAddress(addr storage.Address) *RequestBuilder {
	b.address = addr
	b.resolve()
	return b
}

// WithBucket replaces the bucket of the target address.
func (b *RequestBuilder) WithBucket(bucket string) *RequestBuilder {
	b.address.Bucket = bucket
	b.resolve()
	return b
}

// WithKey replaces the key of the target address.
func (b *RequestBuilder) WithKey(key string) *RequestBuilder {
	b.address.Key = key
	b.resolve()
	return b
}

// WithVersionID requests version v of the object. Invalid versions leave the
// query untouched.
func (b *RequestBuilder) WithVersionID(v storage.VersionID) *RequestBuilder {
	if v.IsValid() {
		b.query[queryVersion] = v.String()
	}
	return b
}

// WithMethod sets the HTTP method.
func (b *RequestBuilder) WithMethod(method string) *RequestBuilder {
	b.method = method
	return b
}

// WithHeader sets header name to value, replacing any previous value of the
// header regardless of case.
func (b *RequestBuilder) WithHeader(name, value string) *RequestBuilder {
	b.deleteHeader(name)
	b.headers[name] = value
	return b
}

func (b *RequestBuilder) deleteHeader(name string) {
	for existing := range b.headers {
		if strings.EqualFold(existing, name) {
			delete(b.headers, existing)
		}
	}
}

// Sign computes the Authorization header over the current state. Headers
// added afterwards are not covered until Sign is called again.
func (b *RequestBuilder) Sign() *RequestBuilder {
	headers := make(map[string]string, len(b.headers))
	for name, value := range b.headers {
		if strings.EqualFold(name, sigv4.HeaderAuthorization) {
			continue
		}
		headers[name] = value
	}

	auth := sigv4.Sign(sigv4.Request{
		Time:      b.timestamp,
		AccessKey: b.settings.AccessKeyID,
		SecretKey: b.settings.SecretAccessKey,
		Headers:   headers,
		Query:     b.query,
		Method:    b.method,
		Path:      b.escapedPath(),
		Region:    b.signingRegion(),
		Service:   serviceName,
	})

	b.deleteHeader(sigv4.HeaderAuthorization)
	b.headers[sigv4.HeaderAuthorization] = auth

	return b
}

// Timestamp returns the signing time of the request.
func (b *RequestBuilder) Timestamp() time.Time {
	return b.timestamp
}

// URL returns the absolute URL of the request.
func (b *RequestBuilder) URL() *url.URL {
	host := b.host
	if (b.scheme == schemeHTTPS && b.port != defaultHTTPSPort) || (b.scheme == schemeHTTP && b.port != defaultHTTPPort) {
		host = net.JoinHostPort(b.host, strconv.Itoa(b.port))
	}

	return &url.URL{
		Scheme:   b.scheme,
		Host:     host,
		Path:     b.path,
		RawPath:  b.escapedPath(),
		RawQuery: sigv4.CanonicalQueryString(b.query),
	}
}

// Header returns a copy of the accumulated headers, Host included.
func (b *RequestBuilder) Header() http.Header {
	h := make(http.Header, len(b.headers))
	for name, value := range b.headers {
		h.Set(name, value)
	}
	return h
}

// Request materializes the builder into an HTTP request bound to ctx. The
// request's Host matches the signed Host header.
func (b *RequestBuilder) Request(ctx context.Context) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, b.method, b.URL().String(), nil)
	if err != nil {
		return nil, err
	}

	for name, value := range b.headers {
		if strings.EqualFold(name, headerHost) {
			continue
		}
		req.Header.Set(name, value)
	}
	req.Host = b.host

	return req, nil
}

// resolve derives scheme, host, port and path from the endpoint and the
// current address, and re-seeds the Host header.
func (b *RequestBuilder) resolve() {
	host, port := splitHostPort(b.settings.Endpoint)

	if b.amazon {
		b.host = b.address.Bucket + "." + amazonS3Host
		b.path = "/" + b.address.Key
	} else {
		b.host = host
		b.path = "/" + b.address.Bucket + "/" + b.address.Key
	}

	if b.settings.UseSSL {
		b.scheme = schemeHTTPS
		b.port = defaultHTTPSPort
	} else {
		b.scheme = schemeHTTP
		b.port = port
		if b.port == 0 {
			b.port = defaultHTTPPort
		}
	}

	b.deleteHeader(headerHost)
	b.headers[headerHost] = b.host
}

func (b *RequestBuilder) escapedPath() string {
	return httpbinding.EscapePath(b.path, false)
}

func (b *RequestBuilder) signingRegion() string {
	if region := strings.TrimSpace(b.settings.Region); region != "" {
		return region
	}
	return defaultRegion
}

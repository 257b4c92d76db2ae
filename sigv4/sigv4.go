// Package sigv4 computes AWS Signature Version 4 Authorization header values.
//
// Every function in this package is pure: the output depends only on the
// given Request, so signing is safe for concurrent use and reproducible.
package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/aws/smithy-go/encoding/httpbinding"
)

const (
	// Algorithm is the signing algorithm identifier.
	Algorithm = "AWS4-HMAC-SHA256"

	// UnsignedPayload is the x-amz-content-sha256 value used when the
	// payload is not part of the signature.
	UnsignedPayload = "UNSIGNED-PAYLOAD"

	// HeaderContentSHA256 carries the payload hash, or UnsignedPayload.
	HeaderContentSHA256 = "x-amz-content-sha256"

	// HeaderDate carries the request timestamp in AmzDate format.
	HeaderDate = "x-amz-date"

	// HeaderAuthorization carries the computed signature.
	HeaderAuthorization = "Authorization"

	scopeTerminator = "aws4_request"
	amzDateFormat   = "20060102T150405Z"
	dateFormat      = "20060102"
)

// Request is the description of an HTTP request to sign.
type Request struct {
	// Time is the signing timestamp. It is converted to UTC.
	Time time.Time

	AccessKey string
	SecretKey string

	// Headers are signed in full. Names are compared case-insensitively.
	Headers map[string]string

	// Query holds the unescaped query parameters.
	Query map[string]string

	Method string

	// Path is the canonical URI, already escaped.
	Path string

	Payload []byte

	Region  string
	Service string
}

// Sign returns the Authorization header value for r.
func Sign(r Request) string {
	headers := canonicalizeHeaders(r.Headers)
	scope := CredentialScope(r.Time, r.Region, r.Service)
	sts := StringToSign(r.Time, scope, canonicalRequest(r, headers))
	signature := hex.EncodeToString(hmacSHA256(SigningKey(r.SecretKey, r.Time, r.Region, r.Service), sts))

	var b strings.Builder
	b.WriteString(Algorithm)
	b.WriteString(" Credential=")
	b.WriteString(r.AccessKey)
	b.WriteByte('/')
	b.WriteString(scope)
	b.WriteString(", SignedHeaders=")
	b.WriteString(headers.signed)
	b.WriteString(", Signature=")
	b.WriteString(signature)
	return b.String()
}

// CanonicalRequest returns the canonical request string for r.
func CanonicalRequest(r Request) string {
	return canonicalRequest(r, canonicalizeHeaders(r.Headers))
}

func canonicalRequest(r Request, headers canonicalHeaders) string {
	payloadHash := UnsignedPayload
	if !headers.unsigned {
		payloadHash = HashHex(r.Payload)
	}

	return strings.Join([]string{
		strings.ToUpper(r.Method),
		r.Path,
		CanonicalQueryString(r.Query),
		headers.block,
		headers.signed,
		payloadHash,
	}, "\n")
}

// CanonicalQueryString escapes every key and value of query with the RFC 3986
// unreserved set and joins them, sorted by escaped key, with '&'.
func CanonicalQueryString(query map[string]string) string {
	if len(query) == 0 {
		return ""
	}

	pairs := make([][2]string, 0, len(query))
	for k, v := range query {
		pairs = append(pairs, [2]string{httpbinding.EscapePath(k, true), httpbinding.EscapePath(v, true)})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i][0] < pairs[j][0] })

	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p[0])
		b.WriteByte('=')
		b.WriteString(p[1])
	}
	return b.String()
}

type canonicalHeaders struct {
	block    string
	signed   string
	unsigned bool
}

// canonicalizeHeaders lower-cases and trims headers. Names which collapse to
// the same lower-cased name keep the value of the name sorting last, so the
// outcome does not depend on map iteration order.
func canonicalizeHeaders(headers map[string]string) canonicalHeaders {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	values := make(map[string]string, len(headers))
	for _, name := range names {
		values[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(headers[name])
	}

	lowered := make([]string, 0, len(values))
	for name := range values {
		lowered = append(lowered, name)
	}
	sort.Strings(lowered)

	var block strings.Builder
	for _, name := range lowered {
		block.WriteString(name)
		block.WriteByte(':')
		block.WriteString(values[name])
		block.WriteByte('\n')
	}

	return canonicalHeaders{
		block:    block.String(),
		signed:   strings.Join(lowered, ";"),
		unsigned: values[HeaderContentSHA256] == UnsignedPayload,
	}
}

// CredentialScope returns date/region/service/aws4_request.
func CredentialScope(t time.Time, region, service string) string {
	return strings.Join([]string{FormatDate(t), region, service, scopeTerminator}, "/")
}

// StringToSign returns the string signed with the derived signing key.
func StringToSign(t time.Time, scope, canonicalRequest string) string {
	return strings.Join([]string{
		Algorithm,
		FormatAmzDate(t),
		scope,
		HashHex([]byte(canonicalRequest)),
	}, "\n")
}

// SigningKey derives the signing key for the given date, region and service.
func SigningKey(secretKey string, t time.Time, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secretKey), FormatDate(t))
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, service)
	return hmacSHA256(kService, scopeTerminator)
}

// FormatAmzDate formats t as yyyyMMddTHHmmssZ in UTC.
func FormatAmzDate(t time.Time) string {
	return t.UTC().Format(amzDateFormat)
}

// FormatDate formats t as yyyyMMdd in UTC.
func FormatDate(t time.Time) string {
	return t.UTC().Format(dateFormat)
}

// ParseAmzDate parses a timestamp in yyyyMMddTHHmmssZ format.
func ParseAmzDate(s string) (time.Time, error) {
	return time.Parse(amzDateFormat, s)
}

// HashHex returns the lower-case hex SHA-256 of data.
func HashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	_, _ = h.Write([]byte(data))
	return h.Sum(nil)
}

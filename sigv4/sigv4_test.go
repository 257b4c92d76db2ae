package sigv4

import (
	"context"
	"encoding/hex"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAccessKey = "AKIDEXAMPLE"
	testSecretKey = "wJalrXUtnFEMI/K7MDENG/bPxRfiCYEXAMPLEKEY"
	emptySHA256   = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
)

var testTime = time.Date(2013, 5, 24, 0, 0, 0, 0, time.UTC)

// getObjectRequest is the GET object example of the S3 SigV4 documentation.
func getObjectRequest() Request {
	return Request{
		Time:      testTime,
		AccessKey: testAccessKey,
		SecretKey: testSecretKey,
		Headers: map[string]string{
			"host":              "examplebucket.s3.amazonaws.com",
			"range":             "bytes=0-9",
			HeaderContentSHA256: emptySHA256,
			HeaderDate:          "20130524T000000Z",
		},
		Method:  http.MethodGet,
		Path:    "/test.txt",
		Region:  "us-east-1",
		Service: "s3",
	}
}

func signature(auth string) string {
	_, sig, _ := strings.Cut(auth, "Signature=")
	return sig
}

func TestSign_KnownVector(t *testing.T) {
	r := getObjectRequest()

	expectedCanonical := strings.Join([]string{
		"GET",
		"/test.txt",
		"",
		"host:examplebucket.s3.amazonaws.com",
		"range:bytes=0-9",
		"x-amz-content-sha256:" + emptySHA256,
		"x-amz-date:20130524T000000Z",
		"",
		"host;range;x-amz-content-sha256;x-amz-date",
		emptySHA256,
	}, "\n")
	require.Equal(t, expectedCanonical, CanonicalRequest(r))

	scope := CredentialScope(r.Time, r.Region, r.Service)
	require.Equal(t, "20130524/us-east-1/s3/aws4_request", scope)

	expectedStringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		"20130524T000000Z",
		"20130524/us-east-1/s3/aws4_request",
		"7344ae5b7ee6c3e7e6b0fe0640412a37625d1fbfff95c48bbb2dc43964946972",
	}, "\n")
	require.Equal(t, expectedStringToSign, StringToSign(r.Time, scope, CanonicalRequest(r)))

	require.Equal(t,
		"AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/20130524/us-east-1/s3/aws4_request, "+
			"SignedHeaders=host;range;x-amz-content-sha256;x-amz-date, "+
			"Signature=f0e8bdb87c964420e857bd35b5d6ed310bd44f0170aba48dd91039c6036bdb41",
		Sign(r),
	)
}

func TestSign_MatchesSDKSigner(t *testing.T) {
	tests := []struct {
		name        string
		target      string
		query       map[string]string
		path        string
		headers     map[string]string
		payloadHash string
	}{
		{
			name:        "get object",
			target:      "https://examplebucket.s3.amazonaws.com/test.txt",
			path:        "/test.txt",
			headers:     map[string]string{"Range": "bytes=0-9"},
			payloadHash: emptySHA256,
		},
		{
			name:        "versioned get with unsigned payload",
			target:      "https://examplebucket.s3.amazonaws.com/photos/2024/cat.jpg?versionId=3HL4kqtJlcpXroDTDmJ%2BrmSpXd3dIbrHY",
			query:       map[string]string{"versionId": "3HL4kqtJlcpXroDTDmJ+rmSpXd3dIbrHY"},
			path:        "/photos/2024/cat.jpg",
			payloadHash: UnsignedPayload,
		},
		{
			name:   "path style with presign parameters",
			target: "http://minio.internal:9000/bucket/report.pdf?response-content-type=application%2Fpdf&a=b%20c",
			query: map[string]string{
				"response-content-type": "application/pdf",
				"a":                     "b c",
			},
			path:        "/bucket/report.pdf",
			headers:     map[string]string{"X-Amz-Meta-Owner": "team"},
			payloadHash: UnsignedPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, tt.target, nil)
			require.NoError(t, err)
			req.Header.Set(HeaderContentSHA256, tt.payloadHash)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			signer := v4.NewSigner(func(o *v4.SignerOptions) {
				o.DisableURIPathEscaping = true
			})
			err = signer.SignHTTP(
				context.Background(),
				aws.Credentials{AccessKeyID: testAccessKey, SecretAccessKey: testSecretKey},
				req, tt.payloadHash, "s3", "us-east-1", testTime,
			)
			require.NoError(t, err)

			headers := map[string]string{
				"Host":              req.URL.Host,
				HeaderContentSHA256: tt.payloadHash,
				HeaderDate:          FormatAmzDate(testTime),
			}
			for k, v := range tt.headers {
				headers[k] = v
			}

			ours := Sign(Request{
				Time:      testTime,
				AccessKey: testAccessKey,
				SecretKey: testSecretKey,
				Headers:   headers,
				Query:     tt.query,
				Method:    http.MethodGet,
				Path:      tt.path,
				Region:    "us-east-1",
				Service:   "s3",
			})

			require.Equal(t, signature(req.Header.Get(HeaderAuthorization)), signature(ours))
		})
	}
}

func TestSign_Deterministic(t *testing.T) {
	r := getObjectRequest()
	require.Equal(t, Sign(r), Sign(r))
}

func TestSign_SensitiveToEveryInput(t *testing.T) {
	base := Sign(getObjectRequest())

	mutations := map[string]func(r *Request){
		"header value": func(r *Request) { r.Headers["range"] = "bytes=0-8" },
		"path":         func(r *Request) { r.Path = "/test.txu" },
		"region":       func(r *Request) { r.Region = "us-east-2" },
		"service":      func(r *Request) { r.Service = "s4" },
		"method":       func(r *Request) { r.Method = http.MethodHead },
		"secret":       func(r *Request) { r.SecretKey += "x" },
		"time":         func(r *Request) { r.Time = r.Time.Add(time.Second) },
		"query":        func(r *Request) { r.Query = map[string]string{"versionId": "1"} },
		"payload":      func(r *Request) { r.Payload = []byte("x") },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			r := getObjectRequest()
			mutate(&r)
			assert.NotEqual(t, signature(base), signature(Sign(r)))
		})
	}
}

func TestSign_HeaderCaseAndWhitespaceInsensitive(t *testing.T) {
	lower := getObjectRequest()

	mixed := getObjectRequest()
	mixed.Headers = map[string]string{
		"Host":                 "  examplebucket.s3.amazonaws.com ",
		"RANGE":                "bytes=0-9\t",
		"X-Amz-Content-Sha256": emptySHA256,
		"X-AMZ-DATE":           " 20130524T000000Z",
	}

	require.Equal(t, CanonicalRequest(lower), CanonicalRequest(mixed))
	require.Equal(t, Sign(lower), Sign(mixed))
}

func TestSign_CollidingHeaderNames(t *testing.T) {
	r := getObjectRequest()
	r.Headers["X-Amz-Meta-Color"] = "red"
	r.Headers["x-amz-meta-color"] = "blue"

	canonical := CanonicalRequest(r)
	require.Contains(t, canonical, "x-amz-meta-color:blue\n")
	require.NotContains(t, canonical, "red")
	require.Equal(t, 1, strings.Count(canonical, "x-amz-meta-color:"))
	require.Contains(t, Sign(r), "SignedHeaders=host;range;x-amz-content-sha256;x-amz-date;x-amz-meta-color,")
}

func TestSign_UnsignedPayload(t *testing.T) {
	r := getObjectRequest()
	r.Headers[HeaderContentSHA256] = UnsignedPayload
	r.Payload = []byte("ignored")

	canonical := CanonicalRequest(r)
	require.True(t, strings.HasSuffix(canonical, "\n"+UnsignedPayload))

	r.Payload = []byte("also ignored")
	require.Equal(t, canonical, CanonicalRequest(r))
}

func TestSign_PayloadHash(t *testing.T) {
	r := getObjectRequest()
	r.Payload = []byte("Welcome to Amazon S3.")

	require.True(t, strings.HasSuffix(CanonicalRequest(r), "\n"+HashHex(r.Payload)))
	require.Equal(t, "44ce7dd67c959e0d3524ffac1771dfbba87d2b6b4b4e99e42034a8b803f8b072", HashHex(r.Payload))
}

func TestSign_LowercaseMethodIsUppercased(t *testing.T) {
	upper := getObjectRequest()
	lower := getObjectRequest()
	lower.Method = "get"

	require.Equal(t, Sign(upper), Sign(lower))
}

func TestCanonicalQueryString(t *testing.T) {
	tests := []struct {
		name  string
		query map[string]string
		want  string
	}{
		{name: "nil", query: nil, want: ""},
		{name: "empty", query: map[string]string{}, want: ""},
		{name: "single", query: map[string]string{"versionId": "abc"}, want: "versionId=abc"},
		{
			name:  "sorted by key",
			query: map[string]string{"prefix": "a", "max-keys": "2", "delimiter": "/"},
			want:  "delimiter=%2F&max-keys=2&prefix=a",
		},
		{
			name:  "space is percent encoded",
			query: map[string]string{"key": "a b"},
			want:  "key=a%20b",
		},
		{
			name:  "unreserved characters stay",
			query: map[string]string{"k": "AZaz09-_.~"},
			want:  "k=AZaz09-_.~",
		},
		{
			name:  "reserved characters are escaped",
			query: map[string]string{"k": "+=&/?#"},
			want:  "k=%2B%3D%26%2F%3F%23",
		},
		{
			name:  "empty value",
			query: map[string]string{"versioning": ""},
			want:  "versioning=",
		},
		{
			name:  "sorted by encoded key",
			query: map[string]string{"a b": "1", "a+b": "2", "a": "3"},
			want:  "a=3&a%20b=1&a%2Bb=2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, CanonicalQueryString(tt.query))
		})
	}
}

func TestSigningKey(t *testing.T) {
	// Derived key of the IAM example in the SigV4 documentation.
	key := SigningKey("wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY", time.Date(2015, 8, 30, 12, 36, 0, 0, time.UTC), "us-east-1", "iam")
	require.Equal(t, "c4afb1cc5771d871763a393e44b703571b55cc28424d1a5e86da6ed3c154a4b9", hex.EncodeToString(key))
}

func TestFormatDates(t *testing.T) {
	local := time.Date(2013, 5, 24, 2, 30, 15, 999, time.FixedZone("CEST", 2*60*60))

	require.Equal(t, "20130524T003015Z", FormatAmzDate(local))
	require.Equal(t, "20130524", FormatDate(local))

	parsed, err := ParseAmzDate("20130524T003015Z")
	require.NoError(t, err)
	require.True(t, parsed.Equal(local.Truncate(time.Second)))

	_, err = ParseAmzDate("2013-05-24")
	require.Error(t, err)
}

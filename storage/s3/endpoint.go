package s3

import (
	"net"
	"regexp"
	"strconv"
	"strings"
)

const (
	amazonChinaEndpoint = "s3.cn-north-1.amazonaws.com.cn"
	defaultHTTPPort     = 80
	defaultHTTPSPort    = 443
	defaultRegion       = "us-east-1"
	serviceName         = "s3"
)

var amazonEndpointRegexp = regexp.MustCompile(`(?i)^s3[.-]?(.*?)\.amazonaws\.com$`)

// isAmazonEndpoint reports whether endpoint, with or without a port, is an
// AWS S3 endpoint.
func isAmazonEndpoint(endpoint string) bool {
	host, _ := splitHostPort(endpoint)
	return amazonEndpointRegexp.MatchString(host) || strings.EqualFold(host, amazonChinaEndpoint)
}

// splitHostPort separates a trailing :port from endpoint. Port is zero when
// absent or malformed.
func splitHostPort(endpoint string) (string, int) {
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return endpoint, 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return endpoint, 0
	}
	return host, port
}

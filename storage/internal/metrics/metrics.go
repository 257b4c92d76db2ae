package metrics

import (
	"strconv"
	"time"

	"github.com/imilosk/blobstore/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestDurationHist *prometheus.HistogramVec
	requestTotal        *prometheus.CounterVec
	urlCacheRequests    *prometheus.CounterVec
	timeSince           = time.Since // for test purposes only
)

const (
	subsystem      = "storage"
	operationLabel = "operation"
	codeLabel      = "code"
	resultLabel    = "result"
	reasonLabel    = "reason"

	requestDurationName = "request_duration_seconds"
	requestDurationDesc = "A histogram of latencies for object storage requests."

	requestTotalName = "requests_total"
	requestTotalDesc = "A counter for object storage requests."

	urlCacheRequestsName = "urlcache_requests_total"
	urlCacheRequestsDesc = "A counter for presigned URI cache requests."

	urlCacheResultHit  = "hit"
	urlCacheResultMiss = "miss"

	// CodeError labels requests which failed before a status code was received.
	CodeError = "error"
)

func init() {
	registerMetrics(prometheus.DefaultRegisterer)
}

func registerMetrics(registerer prometheus.Registerer) {
	requestDurationHist = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metrics.NamespacePrefix,
			Subsystem: subsystem,
			Name:      requestDurationName,
			Help:      requestDurationDesc,
			Buckets:   prometheus.DefBuckets,
		},
		[]string{operationLabel},
	)

	requestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.NamespacePrefix,
			Subsystem: subsystem,
			Name:      requestTotalName,
			Help:      requestTotalDesc,
		},
		[]string{operationLabel, codeLabel},
	)

	urlCacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.NamespacePrefix,
			Subsystem: subsystem,
			Name:      urlCacheRequestsName,
			Help:      urlCacheRequestsDesc,
		},
		[]string{resultLabel, reasonLabel},
	)

	registerer.MustRegister(requestDurationHist)
	registerer.MustRegister(requestTotal)
	registerer.MustRegister(urlCacheRequests)
}

// InstrumentRequest starts timing an object storage request for operation.
// The returned function must be called with the response status code, or
// CodeError, once the request completes.
func InstrumentRequest(operation string) func(code string) {
	start := time.Now()
	return func(code string) {
		requestTotal.WithLabelValues(operation, code).Inc()
		requestDurationHist.WithLabelValues(operation).Observe(timeSince(start).Seconds())
	}
}

// StatusCode formats an HTTP status code as a code label value.
func StatusCode(code int) string {
	return strconv.Itoa(code)
}

// URLCacheRequest counts a presigned URI cache lookup. Reason is empty for
// hits.
func URLCacheRequest(hit bool, reason string) {
	result := urlCacheResultMiss
	if hit {
		result = urlCacheResultHit
	}
	urlCacheRequests.WithLabelValues(result, reason).Inc()
}

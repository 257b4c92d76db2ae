// Package metrics holds the prometheus namespace shared by blobstore
// collectors and the server exposing them.
package metrics

import (
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NamespacePrefix is the namespace of all blobstore metrics.
const NamespacePrefix = "blobstore"

const readHeaderTimeout = 10 * time.Second

// Handler returns an http.Handler serving the metrics of gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NewServer returns a server exposing gatherer on path. Requests are written
// to accessLog in the combined log format.
func NewServer(addr, path string, gatherer prometheus.Gatherer, accessLog io.Writer) *http.Server {
	router := mux.NewRouter()
	router.Handle(path, Handler(gatherer)).Methods(http.MethodGet)

	return &http.Server{
		Addr:              addr,
		Handler:           handlers.CombinedLoggingHandler(accessLog, router),
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

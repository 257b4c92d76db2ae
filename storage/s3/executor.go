package s3

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/imilosk/blobstore/configuration"
	"github.com/imilosk/blobstore/log"
	"github.com/imilosk/blobstore/storage/internal/metrics"
)

// Doer executes HTTP requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Executor is a Doer retrying transport errors and 5xx responses with an
// exponential backoff.
type Executor struct {
	client          *http.Client
	limiter         *rate.Limiter
	maxRetries      uint64
	initialInterval time.Duration
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) ExecutorOption {
	return func(e *Executor) {
		e.client = client
	}
}

// NewExecutor returns an Executor configured by cfg.
func NewExecutor(cfg configuration.HTTP, opts ...ExecutorOption) *Executor {
	e := &Executor{
		client:          &http.Client{Timeout: cfg.Timeout},
		maxRetries:      cfg.MaxRetries,
		initialInterval: cfg.Backoff,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var errServer = errors.New("server error")

// Do executes req. A 5xx response is returned as is once retries are
// exhausted. Requests with a body that cannot be replayed are attempted once.
func (e *Executor) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	l := log.GetLogger(ctx).WithFields(log.Fields{
		"component": "storage.s3.executor",
		"method":    req.Method,
		"url":       redactURL(req),
	})

	maxRetries := e.maxRetries
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		maxRetries = 0
	}

	var (
		resp     *http.Response
		attempts uint64
	)

	op := func() error {
		attempts++

		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(fmt.Errorf("waiting for rate limiter: %w", err))
			}
		}

		attempt, err := cloneRequest(req)
		if err != nil {
			return backoff.Permanent(err)
		}

		done := metrics.InstrumentRequest(operationName(req.Method))
		r, err := e.client.Do(attempt)
		if err != nil {
			done(metrics.CodeError)
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			l.WithError(err).Warn("executor: request failed")
			return err
		}
		done(metrics.StatusCode(r.StatusCode))

		if r.StatusCode >= http.StatusInternalServerError && attempts <= maxRetries {
			_, _ = io.Copy(io.Discard, r.Body)
			_ = r.Body.Close()
			l.WithField("status", r.StatusCode).Warn("executor: server error")
			return fmt.Errorf("%w: %s", errServer, r.Status)
		}

		resp = r
		return nil
	}

	b := backoff.NewExponentialBackOff(backoff.WithInitialInterval(e.initialInterval))
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx)); err != nil {
		return nil, fmt.Errorf("executing %s request after %d attempts: %w", req.Method, attempts, err)
	}

	return resp, nil
}

func cloneRequest(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewinding request body: %w", err)
		}
		clone.Body = body
	}
	return clone, nil
}

func operationName(method string) string {
	switch method {
	case http.MethodGet:
		return "get_object"
	case http.MethodHead:
		return "head_object"
	case http.MethodPut:
		return "put_object"
	default:
		return strings.ToLower(method)
	}
}

// redactURL drops the query, which may carry presigned credentials.
func redactURL(req *http.Request) string {
	u := *req.URL
	u.RawQuery = ""
	return u.String()
}

package httpx

import (
	"context"
	"net/http"
	"strconv"

	resilience "github.com/resilience-go/core"
)

// ErrorClass tells the resilience layer how to treat an HTTP
// status code.
type ErrorClass int

const (
	// Success means the request succeeded (e.g. 2xx).
	Success ErrorClass = iota
	// Transient means the error is retriable (e.g. 429, 503).
	Transient
	// Permanent means the error is non-retriable (e.g. 400).
	Permanent
)

// Classifier maps an HTTP status code to an ErrorClass.
//
// Pattern: Strategy — caller injects classification logic
// without modifying the adapter.
type Classifier func(statusCode int) ErrorClass

// StatusError is returned when the Classifier marks a status
// code as Transient or Permanent. The original response
// remains accessible for header/body inspection.
type StatusError struct {
	// Response is the original HTTP response that triggered
	// the error. The body has not been read or closed.
	Response   *http.Response
	StatusCode int
}

// Error returns a human-readable description of the status
// error.
func (e *StatusError) Error() string {
	return "http status " + strconv.Itoa(e.StatusCode)
}

// IsTransient reports whether err is a [StatusError] the classifier marked
// Transient, which resilience.Retry's retryIf predicate can use to decide
// whether a request is worth retrying.
func IsTransient(cl Classifier) func(error) bool {
	return func(err error) bool {
		var se *StatusError

		if !asStatusError(err, &se) {
			return false
		}

		return cl(se.StatusCode) == Transient
	}
}

func asStatusError(err error, target **StatusError) bool {
	se, ok := err.(*StatusError) //nolint:errorlint // StatusError is never wrapped by this package
	if !ok {
		return false
	}

	*target = se

	return true
}

// Client wraps an http.Client with a circuit breaker and HTTP status code
// classification.
//
// Pattern: Adapter — bridges net/http and the resilience primitives by
// translating HTTP status codes into transient/permanent error
// classification the breaker and retry engine can act on.
type Client struct {
	hc *http.Client
	cb *resilience.CircuitBreaker
	cl Classifier
}

// NewClient creates a Client that executes HTTP requests through cb,
// classifying responses with cl. A nil cb means requests are never
// breaker-protected, only classified.
func NewClient(
	name string,
	hc *http.Client,
	cl Classifier,
	cb *resilience.CircuitBreaker,
) *Client {
	_ = name

	return &Client{hc: hc, cb: cb, cl: cl}
}

// Do sends req through the underlying http.Client, guarded by the client's
// circuit breaker if one was configured. A response whose status the
// classifier marks Transient or Permanent is returned alongside a
// [StatusError] describing it, so callers and retry predicates can
// distinguish that case from a transport-level failure.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	var resp *http.Response

	op := func(ctx context.Context) error {
		r, err := c.hc.Do(req.WithContext(ctx))
		if err != nil {
			return err
		}

		resp = r

		if class := c.cl(r.StatusCode); class != Success {
			return &StatusError{Response: r, StatusCode: r.StatusCode}
		}

		return nil
	}

	var err error
	if c.cb != nil {
		err = c.cb.Execute(ctx, op)
	} else {
		err = op(ctx)
	}

	return resp, err
}

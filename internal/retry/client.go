package retry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxErrorBodyBytes caps how much of a failed response body is kept for errors and logs.
const maxErrorBodyBytes = 2048

// RequestSpec describes a request that can be rebuilt for every attempt.
type RequestSpec struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Client executes HTTP requests with retries and exponential backoff. It is
// also an http.RoundTripper, so SDK clients can route their traffic through it.
type Client struct {
	policy Policy
	next   http.RoundTripper
}

// NewClient returns a retrying client over next (http.DefaultTransport when nil).
func NewClient(policy Policy, next http.RoundTripper) *Client {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Client{policy: policy, next: next}
}

// Policy returns the retry policy used by the client.
func (c *Client) Policy() Policy {
	return c.policy
}

// HTTPClient returns an *http.Client whose transport is c.
func (c *Client) HTTPClient() *http.Client {
	return &http.Client{Transport: c}
}

// Execute builds a request from spec for each attempt and returns the first 2xx
// response. The caller must close the response body.
func (c *Client) Execute(ctx context.Context, spec RequestSpec) (*http.Response, error) {
	method := spec.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, spec.URL, bytes.NewReader(spec.Body))
	if err != nil {
		return nil, Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	for k, vs := range spec.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return c.RoundTrip(req)
}

// RoundTrip implements http.RoundTripper. Non-2xx responses are turned into
// *StatusError; 401/403 are not retried.
func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	getBody := req.GetBody
	if req.Body != nil && req.Body != http.NoBody && getBody == nil {
		body, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to buffer request body: %w", err)
		}
		getBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}

	policy := c.policy
	attemptTimeout := policy.AttemptTimeout
	policy.AttemptTimeout = 0

	var resp *http.Response
	err := Do(req.Context(), policy, func(ctx context.Context) error {
		r, err := c.attempt(ctx, req, getBody, attemptTimeout)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) attempt(ctx context.Context, req *http.Request, getBody func() (io.ReadCloser, error), timeout time.Duration) (*http.Response, error) {
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}

	attemptReq := req.Clone(ctx)
	if getBody != nil {
		body, err := getBody()
		if err != nil {
			cancel()
			return nil, Permanent(fmt.Errorf("failed to rewind request body: %w", err))
		}
		attemptReq.Body = body
	}

	resp, err := c.next.RoundTrip(attemptReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		resp.Body.Close()
		cancel()
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
		if statusErr.IsAuth() {
			return nil, Permanent(statusErr)
		}
		return nil, statusErr
	}

	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnClose releases the per-attempt context once the caller is done with the body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

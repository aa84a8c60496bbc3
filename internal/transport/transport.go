// Package transport performs single logical HTTP requests against the task
// backend. It rewrites JSON keys between the in-process camel style and the
// backend's underscore style, retries transient failures with bounded
// backoff, and normalizes every failure into *Error.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
)

// MaxRetries is the upper bound accepted for Config.Retries.
const MaxRetries = 5

// EventLogger receives diagnostic events. It mirrors core.EventLogger so the
// transport does not depend on the core package.
type EventLogger interface {
	LogEvent(eventType string, data map[string]any) error
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Retries int
	Token   string
	Debug   bool

	// HTTPClient defaults to a client without its own timeout; the request
	// deadline is applied through the context.
	HTTPClient *http.Client
	// NewBackOff returns the delay policy for one logical request.
	// Defaults to an exponential backoff.
	NewBackOff func() backoff.BackOff
	Logger     EventLogger
}

// Request describes one logical call. Timeout and Retries override the
// client configuration when set.
type Request struct {
	Method  string
	Path    string
	Body    any
	Header  http.Header
	Timeout time.Duration
	Retries *int
}

// Client is the HTTP transport.
type Client struct {
	base       *url.URL
	timeout    time.Duration
	retries    int
	token      string
	debug      bool
	http       *http.Client
	newBackOff func() backoff.BackOff
	logger     EventLogger
}

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %s", cfg.Timeout)
	}
	if cfg.Retries < 0 || cfg.Retries > MaxRetries {
		return nil, fmt.Errorf("retries must be between 0 and %d, got %d", MaxRetries, cfg.Retries)
	}

	c := &Client{
		base:       base,
		timeout:    cfg.Timeout,
		retries:    cfg.Retries,
		token:      cfg.Token,
		debug:      cfg.Debug,
		http:       cfg.HTTPClient,
		newBackOff: cfg.NewBackOff,
		logger:     cfg.Logger,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.newBackOff == nil {
		c.newBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 300 * time.Millisecond
			b.MaxInterval = 3 * time.Second
			return b
		}
	}
	return c, nil
}

// Get issues a GET request and decodes the response into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path}, out)
}

// Post issues a POST request with body.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body}, out)
}

// Patch issues a PATCH request with body.
func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, Request{Method: http.MethodPatch, Path: path, Body: body}, out)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: path}, nil)
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// Do performs req, retrying transient failures, and decodes a successful JSON
// response into out (which may be nil). Any failure is returned as *Error.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	requestID := uuid.NewString()

	var payload []byte
	if req.Body != nil {
		var err error
		payload, err = encodeBody(req.Body)
		if err != nil {
			return &Error{Message: "Invalid request body", RequestID: requestID, Cause: err}
		}
	}

	target := c.resolve(req.Path)
	timeout := c.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	retries := c.retries
	if req.Retries != nil && *req.Retries >= 0 && *req.Retries <= MaxRetries {
		retries = *req.Retries
	}

	// The timeout covers every attempt and backoff wait of the request.
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	attempt := 0
	operation := func() (*response, error) {
		attempt++
		resp, err := c.send(reqCtx, req, target, payload, requestID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(&Error{Message: msgNetworkFailure, RequestID: requestID, Cause: ctx.Err()})
			}
			if reqCtx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
				return nil, backoff.Permanent(&Error{Message: msgTimeout, RequestID: requestID, Cause: err})
			}
			return nil, &Error{Message: msgNetworkFailure, RequestID: requestID, Cause: err}
		}
		if resp.status >= 200 && resp.status < 300 {
			return resp, nil
		}
		statusErr := newStatusError(resp.status, resp.body, requestID)
		if retryableStatus(resp.status) {
			return nil, statusErr
		}
		return nil, backoff.Permanent(statusErr)
	}

	resp, err := backoff.Retry(reqCtx, operation,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(uint(retries+1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.log("http.retry", map[string]any{
				"method":     req.Method,
				"path":       req.Path,
				"attempt":    attempt,
				"wait_ms":    wait.Milliseconds(),
				"error":      err.Error(),
				"status":     StatusOf(err),
				"request_id": requestID,
			})
		}),
	)
	if err != nil {
		var te *Error
		if !errors.As(err, &te) && ctx.Err() == nil && reqCtx.Err() != nil {
			te = &Error{Message: msgTimeout, RequestID: requestID, Cause: err}
		} else {
			te = normalize(err, requestID)
		}
		c.log("http.error", map[string]any{
			"method":     req.Method,
			"path":       req.Path,
			"status":     te.Status,
			"message":    te.Message,
			"attempts":   attempt,
			"request_id": requestID,
		})
		return te
	}

	if out == nil || len(bytes.TrimSpace(resp.body)) == 0 {
		return nil
	}
	if err := decodeInto(resp.body, out); err != nil {
		return &Error{
			Message:   "Invalid response body",
			Status:    resp.status,
			RequestID: requestID,
			Cause:     err,
		}
	}
	return nil
}

// send performs a single attempt under ctx.
func (c *Client) send(ctx context.Context, req Request, target string, payload []byte, requestID string) (*response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for k, vals := range req.Header {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	if c.debug {
		c.log("http.request", map[string]any{
			"method":     req.Method,
			"url":        target,
			"headers":    redactHeaders(httpReq.Header),
			"body":       string(payload),
			"request_id": requestID,
		})
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if c.debug {
		c.log("http.response", map[string]any{
			"method":      req.Method,
			"url":         target,
			"status":      resp.StatusCode,
			"headers":     redactHeaders(resp.Header),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  requestID,
		})
	}

	return &response{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

func (c *Client) resolve(path string) string {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.TrimLeft(path, "/")
	return u.String()
}

func (c *Client) log(eventType string, data map[string]any) {
	if c.logger == nil {
		return
	}
	_ = c.logger.LogEvent(eventType, data)
}

// retryableStatus reports whether status is a transient failure worth
// retrying: 408, 413, 425, 429 and 5xx other than 501.
func retryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout,
		http.StatusRequestEntityTooLarge,
		http.StatusTooEarly,
		http.StatusTooManyRequests:
		return true
	case http.StatusNotImplemented:
		return false
	}
	return status >= 500 && status <= 599
}

var sensitiveHeaders = map[string]bool{
	"Authorization":       true,
	"Cookie":              true,
	"Set-Cookie":          true,
	"X-Api-Key":           true,
	"Proxy-Authorization": true,
}

func redactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if sensitiveHeaders[http.CanonicalHeaderKey(k)] {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = strings.Join(v, ", ")
	}
	return out
}

// encodeBody marshals v and rewrites its keys to the wire style.
func encodeBody(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling body: %w", err)
	}
	tree, err := decodeTree(raw)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ToWire(tree))
}

// decodeInto rewrites the keys of a wire payload and unmarshals it into out.
func decodeInto(data []byte, out any) error {
	tree, err := decodeTree(data)
	if err != nil {
		return err
	}
	converted, err := json.Marshal(FromWire(tree))
	if err != nil {
		return fmt.Errorf("re-encoding response: %w", err)
	}
	if err := json.Unmarshal(converted, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// decodeTree decodes JSON into a generic tree, keeping numbers exact.
func decodeTree(data []byte) (any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("decoding JSON: %w", err)
	}
	return tree, nil
}

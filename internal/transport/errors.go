package transport

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	msgNetworkFailure = "Network request failed"
	msgTimeout        = "Request timed out"
	msgUnexpected     = "An unexpected error occurred"
)

// Error is the single failure shape produced by the transport. Network
// failures, timeouts and non-2xx responses are all normalized into it.
type Error struct {
	// Message is human readable: the server's message field, else the HTTP
	// status text, else a generic fallback.
	Message string
	// Status is the HTTP status code, or 0 when no response was received.
	Status int
	// StatusText is the canonical text for Status.
	StatusText string
	// Code is the server's machine-readable error code, if any.
	Code string
	// RequestID is the server-reported request id, falling back to the id
	// sent with the request.
	RequestID string
	// Body is the decoded response body (keys in camel style), when parseable.
	Body any
	// Cause is the underlying error for diagnostics.
	Cause error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Timeout reports whether the request exceeded its deadline.
func (e *Error) Timeout() bool {
	return e.Status == 0 && e.Message == msgTimeout
}

// NotFound reports whether the server answered 404.
func (e *Error) NotFound() bool {
	return e.Status == http.StatusNotFound
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var te *Error
	if errors.As(err, &te) {
		return te.Status
	}
	return 0
}

// IsNotFound reports whether err is a transport error for a 404 response.
func IsNotFound(err error) bool {
	return StatusOf(err) == http.StatusNotFound
}

// newStatusError builds an Error from a non-2xx response. body is the raw
// payload; it is decoded best-effort.
func newStatusError(status int, body []byte, requestID string) *Error {
	e := &Error{
		Status:     status,
		StatusText: http.StatusText(status),
		RequestID:  requestID,
	}

	if decoded, err := decodeTree(body); err == nil && decoded != nil {
		e.Body = FromWire(decoded)
		if obj, ok := e.Body.(map[string]any); ok {
			if msg, ok := obj["message"].(string); ok && msg != "" {
				e.Message = msg
			}
			if code, ok := obj["code"].(string); ok {
				e.Code = code
			}
			if rid, ok := obj["requestId"].(string); ok && rid != "" {
				e.RequestID = rid
			}
		}
	}

	if e.Message == "" {
		e.Message = e.StatusText
	}
	if e.Message == "" {
		e.Message = msgUnexpected
	}
	e.Cause = fmt.Errorf("unexpected status %d", status)
	return e
}

// normalize converts any error into *Error. Errors already in that shape are
// returned unchanged.
func normalize(err error, requestID string) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return &Error{Message: msgNetworkFailure, RequestID: requestID, Cause: err}
}

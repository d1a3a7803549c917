// Package apierr defines the gateway's error taxonomy and the mapping
// from upstream HTTP failures onto it.
package apierr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// Kind identifies a class of gateway failure. The string value is what
// clients see in the error body's "type" field.
type Kind string

const (
	KindInvalidRequest Kind = "invalid_request"
	KindAuth           Kind = "auth_error"
	KindModelNotFound  Kind = "model_not_found"
	KindCapability     Kind = "capability_error"
	KindRateLimited    Kind = "rate_limited"
	KindUpstream       Kind = "upstream_error"
	KindConnection     Kind = "connection_error"
	KindTranslator     Kind = "translator_error"
)

// HTTPStatus returns the response status used when an error of this kind
// is surfaced before any SSE bytes have been written.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidRequest, KindCapability:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindModelNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstream:
		return http.StatusBadGateway
	case KindConnection:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified gateway failure.
type Error struct {
	Kind    Kind
	Message string
	// Status overrides Kind.HTTPStatus when non-zero (e.g. 504 on a
	// request deadline that expired before the first upstream byte).
	Status int
	// RetryAfter carries the upstream Retry-After header on rate limits.
	RetryAfter string
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// HTTPStatus resolves the response status for this error.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	return e.Kind.HTTPStatus()
}

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// As unwraps err into *Error. Unclassified errors become translator_error.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindTranslator, Message: err.Error()}
}

// FromUpstream classifies a non-2xx upstream response.
func FromUpstream(status int, header http.Header, body []byte) *Error {
	msg := upstreamMessage(body)
	lower := strings.ToLower(msg)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{Kind: KindAuth, Message: "upstream rejected credentials: " + msg}
	case status == http.StatusNotFound:
		if strings.Contains(lower, "model") {
			return &Error{Kind: KindModelNotFound, Message: msg}
		}
		return &Error{Kind: KindUpstream, Message: "upstream endpoint not found: " + msg}
	case status == http.StatusTooManyRequests:
		return &Error{
			Kind:       KindRateLimited,
			Message:    "upstream rate limit: " + msg,
			RetryAfter: header.Get("Retry-After"),
		}
	case status == http.StatusBadRequest:
		if strings.Contains(lower, "tool") || strings.Contains(lower, "not supported") {
			return &Error{Kind: KindCapability, Message: msg}
		}
		return &Error{Kind: KindInvalidRequest, Message: "upstream rejected request: " + msg}
	case status >= 500:
		return &Error{Kind: KindUpstream, Message: fmt.Sprintf("upstream returned %d: %s", status, msg)}
	default:
		return &Error{Kind: KindUpstream, Message: fmt.Sprintf("upstream returned %d: %s", status, msg)}
	}
}

// FromTransport classifies a failure to reach the upstream at all.
func FromTransport(err error) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindUpstream, Status: http.StatusGatewayTimeout, Message: "upstream request timed out"}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindConnection, Message: "request canceled"}
	default:
		return &Error{Kind: KindConnection, Message: "upstream unreachable: " + err.Error()}
	}
}

// upstreamMessage pulls a human-readable message out of an upstream error
// body. Providers disagree on the shape, so probe the common spots.
func upstreamMessage(body []byte) string {
	if len(body) == 0 {
		return "(empty body)"
	}
	for _, path := range []string{"error.message", "message", "error"} {
		if v := gjson.GetBytes(body, path); v.Exists() && v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

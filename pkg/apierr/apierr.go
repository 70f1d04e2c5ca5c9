// Package apierr defines the error taxonomy shared by the request builder,
// the streaming engine and the HTTP client.
//
// Every failure surfaced by this module is an *Error carrying a Kind plus a
// human-readable message. Stream decode failures additionally carry the raw
// offending payload so they can be diagnosed without log correlation.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// Kind classifies an error.
type Kind int

const (
	// KindUnknown is never produced by this module; it is the zero value.
	KindUnknown Kind = iota

	KindInvalidRequest
	KindAuthenticationFailed
	KindPermissionDenied
	KindNotFound
	KindRateLimited
	KindOverloaded
	KindServerError
	KindStreamDecode
	KindSequencingViolation
	KindTransport
)

// String returns the snake_case label used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindAuthenticationFailed:
		return "authentication_failed"
	case KindPermissionDenied:
		return "permission_denied"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindOverloaded:
		return "overloaded"
	case KindServerError:
		return "server_error"
	case KindStreamDecode:
		return "stream_decode_error"
	case KindSequencingViolation:
		return "sequencing_violation"
	case KindTransport:
		return "transport_error"
	default:
		return "unknown"
	}
}

// Wire error type strings used by the Messages API.
const (
	TypeInvalidRequest  = "invalid_request_error"
	TypeAuthentication  = "authentication_error"
	TypePermission      = "permission_error"
	TypeNotFound        = "not_found_error"
	TypeRequestTooLarge = "request_too_large"
	TypeRateLimit       = "rate_limit_error"
	TypeAPI             = "api_error"
	TypeOverloaded      = "overloaded_error"
)

// StatusOverloaded is the non-standard status the API uses when it is
// temporarily over capacity.
const StatusOverloaded = 529

// Error is the single error type returned by this module.
type Error struct {
	Kind    Kind
	Message string

	// StatusCode is the upstream HTTP status, 0 when no response was received.
	StatusCode int

	// Type is the upstream error type string (e.g. "rate_limit_error").
	Type string

	// Raw holds the offending payload for decode failures, or the upstream
	// error body for API errors.
	Raw []byte

	// RetryAfter is parsed from the retry-after header of 429/529 responses.
	RetryAfter time.Duration

	// Err is the underlying cause, if any.
	Err error
}

// New creates an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind around cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

// Decode creates a stream decode Error carrying the raw payload.
func Decode(raw []byte, cause error, format string, args ...any) *Error {
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return &Error{Kind: KindStreamDecode, Message: fmt.Sprintf(format, args...), Raw: cp, Err: cause}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.StatusCode != 0 {
		b.WriteString(" (status ")
		b.WriteString(strconv.Itoa(e.StatusCode))
		b.WriteString(")")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus returns the upstream status code, or the status conventionally
// associated with Kind when the error never reached the network.
func (e *Error) HTTPStatus() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Kind {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindAuthenticationFailed:
		return http.StatusUnauthorized
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindOverloaded:
		return StatusOverloaded
	case KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether repeating the identical call may succeed.
//
//   - RateLimited, Overloaded, ServerError → retryable
//   - TransportError → retryable
//   - everything else (4xx, decode, sequencing) → not retryable
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindOverloaded, KindServerError, KindTransport:
		return true
	}
	return false
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// KindOf returns the kind carried by err, or KindTransport for foreign errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindTransport
}

// KindFromStatus maps an HTTP status to a Kind.
func KindFromStatus(status int) Kind {
	switch {
	case status == http.StatusBadRequest, status == http.StatusRequestEntityTooLarge:
		return KindInvalidRequest
	case status == http.StatusUnauthorized:
		return KindAuthenticationFailed
	case status == http.StatusForbidden:
		return KindPermissionDenied
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == StatusOverloaded:
		return KindOverloaded
	case status >= 500:
		return KindServerError
	case status >= 400:
		return KindInvalidRequest
	}
	return KindUnknown
}

// KindFromType maps a wire error type to a Kind. Unknown types return
// KindUnknown so callers can fall back to the status code.
func KindFromType(errType string) Kind {
	switch errType {
	case TypeInvalidRequest, TypeRequestTooLarge:
		return KindInvalidRequest
	case TypeAuthentication:
		return KindAuthenticationFailed
	case TypePermission:
		return KindPermissionDenied
	case TypeNotFound:
		return KindNotFound
	case TypeRateLimit:
		return KindRateLimited
	case TypeOverloaded:
		return KindOverloaded
	case TypeAPI:
		return KindServerError
	}
	return KindUnknown
}

// TypeForKind is the inverse of KindFromType for kinds with a wire type.
func TypeForKind(k Kind) string {
	switch k {
	case KindInvalidRequest:
		return TypeInvalidRequest
	case KindAuthenticationFailed:
		return TypeAuthentication
	case KindPermissionDenied:
		return TypePermission
	case KindNotFound:
		return TypeNotFound
	case KindRateLimited:
		return TypeRateLimit
	case KindOverloaded:
		return TypeOverloaded
	default:
		return TypeAPI
	}
}

// Payload is the error object of the wire envelope
// {"type":"error","error":{"type":...,"message":...}}.
type Payload struct {
	Type    string          `json:"type"`
	Message string          `json:"message"`
	Param   json.RawMessage `json:"param,omitempty"`
	Code    json.RawMessage `json:"code,omitempty"`
}

type envelope struct {
	Type  string  `json:"type"`
	Error Payload `json:"error"`
}

// FromResponse builds an Error from a non-2xx upstream response. The error
// type in the body wins over the status code when it is recognised.
func FromResponse(status int, header http.Header, body []byte) *Error {
	e := &Error{StatusCode: status, Raw: body}

	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Type != "" {
		e.Type = env.Error.Type
		e.Message = env.Error.Message
	} else {
		e.Message = strings.TrimSpace(string(body))
		if e.Message == "" {
			e.Message = http.StatusText(status)
		}
	}

	e.Kind = KindFromType(e.Type)
	if e.Kind == KindUnknown {
		e.Kind = KindFromStatus(status)
	}
	if e.Kind == KindUnknown {
		e.Kind = KindServerError
	}

	if header != nil {
		e.RetryAfter = parseRetryAfter(header.Get("retry-after"))
	}
	return e
}

// FromPayload builds an Error from an in-stream error event.
func FromPayload(p Payload) *Error {
	k := KindFromType(p.Type)
	if k == KindUnknown {
		k = KindServerError
	}
	return &Error{Kind: k, Type: p.Type, Message: p.Message}
}

// parseRetryAfter accepts delay-seconds; HTTP-date values are ignored.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// Write renders err as an API error envelope on a fasthttp response.
func Write(ctx *fasthttp.RequestCtx, err *Error) {
	status := err.HTTPStatus()
	if err.Kind == KindRateLimited && err.RetryAfter > 0 {
		ctx.Response.Header.Set("Retry-After", strconv.Itoa(int(err.RetryAfter.Seconds())))
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Type: "error", Error: Payload{
		Type:    TypeForKind(err.Kind),
		Message: err.Message,
	}})
	ctx.SetBody(body)
}

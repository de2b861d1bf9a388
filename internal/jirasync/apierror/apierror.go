// Package apierror classifies every failure of the synchronization core
// into a small set of kinds. Callers decide retry versus abort from the
// kind alone; raw HTTP status codes never leave this package and the
// issue client.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kind is the class of a failure.
type Kind int

const (
	// Unknown is never produced by the classification below; it is what
	// KindOf reports for errors that did not come from this package.
	Unknown Kind = iota
	// InvalidRequest is a caller-side problem, usually detected before any
	// network I/O.
	InvalidRequest
	// Unauthorized is 401/403, permanent until credentials change.
	Unauthorized
	// NotFound is 404/410, permanent for that key.
	NotFound
	// Decode means the response body did not have the expected shape.
	Decode
	// Timeout means the request did not complete in time.
	Timeout
	// ServerError is a 5xx response.
	ServerError
	// RateLimited is a 429 response.
	RateLimited
	// Unavailable means the tracker could not be reached at all.
	Unavailable
	// Canceled means the caller gave up on the operation.
	Canceled
)

var kindNames = map[Kind]string{
	Unknown:        "Unknown",
	InvalidRequest: "InvalidRequest",
	Unauthorized:   "Unauthorized",
	NotFound:       "NotFound",
	Decode:         "Decode",
	Timeout:        "Timeout",
	ServerError:    "ServerError",
	RateLimited:    "RateLimited",
	Unavailable:    "Unavailable",
	Canceled:       "Canceled",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Transient reports whether a retry can succeed without caller intervention.
func (k Kind) Transient() bool {
	switch k {
	case Timeout, ServerError, RateLimited, Unavailable:
		return true
	}
	return false
}

// Error is a classified failure. Message carries the tracker's own
// explanation when it sent one.
type Error struct {
	Kind Kind
	// Op names the operation, e.g. "get issue".
	Op  string
	Key string
	// StatusCode is zero when no response was received.
	StatusCode int
	Message    string
	// RetryAfter is the server-requested delay for RateLimited errors.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		if e.Key != "" {
			b.WriteString(" " + e.Key)
		}
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap classifies err under kind.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Invalid is shorthand for a local InvalidRequest failure.
func Invalid(op, format string, args ...any) *Error {
	return &Error{Kind: InvalidRequest, Op: op, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return Unknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return KindOf(err).Transient()
}

// RetryAfterOf returns the server-requested delay carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}

// FromStatus classifies a non-2xx response. Operation-specific meanings
// of a status (404 on an update, for example) are applied by the caller
// on top of this default mapping.
func FromStatus(op string, status int, header http.Header, message string, now time.Time) *Error {
	e := &Error{Op: op, StatusCode: status, Message: message}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = Unauthorized
	case status == http.StatusNotFound || status == http.StatusGone:
		e.Kind = NotFound
	case status == http.StatusTooManyRequests:
		e.Kind = RateLimited
		e.RetryAfter = ParseRetryAfter(header, now)
	case status == http.StatusRequestTimeout:
		e.Kind = Timeout
	case status >= 500:
		e.Kind = ServerError
	case status >= 400:
		e.Kind = InvalidRequest
	default:
		// 1xx and 3xx reach us only when the tracker misbehaves.
		e.Kind = Decode
	}
	return e
}

// ParseRetryAfter reads the Retry-After header, which is either a number of
// seconds or an HTTP date. Returns zero when the header is absent or useless.
func ParseRetryAfter(header http.Header, now time.Time) time.Duration {
	value := strings.TrimSpace(header.Get("Retry-After"))
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

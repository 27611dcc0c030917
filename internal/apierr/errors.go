// Package apierr classifies failures from the work-tracking system and the
// code-hosting platform into a small set of kinds that callers branch on.
package apierr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind tags a platform failure.
type Kind int

const (
	// Unknown is any failure that fits no other kind.
	Unknown Kind = iota
	// Configuration means a required credential or setting is missing.
	// Fatal to the operation that needs it, never retried.
	Configuration
	// Transient covers network failures, rate limits and 5xx responses.
	Transient
	// Conflict covers concurrent mutation, e.g. a ref that already exists.
	Conflict
	// NotFound means the addressed resource does not exist.
	NotFound
	// Unauthorized means the credentials were rejected.
	Unauthorized
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration"
	case Transient:
		return "transient"
	case Conflict:
		return "conflict"
	case NotFound:
		return "not_found"
	case Unauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Error is a classified platform failure.
type Error struct {
	Kind       Kind
	Op         string        // e.g. "github.create_ref"
	Status     int           // HTTP status, 0 when no response was received
	RetryAfter time.Duration // server-advised wait for rate limits
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("%s: %s (status %d): %v", e.Op, e.Kind, e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Configurationf reports a missing or invalid setting.
func Configurationf(op, format string, args ...interface{}) *Error {
	return New(Configuration, op, fmt.Errorf(format, args...))
}

// FromStatus classifies an HTTP response status.
func FromStatus(op string, status int, err error) *Error {
	return &Error{Kind: KindForStatus(status), Op: op, Status: status, Err: err}
}

// KindForStatus maps an HTTP status to a Kind. 403 is treated as
// unauthorized; callers that can tell a rate-limit 403 apart override it.
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return Unauthorized
	case status == http.StatusNotFound:
		return NotFound
	case status == http.StatusConflict, status == http.StatusUnprocessableEntity:
		return Conflict
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return Transient
	default:
		return Unknown
	}
}

// FromTransport classifies an error returned before any response arrived.
// Timeouts and network failures are transient; cancellation is not.
func FromTransport(op string, err error) *Error {
	if errors.Is(err, context.Canceled) {
		return New(Unknown, op, err)
	}
	return New(Transient, op, err)
}

// KindOf returns the kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

func IsConflict(err error) bool     { return KindOf(err) == Conflict }
func IsNotFound(err error) bool     { return KindOf(err) == NotFound }
func IsTransient(err error) bool    { return KindOf(err) == Transient }
func IsUnauthorized(err error) bool { return KindOf(err) == Unauthorized }
func IsConfiguration(err error) bool {
	return KindOf(err) == Configuration
}

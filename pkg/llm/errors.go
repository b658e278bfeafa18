package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrorKind classifies an upstream failure by how a caller should react.
type ErrorKind int

const (
	// KindUnknown is any failure the adapter could not categorize.
	KindUnknown ErrorKind = iota
	// KindTransient covers network errors, timeouts and 5xx-class responses.
	KindTransient
	// KindRateLimited is an explicit throttle signal from the service.
	KindRateLimited
	// KindAuthentication is an invalid or missing credential.
	KindAuthentication
	// KindMalformed is a response that cannot be parsed into a reply.
	KindMalformed
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindAuthentication:
		return "authentication"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Retryable reports whether a failure of this kind may succeed on retry.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindAuthentication, KindMalformed:
		return false
	default:
		return true
	}
}

// Error is a classified provider failure.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	// RetryAfter is the service's requested wait, zero when absent.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm %s error (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("llm %s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a classification.
func NewError(kind ErrorKind, status int, err error) *Error {
	return &Error{Kind: kind, StatusCode: status, Err: err}
}

// Classify returns the kind carried by err. Errors that were not classified
// by an adapter are mapped conservatively: deadlines and network timeouts
// are transient, anything else is unknown.
func Classify(err error) ErrorKind {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}
	return KindUnknown
}

// RetryAfterHint returns the retry-after duration carried by err, if any.
func RetryAfterHint(err error) time.Duration {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.RetryAfter
	}
	return 0
}

package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind classifies a fetch failure for retry decisions.
type Kind string

const (
	// KindNetwork covers connection failures, resets and timeouts.
	KindNetwork Kind = "network"

	// KindRateLimited means the platform asked us to slow down (429).
	KindRateLimited Kind = "rate_limited"

	// KindServer covers platform-side failures (5xx).
	KindServer Kind = "server"

	// KindAuth means credentials were rejected (401/403). Not retryable:
	// hammering the platform with bad credentials only gets accounts locked.
	KindAuth Kind = "auth"

	// KindProtocol means the response could not be understood (malformed
	// body, unexpected status). Not retryable: the same request would
	// fail the same way.
	KindProtocol Kind = "protocol"
)

// Error carries the structured failure shape from a transport back to the
// polling session. Transports return this instead of raw HTTP details,
// keeping sessions decoupled from the wire.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int           // HTTP status when one was received, else 0
	RetryAfter time.Duration // server-requested wait on rate limits, else 0
	Err        error         // underlying cause, if any
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (%s, status %d)", e.Message, e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is transient.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindAuth, KindProtocol:
		return false
	}
	return true
}

// Retryable reports whether err should be retried. Cancellation is never
// retried; unclassified errors count as transient, since treating an unknown
// failure as fatal would park sessions that could have recovered.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Retryable()
	}
	return true
}

// KindOf returns err's classification. Foreign errors classify as network,
// matching the retry default.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindNetwork
}

// RetryAfterOf returns the server-requested wait carried by err, or zero.
func RetryAfterOf(err error) time.Duration {
	var te *Error
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}

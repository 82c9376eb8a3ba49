package proxy

import (
	"errors"
	"fmt"
)

// Sentinel errors for proxy operations.
var (
	// ErrInvalidTargetURL indicates that the upstream URL is missing or not absolute.
	ErrInvalidTargetURL = errors.New("invalid upstream URL")

	// ErrUpstreamStatus marks an upstream response with a 5xx status. It
	// counts as a failure for the circuit breaker.
	ErrUpstreamStatus = errors.New("upstream returned server error")
)

// StatusError records a 5xx upstream status.
type StatusError struct {
	Status int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %d", ErrUpstreamStatus, e.Status)
}

// Unwrap returns ErrUpstreamStatus.
func (e *StatusError) Unwrap() error {
	return ErrUpstreamStatus
}

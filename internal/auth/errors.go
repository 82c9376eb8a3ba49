package auth

import (
	"errors"
	"strings"
)

// ErrRejected is the only error callers see for a failed dual
// authentication.
var ErrRejected = errors.New("authentication required")

// Key failure reasons.
const (
	keyReasonMissing = "key_missing"
	keyReasonInvalid = "key_invalid"
)

// serviceMismatch is recorded when a token verifies but names no accepted
// service in its audience or service claim.
const serviceMismatch = "service_mismatch"

// RejectionError records why a request was rejected. Its message is
// generic; the reasons are for logs and metrics only.
type RejectionError struct {
	TokenReason string
	KeyReason   string
	TokenErr    error
}

// Error implements the error interface.
func (e *RejectionError) Error() string {
	return ErrRejected.Error()
}

// Is matches ErrRejected.
func (e *RejectionError) Is(target error) bool {
	return target == ErrRejected
}

// Unwrap returns the token validation error, if any.
func (e *RejectionError) Unwrap() error {
	return e.TokenErr
}

// Reason joins the non-empty token and key reasons, e.g.
// "invalid_signature+key_missing".
func (e *RejectionError) Reason() string {
	parts := make([]string, 0, 2)
	if e.TokenReason != "" {
		parts = append(parts, e.TokenReason)
	}
	if e.KeyReason != "" {
		parts = append(parts, e.KeyReason)
	}
	return strings.Join(parts, "+")
}

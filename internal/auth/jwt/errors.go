package jwt

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the validator. Callers outside this package
// must not expose which one occurred.
var (
	// ErrInvalidHeader indicates a missing or blank Authorization header,
	// or a scheme other than Bearer.
	ErrInvalidHeader = errors.New("invalid authorization header")

	// ErrInvalidToken indicates an empty token after the scheme prefix.
	ErrInvalidToken = errors.New("invalid token")

	// ErrSignatureOrExpiry indicates the token failed signature, issuer,
	// audience, or expiry verification, or could not be decoded at all.
	ErrSignatureOrExpiry = errors.New("token signature or expiry check failed")

	// ErrSecretTooShort is returned at construction time for secrets
	// shorter than MinSecretLength.
	ErrSecretTooShort = errors.New("signing secret is too short")
)

// ValidationError carries the specific reason a token was refused. It
// matches its Kind sentinel under errors.Is.
type ValidationError struct {
	Kind   error
	Reason string
	Cause  error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Reason)
}

// Unwrap returns the sentinel kind and the underlying cause.
func (e *ValidationError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func newValidationError(kind error, reason string, cause error) *ValidationError {
	return &ValidationError{Kind: kind, Reason: reason, Cause: cause}
}

// Reason returns a short, stable reason code for logs and metric labels.
func Reason(err error) string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Reason
	}
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidHeader):
		return "invalid_header"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	default:
		return "signature_or_expiry"
	}
}

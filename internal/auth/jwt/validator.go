package jwt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	jwtx "github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/vyrodovalexey/apiguard/internal/observability"
)

// MinSecretLength is the minimum HS256 secret length in bytes.
const MinSecretLength = 32

const bearerPrefix = "Bearer "

// Config configures token validation.
type Config struct {
	Secret   []byte
	Issuer   string
	Audience string

	// Lifetime bounds tokens that carry iat but no exp. Zero disables the
	// fallback, and such tokens are refused.
	Lifetime time.Duration
}

// Validator validates the raw value of an Authorization header.
type Validator interface {
	Validate(ctx context.Context, header string) (*Claims, error)
}

type validator struct {
	secret   []byte
	issuer   string
	audience string
	lifetime time.Duration
	now      func() time.Time
	logger   observability.Logger
}

// ValidatorOption is a functional option for the validator.
type ValidatorOption func(*validator)

// WithValidatorLogger sets the logger for the validator.
func WithValidatorLogger(logger observability.Logger) ValidatorOption {
	return func(v *validator) {
		v.logger = logger
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *validator) {
		v.now = now
	}
}

// NewValidator creates an HS256 validator. It fails if the secret is
// shorter than MinSecretLength or the issuer or audience is empty.
func NewValidator(cfg Config, opts ...ValidatorOption) (Validator, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: got %d bytes, need at least %d",
			ErrSecretTooShort, len(cfg.Secret), MinSecretLength)
	}
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, errors.New("issuer and audience are required")
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	v := &validator{
		secret:   secret,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		lifetime: cfg.Lifetime,
		now:      time.Now,
		logger:   observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(v)
	}

	return v, nil
}

// Validate checks the Bearer scheme, then verifies the token's signature,
// issuer, audience, and expiry. Every check must pass.
func (v *validator) Validate(_ context.Context, header string) (*Claims, error) {
	token, err := extractBearer(header)
	if err != nil {
		return nil, err
	}

	now := v.now()
	parsed, err := jwtx.Parse([]byte(token),
		jwtx.WithKey(jwa.HS256, v.secret),
		jwtx.WithValidate(true),
		jwtx.WithIssuer(v.issuer),
		jwtx.WithClock(jwtx.ClockFunc(func() time.Time { return now })),
	)
	if err != nil {
		return nil, newValidationError(ErrSignatureOrExpiry, parseReason(err), err)
	}

	if err := v.checkAudience(parsed.Audience()); err != nil {
		return nil, err
	}
	if err := v.checkLifetime(parsed, now); err != nil {
		return nil, err
	}

	claims := &Claims{
		Issuer:    parsed.Issuer(),
		Subject:   parsed.Subject(),
		Audience:  parsed.Audience(),
		ExpiresAt: parsed.Expiration(),
		IssuedAt:  parsed.IssuedAt(),
		Extra:     parsed.PrivateClaims(),
	}

	v.logger.Debug("token validated",
		observability.String("subject", claims.Subject),
		observability.String("issuer", claims.Issuer),
	)

	return claims, nil
}

// extractBearer strips a case-insensitive "Bearer " prefix.
func extractBearer(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", newValidationError(ErrInvalidHeader, "missing_header", nil)
	}
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", newValidationError(ErrInvalidHeader, "wrong_scheme", nil)
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", newValidationError(ErrInvalidToken, "empty_token", nil)
	}
	return token, nil
}

// checkAudience requires a single audience equal to the configured one.
func (v *validator) checkAudience(aud []string) error {
	if len(aud) != 1 || aud[0] != v.audience {
		return newValidationError(ErrSignatureOrExpiry, "invalid_audience",
			fmt.Errorf("audience %q does not match", strings.Join(aud, ",")))
	}
	return nil
}

// checkLifetime refuses tokens without exp unless iat plus the configured
// lifetime is still in the future. A token carrying neither exp nor iat
// would never expire, so it is refused as missing_expiry rather than
// accepted.
func (v *validator) checkLifetime(tok jwtx.Token, now time.Time) error {
	if !tok.Expiration().IsZero() {
		return nil
	}
	iat := tok.IssuedAt()
	if iat.IsZero() || v.lifetime <= 0 {
		return newValidationError(ErrSignatureOrExpiry, "missing_expiry", nil)
	}
	if !now.Before(iat.Add(v.lifetime)) {
		return newValidationError(ErrSignatureOrExpiry, "expired", nil)
	}
	return nil
}

func parseReason(err error) string {
	switch {
	case errors.Is(err, jwtx.ErrTokenExpired()):
		return "expired"
	case errors.Is(err, jwtx.ErrInvalidIssuer()):
		return "invalid_issuer"
	case errors.Is(err, jwtx.ErrTokenNotYetValid()), errors.Is(err, jwtx.ErrInvalidIssuedAt()):
		return "not_yet_valid"
	default:
		return "invalid_signature"
	}
}

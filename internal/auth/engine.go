package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/vyrodovalexey/apiguard/internal/auth/jwt"
	"github.com/vyrodovalexey/apiguard/internal/observability"
)

// DefaultAcceptedServices are the service identifiers accepted when none
// are configured.
var DefaultAcceptedServices = []string{"rag-service", "rag"}

// Outcome is the result of a decision.
type Outcome int

const (
	// OutcomeRejected means the request must not reach the downstream
	// handler. It is the zero value.
	OutcomeRejected Outcome = iota
	// OutcomeAuthenticated means both credentials validated.
	OutcomeAuthenticated
	// OutcomeBypassed means the request is public or a preflight and no
	// decision was made.
	OutcomeBypassed
)

// String returns the outcome label used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case OutcomeAuthenticated:
		return "authenticated"
	case OutcomeBypassed:
		return "bypassed"
	default:
		return "rejected"
	}
}

// Credentials is the transport-neutral view of a request.
type Credentials struct {
	Method        string
	Path          string
	Authorization string
	APIKey        string
}

// Decision is the engine's verdict for one request.
type Decision struct {
	Outcome   Outcome
	Principal *Principal
	Err       *RejectionError
}

// KeyValidator checks static API keys.
type KeyValidator interface {
	IsValid(key string) bool
	HeaderName() string
}

// Engine combines the token and key validators into one decision.
type Engine struct {
	tokens   jwt.Validator
	keys     KeyValidator
	accepted []string
	public   *PathMatcher
	logger   observability.Logger
	metrics  *observability.Metrics
}

// EngineOption is a functional option for the engine.
type EngineOption func(*Engine)

// WithAcceptedServices sets the service identifiers a token must name.
func WithAcceptedServices(services []string) EngineOption {
	return func(e *Engine) {
		if len(services) > 0 {
			e.accepted = append([]string(nil), services...)
		}
	}
}

// WithPublicPaths sets the paths that bypass authentication.
func WithPublicPaths(m *PathMatcher) EngineOption {
	return func(e *Engine) {
		e.public = m
	}
}

// WithEngineLogger sets the logger for the engine.
func WithEngineLogger(logger observability.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithEngineMetrics sets the metrics sink for the engine.
func WithEngineMetrics(m *observability.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates a decision engine.
func NewEngine(tokens jwt.Validator, keys KeyValidator, opts ...EngineOption) *Engine {
	e := &Engine{
		tokens:   tokens,
		keys:     keys,
		accepted: DefaultAcceptedServices,
		logger:   observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// KeyHeader returns the header that carries the API key.
func (e *Engine) KeyHeader() string {
	return e.keys.HeaderName()
}

// IsPublic reports whether a request bypasses authentication: preflight
// requests and allow-listed paths.
func (e *Engine) IsPublic(method, path string) bool {
	if method == http.MethodOptions {
		return true
	}
	return e.public.Match(CleanPath(path))
}

// Decide evaluates both credentials and returns the decision. It never
// returns OutcomeAuthenticated unless both validators accepted.
func (e *Engine) Decide(ctx context.Context, cred Credentials) Decision {
	if e.IsPublic(cred.Method, cred.Path) {
		return Decision{Outcome: OutcomeBypassed}
	}

	// Both checks run unconditionally.
	claims, tokenErr := e.tokens.Validate(ctx, cred.Authorization)
	keyValid := e.keys.IsValid(cred.APIKey)

	tokenReason := ""
	switch {
	case tokenErr != nil:
		tokenReason = jwt.Reason(tokenErr)
	case !e.servesAcceptedService(claims):
		tokenReason = serviceMismatch
	}

	keyReason := ""
	switch {
	case cred.APIKey == "":
		keyReason = keyReasonMissing
	case !keyValid:
		keyReason = keyReasonInvalid
	}

	logger := e.logger.WithContext(ctx)

	if tokenReason == "" && keyValid {
		p := newPrincipal(claims)
		e.metrics.RecordAuthDecision(OutcomeAuthenticated.String(), "")
		logger.Debug("authentication succeeded",
			observability.String("principal", p.Subject),
		)
		return Decision{Outcome: OutcomeAuthenticated, Principal: p}
	}

	rej := &RejectionError{
		TokenReason: tokenReason,
		KeyReason:   keyReason,
		TokenErr:    tokenErr,
	}
	e.metrics.RecordAuthDecision(OutcomeRejected.String(), rej.Reason())
	logger.Warn("authentication failed",
		observability.Bool("token_valid", tokenReason == ""),
		observability.Bool("api_key_valid", keyValid),
		observability.String("reason", rej.Reason()),
		observability.String("path", cred.Path),
	)
	return Decision{Outcome: OutcomeRejected, Err: rej}
}

// servesAcceptedService reports whether the token's audience or service
// claim names an accepted service, ignoring case.
func (e *Engine) servesAcceptedService(claims *jwt.Claims) bool {
	if claims == nil {
		return false
	}
	service := claims.Service()
	for _, accepted := range e.accepted {
		if service != "" && strings.EqualFold(service, accepted) {
			return true
		}
		for _, aud := range claims.Audience {
			if strings.EqualFold(aud, accepted) {
				return true
			}
		}
	}
	return false
}

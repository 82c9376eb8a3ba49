package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// MinSecretLength is the minimum length in bytes of the token signing secret.
const MinSecretLength = 32

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, e[i].Error())
	}
	return sb.String()
}

// HasErrors returns true if there are validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates gateway configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateConfig validates a gateway configuration.
func ValidateConfig(cfg *Config) error {
	return NewValidator().Validate(cfg)
}

// Validate validates the configuration and returns any errors.
func (v *Validator) Validate(cfg *Config) error {
	v.errors = nil

	if cfg == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	v.validateJWT(&cfg.JWT, cfg.Vault.Enabled)
	v.validateAPIKey(&cfg.APIKey, cfg.Vault.Enabled)
	v.validateRateLimit(&cfg.RateLimit)
	v.validatePublicPaths(cfg.PublicPaths)
	v.validateServer(&cfg.Server)
	v.validateCORS(&cfg.CORS)
	v.validateUpstream(&cfg.Upstream)
	v.validateRedis(cfg)
	v.validateVault(&cfg.Vault)
	v.validateGRPC(&cfg.GRPC)
	v.validateTracing(&cfg.Tracing)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if cfg.Address == "" {
		v.addError("server.address", "is required")
	}
	for i, cidr := range cfg.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil && net.ParseIP(cidr) == nil {
			v.addError(fmt.Sprintf("server.trustedProxies[%d]", i), "must be an IP or CIDR")
		}
	}
}

func (v *Validator) validateCORS(cfg *CORSConfig) {
	for i, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			v.addError(fmt.Sprintf("cors.allowedOrigins[%d]", i), "wildcard is not allowed with credentials")
			continue
		}
		if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			v.addError(fmt.Sprintf("cors.allowedOrigins[%d]", i), "must start with http:// or https://")
		}
	}
	if cfg.MaxAge < 0 {
		v.addError("cors.maxAge", "must not be negative")
	}
}

func (v *Validator) validateJWT(cfg *JWTConfig, fromVault bool) {
	// With Vault enabled the secret is supplied at startup; the token
	// validator enforces the length again at construction.
	switch {
	case cfg.Secret == "" && !fromVault:
		v.addError("jwt.secret", "is required")
	case cfg.Secret != "" && len(cfg.Secret) < MinSecretLength:
		v.addError("jwt.secret", fmt.Sprintf("must be at least %d bytes", MinSecretLength))
	}
	if cfg.Issuer == "" {
		v.addError("jwt.issuer", "is required")
	}
	if cfg.Audience == "" {
		v.addError("jwt.audience", "is required")
	}
	if cfg.Lifetime < 0 {
		v.addError("jwt.lifetime", "must not be negative")
	}
	if len(cfg.AcceptedServiceList()) == 0 {
		v.addError("jwt.acceptedServices", "at least one service identifier is required")
	}
}

func (v *Validator) validateAPIKey(cfg *APIKeyConfig, fromVault bool) {
	if strings.TrimSpace(cfg.Header) == "" {
		v.addError("apiKey.header", "is required")
	}
	if len(cfg.KeyList()) == 0 && !fromVault {
		v.addError("apiKey.keys", "at least one key is required")
	}
}

func (v *Validator) validateRateLimit(cfg *RateLimitConfig) {
	switch cfg.Strategy {
	case StrategyInterval, StrategyGreedy, StrategyRedis:
	default:
		v.addError("rateLimit.strategy", fmt.Sprintf("unknown strategy %q", cfg.Strategy))
	}
	if cfg.Capacity <= 0 {
		v.addError("rateLimit.capacity", "must be positive")
	}
	if cfg.RefillTokens <= 0 {
		v.addError("rateLimit.refillTokens", "must be positive")
	}
	if cfg.RefillPeriod.Duration() <= 0 {
		v.addError("rateLimit.refillPeriod", "must be positive")
	}
	if !strings.HasPrefix(cfg.ProtectedPrefix, "/") {
		v.addError("rateLimit.protectedPrefix", "must start with /")
	}
	if cfg.BucketTTL < 0 {
		v.addError("rateLimit.bucketTTL", "must not be negative")
	}
}

func (v *Validator) validatePublicPaths(paths []string) {
	for i, p := range paths {
		if !strings.HasPrefix(p, "/") {
			v.addError(fmt.Sprintf("publicPaths[%d]", i), "must start with /")
		}
	}
}

func (v *Validator) validateUpstream(cfg *UpstreamConfig) {
	if cfg.URL != "" {
		u, err := url.Parse(cfg.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			v.addError("upstream.url", "must be an absolute URL")
		}
	}

	cb := &cfg.CircuitBreaker
	if !cb.Enabled {
		return
	}
	if cb.FailureRatio <= 0 || cb.FailureRatio > 1 {
		v.addError("upstream.circuitBreaker.failureRatio", "must be in (0, 1]")
	}
	if cb.MinRequests <= 0 {
		v.addError("upstream.circuitBreaker.minRequests", "must be positive")
	}
	if cb.Timeout.Duration() <= 0 {
		v.addError("upstream.circuitBreaker.timeout", "must be positive")
	}
}

func (v *Validator) validateRedis(cfg *Config) {
	if cfg.RateLimit.Strategy == StrategyRedis && cfg.Redis.Address == "" {
		v.addError("redis.address", "is required for the redis strategy")
	}
}

func (v *Validator) validateVault(cfg *VaultConfig) {
	if !cfg.Enabled {
		return
	}
	if cfg.Mount == "" {
		v.addError("vault.mount", "is required when vault is enabled")
	}
	if cfg.Path == "" {
		v.addError("vault.path", "is required when vault is enabled")
	}
}

func (v *Validator) validateGRPC(cfg *GRPCConfig) {
	if cfg.Enabled && cfg.Address == "" {
		v.addError("grpc.address", "is required when grpc is enabled")
	}
}

func (v *Validator) validateTracing(cfg *TracingConfig) {
	if cfg.SamplingRate < 0 || cfg.SamplingRate > 1 {
		v.addError("tracing.samplingRate", "must be in [0, 1]")
	}
}

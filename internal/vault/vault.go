// Package vault loads the gateway's credentials from a HashiCorp Vault KV
// v2 secret at startup.
//
// The secret may carry two string fields:
//
//   - jwtSecret: the HS256 signing secret
//   - apiKeys: the comma-separated static API keys
//
// A field that is absent or empty leaves the file configuration in place.
package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/vyrodovalexey/apiguard/internal/config"
	"github.com/vyrodovalexey/apiguard/internal/observability"
)

// Secret field names.
const (
	FieldJWTSecret = "jwtSecret"
	FieldAPIKeys   = "apiKeys"
)

// Common errors for Vault operations.
var (
	// ErrSecretNotFound indicates the secret was not found.
	ErrSecretNotFound = errors.New("vault: secret not found")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("vault: invalid configuration")

	// ErrMalformedSecret indicates the secret is not a KV v2 payload.
	ErrMalformedSecret = errors.New("vault: malformed secret")
)

// Error represents a Vault-specific error with additional context.
type Error struct {
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("vault %s on path %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Credentials holds the values read from Vault. Empty fields were absent.
type Credentials struct {
	JWTSecret string
	APIKeys   string
}

// Loader reads credentials from one KV v2 secret.
type Loader struct {
	api    *vaultapi.Client
	mount  string
	path   string
	logger observability.Logger
}

// NewLoader creates a loader from configuration.
func NewLoader(cfg config.VaultConfig, logger observability.Logger) (*Loader, error) {
	if cfg.Mount == "" || cfg.Path == "" {
		return nil, fmt.Errorf("%w: mount and path are required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	apiConfig := vaultapi.DefaultConfig()
	if cfg.Address != "" {
		apiConfig.Address = cfg.Address
	}

	api, err := vaultapi.NewClient(apiConfig)
	if err != nil {
		return nil, &Error{Op: "init", Path: cfg.Path, Err: err}
	}
	if cfg.Token != "" {
		api.SetToken(cfg.Token)
	}

	return &Loader{
		api:    api,
		mount:  cfg.Mount,
		path:   cfg.Path,
		logger: logger.With(observability.String("component", "vault")),
	}, nil
}

// Load reads the secret.
func (l *Loader) Load(ctx context.Context) (*Credentials, error) {
	fullPath := JoinPath(l.mount, "data", l.path)
	l.logger.Debug("reading credentials", observability.String("path", fullPath))

	secret, err := l.api.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		return nil, &Error{Op: "read", Path: fullPath, Err: err}
	}
	if secret == nil || secret.Data == nil {
		return nil, &Error{Op: "read", Path: fullPath, Err: ErrSecretNotFound}
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, &Error{Op: "read", Path: fullPath, Err: ErrMalformedSecret}
	}

	creds := &Credentials{
		JWTSecret: stringField(data, FieldJWTSecret),
		APIKeys:   stringField(data, FieldAPIKeys),
	}

	l.logger.Info("credentials loaded from vault",
		observability.String("path", fullPath),
		observability.Bool("jwt_secret", creds.JWTSecret != ""),
		observability.Int("api_keys", len(config.SplitList(creds.APIKeys))),
	)
	return creds, nil
}

// Apply overlays non-empty credentials onto cfg.
func (c *Credentials) Apply(cfg *config.Config) {
	if c.JWTSecret != "" {
		cfg.JWT.Secret = c.JWTSecret
	}
	if c.APIKeys != "" {
		cfg.APIKey.Keys = c.APIKeys
	}
}

// JoinPath joins path segments, trimming slashes and skipping empties.
func JoinPath(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "/")
}

func stringField(data map[string]interface{}, key string) string {
	s, _ := data[key].(string)
	return strings.TrimSpace(s)
}

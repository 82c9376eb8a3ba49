package config

import (
	"strings"
	"time"
)

// Rate limit strategies.
const (
	StrategyInterval = "interval"
	StrategyGreedy   = "greedy"
	StrategyRedis    = "redis"
)

// Defaults applied by DefaultConfig.
const (
	DefaultAPIKeyHeader    = "x-api-key"
	DefaultProtectedPrefix = "/api/"
	DefaultHealthPath      = "/actuator/health"
	DefaultTokenLifetime   = time.Hour
	DefaultCapacity        = 100
	DefaultRefillTokens    = 100
	DefaultRefillPeriod    = time.Minute
	DefaultBucketTTL       = 10 * time.Minute
)

// Config is the root gateway configuration.
type Config struct {
	Server      ServerConfig    `yaml:"server" json:"server"`
	JWT         JWTConfig       `yaml:"jwt" json:"jwt"`
	APIKey      APIKeyConfig    `yaml:"apiKey" json:"apiKey"`
	RateLimit   RateLimitConfig `yaml:"rateLimit" json:"rateLimit"`
	PublicPaths []string        `yaml:"publicPaths" json:"publicPaths"`
	Security    SecurityConfig  `yaml:"security" json:"security"`
	CORS        CORSConfig      `yaml:"cors" json:"cors"`
	Upstream    UpstreamConfig  `yaml:"upstream" json:"upstream"`
	Redis       RedisConfig     `yaml:"redis" json:"redis"`
	Vault       VaultConfig     `yaml:"vault" json:"vault"`
	GRPC        GRPCConfig      `yaml:"grpc" json:"grpc"`
	Logging     LoggingConfig   `yaml:"logging" json:"logging"`
	Tracing     TracingConfig   `yaml:"tracing" json:"tracing"`
	Metrics     MetricsConfig   `yaml:"metrics" json:"metrics"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address         string   `yaml:"address" json:"address"`
	ReadTimeout     Duration `yaml:"readTimeout" json:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout" json:"writeTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout" json:"shutdownTimeout"`

	// TrustedProxies lists proxy CIDRs whose X-Forwarded-For is honored
	// when deriving the client address. Empty means only the socket peer
	// address is used.
	TrustedProxies []string `yaml:"trustedProxies" json:"trustedProxies"`
}

// JWTConfig configures signed-token validation.
type JWTConfig struct {
	// Secret is the HMAC-SHA-256 signing secret. At least 32 bytes.
	Secret   string   `yaml:"secret" json:"-"`
	Issuer   string   `yaml:"issuer" json:"issuer"`
	Audience string   `yaml:"audience" json:"audience"`
	Lifetime Duration `yaml:"lifetime" json:"lifetime"`

	// AcceptedServices lists the service identifiers a token's audience or
	// service claim must match. Comma-separated.
	AcceptedServices string `yaml:"acceptedServices" json:"acceptedServices"`
}

// AcceptedServiceList returns the accepted service identifiers.
func (c JWTConfig) AcceptedServiceList() []string {
	return SplitList(c.AcceptedServices)
}

// APIKeyConfig configures static API key validation.
type APIKeyConfig struct {
	// Keys is a comma-separated list of accepted keys.
	Keys   string `yaml:"keys" json:"-"`
	Header string `yaml:"header" json:"header"`
}

// KeyList returns the configured keys.
func (c APIKeyConfig) KeyList() []string {
	return SplitList(c.Keys)
}

// RateLimitConfig configures per-principal token buckets.
type RateLimitConfig struct {
	Strategy        string   `yaml:"strategy" json:"strategy"`
	Capacity        int      `yaml:"capacity" json:"capacity"`
	RefillTokens    int      `yaml:"refillTokens" json:"refillTokens"`
	RefillPeriod    Duration `yaml:"refillPeriod" json:"refillPeriod"`
	ProtectedPrefix string   `yaml:"protectedPrefix" json:"protectedPrefix"`
	BucketTTL       Duration `yaml:"bucketTTL" json:"bucketTTL"`
}

// SecurityConfig configures the response hardening and fallback policy.
type SecurityConfig struct {
	// DenyUnmatched rejects with 403 any path that is neither public nor
	// under the protected prefix.
	DenyUnmatched bool `yaml:"denyUnmatched" json:"denyUnmatched"`
}

// CORSConfig configures cross-origin resource sharing.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowedOrigins" json:"allowedOrigins"`
	MaxAge         Duration `yaml:"maxAge" json:"maxAge"`
}

// UpstreamConfig configures the downstream service requests are forwarded to.
type UpstreamConfig struct {
	URL            string               `yaml:"url" json:"url"`
	Timeout        Duration             `yaml:"timeout" json:"timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker" json:"circuitBreaker"`
}

// CircuitBreakerConfig configures the upstream circuit breaker.
type CircuitBreakerConfig struct {
	Enabled      bool     `yaml:"enabled" json:"enabled"`
	MaxRequests  int      `yaml:"maxRequests" json:"maxRequests"`
	Interval     Duration `yaml:"interval" json:"interval"`
	Timeout      Duration `yaml:"timeout" json:"timeout"`
	FailureRatio float64  `yaml:"failureRatio" json:"failureRatio"`
	MinRequests  int      `yaml:"minRequests" json:"minRequests"`
}

// RedisConfig configures the shared bucket store used by the redis strategy.
type RedisConfig struct {
	Address   string `yaml:"address" json:"address"`
	Password  string `yaml:"password" json:"-"`
	DB        int    `yaml:"db" json:"db"`
	KeyPrefix string `yaml:"keyPrefix" json:"keyPrefix"`
}

// VaultConfig configures loading credentials from a Vault KV v2 secret.
type VaultConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address" json:"address"`
	Token   string `yaml:"token" json:"-"`
	Mount   string `yaml:"mount" json:"mount"`
	Path    string `yaml:"path" json:"path"`
}

// GRPCConfig configures the optional gRPC listener.
type GRPCConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Address  string `yaml:"address" json:"address"`
	Upstream string `yaml:"upstream" json:"upstream"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	ServiceName  string  `yaml:"serviceName" json:"serviceName"`
	OTLPEndpoint string  `yaml:"otlpEndpoint" json:"otlpEndpoint"`
	SamplingRate float64 `yaml:"samplingRate" json:"samplingRate"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address" json:"address"`
	Path    string `yaml:"path" json:"path"`
}

// DefaultConfig returns a configuration with all defaults applied. The
// signing secret and key set have no defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(30 * time.Second),
		},
		JWT: JWTConfig{
			Lifetime:         Duration(DefaultTokenLifetime),
			AcceptedServices: "rag-service,rag",
		},
		APIKey: APIKeyConfig{
			Header: DefaultAPIKeyHeader,
		},
		RateLimit: RateLimitConfig{
			Strategy:        StrategyInterval,
			Capacity:        DefaultCapacity,
			RefillTokens:    DefaultRefillTokens,
			RefillPeriod:    Duration(DefaultRefillPeriod),
			ProtectedPrefix: DefaultProtectedPrefix,
			BucketTTL:       Duration(DefaultBucketTTL),
		},
		PublicPaths: []string{
			DefaultHealthPath,
			"/swagger-ui/**",
			"/v3/api-docs/**",
			"/favicon.ico",
		},
		Security: SecurityConfig{
			DenyUnmatched: true,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:3000"},
			MaxAge:         Duration(time.Hour),
		},
		Upstream: UpstreamConfig{
			Timeout: Duration(30 * time.Second),
			CircuitBreaker: CircuitBreakerConfig{
				MaxRequests:  1,
				Interval:     Duration(time.Minute),
				Timeout:      Duration(30 * time.Second),
				FailureRatio: 0.5,
				MinRequests:  10,
			},
		},
		Redis: RedisConfig{
			Address:   "localhost:6379",
			KeyPrefix: "apiguard:rl:",
		},
		Vault: VaultConfig{
			Mount: "secret",
			Path:  "apiguard",
		},
		GRPC: GRPCConfig{
			Address: ":9090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Tracing: TracingConfig{
			ServiceName:  "apiguard",
			SamplingRate: 1.0,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: ":9091",
			Path:    "/metrics",
		},
	}
}

// SplitList splits a comma-separated list, trimming whitespace and dropping
// empty entries.
func SplitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Package config loads the YAML settings of the settler HTTP gateway.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RateLimitConfig struct {
	ID                string  `yaml:"id"`
	RequestsPerMinute float64 `yaml:"requestsPerMinute"`
	RatePerSecond     float64 `yaml:"ratePerSecond"`
	Burst             int     `yaml:"burst"`
}

type ObservabilityConfig struct {
	ServiceName   string `yaml:"serviceName"`
	Metrics       bool   `yaml:"metrics"`
	Tracing       bool   `yaml:"tracing"`
	LogRequests   bool   `yaml:"logRequests"`
	MetricsPrefix string `yaml:"metricsPrefix"`
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	OTLPHeaders   string `yaml:"otlpHeaders"`
}

type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowedMethods   []string `yaml:"allowedMethods"`
	AllowedHeaders   []string `yaml:"allowedHeaders"`
	AllowCredentials bool     `yaml:"allowCredentials"`
}

// StreamConfig bounds the live tracking sessions served over websockets.
type StreamConfig struct {
	MaxSessions  int           `yaml:"maxSessions"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	// Linger keeps a finished session around so late subscribers still see
	// the terminal state.
	Linger time.Duration `yaml:"linger"`
}

type Config struct {
	ListenAddress   string              `yaml:"listen"`
	ReadTimeout     time.Duration       `yaml:"readTimeout"`
	WriteTimeout    time.Duration       `yaml:"writeTimeout"`
	IdleTimeout     time.Duration       `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration       `yaml:"shutdownTimeout"`
	PublicBaseURL   string              `yaml:"publicBaseURL"`
	IdempotencyTTL  time.Duration       `yaml:"idempotencyTTL"`
	RateLimits      []RateLimitConfig   `yaml:"rateLimits"`
	CORS            CORSConfig          `yaml:"cors"`
	Observability   ObservabilityConfig `yaml:"observability"`
	Auth            AuthConfig          `yaml:"auth"`
	Security        SecurityConfig      `yaml:"security"`
	Stream          StreamConfig        `yaml:"stream"`
}

// AuthConfig guards the operator routes (ledger). Public invoice and
// tracking routes never require a token.
type AuthConfig struct {
	Enabled    bool          `yaml:"enabled"`
	HMACSecret string        `yaml:"hmacSecret"`
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	ScopeClaim string        `yaml:"scopeClaim"`
	ClockSkew  time.Duration `yaml:"clockSkew"`
	enabledSet bool          `yaml:"-"`
}

func (a *AuthConfig) UnmarshalYAML(node *yaml.Node) error {
	type rawAuthConfig struct {
		Enabled    *bool         `yaml:"enabled"`
		HMACSecret string        `yaml:"hmacSecret"`
		Issuer     string        `yaml:"issuer"`
		Audience   string        `yaml:"audience"`
		ScopeClaim string        `yaml:"scopeClaim"`
		ClockSkew  time.Duration `yaml:"clockSkew"`
	}
	var raw rawAuthConfig
	if err := node.Decode(&raw); err != nil {
		return err
	}
	a.Enabled = raw.Enabled != nil && *raw.Enabled
	a.enabledSet = raw.Enabled != nil
	a.HMACSecret = raw.HMACSecret
	a.Issuer = raw.Issuer
	a.Audience = raw.Audience
	a.ScopeClaim = raw.ScopeClaim
	a.ClockSkew = raw.ClockSkew
	return nil
}

type SecurityConfig struct {
	TLSCertFile string `yaml:"tlsCertFile"`
	TLSKeyFile  string `yaml:"tlsKeyFile"`
}

// LedgerScope is the JWT scope required by the ledger routes.
const LedgerScope = "ledger:read"

func defaults() Config {
	return Config{
		ListenAddress:   "127.0.0.1:8090",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		PublicBaseURL:   "http://localhost:8090",
		IdempotencyTTL:  24 * time.Hour,
		RateLimits: []RateLimitConfig{
			{ID: "invoices", RequestsPerMinute: 60, Burst: 10},
			{ID: "track", RequestsPerMinute: 120, Burst: 20},
			{ID: "lookup", RequestsPerMinute: 30, Burst: 5},
		},
		Observability: ObservabilityConfig{
			ServiceName:   "settler-gateway",
			Metrics:       true,
			Tracing:       false,
			LogRequests:   true,
			MetricsPrefix: "settler_gateway",
		},
		Auth: AuthConfig{
			Enabled:    true,
			ScopeClaim: "scope",
			ClockSkew:  2 * time.Minute,
		},
		Stream: StreamConfig{
			MaxSessions:  256,
			WriteTimeout: 5 * time.Second,
			Linger:       time.Minute,
		},
	}
}

// Load decodes path over the defaults; an empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if !cfg.Auth.enabledSet {
		cfg.Auth.Enabled = true
	}
	if cfg.Auth.ClockSkew <= 0 {
		cfg.Auth.ClockSkew = 2 * time.Minute
	}
	if cfg.Auth.ScopeClaim == "" {
		cfg.Auth.ScopeClaim = "scope"
	}
	if cfg.Stream.MaxSessions <= 0 {
		cfg.Stream.MaxSessions = 256
	}
	if cfg.Stream.WriteTimeout <= 0 {
		cfg.Stream.WriteTimeout = 5 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
}

var (
	ErrAuthSecretMissing        = errors.New("auth.hmacSecret is required when auth is enabled")
	ErrAuthEnabledNotConfigured = errors.New("auth.enabled must be explicitly set when TLS is configured")
)

func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return fmt.Errorf("listen address required")
	}
	base, err := url.Parse(strings.TrimSpace(cfg.PublicBaseURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return fmt.Errorf("publicBaseURL must be an absolute URL")
	}
	if cfg.isSensitiveDeployment() && !cfg.Auth.enabledSet {
		return ErrAuthEnabledNotConfigured
	}
	if (cfg.Security.TLSCertFile == "") != (cfg.Security.TLSKeyFile == "") {
		return fmt.Errorf("security.tlsCertFile and security.tlsKeyFile must be set together")
	}
	seen := map[string]struct{}{}
	for i, rl := range cfg.RateLimits {
		id := strings.TrimSpace(rl.ID)
		if id == "" {
			return fmt.Errorf("rateLimits[%d].id cannot be empty", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("rateLimits[%d].id %q duplicated", i, id)
		}
		seen[id] = struct{}{}
		if rl.RequestsPerMinute < 0 || rl.RatePerSecond < 0 || rl.Burst < 0 {
			return fmt.Errorf("rateLimits[%d] must not be negative", i)
		}
	}
	return nil
}

// RequireSecret fails when auth is on without a signing secret. It is
// separate from Validate so tooling can load a config without secrets.
func (cfg *Config) RequireSecret() error {
	if cfg.Auth.Enabled && strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return ErrAuthSecretMissing
	}
	return nil
}

// BaseURL is the origin that pay and track links are built on.
func (cfg Config) BaseURL() string {
	return strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
}

func (cfg *Config) isSensitiveDeployment() bool {
	return strings.TrimSpace(cfg.Security.TLSCertFile) != "" || strings.TrimSpace(cfg.Security.TLSKeyFile) != ""
}

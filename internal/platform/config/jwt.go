package config

import (
	"errors"
	"fmt"
	"time"
)

// DefaultAudience is the audience the identity provider stamps on access tokens
// for this API when none is configured.
const DefaultAudience = "account"

// JWTConfig is the token validation policy. It is built once at startup and
// passed by value to the verifier.
type JWTConfig struct {
	// Issuer is optional; when empty the iss claim is not checked.
	Issuer   string `env:"JWT_ISSUER"`
	Audience string `env:"JWT_AUDIENCE" envDefault:"account"`
	JWKSURL  string `env:"JWT_JWKS_URL"`
	// KeyID pins the only kid tokens may be signed with. Empty accepts any kid in the key set.
	KeyID string `env:"JWT_KEY_ID"`

	ClockSkew              time.Duration `env:"JWT_CLOCK_SKEW"                envDefault:"30s"`
	JWKSRefreshInterval    time.Duration `env:"JWT_JWKS_REFRESH_INTERVAL"     envDefault:"5m"`
	JWKSMinRefreshInterval time.Duration `env:"JWT_JWKS_MIN_REFRESH_INTERVAL" envDefault:"10s"`

	HTTPTimeout  time.Duration `env:"JWT_JWKS_HTTP_TIMEOUT"  envDefault:"5s"`
	FetchRetries uint64        `env:"JWT_JWKS_FETCH_RETRIES" envDefault:"2"`
}

func LoadJWTConfigFromEnv() (JWTConfig, error) {
	var cfg JWTConfig
	if err := ParseEnv(&cfg); err != nil {
		return JWTConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return JWTConfig{}, err
	}
	return cfg, nil
}

func (c JWTConfig) Validate() error {
	var errs []error
	if c.JWKSURL == "" {
		errs = append(errs, errors.New("JWT_JWKS_URL is required"))
	}
	if c.Audience == "" {
		errs = append(errs, errors.New("JWT_AUDIENCE must not be empty"))
	}
	if c.ClockSkew < 0 {
		errs = append(errs, fmt.Errorf("JWT_CLOCK_SKEW must not be negative, got %s", c.ClockSkew))
	}
	if c.JWKSRefreshInterval < 0 || c.JWKSMinRefreshInterval < 0 {
		errs = append(errs, errors.New("JWKS refresh intervals must not be negative"))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("JWT_JWKS_HTTP_TIMEOUT must be positive, got %s", c.HTTPTimeout))
	}
	return errors.Join(errs...)
}

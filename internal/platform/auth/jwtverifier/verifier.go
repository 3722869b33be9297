// Package jwtverifier validates RS256 bearer tokens against a remote JWKS.
package jwtverifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/Overland-East-Bay/expense-sources-api/internal/platform/clock"
	"github.com/Overland-East-Bay/expense-sources-api/internal/platform/config"
	"github.com/Overland-East-Bay/expense-sources-api/internal/platform/logging"
	clockport "github.com/Overland-East-Bay/expense-sources-api/internal/ports/out/clock"
)

// Claims is the identity established by a validated token.
type Claims struct {
	Subject   string
	Issuer    string
	Audience  []string
	IssuedAt  time.Time
	ExpiresAt time.Time
	KeyID     string
}

// RetryPolicy bounds the backoff between JWKS fetch attempts.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	InitialInterval: 200 * time.Millisecond,
	MaxInterval:     2 * time.Second,
}

const tracerName = "github.com/Overland-East-Bay/expense-sources-api/internal/platform/auth/jwtverifier"

type Options struct {
	HTTPClient  *http.Client
	Clock       clockport.Clock
	Logger      *slog.Logger
	RetryPolicy RetryPolicy
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

type Verifier struct {
	cfg         config.JWTConfig
	client      *http.Client
	clock       clockport.Clock
	logger      *slog.Logger
	retryPolicy RetryPolicy
	parser      *jwt.Parser
	tracer      trace.Tracer

	group singleflight.Group

	mu          sync.RWMutex
	keys        map[string]cachedKey
	lastRefresh time.Time
	generation  uint64
}

func New(cfg config.JWTConfig) *Verifier {
	return NewWithOptions(cfg, Options{})
}

func NewWithOptions(cfg config.JWTConfig, opts Options) *Verifier {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewSystemClock()
	}
	if opts.RetryPolicy == (RetryPolicy{}) {
		opts.RetryPolicy = DefaultRetryPolicy
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = otel.GetTracerProvider()
	}
	v := &Verifier{
		cfg:         cfg,
		client:      opts.HTTPClient,
		clock:       opts.Clock,
		logger:      logging.Component(opts.Logger, "jwtverifier"),
		retryPolicy: opts.RetryPolicy,
		tracer:      opts.TracerProvider.Tracer(tracerName),
		keys:        map[string]cachedKey{},
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.ClockSkew),
		jwt.WithTimeFunc(v.clock.Now),
	}
	if cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.Issuer))
	}
	v.parser = jwt.NewParser(parserOpts...)
	return v
}

// Validate verifies token's RS256 signature against the key named by its kid
// header and checks audience, expiry, not-before, issuer (when configured) and
// subject. Every error wraps one of this package's sentinels.
func (v *Verifier) Validate(ctx context.Context, token string) (Claims, error) {
	var kid string
	var rc jwt.RegisteredClaims
	_, err := v.parser.ParseWithClaims(token, &rc, func(t *jwt.Token) (any, error) {
		var err error
		kid, err = v.resolveKID(t)
		if err != nil {
			return nil, err
		}
		return v.FetchSigningKey(ctx, kid)
	})
	if err != nil {
		return Claims{}, classify(err)
	}
	if rc.Subject == "" {
		return Claims{}, fmt.Errorf("%w: missing sub", ErrInvalidClaims)
	}

	c := Claims{
		Subject:  rc.Subject,
		Issuer:   rc.Issuer,
		Audience: []string(rc.Audience),
		KeyID:    kid,
	}
	if rc.IssuedAt != nil {
		c.IssuedAt = rc.IssuedAt.Time
	}
	if rc.ExpiresAt != nil {
		c.ExpiresAt = rc.ExpiresAt.Time
	}
	return c, nil
}

func (v *Verifier) resolveKID(t *jwt.Token) (string, error) {
	kid, _ := t.Header["kid"].(string)
	switch {
	case kid == "" && v.cfg.KeyID != "":
		return v.cfg.KeyID, nil
	case kid == "":
		return "", fmt.Errorf("%w: missing kid header", ErrMalformedToken)
	case v.cfg.KeyID != "" && kid != v.cfg.KeyID:
		return "", fmt.Errorf("%w: kid %q is not the pinned key", ErrKeyNotFound, kid)
	}
	return kid, nil
}

var keyErrors = []error{
	ErrKeyFetchFailed,
	ErrKeyNotFound,
	ErrUnsupportedKeyAlgorithm,
	ErrInvalidKeyParameters,
	ErrMalformedToken,
}

// classify maps golang-jwt errors onto this package's sentinels.
func classify(err error) error {
	for _, target := range keyErrors {
		if errors.Is(err, target) {
			return err
		}
	}
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %w", ErrMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", ErrExpiredToken, err)
	default:
		return fmt.Errorf("%w: %w", ErrInvalidClaims, err)
	}
}

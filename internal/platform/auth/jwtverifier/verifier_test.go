package jwtverifier_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Overland-East-Bay/expense-sources-api/internal/platform/auth/jwk"
	"github.com/Overland-East-Bay/expense-sources-api/internal/platform/auth/jwks_testutil"
	"github.com/Overland-East-Bay/expense-sources-api/internal/platform/auth/jwtverifier"
	"github.com/Overland-East-Bay/expense-sources-api/internal/platform/clock"
	"github.com/Overland-East-Bay/expense-sources-api/internal/platform/config"
	"github.com/Overland-East-Bay/expense-sources-api/internal/platform/logging"
)

var fastRetry = jwtverifier.RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}

type fixture struct {
	srv *jwks_testutil.JWKSServer
	clk *clock.Fake
	cfg config.JWTConfig
	kp  jwks_testutil.Keypair
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	srv := jwks_testutil.NewJWKSServer()
	t.Cleanup(srv.Close)

	kp, err := jwks_testutil.GenerateRSAKeypair("kid-1")
	if err != nil {
		t.Fatalf("GenerateRSAKeypair: %v", err)
	}
	srv.SetKeys([]jwks_testutil.Keypair{kp})

	return &fixture{
		srv: srv,
		clk: clock.NewFake(time.Unix(1700000000, 0)),
		kp:  kp,
		cfg: config.JWTConfig{
			Audience:               "account",
			JWKSURL:                srv.URL,
			ClockSkew:              0,
			JWKSRefreshInterval:    10 * time.Minute,
			JWKSMinRefreshInterval: 0,
			HTTPTimeout:            2 * time.Second,
		},
	}
}

func (f *fixture) verifier() *jwtverifier.Verifier {
	return jwtverifier.NewWithOptions(f.cfg, jwtverifier.Options{
		Clock:       f.clk,
		Logger:      logging.Discard(),
		RetryPolicy: fastRetry,
	})
}

func (f *fixture) mint(t *testing.T, kp jwks_testutil.Keypair, sub string, expDelta time.Duration) string {
	t.Helper()
	tok, err := jwks_testutil.MintRS256JWT(kp, f.cfg.Issuer, f.cfg.Audience, sub, f.clk.Now(), expDelta, nil)
	if err != nil {
		t.Fatalf("MintRS256JWT: %v", err)
	}
	return tok
}

func TestVerifier_Validate_ValidToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	v := f.verifier()

	claims, err := v.Validate(context.Background(), f.mint(t, f.kp, "auth0|alice", 5*time.Minute))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject != "auth0|alice" || claims.KeyID != "kid-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != "account" {
		t.Fatalf("unexpected audience: %v", claims.Audience)
	}
	if !claims.ExpiresAt.Equal(f.clk.Now().Add(5*time.Minute)) || !claims.IssuedAt.Equal(f.clk.Now()) {
		t.Fatalf("unexpected times: iat=%v exp=%v", claims.IssuedAt, claims.ExpiresAt)
	}
}

func TestVerifier_Validate_AudienceArray(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	v := f.verifier()

	tok, err := jwks_testutil.MintRS256JWT(f.kp, "", []string{"other", "account"}, "auth0|alice", f.clk.Now(), time.Minute, nil)
	if err != nil {
		t.Fatalf("MintRS256JWT: %v", err)
	}
	if _, err := v.Validate(context.Background(), tok); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestVerifier_Validate_Expired(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	v := f.verifier()

	_, err := v.Validate(context.Background(), f.mint(t, f.kp, "auth0|alice", -1*time.Minute))
	if !errors.Is(err, jwtverifier.ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestVerifier_Validate_ExpiredWithinLeeway(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.ClockSkew = 30 * time.Second
	v := f.verifier()

	if _, err := v.Validate(context.Background(), f.mint(t, f.kp, "auth0|alice", -10*time.Second)); err != nil {
		t.Fatalf("expected token within leeway to pass: %v", err)
	}
}

func TestVerifier_Validate_ClaimPolicy(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.Issuer = "https://id.example/realms/app"
	v := f.verifier()
	now := f.clk.Now()
	future := 2 * time.Minute

	cases := []struct {
		name   string
		claims jwt.MapClaims
	}{
		{name: "wrong audience", claims: jwt.MapClaims{"iss": f.cfg.Issuer, "aud": "billing", "sub": "a", "exp": now.Add(time.Minute).Unix()}},
		{name: "wrong issuer", claims: jwt.MapClaims{"iss": "https://evil.example", "aud": "account", "sub": "a", "exp": now.Add(time.Minute).Unix()}},
		{name: "missing exp", claims: jwt.MapClaims{"iss": f.cfg.Issuer, "aud": "account", "sub": "a"}},
		{name: "missing sub", claims: jwt.MapClaims{"iss": f.cfg.Issuer, "aud": "account", "exp": now.Add(time.Minute).Unix()}},
		{name: "not yet valid", claims: jwt.MapClaims{"iss": f.cfg.Issuer, "aud": "account", "sub": "a", "exp": now.Add(time.Hour).Unix(), "nbf": now.Add(future).Unix()}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tok, err := jwks_testutil.MintClaims(f.kp, tc.claims)
			if err != nil {
				t.Fatalf("MintClaims: %v", err)
			}
			if _, err := v.Validate(context.Background(), tok); !errors.Is(err, jwtverifier.ErrInvalidClaims) {
				t.Fatalf("expected ErrInvalidClaims, got %v", err)
			}
		})
	}
}

func TestVerifier_Validate_IssuerNotCheckedWhenUnset(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	v := f.verifier()

	tok, err := jwks_testutil.MintRS256JWT(f.kp, "https://anyone.example", "account", "auth0|alice", f.clk.Now(), time.Minute, nil)
	if err != nil {
		t.Fatalf("MintRS256JWT: %v", err)
	}
	claims, err := v.Validate(context.Background(), tok)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Issuer != "https://anyone.example" {
		t.Fatalf("issuer not carried: %+v", claims)
	}
}

func TestVerifier_Validate_BadSignature(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	v := f.verifier()

	// Same kid, different private key than the one published.
	other, _ := rsa.GenerateKey(rand.Reader, 2048)
	tok := f.mint(t, jwks_testutil.Keypair{Kid: "kid-1", Private: other}, "auth0|alice", time.Minute)
	if _, err := v.Validate(context.Background(), tok); !errors.Is(err, jwtverifier.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifier_Validate_RejectsNonRS256(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	v := f.verifier()

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"aud": "account",
		"sub": "auth0|alice",
		"exp": f.clk.Now().Add(time.Minute).Unix(),
	})
	tok.Header["kid"] = "kid-1"
	s, err := tok.SignedString([]byte("shared-secret"))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	if _, err := v.Validate(context.Background(), s); !errors.Is(err, jwtverifier.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if f.srv.Fetches() != 0 {
		t.Fatalf("key set fetched for a token with a disallowed alg")
	}
}

func TestVerifier_Validate_Malformed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	v := f.verifier()

	for _, tok := range []string{"", "abc", "a.b.c", "eyJhbGciOiJSUzI1NiJ9.e30"} {
		if _, err := v.Validate(context.Background(), tok); !errors.Is(err, jwtverifier.ErrMalformedToken) {
			t.Fatalf("token %q: expected ErrMalformedToken, got %v", tok, err)
		}
	}
}

func TestVerifier_Validate_MissingKid(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	v := f.verifier()

	tok := f.mint(t, jwks_testutil.Keypair{Private: f.kp.Private}, "auth0|alice", time.Minute)
	if _, err := v.Validate(context.Background(), tok); !errors.Is(err, jwtverifier.ErrMalformedToken) {
		t.Fatalf("expected ErrMalformedToken, got %v", err)
	}
}

func TestVerifier_Validate_UnknownKid(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	v := f.verifier()

	stranger, _ := jwks_testutil.GenerateRSAKeypair("kid-unknown")
	if _, err := v.Validate(context.Background(), f.mint(t, stranger, "auth0|alice", time.Minute)); !errors.Is(err, jwtverifier.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestVerifier_Validate_PinnedKeyID(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	k2, _ := jwks_testutil.GenerateRSAKeypair("kid-2")
	f.srv.SetKeys([]jwks_testutil.Keypair{f.kp, k2})
	f.cfg.KeyID = "kid-1"
	v := f.verifier()

	if _, err := v.Validate(context.Background(), f.mint(t, f.kp, "auth0|alice", time.Minute)); err != nil {
		t.Fatalf("pinned kid should verify: %v", err)
	}
	if _, err := v.Validate(context.Background(), f.mint(t, k2, "auth0|alice", time.Minute)); !errors.Is(err, jwtverifier.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound for non-pinned kid, got %v", err)
	}
	// A token without kid falls back to the pinned key.
	if _, err := v.Validate(context.Background(), f.mint(t, jwks_testutil.Keypair{Private: f.kp.Private}, "auth0|alice", time.Minute)); err != nil {
		t.Fatalf("kid-less token should use pinned key: %v", err)
	}
}

func TestVerifier_FetchSigningKey_NonRSA(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.srv.SetRawKeys([]jwk.Key{
		jwk.FromRSAPublicKey(f.kp.Kid, &f.kp.Private.PublicKey),
		{Kty: "EC", Kid: "ec-1", Crv: "P-256", X: "f83OJ3D2xF1Bg8vub9tLe1gHMzV76e8Tus9uPHvRVEU", Y: "x_FEzRu9m36HLN_tue659LNpXW6pCyStikYjKIWI5a0"},
		{Kty: "RSA", Kid: "rsa-bad", N: "@@@", E: "AQAB"},
	})
	v := f.verifier()

	if _, err := v.FetchSigningKey(context.Background(), "ec-1"); !errors.Is(err, jwtverifier.ErrUnsupportedKeyAlgorithm) {
		t.Fatalf("expected ErrUnsupportedKeyAlgorithm, got %v", err)
	}
	if _, err := v.FetchSigningKey(context.Background(), "rsa-bad"); !errors.Is(err, jwtverifier.ErrInvalidKeyParameters) {
		t.Fatalf("expected ErrInvalidKeyParameters, got %v", err)
	}
	pub, err := v.FetchSigningKey(context.Background(), "kid-1")
	if err != nil || !pub.Equal(&f.kp.Private.PublicKey) {
		t.Fatalf("expected kid-1 key, err=%v", err)
	}
	if got := f.srv.Fetches(); got != 1 {
		t.Fatalf("expected 1 fetch, got %d", got)
	}
}

func TestVerifier_FetchSigningKey_FetchFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.srv.FailNext(100, http.StatusInternalServerError)
	v := f.verifier()

	if _, err := v.FetchSigningKey(context.Background(), "kid-1"); !errors.Is(err, jwtverifier.ErrKeyFetchFailed) {
		t.Fatalf("expected ErrKeyFetchFailed, got %v", err)
	}
}

func TestVerifier_FetchSigningKey_NotJSON(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.srv.SetBody([]byte("<html>login</html>"))
	f.cfg.FetchRetries = 3
	v := f.verifier()

	if _, err := v.FetchSigningKey(context.Background(), "kid-1"); !errors.Is(err, jwtverifier.ErrKeyFetchFailed) {
		t.Fatalf("expected ErrKeyFetchFailed, got %v", err)
	}
	if got := f.srv.Fetches(); got != 1 {
		t.Fatalf("unparseable key set should not be retried, fetches=%d", got)
	}
}

func TestVerifier_FetchSigningKey_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.FetchRetries = 2
	f.srv.FailNext(2, http.StatusServiceUnavailable)
	v := f.verifier()

	if _, err := v.FetchSigningKey(context.Background(), "kid-1"); err != nil {
		t.Fatalf("expected success after retries: %v", err)
	}
	if got := f.srv.Fetches(); got != 3 {
		t.Fatalf("expected 3 fetches, got %d", got)
	}
}

func TestVerifier_FetchSigningKey_DoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.FetchRetries = 3
	f.srv.FailNext(10, http.StatusNotFound)
	v := f.verifier()

	if _, err := v.FetchSigningKey(context.Background(), "kid-1"); !errors.Is(err, jwtverifier.ErrKeyFetchFailed) {
		t.Fatalf("expected ErrKeyFetchFailed, got %v", err)
	}
	if got := f.srv.Fetches(); got != 1 {
		t.Fatalf("expected 1 fetch, got %d", got)
	}
}

func TestVerifier_CachesKeySet(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	v := f.verifier()

	for i := 0; i < 5; i++ {
		if _, err := v.Validate(context.Background(), f.mint(t, f.kp, "auth0|alice", time.Minute)); err != nil {
			t.Fatalf("Validate %d: %v", i, err)
		}
	}
	if got := f.srv.Fetches(); got != 1 {
		t.Fatalf("expected 1 fetch, got %d", got)
	}
}

func TestVerifier_RefreshIsTraced(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sr := tracetest.NewSpanRecorder()
	v := jwtverifier.NewWithOptions(f.cfg, jwtverifier.Options{
		Clock:          f.clk,
		Logger:         logging.Discard(),
		RetryPolicy:    fastRetry,
		TracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)),
	})

	if _, err := v.Validate(context.Background(), f.mint(t, f.kp, "auth0|alice", time.Minute)); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	spans := sr.Ended()
	if len(spans) != 1 || spans[0].Name() != "jwks.refresh" {
		t.Fatalf("expected one jwks.refresh span, got %d", len(spans))
	}
	if spans[0].Status().Code == codes.Error {
		t.Fatalf("successful refresh marked as error")
	}

	f.srv.FailNext(10, http.StatusInternalServerError)
	if _, err := v.FetchSigningKey(context.Background(), "kid-unknown"); err == nil {
		t.Fatalf("expected fetch failure")
	}
	spans = sr.Ended()
	if len(spans) != 2 || spans[1].Status().Code != codes.Error {
		t.Fatalf("failed refresh not recorded as error")
	}
}

func TestVerifier_ConcurrentValidationsShareOneFetch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.srv.SetDelay(100 * time.Millisecond)
	v := f.verifier()
	tok := f.mint(t, f.kp, "auth0|alice", time.Minute)

	const n = 25
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := v.Validate(context.Background(), tok)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Validate: %v", err)
		}
	}
	if got := f.srv.Fetches(); got != 1 {
		t.Fatalf("expected 1 fetch, got %d", got)
	}
}

func TestVerifier_UnknownKidRefreshIsRateLimited(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.JWKSMinRefreshInterval = 10 * time.Second
	v := f.verifier()

	if _, err := v.Validate(context.Background(), f.mint(t, f.kp, "auth0|alice", time.Hour)); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	k2, _ := jwks_testutil.GenerateRSAKeypair("kid-2")
	f.srv.SetKeys([]jwks_testutil.Keypair{f.kp, k2})
	tok2 := f.mint(t, k2, "auth0|bob", time.Hour)

	if _, err := v.Validate(context.Background(), tok2); !errors.Is(err, jwtverifier.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound inside min interval, got %v", err)
	}
	if got := f.srv.Fetches(); got != 1 {
		t.Fatalf("unknown kid refetched inside min interval: fetches=%d", got)
	}

	f.clk.Advance(11 * time.Second)
	if _, err := v.Validate(context.Background(), tok2); err != nil {
		t.Fatalf("expected kid-2 after min interval: %v", err)
	}
	if got := f.srv.Fetches(); got != 2 {
		t.Fatalf("expected 2 fetches, got %d", got)
	}
}

func TestVerifier_StaleKeyUsedWhenRefreshFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.JWKSRefreshInterval = time.Second
	v := f.verifier()

	tok := f.mint(t, f.kp, "auth0|alice", time.Hour)
	if _, err := v.Validate(context.Background(), tok); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	f.srv.FailNext(100, http.StatusBadGateway)
	f.clk.Advance(2 * time.Second)

	if _, err := v.Validate(context.Background(), tok); err != nil {
		t.Fatalf("expected cached key to be used: %v", err)
	}
	if got := f.srv.Fetches(); got != 2 {
		t.Fatalf("expected a refresh attempt, fetches=%d", got)
	}
}

func TestVerifier_JWKSRotation_OldKidRejected_NewKidAccepted(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.JWKSRefreshInterval = time.Second
	v := f.verifier()

	k2, _ := jwks_testutil.GenerateRSAKeypair("kid-2")

	jwt1 := f.mint(t, f.kp, "auth0|alice", 5*time.Minute)
	if _, err := v.Validate(context.Background(), jwt1); err != nil {
		t.Fatalf("expected jwt1 to verify: %v", err)
	}

	// Rotate: the key set now only contains kid-2.
	f.srv.SetKeys([]jwks_testutil.Keypair{k2})
	f.clk.Advance(2 * time.Second)

	if _, err := v.Validate(context.Background(), jwt1); !errors.Is(err, jwtverifier.ErrKeyNotFound) {
		t.Fatalf("expected jwt1 to be rejected after rotation, got %v", err)
	}

	claims, err := v.Validate(context.Background(), f.mint(t, k2, "auth0|bob", 5*time.Minute))
	if err != nil {
		t.Fatalf("expected jwt2 to verify: %v", err)
	}
	if claims.Subject != "auth0|bob" {
		t.Fatalf("sub mismatch: got %q", claims.Subject)
	}
}

func TestVerifier_CanceledContext(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.srv.SetDelay(200 * time.Millisecond)
	v := f.verifier()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := v.FetchSigningKey(ctx, "kid-1"); !errors.Is(err, jwtverifier.ErrKeyFetchFailed) {
		t.Fatalf("expected ErrKeyFetchFailed, got %v", err)
	}
}

func TestKind(t *testing.T) {
	t.Parallel()

	cases := map[error]string{
		nil:                                    "",
		jwtverifier.ErrExpiredToken:            "expired_token",
		jwtverifier.ErrKeyNotFound:             "key_not_found",
		jwtverifier.ErrUnsupportedKeyAlgorithm: "unsupported_key_algorithm",
		errors.New("boom"):                     "unknown",
	}
	for err, want := range cases {
		if got := jwtverifier.Kind(err); got != want {
			t.Fatalf("Kind(%v)=%q want %q", err, got, want)
		}
	}
}

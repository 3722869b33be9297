// Package jwks_testutil provides an in-process JWKS endpoint and RS256 token
// minting for tests.
package jwks_testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Overland-East-Bay/expense-sources-api/internal/platform/auth/jwk"
)

type Keypair struct {
	Kid     string
	Private *rsa.PrivateKey
}

func GenerateRSAKeypair(kid string) (Keypair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return Keypair{}, err
	}
	return Keypair{Kid: kid, Private: priv}, nil
}

// JWKSServer serves a key set that can be swapped at runtime and counts fetches.
type JWKSServer struct {
	*httptest.Server

	mu       sync.Mutex
	body     []byte
	failNext int
	failCode int
	delay    time.Duration

	fetches atomic.Int64
}

func NewJWKSServer() *JWKSServer {
	s := &JWKSServer{body: []byte(`{"keys":[]}`)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// NewRotatingJWKSServer returns the server and a setter for its RSA keys.
func NewRotatingJWKSServer() (*JWKSServer, func(keys []Keypair)) {
	s := NewJWKSServer()
	return s, s.SetKeys
}

func (s *JWKSServer) serve(w http.ResponseWriter, _ *http.Request) {
	s.fetches.Add(1)

	s.mu.Lock()
	body := s.body
	delay := s.delay
	failCode := 0
	if s.failNext > 0 {
		s.failNext--
		failCode = s.failCode
	}
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if failCode != 0 {
		http.Error(w, http.StatusText(failCode), failCode)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (s *JWKSServer) SetKeys(keys []Keypair) {
	set := jwk.Set{Keys: make([]jwk.Key, 0, len(keys))}
	for _, kp := range keys {
		set.Keys = append(set.Keys, jwk.FromRSAPublicKey(kp.Kid, &kp.Private.PublicKey))
	}
	s.SetRawKeys(set.Keys)
}

// SetRawKeys publishes arbitrary entries, e.g. non-RSA or malformed keys.
func (s *JWKSServer) SetRawKeys(keys []jwk.Key) {
	b, _ := json.Marshal(jwk.Set{Keys: keys})
	s.SetBody(b)
}

func (s *JWKSServer) SetBody(b []byte) {
	s.mu.Lock()
	s.body = b
	s.mu.Unlock()
}

// FailNext makes the next n fetches answer with status code.
func (s *JWKSServer) FailNext(n, code int) {
	s.mu.Lock()
	s.failNext = n
	s.failCode = code
	s.mu.Unlock()
}

// SetDelay holds each response for d before writing it.
func (s *JWKSServer) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

func (s *JWKSServer) Fetches() int64 { return s.fetches.Load() }

// MintRS256JWT creates a signed JWT using RS256 with the given keypair.
//
// aud may be either a string or []string.
func MintRS256JWT(kp Keypair, iss string, aud any, sub string, now time.Time, expDelta time.Duration, nbfDelta *time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub": sub,
		"aud": aud,
		"iat": now.Unix(),
		"exp": now.Add(expDelta).Unix(),
	}
	if iss != "" {
		claims["iss"] = iss
	}
	if nbfDelta != nil {
		claims["nbf"] = now.Add(*nbfDelta).Unix()
	}
	return MintClaims(kp, claims)
}

// MintClaims signs arbitrary claims with kp, setting the kid header.
func MintClaims(kp Keypair, claims jwt.Claims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kp.Kid != "" {
		tok.Header["kid"] = kp.Kid
	}
	return tok.SignedString(kp.Private)
}

package main

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"

	"github.com/Overland-East-Bay/expense-sources-api/internal/platform/auth/jwk"
	"github.com/Overland-East-Bay/expense-sources-api/internal/platform/config"
	"github.com/Overland-East-Bay/expense-sources-api/internal/platform/logging"
)

// Tiny dev-only JWT issuer + JWKS server.
//
// This is NOT a full OIDC provider. It exists to support local development against
// real RS256 JWT verification (aud/exp + JWKS).

type devConfig struct {
	Port     string        `env:"DEVJWT_PORT"     envDefault:"5556"`
	Issuer   string        `env:"DEVJWT_ISSUER"   envDefault:"http://devjwt:5556"`
	Audience string        `env:"DEVJWT_AUDIENCE" envDefault:"account"`
	KeyID    string        `env:"DEVJWT_KID"      envDefault:"dev-kid-1"`
	TTL      time.Duration `env:"DEVJWT_TTL"      envDefault:"30m"`
}

func main() {
	_ = godotenv.Load()
	logger := logging.Component(logging.New(logging.Config{Format: "text", Output: os.Stdout}), "devjwt")

	var cfg devConfig
	if err := config.ParseEnv(&cfg); err != nil {
		logger.Error("invalid config", logging.FieldError, err)
		os.Exit(1)
	}

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		logger.Error("generate key", logging.FieldError, err)
		os.Exit(1)
	}

	jwksJSON, err := json.Marshal(jwk.Set{Keys: []jwk.Key{jwk.FromRSAPublicKey(cfg.KeyID, &priv.PublicKey)}})
	if err != nil {
		logger.Error("marshal jwks", logging.FieldError, err)
		os.Exit(1)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Common JWKS path used by many providers.
	mux.HandleFunc("/.well-known/jwks.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(jwksJSON)
	})

	// Mint a JWT:
	//   GET /token?sub=dev|alice
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		sub := strings.TrimSpace(r.URL.Query().Get("sub"))
		if sub == "" {
			http.Error(w, "missing sub", http.StatusBadRequest)
			return
		}

		now := time.Now().UTC()
		token, err := mintToken(priv, cfg, sub, now)
		if err != nil {
			logger.Error("mint token", logging.FieldError, err)
			http.Error(w, "failed to mint token", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token": token,
			"sub":   sub,
			"iss":   cfg.Issuer,
			"aud":   cfg.Audience,
			"exp":   now.Add(cfg.TTL).Unix(),
		})
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("devjwt listening",
		slog.String("addr", srv.Addr),
		slog.String("iss", cfg.Issuer),
		slog.String("aud", cfg.Audience),
		slog.String("kid", cfg.KeyID),
		slog.Duration("ttl", cfg.TTL),
	)
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("listen", logging.FieldError, err)
		os.Exit(1)
	}
}

func mintToken(priv *rsa.PrivateKey, cfg devConfig, sub string, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    cfg.Issuer,
		Subject:   sub,
		Audience:  jwt.ClaimStrings{cfg.Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)), // small skew tolerance for local use
		ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TTL)),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = cfg.KeyID
	signed, err := tok.SignedString(priv)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	return signed, nil
}

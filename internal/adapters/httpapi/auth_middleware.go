package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/Overland-East-Bay/expense-sources-api/internal/domain"
	"github.com/Overland-East-Bay/expense-sources-api/internal/platform/auth/jwtverifier"
	"github.com/Overland-East-Bay/expense-sources-api/internal/platform/logging"
)

const (
	authRealm     = `Bearer realm="expense-sources"`
	authChallenge = `Bearer realm="expense-sources", error="invalid_token"`
	healthPath    = "/healthz"
)

// TokenValidator is satisfied by *jwtverifier.Verifier.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (jwtverifier.Claims, error)
}

// NewAuthMiddleware enforces Authorization: Bearer <JWT> on every route except /healthz.
//
// On success the validated claims and subject are bound to the request context.
// Failures are always a generic 401; the reason is only logged.
func NewAuthMiddleware(v TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == healthPath {
				next.ServeHTTP(w, r)
				return
			}

			raw, msg := bearerToken(r)
			if raw == "" {
				w.Header().Set("WWW-Authenticate", authRealm)
				writeError(w, r, http.StatusUnauthorized, codeUnauthorized, msg, nil)
				return
			}

			claims, err := v.Validate(r.Context(), raw)
			if err != nil {
				logging.FromContext(r.Context()).WarnContext(r.Context(), "token rejected",
					logging.FieldComponent, "auth",
					"kind", jwtverifier.Kind(err),
					logging.FieldError, err,
				)
				w.Header().Set("WWW-Authenticate", authChallenge)
				writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "invalid token", nil)
				return
			}

			next.ServeHTTP(w, r.WithContext(withSubjectLogger(WithClaims(r.Context(), claims), domain.SubjectID(claims.Subject))))
		})
	}
}

// bearerToken returns the token, or "" and the reason it is missing.
func bearerToken(r *http.Request) (string, string) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return "", "missing Authorization header"
	}
	scheme, token, ok := strings.Cut(authz, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", "malformed Authorization header"
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "missing bearer token"
	}
	return token, ""
}

// NewDevAuthMiddleware is a local/dev-only auth shim.
//
// It accepts an explicit subject via X-Debug-Subject and stores it in request context.
// If the header is absent, it falls back to defaultSubject (if provided).
// Do NOT use this in production deployments.
func NewDevAuthMiddleware(defaultSubject string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == healthPath {
				next.ServeHTTP(w, r)
				return
			}

			sub := strings.TrimSpace(r.Header.Get("X-Debug-Subject"))
			if sub == "" {
				sub = strings.TrimSpace(defaultSubject)
			}
			if sub == "" {
				w.Header().Set("WWW-Authenticate", authRealm)
				writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "missing subject (set X-Debug-Subject)", nil)
				return
			}

			subject := domain.SubjectID(sub)
			next.ServeHTTP(w, r.WithContext(withSubjectLogger(WithSubject(r.Context(), subject), subject)))
		})
	}
}

// withSubjectLogger tags the request logger with the authenticated subject.
func withSubjectLogger(ctx context.Context, sub domain.SubjectID) context.Context {
	return logging.WithLogger(ctx, logging.FromContext(ctx).With(logging.FieldSubject, string(sub)))
}

package jwtverifier

import "errors"

// Key loading failures.
var (
	ErrKeyFetchFailed          = errors.New("jwks fetch failed")
	ErrKeyNotFound             = errors.New("signing key not found")
	ErrUnsupportedKeyAlgorithm = errors.New("unsupported signing key algorithm")
	ErrInvalidKeyParameters    = errors.New("invalid signing key parameters")
)

// Token failures.
var (
	ErrMalformedToken   = errors.New("malformed token")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrExpiredToken     = errors.New("token expired")
	ErrInvalidClaims    = errors.New("invalid token claims")
)

// Kind returns a short stable label for err, suitable for logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrKeyFetchFailed):
		return "key_fetch_failed"
	case errors.Is(err, ErrKeyNotFound):
		return "key_not_found"
	case errors.Is(err, ErrUnsupportedKeyAlgorithm):
		return "unsupported_key_algorithm"
	case errors.Is(err, ErrInvalidKeyParameters):
		return "invalid_key_parameters"
	case errors.Is(err, ErrMalformedToken):
		return "malformed_token"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrExpiredToken):
		return "expired_token"
	case errors.Is(err, ErrInvalidClaims):
		return "invalid_claims"
	default:
		return "unknown"
	}
}

// Package jwk encodes and decodes the RSA subset of JSON Web Key sets.
package jwk

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrNotRSA       = errors.New("jwk: key type is not RSA")
	ErrBadParameter = errors.New("jwk: invalid RSA parameter")
)

type Key struct {
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Alg string `json:"alg,omitempty"`
	Kid string `json:"kid"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`

	// EC members, only carried through so non-RSA entries round-trip.
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

type Set struct {
	Keys []Key `json:"keys"`
}

// FromRSAPublicKey encodes pub as an RS256 signing key.
func FromRSAPublicKey(kid string, pub *rsa.PublicKey) Key {
	enc := base64.RawURLEncoding
	return Key{
		Kty: "RSA",
		Use: "sig",
		Alg: "RS256",
		Kid: kid,
		N:   enc.EncodeToString(pub.N.Bytes()),
		// e is a big-endian unsigned integer.
		E: enc.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// RSAPublicKey decodes the modulus and exponent of an RSA entry.
func (k Key) RSAPublicKey() (*rsa.PublicKey, error) {
	if k.Kty != "RSA" {
		return nil, fmt.Errorf("%w: %q", ErrNotRSA, k.Kty)
	}
	if k.N == "" || k.E == "" {
		return nil, fmt.Errorf("%w: missing n or e", ErrBadParameter)
	}
	nb, err := decodeSegment(k.N)
	if err != nil {
		return nil, fmt.Errorf("%w: n: %w", ErrBadParameter, err)
	}
	eb, err := decodeSegment(k.E)
	if err != nil {
		return nil, fmt.Errorf("%w: e: %w", ErrBadParameter, err)
	}
	e := new(big.Int).SetBytes(eb)
	if !e.IsInt64() || e.Int64() < 2 || e.Int64() > int64(^uint32(0)>>1) {
		return nil, fmt.Errorf("%w: exponent out of range", ErrBadParameter)
	}
	n := new(big.Int).SetBytes(nb)
	if n.Sign() <= 0 {
		return nil, fmt.Errorf("%w: empty modulus", ErrBadParameter)
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

// decodeSegment accepts base64url with or without padding.
func decodeSegment(s string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(s)
}

func Parse(b []byte) (Set, error) {
	var set Set
	if err := json.Unmarshal(b, &set); err != nil {
		return Set{}, fmt.Errorf("jwk: decode key set: %w", err)
	}
	return set, nil
}

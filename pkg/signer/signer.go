// Package signer mints and verifies compact signed credentials carrying a
// JSON claim set, using a single configured algorithm. It defends against
// algorithm confusion: verification pins the expected algorithm and rejects
// "none" or any other algorithm outright.
package signer

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Algorithm names the signing algorithm a Signer is configured with.
type Algorithm string

const (
	HS256 Algorithm = "HS256"
)

var (
	// ErrExpired indicates the token's exp claim is in the past.
	ErrExpired = errors.New("token expired")
	// ErrBadSignature indicates the signature did not verify.
	ErrBadSignature = errors.New("bad signature")
	// ErrMalformed indicates the token could not be parsed.
	ErrMalformed = errors.New("malformed token")
	// ErrWrongAlgorithm indicates the token's header alg does not match the
	// configured algorithm (algorithm-confusion defense).
	ErrWrongAlgorithm = errors.New("wrong algorithm")
	// ErrMissingTimestamps indicates the claim set lacks iat or exp.
	ErrMissingTimestamps = errors.New("claims missing iat or exp")
)

// MinSecretBytes is the minimum length required of a signing secret.
const MinSecretBytes = 32

// Signer mints and verifies HMAC-signed credentials.
type Signer struct {
	secret    []byte
	algorithm Algorithm
}

// New constructs a Signer. secret must be at least MinSecretBytes long.
func New(secret []byte, algorithm Algorithm) (*Signer, error) {
	if len(secret) < MinSecretBytes {
		return nil, fmt.Errorf("signer: secret must be at least %d bytes", MinSecretBytes)
	}
	if algorithm != HS256 {
		return nil, fmt.Errorf("signer: unsupported algorithm %q", algorithm)
	}
	return &Signer{secret: secret, algorithm: algorithm}, nil
}

// claimsMap is how arbitrary caller claim sets round-trip through
// golang-jwt, which requires a jwt.Claims implementation.
type claimsMap map[string]interface{}

func (c claimsMap) GetExpirationTime() (*jwt.NumericDate, error) { return c.numericDate("exp") }
func (c claimsMap) GetIssuedAt() (*jwt.NumericDate, error)       { return c.numericDate("iat") }
func (c claimsMap) GetNotBefore() (*jwt.NumericDate, error)      { return c.numericDate("nbf") }
func (c claimsMap) GetIssuer() (string, error)                  { s, _ := c["iss"].(string); return s, nil }
func (c claimsMap) GetSubject() (string, error)                 { s, _ := c["sub"].(string); return s, nil }
func (c claimsMap) GetAudience() (jwt.ClaimStrings, error)       { return nil, nil }

func (c claimsMap) numericDate(key string) (*jwt.NumericDate, error) {
	v, ok := c[key]
	if !ok {
		return nil, nil
	}
	switch n := v.(type) {
	case float64:
		return jwt.NewNumericDate(time.Unix(int64(n), 0)), nil
	case int64:
		return jwt.NewNumericDate(time.Unix(n, 0)), nil
	default:
		return nil, nil
	}
}

// Sign encodes claims as a compact signed credential. claims must include
// "iat" and "exp" (unix seconds).
func (s *Signer) Sign(claims map[string]interface{}) (string, error) {
	if _, ok := claims["iat"]; !ok {
		return "", ErrMissingTimestamps
	}
	if _, ok := claims["exp"]; !ok {
		return "", ErrMissingTimestamps
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claimsMap(claims))
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signer: sign: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a compact signed credential, returning its
// claim set on success. It rejects "none" and any algorithm other than the
// one this Signer was configured with.
func (s *Signer) Verify(tokenString string) (map[string]interface{}, error) {
	claims := claimsMap{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrWrongAlgorithm
		}
		if t.Method.Alg() != string(s.algorithm) {
			return nil, ErrWrongAlgorithm
		}
		return s.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		case errors.Is(err, ErrWrongAlgorithm):
			return nil, ErrWrongAlgorithm
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrBadSignature
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrMalformed
		default:
			return nil, ErrMalformed
		}
	}
	if !token.Valid {
		return nil, ErrMalformed
	}
	return claims, nil
}

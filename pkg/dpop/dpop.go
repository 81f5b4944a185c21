// Package dpop validates per-request DPoP (Demonstrating Proof-of-Possession)
// proofs: signature under an embedded public key, method/URL binding,
// timestamp freshness, and replay suppression via a bounded, time-bucketed
// jti cache.
package dpop

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalid = errors.New("dpop: invalid proof")
	ErrReplay  = errors.New("dpop: proof replayed")
	ErrStale   = errors.New("dpop: proof not fresh")
)

// Freshness is how far iat may drift from server time, either direction.
const Freshness = 300 * time.Second

// proofClaims is the claim set carried by a DPoP proof token header
// "DPoP: <proof>". The proof is signed with the private key whose public
// component is embedded in the JWT header under "jwk_n"/"jwk_e".
type proofClaims struct {
	HTU string `json:"htu"`
	HTM string `json:"htm"`
	IAT int64  `json:"iat"`
	JTI string `json:"jti"`
	jwt.RegisteredClaims
}

// Verifier validates DPoP proofs and suppresses replays.
type Verifier struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	window  time.Duration
	nowFunc func() time.Time
}

// NewVerifier constructs a Verifier whose replay cache retains jti values
// for window (the proof freshness window is a sane default).
func NewVerifier(window time.Duration) *Verifier {
	if window <= 0 {
		window = Freshness
	}
	return &Verifier{
		seen:    make(map[string]time.Time),
		window:  window,
		nowFunc: time.Now,
	}
}

// Verify validates proof against the expected HTTP method and absolute URL.
// The proof's JWT header must embed an RSA public key under "jwk_n"
// (base64url modulus) and "jwk_e" (base64url exponent, default 65537).
func (v *Verifier) Verify(proof, method, url string) error {
	now := v.nowFunc()

	claims := &proofClaims{}
	token, err := jwt.ParseWithClaims(proof, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, ErrInvalid
		}
		return publicKeyFromHeader(t.Header)
	})
	if err != nil || !token.Valid {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if claims.HTM != method {
		return fmt.Errorf("%w: method mismatch", ErrInvalid)
	}
	if claims.HTU != url {
		return fmt.Errorf("%w: url mismatch", ErrInvalid)
	}
	if claims.JTI == "" {
		return fmt.Errorf("%w: missing jti", ErrInvalid)
	}

	iat := time.Unix(claims.IAT, 0)
	if now.Sub(iat) > Freshness || iat.Sub(now) > Freshness {
		return ErrStale
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.evictLocked(now)
	if _, dup := v.seen[claims.JTI]; dup {
		return ErrReplay
	}
	v.seen[claims.JTI] = now
	return nil
}

// evictLocked drops cache entries older than the replay window. Callers
// must hold v.mu.
func (v *Verifier) evictLocked(now time.Time) {
	for jti, seenAt := range v.seen {
		if now.Sub(seenAt) > v.window {
			delete(v.seen, jti)
		}
	}
}

// publicKeyFromHeader rebuilds an RSA public key embedded in the proof's
// JWT header as base64url-encoded big-endian modulus/exponent.
func publicKeyFromHeader(header map[string]interface{}) (*rsa.PublicKey, error) {
	nRaw, ok := header["jwk_n"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing jwk_n", ErrInvalid)
	}
	eRaw, _ := header["jwk_e"].(string)

	nBytes, err := base64.RawURLEncoding.DecodeString(nRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: bad jwk_n", ErrInvalid)
	}

	e := 65537
	if eRaw != "" {
		eBytes, err := base64.RawURLEncoding.DecodeString(eRaw)
		if err != nil {
			return nil, fmt.Errorf("%w: bad jwk_e", ErrInvalid)
		}
		e = 0
		for _, b := range eBytes {
			e = e<<8 | int(b)
		}
	}

	pub := &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}
	return pub, nil
}

// EncodePublicKey renders an RSA public key as the jwk_n/jwk_e header
// fields a proof issuer must embed.
func EncodePublicKey(pub *rsa.PublicKey) (n string, e string) {
	n = base64.RawURLEncoding.EncodeToString(pub.N.Bytes())
	e = base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes())
	return n, e
}

// Mint produces a signed DPoP proof for (method, url) using priv, embedding
// priv's public key in the proof header so the resource server can verify
// it without a separate key-distribution step.
func Mint(priv *rsa.PrivateKey, method, url, jti string, iat time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, &proofClaims{
		HTU: url,
		HTM: method,
		IAT: iat.Unix(),
		JTI: jti,
	})
	n, e := EncodePublicKey(&priv.PublicKey)
	token.Header["jwk_n"] = n
	token.Header["jwk_e"] = e
	return token.SignedString(priv)
}

// ParsePKIXPublicKey is a convenience re-export so callers provisioning
// DPoP keys don't need to import crypto/x509 themselves.
func ParsePKIXPublicKey(der []byte) (*rsa.PublicKey, error) {
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("dpop: not an RSA public key")
	}
	return rsaKey, nil
}

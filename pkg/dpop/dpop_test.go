package dpop

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestVerifyAcceptsFreshProof(t *testing.T) {
	key := testKey(t)
	v := NewVerifier(Freshness)

	proof, err := Mint(key, "POST", "https://resource.example/data", uuid.New().String(), time.Now())
	require.NoError(t, err)

	require.NoError(t, v.Verify(proof, "POST", "https://resource.example/data"))
}

func TestVerifyRejectsMethodMismatch(t *testing.T) {
	key := testKey(t)
	v := NewVerifier(Freshness)

	proof, err := Mint(key, "POST", "https://resource.example/data", uuid.New().String(), time.Now())
	require.NoError(t, err)

	require.Error(t, v.Verify(proof, "GET", "https://resource.example/data"))
}

func TestVerifyRejectsURLMismatch(t *testing.T) {
	key := testKey(t)
	v := NewVerifier(Freshness)

	proof, err := Mint(key, "POST", "https://resource.example/data", uuid.New().String(), time.Now())
	require.NoError(t, err)

	require.Error(t, v.Verify(proof, "POST", "https://resource.example/other"))
}

func TestVerifyRejectsReplayedJTI(t *testing.T) {
	key := testKey(t)
	v := NewVerifier(Freshness)
	jti := uuid.New().String()

	proof, err := Mint(key, "POST", "https://resource.example/data", jti, time.Now())
	require.NoError(t, err)

	require.NoError(t, v.Verify(proof, "POST", "https://resource.example/data"))

	replay, err := Mint(key, "POST", "https://resource.example/data", jti, time.Now())
	require.NoError(t, err)
	err = v.Verify(replay, "POST", "https://resource.example/data")
	require.ErrorIs(t, err, ErrReplay)
}

func TestVerifyRejectsStaleProof(t *testing.T) {
	key := testKey(t)
	v := NewVerifier(Freshness)

	stale := time.Now().Add(-2 * Freshness)
	proof, err := Mint(key, "POST", "https://resource.example/data", uuid.New().String(), stale)
	require.NoError(t, err)

	err = v.Verify(proof, "POST", "https://resource.example/data")
	require.ErrorIs(t, err, ErrStale)
}

func TestVerifyRejectsTamperedProof(t *testing.T) {
	key := testKey(t)
	v := NewVerifier(Freshness)

	proof, err := Mint(key, "POST", "https://resource.example/data", uuid.New().String(), time.Now())
	require.NoError(t, err)

	tampered := proof[:len(proof)-4] + "abcd"
	require.Error(t, v.Verify(tampered, "POST", "https://resource.example/data"))
}

// ABOUTME: Unit tests for capability token issuing and verification
// ABOUTME: Covers both signing schemes, cell binding, expiry and malformed input

package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("cell-token-test-secret-32-bytes!")

func newHS256(t *testing.T, ttl time.Duration) (*Signer, *JWTVerifier) {
	t.Helper()
	signer, err := NewHS256Signer(testSecret, ttl)
	require.NoError(t, err)
	verifier, err := NewHS256Verifier(testSecret)
	require.NoError(t, err)
	return signer, verifier
}

func newEdDSA(t *testing.T) (*Signer, *JWTVerifier) {
	t.Helper()
	privPEM, pubPEM, err := GenerateEdDSAKeyPair()
	require.NoError(t, err)
	signer, err := NewEdDSASigner(privPEM, 0)
	require.NoError(t, err)
	verifier, err := NewEdDSAVerifier(pubPEM)
	require.NoError(t, err)
	return signer, verifier
}

func TestToken_RoundTrip(t *testing.T) {
	schemes := map[string]func(*testing.T) (*Signer, *JWTVerifier){
		"hs256": func(t *testing.T) (*Signer, *JWTVerifier) { return newHS256(t, 0) },
		"eddsa": newEdDSA,
	}

	for name, build := range schemes {
		t.Run(name, func(t *testing.T) {
			signer, verifier := build(t)

			token, err := signer.Issue("alice", "cell-a")
			require.NoError(t, err)

			claims, err := verifier.Verify(token, "cell-a")
			require.NoError(t, err)
			assert.Equal(t, "alice", claims.Username)
			assert.Equal(t, "cell-a", claims.CellID)
			assert.NotNil(t, claims.IssuedAt)
			assert.Nil(t, claims.ExpiresAt)
		})
	}
}

func TestToken_CellMismatch(t *testing.T) {
	signer, verifier := newHS256(t, 0)

	token, err := signer.Issue("alice", "cell-a")
	require.NoError(t, err)

	_, err = verifier.Verify(token, "cell-b")
	assert.ErrorIs(t, err, ErrCellMismatch)

	// VerifyAny ignores the cell
	claims, err := verifier.VerifyAny(token)
	require.NoError(t, err)
	assert.Equal(t, "cell-a", claims.CellID)
}

func TestToken_InvalidSignature(t *testing.T) {
	signer, _ := newHS256(t, 0)
	otherVerifier, err := NewHS256Verifier([]byte("a-completely-different-secret-32b"))
	require.NoError(t, err)

	token, err := signer.Issue("alice", "cell-a")
	require.NoError(t, err)

	_, err = otherVerifier.Verify(token, "cell-a")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestToken_SchemeMismatchRejected(t *testing.T) {
	edSigner, _ := newEdDSA(t)
	_, hsVerifier := newHS256(t, 0)

	token, err := edSigner.Issue("alice", "cell-a")
	require.NoError(t, err)

	_, err = hsVerifier.Verify(token, "cell-a")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestToken_EdDSAWrongKey(t *testing.T) {
	signer, _ := newEdDSA(t)
	_, otherVerifier := newEdDSA(t)

	token, err := signer.Issue("alice", "cell-a")
	require.NoError(t, err)

	_, err = otherVerifier.Verify(token, "cell-a")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestToken_Malformed(t *testing.T) {
	_, verifier := newHS256(t, 0)

	for _, token := range []string{"", "not-a-jwt", "header.payload.signature"} {
		_, err := verifier.Verify(token, "cell-a")
		assert.ErrorIs(t, err, ErrMalformed, "token %q", token)
	}
}

func TestToken_MissingClaims(t *testing.T) {
	_, verifier := newHS256(t, 0)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"username": "alice"})
	signed, err := tok.SignedString(testSecret)
	require.NoError(t, err)

	_, err = verifier.Verify(signed, "cell-a")
	assert.ErrorIs(t, err, ErrMalformed)
	assert.True(t, strings.Contains(err.Error(), "missing cell"))
}

func TestToken_Expiry(t *testing.T) {
	signer, verifier := newHS256(t, time.Minute)
	signer.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }

	token, err := signer.Issue("alice", "cell-a")
	require.NoError(t, err)

	_, err = verifier.Verify(token, "cell-a")
	assert.True(t, errors.Is(err, ErrExpiredToken))

	signer.now = time.Now
	token, err = signer.Issue("alice", "cell-a")
	require.NoError(t, err)
	claims, err := verifier.Verify(token, "cell-a")
	require.NoError(t, err)
	assert.NotNil(t, claims.ExpiresAt)
}

func TestToken_ClaimNames(t *testing.T) {
	signer, _ := newHS256(t, 0)
	token, err := signer.Issue("canary", "cell-a")
	require.NoError(t, err)

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	require.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "canary", claims["username"])
	assert.Equal(t, "cell-a", claims["cell"])
}

func TestSigner_RejectsEmpty(t *testing.T) {
	signer, _ := newHS256(t, 0)
	_, err := signer.Issue("", "cell-a")
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = signer.Issue("alice", "")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestNewHS256_WeakSecret(t *testing.T) {
	_, err := NewHS256Signer([]byte("short"), 0)
	assert.ErrorIs(t, err, ErrWeakSecret)
	_, err = NewHS256Verifier([]byte("short"))
	assert.ErrorIs(t, err, ErrWeakSecret)
}

func TestNewEdDSA_BadPEM(t *testing.T) {
	_, err := NewEdDSASigner([]byte("not pem"), 0)
	assert.Error(t, err)
	_, err = NewEdDSAVerifier([]byte("not pem"))
	assert.Error(t, err)
}

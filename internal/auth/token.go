// ABOUTME: Capability tokens binding a username to the cell it was assigned
// ABOUTME: One signer and one verifier, with HS256 or EdDSA chosen by key material

package auth

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the minimum HS256 secret length in bytes
const MinSecretLength = 32

// Token errors
var (
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrCellMismatch     = errors.New("token issued for a different cell")
	ErrMalformed        = errors.New("malformed token")
	ErrExpiredToken     = errors.New("token expired")
	// ErrVerificationUnavailable means the token could not be judged, e.g.
	// the records it is checked against could not be read
	ErrVerificationUnavailable = errors.New("token verification unavailable")
	ErrWeakSecret              = fmt.Errorf("secret must be at least %d bytes", MinSecretLength)
)

// Claims is the token payload. Username and CellID are the capability;
// the registered claims only carry iat and, when a TTL is set, exp.
type Claims struct {
	Username string `json:"username"`
	CellID   string `json:"cell"`
	jwt.RegisteredClaims
}

// TokenIssuer issues capability tokens
type TokenIssuer interface {
	Issue(username, cellID string) (string, error)
}

// TokenVerifier verifies capability tokens
type TokenVerifier interface {
	// Verify checks the signature and that the token names expectedCell.
	Verify(tokenString, expectedCell string) (*Claims, error)
	// VerifyAny checks the signature and shape only.
	VerifyAny(tokenString string) (*Claims, error)
}

// Signer issues tokens with a fixed signing method and key
type Signer struct {
	method jwt.SigningMethod
	key    any
	ttl    time.Duration
	now    func() time.Time
}

// JWTVerifier verifies tokens signed by a Signer with matching key material
type JWTVerifier struct {
	method jwt.SigningMethod
	key    any
}

// NewHS256Signer creates a signer for a shared secret. A zero ttl issues
// tokens without an exp claim.
func NewHS256Signer(secret []byte, ttl time.Duration) (*Signer, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	return &Signer{method: jwt.SigningMethodHS256, key: secret, ttl: ttl, now: time.Now}, nil
}

// NewHS256Verifier creates a verifier for a shared secret
func NewHS256Verifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	return &JWTVerifier{method: jwt.SigningMethodHS256, key: secret}, nil
}

// NewEdDSASigner creates a signer from a PKCS#8 PEM Ed25519 private key
func NewEdDSASigner(privatePEM []byte, ttl time.Duration) (*Signer, error) {
	key, err := jwt.ParseEdPrivateKeyFromPEM(privatePEM)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	return &Signer{method: jwt.SigningMethodEdDSA, key: key, ttl: ttl, now: time.Now}, nil
}

// NewEdDSAVerifier creates a verifier from a PKIX PEM Ed25519 public key
func NewEdDSAVerifier(publicPEM []byte) (*JWTVerifier, error) {
	key, err := jwt.ParseEdPublicKeyFromPEM(publicPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	return &JWTVerifier{method: jwt.SigningMethodEdDSA, key: key}, nil
}

// Issue signs a token for username scoped to cellID
func (s *Signer) Issue(username, cellID string) (string, error) {
	if username == "" || cellID == "" {
		return "", fmt.Errorf("%w: username and cell are required", ErrMalformed)
	}

	now := s.now()
	claims := Claims{
		Username: username,
		CellID:   cellID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}

	token := jwt.NewWithClaims(s.method, claims)
	return token.SignedString(s.key)
}

// Verify validates the token and requires it to name expectedCell
func (v *JWTVerifier) Verify(tokenString, expectedCell string) (*Claims, error) {
	claims, err := v.VerifyAny(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.CellID != expectedCell {
		return nil, fmt.Errorf("%w: token cell %q", ErrCellMismatch, claims.CellID)
	}
	return claims, nil
}

// VerifyAny validates signature, expiry and required claims
func (v *JWTVerifier) VerifyAny(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return v.key, nil
	}, jwt.WithValidMethods([]string{v.method.Alg()}))

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	if !token.Valid {
		return nil, ErrInvalidSignature
	}
	if claims.Username == "" {
		return nil, fmt.Errorf("%w: missing username", ErrMalformed)
	}
	if claims.CellID == "" {
		return nil, fmt.Errorf("%w: missing cell", ErrMalformed)
	}

	return claims, nil
}

// GenerateEdDSAKeyPair returns a new Ed25519 key pair as PKCS#8 and PKIX PEM
func GenerateEdDSAKeyPair() (privatePEM, publicPEM []byte, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating key: %w", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(crypto.PrivateKey(priv))
	if err != nil {
		return nil, nil, fmt.Errorf("encoding private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(crypto.PublicKey(pub))
	if err != nil {
		return nil, nil, fmt.Errorf("encoding public key: %w", err)
	}

	privatePEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	publicPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return privatePEM, publicPEM, nil
}

// ABOUTME: Builds token signers and verifiers from auth configuration
// ABOUTME: Switching from a shared secret to Ed25519 keys is a config change, not a code path

package auth

import (
	"context"
	"fmt"

	"github.com/2389/cellular/internal/config"
	"github.com/2389/cellular/internal/secrets"
)

// SecretsClientFunc lazily creates a Secrets Manager client for aws key sources
type SecretsClientFunc func(context.Context) (secrets.SecretsManagerAPI, error)

func fetchKey(ctx context.Context, ref config.KeyRef, newSM SecretsClientFunc) ([]byte, error) {
	src, err := secrets.FromRef(ctx, ref, newSM)
	if err != nil {
		return nil, err
	}
	s, err := secrets.FetchString(ctx, src)
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

// LoadSigner builds the signer described by cfg
func LoadSigner(ctx context.Context, cfg config.AuthConfig, newSM SecretsClientFunc) (*Signer, error) {
	key, err := fetchKey(ctx, cfg.SigningKey, newSM)
	if err != nil {
		return nil, fmt.Errorf("loading signing key: %w", err)
	}

	switch cfg.Scheme {
	case config.SchemeHS256:
		return NewHS256Signer(key, cfg.TokenTTL)
	case config.SchemeEdDSA:
		return NewEdDSASigner(key, cfg.TokenTTL)
	default:
		return nil, fmt.Errorf("unsupported token scheme %q", cfg.Scheme)
	}
}

// LoadVerifier builds the verifier described by cfg. For hs256 without a
// separate verification key the signing secret is used.
func LoadVerifier(ctx context.Context, cfg config.AuthConfig, newSM SecretsClientFunc) (*JWTVerifier, error) {
	ref := cfg.VerificationKey
	if cfg.Scheme == config.SchemeHS256 && ref.Source == "" {
		ref = cfg.SigningKey
	}

	key, err := fetchKey(ctx, ref, newSM)
	if err != nil {
		return nil, fmt.Errorf("loading verification key: %w", err)
	}

	switch cfg.Scheme {
	case config.SchemeHS256:
		return NewHS256Verifier(key)
	case config.SchemeEdDSA:
		return NewEdDSAVerifier(key)
	default:
		return nil, fmt.Errorf("unsupported token scheme %q", cfg.Scheme)
	}
}

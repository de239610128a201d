// ABOUTME: Key material sources for capability token signing and verification
// ABOUTME: Reads secrets from config literals, files, environment variables or AWS Secrets Manager

package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/2389/cellular/internal/config"
)

// ErrEmpty is returned when a source resolves to no key material
var ErrEmpty = errors.New("secret is empty")

// Source yields key material
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// Static is key material held in memory
type Static []byte

// Fetch returns the literal value
func (s Static) Fetch(context.Context) ([]byte, error) {
	if len(s) == 0 {
		return nil, ErrEmpty
	}
	return []byte(s), nil
}

// File reads key material from a file path
type File string

// Fetch reads the whole file
func (f File) Fetch(context.Context) ([]byte, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	return data, nil
}

// Env reads key material from an environment variable
type Env string

// Fetch reads the variable
func (e Env) Fetch(context.Context) ([]byte, error) {
	v, ok := os.LookupEnv(string(e))
	if !ok || v == "" {
		return nil, fmt.Errorf("environment variable %s: %w", string(e), ErrEmpty)
	}
	return []byte(v), nil
}

// SecretsManagerAPI is the subset of the Secrets Manager client used here
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSource reads a secret from AWS Secrets Manager
type AWSSource struct {
	client   SecretsManagerAPI
	secretID string
}

// NewAWSSource creates a source for one secret id
func NewAWSSource(client SecretsManagerAPI, secretID string) *AWSSource {
	return &AWSSource{client: client, secretID: secretID}
}

// Fetch returns the secret string, or the binary value if no string is set
func (a *AWSSource) Fetch(ctx context.Context) ([]byte, error) {
	out, err := a.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(a.secretID),
	})
	if err != nil {
		return nil, fmt.Errorf("getting secret %s: %w", a.secretID, err)
	}
	if s := aws.ToString(out.SecretString); s != "" {
		return []byte(s), nil
	}
	if len(out.SecretBinary) > 0 {
		return out.SecretBinary, nil
	}
	return nil, fmt.Errorf("secret %s: %w", a.secretID, ErrEmpty)
}

// FromRef builds the source a config reference points at. newSM is only
// called for the aws source.
func FromRef(ctx context.Context, ref config.KeyRef, newSM func(context.Context) (SecretsManagerAPI, error)) (Source, error) {
	switch ref.Source {
	case config.SourceStatic:
		return Static(ref.Ref), nil
	case config.SourceFile:
		return File(ref.Ref), nil
	case config.SourceEnv:
		return Env(ref.Ref), nil
	case config.SourceAWS:
		if newSM == nil {
			return nil, fmt.Errorf("aws key source requires a secrets manager client")
		}
		client, err := newSM(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating secrets manager client: %w", err)
		}
		return NewAWSSource(client, ref.Ref), nil
	default:
		return nil, fmt.Errorf("unsupported key source %q", ref.Source)
	}
}

// FetchString fetches and trims surrounding whitespace, which files and
// console-entered secrets commonly carry
func FetchString(ctx context.Context, src Source) (string, error) {
	b, err := src.Fetch(ctx)
	if err != nil {
		return "", err
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return "", ErrEmpty
	}
	return s, nil
}

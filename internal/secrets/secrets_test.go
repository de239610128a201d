// ABOUTME: Tests for key material sources
// ABOUTME: Covers static, file, env and Secrets Manager lookups

package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/cellular/internal/config"
)

type fakeSecretsManager struct {
	values map[string]*secretsmanager.GetSecretValueOutput
	asked  []string
}

func (f *fakeSecretsManager) GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	id := aws.ToString(in.SecretId)
	f.asked = append(f.asked, id)
	out, ok := f.values[id]
	if !ok {
		return nil, errors.New("ResourceNotFoundException")
	}
	return out, nil
}

func TestStatic(t *testing.T) {
	b, err := Static("k").Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("k"), b)

	_, err = Static("").Fetch(context.Background())
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(path, []byte("pem-data\n"), 0600))

	s, err := FetchString(context.Background(), File(path))
	require.NoError(t, err)
	assert.Equal(t, "pem-data", s)

	_, err = File(filepath.Join(t.TempDir(), "missing")).Fetch(context.Background())
	assert.Error(t, err)
}

func TestEnv(t *testing.T) {
	t.Setenv("CELLULAR_TEST_KEY", "from-env")

	b, err := Env("CELLULAR_TEST_KEY").Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-env", string(b))

	_, err = Env("CELLULAR_TEST_KEY_UNSET").Fetch(context.Background())
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestAWSSource(t *testing.T) {
	fake := &fakeSecretsManager{values: map[string]*secretsmanager.GetSecretValueOutput{
		"cellsJwtPublicKey": {SecretString: aws.String("public")},
		"binary":            {SecretBinary: []byte{1, 2}},
		"empty":             {},
	}}
	ctx := context.Background()

	b, err := NewAWSSource(fake, "cellsJwtPublicKey").Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "public", string(b))

	b, err = NewAWSSource(fake, "binary").Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, b)

	_, err = NewAWSSource(fake, "empty").Fetch(ctx)
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = NewAWSSource(fake, "missing").Fetch(ctx)
	assert.ErrorContains(t, err, "getting secret missing")
}

func TestFromRef(t *testing.T) {
	ctx := context.Background()
	fake := &fakeSecretsManager{values: map[string]*secretsmanager.GetSecretValueOutput{
		"cellsJwtPrivateKey": {SecretString: aws.String("private")},
	}}
	newSM := func(context.Context) (SecretsManagerAPI, error) { return fake, nil }

	src, err := FromRef(ctx, config.KeyRef{Source: config.SourceStatic, Ref: "lit"}, nil)
	require.NoError(t, err)
	assert.Equal(t, Static("lit"), src)

	src, err = FromRef(ctx, config.KeyRef{Source: config.SourceEnv, Ref: "X"}, nil)
	require.NoError(t, err)
	assert.Equal(t, Env("X"), src)

	src, err = FromRef(ctx, config.KeyRef{Source: config.SourceAWS, Ref: "cellsJwtPrivateKey"}, newSM)
	require.NoError(t, err)
	s, err := FetchString(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, "private", s)
	assert.Equal(t, []string{"cellsJwtPrivateKey"}, fake.asked)

	_, err = FromRef(ctx, config.KeyRef{Source: config.SourceAWS, Ref: "x"}, nil)
	assert.Error(t, err)

	_, err = FromRef(ctx, config.KeyRef{Source: "vault", Ref: "x"}, nil)
	assert.ErrorContains(t, err, "unsupported key source")
}

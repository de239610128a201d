// ABOUTME: Tests for AWS configuration loading
// ABOUTME: Uses static credentials so no environment or network is consulted

package awsconf

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/cellular/internal/config"
)

func localConfig() config.AWSConfig {
	return config.AWSConfig{
		Region:          "us-west-2",
		Endpoint:        "http://localhost:4566",
		AccessKeyID:     "test",
		SecretAccessKey: "secret",
	}
}

func TestConfig_AppliesOverrides(t *testing.T) {
	c := New(localConfig())

	awsCfg, err := c.Config(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "us-west-2", awsCfg.Region)
	assert.Equal(t, "http://localhost:4566", aws.ToString(awsCfg.BaseEndpoint))

	creds, err := awsCfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test", creds.AccessKeyID)
	assert.Equal(t, "secret", creds.SecretAccessKey)
}

func TestConfig_LoadedOnce(t *testing.T) {
	c := New(localConfig())

	_, err := c.Config(context.Background())
	require.NoError(t, err)
	first := c.loaded

	_, err = c.Config(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, c.loaded)
}

func TestOptions_Empty(t *testing.T) {
	assert.Empty(t, Options(config.AWSConfig{}))
	assert.Len(t, Options(localConfig()), 2)
}

func TestClients(t *testing.T) {
	c := New(localConfig())
	ctx := context.Background()

	ddb, err := c.DynamoDB(ctx)
	require.NoError(t, err)
	assert.IsType(t, &dynamodb.Client{}, ddb)

	s3Client, err := c.S3(ctx)
	require.NoError(t, err)
	require.IsType(t, &s3.Client{}, s3Client)
	assert.True(t, s3Client.(*s3.Client).Options().UsePathStyle)

	_, err = c.CloudFormation(ctx)
	require.NoError(t, err)
	_, err = c.SecretsManager(ctx)
	require.NoError(t, err)
	_, err = c.CodePipeline(ctx)
	require.NoError(t, err)
}

// ABOUTME: Shared AWS SDK configuration and lazily built service clients
// ABOUTME: Region, static credentials and an endpoint override come from the aws config section

package awsconf

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/2389/cellular/internal/config"
	"github.com/2389/cellular/internal/pipeline"
	"github.com/2389/cellular/internal/provision"
	"github.com/2389/cellular/internal/secrets"
	"github.com/2389/cellular/internal/store"
)

// Clients loads the AWS configuration once, on first use, and builds
// service clients from it. Deployments that never touch AWS never load it.
type Clients struct {
	cfg config.AWSConfig

	mu     sync.Mutex
	loaded *aws.Config
}

// New creates a Clients for cfg
func New(cfg config.AWSConfig) *Clients {
	return &Clients{cfg: cfg}
}

// Options returns the loader options for cfg
func Options(cfg config.AWSConfig) []func(*awsconfig.LoadOptions) error {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	return opts
}

// Config returns the loaded SDK configuration
func (c *Clients) Config(ctx context.Context) (aws.Config, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded != nil {
		return *c.loaded, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, Options(c.cfg)...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	if c.cfg.Endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(c.cfg.Endpoint)
	}
	c.loaded = &awsCfg
	return awsCfg, nil
}

// DynamoDB returns a DynamoDB client for the store
func (c *Clients) DynamoDB(ctx context.Context) (store.DynamoAPI, error) {
	awsCfg, err := c.Config(ctx)
	if err != nil {
		return nil, err
	}
	return dynamodb.NewFromConfig(awsCfg), nil
}

// CloudFormation returns a CloudFormation client for the provisioner
func (c *Clients) CloudFormation(ctx context.Context) (provision.CloudFormationAPI, error) {
	awsCfg, err := c.Config(ctx)
	if err != nil {
		return nil, err
	}
	return cloudformation.NewFromConfig(awsCfg), nil
}

// SecretsManager returns a Secrets Manager client for key loading
func (c *Clients) SecretsManager(ctx context.Context) (secrets.SecretsManagerAPI, error) {
	awsCfg, err := c.Config(ctx)
	if err != nil {
		return nil, err
	}
	return secretsmanager.NewFromConfig(awsCfg), nil
}

// S3 returns an S3 client for template uploads. Endpoint overrides point at
// emulators, which need path-style addressing.
func (c *Clients) S3(ctx context.Context) (provision.S3PutAPI, error) {
	awsCfg, err := c.Config(ctx)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = c.cfg.Endpoint != ""
	}), nil
}

// CodePipeline returns a CodePipeline client for job reporting
func (c *Clients) CodePipeline(ctx context.Context) (pipeline.CodePipelineAPI, error) {
	awsCfg, err := c.Config(ctx)
	if err != nil {
		return nil, err
	}
	return codepipeline.NewFromConfig(awsCfg), nil
}

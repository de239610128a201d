// ABOUTME: Uploads the cell stack template to S3 so CloudFormation can read it by URL
// ABOUTME: The returned URL is what provisioning.template_url should point at

package provision

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3PutAPI is the subset of the S3 client used here
type S3PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// TemplateUploader stores stack templates in one bucket
type TemplateUploader struct {
	client S3PutAPI
	bucket string
}

// NewTemplateUploader creates an uploader for bucket
func NewTemplateUploader(client S3PutAPI, bucket string) *TemplateUploader {
	return &TemplateUploader{client: client, bucket: bucket}
}

// Upload writes body under key and returns the template URL
func (u *TemplateUploader) Upload(ctx context.Context, key string, body io.Reader) (string, error) {
	if u.bucket == "" {
		return "", fmt.Errorf("templates.bucket is required")
	}
	if key == "" {
		return "", fmt.Errorf("template key is required")
	}

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String("application/x-yaml"),
	})
	if err != nil {
		return "", fmt.Errorf("uploading template to s3://%s/%s: %w", u.bucket, key, err)
	}
	return TemplateURL(u.bucket, key), nil
}

// TemplateURL returns the virtual-hosted S3 URL for an object
func TemplateURL(bucket, key string) string {
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", bucket, key)
}

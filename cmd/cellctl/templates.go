// ABOUTME: cellctl template command
// ABOUTME: Uploads the cell stack template to the configured S3 bucket

package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/2389/cellular/internal/provision"
)

func newTemplateCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Manage the cell stack template",
	}

	var file, bucket, key string
	upload := &cobra.Command{
		Use:   "upload",
		Short: "Upload the template and print its URL for provisioning.template_url",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := e.Config()
			if err != nil {
				return err
			}
			if bucket == "" {
				bucket = cfg.Templates.Bucket
			}
			if key == "" {
				key = cfg.Templates.Key
			}
			if bucket == "" {
				return fmt.Errorf("--bucket or templates.bucket is required")
			}

			body, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading template: %w", err)
			}
			client, err := e.aws.S3(cmd.Context())
			if err != nil {
				return err
			}
			url, err := provision.NewTemplateUploader(client, bucket).Upload(cmd.Context(), key, bytes.NewReader(body))
			if err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Uploaded template")
			field(cmd.OutOrStdout(), "URL", url)
			return nil
		},
	}
	upload.Flags().StringVar(&file, "file", "", "template file")
	upload.Flags().StringVar(&bucket, "bucket", "", "bucket (defaults to templates.bucket)")
	upload.Flags().StringVar(&key, "key", "", "object key (defaults to templates.key)")
	_ = upload.MarkFlagRequired("file")

	cmd.AddCommand(upload)
	return cmd
}

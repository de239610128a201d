// ABOUTME: cellctl pipeline command
// ABOUTME: Entry point for CI/CD jobs that update the fleet and report back to the pipeline

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/2389/cellular/internal/lifecycle"
	"github.com/2389/cellular/internal/pipeline"
	"github.com/2389/cellular/internal/store"
)

func newPipelineCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Commands run by deployment pipelines",
	}

	var jobID, stage, image string
	update := &cobra.Command{
		Use:   "update",
		Short: "Update every active cell of a stage and report the result to the pipeline job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if jobID == "" {
				return fmt.Errorf("--job-id is required")
			}
			orch, err := e.Orchestrator(cmd.Context())
			if err != nil {
				return err
			}
			reporter, err := pipeline.NewReporter(cmd.Context(), e.cfg.Pipeline, e.aws.CodePipeline, e.logger)
			if err != nil {
				return err
			}

			err = pipeline.Run(cmd.Context(), orch, reporter, pipeline.Job{
				ID:       jobID,
				Stage:    store.Stage(stage),
				ImageRef: image,
			}, lifecycle.Kind)
			e.PushMetrics(cmd.Context())
			if err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Pipeline job %s succeeded", jobID)
			return nil
		},
	}
	update.Flags().StringVar(&jobID, "job-id", "", "pipeline job id; also names the batch")
	update.Flags().StringVar(&stage, "stage", string(store.StageProd), "stage to update")
	update.Flags().StringVar(&image, "image", "", "image reference (keeps each cell's image when empty)")

	cmd.AddCommand(update)
	return cmd
}

// ABOUTME: Pipeline entry point running a fleet update and reporting the outcome to the caller
// ABOUTME: Reports go to CodePipeline job results or, outside a pipeline, to the log

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline/types"

	"github.com/2389/cellular/internal/batch"
	"github.com/2389/cellular/internal/config"
	"github.com/2389/cellular/internal/store"
)

// maxMessageLen is CodePipeline's limit on failure messages and summaries
const maxMessageLen = 5000

// Reporter tells the invoking pipeline how a job ended
type Reporter interface {
	Succeed(ctx context.Context, jobID, summary string) error
	Fail(ctx context.Context, jobID, message string) error
}

// CodePipelineAPI is the subset of the CodePipeline client used here
type CodePipelineAPI interface {
	PutJobSuccessResult(ctx context.Context, params *codepipeline.PutJobSuccessResultInput, optFns ...func(*codepipeline.Options)) (*codepipeline.PutJobSuccessResultOutput, error)
	PutJobFailureResult(ctx context.Context, params *codepipeline.PutJobFailureResultInput, optFns ...func(*codepipeline.Options)) (*codepipeline.PutJobFailureResultOutput, error)
}

// CodePipelineReporter posts job results to CodePipeline
type CodePipelineReporter struct {
	client CodePipelineAPI
}

// NewCodePipelineReporter creates a reporter for client
func NewCodePipelineReporter(client CodePipelineAPI) *CodePipelineReporter {
	return &CodePipelineReporter{client: client}
}

// Succeed marks the job successful
func (r *CodePipelineReporter) Succeed(ctx context.Context, jobID, summary string) error {
	_, err := r.client.PutJobSuccessResult(ctx, &codepipeline.PutJobSuccessResultInput{
		JobId: aws.String(jobID),
		ExecutionDetails: &types.ExecutionDetails{
			Summary: aws.String(truncate(summary)),
		},
	})
	if err != nil {
		return fmt.Errorf("reporting success for job %s: %w", jobID, err)
	}
	return nil
}

// Fail marks the job failed with message
func (r *CodePipelineReporter) Fail(ctx context.Context, jobID, message string) error {
	_, err := r.client.PutJobFailureResult(ctx, &codepipeline.PutJobFailureResultInput{
		JobId: aws.String(jobID),
		FailureDetails: &types.FailureDetails{
			Type:    types.FailureTypeJobFailed,
			Message: aws.String(truncate(message)),
		},
	})
	if err != nil {
		return fmt.Errorf("reporting failure for job %s: %w", jobID, err)
	}
	return nil
}

// LogReporter writes job results to a logger
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter creates a reporter writing to logger
func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{logger: logger.With("component", "pipeline")}
}

func (r *LogReporter) Succeed(ctx context.Context, jobID, summary string) error {
	r.logger.Info("pipeline job succeeded", "job_id", jobID, "summary", summary)
	return nil
}

func (r *LogReporter) Fail(ctx context.Context, jobID, message string) error {
	r.logger.Error("pipeline job failed", "job_id", jobID, "message", message)
	return nil
}

// NewReporter picks the reporter named by cfg. newAPI is only called for
// the codepipeline reporter.
func NewReporter(ctx context.Context, cfg config.PipelineConfig, newAPI func(context.Context) (CodePipelineAPI, error), logger *slog.Logger) (Reporter, error) {
	switch cfg.Reporter {
	case config.ReporterLog, "":
		return NewLogReporter(logger), nil
	case config.ReporterCodePipeline:
		if newAPI == nil {
			return nil, fmt.Errorf("codepipeline reporter requires an AWS client")
		}
		client, err := newAPI(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating codepipeline client: %w", err)
		}
		return NewCodePipelineReporter(client), nil
	default:
		return nil, fmt.Errorf("unsupported pipeline reporter %q", cfg.Reporter)
	}
}

// Updater runs a fleet update; lifecycle.Orchestrator satisfies it
type Updater interface {
	UpdateAll(ctx context.Context, name string, stage store.Stage, imageRef string) (*batch.Report, error)
}

// Job is one pipeline invocation
type Job struct {
	ID       string
	Stage    store.Stage
	ImageRef string
}

// BatchName is the batch a pipeline job runs under. Retried deliveries of the
// same job share it, so a finished update is replayed rather than rerun.
func BatchName(jobID string) string {
	return "update-" + jobID
}

// Run updates every active cell of job.Stage and reports the outcome.
// The returned error is the update's error, not the reporter's; a reporter
// failure is returned only when the update itself succeeded.
func Run(ctx context.Context, u Updater, r Reporter, job Job, classify batch.Classifier) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if classify == nil {
		classify = batch.DefaultClassifier
	}

	report, err := u.UpdateAll(ctx, BatchName(job.ID), job.Stage, job.ImageRef)
	if err != nil {
		if rerr := r.Fail(ctx, job.ID, fmt.Sprintf("%s: %s", classify(err), err)); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return err
	}

	if failed := report.Failed(); len(failed) > 0 {
		batchErr := report.Err()
		if rerr := r.Fail(ctx, job.ID, FailureMessage(failed)); rerr != nil {
			batchErr = errors.Join(batchErr, rerr)
		}
		return batchErr
	}

	return r.Succeed(ctx, job.ID, fmt.Sprintf("updated %d cells", len(report.Succeeded())))
}

// FailureMessage formats failed jobs as "<Kind>: <message>" naming each cell
func FailureMessage(failed []batch.JobResult) string {
	parts := make([]string, 0, len(failed))
	for _, f := range failed {
		kind, msg := "Error", ""
		if f.Failure != nil {
			kind, msg = f.Failure.Kind, f.Failure.Message
		}
		parts = append(parts, fmt.Sprintf("%s: cell %s: %s", kind, f.ID, msg))
	}
	return strings.Join(parts, "; ")
}

// truncate cuts s to maxMessageLen bytes on a rune boundary
func truncate(s string) string {
	if len(s) <= maxMessageLen {
		return s
	}
	// Back off only past a rune split by the cut
	n := maxMessageLen
	for i := 0; i < utf8.UTFMax-1 && n > 0 && !utf8.RuneStart(s[n]); i++ {
		n--
	}
	return s[:n]
}

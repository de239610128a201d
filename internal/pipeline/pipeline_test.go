// ABOUTME: Tests for the pipeline entry point and its reporters
// ABOUTME: Uses a fake updater and a fake CodePipeline client

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/cellular/internal/batch"
	"github.com/2389/cellular/internal/config"
	"github.com/2389/cellular/internal/store"
)

type fakeCodePipeline struct {
	successes []*codepipeline.PutJobSuccessResultInput
	failures  []*codepipeline.PutJobFailureResultInput
	err       error
}

func (f *fakeCodePipeline) PutJobSuccessResult(ctx context.Context, in *codepipeline.PutJobSuccessResultInput, _ ...func(*codepipeline.Options)) (*codepipeline.PutJobSuccessResultOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.successes = append(f.successes, in)
	return &codepipeline.PutJobSuccessResultOutput{}, nil
}

func (f *fakeCodePipeline) PutJobFailureResult(ctx context.Context, in *codepipeline.PutJobFailureResultInput, _ ...func(*codepipeline.Options)) (*codepipeline.PutJobFailureResultOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.failures = append(f.failures, in)
	return &codepipeline.PutJobFailureResultOutput{}, nil
}

type fakeUpdater struct {
	name   string
	stage  store.Stage
	image  string
	report *batch.Report
	err    error
}

func (f *fakeUpdater) UpdateAll(ctx context.Context, name string, stage store.Stage, imageRef string) (*batch.Report, error) {
	f.name, f.stage, f.image = name, stage, imageRef
	return f.report, f.err
}

func TestRun_AllSucceeded(t *testing.T) {
	cp := &fakeCodePipeline{}
	u := &fakeUpdater{report: &batch.Report{Results: []batch.JobResult{
		{ID: "a", Status: batch.StatusSucceeded},
		{ID: "b", Status: batch.StatusSucceeded},
	}}}

	err := Run(context.Background(), u, NewCodePipelineReporter(cp), Job{ID: "job-1", Stage: store.StageProd, ImageRef: "cell:2"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "update-job-1", u.name)
	assert.Equal(t, store.StageProd, u.stage)
	assert.Equal(t, "cell:2", u.image)

	require.Len(t, cp.successes, 1)
	assert.Equal(t, "job-1", aws.ToString(cp.successes[0].JobId))
	assert.Equal(t, "updated 2 cells", aws.ToString(cp.successes[0].ExecutionDetails.Summary))
	assert.Empty(t, cp.failures)
}

func TestRun_PartialFailureFailsJob(t *testing.T) {
	cp := &fakeCodePipeline{}
	u := &fakeUpdater{report: &batch.Report{Results: []batch.JobResult{
		{ID: "a", Status: batch.StatusSucceeded},
		{ID: "b", Status: batch.StatusFailed, Failure: &batch.Failure{Kind: "ValidationError", Message: "template invalid"}},
		{ID: "c", Status: batch.StatusSucceeded},
	}}}

	err := Run(context.Background(), u, NewCodePipelineReporter(cp), Job{ID: "job-2", Stage: store.StageProd}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b: ValidationError: template invalid")

	assert.Empty(t, cp.successes)
	require.Len(t, cp.failures, 1)
	assert.Equal(t, "job-2", aws.ToString(cp.failures[0].JobId))
	assert.Equal(t, types.FailureTypeJobFailed, cp.failures[0].FailureDetails.Type)
	assert.Equal(t, "ValidationError: cell b: template invalid", aws.ToString(cp.failures[0].FailureDetails.Message))
}

func TestRun_UpdateErrorFailsJob(t *testing.T) {
	cp := &fakeCodePipeline{}
	u := &fakeUpdater{err: batch.ErrBatchInProgress}
	classify := func(err error) string { return "InProgress" }

	err := Run(context.Background(), u, NewCodePipelineReporter(cp), Job{ID: "job-3"}, classify)
	assert.ErrorIs(t, err, batch.ErrBatchInProgress)

	require.Len(t, cp.failures, 1)
	assert.Equal(t, "InProgress: batch already in progress", aws.ToString(cp.failures[0].FailureDetails.Message))
}

func TestRun_ReporterErrorJoined(t *testing.T) {
	reportErr := errors.New("throttled")
	cp := &fakeCodePipeline{err: reportErr}
	u := &fakeUpdater{err: errors.New("listing failed")}

	err := Run(context.Background(), u, NewCodePipelineReporter(cp), Job{ID: "job-4"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, reportErr)
	assert.Contains(t, err.Error(), "listing failed")
}

func TestRun_RequiresJobID(t *testing.T) {
	err := Run(context.Background(), &fakeUpdater{}, NewLogReporter(nil), Job{}, nil)
	assert.Error(t, err)
}

func TestLogReporter(t *testing.T) {
	var buf bytes.Buffer
	r := NewLogReporter(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, r.Succeed(context.Background(), "job-1", "updated 1 cells"))
	require.NoError(t, r.Fail(context.Background(), "job-2", "Error: cell a: boom"))

	out := buf.String()
	assert.Contains(t, out, `"job_id":"job-1"`)
	assert.Contains(t, out, `"message":"Error: cell a: boom"`)
	assert.Contains(t, out, `"component":"pipeline"`)
}

func TestNewReporter(t *testing.T) {
	ctx := context.Background()

	r, err := NewReporter(ctx, config.PipelineConfig{Reporter: config.ReporterLog}, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &LogReporter{}, r)

	_, err = NewReporter(ctx, config.PipelineConfig{Reporter: config.ReporterCodePipeline}, nil, nil)
	assert.Error(t, err)

	r, err = NewReporter(ctx, config.PipelineConfig{Reporter: config.ReporterCodePipeline}, func(context.Context) (CodePipelineAPI, error) {
		return &fakeCodePipeline{}, nil
	}, nil)
	require.NoError(t, err)
	assert.IsType(t, &CodePipelineReporter{}, r)

	_, err = NewReporter(ctx, config.PipelineConfig{Reporter: "sqs"}, nil, nil)
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short"))

	long := strings.Repeat("é", maxMessageLen)
	got := truncate(long)
	assert.LessOrEqual(t, len(got), maxMessageLen)
	assert.True(t, strings.HasPrefix(long, got))

	// A split rune at the cut is dropped whole
	odd := "a" + strings.Repeat("é", maxMessageLen)
	got = truncate(odd)
	assert.Len(t, got, maxMessageLen-1)
	assert.True(t, utf8.ValidString(got))

	// An invalid byte far from the cut does not shorten the message
	invalid := "\xff" + strings.Repeat("a", maxMessageLen)
	got = truncate(invalid)
	assert.Len(t, got, maxMessageLen)
	assert.True(t, strings.HasPrefix(invalid, got))
}

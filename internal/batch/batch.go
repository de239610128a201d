// ABOUTME: Bounded-concurrency batch engine running independent jobs to completion
// ABOUTME: One job's failure never cancels its siblings; every job gets its own deadline

package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// ErrBatchInProgress is returned when a batch with the same name is still running
var ErrBatchInProgress = errors.New("batch already in progress")

// Status is a job's state within a batch
type Status string

// Job statuses
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Failure describes why a job failed
type Failure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// JobResult is the outcome of one job
type JobResult struct {
	ID       string        `json:"id"`
	Status   Status        `json:"status"`
	Failure  *Failure      `json:"failure,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report is the outcome of a whole batch. Results are in job order.
type Report struct {
	Name       string      `json:"name"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Results    []JobResult `json:"results"`
	// Replayed is set when the report was served from history
	Replayed bool `json:"replayed,omitempty"`
}

// Failed returns the failed jobs
func (r *Report) Failed() []JobResult {
	var out []JobResult
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			out = append(out, res)
		}
	}
	return out
}

// Succeeded returns the jobs that completed
func (r *Report) Succeeded() []JobResult {
	var out []JobResult
	for _, res := range r.Results {
		if res.Status == StatusSucceeded {
			out = append(out, res)
		}
	}
	return out
}

// Err aggregates every job failure, or returns nil when all succeeded
func (r *Report) Err() error {
	var result *multierror.Error
	for _, res := range r.Failed() {
		result = multierror.Append(result, fmt.Errorf("%s: %s: %s", res.ID, res.Failure.Kind, res.Failure.Message))
	}
	return result.ErrorOrNil()
}

// Job is one unit of work
type Job struct {
	ID  string
	Run func(ctx context.Context) error
}

// Classifier names the kind of a job error for reports
type Classifier func(error) string

// DefaultClassifier distinguishes deadlines and cancellation from other errors
func DefaultClassifier(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "Timeout"
	case errors.Is(err, context.Canceled):
		return "Canceled"
	default:
		return "Error"
	}
}

// Options configures a Runner
type Options struct {
	Concurrency int
	JobTimeout  time.Duration
	// HistoryTTL and MaxHistory bound how long named reports are replayed
	HistoryTTL time.Duration
	MaxHistory int
	Classify   Classifier
	// OnJobDone is called after every job with its result
	OnJobDone func(batch string, result JobResult)
	Logger    *slog.Logger
}

// Runner executes batches
type Runner struct {
	opts    Options
	history *History
	logger  *slog.Logger
	now     func() time.Time
}

// NewRunner creates a Runner
func NewRunner(opts Options) *Runner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Classify == nil {
		opts.Classify = DefaultClassifier
	}
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = 256
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		opts:    opts,
		history: NewHistory(opts.HistoryTTL, opts.MaxHistory),
		logger:  logger.With("component", "batch"),
		now:     time.Now,
	}
}

// Run executes jobs with bounded concurrency and waits for all of them.
//
// A non-empty name makes the batch idempotent: while a batch of that name is
// running Run returns ErrBatchInProgress, and within the history TTL after it
// finished Run returns the earlier report without running anything.
func (r *Runner) Run(ctx context.Context, name string, jobs []Job) (*Report, error) {
	if name != "" {
		prev, err := r.history.Begin(name)
		if err != nil {
			return nil, err
		}
		if prev != nil {
			r.logger.Info("batch replayed from history", "batch", name)
			replay := *prev
			replay.Results = append([]JobResult(nil), prev.Results...)
			replay.Replayed = true
			return &replay, nil
		}
	}

	report := &Report{
		Name:      name,
		StartedAt: r.now().UTC(),
		Results:   make([]JobResult, len(jobs)),
	}
	for i, job := range jobs {
		report.Results[i] = JobResult{ID: job.ID, Status: StatusPending}
	}

	r.logger.Info("batch started", "batch", name, "jobs", len(jobs), "concurrency", r.opts.Concurrency)

	g := new(errgroup.Group)
	g.SetLimit(r.opts.Concurrency)
	for i, job := range jobs {
		g.Go(func() error {
			report.Results[i] = r.runJob(ctx, name, job)
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = r.now().UTC()
	r.logger.Info("batch finished",
		"batch", name,
		"succeeded", len(report.Succeeded()),
		"failed", len(report.Failed()),
		"duration", report.FinishedAt.Sub(report.StartedAt))

	if name != "" {
		r.history.Finish(name, report)
	}
	return report, nil
}

func (r *Runner) runJob(ctx context.Context, batchName string, job Job) (result JobResult) {
	result = JobResult{ID: job.ID, Status: StatusRunning}
	start := time.Now()

	jobCtx := ctx
	if r.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, r.opts.JobTimeout)
		defer cancel()
	}

	defer func() {
		if rec := recover(); rec != nil {
			result.Status = StatusFailed
			result.Failure = &Failure{Kind: "Panic", Message: fmt.Sprint(rec)}
			r.logger.Error("job panicked", "batch", batchName, "job", job.ID, "panic", rec)
		}
		result.Duration = time.Since(start)
		if r.opts.OnJobDone != nil {
			r.opts.OnJobDone(batchName, result)
		}
	}()

	if err := job.Run(jobCtx); err != nil {
		result.Status = StatusFailed
		result.Failure = &Failure{Kind: r.opts.Classify(err), Message: err.Error()}
		r.logger.Warn("job failed", "batch", batchName, "job", job.ID, "kind", result.Failure.Kind, "error", err)
		return result
	}

	result.Status = StatusSucceeded
	r.logger.Debug("job succeeded", "batch", batchName, "job", job.ID)
	return result
}

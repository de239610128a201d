// ABOUTME: Lazily built dependencies shared by cellctl commands
// ABOUTME: Each command loads only the config sections and clients it needs

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/2389/cellular/internal/awsconf"
	"github.com/2389/cellular/internal/batch"
	"github.com/2389/cellular/internal/config"
	"github.com/2389/cellular/internal/directory"
	"github.com/2389/cellular/internal/lifecycle"
	"github.com/2389/cellular/internal/logging"
	"github.com/2389/cellular/internal/metrics"
	"github.com/2389/cellular/internal/provision"
	"github.com/2389/cellular/internal/registry"
	"github.com/2389/cellular/internal/store"
)

// env holds what commands build on demand
type env struct {
	configPath string

	cfg      *config.Config
	logger   *slog.Logger
	aws      *awsconf.Clients
	st       store.Store
	prov     provision.Provisioner
	promReg  *prometheus.Registry
	recorder metrics.Recorder
}

// Config loads the config file once
func (e *env) Config() (*config.Config, error) {
	if e.cfg != nil {
		return e.cfg, nil
	}
	cfg, err := config.Load(e.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	e.cfg = cfg
	// Logs go to stderr so command output stays pipeable
	e.logger = logging.New(cfg.Logging, os.Stderr)
	e.aws = awsconf.New(cfg.AWS)
	return cfg, nil
}

// Store opens the configured store after validating the ctl sections
func (e *env) Store(ctx context.Context) (store.Store, error) {
	if e.st != nil {
		return e.st, nil
	}
	cfg, err := e.Config()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateCtl(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	st, err := store.Open(ctx, cfg.Database, e.aws.DynamoDB)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	e.st = st
	return st, nil
}

// Directory returns the user directory over the store
func (e *env) Directory(ctx context.Context) (*directory.Directory, error) {
	st, err := e.Store(ctx)
	if err != nil {
		return nil, err
	}
	return directory.New(st, directory.WithLogger(e.logger))
}

// Provisioner builds the configured provisioner
func (e *env) Provisioner(ctx context.Context) (provision.Provisioner, error) {
	if e.prov != nil {
		return e.prov, nil
	}
	cfg, err := e.Config()
	if err != nil {
		return nil, err
	}
	prov, err := provision.FromConfig(ctx, cfg.Provisioning, e.aws.CloudFormation)
	if err != nil {
		return nil, fmt.Errorf("creating provisioner: %w", err)
	}
	e.prov = prov
	return prov, nil
}

// Registry returns the cell registry
func (e *env) Registry(ctx context.Context) (*registry.Registry, error) {
	st, err := e.Store(ctx)
	if err != nil {
		return nil, err
	}
	prov, err := e.Provisioner(ctx)
	if err != nil {
		return nil, err
	}
	return registry.New(st, prov, e.cfg.Provisioning.AddressOutput, e.logger), nil
}

// Orchestrator returns a lifecycle orchestrator whose batch jobs are
// recorded for the Pushgateway
func (e *env) Orchestrator(ctx context.Context) (*lifecycle.Orchestrator, error) {
	reg, err := e.Registry(ctx)
	if err != nil {
		return nil, err
	}

	e.promReg = prometheus.NewRegistry()
	e.recorder = metrics.NewCollector(e.promReg, "cellctl")

	cfg := e.cfg.Orchestrator
	runner := batch.NewRunner(batch.Options{
		Concurrency: cfg.Concurrency,
		JobTimeout:  cfg.JobTimeout,
		HistoryTTL:  cfg.DedupeTTL,
		MaxHistory:  cfg.MaxBatches,
		Classify:    lifecycle.Kind,
		OnJobDone: func(name string, res batch.JobResult) {
			kind := ""
			if res.Failure != nil {
				kind = res.Failure.Kind
			}
			e.recorder.RecordBatchJob(name, string(res.Status), kind, res.Duration)
		},
		Logger: e.logger,
	})

	return lifecycle.New(e.st, reg, e.prov, runner, lifecycle.Options{
		DefaultImage: cfg.DefaultImage,
		Logger:       e.logger,
	}), nil
}

// PushMetrics sends batch metrics to the configured Pushgateway, if any
func (e *env) PushMetrics(ctx context.Context) {
	if e.promReg == nil || e.cfg == nil || e.cfg.Metrics.PushURL == "" {
		return
	}
	err := push.New(e.cfg.Metrics.PushURL, "cellctl").Gatherer(e.promReg).PushContext(ctx)
	if err != nil {
		e.logger.Warn("failed to push batch metrics", "url", e.cfg.Metrics.PushURL, "error", err)
	}
}

// Close releases the store
func (e *env) Close() error {
	if e.st == nil {
		return nil
	}
	err := e.st.Close()
	e.st = nil
	return err
}

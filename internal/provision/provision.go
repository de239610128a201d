// ABOUTME: Provisioner abstraction over the infrastructure stack backing one cell
// ABOUTME: Creates, updates and deletes stacks and reads their outputs

package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/cellular/internal/config"
	"github.com/2389/cellular/internal/store"
)

// Provisioner errors
var (
	ErrStackNotFound  = errors.New("stack not found")
	ErrOutputNotFound = errors.New("stack output not found")
)

// StackSpec describes the stack for one cell
type StackSpec struct {
	CellID   string
	Stage    store.Stage
	ImageRef string
}

// Provisioner manages cell stacks.
//
// CreateStack and UpdateStack block until the stack settles. When CreateStack
// fails after the stack was started it still returns the stack ref so the
// caller can tear the partial stack down. UpdateStack treats "nothing to
// change" as success. DeleteStack only requests teardown.
type Provisioner interface {
	CreateStack(ctx context.Context, spec StackSpec) (string, error)
	UpdateStack(ctx context.Context, stackRef string, spec StackSpec) error
	DeleteStack(ctx context.Context, stackRef string) error
	Output(ctx context.Context, stackRef, key string) (string, error)
}

// StackName returns the stack name for a cell
func StackName(prefix, cellID string) string {
	return prefix + cellID
}

// FromConfig builds the configured provisioner. newAPI is only called for
// the cloudformation backend.
func FromConfig(ctx context.Context, cfg config.ProvisioningConfig, newAPI func(context.Context) (CloudFormationAPI, error)) (Provisioner, error) {
	switch cfg.Backend {
	case config.BackendStatic:
		// Every configured cell already exists; its stack is implied
		m := NewMemory(cfg.StackPrefix, cfg.AddressOutput, cfg.Addresses)
		for id := range cfg.Addresses {
			m.Register(id, "")
		}
		return m, nil
	case config.BackendCloudFormation:
		if newAPI == nil {
			return nil, fmt.Errorf("cloudformation backend requires an AWS client")
		}
		api, err := newAPI(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating cloudformation client: %w", err)
		}
		return NewCloudFormation(api, CloudFormationOptions{
			TemplateURL:  cfg.TemplateURL,
			StackPrefix:  cfg.StackPrefix,
			PollInterval: cfg.PollInterval,
			Timeout:      cfg.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported provisioning backend %q", cfg.Backend)
	}
}

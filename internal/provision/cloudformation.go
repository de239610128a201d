// ABOUTME: CloudFormation provisioner: one stack per cell, created from a shared template
// ABOUTME: Waits on the SDK stack waiters and treats "no updates" as a successful update

package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"
)

// CloudFormationAPI is the subset of the CloudFormation client used here
type CloudFormationAPI interface {
	CreateStack(ctx context.Context, params *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error)
	UpdateStack(ctx context.Context, params *cloudformation.UpdateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error)
	DeleteStack(ctx context.Context, params *cloudformation.DeleteStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error)
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
}

// Stack parameter names the cell template declares
const (
	ParamCellID   = "CellId"
	ParamStage    = "Stage"
	ParamImageRef = "ImageRef"

	tagCellID = "cellular:cell-id"
)

// CloudFormationOptions configures a CloudFormation provisioner
type CloudFormationOptions struct {
	TemplateURL  string
	StackPrefix  string
	PollInterval time.Duration
	Timeout      time.Duration
}

// CloudFormation provisions cell stacks with AWS CloudFormation
type CloudFormation struct {
	api  CloudFormationAPI
	opts CloudFormationOptions
}

// NewCloudFormation creates a CloudFormation provisioner
func NewCloudFormation(api CloudFormationAPI, opts CloudFormationOptions) *CloudFormation {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 15 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Minute
	}
	return &CloudFormation{api: api, opts: opts}
}

func (c *CloudFormation) parameters(spec StackSpec) []types.Parameter {
	return []types.Parameter{
		{ParameterKey: aws.String(ParamCellID), ParameterValue: aws.String(spec.CellID)},
		{ParameterKey: aws.String(ParamStage), ParameterValue: aws.String(string(spec.Stage))},
		{ParameterKey: aws.String(ParamImageRef), ParameterValue: aws.String(spec.ImageRef)},
	}
}

// waitDelays keeps MinDelay <= MaxDelay as the SDK waiters require
func (c *CloudFormation) waitDelays() (time.Duration, time.Duration) {
	maxDelay := 2 * time.Minute
	if c.opts.PollInterval > maxDelay {
		maxDelay = c.opts.PollInterval
	}
	return c.opts.PollInterval, maxDelay
}

// CreateStack creates the cell's stack and waits for CREATE_COMPLETE
func (c *CloudFormation) CreateStack(ctx context.Context, spec StackSpec) (string, error) {
	name := StackName(c.opts.StackPrefix, spec.CellID)

	out, err := c.api.CreateStack(ctx, &cloudformation.CreateStackInput{
		StackName:    aws.String(name),
		TemplateURL:  aws.String(c.opts.TemplateURL),
		Parameters:   c.parameters(spec),
		Capabilities: []types.Capability{types.CapabilityCapabilityIam, types.CapabilityCapabilityNamedIam},
		Tags:         []types.Tag{{Key: aws.String(tagCellID), Value: aws.String(spec.CellID)}},
	})
	if err != nil {
		return "", fmt.Errorf("creating stack %s: %w", name, err)
	}

	ref := aws.ToString(out.StackId)
	if ref == "" {
		ref = name
	}

	minDelay, maxDelay := c.waitDelays()
	waiter := cloudformation.NewStackCreateCompleteWaiter(c.api, func(o *cloudformation.StackCreateCompleteWaiterOptions) {
		o.MinDelay = minDelay
		o.MaxDelay = maxDelay
	})
	if err := waiter.Wait(ctx, &cloudformation.DescribeStacksInput{StackName: aws.String(ref)}, c.opts.Timeout); err != nil {
		return ref, fmt.Errorf("waiting for stack %s: %w", name, err)
	}
	return ref, nil
}

// UpdateStack updates the stack in place with the same template
func (c *CloudFormation) UpdateStack(ctx context.Context, stackRef string, spec StackSpec) error {
	_, err := c.api.UpdateStack(ctx, &cloudformation.UpdateStackInput{
		StackName:    aws.String(stackRef),
		TemplateURL:  aws.String(c.opts.TemplateURL),
		Parameters:   c.parameters(spec),
		Capabilities: []types.Capability{types.CapabilityCapabilityIam, types.CapabilityCapabilityNamedIam},
	})
	if err != nil {
		if isNoUpdates(err) {
			return nil
		}
		if isStackMissing(err) {
			return fmt.Errorf("updating %s: %w", stackRef, ErrStackNotFound)
		}
		return fmt.Errorf("updating stack %s: %w", stackRef, err)
	}

	minDelay, maxDelay := c.waitDelays()
	waiter := cloudformation.NewStackUpdateCompleteWaiter(c.api, func(o *cloudformation.StackUpdateCompleteWaiterOptions) {
		o.MinDelay = minDelay
		o.MaxDelay = maxDelay
	})
	if err := waiter.Wait(ctx, &cloudformation.DescribeStacksInput{StackName: aws.String(stackRef)}, c.opts.Timeout); err != nil {
		return fmt.Errorf("waiting for stack %s: %w", stackRef, err)
	}
	return nil
}

// DeleteStack requests deletion without waiting for it to finish
func (c *CloudFormation) DeleteStack(ctx context.Context, stackRef string) error {
	if _, err := c.api.DeleteStack(ctx, &cloudformation.DeleteStackInput{StackName: aws.String(stackRef)}); err != nil {
		return fmt.Errorf("deleting stack %s: %w", stackRef, err)
	}
	return nil
}

// Output returns the named stack output
func (c *CloudFormation) Output(ctx context.Context, stackRef, key string) (string, error) {
	out, err := c.api.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{StackName: aws.String(stackRef)})
	if err != nil {
		if isStackMissing(err) {
			return "", fmt.Errorf("reading %s: %w", stackRef, ErrStackNotFound)
		}
		return "", fmt.Errorf("describing stack %s: %w", stackRef, err)
	}
	if len(out.Stacks) == 0 {
		return "", fmt.Errorf("reading %s: %w", stackRef, ErrStackNotFound)
	}

	for _, o := range out.Stacks[0].Outputs {
		if aws.ToString(o.OutputKey) == key && aws.ToString(o.OutputValue) != "" {
			return aws.ToString(o.OutputValue), nil
		}
	}
	return "", fmt.Errorf("%s on %s: %w", key, stackRef, ErrOutputNotFound)
}

func isNoUpdates(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && strings.Contains(apiErr.ErrorMessage(), "No updates are to be performed")
}

func isStackMissing(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) &&
		apiErr.ErrorCode() == "ValidationError" &&
		strings.Contains(apiErr.ErrorMessage(), "does not exist")
}

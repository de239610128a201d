// ABOUTME: Tests for the CloudFormation provisioner against a fake API
// ABOUTME: Stack statuses are terminal on the first describe so waiters never sleep

package provision

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/cellular/internal/config"
	"github.com/2389/cellular/internal/store"
)

type fakeCloudFormation struct {
	mu          sync.Mutex
	status      types.StackStatus
	outputs     []types.Output
	updateErr   error
	describeErr error

	created []*cloudformation.CreateStackInput
	updated []*cloudformation.UpdateStackInput
	deleted []string
}

func (f *fakeCloudFormation) CreateStack(_ context.Context, in *cloudformation.CreateStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, in)
	return &cloudformation.CreateStackOutput{StackId: aws.String("arn:stack/" + aws.ToString(in.StackName))}, nil
}

func (f *fakeCloudFormation) UpdateStack(_ context.Context, in *cloudformation.UpdateStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, in)
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return &cloudformation.UpdateStackOutput{StackId: in.StackName}, nil
}

func (f *fakeCloudFormation) DeleteStack(_ context.Context, in *cloudformation.DeleteStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.StackName))
	return &cloudformation.DeleteStackOutput{}, nil
}

func (f *fakeCloudFormation) DescribeStacks(_ context.Context, in *cloudformation.DescribeStacksInput, _ ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	return &cloudformation.DescribeStacksOutput{Stacks: []types.Stack{{
		StackName:   in.StackName,
		StackStatus: f.status,
		Outputs:     f.outputs,
	}}}, nil
}

func newTestCloudFormation(api CloudFormationAPI) *CloudFormation {
	return NewCloudFormation(api, CloudFormationOptions{
		TemplateURL:  "https://bucket.s3.amazonaws.com/cell.yaml",
		StackPrefix:  "Cellular-Cell-",
		PollInterval: time.Second,
		Timeout:      time.Minute,
	})
}

func TestCloudFormation_CreateStack(t *testing.T) {
	fake := &fakeCloudFormation{status: types.StackStatusCreateComplete}
	cf := newTestCloudFormation(fake)

	ref, err := cf.CreateStack(context.Background(), StackSpec{CellID: "a", Stage: store.StageProd, ImageRef: "img:1"})
	require.NoError(t, err)
	assert.Equal(t, "arn:stack/Cellular-Cell-a", ref)

	require.Len(t, fake.created, 1)
	in := fake.created[0]
	assert.Equal(t, "Cellular-Cell-a", aws.ToString(in.StackName))
	assert.Equal(t, "https://bucket.s3.amazonaws.com/cell.yaml", aws.ToString(in.TemplateURL))

	params := map[string]string{}
	for _, p := range in.Parameters {
		params[aws.ToString(p.ParameterKey)] = aws.ToString(p.ParameterValue)
	}
	assert.Equal(t, map[string]string{ParamCellID: "a", ParamStage: "prod", ParamImageRef: "img:1"}, params)
}

func TestCloudFormation_CreateStackFailedReturnsRef(t *testing.T) {
	fake := &fakeCloudFormation{status: types.StackStatusRollbackComplete}
	cf := newTestCloudFormation(fake)

	ref, err := cf.CreateStack(context.Background(), StackSpec{CellID: "a"})
	require.Error(t, err)
	assert.Equal(t, "arn:stack/Cellular-Cell-a", ref)
	assert.Contains(t, err.Error(), "waiting for stack")
}

func TestCloudFormation_UpdateStack(t *testing.T) {
	fake := &fakeCloudFormation{status: types.StackStatusUpdateComplete}
	cf := newTestCloudFormation(fake)

	require.NoError(t, cf.UpdateStack(context.Background(), "arn:stack/x", StackSpec{CellID: "x", ImageRef: "img:2"}))
	require.Len(t, fake.updated, 1)
	assert.Equal(t, "arn:stack/x", aws.ToString(fake.updated[0].StackName))
}

func TestCloudFormation_UpdateNoChangesSucceeds(t *testing.T) {
	fake := &fakeCloudFormation{
		updateErr: &smithy.GenericAPIError{Code: "ValidationError", Message: "No updates are to be performed."},
	}
	cf := newTestCloudFormation(fake)

	assert.NoError(t, cf.UpdateStack(context.Background(), "arn:stack/x", StackSpec{CellID: "x"}))
}

func TestCloudFormation_UpdateMissingStack(t *testing.T) {
	fake := &fakeCloudFormation{
		updateErr: &smithy.GenericAPIError{Code: "ValidationError", Message: "Stack [x] does not exist"},
	}
	cf := newTestCloudFormation(fake)

	assert.ErrorIs(t, cf.UpdateStack(context.Background(), "x", StackSpec{CellID: "x"}), ErrStackNotFound)
}

func TestCloudFormation_UpdateFailedRollback(t *testing.T) {
	fake := &fakeCloudFormation{status: types.StackStatusUpdateRollbackComplete}
	cf := newTestCloudFormation(fake)

	err := cf.UpdateStack(context.Background(), "x", StackSpec{CellID: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "waiting for stack x")
}

func TestCloudFormation_Output(t *testing.T) {
	fake := &fakeCloudFormation{
		status: types.StackStatusCreateComplete,
		outputs: []types.Output{
			{OutputKey: aws.String("dnsName"), OutputValue: aws.String("cell-a.example.com")},
		},
	}
	cf := newTestCloudFormation(fake)
	ctx := context.Background()

	v, err := cf.Output(ctx, "x", "dnsName")
	require.NoError(t, err)
	assert.Equal(t, "cell-a.example.com", v)

	_, err = cf.Output(ctx, "x", "missing")
	assert.ErrorIs(t, err, ErrOutputNotFound)

	fake.describeErr = &smithy.GenericAPIError{Code: "ValidationError", Message: "Stack with id x does not exist"}
	_, err = cf.Output(ctx, "x", "dnsName")
	assert.ErrorIs(t, err, ErrStackNotFound)
}

func TestCloudFormation_DeleteStack(t *testing.T) {
	fake := &fakeCloudFormation{}
	cf := newTestCloudFormation(fake)

	require.NoError(t, cf.DeleteStack(context.Background(), "arn:stack/x"))
	assert.Equal(t, []string{"arn:stack/x"}, fake.deleted)
}

func TestFromConfig(t *testing.T) {
	ctx := context.Background()

	p, err := FromConfig(ctx, config.ProvisioningConfig{
		Backend:       config.BackendStatic,
		StackPrefix:   "C-",
		AddressOutput: "dnsName",
		Addresses:     map[string]string{"a": "a.example.com"},
	}, nil)
	require.NoError(t, err)
	require.IsType(t, &Memory{}, p)
	assert.Equal(t, []string{"C-a"}, p.(*Memory).Stacks())
	addr, err := p.Output(ctx, "C-a", "dnsName")
	require.NoError(t, err)
	assert.Equal(t, "a.example.com", addr)

	_, err = FromConfig(ctx, config.ProvisioningConfig{Backend: config.BackendCloudFormation}, nil)
	assert.Error(t, err)

	p, err = FromConfig(ctx, config.ProvisioningConfig{Backend: config.BackendCloudFormation}, func(context.Context) (CloudFormationAPI, error) {
		return &fakeCloudFormation{}, nil
	})
	require.NoError(t, err)
	assert.IsType(t, &CloudFormation{}, p)

	_, err = FromConfig(ctx, config.ProvisioningConfig{Backend: "terraform"}, nil)
	assert.Error(t, err)
}

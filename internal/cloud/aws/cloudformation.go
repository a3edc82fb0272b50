package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"

	"github.com/dandantas/kestrel/internal/provision"
)

// CloudFormationBackend implements provision.InfraBackend on top of
// CloudFormation stacks. One model maps to one stack; the stack id is the
// infrastructure handle.
type CloudFormationBackend struct {
	client      *cloudformation.Client
	templateURL string
}

// NewCloudFormationBackend creates a new CloudFormation backend
func NewCloudFormationBackend(cfg aws.Config, templateURL string) *CloudFormationBackend {
	return &CloudFormationBackend{
		client:      cloudformation.NewFromConfig(cfg),
		templateURL: templateURL,
	}
}

// Submit creates the stack when the request carries no handle, otherwise
// updates the existing one in place. An update with nothing to change is
// success.
func (b *CloudFormationBackend) Submit(ctx context.Context, req provision.StackRequest) (string, error) {
	params := make([]types.Parameter, 0, len(req.Parameters))
	for key, value := range req.Parameters {
		params = append(params, types.Parameter{
			ParameterKey:   aws.String(key),
			ParameterValue: aws.String(value),
		})
	}

	if req.Handle == "" {
		out, err := b.client.CreateStack(ctx, &cloudformation.CreateStackInput{
			StackName:    aws.String(stackName(req.ModelID)),
			TemplateURL:  aws.String(b.templateURL),
			Parameters:   params,
			Capabilities: []types.Capability{types.CapabilityCapabilityNamedIam},
		})
		if err != nil {
			return "", fmt.Errorf("failed to create stack for model %s: %w", req.ModelID, err)
		}
		return aws.ToString(out.StackId), nil
	}

	out, err := b.client.UpdateStack(ctx, &cloudformation.UpdateStackInput{
		StackName:           aws.String(req.Handle),
		UsePreviousTemplate: aws.Bool(true),
		Parameters:          params,
		Capabilities:        []types.Capability{types.CapabilityCapabilityNamedIam},
	})
	if err != nil {
		// A redelivered update for a config the stack already has
		if strings.Contains(err.Error(), "No updates are to be performed") {
			return req.Handle, nil
		}
		return "", fmt.Errorf("failed to update stack for model %s: %w", req.ModelID, err)
	}
	return aws.ToString(out.StackId), nil
}

// Describe reports the stack's classified status and its outputs as a JSON
// document keyed by output name
func (b *CloudFormationBackend) Describe(ctx context.Context, handle string) (*provision.StackDescription, error) {
	out, err := b.client.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(handle),
	})
	if err != nil {
		if stackMissing(err) {
			return &provision.StackDescription{Status: provision.StackGone}, nil
		}
		return nil, fmt.Errorf("failed to describe stack %s: %w", handle, err)
	}
	if len(out.Stacks) == 0 {
		return &provision.StackDescription{Status: provision.StackGone}, nil
	}

	stack := out.Stacks[0]
	rawState := string(stack.StackStatus)

	outputs := make(map[string]string, len(stack.Outputs))
	for _, o := range stack.Outputs {
		outputs[aws.ToString(o.OutputKey)] = aws.ToString(o.OutputValue)
	}
	doc, err := json.Marshal(outputs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode stack outputs: %w", err)
	}

	return &provision.StackDescription{
		Status:   classifyStackStatus(stack.StackStatus),
		RawState: rawState,
		Outputs:  doc,
	}, nil
}

// Teardown deletes the stack. Deleting a stack that is already gone is a
// no-op on the CloudFormation side.
func (b *CloudFormationBackend) Teardown(ctx context.Context, handle string) error {
	_, err := b.client.DeleteStack(ctx, &cloudformation.DeleteStackInput{
		StackName: aws.String(handle),
	})
	if err != nil {
		return fmt.Errorf("failed to delete stack %s: %w", handle, err)
	}
	return nil
}

func stackName(modelID string) string {
	return "model-" + modelID
}

// stackMissing reports whether a DescribeStacks error means the stack no
// longer exists. Deleted stacks stop being addressable by name and
// CloudFormation answers with a validation error.
func stackMissing(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ValidationError" &&
			strings.Contains(apiErr.ErrorMessage(), "does not exist")
	}
	return false
}

func classifyStackStatus(status types.StackStatus) provision.StackStatus {
	switch status {
	case types.StackStatusCreateComplete, types.StackStatusUpdateComplete:
		return provision.StackComplete
	case types.StackStatusDeleteComplete:
		return provision.StackGone
	}
	if strings.HasSuffix(string(status), "_IN_PROGRESS") {
		return provision.StackInProgress
	}
	return provision.StackFailed
}

package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/dandantas/kestrel/internal/model"
	"github.com/oliveagle/jsonpath"
)

// Default JSONPath expressions into the backend's stack outputs document
const (
	DefaultEndpointPath      = "$.Endpoint"
	DefaultResourceGroupPath = "$.AutoScalingGroupName"
)

// InfraProvisioner submits stack create/update/delete requests to the
// infrastructure backend and polls them to a terminal state
type InfraProvisioner struct {
	backend           InfraBackend
	pollBudget        int
	endpointPath      string
	resourceGroupPath string
}

// NewInfraProvisioner creates a new infrastructure provisioner. Empty output
// paths fall back to the defaults.
func NewInfraProvisioner(backend InfraBackend, pollBudget int, endpointPath, resourceGroupPath string) *InfraProvisioner {
	if endpointPath == "" {
		endpointPath = DefaultEndpointPath
	}
	if resourceGroupPath == "" {
		resourceGroupPath = DefaultResourceGroupPath
	}
	return &InfraProvisioner{
		backend:           backend,
		pollBudget:        pollBudget,
		endpointPath:      endpointPath,
		resourceGroupPath: resourceGroupPath,
	}
}

// PollBudget returns the configured poll budget for stack operations
func (p *InfraProvisioner) PollBudget() int {
	return p.pollBudget
}

// PollResult is the outcome of a single stack poll
type PollResult struct {
	Done           bool
	PollsRemaining int
	Endpoint       string
	ResourceGroup  string
}

// StackParameters normalizes the deployment configuration into the
// backend's PascalCase parameter convention
func StackParameters(modelID, imageRef string, cfg *model.DeploymentConfig) map[string]string {
	params := map[string]string{
		"ModelId":      modelID,
		"ImageUri":     imageRef,
		"InstanceType": cfg.InstanceType,
	}
	if cfg.Capacity != nil {
		params["MinCapacity"] = strconv.Itoa(cfg.Capacity.Min)
		params["MaxCapacity"] = strconv.Itoa(cfg.Capacity.Max)
		params["DesiredCapacity"] = strconv.Itoa(cfg.Capacity.Desired)
	}
	params["HealthCheckPath"] = cfg.HealthCheck.Path
	params["HealthCheckInterval"] = strconv.Itoa(cfg.HealthCheck.IntervalSeconds)
	params["HealthCheckTimeout"] = strconv.Itoa(cfg.HealthCheck.TimeoutSeconds)
	params["HealthyThreshold"] = strconv.Itoa(cfg.HealthCheck.HealthyThreshold)
	params["UnhealthyThreshold"] = strconv.Itoa(cfg.HealthCheck.UnhealthyThreshold)
	return params
}

// Submit sends a stack create or update request. When the record already
// carries a handle the existing stack is updated instead of re-created, so
// step redelivery never double-provisions. A submission accepted without a
// handle is fatal.
func (p *InfraProvisioner) Submit(ctx context.Context, modelID, existingHandle, imageRef string, cfg *model.DeploymentConfig) (string, error) {
	handle, err := p.backend.Submit(ctx, StackRequest{
		ModelID:    modelID,
		Handle:     existingHandle,
		Parameters: StackParameters(modelID, imageRef, cfg),
	})
	if err != nil {
		return "", fmt.Errorf("model %s: stack submission failed: %w", modelID, err)
	}
	if handle == "" {
		return "", &model.StackFailedToCreateError{ModelID: modelID}
	}

	slog.Info("Submitted stack request",
		"model_id", modelID,
		"stack_handle", handle,
		"update", existingHandle != "",
	)

	return handle, nil
}

// Teardown requests deletion of the model's stack
func (p *InfraProvisioner) Teardown(ctx context.Context, modelID, handle string) error {
	if err := p.backend.Teardown(ctx, handle); err != nil {
		return fmt.Errorf("model %s: stack teardown failed: %w", modelID, err)
	}
	slog.Info("Submitted stack teardown", "model_id", modelID, "stack_handle", handle)
	return nil
}

// Poll checks a provisioning stack once. Completion yields the deployment's
// endpoint and resource-group reference extracted from the stack outputs;
// any unexpected terminal state is fatal.
func (p *InfraProvisioner) Poll(ctx context.Context, modelID, handle string, pollsRemaining int) (*PollResult, error) {
	desc, err := p.backend.Describe(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("model %s: stack describe failed: %w", modelID, err)
	}

	switch desc.Status {
	case StackInProgress:
		return p.continueOrExhaust(modelID, handle, pollsRemaining)
	case StackComplete:
		endpoint, group, err := p.extractOutputs(desc.Outputs)
		if err != nil {
			return nil, fmt.Errorf("model %s: stack %s outputs: %w", modelID, handle, err)
		}
		return &PollResult{Done: true, Endpoint: endpoint, ResourceGroup: group}, nil
	default:
		return nil, &model.UnexpectedStackStateError{
			ModelID: modelID,
			Handle:  handle,
			State:   desc.RawState,
		}
	}
}

// PollDeletion checks a deleting stack once. The stack disappearing from the
// backend counts as completion.
func (p *InfraProvisioner) PollDeletion(ctx context.Context, modelID, handle string, pollsRemaining int) (*PollResult, error) {
	desc, err := p.backend.Describe(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("model %s: stack describe failed: %w", modelID, err)
	}

	switch desc.Status {
	case StackGone:
		return &PollResult{Done: true}, nil
	case StackInProgress:
		return p.continueOrExhaust(modelID, handle, pollsRemaining)
	default:
		return nil, &model.UnexpectedStackStateError{
			ModelID: modelID,
			Handle:  handle,
			State:   desc.RawState,
		}
	}
}

func (p *InfraProvisioner) continueOrExhaust(modelID, handle string, pollsRemaining int) (*PollResult, error) {
	remaining := pollsRemaining - 1
	if remaining <= 0 {
		return nil, &model.MaxPollsExceededError{ModelID: modelID, Resource: "stack " + handle}
	}
	slog.Info("Stack still in progress",
		"model_id", modelID,
		"stack_handle", handle,
		"polls_remaining", remaining,
	)
	return &PollResult{PollsRemaining: remaining}, nil
}

// extractOutputs pulls the endpoint and resource-group reference out of the
// backend's raw outputs document using the configured JSONPath expressions
func (p *InfraProvisioner) extractOutputs(outputs []byte) (string, string, error) {
	if len(outputs) == 0 {
		return "", "", fmt.Errorf("stack completed without outputs")
	}

	var doc interface{}
	if err := json.Unmarshal(outputs, &doc); err != nil {
		return "", "", fmt.Errorf("failed to decode outputs: %w", err)
	}

	endpoint, err := lookupString(doc, p.endpointPath)
	if err != nil {
		return "", "", err
	}
	group, err := lookupString(doc, p.resourceGroupPath)
	if err != nil {
		return "", "", err
	}

	return endpoint, group, nil
}

func lookupString(doc interface{}, path string) (string, error) {
	value, err := jsonpath.JsonPathLookup(doc, path)
	if err != nil {
		return "", fmt.Errorf("output %s not found: %w", path, err)
	}
	str, ok := value.(string)
	if !ok || str == "" {
		return "", fmt.Errorf("output %s is not a non-empty string", path)
	}
	return str, nil
}

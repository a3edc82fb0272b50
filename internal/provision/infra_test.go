package provision

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dandantas/kestrel/internal/model"
)

type fakeBackend struct {
	submitHandle string
	submitErr    error
	lastRequest  StackRequest
	description  *StackDescription
	describeErr  error
	tornDown     []string
}

func (f *fakeBackend) Submit(_ context.Context, req StackRequest) (string, error) {
	f.lastRequest = req
	return f.submitHandle, f.submitErr
}

func (f *fakeBackend) Describe(_ context.Context, _ string) (*StackDescription, error) {
	return f.description, f.describeErr
}

func (f *fakeBackend) Teardown(_ context.Context, handle string) error {
	f.tornDown = append(f.tornDown, handle)
	return nil
}

func infraConfig() *model.DeploymentConfig {
	return &model.DeploymentConfig{
		BaseImage:       "registry.internal/serving/vllm",
		ImageTag:        "llama-7b",
		InstanceType:    "g5.xlarge",
		InferenceEngine: "vllm",
		Capacity:        &model.Capacity{Min: 1, Max: 4, Desired: 2},
		HealthCheck:     model.HealthCheckConfig{Path: "/health"},
	}
}

func newTestProvisioner(backend InfraBackend) *InfraProvisioner {
	return NewInfraProvisioner(backend, 10, "", "")
}

func TestStackParametersNormalization(t *testing.T) {
	params := StackParameters("llama-7b", "registry.internal/serving/vllm:llama-7b", infraConfig())

	assert.Equal(t, "llama-7b", params["ModelId"])
	assert.Equal(t, "registry.internal/serving/vllm:llama-7b", params["ImageUri"])
	assert.Equal(t, "g5.xlarge", params["InstanceType"])
	assert.Equal(t, "1", params["MinCapacity"])
	assert.Equal(t, "4", params["MaxCapacity"])
	assert.Equal(t, "2", params["DesiredCapacity"])
}

func TestSubmitReturnsHandle(t *testing.T) {
	backend := &fakeBackend{submitHandle: "arn:stack/llama-7b"}
	provisioner := newTestProvisioner(backend)

	handle, err := provisioner.Submit(context.Background(), "llama-7b", "", "ref", infraConfig())
	require.NoError(t, err)

	assert.Equal(t, "arn:stack/llama-7b", handle)
	assert.Empty(t, backend.lastRequest.Handle)
}

func TestSubmitMissingHandleIsFatal(t *testing.T) {
	backend := &fakeBackend{submitHandle: ""}
	provisioner := newTestProvisioner(backend)

	_, err := provisioner.Submit(context.Background(), "llama-7b", "", "ref", infraConfig())
	require.Error(t, err)

	var failed *model.StackFailedToCreateError
	assert.ErrorAs(t, err, &failed)
}

func TestPollInProgressDecrementsBudget(t *testing.T) {
	backend := &fakeBackend{description: &StackDescription{Status: StackInProgress}}
	provisioner := newTestProvisioner(backend)

	res, err := provisioner.Poll(context.Background(), "llama-7b", "h", 5)
	require.NoError(t, err)

	assert.False(t, res.Done)
	assert.Equal(t, 4, res.PollsRemaining)
}

func TestPollBudgetExhausted(t *testing.T) {
	backend := &fakeBackend{description: &StackDescription{Status: StackInProgress}}
	provisioner := newTestProvisioner(backend)

	_, err := provisioner.Poll(context.Background(), "llama-7b", "h", 1)
	require.Error(t, err)

	var exceeded *model.MaxPollsExceededError
	assert.ErrorAs(t, err, &exceeded)
}

func TestPollCompleteExtractsOutputs(t *testing.T) {
	backend := &fakeBackend{description: &StackDescription{
		Status:  StackComplete,
		Outputs: []byte(`{"Endpoint": "https://llama-7b.internal", "AutoScalingGroupName": "asg-llama-7b"}`),
	}}
	provisioner := newTestProvisioner(backend)

	res, err := provisioner.Poll(context.Background(), "llama-7b", "h", 5)
	require.NoError(t, err)

	assert.True(t, res.Done)
	assert.Equal(t, "https://llama-7b.internal", res.Endpoint)
	assert.Equal(t, "asg-llama-7b", res.ResourceGroup)
}

func TestPollCompleteWithMissingOutputFails(t *testing.T) {
	backend := &fakeBackend{description: &StackDescription{
		Status:  StackComplete,
		Outputs: []byte(`{"Endpoint": "https://llama-7b.internal"}`),
	}}
	provisioner := newTestProvisioner(backend)

	_, err := provisioner.Poll(context.Background(), "llama-7b", "h", 5)
	assert.Error(t, err)
}

func TestPollUnexpectedStateIsFatal(t *testing.T) {
	backend := &fakeBackend{description: &StackDescription{
		Status:   StackFailed,
		RawState: "ROLLBACK_COMPLETE",
	}}
	provisioner := newTestProvisioner(backend)

	_, err := provisioner.Poll(context.Background(), "llama-7b", "h", 5)
	require.Error(t, err)

	var unexpected *model.UnexpectedStackStateError
	require.ErrorAs(t, err, &unexpected)
	assert.Equal(t, "ROLLBACK_COMPLETE", unexpected.State)
}

func TestPollDeletionGoneIsDone(t *testing.T) {
	backend := &fakeBackend{description: &StackDescription{Status: StackGone}}
	provisioner := newTestProvisioner(backend)

	res, err := provisioner.PollDeletion(context.Background(), "llama-7b", "h", 5)
	require.NoError(t, err)
	assert.True(t, res.Done)
}

func TestPollDeletionCompleteStateIsUnexpected(t *testing.T) {
	backend := &fakeBackend{description: &StackDescription{Status: StackComplete, RawState: "UPDATE_COMPLETE"}}
	provisioner := newTestProvisioner(backend)

	_, err := provisioner.PollDeletion(context.Background(), "llama-7b", "h", 5)
	assert.Error(t, err)
}

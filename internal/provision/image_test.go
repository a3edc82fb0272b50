package provision

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dandantas/kestrel/internal/model"
)

type fakeRegistry struct {
	exists     bool
	existsErr  error
	jobHandle  string
	buildErr   error
	builds     []BuildSpec
	terminated []string
}

func (f *fakeRegistry) ImageExists(_ context.Context, _ string) (bool, error) {
	return f.exists, f.existsErr
}

func (f *fakeRegistry) StartBuild(_ context.Context, spec BuildSpec) (string, error) {
	if f.buildErr != nil {
		return "", f.buildErr
	}
	f.builds = append(f.builds, spec)
	return f.jobHandle, nil
}

func (f *fakeRegistry) Terminate(_ context.Context, jobHandle string) error {
	f.terminated = append(f.terminated, jobHandle)
	return nil
}

func imageConfig() *model.DeploymentConfig {
	return &model.DeploymentConfig{
		BaseImage:       "registry.internal/serving/vllm",
		ImageTag:        "llama-7b",
		InstanceType:    "g5.xlarge",
		InferenceEngine: "vllm",
	}
}

func TestImageRef(t *testing.T) {
	assert.Equal(t, "registry.internal/serving/vllm:llama-7b", ImageRef(imageConfig()))

	cfg := imageConfig()
	cfg.ImageTag = ""
	assert.Equal(t, "registry.internal/serving/vllm", ImageRef(cfg))
}

func TestEnsurePrebuiltFastPath(t *testing.T) {
	registry := &fakeRegistry{exists: true}
	provisioner := NewImageProvisioner(registry, 10)

	res, err := provisioner.Ensure(context.Background(), "llama-7b", imageConfig())
	require.NoError(t, err)

	assert.True(t, res.Prebuilt)
	assert.Equal(t, "registry.internal/serving/vllm:llama-7b", res.ImageRef)
	assert.Empty(t, res.JobHandle)
	assert.Empty(t, registry.builds)
}

func TestEnsureStartsBuild(t *testing.T) {
	registry := &fakeRegistry{jobHandle: "build-42"}
	provisioner := NewImageProvisioner(registry, 10)

	res, err := provisioner.Ensure(context.Background(), "llama-7b", imageConfig())
	require.NoError(t, err)

	assert.False(t, res.Prebuilt)
	assert.Equal(t, "build-42", res.JobHandle)
	assert.Equal(t, 10, res.PollBudget)
	require.Len(t, registry.builds, 1)
	assert.Equal(t, "llama-7b", registry.builds[0].ModelID)
	assert.Equal(t, "registry.internal/serving/vllm:llama-7b", registry.builds[0].TargetRef)
}

func TestCheckFoundTerminatesBuild(t *testing.T) {
	registry := &fakeRegistry{exists: true}
	provisioner := NewImageProvisioner(registry, 10)

	res, err := provisioner.Check(context.Background(), "llama-7b", "ref", "build-42", 5)
	require.NoError(t, err)

	assert.True(t, res.Found)
	assert.Equal(t, []string{"build-42"}, registry.terminated)
}

func TestCheckDecrementsBudget(t *testing.T) {
	registry := &fakeRegistry{}
	provisioner := NewImageProvisioner(registry, 10)

	res, err := provisioner.Check(context.Background(), "llama-7b", "ref", "build-42", 5)
	require.NoError(t, err)

	assert.False(t, res.Found)
	assert.Equal(t, 4, res.PollsRemaining)
	assert.Empty(t, registry.terminated)
}

func TestCheckBudgetExhaustedTerminatesAndFails(t *testing.T) {
	registry := &fakeRegistry{}
	provisioner := NewImageProvisioner(registry, 10)

	_, err := provisioner.Check(context.Background(), "llama-7b", "ref", "build-42", 1)
	require.Error(t, err)

	var exceeded *model.MaxPollsExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, "llama-7b", exceeded.ModelID)
	assert.Equal(t, []string{"build-42"}, registry.terminated)
}

func TestEnsurePropagatesLookupError(t *testing.T) {
	registry := &fakeRegistry{existsErr: errors.New("registry unreachable")}
	provisioner := NewImageProvisioner(registry, 10)

	_, err := provisioner.Ensure(context.Background(), "llama-7b", imageConfig())
	assert.Error(t, err)
}

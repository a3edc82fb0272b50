package provision

import "context"

// BuildSpec describes an asynchronous container image build request
type BuildSpec struct {
	ModelID   string
	BaseImage string
	TargetRef string
}

// ImageRegistry is the boundary to the container image registry and its
// build backend
type ImageRegistry interface {
	ImageExists(ctx context.Context, ref string) (bool, error)
	StartBuild(ctx context.Context, spec BuildSpec) (string, error)
	Terminate(ctx context.Context, jobHandle string) error
}

// StackStatus classifies the provisioning state of a compute stack
type StackStatus string

const (
	StackInProgress StackStatus = "IN_PROGRESS"
	StackComplete   StackStatus = "COMPLETE"
	StackGone       StackStatus = "GONE"
	StackFailed     StackStatus = "FAILED"
)

// StackDescription is the result of describing a stack: a classified status,
// the backend's raw state string, and the raw outputs document
type StackDescription struct {
	Status   StackStatus
	RawState string
	Outputs  []byte
}

// StackRequest carries a stack create or update submission. An empty Handle
// requests creation; a non-empty one requests an in-place update.
type StackRequest struct {
	ModelID    string
	Handle     string
	Parameters map[string]string
}

// InfraBackend is the boundary to the infrastructure deployment backend
type InfraBackend interface {
	Submit(ctx context.Context, req StackRequest) (string, error)
	Describe(ctx context.Context, handle string) (*StackDescription, error)
	Teardown(ctx context.Context, handle string) error
}

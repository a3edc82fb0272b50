package model

import (
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// WorkflowKind represents the deployment workflow being executed for a model
type WorkflowKind string

const (
	WorkflowCreate WorkflowKind = "create"
	WorkflowUpdate WorkflowKind = "update"
	WorkflowDelete WorkflowKind = "delete"
)

// ExecutionState represents the lifecycle state of a workflow execution
type ExecutionState string

const (
	ExecutionPending   ExecutionState = "pending"
	ExecutionRunning   ExecutionState = "running"
	ExecutionCompleted ExecutionState = "completed"
	ExecutionFailed    ExecutionState = "failed"
)

// WorkflowPayload is the event payload threaded through the workflow steps.
// Each step reads the fields it needs and returns an updated copy. Unknown
// keys received from older or newer producers are preserved in Extra and
// carried through every step untouched.
type WorkflowPayload struct {
	ModelID         string `json:"model_id" bson:"model_id"`
	CorrelationID   string `json:"correlation_id,omitempty" bson:"correlation_id,omitempty"`
	CreateInfra     bool   `json:"create_infra" bson:"create_infra"`
	ImageRef        string `json:"image_ref,omitempty" bson:"image_ref,omitempty"`
	ImagePrebuilt   bool   `json:"image_prebuilt,omitempty" bson:"image_prebuilt,omitempty"`
	BuildJobHandle  string `json:"build_job_handle,omitempty" bson:"build_job_handle,omitempty"`
	PollsRemaining  int    `json:"polls_remaining,omitempty" bson:"polls_remaining,omitempty"`
	ContinuePolling bool   `json:"continue_polling,omitempty" bson:"continue_polling,omitempty"`
	StackHandle     string `json:"stack_handle,omitempty" bson:"stack_handle,omitempty"`
	Endpoint        string `json:"endpoint,omitempty" bson:"endpoint,omitempty"`
	ResourceGroup   string `json:"resource_group,omitempty" bson:"resource_group,omitempty"`
	RouteID         string `json:"route_id,omitempty" bson:"route_id,omitempty"`
	PreviousStatus  Status `json:"previous_status,omitempty" bson:"previous_status,omitempty"`
	FailedStep      string `json:"failed_step,omitempty" bson:"failed_step,omitempty"`
	ErrorMessage    string `json:"error_message,omitempty" bson:"error_message,omitempty"`

	// Request fields carried into the entry steps
	DeploymentConfig *DeploymentConfig `json:"deployment_config,omitempty" bson:"deployment_config,omitempty"`
	AllowedGroups    []string          `json:"allowed_groups,omitempty" bson:"allowed_groups,omitempty"`
	Scheduling       *ScheduleConfig   `json:"scheduling,omitempty" bson:"scheduling,omitempty"`
	TargetEnabled    *bool             `json:"target_enabled,omitempty" bson:"target_enabled,omitempty"`

	// Extra holds keys this service does not own
	Extra map[string]interface{} `json:"-" bson:",inline"`
}

// payloadOwnedKeys are the JSON keys owned by the workflow payload itself.
// Anything else round-trips through Extra.
var payloadOwnedKeys = map[string]struct{}{
	"model_id":          {},
	"correlation_id":    {},
	"create_infra":      {},
	"image_ref":         {},
	"image_prebuilt":    {},
	"build_job_handle":  {},
	"polls_remaining":   {},
	"continue_polling":  {},
	"stack_handle":      {},
	"endpoint":          {},
	"resource_group":    {},
	"route_id":          {},
	"previous_status":   {},
	"failed_step":       {},
	"error_message":     {},
	"deployment_config": {},
	"allowed_groups":    {},
	"scheduling":        {},
	"target_enabled":    {},
}

// UnmarshalJSON decodes the payload, capturing unrecognized keys in Extra
func (p *WorkflowPayload) UnmarshalJSON(data []byte) error {
	type alias WorkflowPayload
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var extra map[string]interface{}
	for key, value := range raw {
		if _, owned := payloadOwnedKeys[key]; owned {
			continue
		}
		var decoded interface{}
		if err := json.Unmarshal(value, &decoded); err != nil {
			return err
		}
		if extra == nil {
			extra = make(map[string]interface{})
		}
		extra[key] = decoded
	}

	a.Extra = extra
	*p = WorkflowPayload(a)
	return nil
}

// MarshalJSON encodes the payload, merging Extra keys back into the
// top-level document
func (p WorkflowPayload) MarshalJSON() ([]byte, error) {
	type alias WorkflowPayload
	a := alias(p)
	a.Extra = nil

	data, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	if len(p.Extra) == 0 {
		return data, nil
	}

	var merged map[string]interface{}
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for key, value := range p.Extra {
		if _, owned := payloadOwnedKeys[key]; owned {
			continue
		}
		merged[key] = value
	}
	return json.Marshal(merged)
}

// Clone returns a copy of the payload with its own Extra map, so a step can
// mutate the copy without affecting the persisted original
func (p *WorkflowPayload) Clone() *WorkflowPayload {
	clone := *p
	if p.Extra != nil {
		clone.Extra = make(map[string]interface{}, len(p.Extra))
		for k, v := range p.Extra {
			clone.Extra[k] = v
		}
	}
	return &clone
}

// WorkflowExecution is the durable record of one in-flight workflow: the
// current step cursor plus the payload threaded between steps. The engine
// re-invokes the step named by the cursor until the execution terminates.
type WorkflowExecution struct {
	ID            primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	WorkflowID    string             `json:"workflow_id" bson:"workflow_id"`
	ModelID       string             `json:"model_id" bson:"model_id"`
	Kind          WorkflowKind       `json:"kind" bson:"kind"`
	StepIndex     int                `json:"step_index" bson:"step_index"`
	StepName      string             `json:"step_name" bson:"step_name"`
	Payload       WorkflowPayload    `json:"payload" bson:"payload"`
	State         ExecutionState     `json:"state" bson:"state"`
	NextRunAt     time.Time          `json:"next_run_at" bson:"next_run_at"`
	Attempts      int                `json:"attempts" bson:"attempts"`
	Error         string             `json:"error,omitempty" bson:"error,omitempty"`
	CreatedAt     time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at" bson:"updated_at"`
	CompletedAt   time.Time          `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	CorrelationID string             `json:"correlation_id" bson:"correlation_id"`
}

// ToSummary converts a workflow execution to a summary for list responses
func (e *WorkflowExecution) ToSummary() WorkflowSummary {
	return WorkflowSummary{
		WorkflowID:    e.WorkflowID,
		ModelID:       e.ModelID,
		Kind:          e.Kind,
		StepName:      e.StepName,
		State:         e.State,
		Attempts:      e.Attempts,
		Error:         e.Error,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
		CorrelationID: e.CorrelationID,
	}
}

// WorkflowSummary represents a workflow execution in list responses
type WorkflowSummary struct {
	WorkflowID    string         `json:"workflow_id"`
	ModelID       string         `json:"model_id"`
	Kind          WorkflowKind   `json:"kind"`
	StepName      string         `json:"step_name"`
	State         ExecutionState `json:"state"`
	Attempts      int            `json:"attempts"`
	Error         string         `json:"error,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	CorrelationID string         `json:"correlation_id"`
}

// WorkflowLock is the distributed lock guaranteeing at most one in-flight
// workflow per model
type WorkflowLock struct {
	ID        primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	ModelID   string             `json:"model_id" bson:"model_id"`
	LockedBy  string             `json:"locked_by" bson:"locked_by"`
	LockedAt  time.Time          `json:"locked_at" bson:"locked_at"`
	ExpiresAt time.Time          `json:"expires_at" bson:"expires_at"`
}

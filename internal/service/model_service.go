package service

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/dandantas/kestrel/internal/access"
	"github.com/dandantas/kestrel/internal/model"
)

// WorkflowEnqueuer starts deployment workflows
type WorkflowEnqueuer interface {
	Enqueue(ctx context.Context, kind model.WorkflowKind, payload *model.WorkflowPayload) (string, error)
}

// GroupInspector reads the live capacity configuration of a resource group
type GroupInspector interface {
	DescribeGroup(ctx context.Context, group string) (*model.Capacity, error)
}

// ModelStore is the slice of the model record repository the services read
type ModelStore interface {
	GetByID(ctx context.Context, modelID string) (*model.ModelRecord, error)
	List(ctx context.Context, filter bson.M, page, limit int) ([]model.ModelRecord, int64, error)
}

// WorkflowStore is the slice of the workflow repository the services read
type WorkflowStore interface {
	GetByWorkflowID(ctx context.Context, workflowID string) (*model.WorkflowExecution, error)
	HasActiveForModel(ctx context.Context, modelID string) (bool, error)
	ListByModel(ctx context.Context, modelID string, limit int) ([]model.WorkflowExecution, error)
}

// CreateModelRequest carries a model deployment request
type CreateModelRequest struct {
	ModelID          string                  `json:"model_id"`
	DeploymentConfig *model.DeploymentConfig `json:"deployment_config"`
	AllowedGroups    []string                `json:"allowed_groups,omitempty"`
	Scheduling       *model.ScheduleConfig   `json:"scheduling,omitempty"`
}

// UpdateModelRequest carries a model mutation: either a deployment config
// replacement, a capacity-bound change, or an enabled toggle. Toggles and
// capacity changes are mutually exclusive.
type UpdateModelRequest struct {
	DeploymentConfig *model.DeploymentConfig `json:"deployment_config,omitempty"`
	Capacity         *model.Capacity         `json:"capacity,omitempty"`
	Enabled          *bool                   `json:"enabled,omitempty"`
}

// ModelService orchestrates model lifecycle requests: it validates them
// against the record's state machine and the caller's group membership,
// then hands the mutation to the workflow engine. Reads never touch the
// engine.
type ModelService struct {
	models    ModelStore
	workflows WorkflowStore
	engine    WorkflowEnqueuer
	groups    GroupInspector
	gate      *access.Gate
}

// NewModelService creates a new model service
func NewModelService(
	models ModelStore,
	workflows WorkflowStore,
	engine WorkflowEnqueuer,
	groups GroupInspector,
	gate *access.Gate,
) *ModelService {
	return &ModelService{
		models:    models,
		workflows: workflows,
		engine:    engine,
		groups:    groups,
		gate:      gate,
	}
}

// CreateModel validates a deployment request and starts the create workflow
func (s *ModelService) CreateModel(ctx context.Context, req *CreateModelRequest, correlationID string) (string, error) {
	if req.ModelID == "" {
		return "", model.NewValidationError("model id is required")
	}
	if req.DeploymentConfig == nil {
		return "", model.NewValidationError("deployment config is required")
	}
	if err := req.DeploymentConfig.Validate(); err != nil {
		return "", model.NewValidationError("%s", err.Error())
	}
	if req.Scheduling != nil {
		if !req.DeploymentConfig.SelfHosted() {
			return "", model.NewValidationError("scheduling is not supported for externally hosted models")
		}
		if err := req.Scheduling.Validate(); err != nil {
			return "", model.NewValidationError("%s", err.Error())
		}
	}

	if _, err := s.models.GetByID(ctx, req.ModelID); err == nil {
		return "", model.NewValidationError("model %s already exists", req.ModelID)
	} else if err != model.ErrModelNotFound {
		return "", err
	}

	if err := s.ensureNoActiveWorkflow(ctx, req.ModelID); err != nil {
		return "", err
	}

	payload := &model.WorkflowPayload{
		ModelID:          req.ModelID,
		CorrelationID:    correlationID,
		DeploymentConfig: req.DeploymentConfig,
		AllowedGroups:    req.AllowedGroups,
		Scheduling:       req.Scheduling,
	}
	return s.engine.Enqueue(ctx, model.WorkflowCreate, payload)
}

// UpdateModel validates a mutation request against the record's current
// state and starts the update workflow. No infrastructure is touched until
// every validation gate has passed.
func (s *ModelService) UpdateModel(ctx context.Context, modelID string, req *UpdateModelRequest, userGroups []string, correlationID string) (string, error) {
	rec, err := s.getAccessible(ctx, modelID, userGroups)
	if err != nil {
		return "", err
	}

	if req.Enabled != nil && (req.Capacity != nil || req.DeploymentConfig != nil) {
		return "", model.NewValidationError("enabled toggle and configuration changes are mutually exclusive")
	}
	if req.Enabled == nil && req.Capacity == nil && req.DeploymentConfig == nil {
		return "", model.NewValidationError("update request carries no change")
	}

	if rec.Status != model.StatusInService && rec.Status != model.StatusStopped {
		return "", &model.InvalidStateTransitionError{
			ModelID: modelID,
			From:    rec.Status,
			To:      model.StatusUpdating,
			Reason:  "model must be IN_SERVICE or STOPPED to accept updates",
		}
	}

	payload := &model.WorkflowPayload{
		ModelID:       modelID,
		CorrelationID: correlationID,
	}

	if req.Enabled != nil {
		target := model.StatusStopping
		if *req.Enabled {
			target = model.StatusStarting
		}
		if err := rec.Status.CheckTransition(modelID, target); err != nil {
			return "", err
		}
		payload.TargetEnabled = req.Enabled
	} else {
		cfg, err := s.mergedConfig(ctx, rec, req)
		if err != nil {
			return "", err
		}
		payload.DeploymentConfig = cfg
	}

	if err := s.ensureNoActiveWorkflow(ctx, modelID); err != nil {
		return "", err
	}

	return s.engine.Enqueue(ctx, model.WorkflowUpdate, payload)
}

// DeleteModel validates the delete against the state machine and starts the
// delete workflow. Denied access reads as a missing model.
func (s *ModelService) DeleteModel(ctx context.Context, modelID string, userGroups []string, correlationID string) (string, error) {
	rec, err := s.getAccessible(ctx, modelID, userGroups)
	if err != nil {
		return "", err
	}

	if err := rec.Status.CheckTransition(modelID, model.StatusDeleting); err != nil {
		return "", err
	}

	if err := s.ensureNoActiveWorkflow(ctx, modelID); err != nil {
		return "", err
	}

	payload := &model.WorkflowPayload{
		ModelID:       modelID,
		CorrelationID: correlationID,
	}
	return s.engine.Enqueue(ctx, model.WorkflowDelete, payload)
}

// GetModel retrieves a model record the caller may see
func (s *ModelService) GetModel(ctx context.Context, modelID string, userGroups []string) (*model.ModelRecord, error) {
	return s.getAccessible(ctx, modelID, userGroups)
}

// ListModels lists the model records visible to the caller
func (s *ModelService) ListModels(ctx context.Context, status string, userGroups []string, page, limit int) ([]model.ModelListItem, int64, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}
	if !s.gate.IsAdmin(userGroups) && len(userGroups) > 0 {
		filter["$or"] = []bson.M{
			{"allowed_groups": bson.M{"$exists": false}},
			{"allowed_groups": bson.M{"$size": 0}},
			{"allowed_groups": bson.M{"$in": userGroups}},
		}
	}

	records, total, err := s.models.List(ctx, filter, page, limit)
	if err != nil {
		return nil, 0, err
	}

	items := make([]model.ModelListItem, len(records))
	for i, rec := range records {
		items[i] = rec.ToListItem()
	}
	return items, total, nil
}

// GetWorkflow retrieves one workflow execution
func (s *ModelService) GetWorkflow(ctx context.Context, workflowID string) (*model.WorkflowExecution, error) {
	return s.workflows.GetByWorkflowID(ctx, workflowID)
}

// ListModelWorkflows lists a model's recent workflow executions
func (s *ModelService) ListModelWorkflows(ctx context.Context, modelID string, userGroups []string, limit int) ([]model.WorkflowExecution, error) {
	if _, err := s.getAccessible(ctx, modelID, userGroups); err != nil {
		return nil, err
	}
	return s.workflows.ListByModel(ctx, modelID, limit)
}

// getAccessible fetches the record and applies the access gate; a denied
// check is indistinguishable from a missing record
func (s *ModelService) getAccessible(ctx context.Context, modelID string, userGroups []string) (*model.ModelRecord, error) {
	rec, err := s.models.GetByID(ctx, modelID)
	if err != nil {
		return nil, err
	}
	if !s.gate.HasAccess(userGroups, rec.AllowedGroups) {
		return nil, model.ErrModelNotFound
	}
	return rec, nil
}

// ensureNoActiveWorkflow rejects a mutation while another workflow is
// already driving the model
func (s *ModelService) ensureNoActiveWorkflow(ctx context.Context, modelID string) error {
	active, err := s.workflows.HasActiveForModel(ctx, modelID)
	if err != nil {
		return err
	}
	if active {
		return model.NewValidationError("model %s already has a workflow in progress", modelID)
	}
	return nil
}

// mergedConfig resolves the deployment configuration an update will apply:
// either the full replacement from the request or the existing config with
// the capacity bounds swapped. Desired capacity is checked against the
// resource group's configured maximum before anything runs.
func (s *ModelService) mergedConfig(ctx context.Context, rec *model.ModelRecord, req *UpdateModelRequest) (*model.DeploymentConfig, error) {
	cfg := req.DeploymentConfig
	if cfg == nil {
		merged := rec.DeploymentConfig
		merged.Capacity = req.Capacity
		cfg = &merged
	}

	if err := cfg.Validate(); err != nil {
		return nil, model.NewValidationError("%s", err.Error())
	}

	// A capacity-bound change rides on the group as it is configured today,
	// so its desired value is checked against the live maximum. A full
	// config replacement reshapes the group itself and carries its own
	// internally consistent bounds.
	if req.DeploymentConfig == nil && cfg.SelfHosted() && cfg.Capacity != nil && rec.ResourceGroup != "" {
		live, err := s.groups.DescribeGroup(ctx, rec.ResourceGroup)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect resource group %s: %w", rec.ResourceGroup, err)
		}
		if cfg.Capacity.Desired > live.Max {
			return nil, model.NewValidationError(
				"desired capacity %d exceeds resource group maximum %d",
				cfg.Capacity.Desired, live.Max,
			)
		}
	}

	return cfg, nil
}

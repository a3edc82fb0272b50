package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dandantas/kestrel/internal/model"
	"github.com/dandantas/kestrel/internal/provision"
	"github.com/dandantas/kestrel/internal/routing"
)

// ModelStore is the slice of the model record repository the step handlers
// mutate. Every write goes through here; steps never hold record state
// between invocations.
type ModelStore interface {
	Upsert(ctx context.Context, rec *model.ModelRecord) error
	GetByID(ctx context.Context, modelID string) (*model.ModelRecord, error)
	SetStatus(ctx context.Context, modelID string, status model.Status, failureReason string) error
	SetDeploymentConfig(ctx context.Context, modelID string, cfg *model.DeploymentConfig) error
	SetInfrastructure(ctx context.Context, modelID, handle, endpoint, resourceGroup string) error
	SetRoute(ctx context.Context, modelID, routeID string, guardrailIDs []string) error
	ClearRoute(ctx context.Context, modelID string) error
	Delete(ctx context.Context, modelID string) error
}

// ImageProvider resolves and builds model serving images
type ImageProvider interface {
	Ensure(ctx context.Context, modelID string, cfg *model.DeploymentConfig) (*provision.EnsureResult, error)
	Check(ctx context.Context, modelID, ref, jobHandle string, pollsRemaining int) (*provision.CheckResult, error)
	TerminateBuild(ctx context.Context, modelID, jobHandle string)
}

// InfraProvider submits and polls infrastructure stacks
type InfraProvider interface {
	Submit(ctx context.Context, modelID, existingHandle, imageRef string, cfg *model.DeploymentConfig) (string, error)
	Teardown(ctx context.Context, modelID, handle string) error
	Poll(ctx context.Context, modelID, handle string, pollsRemaining int) (*provision.PollResult, error)
	PollDeletion(ctx context.Context, modelID, handle string, pollsRemaining int) (*provision.PollResult, error)
	PollBudget() int
}

// RouteRegistry publishes and removes model traffic routes
type RouteRegistry interface {
	Register(ctx context.Context, modelID, endpoint, existingRouteID string, cfg *model.DeploymentConfig) (*routing.RegisterResult, error)
	Deregister(ctx context.Context, modelID, routeID string) error
}

// ScheduleKeeper manages the model's scheduled-action set
type ScheduleKeeper interface {
	Apply(ctx context.Context, rec *model.ModelRecord, sc *model.ScheduleConfig) error
	Remove(ctx context.Context, rec *model.ModelRecord) error
	BaselineCapacity(ctx context.Context, rec *model.ModelRecord) model.Capacity
}

// CapacitySetter adjusts a resource group's running capacity directly,
// outside of scheduled actions
type CapacitySetter interface {
	SetCapacity(ctx context.Context, group string, capacity model.Capacity) error
}

// Steps holds the deployment workflow step handlers. Each handler is a
// short-lived, stateless invocation: it reads the payload, performs one
// side effect idempotently, and returns an updated payload copy. The
// engine may redeliver any step after a timeout, so re-running a handler
// against already-applied state must be harmless.
type Steps struct {
	models    ModelStore
	images    ImageProvider
	infra     InfraProvider
	routes    RouteRegistry
	schedules ScheduleKeeper
	capacity  CapacitySetter
}

// NewSteps creates the step handler set
func NewSteps(models ModelStore, images ImageProvider, infra InfraProvider, routes RouteRegistry, schedules ScheduleKeeper, capacity CapacitySetter) *Steps {
	return &Steps{
		models:    models,
		images:    images,
		infra:     infra,
		routes:    routes,
		schedules: schedules,
		capacity:  capacity,
	}
}

// MarkCreating writes the model record with status CREATING and decides,
// once for the whole workflow, whether infrastructure will be provisioned.
// Externally-hosted models skip every provisioning step downstream.
func (s *Steps) MarkCreating(ctx context.Context, p *model.WorkflowPayload) (*model.WorkflowPayload, error) {
	if p.DeploymentConfig == nil {
		return nil, model.NewValidationError("deployment config is required")
	}

	now := time.Now().UTC()
	rec := &model.ModelRecord{
		ModelID:          p.ModelID,
		Status:           model.StatusCreating,
		DeploymentConfig: *p.DeploymentConfig,
		AllowedGroups:    p.AllowedGroups,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	// A redelivered entry step must not reset the original creation time
	if existing, err := s.models.GetByID(ctx, p.ModelID); err == nil {
		rec.CreatedAt = existing.CreatedAt
	}

	if err := s.models.Upsert(ctx, rec); err != nil {
		return nil, err
	}

	out := p.Clone()
	out.CreateInfra = p.DeploymentConfig.SelfHosted()
	if !out.CreateInfra {
		out.Endpoint = p.DeploymentConfig.ExternalEndpoint
	}

	slog.Info("Model record created",
		"model_id", p.ModelID,
		"create_infra", out.CreateInfra,
	)
	return out, nil
}

// ProvisionImage resolves the model's serving image: reuse it when the
// registry already holds the expected tag, otherwise start an asynchronous
// build and hand the poll budget to the next step.
func (s *Steps) ProvisionImage(ctx context.Context, p *model.WorkflowPayload) (*model.WorkflowPayload, error) {
	rec, err := s.models.GetByID(ctx, p.ModelID)
	if err != nil {
		return nil, err
	}

	res, err := s.images.Ensure(ctx, p.ModelID, &rec.DeploymentConfig)
	if err != nil {
		return nil, err
	}

	out := p.Clone()
	out.ImageRef = res.ImageRef
	out.ImagePrebuilt = res.Prebuilt
	out.BuildJobHandle = res.JobHandle
	out.PollsRemaining = res.PollBudget
	return out, nil
}

// PollImage checks the registry for the built image, decrementing the poll
// budget until the tag appears or the budget runs out
func (s *Steps) PollImage(ctx context.Context, p *model.WorkflowPayload) (*model.WorkflowPayload, error) {
	res, err := s.images.Check(ctx, p.ModelID, p.ImageRef, p.BuildJobHandle, p.PollsRemaining)
	if err != nil {
		return nil, err
	}

	out := p.Clone()
	if res.Found {
		out.ContinuePolling = false
		out.BuildJobHandle = ""
		return out, nil
	}

	out.PollsRemaining = res.PollsRemaining
	out.ContinuePolling = true
	return out, nil
}

// ProvisionInfra submits the stack create request and records the returned
// handle. A record that already carries a handle means a redelivered step;
// the existing stack is reused rather than double-provisioned.
func (s *Steps) ProvisionInfra(ctx context.Context, p *model.WorkflowPayload) (*model.WorkflowPayload, error) {
	rec, err := s.models.GetByID(ctx, p.ModelID)
	if err != nil {
		return nil, err
	}

	out := p.Clone()
	if rec.InfrastructureHandle != "" {
		out.StackHandle = rec.InfrastructureHandle
		out.PollsRemaining = s.infra.PollBudget()
		slog.Info("Reusing existing infrastructure stack",
			"model_id", p.ModelID,
			"stack_handle", rec.InfrastructureHandle,
		)
		return out, nil
	}

	handle, err := s.infra.Submit(ctx, p.ModelID, "", p.ImageRef, &rec.DeploymentConfig)
	if err != nil {
		return nil, err
	}

	if err := s.models.SetInfrastructure(ctx, p.ModelID, handle, "", ""); err != nil {
		return nil, err
	}

	out.StackHandle = handle
	out.PollsRemaining = s.infra.PollBudget()
	return out, nil
}

// ProvisionInfraUpdate submits a stack update against the model's existing
// handle, carrying the replaced deployment configuration
func (s *Steps) ProvisionInfraUpdate(ctx context.Context, p *model.WorkflowPayload) (*model.WorkflowPayload, error) {
	rec, err := s.models.GetByID(ctx, p.ModelID)
	if err != nil {
		return nil, err
	}
	if rec.InfrastructureHandle == "" {
		return nil, fmt.Errorf("model %s has no infrastructure stack to update", p.ModelID)
	}

	imageRef := p.ImageRef
	if imageRef == "" {
		imageRef = provision.ImageRef(&rec.DeploymentConfig)
	}

	handle, err := s.infra.Submit(ctx, p.ModelID, rec.InfrastructureHandle, imageRef, &rec.DeploymentConfig)
	if err != nil {
		return nil, err
	}

	out := p.Clone()
	out.StackHandle = handle
	out.PollsRemaining = s.infra.PollBudget()
	return out, nil
}

// PollInfra polls the stack until it settles, then extracts the public
// endpoint and resource-group reference and persists them on the record
func (s *Steps) PollInfra(ctx context.Context, p *model.WorkflowPayload) (*model.WorkflowPayload, error) {
	res, err := s.infra.Poll(ctx, p.ModelID, p.StackHandle, p.PollsRemaining)
	if err != nil {
		return nil, err
	}

	out := p.Clone()
	if !res.Done {
		out.PollsRemaining = res.PollsRemaining
		out.ContinuePolling = true
		return out, nil
	}

	if err := s.models.SetInfrastructure(ctx, p.ModelID, p.StackHandle, res.Endpoint, res.ResourceGroup); err != nil {
		return nil, err
	}

	out.ContinuePolling = false
	out.Endpoint = res.Endpoint
	out.ResourceGroup = res.ResourceGroup
	return out, nil
}

// RegisterRoute publishes the model's endpoint with the request-routing
// layer, attaches guardrail policies, and settles the record into its final
// status. Guardrail ids created before a partial failure are persisted so a
// redelivery does not attach duplicates.
func (s *Steps) RegisterRoute(ctx context.Context, p *model.WorkflowPayload) (*model.WorkflowPayload, error) {
	rec, err := s.models.GetByID(ctx, p.ModelID)
	if err != nil {
		return nil, err
	}

	out := p.Clone()

	// A model being disabled keeps no serving endpoint; the route is gone
	// by now and the only work left is settling the status.
	if rec.Status == model.StatusStopping {
		if err := s.models.SetStatus(ctx, p.ModelID, model.StatusStopped, ""); err != nil {
			return nil, err
		}
		return out, nil
	}

	endpoint := p.Endpoint
	if endpoint == "" {
		endpoint = rec.Endpoint
	}
	if endpoint == "" {
		endpoint = rec.DeploymentConfig.ExternalEndpoint
	}
	if endpoint == "" {
		return nil, fmt.Errorf("model %s has no endpoint to register", p.ModelID)
	}

	res, regErr := s.routes.Register(ctx, p.ModelID, endpoint, rec.RouteID, &rec.DeploymentConfig)
	if res != nil && res.RouteID != "" {
		guardrailIDs := mergeIDs(rec.GuardrailIDs, res.GuardrailIDs)
		if err := s.models.SetRoute(ctx, p.ModelID, res.RouteID, guardrailIDs); err != nil {
			if regErr == nil {
				return nil, err
			}
			slog.Error("Failed to persist partial route state",
				"model_id", p.ModelID,
				"error", err,
			)
		}
		out.RouteID = res.RouteID
	}
	if regErr != nil {
		return nil, regErr
	}

	final := settledStatus(rec.Status, p.PreviousStatus)
	if err := s.models.SetStatus(ctx, p.ModelID, final, ""); err != nil {
		return nil, err
	}

	slog.Info("Route registered",
		"model_id", p.ModelID,
		"route_id", out.RouteID,
		"status", final,
	)
	return out, nil
}

// settledStatus maps the workflow-transient status to the status the model
// lands in once its route work is done
func settledStatus(current, previous model.Status) model.Status {
	switch current {
	case model.StatusCreating, model.StatusStarting:
		return model.StatusInService
	case model.StatusUpdating:
		if previous != "" {
			return previous
		}
		return model.StatusInService
	case model.StatusStopping:
		return model.StatusStopped
	default:
		return current
	}
}

// ApplySchedule installs the requested scheduled-action set. Scheduling is
// best-effort relative to the deployment itself: a failure here is recorded
// on the model and logged but never fails the workflow.
func (s *Steps) ApplySchedule(ctx context.Context, p *model.WorkflowPayload) (*model.WorkflowPayload, error) {
	if p.Scheduling == nil {
		return p.Clone(), nil
	}

	rec, err := s.models.GetByID(ctx, p.ModelID)
	if err != nil {
		return nil, err
	}

	if err := s.schedules.Apply(ctx, rec, p.Scheduling); err != nil {
		slog.Warn("Schedule creation failed, deployment continues",
			"model_id", p.ModelID,
			"error", err,
		)
	}
	return p.Clone(), nil
}

// MarkUpdating validates the requested mutation against the state machine
// and moves the record into its transient state: UPDATING for a config
// replacement, STARTING or STOPPING for an enable/disable toggle. The
// pre-mutation status is stashed in the payload so Register Route can
// restore it.
func (s *Steps) MarkUpdating(ctx context.Context, p *model.WorkflowPayload) (*model.WorkflowPayload, error) {
	rec, err := s.models.GetByID(ctx, p.ModelID)
	if err != nil {
		return nil, err
	}

	out := p.Clone()
	out.PreviousStatus = rec.Status

	if p.TargetEnabled != nil {
		target := model.StatusStopping
		if *p.TargetEnabled {
			target = model.StatusStarting
		}
		// Redelivery after the transition already happened
		if rec.Status == target {
			return out, nil
		}
		if err := rec.Status.CheckTransition(p.ModelID, target); err != nil {
			return nil, err
		}
		if err := s.models.SetStatus(ctx, p.ModelID, target, ""); err != nil {
			return nil, err
		}
		return out, nil
	}

	if rec.Status != model.StatusUpdating {
		if err := rec.Status.CheckTransition(p.ModelID, model.StatusUpdating); err != nil {
			return nil, err
		}
	} else {
		// Redelivered entry step: the stashed previous status is what the
		// payload already carries, not the transient UPDATING.
		out.PreviousStatus = p.PreviousStatus
	}

	if p.DeploymentConfig != nil {
		if err := s.models.SetDeploymentConfig(ctx, p.ModelID, p.DeploymentConfig); err != nil {
			return nil, err
		}
		out.CreateInfra = p.DeploymentConfig.SelfHosted()
		if !out.CreateInfra {
			out.Endpoint = p.DeploymentConfig.ExternalEndpoint
		}
	} else {
		out.CreateInfra = rec.DeploymentConfig.SelfHosted()
	}

	if err := s.models.SetStatus(ctx, p.ModelID, model.StatusUpdating, ""); err != nil {
		return nil, err
	}
	return out, nil
}

// SetGroupCapacity applies an enable/disable toggle to the model's resource
// group: enabling restores the baseline capacity, disabling scales the
// group to zero
func (s *Steps) SetGroupCapacity(ctx context.Context, p *model.WorkflowPayload) (*model.WorkflowPayload, error) {
	rec, err := s.models.GetByID(ctx, p.ModelID)
	if err != nil {
		return nil, err
	}
	if rec.ResourceGroup == "" {
		return nil, fmt.Errorf("model %s has no resource group to scale", p.ModelID)
	}

	capacity := model.Capacity{Min: 0, Max: 0, Desired: 0}
	if p.TargetEnabled != nil && *p.TargetEnabled {
		capacity = s.schedules.BaselineCapacity(ctx, rec)
	}

	if err := s.capacity.SetCapacity(ctx, rec.ResourceGroup, capacity); err != nil {
		return nil, err
	}

	slog.Info("Resource group capacity set",
		"model_id", p.ModelID,
		"resource_group", rec.ResourceGroup,
		"min", capacity.Min,
		"max", capacity.Max,
		"desired", capacity.Desired,
	)
	return p.Clone(), nil
}

// MarkDeleting validates and applies the transition into DELETING and
// stashes the resources the teardown steps will need, so they keep working
// even after the record itself is removed
func (s *Steps) MarkDeleting(ctx context.Context, p *model.WorkflowPayload) (*model.WorkflowPayload, error) {
	rec, err := s.models.GetByID(ctx, p.ModelID)
	if err != nil {
		return nil, err
	}

	if rec.Status != model.StatusDeleting {
		if err := rec.Status.CheckTransition(p.ModelID, model.StatusDeleting); err != nil {
			return nil, err
		}
		if err := s.models.SetStatus(ctx, p.ModelID, model.StatusDeleting, ""); err != nil {
			return nil, err
		}
	}

	out := p.Clone()
	out.StackHandle = rec.InfrastructureHandle
	out.RouteID = rec.RouteID
	out.ResourceGroup = rec.ResourceGroup
	out.CreateInfra = rec.DeploymentConfig.SelfHosted() && rec.InfrastructureHandle != ""
	return out, nil
}

// RemoveSchedule tears down the model's scheduled-action set before its
// resource group goes away. Unlike schedule creation this is on the
// critical path: leaving orphaned actions behind a deleted group is worse
// than retrying the delete.
func (s *Steps) RemoveSchedule(ctx context.Context, p *model.WorkflowPayload) (*model.WorkflowPayload, error) {
	rec, err := s.models.GetByID(ctx, p.ModelID)
	if err != nil {
		return nil, err
	}

	if err := s.schedules.Remove(ctx, rec); err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// DeregisterRoute removes the model's traffic route and clears the route
// state from the record. A route that is already gone is success.
func (s *Steps) DeregisterRoute(ctx context.Context, p *model.WorkflowPayload) (*model.WorkflowPayload, error) {
	if err := s.routes.Deregister(ctx, p.ModelID, p.RouteID); err != nil {
		return nil, err
	}
	if err := s.models.ClearRoute(ctx, p.ModelID); err != nil {
		return nil, err
	}

	out := p.Clone()
	out.RouteID = ""
	return out, nil
}

// TeardownInfra issues the stack delete request
func (s *Steps) TeardownInfra(ctx context.Context, p *model.WorkflowPayload) (*model.WorkflowPayload, error) {
	if err := s.infra.Teardown(ctx, p.ModelID, p.StackHandle); err != nil {
		return nil, err
	}

	out := p.Clone()
	out.PollsRemaining = s.infra.PollBudget()
	return out, nil
}

// PollTeardown polls the stack until it is gone
func (s *Steps) PollTeardown(ctx context.Context, p *model.WorkflowPayload) (*model.WorkflowPayload, error) {
	res, err := s.infra.PollDeletion(ctx, p.ModelID, p.StackHandle, p.PollsRemaining)
	if err != nil {
		return nil, err
	}

	out := p.Clone()
	if !res.Done {
		out.PollsRemaining = res.PollsRemaining
		out.ContinuePolling = true
		return out, nil
	}

	out.ContinuePolling = false
	return out, nil
}

// RemoveRecord deletes the model record, completing the delete workflow.
// A record already removed by an earlier delivery is success.
func (s *Steps) RemoveRecord(ctx context.Context, p *model.WorkflowPayload) (*model.WorkflowPayload, error) {
	if err := s.models.Delete(ctx, p.ModelID); err != nil && !errors.Is(err, model.ErrModelNotFound) {
		return nil, err
	}

	slog.Info("Model record removed", "model_id", p.ModelID)
	return p.Clone(), nil
}

// HandleFailure is the compensation handler the engine invokes when any
// step errors. It recovers the model id and any provisioned-but-unregistered
// resource from the failing step's payload, releases that resource, and
// parks the model in FAILED. It never returns an error: compensation
// failures are logged, not raised.
func (s *Steps) HandleFailure(ctx context.Context, p *model.WorkflowPayload) *model.WorkflowPayload {
	if p.BuildJobHandle != "" {
		s.images.TerminateBuild(ctx, p.ModelID, p.BuildJobHandle)
	}

	reason := p.ErrorMessage
	if reason == "" {
		reason = "workflow step failed"
	}
	if p.FailedStep != "" {
		reason = fmt.Sprintf("%s: %s", p.FailedStep, reason)
	}

	if err := s.models.SetStatus(ctx, p.ModelID, model.StatusFailed, reason); err != nil {
		slog.Error("Failed to mark model as failed",
			"model_id", p.ModelID,
			"error", err,
		)
	}

	slog.Error("Workflow failed",
		"model_id", p.ModelID,
		"failed_step", p.FailedStep,
		"reason", reason,
	)
	return p.Clone()
}

// mergeIDs appends ids not already present, preserving order
func mergeIDs(existing, added []string) []string {
	seen := make(map[string]struct{}, len(existing))
	merged := make([]string, 0, len(existing)+len(added))
	for _, id := range existing {
		seen[id] = struct{}{}
		merged = append(merged, id)
	}
	for _, id := range added {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		merged = append(merged, id)
	}
	return merged
}

package service

import (
	"context"

	"github.com/dandantas/kestrel/internal/access"
	"github.com/dandantas/kestrel/internal/model"
	"github.com/dandantas/kestrel/internal/schedule"
)

// ScheduleService manages a model's auto-scaling schedule directly, outside
// of the deployment workflows. Unlike the best-effort schedule step inside
// model creation, these operations surface backend failures to the caller.
type ScheduleService struct {
	models  ModelStore
	manager *schedule.Manager
	gate    *access.Gate
}

// NewScheduleService creates a new schedule service
func NewScheduleService(models ModelStore, manager *schedule.Manager, gate *access.Gate) *ScheduleService {
	return &ScheduleService{
		models:  models,
		manager: manager,
		gate:    gate,
	}
}

// GetSchedule retrieves a model's schedule configuration
func (s *ScheduleService) GetSchedule(ctx context.Context, modelID string, userGroups []string) (*model.ScheduleConfig, error) {
	rec, err := s.getAccessible(ctx, modelID, userGroups)
	if err != nil {
		return nil, err
	}
	if rec.Scheduling == nil {
		return &model.ScheduleConfig{Type: model.ScheduleNone}, nil
	}
	return rec.Scheduling, nil
}

// PutSchedule replaces a model's schedule with the requested configuration
func (s *ScheduleService) PutSchedule(ctx context.Context, modelID string, sc *model.ScheduleConfig, userGroups []string) error {
	rec, err := s.getAccessible(ctx, modelID, userGroups)
	if err != nil {
		return err
	}
	if err := s.checkMutable(rec); err != nil {
		return err
	}
	if !rec.DeploymentConfig.SelfHosted() {
		return model.NewValidationError("scheduling is not supported for externally hosted models")
	}
	if err := sc.Validate(); err != nil {
		return model.NewValidationError("%s", err.Error())
	}

	return s.manager.Apply(ctx, rec, sc)
}

// DeleteSchedule removes a model's schedule entirely
func (s *ScheduleService) DeleteSchedule(ctx context.Context, modelID string, userGroups []string) error {
	rec, err := s.getAccessible(ctx, modelID, userGroups)
	if err != nil {
		return err
	}
	if err := s.checkMutable(rec); err != nil {
		return err
	}

	return s.manager.Remove(ctx, rec)
}

// checkMutable rejects schedule writes while a deployment workflow owns the
// model's resource group
func (s *ScheduleService) checkMutable(rec *model.ModelRecord) error {
	switch rec.Status {
	case model.StatusCreating, model.StatusUpdating, model.StatusDeleting:
		return &model.InvalidStateTransitionError{
			ModelID: rec.ModelID,
			From:    rec.Status,
			To:      rec.Status,
			Reason:  "schedule cannot change while a deployment workflow is in progress",
		}
	}
	return nil
}

func (s *ScheduleService) getAccessible(ctx context.Context, modelID string, userGroups []string) (*model.ModelRecord, error) {
	rec, err := s.models.GetByID(ctx, modelID)
	if err != nil {
		return nil, err
	}
	if !s.gate.HasAccess(userGroups, rec.AllowedGroups) {
		return nil, model.ErrModelNotFound
	}
	return rec, nil
}

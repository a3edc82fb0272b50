package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dandantas/kestrel/internal/model"
	"github.com/dandantas/kestrel/internal/provision"
	"github.com/dandantas/kestrel/internal/routing"
)

type fakeModelStore struct {
	records    map[string]*model.ModelRecord
	failStatus error
	failRoute  error
}

func newFakeModelStore(recs ...*model.ModelRecord) *fakeModelStore {
	s := &fakeModelStore{records: make(map[string]*model.ModelRecord)}
	for _, r := range recs {
		s.records[r.ModelID] = r
	}
	return s
}

func (s *fakeModelStore) Upsert(_ context.Context, rec *model.ModelRecord) error {
	s.records[rec.ModelID] = rec
	return nil
}

func (s *fakeModelStore) GetByID(_ context.Context, modelID string) (*model.ModelRecord, error) {
	rec, ok := s.records[modelID]
	if !ok {
		return nil, model.ErrModelNotFound
	}
	return rec, nil
}

func (s *fakeModelStore) SetStatus(_ context.Context, modelID string, status model.Status, reason string) error {
	if s.failStatus != nil {
		return s.failStatus
	}
	rec, ok := s.records[modelID]
	if !ok {
		return model.ErrModelNotFound
	}
	rec.Status = status
	rec.FailureReason = reason
	return nil
}

func (s *fakeModelStore) SetDeploymentConfig(_ context.Context, modelID string, cfg *model.DeploymentConfig) error {
	rec, ok := s.records[modelID]
	if !ok {
		return model.ErrModelNotFound
	}
	rec.DeploymentConfig = *cfg
	return nil
}

func (s *fakeModelStore) SetInfrastructure(_ context.Context, modelID, handle, endpoint, resourceGroup string) error {
	rec, ok := s.records[modelID]
	if !ok {
		return model.ErrModelNotFound
	}
	rec.InfrastructureHandle = handle
	if endpoint != "" {
		rec.Endpoint = endpoint
	}
	if resourceGroup != "" {
		rec.ResourceGroup = resourceGroup
	}
	return nil
}

func (s *fakeModelStore) SetRoute(_ context.Context, modelID, routeID string, guardrailIDs []string) error {
	if s.failRoute != nil {
		return s.failRoute
	}
	rec, ok := s.records[modelID]
	if !ok {
		return model.ErrModelNotFound
	}
	rec.RouteID = routeID
	rec.GuardrailIDs = guardrailIDs
	return nil
}

func (s *fakeModelStore) ClearRoute(_ context.Context, modelID string) error {
	rec, ok := s.records[modelID]
	if !ok {
		return model.ErrModelNotFound
	}
	rec.RouteID = ""
	rec.GuardrailIDs = nil
	return nil
}

func (s *fakeModelStore) Delete(_ context.Context, modelID string) error {
	if _, ok := s.records[modelID]; !ok {
		return model.ErrModelNotFound
	}
	delete(s.records, modelID)
	return nil
}

type fakeImages struct {
	ensureResult *provision.EnsureResult
	checkResult  *provision.CheckResult
	terminated   []string
}

func (f *fakeImages) Ensure(_ context.Context, _ string, _ *model.DeploymentConfig) (*provision.EnsureResult, error) {
	return f.ensureResult, nil
}

func (f *fakeImages) Check(_ context.Context, _, _, _ string, _ int) (*provision.CheckResult, error) {
	return f.checkResult, nil
}

func (f *fakeImages) TerminateBuild(_ context.Context, _, jobHandle string) {
	f.terminated = append(f.terminated, jobHandle)
}

type fakeInfra struct {
	submitHandle  string
	submitErr     error
	submitted     []string
	pollResult    *provision.PollResult
	deletePolled  bool
	tornDown      []string
	teardownError error
}

func (f *fakeInfra) Submit(_ context.Context, _, existingHandle, imageRef string, _ *model.DeploymentConfig) (string, error) {
	f.submitted = append(f.submitted, existingHandle+"|"+imageRef)
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.submitHandle, nil
}

func (f *fakeInfra) Teardown(_ context.Context, _, handle string) error {
	if f.teardownError != nil {
		return f.teardownError
	}
	f.tornDown = append(f.tornDown, handle)
	return nil
}

func (f *fakeInfra) Poll(_ context.Context, _, _ string, _ int) (*provision.PollResult, error) {
	return f.pollResult, nil
}

func (f *fakeInfra) PollDeletion(_ context.Context, _, _ string, _ int) (*provision.PollResult, error) {
	f.deletePolled = true
	return f.pollResult, nil
}

func (f *fakeInfra) PollBudget() int { return 42 }

type fakeRoutes struct {
	result       *routing.RegisterResult
	registerErr  error
	registered   []string
	deregistered []string
	deregErr     error
}

func (f *fakeRoutes) Register(_ context.Context, modelID, endpoint, _ string, _ *model.DeploymentConfig) (*routing.RegisterResult, error) {
	f.registered = append(f.registered, modelID+"|"+endpoint)
	return f.result, f.registerErr
}

func (f *fakeRoutes) Deregister(_ context.Context, _, routeID string) error {
	if f.deregErr != nil {
		return f.deregErr
	}
	f.deregistered = append(f.deregistered, routeID)
	return nil
}

type fakeSchedules struct {
	applied  int
	removed  int
	applyErr error
	baseline model.Capacity
}

func (f *fakeSchedules) Apply(_ context.Context, _ *model.ModelRecord, _ *model.ScheduleConfig) error {
	f.applied++
	return f.applyErr
}

func (f *fakeSchedules) Remove(_ context.Context, _ *model.ModelRecord) error {
	f.removed++
	return nil
}

func (f *fakeSchedules) BaselineCapacity(_ context.Context, _ *model.ModelRecord) model.Capacity {
	return f.baseline
}

type fakeCapacity struct {
	set map[string]model.Capacity
}

func (f *fakeCapacity) SetCapacity(_ context.Context, group string, capacity model.Capacity) error {
	if f.set == nil {
		f.set = make(map[string]model.Capacity)
	}
	f.set[group] = capacity
	return nil
}

func selfHostedConfig() *model.DeploymentConfig {
	return &model.DeploymentConfig{
		BaseImage:       "vllm-base",
		ImageTag:        "llama-3-8b",
		InstanceType:    "g5.xlarge",
		Capacity:        &model.Capacity{Min: 1, Max: 4, Desired: 2},
		InferenceEngine: "vllm",
	}
}

func testSteps(store *fakeModelStore) (*Steps, *fakeImages, *fakeInfra, *fakeRoutes, *fakeSchedules, *fakeCapacity) {
	images := &fakeImages{}
	infra := &fakeInfra{}
	routes := &fakeRoutes{}
	schedules := &fakeSchedules{}
	capacity := &fakeCapacity{}
	return NewSteps(store, images, infra, routes, schedules, capacity), images, infra, routes, schedules, capacity
}

func TestMarkCreatingSelfHosted(t *testing.T) {
	store := newFakeModelStore()
	steps, _, _, _, _, _ := testSteps(store)

	p := &model.WorkflowPayload{ModelID: "m1", DeploymentConfig: selfHostedConfig()}
	out, err := steps.MarkCreating(context.Background(), p)
	require.NoError(t, err)

	assert.True(t, out.CreateInfra)
	assert.Empty(t, out.Endpoint)

	rec, err := store.GetByID(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCreating, rec.Status)
}

func TestMarkCreatingExternal(t *testing.T) {
	store := newFakeModelStore()
	steps, _, _, _, _, _ := testSteps(store)

	cfg := &model.DeploymentConfig{InferenceEngine: "vllm", ExternalEndpoint: "https://llm.example.com"}
	out, err := steps.MarkCreating(context.Background(), &model.WorkflowPayload{ModelID: "m1", DeploymentConfig: cfg})
	require.NoError(t, err)

	assert.False(t, out.CreateInfra)
	assert.Equal(t, "https://llm.example.com", out.Endpoint)
}

func TestMarkCreatingRedeliveryKeepsCreationTime(t *testing.T) {
	created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	store := newFakeModelStore(&model.ModelRecord{
		ModelID:   "m1",
		Status:    model.StatusCreating,
		CreatedAt: created,
	})
	steps, _, _, _, _, _ := testSteps(store)

	_, err := steps.MarkCreating(context.Background(), &model.WorkflowPayload{ModelID: "m1", DeploymentConfig: selfHostedConfig()})
	require.NoError(t, err)

	rec, _ := store.GetByID(context.Background(), "m1")
	assert.Equal(t, created, rec.CreatedAt)
}

func TestMarkCreatingRequiresConfig(t *testing.T) {
	steps, _, _, _, _, _ := testSteps(newFakeModelStore())

	_, err := steps.MarkCreating(context.Background(), &model.WorkflowPayload{ModelID: "m1"})
	var verr *model.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestProvisionImageCarriesBuildState(t *testing.T) {
	store := newFakeModelStore(&model.ModelRecord{ModelID: "m1", DeploymentConfig: *selfHostedConfig()})
	steps, images, _, _, _, _ := testSteps(store)
	images.ensureResult = &provision.EnsureResult{
		ImageRef:   "vllm-base:llama-3-8b",
		JobHandle:  "build-1",
		PollBudget: 60,
	}

	out, err := steps.ProvisionImage(context.Background(), &model.WorkflowPayload{ModelID: "m1"})
	require.NoError(t, err)
	assert.Equal(t, "vllm-base:llama-3-8b", out.ImageRef)
	assert.Equal(t, "build-1", out.BuildJobHandle)
	assert.Equal(t, 60, out.PollsRemaining)
	assert.False(t, out.ImagePrebuilt)
}

func TestPollImageFoundClearsBuildHandle(t *testing.T) {
	steps, images, _, _, _, _ := testSteps(newFakeModelStore())
	images.checkResult = &provision.CheckResult{Found: true}

	out, err := steps.PollImage(context.Background(), &model.WorkflowPayload{ModelID: "m1", BuildJobHandle: "build-1", PollsRemaining: 10})
	require.NoError(t, err)
	assert.False(t, out.ContinuePolling)
	assert.Empty(t, out.BuildJobHandle)
}

func TestPollImageNotYetFoundRequeues(t *testing.T) {
	steps, images, _, _, _, _ := testSteps(newFakeModelStore())
	images.checkResult = &provision.CheckResult{Found: false, PollsRemaining: 9}

	out, err := steps.PollImage(context.Background(), &model.WorkflowPayload{ModelID: "m1", PollsRemaining: 10})
	require.NoError(t, err)
	assert.True(t, out.ContinuePolling)
	assert.Equal(t, 9, out.PollsRemaining)
}

func TestProvisionInfraSubmitsAndPersistsHandle(t *testing.T) {
	store := newFakeModelStore(&model.ModelRecord{ModelID: "m1", DeploymentConfig: *selfHostedConfig()})
	steps, _, infra, _, _, _ := testSteps(store)
	infra.submitHandle = "stack-1"

	out, err := steps.ProvisionInfra(context.Background(), &model.WorkflowPayload{ModelID: "m1", ImageRef: "img:tag"})
	require.NoError(t, err)
	assert.Equal(t, "stack-1", out.StackHandle)
	assert.Equal(t, 42, out.PollsRemaining)

	rec, _ := store.GetByID(context.Background(), "m1")
	assert.Equal(t, "stack-1", rec.InfrastructureHandle)
}

func TestProvisionInfraReusesExistingStack(t *testing.T) {
	store := newFakeModelStore(&model.ModelRecord{
		ModelID:              "m1",
		DeploymentConfig:     *selfHostedConfig(),
		InfrastructureHandle: "stack-existing",
	})
	steps, _, infra, _, _, _ := testSteps(store)

	out, err := steps.ProvisionInfra(context.Background(), &model.WorkflowPayload{ModelID: "m1"})
	require.NoError(t, err)
	assert.Equal(t, "stack-existing", out.StackHandle)
	assert.Empty(t, infra.submitted, "redelivered step must not re-submit the stack")
}

func TestProvisionInfraUpdateRequiresHandle(t *testing.T) {
	store := newFakeModelStore(&model.ModelRecord{ModelID: "m1", DeploymentConfig: *selfHostedConfig()})
	steps, _, _, _, _, _ := testSteps(store)

	_, err := steps.ProvisionInfraUpdate(context.Background(), &model.WorkflowPayload{ModelID: "m1"})
	assert.Error(t, err)
}

func TestPollInfraDonePersistsEndpoint(t *testing.T) {
	store := newFakeModelStore(&model.ModelRecord{ModelID: "m1", DeploymentConfig: *selfHostedConfig()})
	steps, _, infra, _, _, _ := testSteps(store)
	infra.pollResult = &provision.PollResult{
		Done:          true,
		Endpoint:      "https://m1.internal",
		ResourceGroup: "asg-m1",
	}

	out, err := steps.PollInfra(context.Background(), &model.WorkflowPayload{ModelID: "m1", StackHandle: "stack-1"})
	require.NoError(t, err)
	assert.False(t, out.ContinuePolling)
	assert.Equal(t, "https://m1.internal", out.Endpoint)
	assert.Equal(t, "asg-m1", out.ResourceGroup)

	rec, _ := store.GetByID(context.Background(), "m1")
	assert.Equal(t, "https://m1.internal", rec.Endpoint)
	assert.Equal(t, "asg-m1", rec.ResourceGroup)
}

func TestRegisterRouteSettlesCreateToInService(t *testing.T) {
	store := newFakeModelStore(&model.ModelRecord{
		ModelID:          "m1",
		Status:           model.StatusCreating,
		DeploymentConfig: *selfHostedConfig(),
	})
	steps, _, _, routes, _, _ := testSteps(store)
	routes.result = &routing.RegisterResult{RouteID: "route-1", GuardrailIDs: []string{"g1"}}

	out, err := steps.RegisterRoute(context.Background(), &model.WorkflowPayload{ModelID: "m1", Endpoint: "https://m1.internal"})
	require.NoError(t, err)
	assert.Equal(t, "route-1", out.RouteID)

	rec, _ := store.GetByID(context.Background(), "m1")
	assert.Equal(t, model.StatusInService, rec.Status)
	assert.Equal(t, "route-1", rec.RouteID)
	assert.Equal(t, []string{"g1"}, rec.GuardrailIDs)
}

func TestRegisterRouteRestoresPreviousStatusAfterUpdate(t *testing.T) {
	store := newFakeModelStore(&model.ModelRecord{
		ModelID:          "m1",
		Status:           model.StatusUpdating,
		Endpoint:         "https://m1.internal",
		DeploymentConfig: *selfHostedConfig(),
	})
	steps, _, _, routes, _, _ := testSteps(store)
	routes.result = &routing.RegisterResult{RouteID: "route-1"}

	_, err := steps.RegisterRoute(context.Background(), &model.WorkflowPayload{
		ModelID:        "m1",
		PreviousStatus: model.StatusStopped,
	})
	require.NoError(t, err)

	rec, _ := store.GetByID(context.Background(), "m1")
	assert.Equal(t, model.StatusStopped, rec.Status)
}

func TestRegisterRouteStoppingSkipsRegistration(t *testing.T) {
	store := newFakeModelStore(&model.ModelRecord{
		ModelID:          "m1",
		Status:           model.StatusStopping,
		DeploymentConfig: *selfHostedConfig(),
	})
	steps, _, _, routes, _, _ := testSteps(store)

	_, err := steps.RegisterRoute(context.Background(), &model.WorkflowPayload{ModelID: "m1"})
	require.NoError(t, err)
	assert.Empty(t, routes.registered, "a disabled model must not re-register its route")

	rec, _ := store.GetByID(context.Background(), "m1")
	assert.Equal(t, model.StatusStopped, rec.Status)
}

func TestRegisterRoutePersistsPartialGuardrails(t *testing.T) {
	store := newFakeModelStore(&model.ModelRecord{
		ModelID:          "m1",
		Status:           model.StatusCreating,
		Endpoint:         "https://m1.internal",
		DeploymentConfig: *selfHostedConfig(),
	})
	steps, _, _, routes, _, _ := testSteps(store)
	routes.result = &routing.RegisterResult{RouteID: "route-1", GuardrailIDs: []string{"g1"}}
	routes.registerErr = errors.New("guardrail attach failed")

	_, err := steps.RegisterRoute(context.Background(), &model.WorkflowPayload{ModelID: "m1"})
	require.Error(t, err)

	rec, _ := store.GetByID(context.Background(), "m1")
	assert.Equal(t, "route-1", rec.RouteID)
	assert.Equal(t, []string{"g1"}, rec.GuardrailIDs)
	assert.Equal(t, model.StatusCreating, rec.Status, "status must not settle on a failed registration")
}

func TestRegisterRouteMergesGuardrailIDs(t *testing.T) {
	store := newFakeModelStore(&model.ModelRecord{
		ModelID:          "m1",
		Status:           model.StatusCreating,
		Endpoint:         "https://m1.internal",
		GuardrailIDs:     []string{"g1"},
		DeploymentConfig: *selfHostedConfig(),
	})
	steps, _, _, routes, _, _ := testSteps(store)
	routes.result = &routing.RegisterResult{RouteID: "route-1", GuardrailIDs: []string{"g1", "g2"}}

	_, err := steps.RegisterRoute(context.Background(), &model.WorkflowPayload{ModelID: "m1"})
	require.NoError(t, err)

	rec, _ := store.GetByID(context.Background(), "m1")
	assert.Equal(t, []string{"g1", "g2"}, rec.GuardrailIDs)
}

func TestApplyScheduleFailureDoesNotAbort(t *testing.T) {
	store := newFakeModelStore(&model.ModelRecord{ModelID: "m1", Status: model.StatusInService})
	steps, _, _, _, schedules, _ := testSteps(store)
	schedules.applyErr = errors.New("scheduled action rejected")

	_, err := steps.ApplySchedule(context.Background(), &model.WorkflowPayload{
		ModelID:    "m1",
		Scheduling: &model.ScheduleConfig{Type: model.ScheduleRecurringDaily},
	})
	assert.NoError(t, err, "schedule failures are best-effort in the deployment workflow")
	assert.Equal(t, 1, schedules.applied)
}

func TestMarkUpdatingStashesPreviousStatus(t *testing.T) {
	store := newFakeModelStore(&model.ModelRecord{
		ModelID:          "m1",
		Status:           model.StatusInService,
		DeploymentConfig: *selfHostedConfig(),
	})
	steps, _, _, _, _, _ := testSteps(store)

	out, err := steps.MarkUpdating(context.Background(), &model.WorkflowPayload{
		ModelID:          "m1",
		DeploymentConfig: selfHostedConfig(),
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusInService, out.PreviousStatus)
	assert.True(t, out.CreateInfra)

	rec, _ := store.GetByID(context.Background(), "m1")
	assert.Equal(t, model.StatusUpdating, rec.Status)
}

func TestMarkUpdatingRedeliveryKeepsStashedStatus(t *testing.T) {
	store := newFakeModelStore(&model.ModelRecord{
		ModelID:          "m1",
		Status:           model.StatusUpdating,
		DeploymentConfig: *selfHostedConfig(),
	})
	steps, _, _, _, _, _ := testSteps(store)

	out, err := steps.MarkUpdating(context.Background(), &model.WorkflowPayload{
		ModelID:          "m1",
		PreviousStatus:   model.StatusStopped,
		DeploymentConfig: selfHostedConfig(),
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusStopped, out.PreviousStatus, "redelivery must not overwrite the stash with UPDATING")
}

func TestMarkUpdatingToggleTransitions(t *testing.T) {
	enable := true
	disable := false

	tests := []struct {
		name    string
		status  model.Status
		target  *bool
		want    model.Status
		wantErr bool
	}{
		{name: "disable in-service", status: model.StatusInService, target: &disable, want: model.StatusStopping},
		{name: "enable stopped", status: model.StatusStopped, target: &enable, want: model.StatusStarting},
		{name: "enable in-service rejected", status: model.StatusInService, target: &enable, wantErr: true},
		{name: "disable stopped rejected", status: model.StatusStopped, target: &disable, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeModelStore(&model.ModelRecord{ModelID: "m1", Status: tt.status})
			steps, _, _, _, _, _ := testSteps(store)

			_, err := steps.MarkUpdating(context.Background(), &model.WorkflowPayload{ModelID: "m1", TargetEnabled: tt.target})
			if tt.wantErr {
				var terr *model.InvalidStateTransitionError
				assert.ErrorAs(t, err, &terr)
				return
			}
			require.NoError(t, err)
			rec, _ := store.GetByID(context.Background(), "m1")
			assert.Equal(t, tt.want, rec.Status)
		})
	}
}

func TestSetGroupCapacity(t *testing.T) {
	enable := true
	disable := false

	store := newFakeModelStore(&model.ModelRecord{ModelID: "m1", ResourceGroup: "asg-m1"})
	steps, _, _, _, schedules, capacity := testSteps(store)
	schedules.baseline = model.Capacity{Min: 1, Max: 4, Desired: 2}

	_, err := steps.SetGroupCapacity(context.Background(), &model.WorkflowPayload{ModelID: "m1", TargetEnabled: &enable})
	require.NoError(t, err)
	assert.Equal(t, model.Capacity{Min: 1, Max: 4, Desired: 2}, capacity.set["asg-m1"])

	_, err = steps.SetGroupCapacity(context.Background(), &model.WorkflowPayload{ModelID: "m1", TargetEnabled: &disable})
	require.NoError(t, err)
	assert.Equal(t, model.Capacity{}, capacity.set["asg-m1"])
}

func TestMarkDeletingStashesResources(t *testing.T) {
	store := newFakeModelStore(&model.ModelRecord{
		ModelID:              "m1",
		Status:               model.StatusInService,
		DeploymentConfig:     *selfHostedConfig(),
		InfrastructureHandle: "stack-1",
		RouteID:              "route-1",
		ResourceGroup:        "asg-m1",
	})
	steps, _, _, _, _, _ := testSteps(store)

	out, err := steps.MarkDeleting(context.Background(), &model.WorkflowPayload{ModelID: "m1"})
	require.NoError(t, err)
	assert.Equal(t, "stack-1", out.StackHandle)
	assert.Equal(t, "route-1", out.RouteID)
	assert.Equal(t, "asg-m1", out.ResourceGroup)
	assert.True(t, out.CreateInfra)

	rec, _ := store.GetByID(context.Background(), "m1")
	assert.Equal(t, model.StatusDeleting, rec.Status)
}

func TestMarkDeletingRejectsActiveTransient(t *testing.T) {
	store := newFakeModelStore(&model.ModelRecord{ModelID: "m1", Status: model.StatusCreating})
	steps, _, _, _, _, _ := testSteps(store)

	_, err := steps.MarkDeleting(context.Background(), &model.WorkflowPayload{ModelID: "m1"})
	var terr *model.InvalidStateTransitionError
	assert.ErrorAs(t, err, &terr)
}

func TestRemoveScheduleIsFatalOnDeletePath(t *testing.T) {
	store := newFakeModelStore(&model.ModelRecord{ModelID: "m1", Status: model.StatusDeleting})
	steps, _, _, _, schedules, _ := testSteps(store)

	_, err := steps.RemoveSchedule(context.Background(), &model.WorkflowPayload{ModelID: "m1"})
	require.NoError(t, err)
	assert.Equal(t, 1, schedules.removed)
}

func TestDeregisterRouteClearsRecord(t *testing.T) {
	store := newFakeModelStore(&model.ModelRecord{ModelID: "m1", RouteID: "route-1"})
	steps, _, _, routes, _, _ := testSteps(store)

	out, err := steps.DeregisterRoute(context.Background(), &model.WorkflowPayload{ModelID: "m1", RouteID: "route-1"})
	require.NoError(t, err)
	assert.Empty(t, out.RouteID)
	assert.Equal(t, []string{"route-1"}, routes.deregistered)

	rec, _ := store.GetByID(context.Background(), "m1")
	assert.Empty(t, rec.RouteID)
}

func TestTeardownAndPollTeardown(t *testing.T) {
	steps, _, infra, _, _, _ := testSteps(newFakeModelStore())

	out, err := steps.TeardownInfra(context.Background(), &model.WorkflowPayload{ModelID: "m1", StackHandle: "stack-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"stack-1"}, infra.tornDown)
	assert.Equal(t, 42, out.PollsRemaining)

	infra.pollResult = &provision.PollResult{Done: false, PollsRemaining: 41}
	out, err = steps.PollTeardown(context.Background(), out)
	require.NoError(t, err)
	assert.True(t, out.ContinuePolling)

	infra.pollResult = &provision.PollResult{Done: true}
	out, err = steps.PollTeardown(context.Background(), out)
	require.NoError(t, err)
	assert.False(t, out.ContinuePolling)
}

func TestRemoveRecordToleratesMissing(t *testing.T) {
	steps, _, _, _, _, _ := testSteps(newFakeModelStore())

	_, err := steps.RemoveRecord(context.Background(), &model.WorkflowPayload{ModelID: "gone"})
	assert.NoError(t, err)
}

func TestHandleFailureParksModelAndTerminatesBuild(t *testing.T) {
	store := newFakeModelStore(&model.ModelRecord{ModelID: "m1", Status: model.StatusCreating})
	steps, images, _, _, _, _ := testSteps(store)

	steps.HandleFailure(context.Background(), &model.WorkflowPayload{
		ModelID:        "m1",
		BuildJobHandle: "build-1",
		FailedStep:     StepPollInfra,
		ErrorMessage:   "stack entered ROLLBACK_COMPLETE",
	})

	assert.Equal(t, []string{"build-1"}, images.terminated)
	rec, _ := store.GetByID(context.Background(), "m1")
	assert.Equal(t, model.StatusFailed, rec.Status)
	assert.Contains(t, rec.FailureReason, StepPollInfra)
	assert.Contains(t, rec.FailureReason, "ROLLBACK_COMPLETE")
}

func TestHandleFailureNeverRaises(t *testing.T) {
	store := newFakeModelStore()
	store.failStatus = errors.New("mongo unavailable")
	steps, _, _, _, _, _ := testSteps(store)

	out := steps.HandleFailure(context.Background(), &model.WorkflowPayload{ModelID: "m1", ErrorMessage: "boom"})
	assert.NotNil(t, out)
}

func TestSettledStatus(t *testing.T) {
	assert.Equal(t, model.StatusInService, settledStatus(model.StatusCreating, ""))
	assert.Equal(t, model.StatusInService, settledStatus(model.StatusStarting, ""))
	assert.Equal(t, model.StatusStopped, settledStatus(model.StatusUpdating, model.StatusStopped))
	assert.Equal(t, model.StatusInService, settledStatus(model.StatusUpdating, ""))
	assert.Equal(t, model.StatusStopped, settledStatus(model.StatusStopping, ""))
}

package workflow

import (
	"context"

	"github.com/dandantas/kestrel/internal/model"
)

// Step names, stable identifiers persisted on executions
const (
	StepMarkCreating    = "mark_creating"
	StepProvisionImage  = "provision_image"
	StepPollImage       = "poll_image"
	StepProvisionInfra  = "provision_infra"
	StepPollInfra       = "poll_infra"
	StepRegisterRoute   = "register_route"
	StepApplySchedule   = "apply_schedule"
	StepMarkUpdating    = "mark_updating"
	StepSetCapacity     = "set_capacity"
	StepMarkDeleting    = "mark_deleting"
	StepRemoveSchedule  = "remove_schedule"
	StepDeregisterRoute = "deregister_route"
	StepTeardownInfra   = "teardown_infra"
	StepPollTeardown    = "poll_teardown"
	StepRemoveRecord    = "remove_record"
)

// StepFunc is one workflow step handler
type StepFunc func(ctx context.Context, p *model.WorkflowPayload) (*model.WorkflowPayload, error)

// StepDef binds a step name to its handler and an optional skip predicate
// evaluated against the current payload right before execution
type StepDef struct {
	Name string
	Run  StepFunc
	Skip func(p *model.WorkflowPayload) bool
}

// Definition is the ordered step list of one workflow kind
type Definition struct {
	Kind  model.WorkflowKind
	Steps []StepDef
}

// FirstStep returns the name of the definition's first step
func (d *Definition) FirstStep() string {
	if len(d.Steps) == 0 {
		return ""
	}
	return d.Steps[0].Name
}

func skipWithoutInfra(p *model.WorkflowPayload) bool {
	return !p.CreateInfra
}

func skipImagePoll(p *model.WorkflowPayload) bool {
	return !p.CreateInfra || p.ImagePrebuilt
}

func skipWithoutScheduling(p *model.WorkflowPayload) bool {
	return p.Scheduling == nil
}

func skipUnlessToggle(p *model.WorkflowPayload) bool {
	return p.TargetEnabled == nil
}

// skipForToggle masks the provisioning steps out of an update that only
// flips the enabled state; toggles touch capacity, never the stack
func skipForToggle(p *model.WorkflowPayload) bool {
	return p.TargetEnabled != nil || !p.CreateInfra
}

func skipWithoutRoute(p *model.WorkflowPayload) bool {
	return p.RouteID == ""
}

func skipWithoutStack(p *model.WorkflowPayload) bool {
	return !p.CreateInfra || p.StackHandle == ""
}

// Definitions builds the three deployment workflow definitions over one
// step handler set
func Definitions(s *Steps) map[model.WorkflowKind]*Definition {
	create := &Definition{
		Kind: model.WorkflowCreate,
		Steps: []StepDef{
			{Name: StepMarkCreating, Run: s.MarkCreating},
			{Name: StepProvisionImage, Run: s.ProvisionImage, Skip: skipWithoutInfra},
			{Name: StepPollImage, Run: s.PollImage, Skip: skipImagePoll},
			{Name: StepProvisionInfra, Run: s.ProvisionInfra, Skip: skipWithoutInfra},
			{Name: StepPollInfra, Run: s.PollInfra, Skip: skipWithoutInfra},
			{Name: StepRegisterRoute, Run: s.RegisterRoute},
			{Name: StepApplySchedule, Run: s.ApplySchedule, Skip: skipWithoutScheduling},
		},
	}

	update := &Definition{
		Kind: model.WorkflowUpdate,
		Steps: []StepDef{
			{Name: StepMarkUpdating, Run: s.MarkUpdating},
			{Name: StepSetCapacity, Run: s.SetGroupCapacity, Skip: skipUnlessToggle},
			{Name: StepProvisionImage, Run: s.ProvisionImage, Skip: skipForToggle},
			{Name: StepPollImage, Run: s.PollImage, Skip: func(p *model.WorkflowPayload) bool {
				return skipForToggle(p) || p.ImagePrebuilt
			}},
			{Name: StepProvisionInfra, Run: s.ProvisionInfraUpdate, Skip: skipForToggle},
			{Name: StepPollInfra, Run: s.PollInfra, Skip: skipForToggle},
			{Name: StepRegisterRoute, Run: s.RegisterRoute},
		},
	}

	del := &Definition{
		Kind: model.WorkflowDelete,
		Steps: []StepDef{
			{Name: StepMarkDeleting, Run: s.MarkDeleting},
			{Name: StepRemoveSchedule, Run: s.RemoveSchedule},
			{Name: StepDeregisterRoute, Run: s.DeregisterRoute, Skip: skipWithoutRoute},
			{Name: StepTeardownInfra, Run: s.TeardownInfra, Skip: skipWithoutStack},
			{Name: StepPollTeardown, Run: s.PollTeardown, Skip: skipWithoutStack},
			{Name: StepRemoveRecord, Run: s.RemoveRecord},
		},
	}

	return map[model.WorkflowKind]*Definition{
		model.WorkflowCreate: create,
		model.WorkflowUpdate: update,
		model.WorkflowDelete: del,
	}
}

package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/smithy-go"

	"github.com/dandantas/kestrel/internal/model"
	"github.com/dandantas/kestrel/internal/schedule"
)

// GroupScheduler implements schedule.GroupScheduler on EC2 Auto Scaling
// groups: scheduled actions carry the compiled recurrence rules, and direct
// capacity changes go through UpdateAutoScalingGroup.
type GroupScheduler struct {
	client *autoscaling.Client
}

// NewGroupScheduler creates a new Auto Scaling group scheduler
func NewGroupScheduler(cfg aws.Config) *GroupScheduler {
	return &GroupScheduler{client: autoscaling.NewFromConfig(cfg)}
}

// PutScheduledAction creates or replaces one scheduled action. The call is
// an upsert on the action name, which makes redelivered schedule writes
// idempotent.
func (s *GroupScheduler) PutScheduledAction(ctx context.Context, group, name, recurrenceRule string, capacity model.Capacity) error {
	_, err := s.client.PutScheduledUpdateGroupAction(ctx, &autoscaling.PutScheduledUpdateGroupActionInput{
		AutoScalingGroupName: aws.String(group),
		ScheduledActionName:  aws.String(name),
		Recurrence:           aws.String(recurrenceRule),
		MinSize:              aws.Int32(int32(capacity.Min)),
		MaxSize:              aws.Int32(int32(capacity.Max)),
		DesiredCapacity:      aws.Int32(int32(capacity.Desired)),
	})
	if err != nil {
		return fmt.Errorf("failed to put scheduled action %s on group %s: %w", name, group, err)
	}
	return nil
}

// DeleteScheduledAction removes one scheduled action, reporting a missing
// action as schedule.ErrActionNotFound so callers can treat it as
// already-deleted
func (s *GroupScheduler) DeleteScheduledAction(ctx context.Context, group, name string) error {
	_, err := s.client.DeleteScheduledAction(ctx, &autoscaling.DeleteScheduledActionInput{
		AutoScalingGroupName: aws.String(group),
		ScheduledActionName:  aws.String(name),
	})
	if err != nil {
		if actionMissing(err) {
			return fmt.Errorf("scheduled action %s on group %s: %w", name, group, schedule.ErrActionNotFound)
		}
		return fmt.Errorf("failed to delete scheduled action %s on group %s: %w", name, group, err)
	}
	return nil
}

// DescribeGroup returns the group's current capacity configuration
func (s *GroupScheduler) DescribeGroup(ctx context.Context, group string) (*model.Capacity, error) {
	out, err := s.client.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: []string{group},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe group %s: %w", group, err)
	}
	if len(out.AutoScalingGroups) == 0 {
		return nil, fmt.Errorf("auto scaling group %s not found", group)
	}

	g := out.AutoScalingGroups[0]
	return &model.Capacity{
		Min:     int(aws.ToInt32(g.MinSize)),
		Max:     int(aws.ToInt32(g.MaxSize)),
		Desired: int(aws.ToInt32(g.DesiredCapacity)),
	}, nil
}

// SetCapacity applies a capacity change to the group immediately
func (s *GroupScheduler) SetCapacity(ctx context.Context, group string, capacity model.Capacity) error {
	_, err := s.client.UpdateAutoScalingGroup(ctx, &autoscaling.UpdateAutoScalingGroupInput{
		AutoScalingGroupName: aws.String(group),
		MinSize:              aws.Int32(int32(capacity.Min)),
		MaxSize:              aws.Int32(int32(capacity.Max)),
		DesiredCapacity:      aws.Int32(int32(capacity.Desired)),
	})
	if err != nil {
		return fmt.Errorf("failed to set capacity on group %s: %w", group, err)
	}
	return nil
}

// actionMissing reports whether the backend rejected the delete because the
// action does not exist
func actionMissing(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ValidationError" &&
			strings.Contains(strings.ToLower(apiErr.ErrorMessage()), "not found")
	}
	return false
}

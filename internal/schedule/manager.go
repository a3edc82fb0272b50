package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dandantas/kestrel/internal/model"
	"github.com/dandantas/kestrel/internal/recurrence"
)

// ErrActionNotFound is returned by GroupScheduler implementations when a
// scheduled action no longer exists on the resource group
var ErrActionNotFound = errors.New("scheduled action not found")

// GroupScheduler is the boundary to the resource-group scheduler backend
type GroupScheduler interface {
	PutScheduledAction(ctx context.Context, group, name, recurrenceRule string, capacity model.Capacity) error
	DeleteScheduledAction(ctx context.Context, group, name string) error
	DescribeGroup(ctx context.Context, group string) (*model.Capacity, error)
	SetCapacity(ctx context.Context, group string, capacity model.Capacity) error
}

// recordStore is the slice of the model record repository the manager needs
type recordStore interface {
	SetScheduling(ctx context.Context, modelID string, scheduling *model.ScheduleConfig) error
}

// stopCapacity is the capacity every stop action scales the group down to
var stopCapacity = model.Capacity{Min: 0, Max: 0, Desired: 0}

// Manager translates a model's schedule configuration into paired start and
// stop scheduled actions on its resource group, and keeps that action set
// consistent across create, update and delete
type Manager struct {
	scheduler GroupScheduler
	records   recordStore
}

// NewManager creates a new schedule lifecycle manager
func NewManager(scheduler GroupScheduler, records recordStore) *Manager {
	return &Manager{
		scheduler: scheduler,
		records:   records,
	}
}

// actionPair is one active period expanded into a start/stop recurrence pair
type actionPair struct {
	qualifier string
	window    model.TimeWindow
	day       recurrence.DayConstraint
}

// expandPairs fans a schedule configuration out into its action pairs, in a
// deterministic order
func expandPairs(sc *model.ScheduleConfig) ([]actionPair, error) {
	switch sc.Type {
	case model.ScheduleRecurringDaily:
		return []actionPair{{qualifier: "daily", window: *sc.Daily, day: recurrence.Daily}}, nil
	case model.ScheduleWeekdaysOnly:
		return []actionPair{{qualifier: "weekdays", window: *sc.Daily, day: recurrence.Weekdays}}, nil
	case model.ScheduleEachDay:
		var pairs []actionPair
		for _, day := range model.WeekDays {
			windows, ok := sc.Weekly[day]
			if !ok {
				continue
			}
			cronDay, err := day.CronNumber()
			if err != nil {
				return nil, err
			}
			constraint, err := recurrence.OnDay(cronDay)
			if err != nil {
				return nil, err
			}
			for i, window := range windows {
				pairs = append(pairs, actionPair{
					qualifier: fmt.Sprintf("%s-period%d", day, i+1),
					window:    window,
					day:       constraint,
				})
			}
		}
		return pairs, nil
	default:
		return nil, fmt.Errorf("schedule type %s has no action expansion", sc.Type)
	}
}

// actionName builds the deterministic scheduled action name for a model,
// period qualifier and direction
func actionName(modelID, qualifier, direction string) string {
	return fmt.Sprintf("%s-%s-%s", modelID, qualifier, direction)
}

// Apply replaces the model's scheduled action set with the one described by
// the given configuration. The previous set is deleted first, then one
// start/stop pair is created per active period. If any creation fails,
// every action created by this call is rolled back before the error is
// returned, so no partial schedule is ever left active. Success and failure
// alike are persisted on the model record; on failure the returned error
// carries the cause and the record carries lastScheduleFailed.
func (m *Manager) Apply(ctx context.Context, rec *model.ModelRecord, sc *model.ScheduleConfig) error {
	if err := sc.Validate(); err != nil {
		return m.recordFailure(ctx, rec, sc, err)
	}

	// Replace, not diff: the previous action set goes away first
	if rec.Scheduling != nil && len(rec.Scheduling.ScheduledActionIDs) > 0 {
		if err := m.deleteActions(ctx, rec.ResourceGroup, rec.Scheduling.ScheduledActionIDs); err != nil {
			return m.recordFailure(ctx, rec, sc, err)
		}
	}

	if sc.Type == model.ScheduleNone {
		sc.ScheduledActionIDs = nil
		return m.recordSuccess(ctx, rec, sc)
	}

	pairs, err := expandPairs(sc)
	if err != nil {
		return m.recordFailure(ctx, rec, sc, err)
	}

	baseline := m.baselineCapacity(ctx, rec)

	var created []string
	for _, pair := range pairs {
		startRule, err := recurrence.Compile(pair.window.Start, sc.Timezone, pair.day)
		if err != nil {
			m.rollback(ctx, rec.ResourceGroup, created)
			return m.recordFailure(ctx, rec, sc, err)
		}
		stopRule, err := recurrence.Compile(pair.window.Stop, sc.Timezone, pair.day)
		if err != nil {
			m.rollback(ctx, rec.ResourceGroup, created)
			return m.recordFailure(ctx, rec, sc, err)
		}

		startName := actionName(rec.ModelID, pair.qualifier, "start")
		if err := m.scheduler.PutScheduledAction(ctx, rec.ResourceGroup, startName, startRule, baseline); err != nil {
			m.rollback(ctx, rec.ResourceGroup, created)
			return m.recordFailure(ctx, rec, sc, fmt.Errorf("creating action %s: %w", startName, err))
		}
		created = append(created, startName)

		stopName := actionName(rec.ModelID, pair.qualifier, "stop")
		if err := m.scheduler.PutScheduledAction(ctx, rec.ResourceGroup, stopName, stopRule, stopCapacity); err != nil {
			m.rollback(ctx, rec.ResourceGroup, created)
			return m.recordFailure(ctx, rec, sc, fmt.Errorf("creating action %s: %w", stopName, err))
		}
		created = append(created, stopName)
	}

	sc.ScheduledActionIDs = created
	return m.recordSuccess(ctx, rec, sc)
}

// Remove deletes every scheduled action referenced by the model's record. An
// action the backend no longer knows about is treated as already deleted;
// any other backend error is fatal.
func (m *Manager) Remove(ctx context.Context, rec *model.ModelRecord) error {
	if rec.Scheduling == nil || len(rec.Scheduling.ScheduledActionIDs) == 0 {
		return nil
	}

	sc := rec.Scheduling
	if err := m.deleteActions(ctx, rec.ResourceGroup, sc.ScheduledActionIDs); err != nil {
		return m.recordFailure(ctx, rec, sc, err)
	}

	sc.ScheduledActionIDs = nil
	return m.recordSuccess(ctx, rec, sc)
}

// BaselineCapacity resolves the capacity a start action scales the group up
// to: the model's own configured bounds, else the group's current live
// configuration, else (1,1,1)
func (m *Manager) BaselineCapacity(ctx context.Context, rec *model.ModelRecord) model.Capacity {
	return m.baselineCapacity(ctx, rec)
}

func (m *Manager) baselineCapacity(ctx context.Context, rec *model.ModelRecord) model.Capacity {
	if rec.DeploymentConfig.Capacity != nil {
		return *rec.DeploymentConfig.Capacity
	}

	if rec.ResourceGroup != "" {
		live, err := m.scheduler.DescribeGroup(ctx, rec.ResourceGroup)
		if err != nil {
			slog.Warn("Failed to describe resource group for baseline capacity",
				"model_id", rec.ModelID,
				"resource_group", rec.ResourceGroup,
				"error", err,
			)
		} else if live != nil {
			return *live
		}
	}

	return model.Capacity{Min: 1, Max: 1, Desired: 1}
}

// deleteActions removes the named actions, tolerating ones the backend has
// already forgotten
func (m *Manager) deleteActions(ctx context.Context, group string, names []string) error {
	for _, name := range names {
		err := m.scheduler.DeleteScheduledAction(ctx, group, name)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrActionNotFound) {
			slog.Info("Scheduled action already deleted",
				"resource_group", group,
				"action", name,
			)
			continue
		}
		return fmt.Errorf("deleting action %s: %w", name, err)
	}
	return nil
}

// rollback removes actions created earlier in a failed Apply. Cleanup
// failures are logged, not returned, so the primary error is never masked.
func (m *Manager) rollback(ctx context.Context, group string, created []string) {
	for _, name := range created {
		if err := m.scheduler.DeleteScheduledAction(ctx, group, name); err != nil && !errors.Is(err, ErrActionNotFound) {
			slog.Error("Failed to roll back scheduled action",
				"resource_group", group,
				"action", name,
				"error", err,
			)
		}
	}
	if len(created) > 0 {
		slog.Warn("Rolled back partially created schedule",
			"resource_group", group,
			"actions_removed", len(created),
		)
	}
}

func (m *Manager) recordSuccess(ctx context.Context, rec *model.ModelRecord, sc *model.ScheduleConfig) error {
	sc.LastScheduleFailed = false
	sc.LastScheduleFailure = nil
	sc.RecomputeStatus()
	rec.Scheduling = sc

	if err := m.records.SetScheduling(ctx, rec.ModelID, sc); err != nil {
		return fmt.Errorf("model %s: persisting schedule state failed: %w", rec.ModelID, err)
	}
	return nil
}

func (m *Manager) recordFailure(ctx context.Context, rec *model.ModelRecord, sc *model.ScheduleConfig, cause error) error {
	sc.LastScheduleFailed = true
	sc.LastScheduleFailure = &model.ScheduleFailure{
		At:      time.Now().UTC(),
		Message: cause.Error(),
	}
	sc.RecomputeStatus()
	rec.Scheduling = sc

	if err := m.records.SetScheduling(ctx, rec.ModelID, sc); err != nil {
		slog.Error("Failed to persist schedule failure",
			"model_id", rec.ModelID,
			"error", err,
		)
	}

	return fmt.Errorf("model %s: schedule update failed: %w", rec.ModelID, cause)
}

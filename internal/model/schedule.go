package model

import (
	"errors"
	"fmt"
	"time"
)

// ScheduleType represents the kind of start/stop schedule attached to a model
type ScheduleType string

const (
	ScheduleNone           ScheduleType = "NONE"
	ScheduleRecurringDaily ScheduleType = "RECURRING_DAILY"
	ScheduleWeekdaysOnly   ScheduleType = "WEEKDAYS_ONLY"
	ScheduleEachDay        ScheduleType = "EACH_DAY"
)

// IsValid reports whether the schedule type is known
func (t ScheduleType) IsValid() bool {
	switch t {
	case ScheduleNone, ScheduleRecurringDaily, ScheduleWeekdaysOnly, ScheduleEachDay:
		return true
	}
	return false
}

// DayOfWeek represents a day in a weekly schedule
type DayOfWeek string

const (
	Monday    DayOfWeek = "monday"
	Tuesday   DayOfWeek = "tuesday"
	Wednesday DayOfWeek = "wednesday"
	Thursday  DayOfWeek = "thursday"
	Friday    DayOfWeek = "friday"
	Saturday  DayOfWeek = "saturday"
	Sunday    DayOfWeek = "sunday"
)

// WeekDays lists all days in a fixed order, so schedule expansion is
// deterministic regardless of map iteration order
var WeekDays = []DayOfWeek{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

// cronNumbers maps days to standard cron day-of-week numbers (Sunday = 0)
var cronNumbers = map[DayOfWeek]int{
	Sunday:    0,
	Monday:    1,
	Tuesday:   2,
	Wednesday: 3,
	Thursday:  4,
	Friday:    5,
	Saturday:  6,
}

// CronNumber returns the cron day-of-week number for the day
func (d DayOfWeek) CronNumber() (int, error) {
	n, ok := cronNumbers[d]
	if !ok {
		return 0, fmt.Errorf("unknown day of week: %s", d)
	}
	return n, nil
}

// TimeWindow represents one active period bounded by local start and stop
// times in "HH:MM" format
type TimeWindow struct {
	Start string `json:"start" bson:"start"`
	Stop  string `json:"stop" bson:"stop"`
}

// Validate validates both clock times of the window
func (w *TimeWindow) Validate() error {
	for _, t := range []string{w.Start, w.Stop} {
		if _, err := time.Parse("15:04", t); err != nil {
			return fmt.Errorf("invalid clock time %q: expected HH:MM", t)
		}
	}
	return nil
}

// ScheduleFailure records the most recent schedule mutation failure
type ScheduleFailure struct {
	At      time.Time `json:"at" bson:"at"`
	Message string    `json:"message" bson:"message"`
}

// ScheduleConfig is the embedded schedule sub-document of a model record
type ScheduleConfig struct {
	Type                ScheduleType               `json:"schedule_type" bson:"schedule_type"`
	Timezone            string                     `json:"timezone,omitempty" bson:"timezone,omitempty"`
	Daily               *TimeWindow                `json:"daily_schedule,omitempty" bson:"daily_schedule,omitempty"`
	Weekly              map[DayOfWeek][]TimeWindow `json:"weekly_schedule,omitempty" bson:"weekly_schedule,omitempty"`
	ScheduledActionIDs  []string                   `json:"scheduled_action_ids,omitempty" bson:"scheduled_action_ids,omitempty"`
	ScheduleEnabled     bool                       `json:"schedule_enabled" bson:"schedule_enabled"`
	ScheduleConfigured  bool                       `json:"schedule_configured" bson:"schedule_configured"`
	LastScheduleFailed  bool                       `json:"last_schedule_failed" bson:"last_schedule_failed"`
	LastScheduleFailure *ScheduleFailure           `json:"last_schedule_failure,omitempty" bson:"last_schedule_failure,omitempty"`
}

// Validate validates the schedule configuration
func (sc *ScheduleConfig) Validate() error {
	if !sc.Type.IsValid() {
		return fmt.Errorf("invalid schedule type: %s", sc.Type)
	}
	if sc.Type == ScheduleNone {
		return nil
	}

	if sc.Timezone == "" {
		return errors.New("timezone is required")
	}
	if _, err := time.LoadLocation(sc.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", sc.Timezone, err)
	}

	switch sc.Type {
	case ScheduleRecurringDaily, ScheduleWeekdaysOnly:
		if sc.Daily == nil {
			return fmt.Errorf("daily schedule is required for type %s", sc.Type)
		}
		if err := sc.Daily.Validate(); err != nil {
			return err
		}
	case ScheduleEachDay:
		if len(sc.Weekly) == 0 {
			return errors.New("weekly schedule is required for type EACH_DAY")
		}
		for day, windows := range sc.Weekly {
			if _, err := day.CronNumber(); err != nil {
				return err
			}
			if len(windows) == 0 {
				return fmt.Errorf("day %s has no active periods", day)
			}
			for i := range windows {
				if err := windows[i].Validate(); err != nil {
					return fmt.Errorf("day %s period %d: %w", day, i+1, err)
				}
			}
		}
	}

	return nil
}

// RecomputeStatus recalculates the derived status flags. Called after every
// schedule mutation so the flags always reflect the registered action set.
func (sc *ScheduleConfig) RecomputeStatus() {
	sc.ScheduleConfigured = sc.Type != "" && sc.Type != ScheduleNone
	sc.ScheduleEnabled = sc.ScheduleConfigured && len(sc.ScheduledActionIDs) > 0 && !sc.LastScheduleFailed
}

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScheduleConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		sc      ScheduleConfig
		wantErr bool
	}{
		{
			name: "none needs nothing else",
			sc:   ScheduleConfig{Type: ScheduleNone},
		},
		{
			name:    "unknown type rejected",
			sc:      ScheduleConfig{Type: "HOURLY"},
			wantErr: true,
		},
		{
			name:    "timezone required",
			sc:      ScheduleConfig{Type: ScheduleRecurringDaily, Daily: &TimeWindow{Start: "09:00", Stop: "18:00"}},
			wantErr: true,
		},
		{
			name:    "bogus timezone rejected",
			sc:      ScheduleConfig{Type: ScheduleRecurringDaily, Timezone: "Mars/Olympus", Daily: &TimeWindow{Start: "09:00", Stop: "18:00"}},
			wantErr: true,
		},
		{
			name: "valid daily",
			sc:   ScheduleConfig{Type: ScheduleRecurringDaily, Timezone: "America/New_York", Daily: &TimeWindow{Start: "09:00", Stop: "18:00"}},
		},
		{
			name:    "daily window required for weekdays type",
			sc:      ScheduleConfig{Type: ScheduleWeekdaysOnly, Timezone: "UTC"},
			wantErr: true,
		},
		{
			name:    "bad clock time rejected",
			sc:      ScheduleConfig{Type: ScheduleRecurringDaily, Timezone: "UTC", Daily: &TimeWindow{Start: "9am", Stop: "18:00"}},
			wantErr: true,
		},
		{
			name: "valid per-day with multiple windows",
			sc: ScheduleConfig{
				Type:     ScheduleEachDay,
				Timezone: "UTC",
				Weekly: map[DayOfWeek][]TimeWindow{
					Monday: {{Start: "08:00", Stop: "12:00"}, {Start: "14:00", Stop: "18:00"}},
				},
			},
		},
		{
			name: "per-day with empty window list rejected",
			sc: ScheduleConfig{
				Type:     ScheduleEachDay,
				Timezone: "UTC",
				Weekly:   map[DayOfWeek][]TimeWindow{Monday: {}},
			},
			wantErr: true,
		},
		{
			name: "unknown day rejected",
			sc: ScheduleConfig{
				Type:     ScheduleEachDay,
				Timezone: "UTC",
				Weekly:   map[DayOfWeek][]TimeWindow{"someday": {{Start: "08:00", Stop: "12:00"}}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sc.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRecomputeStatus(t *testing.T) {
	sc := ScheduleConfig{Type: ScheduleRecurringDaily, ScheduledActionIDs: []string{"a-start", "a-stop"}}
	sc.RecomputeStatus()
	assert.True(t, sc.ScheduleConfigured)
	assert.True(t, sc.ScheduleEnabled)

	sc.LastScheduleFailed = true
	sc.RecomputeStatus()
	assert.True(t, sc.ScheduleConfigured)
	assert.False(t, sc.ScheduleEnabled)

	none := ScheduleConfig{Type: ScheduleNone}
	none.RecomputeStatus()
	assert.False(t, none.ScheduleConfigured)
	assert.False(t, none.ScheduleEnabled)

	unregistered := ScheduleConfig{Type: ScheduleEachDay}
	unregistered.RecomputeStatus()
	assert.True(t, unregistered.ScheduleConfigured)
	assert.False(t, unregistered.ScheduleEnabled)
}

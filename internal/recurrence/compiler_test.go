package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixNow pins the compile anchor to a winter date, when New York sits at
// UTC-5 and Sao Paulo at UTC-3
func fixNow(t *testing.T) {
	t.Helper()
	original := timeNow
	timeNow = func() time.Time {
		return time.Date(2026, time.January, 15, 12, 0, 0, 0, time.UTC)
	}
	t.Cleanup(func() { timeNow = original })
}

func TestCompileDaily(t *testing.T) {
	fixNow(t)

	rule, err := Compile("09:00", "America/New_York", Daily)
	require.NoError(t, err)
	assert.Equal(t, "0 14 * * *", rule)
}

func TestCompileWeekdays(t *testing.T) {
	fixNow(t)

	rule, err := Compile("18:30", "America/Sao_Paulo", Weekdays)
	require.NoError(t, err)
	assert.Equal(t, "30 21 * * 1-5", rule)
}

func TestCompileSingleDay(t *testing.T) {
	fixNow(t)

	day, err := OnDay(1)
	require.NoError(t, err)

	rule, err := Compile("00:15", "UTC", day)
	require.NoError(t, err)
	assert.Equal(t, "15 0 * * 1", rule)
}

func TestCompileUTCPassthrough(t *testing.T) {
	fixNow(t)

	rule, err := Compile("23:45", "UTC", Daily)
	require.NoError(t, err)
	assert.Equal(t, "45 23 * * *", rule)
}

func TestCompileIsDeterministic(t *testing.T) {
	fixNow(t)

	first, err := Compile("09:00", "America/New_York", Daily)
	require.NoError(t, err)

	second, err := Compile("09:00", "America/New_York", Daily)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCompileZeroConstraintDefaultsToDaily(t *testing.T) {
	fixNow(t)

	rule, err := Compile("08:00", "UTC", DayConstraint{})
	require.NoError(t, err)
	assert.Equal(t, "0 8 * * *", rule)
}

func TestCompileInvalidClockTime(t *testing.T) {
	_, err := Compile("9am", "UTC", Daily)
	assert.Error(t, err)

	_, err = Compile("25:00", "UTC", Daily)
	assert.Error(t, err)
}

func TestCompileInvalidTimezone(t *testing.T) {
	_, err := Compile("09:00", "Mars/Olympus_Mons", Daily)
	assert.Error(t, err)
}

func TestOnDayRange(t *testing.T) {
	for day := 0; day <= 6; day++ {
		_, err := OnDay(day)
		assert.NoError(t, err)
	}

	_, err := OnDay(-1)
	assert.Error(t, err)

	_, err = OnDay(7)
	assert.Error(t, err)
}

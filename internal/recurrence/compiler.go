package recurrence

import (
	"fmt"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
)

// timeNow is swappable in tests so compiled rules are deterministic
var timeNow = time.Now

// parser validates every compiled rule against the standard five-field
// cron grammar before it leaves this package
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// DayConstraint selects the day-of-week field of a compiled recurrence rule
type DayConstraint struct {
	spec string
}

var (
	// Daily fires every day
	Daily = DayConstraint{spec: "*"}
	// Weekdays fires Monday through Friday
	Weekdays = DayConstraint{spec: "1-5"}
)

// OnDay fires on a single cron day-of-week number (Sunday = 0)
func OnDay(cronDay int) (DayConstraint, error) {
	if cronDay < 0 || cronDay > 6 {
		return DayConstraint{}, fmt.Errorf("day-of-week number out of range: %d", cronDay)
	}
	return DayConstraint{spec: strconv.Itoa(cronDay)}, nil
}

// Compile converts a local wall-clock time in an IANA timezone into a
// five-field UTC cron recurrence rule ("minute hour * * dayspec").
//
// The conversion anchors on today's date in the given zone: a schedule that
// straddles a DST transition keeps the offset in effect at compile time and
// does not re-shift afterwards. Known limitation, kept intentionally.
func Compile(localTime, timezone string, day DayConstraint) (string, error) {
	clock, err := time.Parse("15:04", localTime)
	if err != nil {
		return "", fmt.Errorf("invalid clock time %q: expected HH:MM", localTime)
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return "", fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}

	if day.spec == "" {
		day = Daily
	}

	now := timeNow().In(loc)
	local := time.Date(now.Year(), now.Month(), now.Day(), clock.Hour(), clock.Minute(), 0, 0, loc)
	utc := local.UTC()

	rule := fmt.Sprintf("%d %d * * %s", utc.Minute(), utc.Hour(), day.spec)

	if _, err := parser.Parse(rule); err != nil {
		return "", fmt.Errorf("compiled recurrence %q failed validation: %w", rule, err)
	}

	return rule, nil
}

package schedule

import (
	"fmt"

	"habitcal/internal/tzclock"
)

const minutesPerDay = 24 * 60

// AddMinutes advances c by minutes of wall-clock time. Whole days are carried
// through the zone so month-end, leap years and the weekday stay correct.
func AddMinutes(c tzclock.CivilDateTime, minutes int, zone tzclock.Zone) (tzclock.CivilDateTime, error) {
	if minutes < 0 {
		return tzclock.CivilDateTime{}, fmt.Errorf("%w: %d minutes", ErrInvalidDuration, minutes)
	}
	total := c.MinuteOfDay() + minutes
	days := total / minutesPerDay
	rem := total % minutesPerDay

	if days == 0 {
		return c.At(rem/60, rem%60), nil
	}
	return zone.AddDays(c, days).At(rem/60, rem%60), nil
}

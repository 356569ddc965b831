package schedule

import (
	"fmt"
	"time"

	"habitcal/internal/recurrence"
	"habitcal/internal/tzclock"
)

// NextOccurrence returns the first wall-clock slot at timeOfDay in zone that
// is strictly after now's minute, optionally restricted to the given
// weekdays.
//
// A slot equal to the current minute counts as passed: the habit starts
// tomorrow (or on the next matching weekday), never right now.
func NextOccurrence(now time.Time, timeOfDay string, weekdays []recurrence.DayCode, zone tzclock.Zone) (tzclock.CivilDateTime, error) {
	hour, minute, err := ParseTimeOfDay(timeOfDay)
	if err != nil {
		return tzclock.CivilDateTime{}, err
	}
	targets := make([]int, 0, len(weekdays))
	for _, d := range weekdays {
		n, ok := d.Weekday()
		if !ok {
			return tzclock.CivilDateTime{}, fmt.Errorf("%w: unknown weekday code %q", recurrence.ErrInvalidRecurrence, d)
		}
		targets = append(targets, n)
	}

	today := zone.CivilFromInstant(now)
	passed := today.MinuteOfDay() >= hour*60+minute

	if len(targets) == 0 {
		if passed {
			return zone.AddDays(today, 1).At(hour, minute), nil
		}
		return today.At(hour, minute), nil
	}

	return zone.AddDays(today, daysUntilNext(today.Weekday, targets, passed)).At(hour, minute), nil
}

// daysUntilNext picks the nearest listed weekday. Today only counts while
// its slot has not passed; otherwise the same weekday is a week away.
func daysUntilNext(today int, targets []int, passed bool) int {
	best := 8
	for _, wd := range targets {
		d := (wd - today + 7) % 7
		if d == 0 && passed {
			d = 7
		}
		if d < best {
			best = d
		}
	}
	return best
}

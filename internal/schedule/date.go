package schedule

import (
	"fmt"
	"strings"
	"time"

	"habitcal/internal/tzclock"
)

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

var monthDayLayouts = []string{
	"January 2, 2006",
	"Jan 2, 2006",
	"January 2 2006",
	"Jan 2 2006",
}

var monthDayNoYearLayouts = []string{
	"January 2",
	"Jan 2",
}

// NormalizeDate turns a user-supplied date into a civil date (00:00) in
// zone. Accepted forms:
//
//   - YYYY-MM-DD
//   - "today", "tomorrow"
//   - a weekday name ("friday"): the next such day, today included
//   - "[Weekday, ]Month D[, YYYY]": without a year the next such date on or
//     after today; a weekday that contradicts the date is an error
//
// Anything else fails with ErrInvalidDate. There is no fallback to "now".
func NormalizeDate(input string, now time.Time, zone tzclock.Zone) (tzclock.CivilDateTime, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return tzclock.CivilDateTime{}, fmt.Errorf("%w: empty", ErrInvalidDate)
	}
	today := zone.CivilFromInstant(now).At(0, 0)

	switch strings.ToLower(s) {
	case "today":
		return today, nil
	case "tomorrow":
		return zone.AddDays(today, 1), nil
	}

	if c, err := parseISODate(s, zone); err == nil {
		return c, nil
	}

	wantWeekday, rest, hasWeekday := splitWeekday(s)
	if hasWeekday && rest == "" {
		d := (int(wantWeekday) - today.Weekday + 7) % 7
		return zone.AddDays(today, d), nil
	}

	c, err := parseMonthDay(rest, today, zone)
	if err != nil {
		return tzclock.CivilDateTime{}, fmt.Errorf("%w: %q", ErrInvalidDate, input)
	}
	if hasWeekday && c.Weekday != int(wantWeekday) {
		return tzclock.CivilDateTime{}, fmt.Errorf("%w: %q is a %s", ErrInvalidDate, input, time.Weekday(c.Weekday))
	}
	return c, nil
}

func parseISODate(s string, zone tzclock.Zone) (tzclock.CivilDateTime, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return tzclock.CivilDateTime{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return civilDate(t.Year(), t.Month(), t.Day(), zone), nil
}

func civilDate(year int, month time.Month, day int, zone tzclock.Zone) tzclock.CivilDateTime {
	noon := zone.InstantFromCivil(tzclock.CivilDateTime{Year: year, Month: int(month), Day: day, Hour: 12})
	return zone.CivilFromInstant(noon).At(0, 0)
}

// splitWeekday strips a leading weekday name ("Wednesday," or "wed ").
func splitWeekday(s string) (time.Weekday, string, bool) {
	head, tail, _ := strings.Cut(s, " ")
	head = strings.TrimSuffix(strings.ToLower(head), ",")
	wd, ok := weekdayNames[head]
	if !ok {
		return 0, s, false
	}
	return wd, strings.TrimSpace(tail), true
}

func parseMonthDay(s string, today tzclock.CivilDateTime, zone tzclock.Zone) (tzclock.CivilDateTime, error) {
	for _, layout := range monthDayLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return civilDate(t.Year(), t.Month(), t.Day(), zone), nil
		}
	}
	for _, layout := range monthDayNoYearLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		// Feb 29 only exists in some years; take the first valid one that is
		// not in the past.
		for year := today.Year; year <= today.Year+4; year++ {
			c := civilDate(year, t.Month(), t.Day(), zone)
			if c.Month != int(t.Month()) || c.Day != t.Day() {
				continue
			}
			if year == today.Year && before(c, today) {
				continue
			}
			return c, nil
		}
	}
	return tzclock.CivilDateTime{}, ErrInvalidDate
}

func before(a, b tzclock.CivilDateTime) bool {
	if a.Year != b.Year {
		return a.Year < b.Year
	}
	if a.Month != b.Month {
		return a.Month < b.Month
	}
	return a.Day < b.Day
}

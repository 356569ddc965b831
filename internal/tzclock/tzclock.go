// Package tzclock converts between absolute instants and civil date/time
// fields for a named IANA timezone.
//
// It is the only package that resolves timezone names. Everything above it
// works on CivilDateTime values plus a Zone, never on a time.Time whose
// Location happens to be the server's.
package tzclock

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidTimezone is returned when a zone name is not in the timezone
// database.
var ErrInvalidTimezone = errors.New("invalid timezone")

// CivilDateTime is a calendar date and minute-resolution time of day as read
// on a wall clock in some zone. The zone is carried separately.
type CivilDateTime struct {
	Year   int `json:"year"`
	Month  int `json:"month"`
	Day    int `json:"day"`
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
	// Weekday is 0=Sunday..6=Saturday, always derived from Year/Month/Day.
	Weekday int `json:"weekday"`
}

// MinuteOfDay returns Hour*60+Minute.
func (c CivilDateTime) MinuteOfDay() int {
	return c.Hour*60 + c.Minute
}

// At returns a copy of c with the time of day replaced. The date and weekday
// are unchanged.
func (c CivilDateTime) At(hour, minute int) CivilDateTime {
	c.Hour = hour
	c.Minute = minute
	return c
}

// String formats c as YYYY-MM-DDTHH:MM:00 with no offset, the form calendar
// providers accept alongside a separate timezone field.
func (c CivilDateTime) String() string {
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:00", c.Year, c.Month, c.Day, c.Hour, c.Minute)
}

// ParseCivil parses the offset-free forms calendar providers return:
// "2006-01-02T15:04:05", "2006-01-02T15:04" or a plain "2006-01-02".
// Values carrying an offset are rejected; use time.Parse and
// CivilFromInstant for those.
func ParseCivil(s string) (CivilDateTime, error) {
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02"} {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		// The weekday of a calendar date does not depend on the zone.
		return CivilDateTime{
			Year:    t.Year(),
			Month:   int(t.Month()),
			Day:     t.Day(),
			Hour:    t.Hour(),
			Minute:  t.Minute(),
			Weekday: int(t.Weekday()),
		}, nil
	}
	return CivilDateTime{}, fmt.Errorf("tzclock: not a civil date-time: %q", s)
}

// Zone is a resolved IANA timezone.
type Zone struct {
	name string
	loc  *time.Location
}

// Load resolves name against the timezone database. Empty names and "Local"
// are rejected: the caller must always say which zone it means.
func Load(name string) (Zone, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "Local" {
		return Zone{}, fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return Zone{}, fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	return Zone{name: name, loc: loc}, nil
}

// Name returns the IANA name the zone was loaded from.
func (z Zone) Name() string { return z.name }

// Location exposes the underlying location for libraries that need one
// (recurrence expansion, iCalendar rendering).
func (z Zone) Location() *time.Location { return z.loc }

// CivilFromInstant returns the wall-clock fields of t in z. Seconds are
// truncated.
func (z Zone) CivilFromInstant(t time.Time) CivilDateTime {
	lt := t.In(z.loc)
	return CivilDateTime{
		Year:    lt.Year(),
		Month:   int(lt.Month()),
		Day:     lt.Day(),
		Hour:    lt.Hour(),
		Minute:  lt.Minute(),
		Weekday: int(lt.Weekday()),
	}
}

// InstantFromCivil returns the instant at which the wall clock in z shows c.
// A wall time skipped by a spring-forward transition is read with the
// offset in force before the gap (RFC 5545 3.3.5), so 02:30 on a night
// that jumps from 02:00 to 03:00 becomes 03:30.
func (z Zone) InstantFromCivil(c CivilDateTime) time.Time {
	t := time.Date(c.Year, time.Month(c.Month), c.Day, c.Hour, c.Minute, 0, 0, z.loc)
	lt := t.In(z.loc)
	if lt.Year() == c.Year && int(lt.Month()) == c.Month && lt.Day() == c.Day &&
		lt.Hour() == c.Hour && lt.Minute() == c.Minute {
		return t
	}
	// No zone moves its clocks twice within a day.
	_, before := t.Add(-24 * time.Hour).In(z.loc).Zone()
	wall := time.Date(c.Year, time.Month(c.Month), c.Day, c.Hour, c.Minute, 0, 0, time.UTC)
	return wall.Add(-time.Duration(before) * time.Second).In(z.loc)
}

// AddDays advances the date of c by n days and keeps its time of day. The
// new date is read back at local noon so that DST transitions near midnight
// can never move it, and month/year rollover and the weekday come from the
// zone rules.
func (z Zone) AddDays(c CivilDateTime, n int) CivilDateTime {
	noon := time.Date(c.Year, time.Month(c.Month), c.Day+n, 12, 0, 0, 0, z.loc)
	return z.CivilFromInstant(noon).At(c.Hour, c.Minute)
}

// Package schedule turns a structured habit request into its first concrete
// calendar occurrence and recurrence rule.
//
// Everything here is pure: the caller reads "now" once and passes it in, and
// identical inputs always produce identical output.
package schedule

import (
	"fmt"
	"time"

	"habitcal/internal/recurrence"
	"habitcal/internal/tzclock"
)

// DefaultDurationMinutes is used when a request leaves the duration unset.
const DefaultDurationMinutes = 60

// Request is a habit described in human terms.
type Request struct {
	Activity    string `json:"activity"`
	Description string `json:"description,omitempty"`
	// StartTimeOfDay is "HH:MM" in Timezone.
	StartTimeOfDay  string              `json:"start_time"`
	DurationMinutes int                 `json:"duration_minutes,omitempty"`
	Recurrence      *recurrence.Pattern `json:"recurrence,omitempty"`
	Timezone        string              `json:"timezone"`
}

// Occurrence is the first concrete instance of a habit plus the rule that
// repeats it. Start and End are civil times in Timezone.
type Occurrence struct {
	Start           tzclock.CivilDateTime `json:"start"`
	End             tzclock.CivilDateTime `json:"end"`
	DurationMinutes int                   `json:"duration_minutes"`
	Timezone        string                `json:"timezone"`
	// RecurrenceRule holds at most one RRULE line; empty means a single event.
	RecurrenceRule []string `json:"recurrence"`
}

// Schedule computes the first occurrence of req at or after now.
//
// Weekdays only constrain the first occurrence for weekly habits. A weekly
// pattern without weekdays is legal and is passed to the rule builder as is,
// so the event repeats on the weekday of its first occurrence.
func Schedule(req Request, now time.Time) (Occurrence, error) {
	if _, _, err := ParseTimeOfDay(req.StartTimeOfDay); err != nil {
		return Occurrence{}, err
	}
	duration, err := durationOrDefault(req.DurationMinutes)
	if err != nil {
		return Occurrence{}, err
	}
	rules, err := recurrence.BuildChecked(req.Recurrence)
	if err != nil {
		return Occurrence{}, err
	}
	zone, err := tzclock.Load(req.Timezone)
	if err != nil {
		return Occurrence{}, err
	}

	var days []recurrence.DayCode
	if req.Recurrence != nil && req.Recurrence.Type == recurrence.Weekly {
		days = req.Recurrence.DaysOfWeek
	}

	start, err := NextOccurrence(now, req.StartTimeOfDay, days, zone)
	if err != nil {
		return Occurrence{}, err
	}
	end, err := AddMinutes(start, duration, zone)
	if err != nil {
		return Occurrence{}, err
	}

	return Occurrence{
		Start:           start,
		End:             end,
		DurationMinutes: duration,
		Timezone:        zone.Name(),
		RecurrenceRule:  rules,
	}, nil
}

// SingleRequest is an ad-hoc, non-repeating event on a known date.
type SingleRequest struct {
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	// Date is YYYY-MM-DD in Timezone.
	Date            string `json:"date"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	Timezone        string `json:"timezone"`
}

// ScheduleOn places a single event on req.Date. It never repeats.
func ScheduleOn(req SingleRequest) (Occurrence, error) {
	hour, minute, err := ParseTimeOfDay(req.StartTime)
	if err != nil {
		return Occurrence{}, err
	}
	duration, err := durationOrDefault(req.DurationMinutes)
	if err != nil {
		return Occurrence{}, err
	}
	zone, err := tzclock.Load(req.Timezone)
	if err != nil {
		return Occurrence{}, err
	}
	day, err := parseISODate(req.Date, zone)
	if err != nil {
		return Occurrence{}, err
	}

	start := day.At(hour, minute)
	end, err := AddMinutes(start, duration, zone)
	if err != nil {
		return Occurrence{}, err
	}
	return Occurrence{
		Start:           start,
		End:             end,
		DurationMinutes: duration,
		Timezone:        zone.Name(),
		RecurrenceRule:  []string{},
	}, nil
}

func durationOrDefault(minutes int) (int, error) {
	switch {
	case minutes < 0:
		return 0, fmt.Errorf("%w: %d minutes", ErrInvalidDuration, minutes)
	case minutes == 0:
		return DefaultDurationMinutes, nil
	default:
		return minutes, nil
	}
}

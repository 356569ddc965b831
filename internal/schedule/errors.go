package schedule

import "errors"

var (
	// ErrInvalidTimeOfDay is returned for a start time that is not HH:MM
	// within 00:00..23:59.
	ErrInvalidTimeOfDay = errors.New("invalid time of day")
	// ErrInvalidDuration is returned for a negative duration.
	ErrInvalidDuration = errors.New("invalid duration")
	// ErrInvalidDate is returned when a calendar date cannot be normalized.
	ErrInvalidDate = errors.New("invalid date")
)

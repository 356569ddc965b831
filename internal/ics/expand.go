package ics

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"habitcal/internal/tzclock"
)

const (
	defaultMaxStarts = 5000
)

// Series is a possibly repeating event anchored at a civil start in Zone.
type Series struct {
	Start tzclock.CivilDateTime
	Zone  tzclock.Zone
	// Rules holds RRULE lines ("RRULE:FREQ=..."); empty for a single event.
	Rules []string
}

// Starts returns up to limit start instants of s at or after from, in
// chronological order. Expansion runs in the series' zone, so a 07:00 habit
// stays at 07:00 local across DST changes. On a day whose start time falls
// in a spring-forward gap the instance moves past the gap, and the days
// after it return to the original wall time.
//
// Only the first rule is honored; the scheduler never emits more than one.
func Starts(s Series, from time.Time, limit int) ([]time.Time, error) {
	if limit <= 0 || limit > defaultMaxStarts {
		limit = defaultMaxStarts
	}
	dtstart := s.Zone.InstantFromCivil(s.Start)

	if len(s.Rules) == 0 {
		if dtstart.Before(from) {
			return []time.Time{}, nil
		}
		return []time.Time{dtstart}, nil
	}

	opt, err := rrule.StrToROption(strings.TrimPrefix(s.Rules[0], "RRULE:"))
	if err != nil {
		return nil, fmt.Errorf("ics: parse rule %q: %w", s.Rules[0], err)
	}
	opt.Dtstart = dtstart
	// Pin the wall time; dtstart itself may have been pushed past a gap.
	opt.Byhour = []int{s.Start.Hour}
	opt.Byminute = []int{s.Start.Minute}
	opt.Bysecond = []int{0}
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("ics: build rule %q: %w", s.Rules[0], err)
	}

	out := make([]time.Time, 0, min(limit, 16))
	// DTSTART is always the first instance.
	if !dtstart.Before(from) {
		out = append(out, dtstart)
	}
	for t := r.After(from, true); !t.IsZero() && len(out) < limit; t = r.After(t, false) {
		at := s.Zone.InstantFromCivil(s.Zone.CivilFromInstant(t).At(s.Start.Hour, s.Start.Minute))
		if !at.After(dtstart) {
			continue
		}
		out = append(out, at)
	}
	return out, nil
}

// Preview returns the civil starts of the first n occurrences of s, at or
// after its own start.
func Preview(s Series, n int) ([]tzclock.CivilDateTime, error) {
	if n <= 0 {
		return nil, errors.New("ics: preview count must be positive")
	}
	starts, err := Starts(s, s.Zone.InstantFromCivil(s.Start), n)
	if err != nil {
		return nil, err
	}
	out := make([]tzclock.CivilDateTime, 0, len(starts))
	for _, t := range starts {
		out = append(out, s.Zone.CivilFromInstant(t))
	}
	return out, nil
}

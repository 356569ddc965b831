package recurrence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/teambition/rrule-go"
)

// ErrInvalidRecurrence is returned for patterns that cannot be turned into a
// rule: unknown frequency, unknown weekday codes, or a non-positive interval.
var ErrInvalidRecurrence = errors.New("invalid recurrence")

// FrequencyType is the semantic frequency of a habit.
type FrequencyType string

const (
	Daily    FrequencyType = "daily"
	Weekly   FrequencyType = "weekly"
	Biweekly FrequencyType = "biweekly"
	Monthly  FrequencyType = "monthly"
)

// DayCode is a two-letter weekday code as used in BYDAY.
type DayCode string

const (
	MO DayCode = "MO"
	TU DayCode = "TU"
	WE DayCode = "WE"
	TH DayCode = "TH"
	FR DayCode = "FR"
	SA DayCode = "SA"
	SU DayCode = "SU"
)

var dayNumbers = map[DayCode]int{SU: 0, MO: 1, TU: 2, WE: 3, TH: 4, FR: 5, SA: 6}

// Weekday returns the day number (0=Sunday) for d.
func (d DayCode) Weekday() (int, bool) {
	n, ok := dayNumbers[d]
	return n, ok
}

// Pattern describes how a habit repeats.
//
// DaysOfWeek is only meaningful for Weekly. Interval is ignored for
// Biweekly, which is always every second week.
type Pattern struct {
	Type       FrequencyType `json:"type" yaml:"type"`
	DaysOfWeek []DayCode     `json:"days_of_week,omitempty" yaml:"days_of_week,omitempty"`
	Interval   int           `json:"interval,omitempty" yaml:"interval,omitempty"`
}

// Validate checks p without building anything. A nil pattern is valid and
// means "does not repeat".
func Validate(p *Pattern) error {
	if p == nil {
		return nil
	}
	switch p.Type {
	case Daily, Weekly, Biweekly, Monthly:
	default:
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidRecurrence, p.Type)
	}
	if p.Interval < 0 {
		return fmt.Errorf("%w: interval must be positive, got %d", ErrInvalidRecurrence, p.Interval)
	}
	for _, d := range p.DaysOfWeek {
		if _, ok := d.Weekday(); !ok {
			return fmt.Errorf("%w: unknown weekday code %q", ErrInvalidRecurrence, d)
		}
	}
	return nil
}

// Build returns the recurrence list for p: exactly one
// "RRULE:FREQ=...[;INTERVAL=n][;BYDAY=...]" string, or an empty list for a
// nil pattern. The caller is expected to have run Validate.
func Build(p *Pattern) []string {
	if p == nil {
		return []string{}
	}

	var freq string
	interval := p.Interval
	switch p.Type {
	case Daily:
		freq = "DAILY"
	case Weekly:
		freq = "WEEKLY"
	case Biweekly:
		freq = "WEEKLY"
		interval = 2
	case Monthly:
		freq = "MONTHLY"
	}

	var b strings.Builder
	b.WriteString("RRULE:FREQ=")
	b.WriteString(freq)
	if interval > 0 {
		b.WriteString(";INTERVAL=")
		b.WriteString(strconv.Itoa(interval))
	}
	if p.Type == Weekly && len(p.DaysOfWeek) > 0 {
		b.WriteString(";BYDAY=")
		b.WriteString(strings.Join(dedupe(p.DaysOfWeek), ","))
	}
	return []string{b.String()}
}

// BuildChecked validates p, builds its rule and confirms the result parses
// as an RFC 5545 rule.
func BuildChecked(p *Pattern) ([]string, error) {
	if err := Validate(p); err != nil {
		return nil, err
	}
	rules := Build(p)
	for _, r := range rules {
		if _, err := rrule.StrToROption(strings.TrimPrefix(r, "RRULE:")); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRecurrence, r, err)
		}
	}
	return rules, nil
}

// Describe returns a short human phrase for p, e.g. "every week on MO, WE".
func Describe(p *Pattern) string {
	if p == nil {
		return "once"
	}
	switch p.Type {
	case Daily:
		return "every day"
	case Weekly:
		if len(p.DaysOfWeek) > 0 {
			return "every week on " + strings.Join(dedupe(p.DaysOfWeek), ", ")
		}
		return "every week"
	case Biweekly:
		return "every two weeks"
	case Monthly:
		return "every month"
	}
	return string(p.Type)
}

func dedupe(days []DayCode) []string {
	out := make([]string, 0, len(days))
	seen := make(map[DayCode]bool, len(days))
	for _, d := range days {
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, string(d))
	}
	return out
}

package ics

import (
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"habitcal/internal/tzclock"
)

const productID = "-//habitcal//habit scheduler//EN"

// Event is everything needed to render one VEVENT.
type Event struct {
	UID         string
	Summary     string
	Description string
	Series      Series
	End         tzclock.CivilDateTime
	// Stamp is the DTSTAMP; callers pass their single read of "now".
	Stamp time.Time
}

// Export renders ev as a standalone VCALENDAR. DTSTART/DTEND are written as
// local times with a TZID parameter naming the IANA zone, never as UTC, so
// importing clients keep the habit at the same wall-clock time year-round.
func Export(ev Event) (string, error) {
	if ev.UID == "" {
		return "", errors.New("ics: event UID is empty")
	}
	tzid := ev.Series.Zone.Name()
	if tzid == "" {
		return "", errors.New("ics: event zone is empty")
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	ve := cal.AddEvent(ev.UID)
	ve.SetDtStampTime(ev.Stamp.UTC())
	ve.SetSummary(ev.Summary)
	if ev.Description != "" {
		ve.SetDescription(ev.Description)
	}
	ve.SetProperty(ical.ComponentPropertyDtStart, icsLocal(ev.Series.Start), ical.WithTZID(tzid))
	ve.SetProperty(ical.ComponentPropertyDtEnd, icsLocal(ev.End), ical.WithTZID(tzid))
	for _, r := range ev.Series.Rules {
		ve.AddRrule(strings.TrimPrefix(r, "RRULE:"))
	}

	return cal.Serialize(), nil
}

// icsLocal formats c as an iCalendar floating DATE-TIME (20060102T150405).
func icsLocal(c tzclock.CivilDateTime) string {
	return fmt.Sprintf("%04d%02d%02dT%02d%02d00", c.Year, c.Month, c.Day, c.Hour, c.Minute)
}

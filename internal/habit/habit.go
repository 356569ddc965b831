// Package habit connects the scheduler to the calendar: it fills request
// defaults, places the first occurrence, creates the event and words the
// confirmation shown to the user.
package habit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"habitcal/internal/clock"
	"habitcal/internal/gateway"
	appLog "habitcal/internal/log"
	"habitcal/internal/model"
	"habitcal/internal/recurrence"
	"habitcal/internal/schedule"
	"habitcal/internal/tzclock"
)

// Options holds the defaults applied to incoming requests.
type Options struct {
	// Timezone is used when a request names none.
	Timezone string
	// DefaultDurationMinutes is used when a request leaves the duration unset.
	DefaultDurationMinutes int
	// MinConfidence drops intents scored below it.
	MinConfidence float64
}

// Service schedules habits and writes them to a calendar gateway.
type Service struct {
	gw    gateway.Gateway
	clock clock.Clock
	opts  Options
}

// Created is the outcome of a successful create.
type Created struct {
	EventID    string              `json:"event_id"`
	EventLink  string              `json:"event_link"`
	Occurrence schedule.Occurrence `json:"occurrence"`
	Message    string              `json:"message"`
}

func NewService(gw gateway.Gateway, clk clock.Clock, opts Options) *Service {
	if clk == nil {
		clk = clock.Real()
	}
	if opts.DefaultDurationMinutes <= 0 {
		opts.DefaultDurationMinutes = schedule.DefaultDurationMinutes
	}
	return &Service{gw: gw, clock: clk, opts: opts}
}

// Plan applies defaults to req and computes its first occurrence without
// touching the calendar. The returned request is the one that was scheduled.
func (s *Service) Plan(req schedule.Request) (schedule.Request, schedule.Occurrence, error) {
	return s.planAt(req, s.clock.Now())
}

func (s *Service) planAt(req schedule.Request, now time.Time) (schedule.Request, schedule.Occurrence, error) {
	req = s.withDefaults(req)
	occ, err := schedule.Schedule(req, now)
	if err != nil {
		return req, schedule.Occurrence{}, err
	}
	return req, occ, nil
}

// Create schedules req and inserts it on the calendar.
func (s *Service) Create(ctx context.Context, req schedule.Request) (Created, error) {
	req, occ, err := s.Plan(req)
	if err != nil {
		return Created{}, err
	}
	return s.insert(ctx, req, occ)
}

// insert writes an already planned habit to the calendar.
func (s *Service) insert(ctx context.Context, req schedule.Request, occ schedule.Occurrence) (Created, error) {
	ev, err := s.gw.CreateEvent(ctx, eventRequest(req.Activity, req.Description, occ))
	if err != nil {
		return Created{}, err
	}

	appLog.Info("habit created",
		"activity", req.Activity,
		"event_id", ev.ID,
		"start", occ.Start.String(),
		"timezone", occ.Timezone,
	)
	return Created{
		EventID:    ev.ID,
		EventLink:  ev.HTMLLink,
		Occurrence: occ,
		Message: fmt.Sprintf("Created %q on your calendar! Your first session is %s at %s. It will repeat %s. You can view it here: %s",
			req.Activity, displayDate(occ.Start), clockTime(occ.Start), recurrence.Describe(req.Recurrence), ev.HTMLLink),
	}, nil
}

// CreateSingle places a one-off event. The date may be ISO or one of the
// forms schedule.NormalizeDate accepts, such as "friday" or "March 7".
func (s *Service) CreateSingle(ctx context.Context, req schedule.SingleRequest) (Created, error) {
	if strings.TrimSpace(req.Timezone) == "" {
		req.Timezone = s.opts.Timezone
	}
	if req.DurationMinutes == 0 {
		req.DurationMinutes = s.opts.DefaultDurationMinutes
	}
	zone, err := tzclock.Load(req.Timezone)
	if err != nil {
		return Created{}, err
	}
	day, err := schedule.NormalizeDate(req.Date, s.clock.Now(), zone)
	if err != nil {
		return Created{}, err
	}
	req.Date = fmt.Sprintf("%04d-%02d-%02d", day.Year, day.Month, day.Day)

	occ, err := schedule.ScheduleOn(req)
	if err != nil {
		return Created{}, err
	}

	ev, err := s.gw.CreateEvent(ctx, eventRequest(req.Summary, req.Description, occ))
	if err != nil {
		return Created{}, err
	}

	appLog.Info("event created", "summary", req.Summary, "event_id", ev.ID, "start", occ.Start.String())
	return Created{
		EventID:    ev.ID,
		EventLink:  ev.HTMLLink,
		Occurrence: occ,
		Message: fmt.Sprintf("Event created! %q on %s at %s for %d minutes. View it here: %s",
			req.Summary, displayDate(occ.Start), clockTime(occ.Start), occ.DurationMinutes, ev.HTMLLink),
	}, nil
}

// Delete removes an event by id.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.gw.DeleteEvent(ctx, id); err != nil {
		return err
	}
	appLog.Info("event deleted", "event_id", id)
	return nil
}

// Upcoming lists the next events from now.
func (s *Service) Upcoming(ctx context.Context, max int) ([]model.Event, error) {
	return s.gw.ListEvents(ctx, max, s.clock.Now())
}

// Now exposes the service clock so callers share one notion of "now".
func (s *Service) Now() time.Time { return s.clock.Now() }

func (s *Service) withDefaults(req schedule.Request) schedule.Request {
	if strings.TrimSpace(req.Timezone) == "" {
		req.Timezone = s.opts.Timezone
	}
	if req.DurationMinutes == 0 {
		req.DurationMinutes = s.opts.DefaultDurationMinutes
	}
	if strings.TrimSpace(req.Description) == "" {
		req.Description = "Habit tracking for: " + req.Activity
	}
	return req
}

func eventRequest(summary, description string, occ schedule.Occurrence) model.EventRequest {
	return model.EventRequest{
		Summary:       summary,
		Description:   description,
		StartDateTime: occ.Start.String(),
		EndDateTime:   occ.End.String(),
		TimeZone:      occ.Timezone,
		Recurrence:    occ.RecurrenceRule,
	}
}

// displayDate renders e.g. "Tuesday, March 4".
func displayDate(c tzclock.CivilDateTime) string {
	return fmt.Sprintf("%s, %s %d", time.Weekday(c.Weekday), time.Month(c.Month), c.Day)
}

func clockTime(c tzclock.CivilDateTime) string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

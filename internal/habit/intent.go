package habit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	appLog "habitcal/internal/log"
	"habitcal/internal/recurrence"
	"habitcal/internal/schedule"
)

// ErrIncompleteIntent is returned for an intent that cannot be scheduled
// without asking the user for more detail, e.g. one with no start time.
var ErrIncompleteIntent = errors.New("intent needs clarification")

// TimeWindow is a preferred slot in HH:MM. EndTime is optional.
type TimeWindow struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time,omitempty"`
}

// Intent is a habit commitment recognised in conversation.
type Intent struct {
	Activity        string             `json:"activity"`
	Frequency       recurrence.Pattern `json:"frequency"`
	PreferredTime   *TimeWindow        `json:"preferred_time,omitempty"`
	DurationMinutes int                `json:"duration_minutes,omitempty"`
	// Confidence is in 0..1.
	Confidence float64 `json:"confidence"`
	RawText    string  `json:"raw_text,omitempty"`
}

// IntentSource yields habit intents. The extraction behind it is opaque to
// this package; a language model, a form or a test fixture all fit.
type IntentSource interface {
	Intents(ctx context.Context) ([]Intent, error)
}

// Form is the payload a FormSource decodes.
type Form struct {
	Habits   []Intent `json:"habits"`
	Timezone string   `json:"timezone,omitempty"`
}

// FormSource reads intents from a structured JSON form.
type FormSource struct {
	form Form
}

// DecodeForm reads a Form from r. Unknown fields are rejected.
func DecodeForm(r io.Reader) (*FormSource, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var f Form
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("habit: decode form: %w", err)
	}
	return &FormSource{form: f}, nil
}

func (f *FormSource) Intents(context.Context) ([]Intent, error) {
	return append([]Intent(nil), f.form.Habits...), nil
}

// Timezone is the zone the form was filled in, if it said.
func (f *FormSource) Timezone() string { return f.form.Timezone }

// Request turns the intent into a scheduling request. When no duration is
// given but the preferred window has an end, the duration is the length of
// the window, wrapping past midnight.
func (in Intent) Request(timezone string) (schedule.Request, error) {
	if in.PreferredTime == nil || in.PreferredTime.StartTime == "" {
		return schedule.Request{}, fmt.Errorf("%w: %q has no start time", ErrIncompleteIntent, in.Activity)
	}
	duration := in.DurationMinutes
	if duration == 0 && in.PreferredTime.EndTime != "" {
		sh, sm, err := schedule.ParseTimeOfDay(in.PreferredTime.StartTime)
		if err != nil {
			return schedule.Request{}, err
		}
		eh, em, err := schedule.ParseTimeOfDay(in.PreferredTime.EndTime)
		if err != nil {
			return schedule.Request{}, err
		}
		duration = (eh*60 + em) - (sh*60 + sm)
		if duration <= 0 {
			duration += 24 * 60
		}
	}

	freq := in.Frequency
	var pattern *recurrence.Pattern
	if freq.Type != "" {
		pattern = &freq
	}
	return schedule.Request{
		Activity:        in.Activity,
		StartTimeOfDay:  in.PreferredTime.StartTime,
		DurationMinutes: duration,
		Recurrence:      pattern,
		Timezone:        timezone,
	}, nil
}

// Skipped is an intent that was not scheduled and why.
type Skipped struct {
	Intent Intent `json:"intent"`
	Reason string `json:"reason"`
}

// Batch is the result of applying an intent source.
type Batch struct {
	Created []Created `json:"created"`
	Skipped []Skipped `json:"skipped"`
}

// ApplyIntents schedules every intent from src at or above the confidence
// threshold.
//
// The batch is all or nothing. Every kept intent is planned against one
// reading of the clock before the first event is created, so an invalid
// intent leaves the calendar untouched. If the gateway fails partway, the
// events already created by this batch are deleted again; any that could
// not be deleted remain in the returned Batch alongside the error.
func (s *Service) ApplyIntents(ctx context.Context, src IntentSource, timezone string) (Batch, error) {
	intents, err := src.Intents(ctx)
	if err != nil {
		return Batch{}, err
	}

	now := s.clock.Now()
	batch := Batch{Created: []Created{}, Skipped: []Skipped{}}
	type planned struct {
		req schedule.Request
		occ schedule.Occurrence
	}
	var plans []planned
	for _, in := range intents {
		if in.Confidence < s.opts.MinConfidence {
			batch.Skipped = append(batch.Skipped, Skipped{
				Intent: in,
				Reason: fmt.Sprintf("confidence %.2f below %.2f", in.Confidence, s.opts.MinConfidence),
			})
			continue
		}
		req, err := in.Request(timezone)
		if err != nil {
			return Batch{}, err
		}
		req, occ, err := s.planAt(req, now)
		if err != nil {
			return Batch{}, fmt.Errorf("%s: %w", in.Activity, err)
		}
		plans = append(plans, planned{req: req, occ: occ})
	}

	for _, p := range plans {
		c, err := s.insert(ctx, p.req, p.occ)
		if err != nil {
			batch.Created = s.rollback(ctx, batch.Created)
			return batch, err
		}
		batch.Created = append(batch.Created, c)
	}

	appLog.Info("intents applied", "created", len(batch.Created), "skipped", len(batch.Skipped))
	return batch, nil
}

// rollback deletes the events of a failed batch and returns those that
// survived.
func (s *Service) rollback(ctx context.Context, created []Created) []Created {
	left := []Created{}
	for _, c := range created {
		if err := s.gw.DeleteEvent(ctx, c.EventID); err != nil {
			appLog.Error("intent rollback failed", err, "event_id", c.EventID)
			left = append(left, c)
			continue
		}
		appLog.Info("intent rolled back", "event_id", c.EventID)
	}
	return left
}

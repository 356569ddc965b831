package habit

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"habitcal/internal/clock"
	"habitcal/internal/gateway"
	"habitcal/internal/model"
	"habitcal/internal/recurrence"
	"habitcal/internal/schedule"
)

// Monday 2025-03-03 08:00 in Los Angeles.
var monday = time.Date(2025, 3, 3, 16, 0, 0, 0, time.UTC)

type recordingGateway struct {
	requests []model.EventRequest
	err      error
}

func (g *recordingGateway) CreateEvent(_ context.Context, req model.EventRequest) (model.Event, error) {
	if g.err != nil {
		return model.Event{}, g.err
	}
	g.requests = append(g.requests, req)
	return model.Event{ID: "ev1", HTMLLink: "https://calendar.example/ev1", Summary: req.Summary}, nil
}

func (g *recordingGateway) ListEvents(context.Context, int, time.Time) ([]model.Event, error) {
	return nil, nil
}

func (g *recordingGateway) DeleteEvent(context.Context, string) error { return gateway.ErrNotFound }

func newService(gw gateway.Gateway) *Service {
	return NewService(gw, clock.Fixed(monday), Options{
		Timezone:               "America/Los_Angeles",
		DefaultDurationMinutes: 60,
		MinConfidence:          0.8,
	})
}

func TestCreateMeditateDaily(t *testing.T) {
	t.Parallel()
	gw := &recordingGateway{}
	svc := newService(gw)

	got, err := svc.Create(context.Background(), schedule.Request{
		Activity:        "meditate",
		StartTimeOfDay:  "07:00",
		DurationMinutes: 30,
		Recurrence:      &recurrence.Pattern{Type: recurrence.Daily},
	})
	require.NoError(t, err)
	require.Equal(t, "ev1", got.EventID)
	require.Equal(t, `Created "meditate" on your calendar! Your first session is Tuesday, March 4 at 07:00. `+
		`It will repeat every day. You can view it here: https://calendar.example/ev1`, got.Message)

	require.Len(t, gw.requests, 1)
	require.Equal(t, model.EventRequest{
		Summary:       "meditate",
		Description:   "Habit tracking for: meditate",
		StartDateTime: "2025-03-04T07:00:00",
		EndDateTime:   "2025-03-04T07:30:00",
		TimeZone:      "America/Los_Angeles",
		Recurrence:    []string{"RRULE:FREQ=DAILY"},
	}, gw.requests[0])
}

func TestCreateKeepsExplicitDescriptionAndZone(t *testing.T) {
	t.Parallel()
	gw := &recordingGateway{}
	svc := newService(gw)

	got, err := svc.Create(context.Background(), schedule.Request{
		Activity:       "run",
		Description:    "5k loop",
		StartTimeOfDay: "06:30",
		Recurrence:     &recurrence.Pattern{Type: recurrence.Weekly, DaysOfWeek: []recurrence.DayCode{recurrence.TU, recurrence.TH}},
		Timezone:       "Europe/London",
	})
	require.NoError(t, err)
	require.Contains(t, got.Message, "It will repeat every week on TU, TH.")
	require.Equal(t, "5k loop", gw.requests[0].Description)
	require.Equal(t, "Europe/London", gw.requests[0].TimeZone)
	// 16:00 UTC Monday is already past 06:30 in London, so Tuesday.
	require.Equal(t, "2025-03-04T06:30:00", gw.requests[0].StartDateTime)
	require.Equal(t, "2025-03-04T07:30:00", gw.requests[0].EndDateTime)
}

func TestCreateValidationLeavesCalendarUntouched(t *testing.T) {
	t.Parallel()
	gw := &recordingGateway{}
	svc := newService(gw)

	_, err := svc.Create(context.Background(), schedule.Request{Activity: "x", StartTimeOfDay: "7am"})
	require.ErrorIs(t, err, schedule.ErrInvalidTimeOfDay)
	require.Empty(t, gw.requests)
}

func TestCreateGatewayFailure(t *testing.T) {
	t.Parallel()
	svc := newService(&recordingGateway{err: gateway.ErrGateway})
	_, err := svc.Create(context.Background(), schedule.Request{Activity: "x", StartTimeOfDay: "07:00"})
	require.ErrorIs(t, err, gateway.ErrGateway)
}

func TestCreateSingle(t *testing.T) {
	t.Parallel()
	gw := &recordingGateway{}
	svc := newService(gw)

	got, err := svc.CreateSingle(context.Background(), schedule.SingleRequest{
		Summary: "dentist", Date: "2025-03-05", StartTime: "09:00",
	})
	require.NoError(t, err)
	require.Equal(t, `Event created! "dentist" on Wednesday, March 5 at 09:00 for 60 minutes. View it here: https://calendar.example/ev1`, got.Message)
	require.Empty(t, gw.requests[0].Recurrence)
	require.Equal(t, "2025-03-05T10:00:00", gw.requests[0].EndDateTime)
}

func TestCreateSingleNormalizesDate(t *testing.T) {
	t.Parallel()
	gw := &recordingGateway{}
	svc := newService(gw)

	got, err := svc.CreateSingle(context.Background(), schedule.SingleRequest{
		Summary: "haircut", Date: "Friday", StartTime: "17:15", DurationMinutes: 30,
	})
	require.NoError(t, err)
	require.Equal(t, "2025-03-07T17:15:00", gw.requests[0].StartDateTime)
	require.Contains(t, got.Message, "on Friday, March 7 at 17:15 for 30 minutes")

	_, err = svc.CreateSingle(context.Background(), schedule.SingleRequest{
		Summary: "haircut", Date: "someday", StartTime: "17:15",
	})
	require.ErrorIs(t, err, schedule.ErrInvalidDate)
	require.Len(t, gw.requests, 1)
}

func TestServiceAgainstMemoryGateway(t *testing.T) {
	t.Parallel()
	clk := clock.Fixed(monday)
	mem := gateway.NewMemory(clk)
	svc := NewService(mem, clk, Options{Timezone: "America/Los_Angeles"})
	ctx := context.Background()

	created, err := svc.Create(ctx, schedule.Request{
		Activity: "stretch", StartTimeOfDay: "21:00", DurationMinutes: 15,
		Recurrence: &recurrence.Pattern{Type: recurrence.Daily},
	})
	require.NoError(t, err)

	events, err := svc.Upcoming(ctx, 3)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, "2025-03-03T21:00:00", events[0].Start)
	require.Equal(t, "2025-03-03T21:15:00", events[0].End)
	require.Equal(t, "2025-03-05T21:00:00", events[2].Start)

	require.NoError(t, svc.Delete(ctx, created.EventID))
	require.ErrorIs(t, svc.Delete(ctx, created.EventID), gateway.ErrNotFound)
}

const form = `{
  "timezone": "America/Los_Angeles",
  "habits": [
    {"activity": "gym", "frequency": {"type": "weekly", "days_of_week": ["MO", "WE"]},
     "preferred_time": {"start_time": "18:00", "end_time": "18:45"}, "confidence": 0.9,
     "raw_text": "gym mondays and wednesdays after work"},
    {"activity": "maybe journal", "frequency": {"type": "daily"},
     "preferred_time": {"start_time": "22:00"}, "confidence": 0.3}
  ]
}`

func TestApplyIntentsFiltersByConfidence(t *testing.T) {
	t.Parallel()
	gw := &recordingGateway{}
	svc := newService(gw)

	src, err := DecodeForm(strings.NewReader(form))
	require.NoError(t, err)
	require.Equal(t, "America/Los_Angeles", src.Timezone())

	batch, err := svc.ApplyIntents(context.Background(), src, src.Timezone())
	require.NoError(t, err)
	require.Len(t, batch.Created, 1)
	require.Len(t, batch.Skipped, 1)
	require.Equal(t, "maybe journal", batch.Skipped[0].Intent.Activity)

	require.Equal(t, "2025-03-03T18:00:00", gw.requests[0].StartDateTime)
	require.Equal(t, "2025-03-03T18:45:00", gw.requests[0].EndDateTime)
	require.Equal(t, []string{"RRULE:FREQ=WEEKLY;BYDAY=MO,WE"}, gw.requests[0].Recurrence)
}

func TestApplyIntentsIsAllOrNothingOnValidation(t *testing.T) {
	t.Parallel()
	gw := &recordingGateway{}
	svc := newService(gw)

	src, err := DecodeForm(strings.NewReader(`{"habits": [
		{"activity": "read", "frequency": {"type": "daily"}, "preferred_time": {"start_time": "21:00"}, "confidence": 1},
		{"activity": "swim", "frequency": {"type": "hourly"}, "preferred_time": {"start_time": "07:00"}, "confidence": 1}
	]}`))
	require.NoError(t, err)

	_, err = svc.ApplyIntents(context.Background(), src, "")
	require.ErrorIs(t, err, recurrence.ErrInvalidRecurrence)
	require.Empty(t, gw.requests)
}

// tickingClock moves forward an hour every time it is read.
type tickingClock struct{ t time.Time }

func (c *tickingClock) Now() time.Time {
	now := c.t
	c.t = c.t.Add(time.Hour)
	return now
}

func TestApplyIntentsReadsClockOnce(t *testing.T) {
	t.Parallel()
	gw := &recordingGateway{}
	// Monday 06:30 in Los Angeles.
	svc := NewService(gw, &tickingClock{t: time.Date(2025, 3, 3, 14, 30, 0, 0, time.UTC)}, Options{
		Timezone: "America/Los_Angeles",
	})

	src, err := DecodeForm(strings.NewReader(`{"habits": [
		{"activity": "stretch", "frequency": {"type": "daily"}, "preferred_time": {"start_time": "07:00"}, "confidence": 1},
		{"activity": "water", "frequency": {"type": "daily"}, "preferred_time": {"start_time": "07:00"}, "confidence": 1}
	]}`))
	require.NoError(t, err)

	batch, err := svc.ApplyIntents(context.Background(), src, "")
	require.NoError(t, err)
	require.Len(t, batch.Created, 2)
	for _, req := range gw.requests {
		require.Equal(t, "2025-03-03T07:00:00", req.StartDateTime, req.Summary)
	}
}

// flakyGateway fails every create after the first ok ones.
type flakyGateway struct {
	ok      int
	created []string
	deleted []string
	delErr  error
}

func (g *flakyGateway) CreateEvent(_ context.Context, req model.EventRequest) (model.Event, error) {
	if len(g.created) >= g.ok {
		return model.Event{}, gateway.ErrGateway
	}
	id := fmt.Sprintf("ev%d", len(g.created)+1)
	g.created = append(g.created, id)
	return model.Event{ID: id, Summary: req.Summary}, nil
}

func (g *flakyGateway) ListEvents(context.Context, int, time.Time) ([]model.Event, error) {
	return nil, nil
}

func (g *flakyGateway) DeleteEvent(_ context.Context, id string) error {
	if g.delErr != nil {
		return g.delErr
	}
	g.deleted = append(g.deleted, id)
	return nil
}

func TestApplyIntentsRollsBackOnGatewayFailure(t *testing.T) {
	t.Parallel()
	body := `{"habits": [
		{"activity": "read", "frequency": {"type": "daily"}, "preferred_time": {"start_time": "21:00"}, "confidence": 1},
		{"activity": "floss", "frequency": {"type": "daily"}, "preferred_time": {"start_time": "21:30"}, "confidence": 1},
		{"activity": "plan", "frequency": {"type": "daily"}, "preferred_time": {"start_time": "22:00"}, "confidence": 1}
	]}`

	t.Run("deleted", func(t *testing.T) {
		t.Parallel()
		gw := &flakyGateway{ok: 2}
		src, err := DecodeForm(strings.NewReader(body))
		require.NoError(t, err)

		batch, err := newService(gw).ApplyIntents(context.Background(), src, "")
		require.ErrorIs(t, err, gateway.ErrGateway)
		require.Empty(t, batch.Created)
		require.Equal(t, []string{"ev1", "ev2"}, gw.deleted)
	})

	t.Run("delete fails", func(t *testing.T) {
		t.Parallel()
		gw := &flakyGateway{ok: 1, delErr: gateway.ErrGateway}
		src, err := DecodeForm(strings.NewReader(body))
		require.NoError(t, err)

		batch, err := newService(gw).ApplyIntents(context.Background(), src, "")
		require.ErrorIs(t, err, gateway.ErrGateway)
		require.Len(t, batch.Created, 1)
		require.Equal(t, "ev1", batch.Created[0].EventID)
	})
}

func TestDecodeFormRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	_, err := DecodeForm(strings.NewReader(`{"habits": [], "mood": "great"}`))
	require.Error(t, err)
}

func TestIntentRequest(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		intent   Intent
		duration int
		err      error
	}{
		{
			name:   "no start time",
			intent: Intent{Activity: "nap"},
			err:    ErrIncompleteIntent,
		},
		{
			name:     "explicit duration wins",
			intent:   Intent{PreferredTime: &TimeWindow{StartTime: "07:00", EndTime: "09:00"}, DurationMinutes: 20},
			duration: 20,
		},
		{
			name:     "window length",
			intent:   Intent{PreferredTime: &TimeWindow{StartTime: "07:00", EndTime: "07:40"}},
			duration: 40,
		},
		{
			name:     "window past midnight",
			intent:   Intent{PreferredTime: &TimeWindow{StartTime: "23:30", EndTime: "00:15"}},
			duration: 45,
		},
		{
			name:   "bad end",
			intent: Intent{PreferredTime: &TimeWindow{StartTime: "07:00", EndTime: "soon"}},
			err:    schedule.ErrInvalidTimeOfDay,
		},
		{
			name:   "start only",
			intent: Intent{PreferredTime: &TimeWindow{StartTime: "07:00"}},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req, err := tt.intent.Request("UTC")
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.duration, req.DurationMinutes)
			require.Nil(t, req.Recurrence)
			require.Equal(t, "UTC", req.Timezone)
		})
	}
}

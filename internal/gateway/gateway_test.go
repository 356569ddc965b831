package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"

	"habitcal/internal/clock"
	"habitcal/internal/credential"
	"habitcal/internal/model"
)

type countingSource struct {
	token       string
	invalidated atomic.Int32
}

func (p *countingSource) Token() (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: p.token, TokenType: "Bearer"}, nil
}

func (p *countingSource) Invalidate() { p.invalidated.Add(1) }

func newGoogle(t *testing.T, srv *httptest.Server, cfg GoogleConfig, tokens oauth2.TokenSource) *Google {
	t.Helper()
	cfg.BaseURL = srv.URL
	g, err := NewGoogle(cfg, tokens, srv.Client(), clock.Fixed(time.Date(2025, 3, 3, 16, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	return g
}

func TestGoogleCreateEvent(t *testing.T) {
	t.Parallel()
	var got calendar.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/calendars/primary/events", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"ev1","htmlLink":"https://calendar/ev1","summary":"meditate",
			"start":{"dateTime":"2025-03-04T07:00:00-08:00","timeZone":"America/Los_Angeles"},
			"end":{"dateTime":"2025-03-04T07:30:00-08:00","timeZone":"America/Los_Angeles"}}`))
	}))
	defer srv.Close()

	g := newGoogle(t, srv, GoogleConfig{}, credential.Static("tok"))
	ev, err := g.CreateEvent(context.Background(), model.EventRequest{
		Summary:       "meditate",
		Description:   "Habit tracking for: meditate",
		StartDateTime: "2025-03-04T07:00:00",
		EndDateTime:   "2025-03-04T07:30:00",
		TimeZone:      "America/Los_Angeles",
		Recurrence:    []string{"RRULE:FREQ=DAILY"},
	})
	require.NoError(t, err)
	require.Equal(t, "ev1", ev.ID)
	require.Equal(t, "https://calendar/ev1", ev.HTMLLink)
	require.Equal(t, "2025-03-04T07:00:00-08:00", ev.Start)
	require.Equal(t, "America/Los_Angeles", ev.TimeZone)

	require.Equal(t, "2025-03-04T07:00:00", got.Start.DateTime)
	require.Equal(t, "America/Los_Angeles", got.Start.TimeZone)
	require.Equal(t, []string{"RRULE:FREQ=DAILY"}, got.Recurrence)
}

func TestGoogleCreateSingleEventOmitsRecurrence(t *testing.T) {
	t.Parallel()
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"ev2"}`))
	}))
	defer srv.Close()

	g := newGoogle(t, srv, GoogleConfig{}, credential.Static("tok"))
	ev, err := g.CreateEvent(context.Background(), model.EventRequest{
		Summary: "dentist", StartDateTime: "2025-03-04T09:00:00", EndDateTime: "2025-03-04T10:00:00",
		TimeZone: "America/Los_Angeles", Recurrence: []string{},
	})
	require.NoError(t, err)
	require.Equal(t, "America/Los_Angeles", ev.TimeZone)
	require.NotContains(t, raw, "recurrence")
}

func TestGoogleListEvents(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/calendars/work/events", r.URL.Path)
		q := r.URL.Query()
		require.Equal(t, "5", q.Get("maxResults"))
		require.Equal(t, "true", q.Get("singleEvents"))
		require.Equal(t, "startTime", q.Get("orderBy"))
		require.Equal(t, "2025-03-03T16:00:00Z", q.Get("timeMin"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[
			{"id":"a","summary":"standup","start":{"dateTime":"2025-03-04T09:00:00-08:00"},"end":{"dateTime":"2025-03-04T09:15:00-08:00"}},
			{"id":"b","summary":"holiday","start":{"date":"2025-03-05"},"end":{"date":"2025-03-06"}}]}`))
	}))
	defer srv.Close()

	g := newGoogle(t, srv, GoogleConfig{CalendarID: "work", RequestsPerSecond: 100}, credential.Static("tok"))
	// A zero timeMin reads the injected clock.
	events, err := g.ListEvents(context.Background(), 5, time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "standup", events[0].Summary)
	require.Equal(t, "2025-03-05", events[1].Start)
}

func TestGoogleDeleteEvent(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		switch r.URL.Path {
		case "/calendars/primary/events/known":
			w.WriteHeader(http.StatusNoContent)
		case "/calendars/primary/events/gone":
			w.WriteHeader(http.StatusGone)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	g := newGoogle(t, srv, GoogleConfig{}, credential.Static("tok"))
	require.NoError(t, g.DeleteEvent(context.Background(), "known"))
	require.ErrorIs(t, g.DeleteEvent(context.Background(), "gone"), ErrNotFound)
	require.ErrorIs(t, g.DeleteEvent(context.Background(), "other"), ErrNotFound)
	require.ErrorIs(t, g.DeleteEvent(context.Background(), ""), ErrNotFound)
}

func TestGoogleFailuresAreOpaque(t *testing.T) {
	t.Parallel()
	var status atomic.Int32
	status.Store(http.StatusForbidden)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"quota exceeded"}}`))
	}))
	defer srv.Close()

	p := &countingSource{token: "tok"}
	g := newGoogle(t, srv, GoogleConfig{}, p)

	_, err := g.ListEvents(context.Background(), 3, time.Now())
	require.ErrorIs(t, err, ErrGateway)
	require.True(t, strings.Contains(err.Error(), "quota exceeded"))

	// Not found only means ErrNotFound for deletes.
	status.Store(http.StatusNotFound)
	_, err = g.ListEvents(context.Background(), 3, time.Now())
	require.ErrorIs(t, err, ErrGateway)
	require.False(t, errors.Is(err, ErrNotFound))

	status.Store(http.StatusUnauthorized)
	_, err = g.CreateEvent(context.Background(), model.EventRequest{Summary: "x"})
	require.ErrorIs(t, err, ErrGateway)
	require.EqualValues(t, 1, p.invalidated.Load())
}

func TestGoogleCredentialFailure(t *testing.T) {
	t.Parallel()
	g, err := NewGoogle(GoogleConfig{BaseURL: "http://127.0.0.1:1"}, credential.Static(""), nil, nil)
	require.NoError(t, err)
	_, err = g.ListEvents(context.Background(), 1, time.Now())
	require.ErrorIs(t, err, ErrGateway)
	require.ErrorIs(t, err, credential.ErrNotConnected)
}

func TestMemoryRoundTrip(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 3, 16, 0, 0, 0, time.UTC) // Monday 08:00 in LA
	m := NewMemory(clock.Fixed(now))
	ctx := context.Background()

	daily, err := m.CreateEvent(ctx, model.EventRequest{
		Summary: "meditate", StartDateTime: "2025-03-04T07:00:00", EndDateTime: "2025-03-04T07:30:00",
		TimeZone: "America/Los_Angeles", Recurrence: []string{"RRULE:FREQ=DAILY"},
	})
	require.NoError(t, err)
	single, err := m.CreateEvent(ctx, model.EventRequest{
		Summary: "dentist", StartDateTime: "2025-03-05T09:00:00", EndDateTime: "2025-03-05T10:00:00",
		TimeZone: "America/Los_Angeles",
	})
	require.NoError(t, err)

	events, err := m.ListEvents(ctx, 4, time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 4)
	require.Equal(t, []string{"meditate", "meditate", "dentist", "meditate"},
		[]string{events[0].Summary, events[1].Summary, events[2].Summary, events[3].Summary})
	require.Equal(t, "2025-03-04T07:00:00", events[0].Start)
	require.Equal(t, "2025-03-04T07:30:00", events[0].End)
	require.Equal(t, "2025-03-05T07:00:00", events[1].Start)

	require.NoError(t, m.DeleteEvent(ctx, daily.ID))
	require.True(t, errors.Is(m.DeleteEvent(ctx, daily.ID), ErrNotFound))

	events, err = m.ListEvents(ctx, 10, time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, single.ID, events[0].ID)
}

func TestMemoryRejectsUnknownZone(t *testing.T) {
	t.Parallel()
	m := NewMemory(nil)
	_, err := m.CreateEvent(context.Background(), model.EventRequest{
		StartDateTime: "2025-03-04T07:00:00", EndDateTime: "2025-03-04T07:30:00", TimeZone: "Atlantis/Capital",
	})
	require.ErrorIs(t, err, ErrGateway)
}

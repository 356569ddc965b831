package web

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"habitcal/internal/credential"
	"habitcal/internal/gateway"
	"habitcal/internal/habit"
	"habitcal/internal/ics"
	appLog "habitcal/internal/log"
	"habitcal/internal/recurrence"
	"habitcal/internal/schedule"
	"habitcal/internal/tzclock"
)

const (
	defaultPreview = 5
	maxPreview     = 100
	maxAgenda      = 250
)

// recurrenceDTO is the wire shape of a recurrence pattern.
type recurrenceDTO struct {
	Type       string   `json:"type" validate:"required,oneof=daily weekly biweekly monthly"`
	DaysOfWeek []string `json:"days_of_week,omitempty" validate:"omitempty,dive,oneof=MO TU WE TH FR SA SU"`
	Interval   int      `json:"interval,omitempty" validate:"gte=0"`
}

// habitDTO is the body of /api/schedule, /api/schedule.ics and /api/habits.
type habitDTO struct {
	Activity        string         `json:"activity" validate:"required,max=200"`
	Description     string         `json:"description,omitempty" validate:"max=2000"`
	StartTime       string         `json:"start_time" validate:"required"`
	DurationMinutes int            `json:"duration_minutes,omitempty" validate:"gte=0,lte=1440"`
	Recurrence      *recurrenceDTO `json:"recurrence,omitempty"`
	Timezone        string         `json:"timezone,omitempty"`
}

func (d habitDTO) request() schedule.Request {
	req := schedule.Request{
		Activity:        d.Activity,
		Description:     d.Description,
		StartTimeOfDay:  d.StartTime,
		DurationMinutes: d.DurationMinutes,
		Timezone:        d.Timezone,
	}
	if d.Recurrence != nil {
		p := &recurrence.Pattern{
			Type:     recurrence.FrequencyType(d.Recurrence.Type),
			Interval: d.Recurrence.Interval,
		}
		for _, day := range d.Recurrence.DaysOfWeek {
			p.DaysOfWeek = append(p.DaysOfWeek, recurrence.DayCode(day))
		}
		req.Recurrence = p
	}
	return req
}

// eventDTO is the body of POST /api/events.
type eventDTO struct {
	Summary         string `json:"summary" validate:"required,max=200"`
	Description     string `json:"description,omitempty" validate:"max=2000"`
	Date            string `json:"date" validate:"required"`
	StartTime       string `json:"start_time" validate:"required"`
	DurationMinutes int    `json:"duration_minutes,omitempty" validate:"gte=0,lte=1440"`
	Timezone        string `json:"timezone,omitempty"`
}

type scheduleResponse struct {
	Occurrence schedule.Occurrence `json:"occurrence"`
	Repeats    string              `json:"repeats"`
	Preview    []string            `json:"preview"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleSchedule is a dry run: nothing is written to the calendar.
//
// POST /api/schedule?preview=5
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var body habitDTO
	if err := s.bind.decode(w, r, &body); err != nil {
		s.fail(w, err)
		return
	}
	n := parseIntDefault(r.URL.Query().Get("preview"), defaultPreview)
	if n <= 0 {
		n = defaultPreview
	}
	n = min(n, maxPreview)

	req, occ, err := s.svc.Plan(body.request())
	if err != nil {
		s.fail(w, err)
		return
	}
	series, err := seriesOf(occ)
	if err != nil {
		s.fail(w, err)
		return
	}
	starts, err := ics.Preview(series, n)
	if err != nil {
		s.fail(w, err)
		return
	}
	preview := make([]string, 0, len(starts))
	for _, c := range starts {
		preview = append(preview, c.String())
	}
	writeJSON(w, http.StatusOK, scheduleResponse{
		Occurrence: occ,
		Repeats:    recurrence.Describe(req.Recurrence),
		Preview:    preview,
	})
}

// handleScheduleICS renders the planned habit as an iCalendar document.
func (s *Server) handleScheduleICS(w http.ResponseWriter, r *http.Request) {
	var body habitDTO
	if err := s.bind.decode(w, r, &body); err != nil {
		s.fail(w, err)
		return
	}
	req, occ, err := s.svc.Plan(body.request())
	if err != nil {
		s.fail(w, err)
		return
	}
	series, err := seriesOf(occ)
	if err != nil {
		s.fail(w, err)
		return
	}
	doc, err := ics.Export(ics.Event{
		UID:         uuid.NewString() + "@habitcal",
		Summary:     req.Activity,
		Description: req.Description,
		Series:      series,
		End:         occ.End,
		Stamp:       s.svc.Now(),
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="habit.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

func (s *Server) handleCreateHabit(w http.ResponseWriter, r *http.Request) {
	var body habitDTO
	if err := s.bind.decode(w, r, &body); err != nil {
		s.fail(w, err)
		return
	}
	created, err := s.svc.Create(r.Context(), body.request())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.refreshAgenda(r)
	writeJSON(w, http.StatusCreated, created)
}

// handleIntents schedules every sufficiently confident intent in a form.
func (s *Server) handleIntents(w http.ResponseWriter, r *http.Request) {
	src, err := habit.DecodeForm(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.fail(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	batch, err := s.svc.ApplyIntents(r.Context(), src, src.Timezone())
	if len(batch.Created) > 0 {
		s.refreshAgenda(r)
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var body eventDTO
	if err := s.bind.decode(w, r, &body); err != nil {
		s.fail(w, err)
		return
	}
	created, err := s.svc.CreateSingle(r.Context(), schedule.SingleRequest{
		Summary:         body.Summary,
		Description:     body.Description,
		Date:            body.Date,
		StartTime:       body.StartTime,
		DurationMinutes: body.DurationMinutes,
		Timezone:        body.Timezone,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	s.refreshAgenda(r)
	writeJSON(w, http.StatusCreated, created)
}

// handleListEvents serves upcoming events from the agenda cache, loading it
// on first use.
//
// GET /api/events?max=10
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("max"), 10)
	if limit <= 0 {
		limit = 10
	}
	limit = min(limit, maxAgenda)

	if !s.agenda.Loaded() {
		if err := s.agenda.Refresh(r.Context()); err != nil {
			s.fail(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.agenda.Snapshot(limit))
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.Delete(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	s.refreshAgenda(r)
	w.WriteHeader(http.StatusNoContent)
}

// refreshAgenda reloads the cache after a write. A failure only leaves the
// cache stale until the next scheduled refresh.
func (s *Server) refreshAgenda(r *http.Request) {
	if err := s.agenda.Refresh(r.Context()); err != nil {
		appLog.Debug("agenda refresh after write failed", "err", err.Error())
	}
}

func seriesOf(occ schedule.Occurrence) (ics.Series, error) {
	zone, err := tzclock.Load(occ.Timezone)
	if err != nil {
		return ics.Series{}, err
	}
	return ics.Series{Start: occ.Start, Zone: zone, Rules: occ.RecurrenceRule}, nil
}

// fail maps domain errors to HTTP statuses. Calendar failures are reported
// without provider detail.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, schedule.ErrInvalidTimeOfDay),
		errors.Is(err, schedule.ErrInvalidDuration),
		errors.Is(err, schedule.ErrInvalidDate),
		errors.Is(err, recurrence.ErrInvalidRecurrence),
		errors.Is(err, tzclock.ErrInvalidTimezone),
		errors.Is(err, habit.ErrIncompleteIntent):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, gateway.ErrNotFound):
		writeError(w, http.StatusNotFound, "event not found")
	case errors.Is(err, credential.ErrNotConnected):
		appLog.Error("calendar credentials unavailable", err)
		writeError(w, http.StatusBadGateway, "Google Calendar is not connected. Please connect it and try again.")
	case errors.Is(err, gateway.ErrGateway):
		appLog.Error("calendar request failed", err)
		writeError(w, http.StatusBadGateway, "The calendar could not complete the request. Please try again.")
	default:
		appLog.Error("request failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

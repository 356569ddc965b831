package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"habitcal/internal/clock"
	appLog "habitcal/internal/log"
	"habitcal/internal/model"
)

const (
	DefaultGoogleBaseURL = "https://www.googleapis.com/calendar/v3/"
	defaultCalendarID    = "primary"
)

// GoogleConfig configures the Google Calendar v3 client.
type GoogleConfig struct {
	BaseURL    string
	CalendarID string
	// RequestsPerSecond caps outbound calls; zero disables the limit.
	RequestsPerSecond float64
	Timeout           time.Duration
}

// Google talks to the Google Calendar v3 API.
type Google struct {
	cfg     GoogleConfig
	events  *calendar.EventsService
	tokens  oauth2.TokenSource
	clock   clock.Clock
	limiter *rate.Limiter
}

// invalidator is implemented by token sources that reuse tokens.
type invalidator interface {
	Invalidate()
}

// NewGoogle creates a Google gateway. Requests carry tokens from tokens
// over base's transport; a nil base gets a client with cfg.Timeout (15s
// when unset).
func NewGoogle(cfg GoogleConfig, tokens oauth2.TokenSource, base *http.Client, clk clock.Clock) (*Google, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGoogleBaseURL
	}
	if cfg.CalendarID == "" {
		cfg.CalendarID = defaultCalendarID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if base == nil {
		base = &http.Client{Timeout: cfg.Timeout}
	}
	if clk == nil {
		clk = clock.Real()
	}

	client := &http.Client{
		Timeout:   base.Timeout,
		Transport: &oauth2.Transport{Source: tokens, Base: base.Transport},
	}
	svc, err := calendar.NewService(context.Background(),
		option.WithHTTPClient(client),
		option.WithEndpoint(strings.TrimRight(cfg.BaseURL, "/")+"/"),
	)
	if err != nil {
		return nil, fmt.Errorf("gateway: calendar client: %w", err)
	}

	g := &Google{cfg: cfg, events: svc.Events, tokens: tokens, clock: clk}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return g, nil
}

// CreateEvent inserts req. Recurrence is only sent when non-empty.
func (g *Google) CreateEvent(ctx context.Context, req model.EventRequest) (model.Event, error) {
	body := &calendar.Event{
		Summary:     req.Summary,
		Description: req.Description,
		Start:       &calendar.EventDateTime{DateTime: req.StartDateTime, TimeZone: req.TimeZone},
		End:         &calendar.EventDateTime{DateTime: req.EndDateTime, TimeZone: req.TimeZone},
	}
	if len(req.Recurrence) > 0 {
		body.Recurrence = req.Recurrence
	}

	if err := g.wait(ctx); err != nil {
		return model.Event{}, err
	}
	out, err := g.events.Insert(g.cfg.CalendarID, body).Context(ctx).Do()
	if err != nil {
		err = g.fail(err, false)
		appLog.Error("gateway create failed", err, "summary", req.Summary)
		return model.Event{}, err
	}

	ev := toModel(out)
	if ev.TimeZone == "" {
		ev.TimeZone = req.TimeZone
	}
	appLog.Info("gateway event created", "id", ev.ID, "summary", ev.Summary, "recurring", len(req.Recurrence) > 0)
	return ev, nil
}

// ListEvents expands recurring events into single instances ordered by
// start time.
func (g *Google) ListEvents(ctx context.Context, maxResults int, timeMin time.Time) ([]model.Event, error) {
	if maxResults <= 0 {
		maxResults = 10
	}
	if timeMin.IsZero() {
		timeMin = g.clock.Now()
	}

	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	out, err := g.events.List(g.cfg.CalendarID).
		MaxResults(int64(maxResults)).
		TimeMin(timeMin.UTC().Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		err = g.fail(err, false)
		appLog.Error("gateway list failed", err, "max_results", maxResults)
		return nil, err
	}

	events := make([]model.Event, 0, len(out.Items))
	for _, it := range out.Items {
		events = append(events, toModel(it))
	}
	return events, nil
}

// DeleteEvent removes the event. Unknown or already deleted ids yield
// ErrNotFound.
func (g *Google) DeleteEvent(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty id", ErrNotFound)
	}
	if err := g.wait(ctx); err != nil {
		return err
	}
	if err := g.events.Delete(g.cfg.CalendarID, id).Context(ctx).Do(); err != nil {
		err = g.fail(err, true)
		if !errors.Is(err, ErrNotFound) {
			appLog.Error("gateway delete failed", err, "id", id)
		}
		return err
	}
	appLog.Info("gateway event deleted", "id", id)
	return nil
}

func (g *Google) wait(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrGateway, err)
	}
	return nil
}

// fail maps a client error onto ErrGateway, or ErrNotFound for deletes of
// missing events. A 401 drops the reused token so the next call fetches a
// fresh one.
func (g *Google) fail(err error, deleting bool) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		// Transport and token failures keep their cause for errors.Is.
		return fmt.Errorf("%w: %w", ErrGateway, err)
	}
	switch apiErr.Code {
	case http.StatusNotFound, http.StatusGone:
		if deleting {
			return ErrNotFound
		}
	case http.StatusUnauthorized:
		if inv, ok := g.tokens.(invalidator); ok {
			inv.Invalidate()
		}
	}
	return fmt.Errorf("%w: %v", ErrGateway, apiErr)
}

func toModel(e *calendar.Event) model.Event {
	pick := func(t *calendar.EventDateTime) string {
		if t == nil {
			return ""
		}
		if t.DateTime != "" {
			return t.DateTime
		}
		return t.Date
	}
	ev := model.Event{
		ID:         e.Id,
		HTMLLink:   e.HtmlLink,
		Summary:    e.Summary,
		Start:      pick(e.Start),
		End:        pick(e.End),
		Recurrence: e.Recurrence,
	}
	if e.Start != nil {
		ev.TimeZone = e.Start.TimeZone
	}
	return ev
}

package gateway

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"habitcal/internal/clock"
	"habitcal/internal/ics"
	"habitcal/internal/model"
	"habitcal/internal/schedule"
	"habitcal/internal/tzclock"
)

// Memory is an in-process calendar used for local development and tests.
// Recurring events are expanded into instances on list, like the remote
// calendar does with singleEvents=true.
type Memory struct {
	clock clock.Clock

	mu     sync.Mutex
	events map[string]memoryEvent
}

type memoryEvent struct {
	event    model.Event
	series   ics.Series
	duration int
}

// NewMemory returns an empty in-memory calendar.
func NewMemory(clk clock.Clock) *Memory {
	if clk == nil {
		clk = clock.Real()
	}
	return &Memory{clock: clk, events: make(map[string]memoryEvent)}
}

func (m *Memory) CreateEvent(_ context.Context, req model.EventRequest) (model.Event, error) {
	zone, err := tzclock.Load(req.TimeZone)
	if err != nil {
		return model.Event{}, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	start, err := tzclock.ParseCivil(req.StartDateTime)
	if err != nil {
		return model.Event{}, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	end, err := tzclock.ParseCivil(req.EndDateTime)
	if err != nil {
		return model.Event{}, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	duration := int(zone.InstantFromCivil(end).Sub(zone.InstantFromCivil(start)) / time.Minute)
	if duration < 0 {
		return model.Event{}, fmt.Errorf("%w: end before start", ErrGateway)
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	ev := model.Event{
		ID:         id,
		HTMLLink:   "memory://events/" + id,
		Summary:    req.Summary,
		Start:      start.String(),
		End:        end.String(),
		TimeZone:   zone.Name(),
		Recurrence: append([]string(nil), req.Recurrence...),
	}

	m.mu.Lock()
	m.events[id] = memoryEvent{
		event:    ev,
		series:   ics.Series{Start: start, Zone: zone, Rules: ev.Recurrence},
		duration: duration,
	}
	m.mu.Unlock()
	return ev, nil
}

type instance struct {
	at time.Time
	ev model.Event
}

func (m *Memory) ListEvents(_ context.Context, maxResults int, timeMin time.Time) ([]model.Event, error) {
	if maxResults <= 0 {
		maxResults = 10
	}
	if timeMin.IsZero() {
		timeMin = m.clock.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]instance, 0)
	for id, me := range m.events {
		starts, err := ics.Starts(me.series, timeMin, maxResults)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGateway, err)
		}
		for _, at := range starts {
			startCivil := me.series.Zone.CivilFromInstant(at)
			endCivil, err := schedule.AddMinutes(startCivil, me.duration, me.series.Zone)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrGateway, err)
			}
			ev := me.event
			ev.Start = startCivil.String()
			ev.End = endCivil.String()
			if len(me.series.Rules) > 0 {
				ev.ID = id + "_" + at.UTC().Format("20060102T150405Z")
				ev.Recurrence = nil
			}
			all = append(all, instance{at: at, ev: ev})
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].at.Equal(all[j].at) {
			return all[i].ev.ID < all[j].ev.ID
		}
		return all[i].at.Before(all[j].at)
	})
	if len(all) > maxResults {
		all = all[:maxResults]
	}
	out := make([]model.Event, 0, len(all))
	for _, in := range all {
		out = append(out, in.ev)
	}
	return out, nil
}

func (m *Memory) DeleteEvent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[id]; !ok {
		return ErrNotFound
	}
	delete(m.events, id)
	return nil
}

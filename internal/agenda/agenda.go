// Package agenda keeps a periodically refreshed list of upcoming calendar
// events so read requests do not hit the calendar provider each time.
package agenda

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"habitcal/internal/clock"
	appLog "habitcal/internal/log"
	"habitcal/internal/model"
)

// Lister returns upcoming events, soonest first.
type Lister interface {
	Upcoming(ctx context.Context, max int) ([]model.Event, error)
}

// Snapshot is the cached state at one refresh.
type Snapshot struct {
	Events      []model.Event `json:"events"`
	RefreshedAt time.Time     `json:"refreshed_at"`
	// Err is the message of the last failed refresh, if the cache is stale.
	Err string `json:"error,omitempty"`
}

// Agenda caches the next Size events from a Lister.
type Agenda struct {
	src     Lister
	clock   clock.Clock
	size    int
	timeout time.Duration

	mu          sync.RWMutex
	events      []model.Event
	refreshedAt time.Time
	lastErr     error

	cmu sync.Mutex
	c   *cron.Cron
}

// New returns an empty agenda. A non-positive size means 20 events.
func New(src Lister, clk clock.Clock, size int, timeout time.Duration) *Agenda {
	if clk == nil {
		clk = clock.Real()
	}
	if size <= 0 {
		size = 20
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Agenda{src: src, clock: clk, size: size, timeout: timeout}
}

// Refresh reloads the cache. On failure the previous events are kept and
// the error is remembered for Snapshot.
func (a *Agenda) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	events, err := a.src.Upcoming(ctx, a.size)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastErr = err
	if err != nil {
		appLog.Error("agenda refresh failed", err)
		return err
	}
	a.events = events
	a.refreshedAt = a.clock.Now()
	appLog.Debug("agenda refreshed", "events", len(events))
	return nil
}

// Snapshot returns at most max cached events (all when max <= 0).
func (a *Agenda) Snapshot(max int) Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	n := len(a.events)
	if max > 0 && max < n {
		n = max
	}
	s := Snapshot{
		Events:      append([]model.Event{}, a.events[:n]...),
		RefreshedAt: a.refreshedAt,
	}
	if a.lastErr != nil {
		s.Err = a.lastErr.Error()
	}
	return s
}

// Loaded reports whether at least one refresh has succeeded.
func (a *Agenda) Loaded() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return !a.refreshedAt.IsZero()
}

// Start runs Refresh on the standard 5-field cron spec in loc until Stop.
// Calling Start twice is a no-op.
func (a *Agenda) Start(spec string, loc *time.Location) error {
	a.cmu.Lock()
	defer a.cmu.Unlock()
	if a.c != nil {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}
	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(spec, func() {
		_ = a.Refresh(context.Background())
	}); err != nil {
		return err
	}
	c.Start()
	a.c = c
	appLog.Info("agenda refresher started", "spec", spec, "tz", loc.String())
	return nil
}

// Stop halts the schedule and waits for a running refresh to finish or ctx
// to end.
func (a *Agenda) Stop(ctx context.Context) {
	a.cmu.Lock()
	c := a.c
	a.c = nil
	a.cmu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	appLog.Info("agenda refresher stopped")
}

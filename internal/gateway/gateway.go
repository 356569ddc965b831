// Package gateway is the narrow create/list/delete surface of the remote
// calendar. Failures are opaque to callers: they wrap ErrGateway (or
// ErrNotFound for deletes of unknown ids) and are never retried here.
package gateway

import (
	"context"
	"errors"
	"time"

	"habitcal/internal/model"
)

var (
	// ErrGateway wraps every transport, auth or provider failure.
	ErrGateway = errors.New("calendar gateway failure")
	// ErrNotFound is returned when deleting an event id the calendar does
	// not know.
	ErrNotFound = errors.New("calendar event not found")
)

// Gateway is the calendar backend.
type Gateway interface {
	CreateEvent(ctx context.Context, req model.EventRequest) (model.Event, error)
	// ListEvents returns at most maxResults events starting at or after
	// timeMin, soonest first. A zero timeMin means "now".
	ListEvents(ctx context.Context, maxResults int, timeMin time.Time) ([]model.Event, error)
	DeleteEvent(ctx context.Context, id string) error
}

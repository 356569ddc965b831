package model

// EventRequest is the payload sent to the calendar to create an event.
// Start and end are civil date-times without an offset
// ("2025-03-04T07:00:00"); the zone travels separately in TimeZone so the
// provider applies its own DST rules.
type EventRequest struct {
	Summary       string `json:"summary"`
	Description   string `json:"description,omitempty"`
	StartDateTime string `json:"start_date_time"`
	EndDateTime   string `json:"end_date_time"`
	TimeZone      string `json:"time_zone"`

	// Recurrence holds RRULE lines. Empty means a single event.
	Recurrence []string `json:"recurrence,omitempty"`
}

// Event is a calendar event as confirmed by the provider.
type Event struct {
	ID       string `json:"id"`
	HTMLLink string `json:"html_link"`
	Summary  string `json:"summary"`

	// Start / End are the provider's date-times, or plain dates for all-day
	// events.
	Start    string `json:"start"`
	End      string `json:"end"`
	TimeZone string `json:"time_zone,omitempty"`

	Recurrence []string `json:"recurrence,omitempty"`
}

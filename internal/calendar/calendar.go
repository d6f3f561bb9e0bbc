package calendar

import (
	"context"
	"time"
)

// SourceEvent is a timed event read from a source calendar.
// Start and End are always set and in UTC.
type SourceEvent struct {
	ID          string
	CalendarID  string
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
}

// Source is a generic interface for reading source calendars.
// Both the Google Calendar and ICS feed sources implement this interface.
type Source interface {
	// ID identifies the calendar in logs and errors.
	ID() string
	// ListEvents returns timed events starting in [timeMin, timeMax),
	// ordered by start time. All-day events are never returned.
	ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]SourceEvent, error)
}

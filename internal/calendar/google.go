package calendar

import (
	"context"
	"fmt"
	"net/http"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// GoogleSource is a wrapper around the Google Calendar API service for one calendar.
type GoogleSource struct {
	service    *gcal.Service
	calendarID string
}

// NewGoogleSource creates a Google Calendar source using the provided HTTP client.
// Extra options are passed to the service constructor (tests point it at a fake endpoint).
func NewGoogleSource(ctx context.Context, httpClient *http.Client, calendarID string, opts ...option.ClientOption) (*GoogleSource, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	service, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return &GoogleSource{service: service, calendarID: calendarID}, nil
}

// ID returns the Google calendar id.
func (s *GoogleSource) ID() string { return s.calendarID }

// ListEvents retrieves timed events in the window.
// Important: SingleEvents(true) expands recurring events so that OrderBy("startTime") is allowed.
func (s *GoogleSource) ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]SourceEvent, error) {
	call := s.service.Events.List(s.calendarID).
		TimeMin(timeMin.Format(time.RFC3339)).
		TimeMax(timeMax.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx)

	var events []SourceEvent
	err := call.Pages(ctx, func(page *gcal.Events) error {
		for _, item := range page.Items {
			if ev, ok := s.convert(item); ok {
				events = append(events, ev)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

// convert maps an API event to a SourceEvent. All-day events (Date instead of
// DateTime) and cancelled instances are rejected.
func (s *GoogleSource) convert(item *gcal.Event) (SourceEvent, bool) {
	if item.Status == "cancelled" {
		return SourceEvent{}, false
	}
	if item.Start == nil || item.End == nil || item.Start.DateTime == "" || item.End.DateTime == "" {
		return SourceEvent{}, false
	}
	start, err := time.Parse(time.RFC3339, item.Start.DateTime)
	if err != nil {
		return SourceEvent{}, false
	}
	end, err := time.Parse(time.RFC3339, item.End.DateTime)
	if err != nil {
		return SourceEvent{}, false
	}
	return SourceEvent{
		ID:          item.Id,
		CalendarID:  s.calendarID,
		Title:       item.Summary,
		Description: item.Description,
		Location:    item.Location,
		Start:       start.UTC(),
		End:         end.UTC(),
	}, true
}

package calendar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-ical"
)

// ICSSource reads events from an iCalendar feed over HTTP.
type ICSSource struct {
	httpClient *http.Client
	id         string
	url        string
}

// NewICSSource creates an ICS feed source. id is used for logging and as the
// calendar id of returned events.
func NewICSSource(httpClient *http.Client, id, url string) *ICSSource {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ICSSource{httpClient: httpClient, id: id, url: url}
}

// ID returns the configured feed id.
func (s *ICSSource) ID() string { return s.id }

// ListEvents downloads the feed and returns the timed event instances starting
// in [timeMin, timeMax). Recurring events are expanded; RECURRENCE-ID
// overrides replace the instance they modify.
func (s *ICSSource) ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]SourceEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "text/calendar")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch feed: %s", resp.Status)
	}

	events, err := parseICS(resp.Body, s.id, timeMin, timeMax)
	if err != nil {
		return nil, err
	}
	SortByStart(events)
	return events, nil
}

// parseICS decodes every calendar in r and returns the instances in the window.
func parseICS(r io.Reader, calendarID string, timeMin, timeMax time.Time) ([]SourceEvent, error) {
	dec := ical.NewDecoder(r)

	var masters []ical.Event
	overrides := make(map[string]ical.Event) // uid/recurrence-id -> override
	for {
		cal, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode calendar: %w", err)
		}
		for _, ev := range cal.Events() {
			if ev.Props.Get(ical.PropRecurrenceID) != nil {
				rid, err := ev.Props.DateTime(ical.PropRecurrenceID, time.UTC)
				if err != nil {
					continue
				}
				overrides[instanceID(uid(ev), rid)] = ev
				continue
			}
			masters = append(masters, ev)
		}
	}

	var out []SourceEvent
	for _, ev := range masters {
		if !isTimed(ev) {
			continue
		}
		start, err := ev.DateTimeStart(time.UTC)
		if err != nil {
			continue
		}
		end, err := ev.DateTimeEnd(time.UTC)
		if err != nil || end.IsZero() {
			continue
		}

		set, err := ev.RecurrenceSet(time.UTC)
		if err != nil {
			continue
		}
		if set == nil {
			if se, ok := toSourceEvent(ev, calendarID, uid(ev), start, end); ok && inWindow(se.Start, timeMin, timeMax) {
				out = append(out, se)
			}
			continue
		}

		duration := end.Sub(start)
		for _, occ := range set.Between(timeMin.Add(-time.Second), timeMax, true) {
			occ = occ.UTC()
			id := instanceID(uid(ev), occ)
			if _, overridden := overrides[id]; overridden {
				continue
			}
			if se, ok := toSourceEvent(ev, calendarID, id, occ, occ.Add(duration)); ok && inWindow(se.Start, timeMin, timeMax) {
				out = append(out, se)
			}
		}
	}

	for id, ev := range overrides {
		if !isTimed(ev) {
			continue
		}
		start, err := ev.DateTimeStart(time.UTC)
		if err != nil {
			continue
		}
		end, err := ev.DateTimeEnd(time.UTC)
		if err != nil || end.IsZero() {
			continue
		}
		if se, ok := toSourceEvent(ev, calendarID, id, start, end); ok && inWindow(se.Start, timeMin, timeMax) {
			out = append(out, se)
		}
	}

	return out, nil
}

func toSourceEvent(ev ical.Event, calendarID, id string, start, end time.Time) (SourceEvent, bool) {
	if status, _ := ev.Props.Text(ical.PropStatus); strings.EqualFold(status, "CANCELLED") {
		return SourceEvent{}, false
	}
	title, _ := ev.Props.Text(ical.PropSummary)
	description, _ := ev.Props.Text(ical.PropDescription)
	location, _ := ev.Props.Text(ical.PropLocation)
	return SourceEvent{
		ID:          id,
		CalendarID:  calendarID,
		Title:       title,
		Description: description,
		Location:    location,
		Start:       start.UTC(),
		End:         end.UTC(),
	}, true
}

// isTimed rejects all-day events, whose DTSTART carries VALUE=DATE.
func isTimed(ev ical.Event) bool {
	prop := ev.Props.Get(ical.PropDateTimeStart)
	if prop == nil {
		return false
	}
	return prop.ValueType() != ical.ValueDate
}

func uid(ev ical.Event) string {
	if prop := ev.Props.Get(ical.PropUID); prop != nil {
		return prop.Value
	}
	return ""
}

func instanceID(uid string, start time.Time) string {
	return uid + "/" + start.UTC().Format(time.RFC3339)
}

func inWindow(t, timeMin, timeMax time.Time) bool {
	return !t.Before(timeMin) && t.Before(timeMax)
}

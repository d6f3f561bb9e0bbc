// Package status renders the bot presence text for the next upcoming event.
package status

import (
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/strftime"

	"github.com/beekhof/calendar-discord-sync/internal/calendar"
)

const (
	placeholderEvent = "%event"
	placeholderNext  = "%next"
)

// DefaultNoEvents is shown when the window holds no events.
const DefaultNoEvents = "No upcoming events"

// Formatter turns the next event into a presence string using a template with
// %event, %next and strftime directives.
type Formatter struct {
	template    string
	location    *time.Location
	shortTitles map[string]string
	noEvents    string
}

// Option configures a Formatter.
type Option func(*Formatter)

// WithShortTitles remaps titles before substitution. Keys match case-insensitively.
func WithShortTitles(titles map[string]string) Option {
	return func(f *Formatter) {
		for k, v := range titles {
			f.shortTitles[strings.ToLower(strings.TrimSpace(k))] = v
		}
	}
}

// WithNoEventsText overrides the text used for an empty window.
func WithNoEventsText(text string) Option {
	return func(f *Formatter) {
		if text != "" {
			f.noEvents = text
		}
	}
}

// NewFormatter creates a Formatter. loc is the timezone used both for the
// day comparison behind %next and for the time directives; nil means UTC.
func NewFormatter(template string, loc *time.Location, opts ...Option) *Formatter {
	if loc == nil {
		loc = time.UTC
	}
	f := &Formatter{
		template:    template,
		location:    loc,
		shortTitles: map[string]string{},
		noEvents:    DefaultNoEvents,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Format renders the status for the first of events, which must be ordered
// by start time.
func (f *Formatter) Format(events []calendar.SourceEvent, now time.Time) (string, error) {
	if len(events) == 0 {
		return f.noEvents, nil
	}
	next := events[0]
	start := next.Start.In(f.location)

	// %next goes first so an escaped title can never produce it.
	pattern := f.template
	if strings.Contains(pattern, placeholderNext) {
		pattern = strings.ReplaceAll(pattern, placeholderNext, dayDirective(now.In(f.location), start))
	}
	pattern = strings.ReplaceAll(pattern, placeholderEvent, escape(f.title(next.Title)))

	out, err := strftime.Format(pattern, start)
	if err != nil {
		return "", fmt.Errorf("failed to format status %q: %w", f.template, err)
	}
	return out, nil
}

func (f *Formatter) title(title string) string {
	if short, ok := f.shortTitles[strings.ToLower(strings.TrimSpace(title))]; ok {
		return short
	}
	return title
}

// dayDirective picks the replacement for %next from the number of calendar
// days between now and start, both already in the display timezone.
func dayDirective(now, start time.Time) string {
	switch days := calendarDays(now, start); {
	case days <= 0:
		return "Today"
	case days == 1:
		return "Tomorrow"
	case days <= 7:
		return "%a"
	default:
		return "%b %d"
	}
}

func calendarDays(from, to time.Time) int {
	a := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

func escape(s string) string {
	return strings.ReplaceAll(s, "%", "%%")
}

package calendar

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// SourceError records a failed read of one calendar.
type SourceError struct {
	CalendarID string
	Err        error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("calendar %s: %v", e.CalendarID, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// FetchError is returned alongside the events that could be read when one or
// more calendars failed.
type FetchError struct {
	Failed []*SourceError
}

func (e *FetchError) Error() string {
	errs := make([]error, len(e.Failed))
	for i, f := range e.Failed {
		errs[i] = f
	}
	return errors.Join(errs...).Error()
}

// Fetcher reads the look-ahead window from all configured calendars.
type Fetcher struct {
	sources []Source
	window  time.Duration
	logger  zerolog.Logger
}

// NewFetcher creates a Fetcher over sources with the given look-ahead window.
func NewFetcher(sources []Source, window time.Duration, logger zerolog.Logger) *Fetcher {
	return &Fetcher{
		sources: sources,
		window:  window,
		logger:  logger.With().Str("component", "fetcher").Logger(),
	}
}

// Fetch returns the timed events starting in [now, now+window) across all
// calendars, ordered by start time. A calendar that cannot be read is skipped
// and reported in a *FetchError; the events of the other calendars are still
// returned.
func (f *Fetcher) Fetch(ctx context.Context, now time.Time) ([]SourceEvent, error) {
	timeMin := now.UTC()
	timeMax := timeMin.Add(f.window)

	var all []SourceEvent
	var failed []*SourceError
	for _, src := range f.sources {
		events, err := src.ListEvents(ctx, timeMin, timeMax)
		if err != nil {
			f.logger.Warn().Err(err).Str("calendar", src.ID()).Msg("skipping calendar for this cycle")
			failed = append(failed, &SourceError{CalendarID: src.ID(), Err: err})
			continue
		}
		for _, ev := range events {
			if ev.Start.IsZero() || ev.End.IsZero() {
				continue
			}
			if ev.Start.Before(timeMin) || !ev.Start.Before(timeMax) {
				continue
			}
			all = append(all, ev)
		}
		f.logger.Debug().Str("calendar", src.ID()).Int("count", len(events)).Msg("calendar read")
	}

	SortByStart(all)

	if len(failed) > 0 {
		return all, &FetchError{Failed: failed}
	}
	return all, nil
}

// SortByStart orders events by start instant. Ties keep their relative order,
// then fall back to the event id so merged results are deterministic.
func SortByStart(events []SourceEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Start.Equal(events[j].Start) {
			return events[i].Start.Before(events[j].Start)
		}
		return events[i].ID < events[j].ID
	})
}

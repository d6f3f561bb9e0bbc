package sync

import (
	"github.com/beekhof/calendar-discord-sync/internal/calendar"
	"github.com/beekhof/calendar-discord-sync/internal/platform"
)

// project builds the platform payload for a source event.
// The venue is either the resolved channel or the external location; the
// platform rejects payloads carrying both.
func project(ev calendar.SourceEvent, venue platform.Venue) platform.Payload {
	return platform.Payload{
		Name:        ev.Title,
		Description: ev.Description,
		Start:       ev.Start.UTC(),
		End:         ev.End.UTC(),
		Venue:       venue,
	}
}

// differs reports whether any projected field diverges from the live event.
func differs(p platform.Payload, live platform.TargetEvent) bool {
	return p.Name != live.Name ||
		p.Description != live.Description ||
		!p.Start.Equal(live.Start) ||
		!p.End.Equal(live.End) ||
		!p.Venue.Equal(live.Venue)
}

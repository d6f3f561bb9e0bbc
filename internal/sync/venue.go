package sync

import (
	"strings"

	"github.com/beekhof/calendar-discord-sync/internal/platform"
)

// resolveVenue picks the voice channel for a free-text location.
// A channel whose name matches the trimmed location case-insensitively wins;
// the first match in enumeration order is used. Otherwise the fallback
// channel is used if configured, else the event is external with the
// location text kept.
func resolveVenue(location string, venues platform.VenueTable) platform.Venue {
	location = strings.TrimSpace(location)
	if location != "" {
		for _, ch := range venues.Channels {
			if strings.EqualFold(strings.TrimSpace(ch.Name), location) {
				return platform.ChannelVenue(ch.ID)
			}
		}
	}
	if venues.Fallback != nil {
		return platform.ChannelVenue(venues.Fallback.ID)
	}
	return platform.ExternalVenue(location)
}

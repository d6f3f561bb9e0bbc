package platform

import "fmt"

type venueKind uint8

const (
	venueNone venueKind = iota
	venueChannel
	venueExternal
)

// Venue is either a voice channel or an external location, never both.
// The zero value is an external venue with an empty location.
type Venue struct {
	kind      venueKind
	channelID string
	location  string
}

// ChannelVenue hosts an event in the given voice channel.
func ChannelVenue(channelID string) Venue {
	return Venue{kind: venueChannel, channelID: channelID}
}

// ExternalVenue marks an event as happening outside the guild.
func ExternalVenue(location string) Venue {
	return Venue{kind: venueExternal, location: location}
}

// Channel returns the channel id and true for channel venues.
func (v Venue) Channel() (string, bool) {
	return v.channelID, v.kind == venueChannel
}

// External returns the location text and true for external venues.
func (v Venue) External() (string, bool) {
	return v.location, v.kind != venueChannel
}

// Equal reports whether both venues point at the same place.
func (v Venue) Equal(o Venue) bool {
	vc, vIsChan := v.Channel()
	oc, oIsChan := o.Channel()
	if vIsChan != oIsChan {
		return false
	}
	if vIsChan {
		return vc == oc
	}
	return v.location == o.location
}

func (v Venue) String() string {
	if id, ok := v.Channel(); ok {
		return fmt.Sprintf("channel:%s", id)
	}
	return fmt.Sprintf("external:%q", v.location)
}

package discord

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"github.com/beekhof/calendar-discord-sync/internal/platform"
)

var statusFromDiscord = map[discordgo.GuildScheduledEventStatus]platform.Status{
	discordgo.GuildScheduledEventStatusScheduled: platform.StatusScheduled,
	discordgo.GuildScheduledEventStatusActive:    platform.StatusActive,
	discordgo.GuildScheduledEventStatusCompleted: platform.StatusCompleted,
	discordgo.GuildScheduledEventStatusCanceled:  platform.StatusCanceled,
}

// toTarget converts a Discord scheduled event. botID decides ownership.
func toTarget(ev *discordgo.GuildScheduledEvent, botID string) platform.TargetEvent {
	t := platform.TargetEvent{
		ID:          ev.ID,
		Name:        ev.Name,
		Description: ev.Description,
		Start:       ev.ScheduledStartTime.UTC(),
		Status:      statusFromDiscord[ev.Status],
		Owned:       botID != "" && ev.CreatorID == botID,
	}
	if ev.ScheduledEndTime != nil {
		t.End = ev.ScheduledEndTime.UTC()
	}
	if ev.EntityType == discordgo.GuildScheduledEventEntityTypeExternal {
		t.Venue = platform.ExternalVenue(ev.EntityMetadata.Location)
	} else {
		t.Venue = platform.ChannelVenue(ev.ChannelID)
	}
	return t
}

// toParams builds the create/edit body for p. stage reports whether a
// channel id is a stage channel, which needs a different entity type.
func toParams(p platform.Payload, stage func(channelID string) bool) *discordgo.GuildScheduledEventParams {
	start := p.Start.UTC()
	end := p.End.UTC()
	params := &discordgo.GuildScheduledEventParams{
		Name:               p.Name,
		Description:        p.Description,
		ScheduledStartTime: &start,
		ScheduledEndTime:   &end,
		PrivacyLevel:       discordgo.GuildScheduledEventPrivacyLevelGuildOnly,
	}
	if channelID, ok := p.Venue.Channel(); ok {
		params.ChannelID = channelID
		params.EntityType = discordgo.GuildScheduledEventEntityTypeVoice
		if stage != nil && stage(channelID) {
			params.EntityType = discordgo.GuildScheduledEventEntityTypeStageInstance
		}
	} else {
		location, _ := p.Venue.External()
		params.EntityType = discordgo.GuildScheduledEventEntityTypeExternal
		params.EntityMetadata = &discordgo.GuildScheduledEventEntityMetadata{Location: location}
	}
	return params
}

// editBody renders params as a complete PATCH body. Empty optional fields
// are sent as null so the API clears them instead of keeping the old value.
func editBody(params *discordgo.GuildScheduledEventParams) (json.RawMessage, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, err
	}

	null := json.RawMessage("null")
	body["description"] = null
	if params.Description != "" {
		if body["description"], err = json.Marshal(params.Description); err != nil {
			return nil, err
		}
	}
	if params.EntityMetadata == nil {
		body["entity_metadata"] = null
	}
	if params.ChannelID == "" {
		body["channel_id"] = null
	}
	return json.Marshal(body)
}

// imageDataURI encodes raw image bytes the way the API expects them.
func imageDataURI(img []byte) string {
	mime := http.DetectContentType(img)
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img)
}

// isNotFound reports whether err is a 404 from the REST API.
func isNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		return restErr.Response.StatusCode == http.StatusNotFound
	}
	return false
}

// voiceCapable reports whether events can be hosted in a channel of type t.
func voiceCapable(t discordgo.ChannelType) bool {
	return t == discordgo.ChannelTypeGuildVoice || t == discordgo.ChannelTypeGuildStageVoice
}

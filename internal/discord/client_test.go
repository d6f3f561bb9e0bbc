package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/beekhof/calendar-discord-sync/internal/platform"
)

const (
	testGuild = "g1"
	testBot   = "bot"
)

type editCall struct {
	id     string
	params *discordgo.GuildScheduledEventParams
}

// fakeSession records REST calls and serves canned guild data.
type fakeSession struct {
	guild    *discordgo.Guild
	channels []*discordgo.Channel
	events   []*discordgo.GuildScheduledEvent

	created  []*discordgo.GuildScheduledEventParams
	edits    []editCall
	presence []discordgo.UpdateStatusData
	patches  []map[string]json.RawMessage

	errFetch error
}

func (f *fakeSession) Guild(guildID string, _ ...discordgo.RequestOption) (*discordgo.Guild, error) {
	if f.guild == nil || f.guild.ID != guildID {
		return nil, notFound()
	}
	return f.guild, nil
}

func (f *fakeSession) Channel(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	for _, ch := range f.channels {
		if ch.ID == channelID {
			return ch, nil
		}
	}
	return nil, notFound()
}

func (f *fakeSession) GuildChannels(guildID string, _ ...discordgo.RequestOption) ([]*discordgo.Channel, error) {
	return append([]*discordgo.Channel(nil), f.channels...), nil
}

func (f *fakeSession) GuildScheduledEvents(guildID string, _ bool, _ ...discordgo.RequestOption) ([]*discordgo.GuildScheduledEvent, error) {
	return f.events, nil
}

func (f *fakeSession) GuildScheduledEvent(guildID, eventID string, _ bool, _ ...discordgo.RequestOption) (*discordgo.GuildScheduledEvent, error) {
	if f.errFetch != nil {
		return nil, f.errFetch
	}
	for _, ev := range f.events {
		if ev.ID == eventID {
			return ev, nil
		}
	}
	return nil, notFound()
}

func (f *fakeSession) GuildScheduledEventCreate(guildID string, p *discordgo.GuildScheduledEventParams, _ ...discordgo.RequestOption) (*discordgo.GuildScheduledEvent, error) {
	f.created = append(f.created, p)
	return &discordgo.GuildScheduledEvent{
		ID:                 "new",
		GuildID:            guildID,
		CreatorID:          testBot,
		Name:               p.Name,
		ScheduledStartTime: *p.ScheduledStartTime,
		ScheduledEndTime:   p.ScheduledEndTime,
		EntityType:         p.EntityType,
		ChannelID:          p.ChannelID,
		Status:             discordgo.GuildScheduledEventStatusScheduled,
	}, nil
}

func (f *fakeSession) GuildScheduledEventEdit(guildID, eventID string, p *discordgo.GuildScheduledEventParams, _ ...discordgo.RequestOption) (*discordgo.GuildScheduledEvent, error) {
	f.edits = append(f.edits, editCall{id: eventID, params: p})
	return &discordgo.GuildScheduledEvent{ID: eventID, CreatorID: testBot, Name: p.Name}, nil
}

func (f *fakeSession) UpdateStatusComplex(usd discordgo.UpdateStatusData) error {
	f.presence = append(f.presence, usd)
	return nil
}

// RequestWithBucketID applies PATCH bodies to the stored events the way the
// API does: keys present replace the stored value, null clears it, and
// absent keys are left alone.
func (f *fakeSession) RequestWithBucketID(method, urlStr string, data interface{}, _ string, _ ...discordgo.RequestOption) ([]byte, error) {
	if method != http.MethodPatch {
		return nil, fmt.Errorf("unexpected %s %s", method, urlStr)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var patch map[string]json.RawMessage
	if err := json.Unmarshal(raw, &patch); err != nil {
		return nil, err
	}
	f.patches = append(f.patches, patch)

	id := urlStr[strings.LastIndex(urlStr, "/")+1:]
	for i, ev := range f.events {
		if ev.ID != id {
			continue
		}
		stored, err := json.Marshal(ev)
		if err != nil {
			return nil, err
		}
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(stored, &doc); err != nil {
			return nil, err
		}
		for k, v := range patch {
			if string(v) == "null" {
				delete(doc, k)
			} else {
				doc[k] = v
			}
		}
		merged, err := json.Marshal(doc)
		if err != nil {
			return nil, err
		}
		var updated discordgo.GuildScheduledEvent
		if err := json.Unmarshal(merged, &updated); err != nil {
			return nil, err
		}
		f.events[i] = &updated
		return merged, nil
	}
	return nil, notFound()
}

func notFound() error {
	return &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusNotFound},
		Message:  &discordgo.APIErrorMessage{Code: 10070, Message: "Unknown Guild Scheduled Event"},
	}
}

func newTestClient(fs *fakeSession, fallback string) *Client {
	return NewClient(fs, Config{GuildID: testGuild, FallbackChannelID: fallback, BotUserID: testBot}, zerolog.Nop())
}

func testChannels() []*discordgo.Channel {
	return []*discordgo.Channel{
		{ID: "text", GuildID: testGuild, Name: "chat", Type: discordgo.ChannelTypeGuildText, Position: 0},
		{ID: "v2", GuildID: testGuild, Name: "Lounge", Type: discordgo.ChannelTypeGuildVoice, Position: 2},
		{ID: "v1", GuildID: testGuild, Name: "General", Type: discordgo.ChannelTypeGuildVoice, Position: 1},
		{ID: "stage", GuildID: testGuild, Name: "Stage", Type: discordgo.ChannelTypeGuildStageVoice, Position: 3},
		{ID: "other", GuildID: "g2", Name: "Elsewhere", Type: discordgo.ChannelTypeGuildVoice, Position: 0},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		guild    *discordgo.Guild
		fallback string
		wantErr  string
	}{
		{"guild only", &discordgo.Guild{ID: testGuild}, "", ""},
		{"voice fallback", &discordgo.Guild{ID: testGuild}, "v1", ""},
		{"stage fallback", &discordgo.Guild{ID: testGuild}, "stage", ""},
		{"missing guild", nil, "", "guild g1 not found"},
		{"missing fallback", &discordgo.Guild{ID: testGuild}, "nope", "fallback channel nope not found"},
		{"text fallback", &discordgo.Guild{ID: testGuild}, "text", "not a voice channel"},
		{"foreign fallback", &discordgo.Guild{ID: testGuild}, "other", "not in guild"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(&fakeSession{guild: tt.guild, channels: testChannels()}, tt.fallback)
			err := c.Validate(context.Background())
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate failed: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("got %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestVenues(t *testing.T) {
	c := newTestClient(&fakeSession{channels: testChannels()}, "stage")

	table, err := c.Venues(context.Background())
	if err != nil {
		t.Fatalf("Venues failed: %v", err)
	}
	if len(table.Channels) != 3 {
		t.Fatalf("Expected 3 voice channels, got %+v", table.Channels)
	}
	if table.Channels[0].ID != "other" || table.Channels[1].ID != "v1" || table.Channels[2].ID != "v2" {
		t.Errorf("Expected position order, got %+v", table.Channels)
	}
	if table.Fallback == nil || table.Fallback.ID != "stage" {
		t.Errorf("Expected stage fallback, got %+v", table.Fallback)
	}
	if !c.isStage("stage") || c.isStage("v1") {
		t.Error("Expected stage channels to be remembered")
	}
}

func TestListOwnedEvents(t *testing.T) {
	start := time.Date(2024, 1, 16, 18, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	fs := &fakeSession{events: []*discordgo.GuildScheduledEvent{
		{ID: "e1", CreatorID: testBot, Name: "Quiz", ScheduledStartTime: start, ScheduledEndTime: &end,
			EntityType: discordgo.GuildScheduledEventEntityTypeVoice, ChannelID: "v1",
			Status: discordgo.GuildScheduledEventStatusScheduled},
		{ID: "e2", CreatorID: "someone", Name: "Manual"},
		{ID: "e3", CreatorID: testBot, Name: "Meetup", ScheduledStartTime: start,
			EntityType:     discordgo.GuildScheduledEventEntityTypeExternal,
			EntityMetadata: discordgo.GuildScheduledEventEntityMetadata{Location: "Pub"},
			Status:         discordgo.GuildScheduledEventStatusActive},
	}}

	owned, err := newTestClient(fs, "").ListOwnedEvents(context.Background())
	if err != nil {
		t.Fatalf("ListOwnedEvents failed: %v", err)
	}
	if len(owned) != 2 || owned[0].ID != "e1" || owned[1].ID != "e3" {
		t.Fatalf("Expected only bot events, got %+v", owned)
	}
	if ch, ok := owned[0].Venue.Channel(); !ok || ch != "v1" || !owned[0].End.Equal(end) {
		t.Errorf("Unexpected voice event: %+v", owned[0])
	}
	if loc, ok := owned[1].Venue.External(); !ok || loc != "Pub" || owned[1].Status != platform.StatusActive {
		t.Errorf("Unexpected external event: %+v", owned[1])
	}
	if !owned[1].End.IsZero() {
		t.Error("Expected zero end when the platform has none")
	}
}

func TestFetchEvent_NotFound(t *testing.T) {
	c := newTestClient(&fakeSession{}, "")
	_, err := c.FetchEvent(context.Background(), "missing")
	if !errors.Is(err, platform.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	c = newTestClient(&fakeSession{errFetch: errors.New("timeout")}, "")
	_, err = c.FetchEvent(context.Background(), "e1")
	if err == nil || errors.Is(err, platform.ErrNotFound) {
		t.Errorf("Expected a plain error, got %v", err)
	}
}

func TestCreateEvent(t *testing.T) {
	fs := &fakeSession{channels: testChannels()}
	c := newTestClient(fs, "")
	if _, err := c.Venues(context.Background()); err != nil {
		t.Fatal(err)
	}
	start := time.Date(2024, 1, 16, 18, 0, 0, 0, time.FixedZone("CET", 3600))
	png := []byte("\x89PNG\r\n\x1a\n0000")

	ev, err := c.CreateEvent(context.Background(), platform.Payload{
		Name: "Quiz", Start: start, End: start.Add(time.Hour),
		Venue: platform.ChannelVenue("v1"), Image: png,
	})
	if err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}
	if ev.ID != "new" || !ev.Owned {
		t.Errorf("Unexpected event: %+v", ev)
	}
	p := fs.created[0]
	if p.EntityType != discordgo.GuildScheduledEventEntityTypeVoice || p.ChannelID != "v1" || p.EntityMetadata != nil {
		t.Errorf("Unexpected venue params: %+v", p)
	}
	if p.PrivacyLevel != discordgo.GuildScheduledEventPrivacyLevelGuildOnly {
		t.Error("Expected guild-only privacy")
	}
	if p.ScheduledStartTime.Location() != time.UTC || !p.ScheduledStartTime.Equal(start) {
		t.Errorf("Expected UTC start, got %v", p.ScheduledStartTime)
	}
	if !strings.HasPrefix(p.Image, "data:image/png;base64,") {
		t.Errorf("Expected PNG data URI, got %q", p.Image)
	}

	_, err = c.CreateEvent(context.Background(), platform.Payload{
		Name: "Stage talk", Start: start, End: start.Add(time.Hour), Venue: platform.ChannelVenue("stage"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if fs.created[1].EntityType != discordgo.GuildScheduledEventEntityTypeStageInstance || fs.created[1].Image != "" {
		t.Errorf("Expected stage entity without image, got %+v", fs.created[1])
	}
}

func TestUpdateEvent_External(t *testing.T) {
	start := time.Date(2024, 1, 16, 18, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	fs := &fakeSession{events: []*discordgo.GuildScheduledEvent{
		{ID: "e1", CreatorID: testBot, Name: "Meetup", Description: "Old notes", ScheduledStartTime: start,
			ScheduledEndTime: &end, EntityType: discordgo.GuildScheduledEventEntityTypeVoice, ChannelID: "v1"},
	}}
	c := newTestClient(fs, "")

	ev, err := c.UpdateEvent(context.Background(), "e1", platform.Payload{
		Name: "Meetup", Start: start, End: end, Venue: platform.ExternalVenue("Pub"),
	})
	if err != nil {
		t.Fatalf("UpdateEvent failed: %v", err)
	}
	if loc, ok := ev.Venue.External(); !ok || loc != "Pub" || ev.Description != "" || !ev.Owned {
		t.Errorf("Unexpected updated event: %+v", ev)
	}

	body := fs.patches[0]
	for _, key := range []string{"name", "description", "scheduled_start_time", "scheduled_end_time",
		"entity_type", "entity_metadata", "channel_id", "privacy_level"} {
		if _, ok := body[key]; !ok {
			t.Errorf("Expected %q in the update body, got %s", key, mustJSON(t, body))
		}
	}
	if string(body["description"]) != "null" || string(body["channel_id"]) != "null" {
		t.Errorf("Expected cleared description and channel, got %s", mustJSON(t, body))
	}
	if string(body["entity_metadata"]) != `{"location":"Pub"}` {
		t.Errorf("Expected location metadata, got %s", body["entity_metadata"])
	}
	if _, ok := body["image"]; ok {
		t.Error("Updates must not resend the image")
	}
}

func TestUpdateEvent_NotFound(t *testing.T) {
	start := time.Date(2024, 1, 16, 18, 0, 0, 0, time.UTC)
	_, err := newTestClient(&fakeSession{}, "").UpdateEvent(context.Background(), "gone", platform.Payload{
		Name: "Quiz", Start: start, End: start.Add(time.Hour), Venue: platform.ChannelVenue("v1"),
	})
	if err == nil {
		t.Error("Expected an error for a missing event")
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestStatusChanges(t *testing.T) {
	fs := &fakeSession{}
	c := newTestClient(fs, "")

	if err := c.CancelEvent(context.Background(), "e1"); err != nil {
		t.Fatal(err)
	}
	if err := c.StartEvent(context.Background(), "e2"); err != nil {
		t.Fatal(err)
	}
	if err := c.SetImage(context.Background(), "e3", []byte("GIF89a")); err != nil {
		t.Fatal(err)
	}

	if fs.edits[0].id != "e1" || fs.edits[0].params.Status != discordgo.GuildScheduledEventStatusCanceled {
		t.Errorf("Unexpected cancel: %+v", fs.edits[0])
	}
	if fs.edits[1].id != "e2" || fs.edits[1].params.Status != discordgo.GuildScheduledEventStatusActive {
		t.Errorf("Unexpected start: %+v", fs.edits[1])
	}
	if !strings.HasPrefix(fs.edits[2].params.Image, "data:image/gif;base64,") || fs.edits[2].params.Name != "" {
		t.Errorf("Unexpected image edit: %+v", fs.edits[2].params)
	}
}

func TestSetPresence(t *testing.T) {
	fs := &fakeSession{}
	if err := newTestClient(fs, "").SetPresence(context.Background(), "Next: Quiz"); err != nil {
		t.Fatal(err)
	}
	act := fs.presence[0].Activities[0]
	if act.Type != discordgo.ActivityTypeCustom || act.State != "Next: Quiz" {
		t.Errorf("Unexpected activity: %+v", act)
	}
}

// Package discord implements the event platform on top of Discord guild
// scheduled events.
package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/beekhof/calendar-discord-sync/internal/platform"
)

// Session abstracts the discordgo REST and gateway calls used by Client.
// *discordgo.Session satisfies it.
type Session interface {
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	GuildScheduledEvents(guildID string, userCount bool, options ...discordgo.RequestOption) ([]*discordgo.GuildScheduledEvent, error)
	GuildScheduledEvent(guildID, eventID string, userCount bool, options ...discordgo.RequestOption) (*discordgo.GuildScheduledEvent, error)
	GuildScheduledEventCreate(guildID string, event *discordgo.GuildScheduledEventParams, options ...discordgo.RequestOption) (*discordgo.GuildScheduledEvent, error)
	GuildScheduledEventEdit(guildID, eventID string, event *discordgo.GuildScheduledEventParams, options ...discordgo.RequestOption) (*discordgo.GuildScheduledEvent, error)
	UpdateStatusComplex(usd discordgo.UpdateStatusData) error
	RequestWithBucketID(method, urlStr string, data interface{}, bucketID string, options ...discordgo.RequestOption) ([]byte, error)
}

// Config identifies the guild and optional fallback channel.
type Config struct {
	GuildID           string
	FallbackChannelID string
	// BotUserID is the bot's own user id; only events it created are owned.
	BotUserID string
}

// Client implements platform.Client for one Discord guild.
type Client struct {
	session Session
	cfg     Config
	logger  zerolog.Logger

	mu     sync.Mutex
	stages map[string]bool
}

// NewClient creates a Client over an open session.
func NewClient(session Session, cfg Config, logger zerolog.Logger) *Client {
	return &Client{
		session: session,
		cfg:     cfg,
		logger:  logger.With().Str("component", "discord").Str("guild", cfg.GuildID).Logger(),
		stages:  map[string]bool{},
	}
}

// Validate checks that the guild exists and that the fallback channel, when
// configured, belongs to it and can host events.
func (c *Client) Validate(ctx context.Context) error {
	guild, err := c.session.Guild(c.cfg.GuildID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("guild %s not found: %w", c.cfg.GuildID, err)
	}
	c.logger.Info().Str("name", guild.Name).Msg("connected to guild")

	if c.cfg.FallbackChannelID == "" {
		return nil
	}
	ch, err := c.session.Channel(c.cfg.FallbackChannelID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("fallback channel %s not found: %w", c.cfg.FallbackChannelID, err)
	}
	if ch.GuildID != c.cfg.GuildID {
		return fmt.Errorf("fallback channel %s is not in guild %s", ch.ID, c.cfg.GuildID)
	}
	if !voiceCapable(ch.Type) {
		return fmt.Errorf("fallback channel %s (%s) is not a voice channel", ch.ID, ch.Name)
	}
	return nil
}

func (c *Client) ListOwnedEvents(ctx context.Context) ([]platform.TargetEvent, error) {
	events, err := c.session.GuildScheduledEvents(c.cfg.GuildID, false, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled events: %w", err)
	}
	var owned []platform.TargetEvent
	for _, ev := range events {
		t := toTarget(ev, c.cfg.BotUserID)
		if t.Owned {
			owned = append(owned, t)
		}
	}
	c.logger.Debug().Int("total", len(events)).Int("owned", len(owned)).Msg("listed scheduled events")
	return owned, nil
}

func (c *Client) FetchEvent(ctx context.Context, id string) (platform.TargetEvent, error) {
	ev, err := c.session.GuildScheduledEvent(c.cfg.GuildID, id, false, discordgo.WithContext(ctx))
	if err != nil {
		if isNotFound(err) {
			return platform.TargetEvent{}, fmt.Errorf("event %s: %w", id, platform.ErrNotFound)
		}
		return platform.TargetEvent{}, fmt.Errorf("failed to fetch event %s: %w", id, err)
	}
	return toTarget(ev, c.cfg.BotUserID), nil
}

func (c *Client) CreateEvent(ctx context.Context, p platform.Payload) (platform.TargetEvent, error) {
	params := toParams(p, c.isStage)
	if p.Image != nil {
		params.Image = imageDataURI(p.Image)
	}
	ev, err := c.session.GuildScheduledEventCreate(c.cfg.GuildID, params, discordgo.WithContext(ctx))
	if err != nil {
		return platform.TargetEvent{}, err
	}
	return toTarget(ev, c.cfg.BotUserID), nil
}

// UpdateEvent replaces every projected field of the event. The body is sent
// directly because the library's params drop empty descriptions.
func (c *Client) UpdateEvent(ctx context.Context, id string, p platform.Payload) (platform.TargetEvent, error) {
	body, err := editBody(toParams(p, c.isStage))
	if err != nil {
		return platform.TargetEvent{}, fmt.Errorf("failed to encode event %s: %w", id, err)
	}
	endpoint := discordgo.EndpointGuildScheduledEvent(c.cfg.GuildID, id)
	resp, err := c.session.RequestWithBucketID(http.MethodPatch, endpoint, body, endpoint, discordgo.WithContext(ctx))
	if err != nil {
		return platform.TargetEvent{}, err
	}
	var ev discordgo.GuildScheduledEvent
	if err := json.Unmarshal(resp, &ev); err != nil {
		return platform.TargetEvent{}, fmt.Errorf("failed to decode event %s: %w", id, err)
	}
	return toTarget(&ev, c.cfg.BotUserID), nil
}

func (c *Client) CancelEvent(ctx context.Context, id string) error {
	return c.setStatus(ctx, id, discordgo.GuildScheduledEventStatusCanceled)
}

func (c *Client) StartEvent(ctx context.Context, id string) error {
	return c.setStatus(ctx, id, discordgo.GuildScheduledEventStatusActive)
}

func (c *Client) setStatus(ctx context.Context, id string, status discordgo.GuildScheduledEventStatus) error {
	params := &discordgo.GuildScheduledEventParams{Status: status}
	if _, err := c.session.GuildScheduledEventEdit(c.cfg.GuildID, id, params, discordgo.WithContext(ctx)); err != nil {
		return err
	}
	return nil
}

func (c *Client) SetImage(ctx context.Context, id string, image []byte) error {
	params := &discordgo.GuildScheduledEventParams{Image: imageDataURI(image)}
	if _, err := c.session.GuildScheduledEventEdit(c.cfg.GuildID, id, params, discordgo.WithContext(ctx)); err != nil {
		return err
	}
	return nil
}

// Venues returns the guild's voice channels in position order plus the
// fallback channel, if configured and still present.
func (c *Client) Venues(ctx context.Context) (platform.VenueTable, error) {
	channels, err := c.session.GuildChannels(c.cfg.GuildID, discordgo.WithContext(ctx))
	if err != nil {
		return platform.VenueTable{}, fmt.Errorf("failed to list channels: %w", err)
	}
	sort.SliceStable(channels, func(i, j int) bool {
		return channels[i].Position < channels[j].Position
	})

	var table platform.VenueTable
	stages := map[string]bool{}
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildStageVoice {
			stages[ch.ID] = true
		}
		if ch.Type == discordgo.ChannelTypeGuildVoice {
			table.Channels = append(table.Channels, platform.Channel{ID: ch.ID, Name: ch.Name})
		}
		if ch.ID == c.cfg.FallbackChannelID && voiceCapable(ch.Type) {
			table.Fallback = &platform.Channel{ID: ch.ID, Name: ch.Name}
		}
	}
	if c.cfg.FallbackChannelID != "" && table.Fallback == nil {
		c.logger.Warn().Str("channel", c.cfg.FallbackChannelID).Msg("fallback channel is gone, using external locations")
	}

	c.mu.Lock()
	c.stages = stages
	c.mu.Unlock()
	return table, nil
}

func (c *Client) isStage(channelID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stages[channelID]
}

// SetPresence shows text as the bot's custom status.
func (c *Client) SetPresence(ctx context.Context, text string) error {
	return c.session.UpdateStatusComplex(discordgo.UpdateStatusData{
		Status: string(discordgo.StatusOnline),
		Activities: []*discordgo.Activity{{
			Name:  "Custom Status",
			Type:  discordgo.ActivityTypeCustom,
			State: text,
		}},
	})
}

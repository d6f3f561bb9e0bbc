package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Source types.
const (
	SourceGoogle = "google"
	SourceICS    = "ics"
)

// CalendarSource is one calendar to read events from.
type CalendarSource struct {
	ID   string `mapstructure:"id"`   // Google calendar id, or a name for ICS feeds
	Type string `mapstructure:"type"` // "google" (default) or "ics"
	URL  string `mapstructure:"url"`  // ICS feed URL
}

// GoogleConfig points at the Google credentials.
type GoogleConfig struct {
	CredentialsPath string `mapstructure:"credentials_path"` // service account key or OAuth client JSON
	TokenPath       string `mapstructure:"token_path"`       // OAuth token, only for OAuth client credentials
}

// DiscordConfig identifies the bot and its guild.
type DiscordConfig struct {
	Token                  string   `mapstructure:"token"`
	GuildID                string   `mapstructure:"guild_id"`
	FallbackVoiceChannelID string   `mapstructure:"fallback_voice_channel_id"`
	AdminUserIDs           []string `mapstructure:"admin_user_ids"`
	CommandPrefix          string   `mapstructure:"command_prefix"`
}

// SyncConfig controls the window and cadence.
type SyncConfig struct {
	DaysAhead         int           `mapstructure:"days_ahead"`
	GracePeriod       time.Duration `mapstructure:"grace_period"`
	UpdateInterval    time.Duration `mapstructure:"update_interval"`
	AutostartInterval time.Duration `mapstructure:"autostart_interval"` // 0 disables autostart
	MappingFile       string        `mapstructure:"mapping_file"`
}

// StatusConfig controls the bot presence text.
type StatusConfig struct {
	Enabled      bool              `mapstructure:"enabled"`
	Template     string            `mapstructure:"template"`
	Timezone     string            `mapstructure:"timezone"`
	ShortTitles  map[string]string `mapstructure:"short_titles"`
	NoEventsText string            `mapstructure:"no_events_text"`
}

// ImagesConfig locates event cover images.
type ImagesConfig struct {
	Directory  string   `mapstructure:"directory"`
	Extensions []string `mapstructure:"extensions"`
}

// SlackConfig enables posting outcome lines to Slack.
type SlackConfig struct {
	Token   string `mapstructure:"token"`
	Channel string `mapstructure:"channel"`
}

// NATSConfig enables publishing outcome lines to NATS.
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// NotifyConfig holds the optional outcome sinks.
type NotifyConfig struct {
	Slack SlackConfig `mapstructure:"slack"`
	NATS  NATSConfig  `mapstructure:"nats"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Config holds the configuration for the event sync bot.
type Config struct {
	Calendars []CalendarSource `mapstructure:"calendars"`
	Google    GoogleConfig     `mapstructure:"google"`
	Discord   DiscordConfig    `mapstructure:"discord"`
	Sync      SyncConfig       `mapstructure:"sync"`
	Status    StatusConfig     `mapstructure:"status"`
	Images    ImagesConfig     `mapstructure:"images"`
	Notify    NotifyConfig     `mapstructure:"notify"`
	Log       LogConfig        `mapstructure:"log"`
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"guild-id":                "discord.guild_id",
	"google-credentials-path": "google.credentials_path",
	"google-token-path":       "google.token_path",
	"mapping-file":            "sync.mapping_file",
	"days-ahead":              "sync.days_ahead",
	"log-level":               "log.level",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("google.credentials_path", "")
	v.SetDefault("google.token_path", "token.json")
	v.SetDefault("discord.token", "")
	v.SetDefault("discord.guild_id", "")
	v.SetDefault("discord.fallback_voice_channel_id", "")
	v.SetDefault("discord.admin_user_ids", []string{})
	v.SetDefault("discord.command_prefix", "!")
	v.SetDefault("sync.days_ahead", 14)
	v.SetDefault("sync.grace_period", "5m")
	v.SetDefault("sync.update_interval", "60m")
	v.SetDefault("sync.autostart_interval", "1m")
	v.SetDefault("sync.mapping_file", "event_mapping.json")
	v.SetDefault("status.enabled", true)
	v.SetDefault("status.template", "Next: %event - %next %H:%M (GMT)")
	v.SetDefault("status.timezone", "GMT")
	v.SetDefault("status.no_events_text", "No upcoming events")
	v.SetDefault("images.directory", "images")
	v.SetDefault("images.extensions", []string{"jpg", "jpeg", "png", "webp", "gif"})
	v.SetDefault("notify.slack.token", "")
	v.SetDefault("notify.slack.channel", "")
	v.SetDefault("notify.nats.url", "")
	v.SetDefault("notify.nats.subject", "eventsync.outcomes")
	v.SetDefault("log.level", "info")
}

// Load reads the configuration with the following precedence (highest to lowest):
// 1. Command-line flags
// 2. Environment variables (EVENTSYNC_<SECTION>_<KEY>, plus DISCORD_TOKEN,
// GOOGLE_CREDENTIALS_PATH and SLACK_BOT_TOKEN)
// 3. Config file (YAML, TOML or JSON)
// 4. Defaults
// flags may be nil. Callers validate the result with Validate or ValidateForAuth.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("eventsync")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/eventsync")
		v.AddConfigPath("/etc/eventsync")
	}

	v.SetEnvPrefix("EVENTSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("discord.token", "EVENTSYNC_DISCORD_TOKEN", "DISCORD_TOKEN")
	v.BindEnv("google.credentials_path", "EVENTSYNC_GOOGLE_CREDENTIALS_PATH", "GOOGLE_CREDENTIALS_PATH")
	v.BindEnv("notify.slack.token", "EVENTSYNC_NOTIFY_SLACK_TOKEN", "SLACK_BOT_TOKEN")

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// An explicit file must exist; the search paths are optional.
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Validate checks required values and applies per-source defaults.
func (c *Config) Validate() error {
	if c.Discord.Token == "" {
		return fmt.Errorf("discord.token must be provided via config file, EVENTSYNC_DISCORD_TOKEN or DISCORD_TOKEN")
	}
	if c.Discord.GuildID == "" {
		return fmt.Errorf("discord.guild_id must be provided via --guild-id flag, EVENTSYNC_DISCORD_GUILD_ID or config file")
	}
	if len(c.Calendars) == 0 {
		return fmt.Errorf("calendars must be provided in config file. At least one calendar is required")
	}

	needsGoogle := false
	for i := range c.Calendars {
		cal := &c.Calendars[i]
		if cal.Type == "" {
			cal.Type = SourceGoogle
		}
		switch cal.Type {
		case SourceGoogle:
			if cal.ID == "" {
				return fmt.Errorf("calendars[%d]: id must be provided for a Google calendar", i)
			}
			needsGoogle = true
		case SourceICS:
			if cal.URL == "" {
				return fmt.Errorf("calendars[%d]: url must be provided for an ICS calendar", i)
			}
			if cal.ID == "" {
				cal.ID = cal.URL
			}
		default:
			return fmt.Errorf("calendars[%d].type must be 'google' or 'ics', got '%s'", i, cal.Type)
		}
	}
	if needsGoogle && c.Google.CredentialsPath == "" {
		return fmt.Errorf("google.credentials_path must be provided via --google-credentials-path flag, GOOGLE_CREDENTIALS_PATH or config file")
	}

	if c.Sync.DaysAhead <= 0 {
		return fmt.Errorf("sync.days_ahead must be positive, got %d", c.Sync.DaysAhead)
	}
	if c.Sync.GracePeriod < 0 {
		return fmt.Errorf("sync.grace_period must not be negative, got %s", c.Sync.GracePeriod)
	}
	if c.Sync.UpdateInterval < time.Minute {
		return fmt.Errorf("sync.update_interval must be at least 1m, got %s", c.Sync.UpdateInterval)
	}
	if c.Sync.AutostartInterval < 0 {
		return fmt.Errorf("sync.autostart_interval must not be negative, got %s", c.Sync.AutostartInterval)
	}
	if c.Sync.MappingFile == "" {
		return fmt.Errorf("sync.mapping_file must not be empty")
	}

	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log.level %q: %w", c.Log.Level, err)
	}
	if (c.Notify.Slack.Token == "") != (c.Notify.Slack.Channel == "") {
		return fmt.Errorf("notify.slack.token and notify.slack.channel must be set together")
	}
	return nil
}

// ValidateForAuth checks that the config is valid for the auth subcommand.
func (c *Config) ValidateForAuth() error {
	if c.Google.CredentialsPath == "" {
		return fmt.Errorf("google.credentials_path must be provided via --google-credentials-path flag, GOOGLE_CREDENTIALS_PATH or config file")
	}
	if c.Google.TokenPath == "" {
		return fmt.Errorf("google.token_path must not be empty")
	}
	return nil
}

// Window is the look-ahead window length.
func (c *Config) Window() time.Duration {
	return time.Duration(c.Sync.DaysAhead) * 24 * time.Hour
}

// Location returns the status display timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Status.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid status.timezone %q: %w", c.Status.Timezone, err)
	}
	return loc, nil
}

// CredentialsKind tells how a Google credentials file authenticates.
type CredentialsKind int

const (
	ServiceAccount CredentialsKind = iota + 1
	OAuthClient
)

// GoogleCredentials represents the structure of a Google credentials JSON file:
// either a service account key or an OAuth client ("installed" or "web").
type GoogleCredentials struct {
	Type      string `json:"type"`
	Installed struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	} `json:"installed"`
	Web struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	} `json:"web"`

	Kind         CredentialsKind `json:"-"`
	ClientID     string          `json:"-"`
	ClientSecret string          `json:"-"`
	// Raw holds the file contents for the JWT and OAuth helpers.
	Raw []byte `json:"-"`
}

// LoadGoogleCredentials loads Google credentials from a JSON file.
func LoadGoogleCredentials(path string) (*GoogleCredentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	var creds GoogleCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	creds.Raw = data

	if creds.Type == "service_account" {
		creds.Kind = ServiceAccount
		return &creds, nil
	}

	// Try "installed" first (for desktop apps), then "web"
	switch {
	case creds.Installed.ClientID != "":
		creds.ClientID, creds.ClientSecret = creds.Installed.ClientID, creds.Installed.ClientSecret
	case creds.Web.ClientID != "":
		creds.ClientID, creds.ClientSecret = creds.Web.ClientID, creds.Web.ClientSecret
	default:
		return nil, fmt.Errorf("no client_id found in credentials file (expected a service account key or an 'installed' or 'web' section)")
	}
	creds.Kind = OAuthClient
	return &creds, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/beekhof/calendar-discord-sync/internal/auth"
	"github.com/beekhof/calendar-discord-sync/internal/calendar"
	"github.com/beekhof/calendar-discord-sync/internal/config"
	"github.com/beekhof/calendar-discord-sync/internal/discord"
	"github.com/beekhof/calendar-discord-sync/internal/images"
	"github.com/beekhof/calendar-discord-sync/internal/notify"
	"github.com/beekhof/calendar-discord-sync/internal/scheduler"
	"github.com/beekhof/calendar-discord-sync/internal/status"
	"github.com/beekhof/calendar-discord-sync/internal/store"
	"github.com/beekhof/calendar-discord-sync/internal/sync"
)

// app holds the wired components shared by the daemon and one-shot commands.
type app struct {
	cfg     *config.Config
	session *discordgo.Session
	client  *discord.Client
	syncer  *sync.Syncer
	nats    *notify.NATS
	logger  zerolog.Logger
}

// newApp connects to Discord and builds the sync pipeline.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	sources, err := buildSources(ctx, cfg)
	if err != nil {
		return nil, err
	}
	fetcher := calendar.NewFetcher(sources, cfg.Window(), logger)

	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildScheduledEvents
	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("failed to connect to Discord: %w", err)
	}

	a := &app{cfg: cfg, session: session, logger: logger}
	if err := a.build(ctx, fetcher); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context, fetcher sync.EventFetcher) error {
	cfg := a.cfg
	a.client = discord.NewClient(a.session, discord.Config{
		GuildID:           cfg.Discord.GuildID,
		FallbackChannelID: cfg.Discord.FallbackVoiceChannelID,
		BotUserID:         a.session.State.User.ID,
	}, a.logger)
	if err := a.client.Validate(ctx); err != nil {
		return err
	}

	opts := sync.Options{
		Grace:  cfg.Sync.GracePeriod,
		Images: images.NewResolver(cfg.Images.Directory, cfg.Images.Extensions),
	}
	if cfg.Status.Enabled {
		loc, err := cfg.Location()
		if err != nil {
			return err
		}
		opts.Status = status.NewFormatter(cfg.Status.Template, loc,
			status.WithShortTitles(cfg.Status.ShortTitles),
			status.WithNoEventsText(cfg.Status.NoEventsText))
	}

	var sinks notify.Multi
	if cfg.Notify.Slack.Token != "" {
		sinks = append(sinks, notify.NewSlack(cfg.Notify.Slack.Token, cfg.Notify.Slack.Channel))
	}
	if cfg.Notify.NATS.URL != "" {
		nc, err := notify.NewNATS(cfg.Notify.NATS.URL, cfg.Notify.NATS.Subject, a.logger)
		if err != nil {
			return err
		}
		a.nats = nc
		sinks = append(sinks, nc)
	}
	if len(sinks) > 0 {
		opts.Notifier = sinks
	}

	syncer, err := sync.NewSyncer(fetcher, a.client, store.NewFileStore(cfg.Sync.MappingFile), opts, a.logger)
	if err != nil {
		return err
	}
	a.syncer = syncer
	return nil
}

func (a *app) close() {
	if a.nats != nil {
		if err := a.nats.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to drain NATS connection")
		}
	}
	if err := a.session.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("failed to close Discord session")
	}
}

// buildSources creates one calendar source per configured calendar. Google
// calendars share one authenticated HTTP client.
func buildSources(ctx context.Context, cfg *config.Config) ([]calendar.Source, error) {
	var googleClient *http.Client
	icsClient := &http.Client{Timeout: 30 * time.Second}

	sources := make([]calendar.Source, 0, len(cfg.Calendars))
	for _, cal := range cfg.Calendars {
		switch cal.Type {
		case config.SourceICS:
			sources = append(sources, calendar.NewICSSource(icsClient, cal.ID, cal.URL))
		default:
			if googleClient == nil {
				c, err := googleHTTPClient(ctx, cfg)
				if err != nil {
					return nil, err
				}
				googleClient = c
			}
			src, err := calendar.NewGoogleSource(ctx, googleClient, cal.ID)
			if err != nil {
				return nil, err
			}
			sources = append(sources, src)
		}
	}
	return sources, nil
}

func googleHTTPClient(ctx context.Context, cfg *config.Config) (*http.Client, error) {
	creds, err := config.LoadGoogleCredentials(cfg.Google.CredentialsPath)
	if err != nil {
		return nil, err
	}
	if creds.Kind == config.ServiceAccount {
		return auth.NewServiceAccountClient(ctx, creds.Raw)
	}
	return auth.NewOAuthClient(ctx, auth.OAuthConfig(creds.ClientID, creds.ClientSecret),
		auth.NewFileTokenStore(cfg.Google.TokenPath))
}

// runOnce performs a single sync cycle, or an image refresh, and prints the
// outcome lines to out.
func runOnce(ctx context.Context, cfg *config.Config, logger zerolog.Logger, out io.Writer, refreshImages bool) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	run := a.syncer.Sync
	if refreshImages {
		run = a.syncer.RefreshImages
	}
	report, err := run(ctx)
	for _, line := range report.Lines() {
		fmt.Fprintln(out, line)
	}
	return err
}

// runDaemon syncs at startup and then on the configured cadence until ctx
// is canceled. Scheduled runs and chat commands never overlap.
func runDaemon(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	sched := scheduler.New(logger)
	syncJob := func(ctx context.Context) error {
		_, err := a.syncer.Sync(ctx)
		return err
	}

	if err := sched.Do(ctx, syncJob); err != nil {
		logger.Error().Err(err).Msg("initial sync failed")
	}
	if err := sched.Every("sync", cfg.Sync.UpdateInterval, syncJob); err != nil {
		return err
	}
	if cfg.Sync.AutostartInterval > 0 {
		if err := sched.Every("autostart", cfg.Sync.AutostartInterval, func(ctx context.Context) error {
			_, err := a.syncer.Autostart(ctx)
			return err
		}); err != nil {
			return err
		}
	}

	commands := discord.NewCommands(ctx, cfg.Discord.CommandPrefix, cfg.Discord.AdminUserIDs,
		serialized(sched, a.syncer.Sync), serialized(sched, a.syncer.RefreshImages), logger)
	removeHandler := a.session.AddHandler(commands.OnMessageCreate)
	defer removeHandler()

	sched.Start()
	logger.Info().
		Str("guild", cfg.Discord.GuildID).
		Dur("update_interval", cfg.Sync.UpdateInterval).
		Int("calendars", len(cfg.Calendars)).
		Msg("eventsync running")

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	sched.Stop()
	return nil
}

// serialized adapts a syncer run into a command action that waits its turn
// on the scheduler.
func serialized(sched *scheduler.Scheduler, run func(context.Context) (sync.Report, error)) discord.Action {
	return func(ctx context.Context) ([]string, error) {
		var report sync.Report
		err := sched.Do(ctx, func(ctx context.Context) error {
			var err error
			report, err = run(ctx)
			return err
		})
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return report.Lines(), err
	}
}

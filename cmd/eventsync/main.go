package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/beekhof/calendar-discord-sync/internal/auth"
	"github.com/beekhof/calendar-discord-sync/internal/config"
)

var version = "dev"

func main() {
	var (
		cfgFile string
		verbose bool
	)

	// load reads and validates the configuration and builds the logger.
	load := func(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
		cfg, err := config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, zerolog.Nop(), fmt.Errorf("invalid config: %w", err)
		}
		return cfg, newLogger(cfg.Log.Level, verbose), nil
	}

	rootCmd := &cobra.Command{
		Use:   "eventsync",
		Short: "Mirror calendar events into Discord scheduled events",
		Long: `eventsync keeps a Discord guild's scheduled events in step with one or
more calendars (Google Calendar or ICS feeds). Events created by the bot are
owned by it: they are updated when the calendar changes and canceled when the
calendar event disappears. Events created by people are never touched.

Configuration precedence (highest to lowest): command-line flags,
environment variables (EVENTSYNC_<SECTION>_<KEY>, DISCORD_TOKEN,
GOOGLE_CREDENTIALS_PATH, SLACK_BOT_TOKEN), the config file, defaults.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, cfg, logger)
		},
	}

	onceCmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single sync cycle and print the outcome lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runOnce(ctx, cfg, logger, cmd.OutOrStdout(), false)
		},
	}

	imagesCmd := &cobra.Command{
		Use:   "images",
		Short: "Re-apply cover images to every mapped event",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runOnce(ctx, cfg, logger, cmd.OutOrStdout(), true)
		},
	}

	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "Authorize Google Calendar access with an OAuth client and store the token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.ValidateForAuth(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			creds, err := config.LoadGoogleCredentials(cfg.Google.CredentialsPath)
			if err != nil {
				return err
			}
			if creds.Kind == config.ServiceAccount {
				fmt.Fprintln(cmd.OutOrStdout(), "Service account credentials need no authorization. Share the calendars with the account's email instead.")
				return nil
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return auth.Authorize(ctx, auth.OAuthConfig(creds.ClientID, creds.ClientSecret),
				auth.NewFileTokenStore(cfg.Google.TokenPath), cmd.OutOrStdout())
		},
	}

	rootCmd.Version = version
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file path (default: eventsync.yaml in ., $HOME/.config/eventsync or /etc/eventsync)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flags.String("guild-id", "", "Discord guild id (overrides config file and EVENTSYNC_DISCORD_GUILD_ID)")
	flags.String("google-credentials-path", "", "Google service account key or OAuth client JSON (overrides config file and GOOGLE_CREDENTIALS_PATH)")
	flags.String("google-token-path", "", "where the OAuth token is stored")
	flags.String("mapping-file", "", "path of the event mapping file")
	flags.Int("days-ahead", 0, "look-ahead window in days")
	flags.String("log-level", "", "log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(onceCmd, imagesCmd, authCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the console logger. verbose forces debug output.
func newLogger(level string, verbose bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	if verbose {
		lvl = zerolog.DebugLevel
	}
	return zerolog.New(
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339},
	).Level(lvl).With().Timestamp().Logger()
}

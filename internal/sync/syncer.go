package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/beekhof/calendar-discord-sync/internal/calendar"
	"github.com/beekhof/calendar-discord-sync/internal/platform"
	"github.com/beekhof/calendar-discord-sync/internal/store"
)

// EventFetcher reads the look-ahead window from the source calendars.
type EventFetcher interface {
	Fetch(ctx context.Context, now time.Time) ([]calendar.SourceEvent, error)
}

// StatusFormatter renders the presence text for the next event.
type StatusFormatter interface {
	Format(events []calendar.SourceEvent, now time.Time) (string, error)
}

// Notifier receives the outcome lines of each run.
type Notifier interface {
	Notify(ctx context.Context, cycle string, lines []string) error
}

// Options tunes a Syncer. Zero values disable the optional parts.
type Options struct {
	Grace    time.Duration
	Images   ImageFinder
	Status   StatusFormatter
	Notifier Notifier
	Now      func() time.Time
}

// Syncer runs full cycles: fetch, reconcile, persist, presence.
// It is not safe for concurrent use; callers serialize runs.
type Syncer struct {
	fetcher    EventFetcher
	client     platform.Client
	reconciler *Reconciler
	images     ImageFinder
	status     StatusFormatter
	notifier   Notifier
	mapping    store.Mapping
	now        func() time.Time
	logger     zerolog.Logger
}

// NewSyncer creates a new Syncer and loads the persisted mapping.
func NewSyncer(fetcher EventFetcher, client platform.Client, mappingStore MappingStore, opts Options, logger zerolog.Logger) (*Syncer, error) {
	mapping, err := mappingStore.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load mapping: %w", err)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger = logger.With().Str("component", "syncer").Logger()
	logger.Info().Int("mapped", len(mapping)).Msg("loaded event mapping")

	return &Syncer{
		fetcher:    fetcher,
		client:     client,
		reconciler: NewReconciler(client, mappingStore, opts.Images, opts.Grace, logger),
		images:     opts.Images,
		status:     opts.Status,
		notifier:   opts.Notifier,
		mapping:    mapping,
		now:        now,
		logger:     logger,
	}, nil
}

// Mapping returns a copy of the current mapping.
func (s *Syncer) Mapping() store.Mapping {
	return s.mapping.Clone()
}

// Sync performs one reconciliation cycle and returns its outcomes.
func (s *Syncer) Sync(ctx context.Context) (Report, error) {
	report := Report{Cycle: uuid.NewString()}
	logger := s.logger.With().Str("cycle", report.Cycle).Logger()
	now := s.now().UTC()

	logger.Info().Msg("fetching events from calendars")
	events, err := s.fetcher.Fetch(ctx, now)
	skipCancel := false
	if err != nil {
		var fe *calendar.FetchError
		if !errors.As(err, &fe) {
			return s.finish(ctx, report, fmt.Errorf("failed to fetch events: %w", err))
		}
		for _, f := range fe.Failed {
			report.add(Outcome{Kind: SourceFailed, SourceID: f.CalendarID, Err: f.Err})
		}
		skipCancel = true
	}

	venues, err := s.client.Venues(ctx)
	if err != nil {
		return s.finish(ctx, report, fmt.Errorf("failed to list venues: %w", err))
	}
	owned, err := s.client.ListOwnedEvents(ctx)
	if err != nil {
		report.add(Outcome{Kind: Failed, Action: "list", Title: "(all)", Err: err})
		if saveErr := s.reconciler.store.Save(s.mapping); saveErr != nil {
			logger.Error().Err(saveErr).Msg("failed to save mapping")
		}
		return s.finish(ctx, report, fmt.Errorf("failed to list events: %w", err))
	}

	pass := &Pass{
		Now:        now,
		Events:     events,
		Owned:      owned,
		Venues:     venues,
		Mapping:    s.mapping,
		SkipCancel: skipCancel,
	}
	if err := s.reconciler.Reconcile(ctx, pass, &report); err != nil {
		s.mapping = pass.Mapping
		return s.finish(ctx, report, err)
	}
	s.mapping = pass.Mapping

	switch {
	case s.status == nil:
	case len(events) == 0 && skipCancel:
		// An empty window from unreadable calendars says nothing about
		// what is coming up; keep the current presence.
		logger.Warn().Msg("no calendar could be read, leaving status unchanged")
	default:
		s.updateStatus(ctx, events, now, &report, logger)
	}

	logger.Info().
		Int("events", len(events)).
		Int("created", report.Count(Created)).
		Int("updated", report.Count(Updated)).
		Int("canceled", report.Count(Canceled)).
		Int("failed", report.Count(Failed)).
		Msg("sync complete")
	return s.finish(ctx, report, nil)
}

func (s *Syncer) updateStatus(ctx context.Context, events []calendar.SourceEvent, now time.Time, report *Report, logger zerolog.Logger) {
	text, err := s.status.Format(events, now)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to format status")
		report.add(Outcome{Kind: Failed, Action: "format status for", Title: "(status)", Err: err})
		return
	}
	if err := s.client.SetPresence(ctx, text); err != nil {
		logger.Warn().Err(err).Msg("failed to set presence")
		report.add(Outcome{Kind: Failed, Action: "set status for", Title: "(status)", Err: err})
		return
	}
	report.add(Outcome{Kind: StatusSet, Title: text})
}

// RefreshImages re-applies cover images to every mapped event.
func (s *Syncer) RefreshImages(ctx context.Context) (Report, error) {
	report := Report{Cycle: uuid.NewString()}
	if s.images == nil {
		return s.finish(ctx, report, nil)
	}

	for _, sourceID := range s.mapping.SourceIDs() {
		if ctx.Err() != nil {
			return s.finish(ctx, report, ctx.Err())
		}
		targetID := s.mapping[sourceID]
		ev, err := s.client.FetchEvent(ctx, targetID)
		if errors.Is(err, platform.ErrNotFound) {
			report.add(Outcome{Kind: NotFound, SourceID: sourceID, TargetID: targetID})
			continue
		}
		if err != nil {
			report.add(Outcome{Kind: Failed, Action: "fetch", SourceID: sourceID, TargetID: targetID, Title: targetID, Err: err})
			continue
		}

		img, err := s.images.Find(ev.Name)
		if err != nil {
			report.add(Outcome{Kind: Failed, Action: "read image for", TargetID: targetID, Title: ev.Name, Err: err})
			continue
		}
		if img == nil {
			report.add(Outcome{Kind: ImageMissing, TargetID: targetID, Title: ev.Name})
			continue
		}
		if err := s.client.SetImage(ctx, targetID, img); err != nil {
			report.add(Outcome{Kind: Failed, Action: "set image on", TargetID: targetID, Title: ev.Name, Err: err})
			continue
		}
		report.add(Outcome{Kind: ImageUpdated, TargetID: targetID, Title: ev.Name})
	}
	return s.finish(ctx, report, nil)
}

// Autostart switches owned events that are still scheduled but whose start
// time has passed to active.
func (s *Syncer) Autostart(ctx context.Context) (Report, error) {
	report := Report{Cycle: uuid.NewString()}
	owned, err := s.client.ListOwnedEvents(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list events: %w", err)
	}
	now := s.now()
	for _, ev := range owned {
		if ev.Status != platform.StatusScheduled || ev.Start.After(now) {
			continue
		}
		if err := s.client.StartEvent(ctx, ev.ID); err != nil {
			report.add(Outcome{Kind: Failed, Action: "start", TargetID: ev.ID, Title: ev.Name, Err: err})
			continue
		}
		report.add(Outcome{Kind: Started, TargetID: ev.ID, Title: ev.Name})
	}
	if len(report.Outcomes) == 0 {
		return report, nil
	}
	return s.finish(ctx, report, nil)
}

// finish logs and forwards the outcome lines, then returns report and err.
func (s *Syncer) finish(ctx context.Context, report Report, err error) (Report, error) {
	lines := report.Lines()
	for _, line := range lines {
		s.logger.Info().Str("cycle", report.Cycle).Msg(line)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("cycle", report.Cycle).Msg("run failed")
	}
	if s.notifier != nil && len(lines) > 0 {
		if nerr := s.notifier.Notify(ctx, report.Cycle, lines); nerr != nil {
			s.logger.Warn().Err(nerr).Str("cycle", report.Cycle).Msg("failed to deliver outcome lines")
		}
	}
	return report, err
}

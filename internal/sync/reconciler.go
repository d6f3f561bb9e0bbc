package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/beekhof/calendar-discord-sync/internal/calendar"
	"github.com/beekhof/calendar-discord-sync/internal/platform"
	"github.com/beekhof/calendar-discord-sync/internal/store"
)

// MappingStore persists the mapping between cycles.
type MappingStore interface {
	Load() (store.Mapping, error)
	Save(store.Mapping) error
}

// ImageFinder looks up an optional cover image by event title.
// A nil slice with a nil error means there is no image.
type ImageFinder interface {
	Find(title string) ([]byte, error)
}

// Pass is everything one reconciliation needs. It is built fresh for every
// cycle and never shared between cycles.
type Pass struct {
	Now time.Time
	// Events is the fetched window, ordered by start time.
	Events []calendar.SourceEvent
	// Owned holds the live platform events created by this bot.
	Owned  []platform.TargetEvent
	Venues platform.VenueTable
	// Mapping is updated in place.
	Mapping store.Mapping
	// SkipCancel disables the cancellation pass; set when a calendar could
	// not be read and missing events cannot be told apart from failures.
	SkipCancel bool
}

// Reconciler converges the platform's events towards the fetched window.
type Reconciler struct {
	client platform.Client
	store  MappingStore
	images ImageFinder
	grace  time.Duration
	logger zerolog.Logger
}

// NewReconciler creates a Reconciler. images may be nil.
func NewReconciler(client platform.Client, mappingStore MappingStore, images ImageFinder, grace time.Duration, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		client: client,
		store:  mappingStore,
		images: images,
		grace:  grace,
		logger: logger.With().Str("component", "reconciler").Logger(),
	}
}

// Reconcile cancels events that left the window, creates or updates the rest,
// and persists the mapping. Per-event failures are reported as Failed
// outcomes and do not stop the pass. The context is only checked between
// events; when it is done the mapping is still saved before returning.
func (r *Reconciler) Reconcile(ctx context.Context, pass *Pass, report *Report) error {
	if pass.Mapping == nil {
		pass.Mapping = store.Mapping{}
	}

	owned := make(map[string]platform.TargetEvent, len(pass.Owned))
	for _, ev := range pass.Owned {
		owned[ev.ID] = ev
	}

	interrupted := r.cancelOutdated(ctx, pass, owned, report)
	if !interrupted {
		interrupted = r.createOrUpdate(ctx, pass, owned, report)
	}

	if err := r.store.Save(pass.Mapping); err != nil {
		return fmt.Errorf("failed to save mapping: %w", err)
	}
	if interrupted {
		return ctx.Err()
	}
	return nil
}

// cancelOutdated handles mapping entries whose source event is gone.
func (r *Reconciler) cancelOutdated(ctx context.Context, pass *Pass, owned map[string]platform.TargetEvent, report *Report) bool {
	if pass.SkipCancel {
		r.logger.Warn().Msg("skipping cancellation pass, not all calendars could be read")
		return false
	}

	inWindow := make(map[string]bool, len(pass.Events))
	for _, ev := range pass.Events {
		inWindow[ev.ID] = true
	}
	soon := pass.Now.Add(r.grace)

	for _, sourceID := range pass.Mapping.SourceIDs() {
		if inWindow[sourceID] {
			continue
		}
		if ctx.Err() != nil {
			return true
		}

		targetID := pass.Mapping[sourceID]
		live, exists := owned[targetID]
		switch {
		case !exists:
			r.logger.Debug().Str("source_id", sourceID).Str("target_id", targetID).Msg("dropping mapping for missing event")
			report.add(Outcome{Kind: NotFound, SourceID: sourceID, TargetID: targetID})
		case live.Start.After(soon):
			if err := r.client.CancelEvent(ctx, targetID); err != nil {
				r.logger.Error().Err(err).Str("target_id", targetID).Msg("cancel failed")
				report.add(Outcome{Kind: Failed, Action: "cancel", SourceID: sourceID, TargetID: targetID, Title: live.Name, Err: err})
				// Keep the entry so the cancel is retried next cycle.
				continue
			}
			report.add(Outcome{Kind: Canceled, SourceID: sourceID, TargetID: targetID, Title: live.Name})
		default:
			report.add(Outcome{Kind: Released, SourceID: sourceID, TargetID: targetID, Title: live.Name})
		}
		delete(pass.Mapping, sourceID)
	}
	return false
}

// createOrUpdate walks the window in order and makes each event exist as projected.
func (r *Reconciler) createOrUpdate(ctx context.Context, pass *Pass, owned map[string]platform.TargetEvent, report *Report) bool {
	for _, ev := range pass.Events {
		if ctx.Err() != nil {
			return true
		}

		payload := project(ev, resolveVenue(ev.Location, pass.Venues))

		targetID, mapped := pass.Mapping[ev.ID]
		live, exists := owned[targetID]
		if mapped && exists {
			if !differs(payload, live) {
				report.add(Outcome{Kind: Unchanged, SourceID: ev.ID, TargetID: targetID, Title: ev.Title})
				continue
			}
			if _, err := r.client.UpdateEvent(ctx, targetID, payload); err != nil {
				r.logger.Error().Err(err).Str("target_id", targetID).Msg("update failed")
				report.add(Outcome{Kind: Failed, Action: "update", SourceID: ev.ID, TargetID: targetID, Title: ev.Title, Err: err})
				continue
			}
			report.add(Outcome{Kind: Updated, SourceID: ev.ID, TargetID: targetID, Title: ev.Title})
			continue
		}

		if mapped {
			r.logger.Debug().Str("source_id", ev.ID).Str("target_id", targetID).Msg("mapped event no longer exists, recreating")
		}
		payload.Image = r.findImage(ev.Title)

		created, err := r.client.CreateEvent(ctx, payload)
		if err != nil {
			r.logger.Error().Err(err).Str("source_id", ev.ID).Msg("create failed")
			report.add(Outcome{Kind: Failed, Action: "create", SourceID: ev.ID, Title: ev.Title, Err: err})
			continue
		}
		pass.Mapping[ev.ID] = created.ID
		report.add(Outcome{Kind: Created, SourceID: ev.ID, TargetID: created.ID, Title: ev.Title})
	}
	return false
}

func (r *Reconciler) findImage(title string) []byte {
	if r.images == nil {
		return nil
	}
	img, err := r.images.Find(title)
	if err != nil {
		r.logger.Warn().Err(err).Str("title", title).Msg("image lookup failed, creating without image")
		return nil
	}
	return img
}

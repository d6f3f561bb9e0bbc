package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/beekhof/calendar-discord-sync/internal/calendar"
	"github.com/beekhof/calendar-discord-sync/internal/platform"
	"github.com/beekhof/calendar-discord-sync/internal/store"
)

// fakePlatform is an in-memory platform.Client that records every mutation.
type fakePlatform struct {
	events   map[string]platform.TargetEvent
	venues   platform.VenueTable
	nextID   int
	presence string

	created  []platform.Payload
	updated  []string
	canceled []string
	started  []string
	images   map[string][]byte

	failCreate map[string]error // by event name
	failUpdate map[string]error // by target id
	failCancel map[string]error // by target id
	failList   error
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		events:     map[string]platform.TargetEvent{},
		images:     map[string][]byte{},
		failCreate: map[string]error{},
		failUpdate: map[string]error{},
		failCancel: map[string]error{},
	}
}

func (f *fakePlatform) mutations() int {
	return len(f.created) + len(f.updated) + len(f.canceled)
}

func (f *fakePlatform) ListOwnedEvents(ctx context.Context) ([]platform.TargetEvent, error) {
	if f.failList != nil {
		return nil, f.failList
	}
	var out []platform.TargetEvent
	for _, ev := range f.events {
		if ev.Owned && ev.Status != platform.StatusCanceled {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakePlatform) FetchEvent(ctx context.Context, id string) (platform.TargetEvent, error) {
	ev, ok := f.events[id]
	if !ok {
		return platform.TargetEvent{}, platform.ErrNotFound
	}
	return ev, nil
}

func (f *fakePlatform) CreateEvent(ctx context.Context, p platform.Payload) (platform.TargetEvent, error) {
	if err := f.failCreate[p.Name]; err != nil {
		return platform.TargetEvent{}, err
	}
	f.nextID++
	ev := platform.TargetEvent{
		ID:          fmt.Sprintf("t%d", f.nextID),
		Name:        p.Name,
		Description: p.Description,
		Start:       p.Start,
		End:         p.End,
		Venue:       p.Venue,
		Status:      platform.StatusScheduled,
		Owned:       true,
	}
	f.events[ev.ID] = ev
	f.created = append(f.created, p)
	if p.Image != nil {
		f.images[ev.ID] = p.Image
	}
	return ev, nil
}

func (f *fakePlatform) UpdateEvent(ctx context.Context, id string, p platform.Payload) (platform.TargetEvent, error) {
	if err := f.failUpdate[id]; err != nil {
		return platform.TargetEvent{}, err
	}
	ev, ok := f.events[id]
	if !ok {
		return platform.TargetEvent{}, platform.ErrNotFound
	}
	ev.Name, ev.Description, ev.Start, ev.End, ev.Venue = p.Name, p.Description, p.Start, p.End, p.Venue
	f.events[id] = ev
	f.updated = append(f.updated, id)
	return ev, nil
}

func (f *fakePlatform) CancelEvent(ctx context.Context, id string) error {
	if err := f.failCancel[id]; err != nil {
		return err
	}
	ev, ok := f.events[id]
	if !ok {
		return platform.ErrNotFound
	}
	ev.Status = platform.StatusCanceled
	f.events[id] = ev
	f.canceled = append(f.canceled, id)
	return nil
}

func (f *fakePlatform) StartEvent(ctx context.Context, id string) error {
	ev := f.events[id]
	ev.Status = platform.StatusActive
	f.events[id] = ev
	f.started = append(f.started, id)
	return nil
}

func (f *fakePlatform) SetImage(ctx context.Context, id string, image []byte) error {
	f.images[id] = image
	return nil
}

func (f *fakePlatform) Venues(ctx context.Context) (platform.VenueTable, error) {
	return f.venues, nil
}

func (f *fakePlatform) SetPresence(ctx context.Context, text string) error {
	f.presence = text
	return nil
}

// memStore is an in-memory MappingStore that counts saves.
type memStore struct {
	saved   store.Mapping
	saves   int
	failErr error
}

func (m *memStore) Load() (store.Mapping, error) {
	if m.saved == nil {
		return store.Mapping{}, nil
	}
	return m.saved.Clone(), nil
}

func (m *memStore) Save(mapping store.Mapping) error {
	m.saves++
	if m.failErr != nil {
		return m.failErr
	}
	m.saved = mapping.Clone()
	return nil
}

// fakeFetcher returns a fixed window.
type fakeFetcher struct {
	events []calendar.SourceEvent
	err    error
}

func (f *fakeFetcher) Fetch(ctx context.Context, now time.Time) ([]calendar.SourceEvent, error) {
	return f.events, f.err
}

// fakeImages serves images by title.
type fakeImages map[string][]byte

func (f fakeImages) Find(title string) ([]byte, error) {
	if title == "broken" {
		return nil, errors.New("permission denied")
	}
	return f[title], nil
}

// recordingNotifier keeps every batch of lines.
type recordingNotifier struct {
	batches [][]string
}

func (r *recordingNotifier) Notify(ctx context.Context, cycle string, lines []string) error {
	r.batches = append(r.batches, lines)
	return nil
}

// staticStatus returns a fixed status text.
type staticStatus string

func (s staticStatus) Format(events []calendar.SourceEvent, now time.Time) (string, error) {
	if len(events) == 0 {
		return "No upcoming events", nil
	}
	return string(s) + events[0].Title, nil
}

// Package platform describes the event platform whose scheduled-event list is
// kept in sync with the source calendars.
package platform

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Client.FetchEvent when the id no longer exists.
var ErrNotFound = errors.New("event not found")

// Status is the lifecycle state of a scheduled event on the platform.
type Status int

const (
	StatusScheduled Status = iota + 1
	StatusActive
	StatusCompleted
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusScheduled:
		return "scheduled"
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	case StatusCanceled:
		return "canceled"
	}
	return "unknown"
}

// TargetEvent is a scheduled event as it currently exists on the platform.
type TargetEvent struct {
	ID          string
	Name        string
	Description string
	Start       time.Time
	End         time.Time
	Venue       Venue
	Status      Status
	// Owned is true when the event was created by this bot.
	Owned bool
}

// Payload is the full set of fields sent on create and update.
type Payload struct {
	Name        string
	Description string
	Start       time.Time
	End         time.Time
	Venue       Venue
	// Image is only sent on create and on explicit image refreshes.
	Image []byte
}

// Channel is a voice-capable channel events can be hosted in.
type Channel struct {
	ID   string
	Name string
}

// VenueTable is the per-cycle snapshot of voice channels, in the platform's
// enumeration order, plus an optional fallback.
type VenueTable struct {
	Channels []Channel
	Fallback *Channel
}

// Client is the subset of the platform API the sync engine needs.
type Client interface {
	ListOwnedEvents(ctx context.Context) ([]TargetEvent, error)
	FetchEvent(ctx context.Context, id string) (TargetEvent, error)
	CreateEvent(ctx context.Context, p Payload) (TargetEvent, error)
	UpdateEvent(ctx context.Context, id string, p Payload) (TargetEvent, error)
	CancelEvent(ctx context.Context, id string) error
	StartEvent(ctx context.Context, id string) error
	SetImage(ctx context.Context, id string, image []byte) error
	Venues(ctx context.Context) (VenueTable, error)
	SetPresence(ctx context.Context, text string) error
}

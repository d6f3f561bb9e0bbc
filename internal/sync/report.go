package sync

import "fmt"

// Kind classifies a single outcome line.
type Kind int

const (
	Created Kind = iota
	Updated
	Unchanged
	Canceled
	// Released means the mapping entry was dropped without canceling,
	// because the event starts within the grace period or already started.
	Released
	Failed
	SourceFailed
	Started
	ImageUpdated
	ImageMissing
	NotFound
	StatusSet
)

var kindNames = map[Kind]string{
	Created:      "created",
	Updated:      "updated",
	Unchanged:    "unchanged",
	Canceled:     "canceled",
	Released:     "released",
	Failed:       "error",
	SourceFailed: "source-error",
	Started:      "started",
	ImageUpdated: "image-updated",
	ImageMissing: "image-missing",
	NotFound:     "not-found",
	StatusSet:    "status",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Outcome is what happened to one event (or one calendar) during a cycle.
type Outcome struct {
	Kind     Kind
	SourceID string
	TargetID string
	Title    string
	// Action names the failed operation for Failed outcomes.
	Action string
	Err    error
}

func (o Outcome) String() string {
	switch o.Kind {
	case Created:
		return fmt.Sprintf("Created event: %s", o.Title)
	case Updated:
		return fmt.Sprintf("Updated event: %s", o.Title)
	case Unchanged:
		return fmt.Sprintf("Event already exists: %s", o.Title)
	case Canceled:
		return fmt.Sprintf("Canceled event: %s", o.Title)
	case Released:
		return fmt.Sprintf("Stopped tracking event: %s (starts within grace period)", o.Title)
	case Failed:
		return fmt.Sprintf("Failed to %s event %s: %v", o.Action, o.Title, o.Err)
	case SourceFailed:
		return fmt.Sprintf("Failed to read calendar %s: %v", o.SourceID, o.Err)
	case Started:
		return fmt.Sprintf("Started event: %s", o.Title)
	case ImageUpdated:
		return fmt.Sprintf("Updated image for event: %s", o.Title)
	case ImageMissing:
		return fmt.Sprintf("No image found for event: %s", o.Title)
	case NotFound:
		return fmt.Sprintf("Event with ID %s not found.", o.TargetID)
	case StatusSet:
		return fmt.Sprintf("Updated bot status: %s", o.Title)
	}
	return fmt.Sprintf("%s: %s", o.Kind, o.Title)
}

// Report collects the outcomes of one cycle in the order they happened.
type Report struct {
	Cycle    string
	Outcomes []Outcome
}

func (r *Report) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
}

// Lines renders one human-readable line per outcome.
func (r Report) Lines() []string {
	lines := make([]string, len(r.Outcomes))
	for i, o := range r.Outcomes {
		lines[i] = o.String()
	}
	return lines
}

// Count returns how many outcomes have the given kind.
func (r Report) Count(k Kind) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Kind == k {
			n++
		}
	}
	return n
}

// Mutations is the number of create, update and cancel calls that succeeded.
func (r Report) Mutations() int {
	return r.Count(Created) + r.Count(Updated) + r.Count(Canceled)
}

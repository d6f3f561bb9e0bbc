// Package notify delivers the outcome lines of each run to operator channels.
package notify

import (
	"context"
	"errors"
)

// Notifier receives the outcome lines of one run.
type Notifier interface {
	Notify(ctx context.Context, cycle string, lines []string) error
}

// Multi fans out to several notifiers. Every sink is tried; the errors are joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, cycle string, lines []string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, cycle, lines); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "eventsync.outcomes"

const flushTimeout = 5 * time.Second

// Message is the JSON body published for each run.
type Message struct {
	Cycle string   `json:"cycle"`
	Lines []string `json:"lines"`
}

// NATS publishes one Message per run on a subject.
type NATS struct {
	nc      *nats.Conn
	subject string
}

// NewNATS connects to url and returns a publisher. Close releases the connection.
func NewNATS(url, subject string, logger zerolog.Logger, opts ...nats.Option) (*NATS, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	logger = logger.With().Str("component", "notify-nats").Logger()
	opts = append([]nats.Option{
		nats.Name("eventsync"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected to NATS")
		}),
	}, opts...)

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATS{nc: nc, subject: subject}, nil
}

func (n *NATS) Notify(ctx context.Context, cycle string, lines []string) error {
	data, err := json.Marshal(Message{Cycle: cycle, Lines: lines})
	if err != nil {
		return fmt.Errorf("marshal outcome message: %w", err)
	}
	if err := n.nc.Publish(n.subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", n.subject, err)
	}
	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	if err := n.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	return nil
}

// Close drains the connection.
func (n *NATS) Close() error {
	return n.nc.Drain()
}

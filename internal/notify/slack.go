package notify

import (
	"context"
	"fmt"
	"strings"

	slackapi "github.com/slack-go/slack"
)

// SlackPoster abstracts the Slack API method used by the notifier.
type SlackPoster interface {
	PostMessage(ctx context.Context, channel, text string) error
}

type realSlackClient struct {
	client *slackapi.Client
}

func (c *realSlackClient) PostMessage(ctx context.Context, channel, text string) error {
	_, _, err := c.client.PostMessageContext(ctx, channel,
		slackapi.MsgOptionText(text, false))
	return err
}

// Slack posts one message per run to a channel.
type Slack struct {
	client  SlackPoster
	channel string
}

// NewSlack creates a Slack notifier using a bot token. Extra options are
// passed to the slack-go client.
func NewSlack(token, channel string, opts ...slackapi.Option) *Slack {
	return &Slack{
		client:  &realSlackClient{client: slackapi.New(token, opts...)},
		channel: channel,
	}
}

// NewSlackWithClient creates a Slack notifier over an existing poster.
func NewSlackWithClient(client SlackPoster, channel string) *Slack {
	return &Slack{client: client, channel: channel}
}

func (s *Slack) Notify(ctx context.Context, cycle string, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	text := strings.Join(lines, "\n")
	if err := s.client.PostMessage(ctx, s.channel, text); err != nil {
		return fmt.Errorf("slack post to %s: %w", s.channel, err)
	}
	return nil
}

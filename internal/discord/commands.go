package discord

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
)

// maxMessageLen is Discord's limit for a single message.
const maxMessageLen = 2000

// Action runs an operator-triggered job and returns its outcome lines.
type Action func(ctx context.Context) ([]string, error)

// MessageSender sends a chat message. *discordgo.Session satisfies it.
type MessageSender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Commands answers prefixed chat commands from admin users.
type Commands struct {
	prefix       string
	admins       map[string]bool
	update       Action
	updateImages Action
	ctx          context.Context
	logger       zerolog.Logger
}

// NewCommands creates a command handler. ctx bounds the actions it triggers.
func NewCommands(ctx context.Context, prefix string, adminIDs []string, update, updateImages Action, logger zerolog.Logger) *Commands {
	if prefix == "" {
		prefix = "!"
	}
	admins := make(map[string]bool, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = true
	}
	return &Commands{
		prefix:       prefix,
		admins:       admins,
		update:       update,
		updateImages: updateImages,
		ctx:          ctx,
		logger:       logger.With().Str("component", "commands").Logger(),
	}
}

// OnMessageCreate is registered with Session.AddHandler.
func (c *Commands) OnMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	c.Handle(s, m.ChannelID, m.Author.ID, m.Content)
}

// Handle runs the command in content, if any, and sends the replies to channelID.
func (c *Commands) Handle(sender MessageSender, channelID, authorID, content string) {
	name, ok := c.parse(content)
	if !ok || !c.admins[authorID] {
		return
	}
	c.logger.Info().Str("command", name).Str("user", authorID).Msg("command received")

	send := func(msg string) bool {
		if _, err := sender.ChannelMessageSend(channelID, msg); err != nil {
			c.logger.Warn().Err(err).Str("command", name).Msg("failed to send reply")
			return false
		}
		return true
	}

	if name == "ping" {
		send("pong!")
		return
	}

	intro, action := c.action(name)
	if action == nil {
		send("Command is not available.")
		return
	}
	if !send(intro) {
		return
	}
	for _, msg := range chunk(c.runAction(action), maxMessageLen) {
		if !send(msg) {
			return
		}
	}
}

// parse extracts the command name from a prefixed message.
func (c *Commands) parse(content string) (string, bool) {
	if !strings.HasPrefix(content, c.prefix) {
		return "", false
	}
	fields := strings.Fields(strings.TrimPrefix(content, c.prefix))
	if len(fields) == 0 {
		return "", false
	}
	switch name := strings.ToLower(fields[0]); name {
	case "ping", "update", "updateimg":
		return name, true
	}
	return "", false
}

func (c *Commands) action(name string) (string, Action) {
	switch name {
	case "update":
		return "Please wait while I fetch and create events...", c.update
	case "updateimg":
		return "Updating images for all events...", c.updateImages
	}
	return "", nil
}

func (c *Commands) runAction(action Action) []string {
	lines, err := action(c.ctx)
	if err != nil {
		lines = append(lines, "Error: "+err.Error())
	}
	if len(lines) == 0 {
		lines = []string{"Nothing to do."}
	}
	return lines
}

// chunk joins lines into messages of at most limit characters, splitting
// only between lines except when a single line is itself too long.
func chunk(lines []string, limit int) []string {
	var out []string
	var b strings.Builder
	n := 0 // characters in b
	flush := func() {
		out = append(out, b.String())
		b.Reset()
		n = 0
	}
	for _, line := range lines {
		for utf8.RuneCountInString(line) > limit {
			if b.Len() > 0 {
				flush()
			}
			cut := runeOffset(line, limit)
			out = append(out, line[:cut])
			line = line[cut:]
		}
		size := utf8.RuneCountInString(line)
		if b.Len() > 0 && n+1+size > limit {
			flush()
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
			n++
		}
		b.WriteString(line)
		n += size
	}
	if b.Len() > 0 {
		flush()
	}
	return out
}

// runeOffset returns the byte offset of the n-th character of s.
func runeOffset(s string, n int) int {
	i := 0
	for pos := range s {
		if i == n {
			return pos
		}
		i++
	}
	return len(s)
}

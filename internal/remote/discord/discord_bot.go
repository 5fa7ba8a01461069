package discord

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/autosupper/autosupper/internal/mission"
	"github.com/autosupper/autosupper/internal/remote"
	"github.com/bwmarrin/discordgo"
)

type Options struct {
	Token      string
	ChannelID  string
	BotAdmins  []string
	UseWebhook bool
	WebhookURL string

	EnableErrorMessages   bool
	EnableIdleMessages    bool
	EnableClearedMessages bool
}

type Bot struct {
	discordSession *discordgo.Session
	opts           Options
	controller     remote.Controller
	defaults       func() mission.Filters
	logger         *slog.Logger
	webhookClient  *webhookClient
	notices        remote.Notices
}

func NewBot(opts Options, controller remote.Controller, defaults func() mission.Filters, logger *slog.Logger) (*Bot, error) {
	botInstance := &Bot{
		opts:       opts,
		controller: controller,
		defaults:   defaults,
		logger:     logger,
	}

	if opts.UseWebhook {
		if opts.WebhookURL == "" {
			return nil, fmt.Errorf("webhook URL is required when using webhook mode")
		}
		botInstance.webhookClient = newWebhookClient(opts.WebhookURL)
		return botInstance, nil
	}

	dg, err := discordgo.New("Bot " + opts.Token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}

	botInstance.discordSession = dg

	return botInstance, nil
}

func (b *Bot) Start(ctx context.Context) error {
	if b.opts.UseWebhook {
		<-ctx.Done()
		return nil
	}

	b.discordSession.AddHandler(b.onMessageCreated)
	// MESSAGE_CONTENT is needed to read command text
	b.discordSession.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent
	err := b.discordSession.Open()
	if err != nil {
		return fmt.Errorf("error opening connection: %w", err)
	}

	<-ctx.Done()

	return b.discordSession.Close()
}

func (b *Bot) onMessageCreated(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author.ID == s.State.User.ID {
		return
	}

	reply, ok := b.reply(context.Background(), m.Author.ID, m.Content)
	if !ok {
		return
	}
	if _, err := s.ChannelMessageSend(m.ChannelID, reply); err != nil {
		b.logger.Warn("Discord reply failed", slog.Any("error", err))
	}
}

// reply answers a "!command" from a bot admin. ok is false for messages the
// bot ignores.
func (b *Bot) reply(ctx context.Context, authorID, content string) (string, bool) {
	if !slices.Contains(b.opts.BotAdmins, authorID) {
		return "", false
	}
	if !strings.HasPrefix(content, "!") {
		return "", false
	}

	words := strings.Fields(strings.TrimPrefix(content, "!"))
	if len(words) == 0 {
		return "", false
	}
	switch words[0] {
	case "start", "stop", "status":
		return remote.Execute(ctx, b.controller, b.defaults(), words[0], words[1:]), true
	case "help":
		return remote.Usage, true
	}
	return fmt.Sprintf("Unknown command: `!%s`. Type `!help` for available commands.", words[0]), true
}

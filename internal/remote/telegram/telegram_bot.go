package telegram

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/autosupper/autosupper/internal/bot"
	"github.com/autosupper/autosupper/internal/event"
	"github.com/autosupper/autosupper/internal/mission"
	"github.com/autosupper/autosupper/internal/remote"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Bot struct {
	bot        *tgbotapi.BotAPI
	transport  *http.Transport
	opts       Options
	controller remote.Controller
	defaults   func() mission.Filters
	logger     *slog.Logger
	notices    remote.Notices
}

func (b *Bot) Start(ctx context.Context) error {
	offset, err := b.getLatestOffset()
	if err != nil {
		return err
	}

	u := tgbotapi.NewUpdate(offset)
	u.Timeout = 5
	updates := b.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.bot.StopReceivingUpdates()
			for range updates {
			}
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.onUpdate(ctx, update)
		}
	}
}

// Close stops polling and drops idle Bot API connections.
func (b *Bot) Close() {
	if b == nil || b.bot == nil {
		return
	}
	b.bot.StopReceivingUpdates()
	b.transport.CloseIdleConnections()
}

func (b *Bot) onUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || msg.Chat.ID != b.opts.ChatID {
		return
	}

	var command string
	var args []string
	if msg.IsCommand() {
		command = msg.Command()
		args = strings.Fields(msg.CommandArguments())
	} else {
		words := strings.Fields(msg.Text)
		if len(words) == 0 {
			return
		}
		command, args = words[0], words[1:]
	}

	reply := remote.Execute(ctx, b.controller, b.defaults(), command, args)
	if err := b.send(reply); err != nil {
		b.logger.Warn("Telegram reply failed", slog.Any("error", err))
	}
}

func (b *Bot) Handle(_ context.Context, e event.Event) error {
	if t, ok := e.(event.TunnelOpenedEvent); ok {
		return b.send("Status page: " + t.URL)
	}
	evt, ok := e.(bot.StateChangedEvent)
	if !ok {
		return nil
	}

	for _, n := range b.notices.Observe(evt.Context) {
		if !b.shouldPublish(n) {
			continue
		}
		if err := b.send(n.Text); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) shouldPublish(n remote.Notice) bool {
	switch n.Kind {
	case remote.NoticeError:
		return b.opts.EnableErrorMessages
	case remote.NoticeIdle:
		return b.opts.EnableIdleMessages
	case remote.NoticeCleared:
		return b.opts.EnableClearedMessages
	}
	return false
}

func (b *Bot) send(text string) error {
	_, err := b.bot.Send(tgbotapi.NewMessage(b.opts.ChatID, text))
	return err
}

func (b *Bot) getLatestOffset() (int, error) {
	upds, err := b.bot.GetUpdates(tgbotapi.NewUpdate(-1))
	if err != nil {
		return 0, err
	}
	offset := 0
	if len(upds) > 0 {
		offset = upds[0].UpdateID + 1
	}
	return offset, nil
}

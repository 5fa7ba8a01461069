package discord

import (
	"context"

	"github.com/autosupper/autosupper/internal/bot"
	"github.com/autosupper/autosupper/internal/event"
	"github.com/autosupper/autosupper/internal/remote"
	"github.com/bwmarrin/discordgo"
)

const (
	colorCleared = 0x2ecc71
	colorIdle    = 0x95a5a6
	colorError   = 0xe74c3c
)

func (b *Bot) Handle(ctx context.Context, e event.Event) error {
	if t, ok := e.(event.TunnelOpenedEvent); ok {
		return b.sendEventMessage(ctx, "Status page: "+t.URL)
	}
	evt, ok := e.(bot.StateChangedEvent)
	if !ok {
		return nil
	}

	for _, n := range b.notices.Observe(evt.Context) {
		if !b.shouldPublish(n) {
			continue
		}
		var err error
		if n.Kind == remote.NoticeCleared {
			err = b.sendEmbed(ctx, &discordgo.MessageEmbed{Description: n.Text, Color: noticeColor(n.Kind)})
		} else {
			err = b.sendEventMessage(ctx, n.Text)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func noticeColor(k remote.NoticeKind) int {
	switch k {
	case remote.NoticeCleared:
		return colorCleared
	case remote.NoticeError:
		return colorError
	}
	return colorIdle
}

func (b *Bot) sendEventMessage(ctx context.Context, message string) error {
	if b.opts.UseWebhook {
		return b.webhookClient.Send(ctx, message)
	}

	_, err := b.discordSession.ChannelMessageSend(b.opts.ChannelID, message)
	return err
}

func (b *Bot) sendEmbed(ctx context.Context, embed *discordgo.MessageEmbed) error {
	if b.opts.UseWebhook {
		return b.webhookClient.SendEmbed(ctx, embed)
	}

	_, err := b.discordSession.ChannelMessageSendEmbed(b.opts.ChannelID, embed)
	return err
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

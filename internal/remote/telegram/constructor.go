package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/autosupper/autosupper/internal/mission"
	"github.com/autosupper/autosupper/internal/remote"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jpillora/backoff"
)

const maxRetries = 3

type Options struct {
	Token  string
	ChatID int64

	EnableErrorMessages   bool
	EnableIdleMessages    bool
	EnableClearedMessages bool
}

// NewBot connects to the Bot API, retrying transient network failures with
// exponential backoff.
func NewBot(ctx context.Context, opts Options, controller remote.Controller, defaults func() mission.Filters, logger *slog.Logger) (*Bot, error) {
	return newBot(ctx, opts, tgbotapi.APIEndpoint, controller, defaults, logger)
}

func newBot(ctx context.Context, opts Options, endpoint string, controller remote.Controller, defaults func() mission.Filters, logger *slog.Logger) (*Bot, error) {
	var api *tgbotapi.BotAPI
	var err error

	transport := &http.Transport{Proxy: http.ProxyFromEnvironment, IdleConnTimeout: 90 * time.Second}
	client := &http.Client{Transport: transport, Timeout: 30 * time.Second}

	b := &backoff.Backoff{Min: 2 * time.Second, Max: 30 * time.Second, Factor: 2, Jitter: true}
	for attempt := 1; attempt <= maxRetries; attempt++ {
		api, err = tgbotapi.NewBotAPIWithClient(opts.Token, endpoint, client)
		if err == nil {
			break
		}
		if attempt == maxRetries {
			break
		}
		delay := b.Duration()
		logger.Warn("Telegram API connection failed, retrying",
			slog.Int("attempt", attempt),
			slog.Int("maxRetries", maxRetries),
			slog.Duration("retryIn", delay),
			slog.Any("error", err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("after %d attempts: %w", maxRetries, err)
	}
	return &Bot{
		bot:        api,
		transport:  transport,
		opts:       opts,
		controller: controller,
		defaults:   defaults,
		logger:     logger,
	}, nil
}

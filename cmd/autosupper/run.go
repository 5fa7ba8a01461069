package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	sloggger "github.com/autosupper/autosupper/cmd/autosupper/log"
	"github.com/autosupper/autosupper/internal/bot"
	"github.com/autosupper/autosupper/internal/browser"
	"github.com/autosupper/autosupper/internal/config"
	"github.com/autosupper/autosupper/internal/event"
	"github.com/autosupper/autosupper/internal/mission"
	"github.com/autosupper/autosupper/internal/remote/discord"
	ngrokremote "github.com/autosupper/autosupper/internal/remote/ngrok"
	"github.com/autosupper/autosupper/internal/remote/telegram"
	"github.com/autosupper/autosupper/internal/server"
	"github.com/autosupper/autosupper/internal/storage"
)

func runBot(parent context.Context) (err error) {
	if err := config.LoadFrom(configPath); err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	cfg := config.Get()

	logger, err := sloggger.NewLogger(cfg.Debug.Log, cfg.LogSaveDirectory, "autosupper")
	if err != nil {
		return fmt.Errorf("error starting logger: %w", err)
	}
	defer sloggger.FlushAndClose()
	slog.SetDefault(logger)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fatal error detected, autosupper will close with the following error: %v", r)
			logger.Error(err.Error())
		}
	}()

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("error opening mission store: %w", err)
	}
	defer store.Close()

	page, err := browser.Launch(ctx, logger, cfg.Browser)
	if err != nil {
		return fmt.Errorf("error launching browser: %w", err)
	}
	defer page.Close()

	sup := bot.NewSupervisor(logger, cfg.SupervisorConfig(), page, store)
	defaults := func() mission.Filters { return config.Get().Automation.Filters }

	eventListener := event.NewListener(logger)
	srv, err := server.New(logger, sup, store, defaults)
	if err != nil {
		return fmt.Errorf("error starting local server: %w", err)
	}
	eventListener.Register(srv.Handle)

	var tunnel *ngrokremote.Tunnel
	if cfg.Ngrok.Enabled {
		tunnel, err = ngrokremote.Start(ctx, logger, ngrokremote.Options{
			LocalAddr:     fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
			Authtoken:     cfg.Ngrok.Authtoken,
			Region:        cfg.Ngrok.Region,
			Domain:        cfg.Ngrok.Domain,
			BasicAuthUser: cfg.Ngrok.BasicAuthUser,
			BasicAuthPass: cfg.Ngrok.BasicAuthPass,
		})
		if err != nil {
			logger.Error("ngrok tunnel failed to start", slog.Any("error", err))
		} else {
			srv.SetPublicURL(tunnel.URL())
			if cfg.Ngrok.SendURL {
				event.Send(event.TunnelOpened(tunnel.URL()))
			}
		}
	}

	if cfg.Discord.Enabled {
		discordBot, err := discord.NewBot(discord.Options{
			Token:                 cfg.Discord.Token,
			ChannelID:             cfg.Discord.ChannelID,
			BotAdmins:             cfg.Discord.BotAdmins,
			UseWebhook:            cfg.Discord.UseWebhook,
			WebhookURL:            cfg.Discord.WebhookURL,
			EnableErrorMessages:   cfg.Discord.EnableErrorMessages,
			EnableIdleMessages:    cfg.Discord.EnableIdleMessages,
			EnableClearedMessages: cfg.Discord.EnableClearedMessages,
		}, sup, defaults, logger)
		if err != nil {
			return fmt.Errorf("error starting Discord bot: %w", err)
		}
		eventListener.Register(discordBot.Handle)
		g.Go(wrapWithRecover(logger, func() error {
			return discordBot.Start(ctx)
		}))
	}

	if cfg.Telegram.Enabled {
		telegramBot, err := telegram.NewBot(ctx, telegram.Options{
			Token:                 cfg.Telegram.Token,
			ChatID:                cfg.Telegram.ChatID,
			EnableErrorMessages:   cfg.Telegram.EnableErrorMessages,
			EnableIdleMessages:    cfg.Telegram.EnableIdleMessages,
			EnableClearedMessages: cfg.Telegram.EnableClearedMessages,
		}, sup, defaults, logger)
		if err != nil {
			return fmt.Errorf("error starting Telegram bot: %w", err)
		}
		defer telegramBot.Close()
		eventListener.Register(telegramBot.Handle)
		g.Go(wrapWithRecover(logger, func() error {
			return telegramBot.Start(ctx)
		}))
	}

	g.Go(wrapWithRecover(logger, func() error {
		return eventListener.Listen(ctx)
	}))

	g.Go(wrapWithRecover(logger, func() error {
		return sup.Run(ctx)
	}))

	g.Go(wrapWithRecover(logger, func() error {
		defer cancel()
		return srv.Listen(cfg.Server.Port)
	}))

	// The session is left as it is on shutdown so the next start resumes it.
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down...")
		if err := tunnel.Close(); err != nil {
			logger.Warn("error closing ngrok tunnel", slog.Any("error", err))
		}
		return srv.Stop()
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

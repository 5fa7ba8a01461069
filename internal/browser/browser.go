// Package browser drives Chromium over the DevTools protocol and exposes the
// active tab as a dom.Document and dom.Observer.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

type Config struct {
	Headless    bool   `yaml:"headless"`
	ControlURL  string `yaml:"controlURL" env:"AUTOSUPPER_BROWSER_CONTROL_URL"`
	UserDataDir string `yaml:"userDataDir"`
	StartURL    string `yaml:"startURL"`
}

type Browser struct {
	logger  *slog.Logger
	launch  *launcher.Launcher
	browser *rod.Browser

	mu   sync.RWMutex
	page *rod.Page
}

// Launch starts a local Chromium, or attaches to an already running one when
// cfg.ControlURL is set. The first open tab is reused.
func Launch(ctx context.Context, logger *slog.Logger, cfg Config) (*Browser, error) {
	b := &Browser{logger: logger}

	controlURL := cfg.ControlURL
	if controlURL != "" && !strings.HasPrefix(controlURL, "ws") {
		resolved, err := launcher.ResolveURL(controlURL)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve browser control url: %w", err)
		}
		controlURL = resolved
	}
	if controlURL == "" {
		maybeLogBrowserDownload(ctx, logger)
		b.launch = launcher.New().Context(ctx).Headless(cfg.Headless).Leakless(true)
		if cfg.UserDataDir != "" {
			b.launch = b.launch.UserDataDir(cfg.UserDataDir)
		}
		u, err := b.launch.Launch()
		if err != nil {
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
		controlURL = u
	}

	b.browser = rod.New().ControlURL(controlURL)
	if err := b.browser.Connect(); err != nil {
		b.cleanup()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	pages, err := b.browser.Pages()
	if err != nil {
		b.cleanup()
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	var page *rod.Page
	if len(pages) > 0 {
		page = pages.First()
	} else if page, err = b.browser.Page(proto.TargetCreateTarget{URL: cfg.StartURL}); err != nil {
		b.cleanup()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	if err := (proto.PageEnable{}).Call(page); err != nil {
		logger.Debug("could not enable page domain", slog.Any("error", err))
	}
	b.page = page

	return b, nil
}

func (b *Browser) cleanup() {
	if b.browser != nil {
		_ = b.browser.Close()
	}
	if b.launch != nil {
		b.launch.Cleanup()
	}
}

// Close shuts the browser down when it was launched by us; an attached
// browser is only disconnected.
func (b *Browser) Close() error {
	if b.launch == nil {
		return nil
	}
	err := b.browser.Close()
	b.launch.Cleanup()
	return err
}

func (b *Browser) activePage(ctx context.Context) *rod.Page {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.page.Context(ctx)
}

// Navigate loads url in the active tab. Reddit keeps long-lived connections
// open, so only the initial document load is awaited.
func (b *Browser) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	page := b.activePage(ctx)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, translate(err))
	}
	if err := page.Timeout(timeout).WaitLoad(); err != nil {
		b.logger.Debug("page load not confirmed", slog.String("url", url), slog.Any("error", err))
	}
	return nil
}

func (b *Browser) CurrentURL(ctx context.Context) (string, error) {
	info, err := b.activePage(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("failed to read current URL: %w", translate(err))
	}
	return info.URL, nil
}

// HTML returns the rendered top document, used for listing scans.
func (b *Browser) HTML(ctx context.Context) (string, error) {
	html, err := b.activePage(ctx).HTML()
	if err != nil {
		return "", translate(err)
	}
	return html, nil
}

// OnNavigate calls fn with the URL of every main frame navigation until ctx
// ends.
func (b *Browser) OnNavigate(ctx context.Context, fn func(url string)) {
	wait := b.activePage(ctx).EachEvent(func(e *proto.PageFrameNavigated) {
		if e.Frame != nil && e.Frame.ParentID == "" {
			fn(e.Frame.URL)
		}
	})
	go wait()
}

func maybeLogBrowserDownload(ctx context.Context, logger *slog.Logger) {
	browser := launcher.NewBrowser()
	browser.Context = ctx
	if err := browser.Validate(); err != nil {
		logger.Info("Downloading Chromium for the first run (~150MB), this can take a while")
	}
}

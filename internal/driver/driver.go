// Package driver performs the page side effects: opening the embedded game
// and clicking through its encounters. It reports outcomes as events and
// never changes bot state itself.
package driver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/autosupper/autosupper/internal/dom"
	"github.com/autosupper/autosupper/internal/mission"
	"github.com/autosupper/autosupper/internal/strategy"
	"github.com/autosupper/autosupper/internal/utils"
)

var (
	ErrTimeout = errors.New("timed out")
	ErrStalled = errors.New("no recognisable screen")
)

// Selectors locate the game pieces. Every path is resolved from the top
// document on each use.
type Selectors struct {
	Preview    dom.Path `yaml:"preview"`
	Dialog     dom.Path `yaml:"dialog"`
	Fullscreen dom.Path `yaml:"fullscreen"`
	Ready      dom.Path `yaml:"ready"`
	Controls   dom.Path `yaml:"controls"`
	Victory    dom.Path `yaml:"victory"`
	Combat     dom.Path `yaml:"combat"`
	ResultLog  dom.Path `yaml:"resultLog"`
	Loot       dom.Path `yaml:"loot"`
}

type Timeouts struct {
	ClickPollInterval time.Duration `yaml:"clickPollInterval"`
	ClickPoll         time.Duration `yaml:"clickPoll"`
	Dialog            time.Duration `yaml:"dialog"`
	Ready             time.Duration `yaml:"ready"`
	ScreenPoll        time.Duration `yaml:"screenPoll"`
	ClickVerify       time.Duration `yaml:"clickVerify"`
	Stall             time.Duration `yaml:"stall"`
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		ClickPollInterval: 500 * time.Millisecond,
		ClickPoll:         35 * time.Second,
		Dialog:            20 * time.Second,
		Ready:             30 * time.Second,
		ScreenPoll:        250 * time.Millisecond,
		ClickVerify:       8 * time.Second,
		Stall:             60 * time.Second,
	}
}

type Config struct {
	Selectors  Selectors
	Timeouts   Timeouts
	Labels     strategy.Labels
	Automation mission.AutomationConfig
	Fullscreen bool
	// ClicksPerSecond caps the click rate; zero means unlimited.
	ClicksPerSecond float64
	// ClickDelayMs is the mean human-like pause before each click.
	ClickDelayMs int
}

type Driver struct {
	logger  *slog.Logger
	doc     dom.Document
	cfg     Config
	limiter *rate.Limiter
}

func New(logger *slog.Logger, doc dom.Document, cfg Config) *Driver {
	limit := rate.Inf
	if cfg.ClicksPerSecond > 0 {
		limit = rate.Limit(cfg.ClicksPerSecond)
	}
	return &Driver{
		logger:  logger,
		doc:     doc,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// click waits for the limiter and the human-like pause before clicking.
func (d *Driver) click(ctx context.Context, el dom.Element) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	if d.cfg.ClickDelayMs > 0 {
		if err := utils.SleepContext(ctx, d.cfg.ClickDelayMs); err != nil {
			return err
		}
	}
	return el.Click(ctx)
}

func (d *Driver) exists(ctx context.Context, path dom.Path) bool {
	if len(path) == 0 {
		return false
	}
	el, err := d.doc.FindDeep(ctx, path)
	return err == nil && el != nil
}

func (d *Driver) count(ctx context.Context, path dom.Path) int {
	if len(path) == 0 {
		return 0
	}
	els, err := d.doc.FindAllDeep(ctx, path)
	if err != nil {
		return 0
	}
	return len(els)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

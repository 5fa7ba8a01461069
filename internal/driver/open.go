package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/autosupper/autosupper/internal/dom"
	"github.com/autosupper/autosupper/internal/sensor"
)

// OpenResult is the outcome of OpenGame. Reason is set when OK is false.
type OpenResult struct {
	OK     bool
	Reason string
}

// OpenGame clicks the game preview and waits for the game dialog. The first
// probe doubles as the fast path for a game left open by an earlier session.
// It always returns within ClickPoll + Dialog.
func (d *Driver) OpenGame(ctx context.Context) OpenResult {
	t := d.cfg.Timeouts
	s := d.cfg.Selectors

	if d.exists(ctx, s.Dialog) {
		d.logger.Debug("game dialog already open")
		return OpenResult{OK: true}
	}

	var lastErr error
	_, clicked := sensor.Poll(ctx, t.ClickPollInterval, t.ClickPoll, func(ctx context.Context) (struct{}, bool) {
		el, err := d.doc.FindDeep(ctx, s.Preview)
		if err != nil || el == nil {
			return struct{}{}, false
		}
		if err := d.click(ctx, el); err != nil {
			if !errors.Is(err, dom.ErrContextGone) {
				lastErr = err
			}
			return struct{}{}, false
		}
		return struct{}{}, true
	})
	if err := ctx.Err(); err != nil {
		return OpenResult{Reason: "cancelled"}
	}
	if !clicked {
		reason := fmt.Sprintf("game preview not found after %s", t.ClickPoll)
		if lastErr != nil {
			reason = fmt.Sprintf("could not click game preview: %v", lastErr)
		}
		return OpenResult{Reason: reason}
	}

	_, opened := sensor.Poll(ctx, t.ClickPollInterval, t.Dialog, func(ctx context.Context) (struct{}, bool) {
		return struct{}{}, d.exists(ctx, s.Dialog)
	})
	if !opened {
		if ctx.Err() != nil {
			return OpenResult{Reason: "cancelled"}
		}
		return OpenResult{Reason: fmt.Sprintf("game dialog did not open within %s", t.Dialog)}
	}

	if d.cfg.Fullscreen && len(s.Fullscreen) > 0 {
		if el, err := d.doc.FindDeep(ctx, s.Fullscreen); err == nil && el != nil {
			if err := el.Click(ctx); err != nil {
				d.logger.Debug("fullscreen toggle failed", slog.Any("error", err))
			}
		}
	}

	return OpenResult{OK: true}
}

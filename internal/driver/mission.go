package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/autosupper/autosupper/internal/dom"
	"github.com/autosupper/autosupper/internal/event"
	"github.com/autosupper/autosupper/internal/mission"
	"github.com/autosupper/autosupper/internal/sensor"
	"github.com/autosupper/autosupper/internal/strategy"
)

const source = "driver"

// evidence is what a click must change before the driver moves on.
type evidence struct {
	fingerprint string
	combat      bool
	logEntries  int
}

func (e evidence) advancedFrom(prev evidence) bool {
	return e.fingerprint != prev.fingerprint || (e.combat && !prev.combat) || e.logEntries > prev.logEntries
}

// RunMission walks the encounters of an open game until the treasure screen
// is cleared. rec may be nil when the mission's data never arrived; strategy
// then falls back to defaults for data driven choices. Every outcome is
// reported through emit; the returned error only tells the caller why the
// loop ended.
func (d *Driver) RunMission(ctx context.Context, missionID string, rec *mission.Record, emit func(event.Event)) error {
	t := d.cfg.Timeouts
	s := d.cfg.Selectors

	if _, ok := sensor.Poll(ctx, t.ScreenPoll, t.Ready, func(ctx context.Context) (struct{}, bool) {
		return struct{}{}, d.exists(ctx, s.Ready)
	}); !ok {
		if err := ctx.Err(); err != nil {
			return err
		}
		emit(event.ErrorOccurred(event.Text(source, fmt.Sprintf("game frame not ready within %s", t.Ready)), missionID))
		return fmt.Errorf("waiting for game frame: %w", ErrTimeout)
	}
	emit(event.AutomationReady(event.Text(source, "game frame ready"), missionID))

	total := 0
	if rec != nil {
		total = len(rec.Encounters)
	}
	index := 0
	lastProgress := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		screen := d.readScreen(ctx)
		tag := strategy.Classify(screen, d.cfg.Labels)

		var enc *mission.Encounter
		if rec != nil {
			enc = rec.EncounterAt(index)
		}
		decision, ok := strategy.Decide(tag, screen, d.cfg.Labels, d.cfg.Automation, enc)
		if !ok {
			if time.Since(lastProgress) > t.Stall {
				emit(event.ErrorOccurred(event.Text(source, fmt.Sprintf("no recognisable game screen for %s", t.Stall)), missionID))
				return ErrStalled
			}
			if err := sleepCtx(ctx, t.ScreenPoll); err != nil {
				return err
			}
			continue
		}

		var loot map[string]int
		if decision.Complete {
			loot = d.collectLoot(ctx)
		}

		before := d.evidence(ctx, screen)
		if err := d.clickLabel(ctx, decision.Label); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.logger.Debug("click failed, re-reading screen", slog.String("label", decision.Label), slog.Any("error", err))
			if time.Since(lastProgress) > t.Stall {
				emit(event.ErrorOccurred(event.Text(source, fmt.Sprintf("could not click %q: %v", decision.Label, err)), missionID))
				return ErrStalled
			}
			if err := sleepCtx(ctx, t.ScreenPoll); err != nil {
				return err
			}
			continue
		}

		if !d.verify(ctx, before) {
			if err := ctx.Err(); err != nil {
				return err
			}
			d.logger.Warn("click had no visible effect", slog.String("label", decision.Label), slog.String("tag", string(tag)))
			if time.Since(lastProgress) > t.Stall {
				emit(event.ErrorOccurred(event.Text(source, fmt.Sprintf("game stopped responding to %q", decision.Label)), missionID))
				return ErrStalled
			}
			continue
		}
		lastProgress = time.Now()

		// the treasure screen only counts once the game has moved past it
		if decision.Complete {
			emit(event.MissionComplete(event.Text(source, "treasure collected"), missionID, loot))
			return nil
		}
		if tag == strategy.TagNeedsAdvance {
			continue
		}
		index++
		emit(event.EncounterResult(event.Text(source, fmt.Sprintf("%s: %s", tag, decision.Label)), missionID, index, total, string(tag), decision.Label))
	}
}

func (d *Driver) readScreen(ctx context.Context) strategy.Screen {
	controls, err := dom.Texts(ctx, d.doc, d.cfg.Selectors.Controls)
	if err != nil {
		d.logger.Debug("could not read game controls", slog.Any("error", err))
	}
	return strategy.Screen{
		Controls: controls,
		Victory:  d.exists(ctx, d.cfg.Selectors.Victory),
	}
}

func (d *Driver) evidence(ctx context.Context, screen strategy.Screen) evidence {
	return evidence{
		fingerprint: fingerprint(screen),
		combat:      d.exists(ctx, d.cfg.Selectors.Combat),
		logEntries:  d.count(ctx, d.cfg.Selectors.ResultLog),
	}
}

func fingerprint(s strategy.Screen) string {
	return fmt.Sprintf("%t|%s", s.Victory, strings.Join(s.Controls, "\x1f"))
}

// verify waits for the screen to show that the last click landed.
func (d *Driver) verify(ctx context.Context, before evidence) bool {
	_, ok := sensor.Poll(ctx, d.cfg.Timeouts.ScreenPoll, d.cfg.Timeouts.ClickVerify, func(ctx context.Context) (struct{}, bool) {
		now := d.evidence(ctx, d.readScreen(ctx))
		return struct{}{}, now.advancedFrom(before)
	})
	return ok
}

func (d *Driver) clickLabel(ctx context.Context, label string) error {
	els, err := d.doc.FindAllDeep(ctx, d.cfg.Selectors.Controls)
	if err != nil {
		return err
	}
	for _, el := range els {
		text, err := el.Text(ctx)
		if err != nil {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(text), label) {
			return d.click(ctx, el)
		}
	}
	return fmt.Errorf("control %q: %w", label, errNoControl)
}

var errNoControl = errors.New("not on screen")

var lootPattern = regexp.MustCompile(`^(?:(\d+)\s*[x×]\s*)?(.+?)(?:\s*[x×]\s*(\d+))?$`)

func (d *Driver) collectLoot(ctx context.Context) map[string]int {
	texts, err := dom.Texts(ctx, d.doc, d.cfg.Selectors.Loot)
	if err != nil {
		d.logger.Debug("could not read loot", slog.Any("error", err))
	}
	return ParseLoot(texts)
}

// ParseLoot tallies entries such as "Gold x3", "2 × Meat Pie" or "Shield".
func ParseLoot(entries []string) map[string]int {
	loot := make(map[string]int)
	for _, e := range entries {
		m := lootPattern.FindStringSubmatch(strings.TrimSpace(e))
		if m == nil || strings.TrimSpace(m[2]) == "" {
			continue
		}
		qty := 1
		for _, n := range []string{m[1], m[3]} {
			if v, err := strconv.Atoi(n); err == nil {
				qty = v
			}
		}
		loot[strings.TrimSpace(m[2])] += qty
	}
	return loot
}

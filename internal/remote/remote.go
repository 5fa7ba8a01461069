// Package remote holds what the chat integrations share: the command set
// and the notices derived from state broadcasts.
package remote

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/autosupper/autosupper/internal/bot"
	"github.com/autosupper/autosupper/internal/mission"
	"github.com/autosupper/autosupper/internal/storage"
)

// Controller is the bot surface a chat command can drive.
type Controller interface {
	Start(ctx context.Context, filters mission.Filters) error
	Stop(ctx context.Context) error
	State(ctx context.Context) (bot.Context, error)
}

type NoticeKind int

const (
	NoticeError NoticeKind = iota
	NoticeIdle
	NoticeCleared
)

type Notice struct {
	Kind NoticeKind
	Text string
}

// Notices turns consecutive state broadcasts into user facing notices. The
// first broadcast only primes it.
type Notices struct {
	mu   sync.Mutex
	last bot.Context
	seen bool
}

func (n *Notices) Observe(c bot.Context) []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()

	prev, seen := n.last, n.seen
	n.last, n.seen = c, true
	if !seen {
		return nil
	}

	var out []Notice
	if c.MissionsCleared > prev.MissionsCleared {
		name := missionName(c)
		if name == "" {
			name = missionName(prev)
		}
		out = append(out, Notice{
			Kind: NoticeCleared,
			Text: fmt.Sprintf("Mission cleared: %s (%d this session)", name, c.MissionsCleared),
		})
	}
	if c.State == bot.StateError && prev.State != bot.StateError {
		out = append(out, Notice{Kind: NoticeError, Text: "Error: " + c.ErrorMessage})
	}
	if c.State == bot.StateIdle && prev.State != bot.StateIdle {
		out = append(out, Notice{Kind: NoticeIdle, Text: "Bot is idle: " + reasonText(c.CompletionReason)})
	}
	return out
}

func missionName(c bot.Context) string {
	if c.MissionTitle != "" {
		return c.MissionTitle
	}
	return c.MissionID
}

func reasonText(r bot.CompletionReason) string {
	switch r {
	case bot.ReasonNoMissions:
		return "no missions left that match the filters"
	case bot.ReasonStopped:
		return "stopped"
	case bot.ReasonError:
		return "stopped after an error"
	case "":
		return "ready"
	}
	return string(r)
}

// FormatStatus renders a context for a chat reply.
func FormatStatus(c bot.Context) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "State: %s", c.State)
	if name := missionName(c); name != "" {
		fmt.Fprintf(&sb, "\nMission: %s", name)
		if c.EncounterTotal > 0 {
			fmt.Fprintf(&sb, " (encounter %d/%d)", c.EncounterIndex, c.EncounterTotal)
		}
	}
	fmt.Fprintf(&sb, "\nCleared this session: %d", c.MissionsCleared)
	if c.State == bot.StateIdle && c.CompletionReason != "" {
		fmt.Fprintf(&sb, "\nLast stop: %s", reasonText(c.CompletionReason))
	}
	if c.ErrorMessage != "" {
		fmt.Fprintf(&sb, "\nError: %s", c.ErrorMessage)
	}
	return sb.String()
}

const Usage = "Commands: start [stars] [minLevel] [maxLevel], stop, status\nExample: start 1,2 1 20"

// ParseStartArgs reads "[stars] [minLevel] [maxLevel]" on top of defaults.
func ParseStartArgs(args []string, defaults mission.Filters) (mission.Filters, error) {
	f := defaults
	if len(args) > 3 {
		return f, errors.New("too many arguments")
	}
	if len(args) > 0 {
		f.Stars = nil
		for _, part := range strings.Split(args[0], ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || n < 1 || n > 5 {
				return f, fmt.Errorf("invalid star rating %q", part)
			}
			f.Stars = append(f.Stars, n)
		}
	}
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return f, fmt.Errorf("invalid min level %q", args[1])
		}
		f.MinLevel = n
	}
	if len(args) > 2 {
		n, err := strconv.Atoi(args[2])
		if err != nil {
			return f, fmt.Errorf("invalid max level %q", args[2])
		}
		f.MaxLevel = n
	}
	if f.MinLevel > f.MaxLevel {
		return f, fmt.Errorf("min level %d is above max level %d", f.MinLevel, f.MaxLevel)
	}
	return f, nil
}

// Execute runs one chat command and returns the reply. command has its
// prefix already stripped.
func Execute(ctx context.Context, c Controller, defaults mission.Filters, command string, args []string) string {
	switch strings.ToLower(command) {
	case "start":
		f, err := ParseStartArgs(args, defaults)
		if err != nil {
			return err.Error() + "\n" + Usage
		}
		if err := c.Start(ctx, f); err != nil {
			switch {
			case errors.Is(err, bot.ErrAlreadyRunning):
				return "The bot is already running."
			case errors.Is(err, storage.ErrSessionLocked):
				return "Another autosupper instance holds the session."
			}
			return "Could not start: " + err.Error()
		}
		return fmt.Sprintf("Started with stars %v, levels %d-%d.", f.Stars, f.MinLevel, f.MaxLevel)
	case "stop":
		if err := c.Stop(ctx); err != nil {
			return "Could not stop: " + err.Error()
		}
		return "Stopped."
	case "status":
		st, err := c.State(ctx)
		if err != nil {
			return "Could not read state: " + err.Error()
		}
		return FormatStatus(st)
	}
	return Usage
}

package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// transition moves to state, runs its entry action and follows any
// transition the entry action chains into. Every state reached is persisted
// and broadcast.
func (m *Machine) transition(ctx context.Context, to State) {
	for {
		m.cancelTimer()
		m.gen++
		from := m.bc.State
		m.bc.State = to
		m.logger.Info("bot state changed", slog.String("from", string(from)), slog.String("to", string(to)))

		next, chained := m.enter(ctx, to)
		m.publish(ctx)
		if !chained {
			return
		}
		to = next
	}
}

func (m *Machine) enter(ctx context.Context, state State) (State, bool) {
	switch state {
	case StateIdle:
		m.commander.StopMissionAutomation()
		m.bc.clearMission()
		m.bc.SessionActive = false
		m.pendingLoot = nil

	case StateStarting:
		m.bc.SessionActive = true
		m.bc.ErrorMessage = ""
		m.bc.CompletionReason = ""
		m.bc.clearMission()

		candidates, err := m.repo.GetFiltered(ctx, m.bc.Filters)
		if err != nil {
			m.bc.ErrorMessage = fmt.Sprintf("could not query missions: %v", err)
			return StateError, true
		}
		if len(candidates) == 0 {
			m.logger.Info("no missions match the filters")
			m.bc.CompletionReason = ReasonNoMissions
			return StateIdle, true
		}
		next := candidates[0]
		m.bc.MissionID = next.PostID
		m.bc.Permalink = next.Permalink
		m.bc.MissionTitle = next.MissionTitle
		m.bc.EncounterTotal = len(next.Encounters)
		return StateNavigating, true

	case StateNavigating:
		m.commander.NavigateTo(m.bc.MissionID, m.bc.Permalink)
		m.arm(m.timeouts.Navigation, fmt.Sprintf("navigation to %s timed out", m.bc.Permalink))

	case StateWaitingForGame:
		m.commander.ArmGameLoader(m.bc.MissionID)
		m.arm(m.timeouts.GameLoader, "game loader did not appear")

	case StateOpeningGame:
		m.commander.ClickGameUI(m.bc.MissionID)
		m.arm(m.timeouts.OpenGame, "game dialog did not open")

	case StateGameReady:
		m.bc.EncounterIndex = 0
		m.commander.StartMissionAutomation(m.bc.MissionID)
		m.arm(m.timeouts.GameReady, "game did not become ready")

	case StateRunning:
		// progress and failures arrive as driver events

	case StateCompleting:
		m.commander.StopMissionAutomation()
		if err := m.repo.MarkCleared(ctx, m.bc.MissionID); err != nil {
			m.bc.ErrorMessage = fmt.Sprintf("could not mark %s cleared: %v", m.bc.MissionID, err)
			return StateError, true
		}
		if len(m.pendingLoot) > 0 {
			if err := m.repo.AccumulateLoot(ctx, m.bc.MissionID, m.pendingLoot); err != nil {
				m.logger.Warn("could not record loot", slog.String("mission", m.bc.MissionID), slog.Any("error", err))
			}
		}
		m.pendingLoot = nil
		m.bc.MissionsCleared++
		return StateStarting, true

	case StateError:
		m.commander.StopMissionAutomation()
		m.bc.CompletionReason = ReasonError
		m.bc.SessionActive = false
		m.pendingLoot = nil
	}
	return "", false
}

// arm starts the local timeout of the current state. A timer that fires after
// the machine moved on carries an old generation and is dropped.
func (m *Machine) arm(d time.Duration, reason string) {
	if d <= 0 {
		return
	}
	gen, state := m.gen, m.bc.State
	m.timer = time.AfterFunc(d, func() {
		m.post(timeoutInput{gen: gen, state: state, reason: reason})
	})
}

func (m *Machine) cancelTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// publish persists the context and broadcasts it.
func (m *Machine) publish(ctx context.Context) {
	m.bc.UpdatedAt = m.now().UnixMilli()
	if m.store != nil {
		raw, err := json.Marshal(m.bc)
		if err == nil {
			err = m.store.SaveBotState(ctx, raw)
		}
		if err != nil {
			m.logger.Warn("could not persist bot state", slog.Any("error", err))
		}
	}
	if m.notifier != nil {
		m.notifier.StateChanged(StateChanged(m.bc))
	}
}

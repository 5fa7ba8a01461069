package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/autosupper/autosupper/internal/event"
	"github.com/autosupper/autosupper/internal/mission"
)

var (
	ErrAlreadyRunning = errors.New("bot is already running")
	ErrNoResponse     = errors.New("bot did not respond")
	ErrMachineStopped = errors.New("bot machine is not running")
)

// Commander carries out the machine's side effects. Every method must return
// immediately and report back through Dispatch.
type Commander interface {
	NavigateTo(missionID, url string)
	ArmGameLoader(missionID string)
	ClickGameUI(missionID string)
	StartMissionAutomation(missionID string)
	StopMissionAutomation()
}

type Repository interface {
	GetFiltered(ctx context.Context, f mission.Filters) ([]mission.Mission, error)
	MarkCleared(ctx context.Context, postID string) error
	AccumulateLoot(ctx context.Context, postID string, items map[string]int) error
}

type StateStore interface {
	SaveBotState(ctx context.Context, state json.RawMessage) error
	LoadBotState(ctx context.Context) (json.RawMessage, error)
}

type Notifier interface {
	StateChanged(e StateChangedEvent)
}

type Timeouts struct {
	Navigation time.Duration `yaml:"navigation"`
	GameLoader time.Duration `yaml:"gameLoader"`
	OpenGame   time.Duration `yaml:"openGame"`
	GameReady  time.Duration `yaml:"gameReady"`
	Query      time.Duration `yaml:"query"`
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Navigation: 30 * time.Second,
		GameLoader: 35 * time.Second,
		OpenGame:   60 * time.Second,
		GameReady:  45 * time.Second,
		Query:      2 * time.Second,
	}
}

type input interface{}

type eventInput struct{ e event.Event }

type startInput struct {
	filters mission.Filters
	reply   chan error
}

type stopInput struct{ reply chan struct{} }

type queryInput struct{ reply chan Context }

type restoreInput struct {
	currentURL string
	reply      chan struct{}
}

type timeoutInput struct {
	gen    uint64
	state  State
	reason string
}

// Machine is the bot state machine. Run owns all state; the exported methods
// only queue inputs, which are handled strictly in arrival order.
type Machine struct {
	logger    *slog.Logger
	repo      Repository
	store     StateStore
	commander Commander
	notifier  Notifier
	timeouts  Timeouts
	now       func() time.Time

	inbox chan input
	done  chan struct{}

	// owned by the Run goroutine
	bc          Context
	gen         uint64
	timer       *time.Timer
	pendingLoot map[string]int
}

func NewMachine(logger *slog.Logger, repo Repository, store StateStore, commander Commander, notifier Notifier, timeouts Timeouts) *Machine {
	return &Machine{
		logger:    logger,
		repo:      repo,
		store:     store,
		commander: commander,
		notifier:  notifier,
		timeouts:  timeouts,
		now:       time.Now,
		inbox:     make(chan input, 64),
		done:      make(chan struct{}),
		bc:        Context{State: StateIdle},
	}
}

// Run processes inputs until ctx ends.
func (m *Machine) Run(ctx context.Context) error {
	defer close(m.done)
	defer m.cancelTimer()
	for {
		select {
		case <-ctx.Done():
			return nil
		case in := <-m.inbox:
			m.handle(ctx, in)
		}
	}
}

func (m *Machine) post(in input) bool {
	select {
	case m.inbox <- in:
		return true
	case <-m.done:
		return false
	}
}

// Dispatch queues a sensor or driver event.
func (m *Machine) Dispatch(e event.Event) {
	m.post(eventInput{e: e})
}

// Start is START_BOT. It fails when a session is already in progress.
func (m *Machine) Start(ctx context.Context, filters mission.Filters) error {
	reply := make(chan error, 1)
	if !m.post(startInput{filters: filters, reply: reply}) {
		return ErrMachineStopped
	}
	return m.await(ctx, reply)
}

// Stop is STOP_BOT. When it returns the machine is idle.
func (m *Machine) Stop(ctx context.Context) error {
	reply := make(chan struct{}, 1)
	if !m.post(stopInput{reply: reply}) {
		return ErrMachineStopped
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.timeouts.Query):
		return ErrNoResponse
	}
}

// State is GET_STATE.
func (m *Machine) State(ctx context.Context) (Context, error) {
	reply := make(chan Context, 1)
	if !m.post(queryInput{reply: reply}) {
		return Context{}, ErrMachineStopped
	}
	select {
	case c := <-reply:
		return c, nil
	case <-ctx.Done():
		return Context{}, ctx.Err()
	case <-time.After(m.timeouts.Query):
		return Context{}, ErrNoResponse
	}
}

// Restore loads the persisted session and resumes it when the browser is
// still on the active mission's page.
func (m *Machine) Restore(ctx context.Context, currentURL string) error {
	reply := make(chan struct{}, 1)
	if !m.post(restoreInput{currentURL: currentURL, reply: reply}) {
		return ErrMachineStopped
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Machine) await(ctx context.Context, reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.timeouts.Query):
		return ErrNoResponse
	}
}

func (m *Machine) handle(ctx context.Context, in input) {
	switch in := in.(type) {
	case eventInput:
		m.handleEvent(ctx, in.e)
	case startInput:
		in.reply <- m.handleStart(ctx, in.filters)
	case stopInput:
		m.handleStop(ctx)
		in.reply <- struct{}{}
	case queryInput:
		in.reply <- m.bc.clone()
	case restoreInput:
		m.handleRestore(ctx, in.currentURL)
		in.reply <- struct{}{}
	case timeoutInput:
		if in.gen != m.gen || in.state != m.bc.State {
			m.logger.Debug("ignoring stale timeout", slog.String("state", string(in.state)))
			return
		}
		m.fail(ctx, in.reason)
	}
}

func (m *Machine) handleStart(ctx context.Context, filters mission.Filters) error {
	if m.bc.State != StateIdle && m.bc.State != StateError {
		return fmt.Errorf("%w (state %s)", ErrAlreadyRunning, m.bc.State)
	}
	m.bc.Filters = filters
	m.bc.MissionsCleared = 0
	m.transition(ctx, StateStarting)
	return nil
}

func (m *Machine) handleStop(ctx context.Context) {
	if m.bc.State == StateIdle {
		return
	}
	m.bc.CompletionReason = ReasonStopped
	m.transition(ctx, StateIdle)
}

func (m *Machine) fail(ctx context.Context, reason string) {
	m.logger.Error("bot failed", slog.String("state", string(m.bc.State)), slog.String("reason", reason))
	m.bc.ErrorMessage = reason
	m.transition(ctx, StateError)
}

// matches reports whether an event belongs to the active mission. Events
// without a mission id are accepted.
func (m *Machine) matches(missionID string) bool {
	return missionID == "" || missionID == m.bc.MissionID
}

func (m *Machine) ignore(e event.Event) {
	m.logger.Debug("ignoring event", slog.String("event", e.Kind()), slog.String("state", string(m.bc.State)))
}

func (m *Machine) handleEvent(ctx context.Context, e event.Event) {
	switch e := e.(type) {
	case event.MissionFoundEvent:
		if m.bc.State != StateNavigating || !e.IsCurrentPage {
			m.ignore(e)
			return
		}
		if e.MissionID != m.bc.MissionID && !mission.SamePage(e.Permalink, m.bc.Permalink) {
			m.ignore(e)
			return
		}
		m.transition(ctx, StateWaitingForGame)

	case event.GameLoaderDetectedEvent:
		if m.bc.State != StateWaitingForGame {
			m.ignore(e)
			return
		}
		if e.URL != "" && !mission.SamePage(e.URL, m.bc.Permalink) {
			m.ignore(e)
			return
		}
		m.transition(ctx, StateOpeningGame)

	case event.GameDialogOpenedEvent:
		if m.bc.State != StateOpeningGame || !m.matches(e.MissionID) {
			m.ignore(e)
			return
		}
		m.transition(ctx, StateGameReady)

	case event.AutomationReadyEvent:
		if m.bc.State != StateGameReady || !m.matches(e.MissionID) {
			m.ignore(e)
			return
		}
		m.transition(ctx, StateRunning)

	case event.EncounterResultEvent:
		if m.bc.State != StateRunning || !m.matches(e.MissionID) {
			m.ignore(e)
			return
		}
		m.bc.EncounterIndex = e.Index
		if e.Total > 0 {
			m.bc.EncounterTotal = e.Total
		}
		m.publish(ctx)

	case event.MissionCompleteEvent:
		if m.bc.State != StateRunning || !m.matches(e.MissionID) {
			m.ignore(e)
			return
		}
		m.pendingLoot = e.Loot
		m.transition(ctx, StateCompleting)

	case event.MissionDataEvent:
		if e.PostID != m.bc.MissionID || m.bc.MissionID == "" {
			return
		}
		if m.bc.EncounterTotal == 0 && len(e.Encounters) > 0 {
			m.bc.EncounterTotal = len(e.Encounters)
			m.publish(ctx)
		}

	case event.ErrorOccurredEvent:
		switch m.bc.State {
		case StateIdle, StateError, StateCompleting:
			m.ignore(e)
			return
		}
		if !m.matches(e.MissionID) {
			m.ignore(e)
			return
		}
		m.fail(ctx, e.Message())

	case event.PageLoadedEvent:
		m.handlePageLoaded(ctx, e)

	default:
		m.ignore(e)
	}
}

// handlePageLoaded re-arms loader detection when the mission page reloads
// under a running session.
func (m *Machine) handlePageLoaded(ctx context.Context, e event.PageLoadedEvent) {
	if !m.bc.SessionActive || !mission.SamePage(e.URL, m.bc.Permalink) {
		m.ignore(e)
		return
	}
	switch {
	case m.bc.State == StateNavigating:
		m.transition(ctx, StateWaitingForGame)
	case m.bc.State.inGame():
		m.logger.Info("mission page reloaded, waiting for the game again", slog.String("mission", m.bc.MissionID))
		m.transition(ctx, StateWaitingForGame)
	default:
		m.ignore(e)
	}
}

func (m *Machine) handleRestore(ctx context.Context, currentURL string) {
	if m.store == nil || m.bc.State != StateIdle {
		return
	}
	raw, err := m.store.LoadBotState(ctx)
	if err != nil {
		m.logger.Debug("no bot state to restore", slog.Any("error", err))
		return
	}
	var saved Context
	if err := json.Unmarshal(raw, &saved); err != nil {
		m.logger.Warn("discarding unreadable bot state", slog.Any("error", err))
		return
	}

	m.bc.Filters = saved.Filters
	m.bc.MissionsCleared = saved.MissionsCleared
	if !saved.SessionActive || saved.MissionID == "" {
		return
	}

	m.bc = saved
	m.bc.State = StateIdle
	m.bc.ErrorMessage = ""
	if mission.SamePage(currentURL, saved.Permalink) {
		m.logger.Info("resuming session on mission page", slog.String("mission", saved.MissionID))
		m.transition(ctx, StateWaitingForGame)
		return
	}
	m.logger.Info("resuming session, reopening mission", slog.String("mission", saved.MissionID))
	m.transition(ctx, StateNavigating)
}

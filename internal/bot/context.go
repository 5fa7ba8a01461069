package bot

import (
	"github.com/autosupper/autosupper/internal/mission"
)

type State string

const (
	StateIdle           State = "idle"
	StateStarting       State = "starting"
	StateNavigating     State = "navigating"
	StateWaitingForGame State = "waitingForGame"
	StateOpeningGame    State = "openingGame"
	StateGameReady      State = "gameReady"
	StateRunning        State = "running"
	StateCompleting     State = "completing"
	StateError          State = "error"
)

// inGame reports whether the state belongs to an opened mission page.
func (s State) inGame() bool {
	switch s {
	case StateWaitingForGame, StateOpeningGame, StateGameReady, StateRunning:
		return true
	}
	return false
}

type CompletionReason string

const (
	ReasonNoMissions CompletionReason = "no_missions"
	ReasonStopped    CompletionReason = "stopped"
	ReasonError      CompletionReason = "error"
)

// Context is everything the machine knows about the current session. Only
// the machine goroutine writes it; everybody else gets copies.
type Context struct {
	State            State            `json:"state"`
	MissionID        string           `json:"missionId,omitempty"`
	Permalink        string           `json:"permalink,omitempty"`
	MissionTitle     string           `json:"missionTitle,omitempty"`
	EncounterIndex   int              `json:"encounterIndex"`
	EncounterTotal   int              `json:"encounterTotal"`
	ErrorMessage     string           `json:"errorMessage,omitempty"`
	CompletionReason CompletionReason `json:"completionReason,omitempty"`
	Filters          mission.Filters  `json:"filters"`
	SessionActive    bool             `json:"sessionActive"`
	MissionsCleared  int              `json:"missionsCleared"`
	UpdatedAt        int64            `json:"updatedAt"`
}

func (c *Context) clearMission() {
	c.MissionID = ""
	c.Permalink = ""
	c.MissionTitle = ""
	c.EncounterIndex = 0
	c.EncounterTotal = 0
}

func (c Context) clone() Context {
	c.Filters.Stars = append([]int(nil), c.Filters.Stars...)
	return c
}

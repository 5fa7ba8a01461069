package bot

import (
	"fmt"

	"github.com/autosupper/autosupper/internal/event"
)

// StateChangedEvent is broadcast after every transition and progress update.
type StateChangedEvent struct {
	event.BaseEvent
	State   State
	Context Context
}

func (StateChangedEvent) Kind() string { return "STATE_CHANGED" }

func StateChanged(c Context) StateChangedEvent {
	msg := fmt.Sprintf("bot is %s", c.State)
	switch {
	case c.State == StateError && c.ErrorMessage != "":
		msg = fmt.Sprintf("bot stopped with error: %s", c.ErrorMessage)
	case c.State == StateIdle && c.CompletionReason != "":
		msg = fmt.Sprintf("bot is idle (%s)", c.CompletionReason)
	case c.MissionID != "":
		msg = fmt.Sprintf("bot is %s on %s", c.State, c.MissionID)
	}
	return StateChangedEvent{
		BaseEvent: event.Text("bot", msg),
		State:     c.State,
		Context:   c.clone(),
	}
}

package event

import (
	"time"

	"github.com/autosupper/autosupper/internal/mission"
)

type Event interface {
	Kind() string
	Source() string
	Message() string
	OccurredAt() time.Time
}

type BaseEvent struct {
	source     string
	message    string
	occurredAt time.Time
}

func Text(source, message string) BaseEvent {
	return BaseEvent{
		source:     source,
		message:    message,
		occurredAt: time.Now(),
	}
}

func (b BaseEvent) Source() string {
	return b.source
}

func (b BaseEvent) Message() string {
	return b.message
}

func (b BaseEvent) OccurredAt() time.Time {
	return b.occurredAt
}

// Sensor events. Every event names the page or mission it was observed for
// so the state machine can drop observations that belong to an older page.

type GameLoaderDetectedEvent struct {
	BaseEvent
	URL string
}

func (GameLoaderDetectedEvent) Kind() string { return "GAME_LOADER_DETECTED" }

func GameLoaderDetected(be BaseEvent, url string) GameLoaderDetectedEvent {
	return GameLoaderDetectedEvent{BaseEvent: be, URL: url}
}

type MissionFoundEvent struct {
	BaseEvent
	MissionID     string
	Permalink     string
	IsCurrentPage bool
}

func (MissionFoundEvent) Kind() string { return "MISSION_FOUND" }

func MissionFound(be BaseEvent, missionID, permalink string, isCurrentPage bool) MissionFoundEvent {
	return MissionFoundEvent{BaseEvent: be, MissionID: missionID, Permalink: permalink, IsCurrentPage: isCurrentPage}
}

type MissionDataEvent struct {
	BaseEvent
	PostID      string
	Difficulty  int
	MinLevel    *int
	MaxLevel    *int
	Environment string
	Encounters  []mission.Encounter
	// Extra carries the decoded fields that are not part of the event contract.
	Extra mission.Record
}

func (MissionDataEvent) Kind() string { return "MISSION_DATA" }

func MissionData(be BaseEvent, r mission.Record) MissionDataEvent {
	return MissionDataEvent{
		BaseEvent:   be,
		PostID:      r.PostID,
		Difficulty:  r.Difficulty,
		MinLevel:    r.MinLevel,
		MaxLevel:    r.MaxLevel,
		Environment: r.Environment,
		Encounters:  r.Encounters,
		Extra:       r,
	}
}

func (e MissionDataEvent) Record() mission.Record {
	r := e.Extra
	r.PostID = e.PostID
	r.Difficulty = e.Difficulty
	r.MinLevel = e.MinLevel
	r.MaxLevel = e.MaxLevel
	r.Environment = e.Environment
	r.Encounters = e.Encounters
	return r
}

type GameDialogOpenedEvent struct {
	BaseEvent
	MissionID string
}

func (GameDialogOpenedEvent) Kind() string { return "GAME_DIALOG_OPENED" }

func GameDialogOpened(be BaseEvent, missionID string) GameDialogOpenedEvent {
	return GameDialogOpenedEvent{BaseEvent: be, MissionID: missionID}
}

type AutomationReadyEvent struct {
	BaseEvent
	MissionID string
}

func (AutomationReadyEvent) Kind() string { return "AUTOMATION_READY" }

func AutomationReady(be BaseEvent, missionID string) AutomationReadyEvent {
	return AutomationReadyEvent{BaseEvent: be, MissionID: missionID}
}

// ErrorOccurredEvent is a failure that makes forward progress impossible for
// the current mission. Message() carries the human readable reason.
type ErrorOccurredEvent struct {
	BaseEvent
	MissionID string
}

func (ErrorOccurredEvent) Kind() string { return "ERROR_OCCURRED" }

func ErrorOccurred(be BaseEvent, missionID string) ErrorOccurredEvent {
	return ErrorOccurredEvent{BaseEvent: be, MissionID: missionID}
}

type EncounterResultEvent struct {
	BaseEvent
	MissionID string
	Index     int
	Total     int
	Tag       string
	Choice    string
}

func (EncounterResultEvent) Kind() string { return "ENCOUNTER_RESULT" }

func EncounterResult(be BaseEvent, missionID string, index, total int, tag, choice string) EncounterResultEvent {
	return EncounterResultEvent{BaseEvent: be, MissionID: missionID, Index: index, Total: total, Tag: tag, Choice: choice}
}

type MissionCompleteEvent struct {
	BaseEvent
	MissionID string
	Loot      map[string]int
}

func (MissionCompleteEvent) Kind() string { return "MISSION_COMPLETE" }

func MissionComplete(be BaseEvent, missionID string, loot map[string]int) MissionCompleteEvent {
	return MissionCompleteEvent{BaseEvent: be, MissionID: missionID, Loot: loot}
}

// PageLoadedEvent fires after every main frame navigation. It stands in for
// the content script being reinjected into a fresh page.
type PageLoadedEvent struct {
	BaseEvent
	URL string
}

func (PageLoadedEvent) Kind() string { return "PAGE_LOADED" }

func PageLoaded(be BaseEvent, url string) PageLoadedEvent {
	return PageLoadedEvent{BaseEvent: be, URL: url}
}

type MissionStoredEvent struct {
	BaseEvent
	PostID string
}

func (MissionStoredEvent) Kind() string { return "MISSION_STORED" }

func MissionStored(be BaseEvent, postID string) MissionStoredEvent {
	return MissionStoredEvent{BaseEvent: be, PostID: postID}
}

// TunnelOpenedEvent carries the public address of the status page.
type TunnelOpenedEvent struct {
	BaseEvent
	URL string
}

func (TunnelOpenedEvent) Kind() string { return "TUNNEL_OPENED" }

func TunnelOpened(url string) TunnelOpenedEvent {
	return TunnelOpenedEvent{BaseEvent: Text("ngrok", "tunnel opened"), URL: url}
}

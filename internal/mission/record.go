package mission

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidRecord = errors.New("invalid mission record")

type EncounterType string

const (
	EncounterEnemy           EncounterType = "enemy"
	EncounterBoss            EncounterType = "boss"
	EncounterSkillBargain    EncounterType = "skillBargain"
	EncounterAbilityChoice   EncounterType = "abilityChoice"
	EncounterStatsChoice     EncounterType = "statsChoice"
	EncounterCrossroadsFight EncounterType = "crossroadsFight"
	EncounterInvestigate     EncounterType = "investigate"
	EncounterTreasure        EncounterType = "treasure"
)

type Enemy struct {
	Type  string `json:"type"`
	Level int    `json:"level,omitempty"`
}

// Effect is one side of a skill bargain. Amount keeps whatever sign the game
// sent; comparisons use magnitudes.
type Effect struct {
	Stat   string  `json:"stat"`
	Amount float64 `json:"amount"`
}

type Bargain struct {
	Positive Effect `json:"positive"`
	Negative Effect `json:"negative"`
}

type Encounter struct {
	Type    EncounterType `json:"type"`
	Enemies []Enemy       `json:"enemies,omitempty"`
	Options []string      `json:"options,omitempty"`
	Bargain *Bargain      `json:"bargain,omitempty"`
}

// Record holds the shareable facts about a mission. Per-user progress lives
// in Progress so records can be exported and merged between users.
type Record struct {
	PostID       string      `json:"postId"`
	Permalink    string      `json:"permalink"`
	Timestamp    int64       `json:"timestamp"`
	Difficulty   int         `json:"difficulty"`
	MinLevel     *int        `json:"minLevel,omitempty"`
	MaxLevel     *int        `json:"maxLevel,omitempty"`
	Environment  string      `json:"environment"`
	MissionTitle string      `json:"missionTitle,omitempty"`
	FoodName     string      `json:"foodName,omitempty"`
	Encounters   []Encounter `json:"encounters,omitempty"`
}

type Progress struct {
	Cleared   bool           `json:"cleared"`
	ClearedAt *int64         `json:"clearedAt,omitempty"`
	Disabled  bool           `json:"disabled"`
	TotalLoot map[string]int `json:"totalLoot,omitempty"`
}

// Mission is a record joined with the local user's progress.
type Mission struct {
	Record
	Progress Progress `json:"progress"`
}

// Levels returns the level bounds and whether both are known.
func (r Record) Levels() (minLevel, maxLevel int, ok bool) {
	if r.MinLevel == nil || r.MaxLevel == nil {
		return 0, 0, false
	}
	return *r.MinLevel, *r.MaxLevel, true
}

// Eligible reports whether the record is classified enough to be picked by automation.
func (r Record) Eligible() bool {
	if r.Difficulty <= 0 {
		return false
	}
	_, _, ok := r.Levels()
	return ok
}

func (r Record) Validate() error {
	var missing []string
	if strings.TrimSpace(r.PostID) == "" {
		missing = append(missing, "postId")
	}
	if r.Difficulty == 0 {
		missing = append(missing, "difficulty")
	}
	if r.MinLevel == nil {
		missing = append(missing, "minLevel")
	}
	if r.MaxLevel == nil {
		missing = append(missing, "maxLevel")
	}
	if strings.TrimSpace(r.Environment) == "" {
		missing = append(missing, "environment")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRecord, strings.Join(missing, ", "))
	}
	if r.Difficulty < 0 || r.Difficulty > 5 {
		return fmt.Errorf("%w: difficulty %d out of range", ErrInvalidRecord, r.Difficulty)
	}
	if *r.MinLevel > *r.MaxLevel {
		return fmt.Errorf("%w: minLevel %d above maxLevel %d", ErrInvalidRecord, *r.MinLevel, *r.MaxLevel)
	}
	return nil
}

// Merge folds newer sensor observations into r. Known classification is
// never replaced by an unknown value.
func (r Record) Merge(in Record) Record {
	out := r
	if in.Permalink != "" {
		out.Permalink = in.Permalink
	}
	if out.Timestamp == 0 || (in.Timestamp != 0 && in.Timestamp < out.Timestamp) {
		// discovery time is the first time anyone saw the mission
		out.Timestamp = in.Timestamp
	}
	if in.Difficulty > 0 {
		out.Difficulty = in.Difficulty
	}
	if in.MinLevel != nil {
		out.MinLevel = in.MinLevel
	}
	if in.MaxLevel != nil {
		out.MaxLevel = in.MaxLevel
	}
	if in.Environment != "" {
		out.Environment = in.Environment
	}
	if in.MissionTitle != "" {
		out.MissionTitle = in.MissionTitle
	}
	if in.FoodName != "" {
		out.FoodName = in.FoodName
	}
	if len(in.Encounters) > 0 {
		out.Encounters = in.Encounters
	}
	return out
}

func (r Record) EncounterAt(i int) *Encounter {
	if i < 0 || i >= len(r.Encounters) {
		return nil
	}
	return &r.Encounters[i]
}

func IntPtr(v int) *int {
	return &v
}

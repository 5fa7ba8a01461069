package mission

import (
	"slices"
	"sort"
)

// Filters selects missions for automation. A mission matches only when its
// whole level range lies inside [MinLevel, MaxLevel].
type Filters struct {
	Stars    []int `json:"stars" yaml:"stars"`
	MinLevel int   `json:"minLevel" yaml:"minLevel"`
	MaxLevel int   `json:"maxLevel" yaml:"maxLevel"`
}

func (f Filters) Match(r Record) bool {
	minLevel, maxLevel, ok := r.Levels()
	if !ok || r.Difficulty <= 0 {
		return false
	}
	if !slices.Contains(f.Stars, r.Difficulty) {
		return false
	}
	return minLevel >= f.MinLevel && maxLevel <= f.MaxLevel
}

// Select keeps eligible, matching missions that are neither cleared nor
// disabled and orders them newest first.
func Select(missions []Mission, f Filters) []Mission {
	out := make([]Mission, 0, len(missions))
	for _, m := range missions {
		if m.Progress.Cleared || m.Progress.Disabled {
			continue
		}
		if !m.Eligible() || !f.Match(m.Record) {
			continue
		}
		out = append(out, m)
	}
	SortNewestFirst(out)
	return out
}

func SortNewestFirst(missions []Mission) {
	sort.SliceStable(missions, func(i, j int) bool {
		return missions[i].Timestamp > missions[j].Timestamp
	})
}

type Policy string

const (
	PolicyAlways       Policy = "always"
	PolicyNever        Policy = "never"
	PolicyPositiveOnly Policy = "positive-only"

	PolicyFight Policy = "fight"
	PolicySkip  Policy = "skip"
)

// AutomationConfig is the user's in-game strategy.
type AutomationConfig struct {
	AbilityPreferences []string `json:"abilityPreferences" yaml:"abilityPreferences"`
	SkillBargain       Policy   `json:"skillBargain" yaml:"skillBargain"`
	Crossroads         Policy   `json:"crossroads" yaml:"crossroads"`
}

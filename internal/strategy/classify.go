// Package strategy classifies the game's current screen from its visible
// control labels and picks the control to press. It never touches the page.
package strategy

import (
	"strings"
	"unicode/utf8"
)

type Tag string

const (
	TagEnemy         Tag = "enemy"
	TagSkillBargain  Tag = "skillBargain"
	TagCrossroads    Tag = "crossroads"
	TagAbilityChoice Tag = "abilityChoice"
	TagTreasure      Tag = "treasure"
	TagNeedsAdvance  Tag = "needsAdvance"
	TagUnknown       Tag = "unknown"
)

const minAbilityOptions = 3

// Labels are the button texts the game uses for its fixed controls.
// Matching is case-insensitive on the trimmed text.
type Labels struct {
	Battle   string `yaml:"battle"`
	Accept   string `yaml:"accept"`
	Decline  string `yaml:"decline"`
	Fight    string `yaml:"fight"`
	Skip     string `yaml:"skip"`
	Continue string `yaml:"continue"`
	Advance  string `yaml:"advance"`
	// MinOptionLength is the shortest label counted as a free-text option.
	MinOptionLength int `yaml:"minOptionLength"`
}

func DefaultLabels() Labels {
	return Labels{
		Battle:          "Battle",
		Accept:          "Accept",
		Decline:         "Decline",
		Fight:           "Fight",
		Skip:            "Skip",
		Continue:        "Continue",
		Advance:         "Advance",
		MinOptionLength: 5,
	}
}

func (l Labels) controls() []string {
	return []string{l.Battle, l.Accept, l.Decline, l.Fight, l.Skip, l.Continue, l.Advance}
}

// Screen is what the driver could see in the game frame at one instant.
type Screen struct {
	Controls []string
	Victory  bool
}

func (s Screen) has(label string) bool {
	if label == "" {
		return false
	}
	for _, c := range s.Controls {
		if strings.EqualFold(strings.TrimSpace(c), label) {
			return true
		}
	}
	return false
}

// Options returns the free-text labels: long enough and not a known control.
func (l Labels) Options(s Screen) []string {
	var out []string
	for _, c := range s.Controls {
		c = strings.TrimSpace(c)
		if utf8.RuneCountInString(c) < l.MinOptionLength || l.isControl(c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (l Labels) isControl(text string) bool {
	for _, c := range l.controls() {
		if c != "" && strings.EqualFold(text, c) {
			return true
		}
	}
	return false
}

// Classify applies a fixed precedence so the same screen always gets the
// same tag.
func Classify(s Screen, l Labels) Tag {
	switch {
	case s.has(l.Battle):
		return TagEnemy
	case s.has(l.Decline):
		return TagSkillBargain
	case s.has(l.Fight) && s.has(l.Skip):
		return TagCrossroads
	case len(l.Options(s)) >= minAbilityOptions:
		return TagAbilityChoice
	case s.has(l.Continue) && s.Victory:
		return TagTreasure
	case s.has(l.Advance):
		return TagNeedsAdvance
	}
	return TagUnknown
}

package strategy

import (
	"math"
	"strings"

	"github.com/autosupper/autosupper/internal/mission"
)

// Decision names the control to click. Complete is set when the click ends
// the mission.
type Decision struct {
	Tag      Tag
	Label    string
	Complete bool
}

// Decide picks the control for a classified screen. enc is the mission's
// recorded encounter at the current index, nil when unknown. ok is false
// only for unknown screens.
func Decide(tag Tag, s Screen, l Labels, cfg mission.AutomationConfig, enc *mission.Encounter) (Decision, bool) {
	d := Decision{Tag: tag}
	switch tag {
	case TagEnemy:
		d.Label = l.Battle
	case TagSkillBargain:
		if AcceptBargain(cfg.SkillBargain, enc) {
			d.Label = l.Accept
		} else {
			d.Label = l.Decline
		}
	case TagCrossroads:
		if cfg.Crossroads == mission.PolicySkip {
			d.Label = l.Skip
		} else {
			d.Label = l.Fight
		}
	case TagAbilityChoice:
		d.Label = PickAbility(l.Options(s), cfg.AbilityPreferences)
	case TagTreasure:
		d.Label = l.Continue
		d.Complete = true
	case TagNeedsAdvance:
		d.Label = l.Advance
	default:
		return d, false
	}
	return d, d.Label != ""
}

// AcceptBargain compares magnitudes for positive-only: the effect amounts do
// not share a sign convention, so only their size is trusted. Without
// recorded bargain data positive-only declines.
func AcceptBargain(policy mission.Policy, enc *mission.Encounter) bool {
	switch policy {
	case mission.PolicyAlways:
		return true
	case mission.PolicyPositiveOnly:
		if enc == nil || enc.Bargain == nil {
			return false
		}
		return math.Abs(enc.Bargain.Positive.Amount) > math.Abs(enc.Bargain.Negative.Amount)
	}
	return false
}

// PickAbility returns the offered option matching the highest ranked
// preference, or the first offered option.
func PickAbility(offered, preferences []string) string {
	if len(offered) == 0 {
		return ""
	}
	for _, pref := range preferences {
		for _, o := range offered {
			if strings.EqualFold(strings.TrimSpace(pref), o) {
				return o
			}
		}
	}
	return offered[0]
}

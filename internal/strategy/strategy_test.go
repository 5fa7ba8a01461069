package strategy

import (
	"testing"

	"github.com/autosupper/autosupper/internal/mission"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	l := DefaultLabels()
	tests := []struct {
		name   string
		screen Screen
		want   Tag
	}{
		{"battle wins over everything", Screen{Controls: []string{"Battle", "Decline", "Continue"}, Victory: true}, TagEnemy},
		{"decline means bargain", Screen{Controls: []string{"Accept", "Decline"}}, TagSkillBargain},
		{"miniboss crossroads", Screen{Controls: []string{"Fight", "Skip"}}, TagCrossroads},
		{"three long options", Screen{Controls: []string{"Ice Knife", "Healing Factor", "Thunder Clap", "Skip"}}, TagAbilityChoice},
		{"two long options are not a choice", Screen{Controls: []string{"Ice Knife", "Healing Factor", "Advance"}}, TagNeedsAdvance},
		{"short labels are ignored", Screen{Controls: []string{"A", "B", "C"}}, TagUnknown},
		{"known controls are not options", Screen{Controls: []string{"Continue", "Advance", "Decline "}}, TagSkillBargain},
		{"treasure needs victory marker", Screen{Controls: []string{"Continue"}, Victory: true}, TagTreasure},
		{"continue alone is unknown", Screen{Controls: []string{"Continue"}}, TagUnknown},
		{"case and space insensitive", Screen{Controls: []string{"  battle "}}, TagEnemy},
		{"empty screen", Screen{}, TagUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.screen, l))
		})
	}
}

func bargain(pos, neg float64) *mission.Encounter {
	return &mission.Encounter{
		Type: mission.EncounterSkillBargain,
		Bargain: &mission.Bargain{
			Positive: mission.Effect{Stat: "attack", Amount: pos},
			Negative: mission.Effect{Stat: "defense", Amount: neg},
		},
	}
}

func TestAcceptBargain(t *testing.T) {
	assert.True(t, AcceptBargain(mission.PolicyAlways, nil))
	assert.False(t, AcceptBargain(mission.PolicyNever, bargain(100, 1)))
	assert.True(t, AcceptBargain(mission.PolicyPositiveOnly, bargain(10, -5)))
	assert.False(t, AcceptBargain(mission.PolicyPositiveOnly, bargain(5, -10)))
	assert.False(t, AcceptBargain(mission.PolicyPositiveOnly, bargain(5, 5)))
	assert.False(t, AcceptBargain(mission.PolicyPositiveOnly, nil))
	assert.False(t, AcceptBargain(mission.PolicyPositiveOnly, &mission.Encounter{}))
	assert.False(t, AcceptBargain("", bargain(10, 1)))
}

func TestPickAbility(t *testing.T) {
	offered := []string{"Ice Knife", "Healing Factor", "Thunder Clap"}
	assert.Equal(t, "Thunder Clap", PickAbility(offered, []string{"Fireball", "thunder clap", "Ice Knife"}))
	assert.Equal(t, "Ice Knife", PickAbility(offered, []string{"Fireball"}))
	assert.Equal(t, "Ice Knife", PickAbility(offered, nil))
	assert.Equal(t, "", PickAbility(nil, []string{"Ice Knife"}))
}

func TestDecide(t *testing.T) {
	l := DefaultLabels()
	cfg := mission.AutomationConfig{
		AbilityPreferences: []string{"Healing Factor"},
		SkillBargain:       mission.PolicyPositiveOnly,
		Crossroads:         mission.PolicySkip,
	}
	choice := Screen{Controls: []string{"Ice Knife", "Healing Factor", "Thunder Clap"}}

	tests := []struct {
		name     string
		tag      Tag
		screen   Screen
		enc      *mission.Encounter
		want     string
		complete bool
		ok       bool
	}{
		{"enemy always battles", TagEnemy, Screen{}, nil, "Battle", false, true},
		{"good bargain", TagSkillBargain, Screen{}, bargain(8, -2), "Accept", false, true},
		{"bad bargain", TagSkillBargain, Screen{}, bargain(1, -9), "Decline", false, true},
		{"crossroads skip", TagCrossroads, Screen{}, nil, "Skip", false, true},
		{"preferred ability", TagAbilityChoice, choice, nil, "Healing Factor", false, true},
		{"treasure completes", TagTreasure, Screen{}, nil, "Continue", true, true},
		{"advance", TagNeedsAdvance, Screen{}, nil, "Advance", false, true},
		{"unknown", TagUnknown, Screen{}, nil, "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := Decide(tt.tag, tt.screen, l, cfg, tt.enc)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, d.Label)
			assert.Equal(t, tt.complete, d.Complete)
		})
	}

	d, _ := Decide(TagCrossroads, Screen{}, l, mission.AutomationConfig{}, nil)
	assert.Equal(t, "Fight", d.Label)
}

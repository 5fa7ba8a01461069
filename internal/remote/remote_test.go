package remote

import (
	"context"
	"testing"

	"github.com/autosupper/autosupper/internal/bot"
	"github.com/autosupper/autosupper/internal/mission"
	"github.com/autosupper/autosupper/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	started  []mission.Filters
	startErr error
	stopped  int
	state    bot.Context
}

func (c *fakeController) Start(_ context.Context, f mission.Filters) error {
	if c.startErr != nil {
		return c.startErr
	}
	c.started = append(c.started, f)
	return nil
}

func (c *fakeController) Stop(context.Context) error {
	c.stopped++
	return nil
}

func (c *fakeController) State(context.Context) (bot.Context, error) {
	return c.state, nil
}

var defaults = mission.Filters{Stars: []int{1, 2}, MinLevel: 1, MaxLevel: 20}

func TestNotices(t *testing.T) {
	var n Notices

	assert.Empty(t, n.Observe(bot.Context{State: bot.StateIdle}), "first broadcast primes")
	assert.Empty(t, n.Observe(bot.Context{State: bot.StateStarting, SessionActive: true}))
	assert.Empty(t, n.Observe(bot.Context{State: bot.StateRunning, MissionID: "t3_a", MissionTitle: "Goblin Supper"}))

	got := n.Observe(bot.Context{State: bot.StateCompleting, MissionID: "t3_a", MissionTitle: "Goblin Supper", MissionsCleared: 1})
	require.Len(t, got, 1)
	assert.Equal(t, NoticeCleared, got[0].Kind)
	assert.Contains(t, got[0].Text, "Goblin Supper")

	assert.Empty(t, n.Observe(bot.Context{State: bot.StateStarting, MissionsCleared: 1}))

	got = n.Observe(bot.Context{State: bot.StateIdle, CompletionReason: bot.ReasonNoMissions, MissionsCleared: 1})
	require.Len(t, got, 1)
	assert.Equal(t, NoticeIdle, got[0].Kind)
	assert.Contains(t, got[0].Text, "no missions")

	assert.Empty(t, n.Observe(bot.Context{State: bot.StateStarting}), "a new session resets the counter")

	got = n.Observe(bot.Context{State: bot.StateError, ErrorMessage: "game loader did not appear"})
	require.Len(t, got, 1)
	assert.Equal(t, NoticeError, got[0].Kind)
	assert.Equal(t, "Error: game loader did not appear", got[0].Text)

	assert.Empty(t, n.Observe(bot.Context{State: bot.StateError, ErrorMessage: "game loader did not appear"}))
}

func TestClearedNameFallsBackToPrevious(t *testing.T) {
	var n Notices
	n.Observe(bot.Context{State: bot.StateRunning, MissionID: "t3_a"})
	got := n.Observe(bot.Context{State: bot.StateStarting, MissionsCleared: 1})
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Text, "t3_a")
}

func TestParseStartArgs(t *testing.T) {
	tests := []struct {
		args    []string
		want    mission.Filters
		wantErr bool
	}{
		{args: nil, want: defaults},
		{args: []string{"3,4"}, want: mission.Filters{Stars: []int{3, 4}, MinLevel: 1, MaxLevel: 20}},
		{args: []string{"5", "40", "80"}, want: mission.Filters{Stars: []int{5}, MinLevel: 40, MaxLevel: 80}},
		{args: []string{"6"}, wantErr: true},
		{args: []string{"1", "x"}, wantErr: true},
		{args: []string{"1", "30", "10"}, wantErr: true},
		{args: []string{"1", "1", "2", "3"}, wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseStartArgs(tt.args, defaults)
		if tt.wantErr {
			assert.Error(t, err, tt.args)
			continue
		}
		require.NoError(t, err, tt.args)
		assert.Equal(t, tt.want, got)
	}
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	c := &fakeController{state: bot.Context{State: bot.StateRunning, MissionTitle: "Stew", EncounterIndex: 1, EncounterTotal: 4, MissionsCleared: 2}}

	assert.Contains(t, Execute(ctx, c, defaults, "START", []string{"2"}), "Started")
	require.Len(t, c.started, 1)
	assert.Equal(t, []int{2}, c.started[0].Stars)

	assert.Equal(t, "Stopped.", Execute(ctx, c, defaults, "stop", nil))
	assert.Equal(t, 1, c.stopped)

	status := Execute(ctx, c, defaults, "status", nil)
	assert.Contains(t, status, "State: running")
	assert.Contains(t, status, "Stew (encounter 1/4)")
	assert.Contains(t, status, "Cleared this session: 2")

	assert.Equal(t, Usage, Execute(ctx, c, defaults, "dance", nil))

	c.startErr = bot.ErrAlreadyRunning
	assert.Equal(t, "The bot is already running.", Execute(ctx, c, defaults, "start", nil))
	c.startErr = storage.ErrSessionLocked
	assert.Contains(t, Execute(ctx, c, defaults, "start", nil), "holds the session")
}

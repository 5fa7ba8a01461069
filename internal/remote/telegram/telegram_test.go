package telegram

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/autosupper/autosupper/internal/bot"
	"github.com/autosupper/autosupper/internal/mission"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chatID = 5

type fakeController struct {
	started []mission.Filters
	stopped int
}

func (c *fakeController) Start(_ context.Context, f mission.Filters) error {
	c.started = append(c.started, f)
	return nil
}

func (c *fakeController) Stop(context.Context) error {
	c.stopped++
	return nil
}

func (c *fakeController) State(context.Context) (bot.Context, error) {
	return bot.Context{State: bot.StateRunning, MissionID: "t3_x"}, nil
}

// botAPI answers getMe and records every sendMessage text.
type botAPI struct {
	mu    sync.Mutex
	texts []string
}

func (a *botAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"supper","username":"supper_bot"}}`)
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		_ = r.ParseForm()
		a.mu.Lock()
		a.texts = append(a.texts, r.FormValue("text"))
		a.mu.Unlock()
		io.WriteString(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":5,"type":"private"}}}`)
	default:
		io.WriteString(w, `{"ok":true,"result":[]}`)
	}
}

func (a *botAPI) sent() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.texts...)
}

func newTestBot(t *testing.T, opts Options, c *fakeController) (*Bot, *botAPI) {
	t.Helper()
	api := &botAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	opts.Token = "token"
	opts.ChatID = chatID
	defaults := func() mission.Filters { return mission.Filters{Stars: []int{1}, MinLevel: 1, MaxLevel: 10} }
	b, err := newBot(context.Background(), opts, srv.URL+"/bot%s/%s", c, defaults, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b, api
}

func TestHandleSendsNotices(t *testing.T) {
	b, api := newTestBot(t, Options{EnableIdleMessages: true, EnableClearedMessages: true}, &fakeController{})
	ctx := context.Background()

	for _, c := range []bot.Context{
		{State: bot.StateRunning, MissionID: "t3_x"},
		{State: bot.StateStarting, MissionsCleared: 1},
		{State: bot.StateIdle, CompletionReason: bot.ReasonStopped, MissionsCleared: 1},
		{State: bot.StateError, ErrorMessage: "boom"},
	} {
		require.NoError(t, b.Handle(ctx, bot.StateChanged(c)))
	}

	assert.Equal(t, []string{
		"Mission cleared: t3_x (1 this session)",
		"Bot is idle: stopped",
	}, api.sent(), "error notices are disabled")
}

func TestUpdatesRunCommands(t *testing.T) {
	c := &fakeController{}
	b, api := newTestBot(t, Options{}, c)
	ctx := context.Background()

	b.onUpdate(ctx, tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: chatID},
		Text:     "/start 2 1 30",
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 6}},
	}})
	require.Len(t, c.started, 1)
	assert.Equal(t, mission.Filters{Stars: []int{2}, MinLevel: 1, MaxLevel: 30}, c.started[0])

	b.onUpdate(ctx, tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}, Text: "status"}})
	b.onUpdate(ctx, tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 99}, Text: "stop"}})
	assert.Zero(t, c.stopped, "other chats are ignored")

	sent := api.sent()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0], "Started")
	assert.Contains(t, sent[1], "State: running")
}

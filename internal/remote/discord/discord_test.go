package discord

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/autosupper/autosupper/internal/bot"
	"github.com/autosupper/autosupper/internal/event"
	"github.com/autosupper/autosupper/internal/mission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	started []mission.Filters
}

func (c *fakeController) Start(_ context.Context, f mission.Filters) error {
	c.started = append(c.started, f)
	return nil
}

func (c *fakeController) Stop(context.Context) error { return nil }

func (c *fakeController) State(context.Context) (bot.Context, error) {
	return bot.Context{State: bot.StateIdle}, nil
}

func defaults() mission.Filters {
	return mission.Filters{Stars: []int{1}, MinLevel: 1, MaxLevel: 10}
}

type webhookSink struct {
	mu       sync.Mutex
	contents []string
	embeds   []string
}

func (s *webhookSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if v := r.FormValue("content"); v != "" {
		s.contents = append(s.contents, v)
	}
	if v := r.FormValue("payload_json"); v != "" {
		var payload struct {
			Embeds []struct {
				Description string `json:"description"`
			} `json:"embeds"`
		}
		if err := json.Unmarshal([]byte(v), &payload); err == nil && len(payload.Embeds) > 0 {
			s.embeds = append(s.embeds, payload.Embeds[0].Description)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func TestHandleForwardsEnabledNotices(t *testing.T) {
	sink := &webhookSink{}
	srv := httptest.NewServer(sink)
	defer srv.Close()

	b, err := NewBot(Options{
		UseWebhook:            true,
		WebhookURL:            srv.URL,
		EnableErrorMessages:   true,
		EnableClearedMessages: true,
	}, &fakeController{}, defaults, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	ctx := context.Background()
	for _, c := range []bot.Context{
		{State: bot.StateRunning, MissionTitle: "Goblin Supper"},
		{State: bot.StateStarting, MissionsCleared: 1},
		{State: bot.StateIdle, CompletionReason: bot.ReasonNoMissions, MissionsCleared: 1},
		{State: bot.StateStarting},
		{State: bot.StateError, ErrorMessage: "navigation timed out"},
	} {
		require.NoError(t, b.Handle(ctx, bot.StateChanged(c)))
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.embeds, 1)
	assert.Contains(t, sink.embeds[0], "Goblin Supper")
	assert.Equal(t, []string{"Error: navigation timed out"}, sink.contents, "idle notices are disabled")
}

func TestHandleAnnouncesTunnel(t *testing.T) {
	sink := &webhookSink{}
	srv := httptest.NewServer(sink)
	defer srv.Close()

	b, err := NewBot(Options{UseWebhook: true, WebhookURL: srv.URL}, &fakeController{}, defaults, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.NoError(t, b.Handle(context.Background(), event.TunnelOpened("https://abc.ngrok.app")))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, []string{"Status page: https://abc.ngrok.app"}, sink.contents)
}

func TestWebhookModeRequiresURL(t *testing.T) {
	_, err := NewBot(Options{UseWebhook: true}, &fakeController{}, defaults, slog.Default())
	assert.Error(t, err)
}

func TestReplyOnlyAnswersAdmins(t *testing.T) {
	c := &fakeController{}
	b, err := NewBot(Options{Token: "token", BotAdmins: []string{"42"}}, c, defaults, slog.Default())
	require.NoError(t, err)
	ctx := context.Background()

	_, ok := b.reply(ctx, "7", "!start")
	assert.False(t, ok)
	_, ok = b.reply(ctx, "42", "start")
	assert.False(t, ok)

	out, ok := b.reply(ctx, "42", "!start 2,3 5 30")
	require.True(t, ok)
	assert.Contains(t, out, "Started")
	require.Len(t, c.started, 1)
	assert.Equal(t, mission.Filters{Stars: []int{2, 3}, MinLevel: 5, MaxLevel: 30}, c.started[0])

	out, ok = b.reply(ctx, "42", "!status")
	require.True(t, ok)
	assert.Contains(t, out, "State: idle")

	out, _ = b.reply(ctx, "42", "!dance")
	assert.Contains(t, out, "Unknown command")
}

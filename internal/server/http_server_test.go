package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/autosupper/autosupper/internal/bot"
	"github.com/autosupper/autosupper/internal/event"
	"github.com/autosupper/autosupper/internal/mission"
	"github.com/autosupper/autosupper/internal/storage"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBot struct {
	mu       sync.Mutex
	state    bot.Context
	started  []mission.Filters
	startErr error
	stopped  int
}

func (b *fakeBot) Start(_ context.Context, f mission.Filters) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.startErr != nil {
		return b.startErr
	}
	b.started = append(b.started, f)
	b.state = bot.Context{State: bot.StateStarting, Filters: f, SessionActive: true}
	return nil
}

func (b *fakeBot) Stop(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped++
	b.state = bot.Context{State: bot.StateIdle, CompletionReason: bot.ReasonStopped}
	return nil
}

func (b *fakeBot) State(context.Context) (bot.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, nil
}

type fakeMissions struct {
	mu       sync.Mutex
	missions map[string]mission.Mission
	imported []mission.Record
}

func (m *fakeMissions) GetAll(context.Context) (map[string]mission.Mission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]mission.Mission, len(m.missions))
	for k, v := range m.missions {
		out[k] = v
	}
	return out, nil
}

func (m *fakeMissions) SetDisabled(_ context.Context, postID string, disabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.missions[postID]
	if !ok {
		return storage.ErrNotFound
	}
	ms.Progress.Disabled = disabled
	m.missions[postID] = ms
	return nil
}

func (m *fakeMissions) ResetCleared(_ context.Context, postID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.missions[postID]
	if !ok {
		return storage.ErrNotFound
	}
	ms.Progress.Cleared = false
	ms.Progress.ClearedAt = nil
	m.missions[postID] = ms
	return nil
}

func (m *fakeMissions) ClearAll(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.missions = map[string]mission.Mission{}
	return nil
}

func (m *fakeMissions) Shareable(context.Context) ([]mission.Record, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := make([]mission.Record, 0, len(m.missions))
	skipped := 0
	for _, ms := range m.missions {
		if ms.Validate() != nil {
			skipped++
			continue
		}
		records = append(records, ms.Record)
	}
	return records, skipped, nil
}

func (m *fakeMissions) ImportMerge(_ context.Context, records []mission.Record) (storage.ImportResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.imported = append(m.imported, records...)
	return storage.ImportResult{Imported: len(records)}, nil
}

func record(id string, stars, minLevel, maxLevel int, ts int64) mission.Record {
	return mission.Record{
		PostID:      id,
		Permalink:   "https://www.reddit.com/r/SwordAndSupperGame/comments/" + id + "/x/",
		Timestamp:   ts,
		Difficulty:  stars,
		MinLevel:    mission.IntPtr(minLevel),
		MaxLevel:    mission.IntPtr(maxLevel),
		Environment: "desert",
	}
}

func newTestServer(t *testing.T) (*HttpServer, *fakeBot, *fakeMissions) {
	t.Helper()
	b := &fakeBot{state: bot.Context{State: bot.StateIdle}}
	m := &fakeMissions{missions: map[string]mission.Mission{
		"abc": {Record: record("abc", 2, 1, 15, 100)},
		"def": {Record: record("def", 4, 30, 60, 200)},
	}}
	defaults := func() mission.Filters {
		return mission.Filters{Stars: []int{1, 2}, MinLevel: 1, MaxLevel: 20}
	}
	s, err := New(slog.New(slog.NewTextHandler(io.Discard, nil)), b, m, defaults)
	require.NoError(t, err)
	return s, b, m
}

func TestStartUsesDefaultFiltersWithoutBody(t *testing.T) {
	s, b, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/start", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st bot.Context
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, bot.StateStarting, st.State)
	require.Len(t, b.started, 1)
	assert.Equal(t, []int{1, 2}, b.started[0].Stars)
}

func TestStartWithFilters(t *testing.T) {
	s, b, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body := `{"stars":[5],"minLevel":40,"maxLevel":80}`
	resp, err := http.Post(srv.URL+"/api/start", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, b.started, 1)
	assert.Equal(t, mission.Filters{Stars: []int{5}, MinLevel: 40, MaxLevel: 80}, b.started[0])
}

func TestStartRejections(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		startErr error
		status   int
	}{
		{name: "invalid json", body: `{`, status: http.StatusBadRequest},
		{name: "no stars", body: `{"stars":[],"minLevel":1,"maxLevel":2}`, status: http.StatusBadRequest},
		{name: "inverted range", body: `{"stars":[1],"minLevel":9,"maxLevel":2}`, status: http.StatusBadRequest},
		{name: "already running", startErr: bot.ErrAlreadyRunning, status: http.StatusConflict},
		{name: "session locked", startErr: storage.ErrSessionLocked, status: http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, b, _ := newTestServer(t)
			b.startErr = tt.startErr
			srv := httptest.NewServer(s.Handler())
			defer srv.Close()

			resp, err := http.Post(srv.URL+"/api/start", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestStopAndState(t *testing.T) {
	s, b, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/stop")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/stop", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, b.stopped)

	resp, err = http.Get(srv.URL + "/api/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	var st bot.Context
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, bot.StateIdle, st.State)
	assert.Equal(t, bot.ReasonStopped, st.CompletionReason)
}

func TestListMissions(t *testing.T) {
	s, _, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	get := func(query string) []mission.Mission {
		resp, err := http.Get(srv.URL + "/api/missions" + query)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out []mission.Mission
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out
	}

	all := get("")
	require.Len(t, all, 2)
	assert.Equal(t, "def", all[0].PostID, "newest first")

	filtered := get("?stars=1,2&min=1&max=20")
	require.Len(t, filtered, 1)
	assert.Equal(t, "abc", filtered[0].PostID)

	assert.Empty(t, get("?min=10&max=20"))

	resp, err := http.Get(srv.URL + "/api/missions?stars=9")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDisableMission(t *testing.T) {
	s, _, m := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/missions/disable?id=abc", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, m.missions["abc"].Progress.Disabled)

	resp, err = http.Post(srv.URL+"/api/missions/disable?id=abc&disabled=false", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.False(t, m.missions["abc"].Progress.Disabled)

	resp, err = http.Post(srv.URL+"/api/missions/disable?id=missing", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExportImport(t *testing.T) {
	s, _, m := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/missions/export")
	require.NoError(t, err)
	exported, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")
	assert.Equal(t, "0", resp.Header.Get("X-Skipped-Records"))

	var shape map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(exported, &shape))
	assert.Contains(t, shape, "abc")
	assert.Contains(t, shape, "def")

	// one broken record is reported next to what the store imported
	body := strings.Replace(string(exported), "{", `{"broken": 7,`, 1)
	resp, err = http.Post(srv.URL+"/api/missions/import", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res storage.ImportResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, storage.ImportResult{Imported: 2, Rejected: 1}, res)
	assert.Len(t, m.imported, 2)
}

func TestExportSkipsUnclassified(t *testing.T) {
	s, _, m := newTestServer(t)
	m.missions["raw"] = mission.Mission{Record: mission.Record{PostID: "raw", Timestamp: 300}}
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/missions/export")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "1", resp.Header.Get("X-Skipped-Records"))

	records, rejected, err := mission.ParseExport(resp.Body)
	require.NoError(t, err)
	assert.Zero(t, rejected)
	assert.Len(t, records, 2)
}

func TestResetAndClear(t *testing.T) {
	s, b, m := newTestServer(t)
	ms := m.missions["abc"]
	ms.Progress.Cleared = true
	m.missions["abc"] = ms
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/missions/reset?id=abc", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, m.missions["abc"].Progress.Cleared)

	resp, err = http.Post(srv.URL+"/api/missions/reset?id=missing", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	b.mu.Lock()
	b.state = bot.Context{State: bot.StateRunning, SessionActive: true}
	b.mu.Unlock()
	resp, err = http.Post(srv.URL+"/api/missions/clear", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Len(t, m.missions, 2)

	b.mu.Lock()
	b.state = bot.Context{State: bot.StateIdle}
	b.mu.Unlock()
	resp, err = http.Post(srv.URL+"/api/missions/clear", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, m.missions)
}

func TestIndexRendersState(t *testing.T) {
	s, b, _ := newTestServer(t)
	b.state = bot.Context{State: bot.StateRunning, MissionTitle: "Goblin Supper", EncounterIndex: 2, EncounterTotal: 5}
	s.SetPublicURL("https://example.ngrok.app")
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	page, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(page), "Goblin Supper")
	assert.Contains(t, string(page), "2 / 5")
	assert.Contains(t, string(page), "https://example.ngrok.app")

	resp, err = http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocketPushesStateChanges(t *testing.T) {
	s, b, _ := newTestServer(t)
	b.state = bot.Context{State: bot.StateIdle}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.wsServer.Run(ctx)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() Message {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	initial := read()
	assert.Equal(t, "STATE_CHANGED", initial.Type)
	require.NotNil(t, initial.Context)
	assert.Equal(t, bot.StateIdle, initial.Context.State)

	require.NoError(t, s.Handle(ctx, bot.StateChanged(bot.Context{State: bot.StateNavigating, MissionID: "abc"})))
	pushed := read()
	require.NotNil(t, pushed.Context)
	assert.Equal(t, bot.StateNavigating, pushed.Context.State)
	assert.Equal(t, "abc", pushed.Context.MissionID)

	require.NoError(t, s.Handle(ctx, event.MissionStored(event.Text("test", ""), "t3_new")))
	stored := read()
	assert.Equal(t, "MISSION_STORED", stored.Type)
	assert.Equal(t, "t3_new", stored.PostID)

	// events the UI does not render are ignored
	require.NoError(t, s.Handle(ctx, event.PageLoaded(event.Text("test", ""), "https://x")))
}

package bot

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/autosupper/autosupper/internal/dom"
	"github.com/autosupper/autosupper/internal/dom/domtest"
	"github.com/autosupper/autosupper/internal/driver"
	"github.com/autosupper/autosupper/internal/sensor"
	"github.com/autosupper/autosupper/internal/storage"
	"github.com/autosupper/autosupper/internal/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	loaderScope = dom.Path{"shreddit-app"}
	loaderPath  = dom.Path{"shreddit-devvit-ui-loader"}
)

var gameSelectors = driver.Selectors{
	Preview:  dom.Path{"shreddit-devvit-ui-loader", "devvit-preview"},
	Dialog:   dom.Path{"devvit-fullscreen-dialog", "iframe"},
	Ready:    dom.Path{"devvit-fullscreen-dialog", "iframe", "#root"},
	Controls: dom.Path{"devvit-fullscreen-dialog", "iframe", "button"},
	Victory:  dom.Path{"devvit-fullscreen-dialog", "iframe", ".victory"},
	Loot:     dom.Path{"devvit-fullscreen-dialog", "iframe", ".loot-item"},
}

// fakePage renders the mission's game a moment after navigating to it.
type fakePage struct {
	*domtest.Page
	mu      sync.Mutex
	url     string
	renders bool
}

func (p *fakePage) Navigate(_ context.Context, url string, _ time.Duration) error {
	p.mu.Lock()
	p.url = url
	renders := p.renders
	p.mu.Unlock()
	if !renders {
		return nil
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		preview := domtest.NewElement("preview")
		preview.OnClick = func() {
			p.Set(gameSelectors.Dialog, domtest.NewElement("frame"))
			p.Set(gameSelectors.Ready, domtest.NewElement(""))
			p.Set(gameSelectors.Loot, domtest.NewElement("Gold x2"))
			p.Set(gameSelectors.Victory, domtest.NewElement("Victory"))
			cont := domtest.NewElement("Continue")
			cont.OnClick = func() {
				p.Remove(gameSelectors.Victory)
				p.Remove(gameSelectors.Controls)
			}
			p.Set(gameSelectors.Controls, cont)
		}
		p.Set(gameSelectors.Preview, preview)
		p.Set(loaderPath, domtest.NewElement("loader"))
	}()
	return nil
}

func (p *fakePage) CurrentURL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *fakePage) HTML(context.Context) (string, error) { return "", nil }

func (p *fakePage) Tap(context.Context, string, func(sensor.Exchange)) (func() error, error) {
	return func() error { return nil }, nil
}

func (p *fakePage) OnNavigate(context.Context, func(string)) {}

func supervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		Timeouts: Timeouts{
			Navigation: time.Second,
			GameLoader: time.Second,
			OpenGame:   2 * time.Second,
			GameReady:  2 * time.Second,
			Query:      2 * time.Second,
		},
		Driver: driver.Config{
			Selectors: gameSelectors,
			Timeouts: driver.Timeouts{
				ClickPollInterval: 5 * time.Millisecond,
				ClickPoll:         500 * time.Millisecond,
				Dialog:            500 * time.Millisecond,
				Ready:             500 * time.Millisecond,
				ScreenPoll:        5 * time.Millisecond,
				ClickVerify:       200 * time.Millisecond,
				Stall:             time.Second,
			},
			Labels: strategy.DefaultLabels(),
		},
		LoaderScope: loaderScope,
		Loader:      loaderPath,
		SessionTTL:  time.Minute,
	}
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "missions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func runSupervisor(t *testing.T, s *Supervisor) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor never became ready")
	}
}

func TestSupervisorClearsMission(t *testing.T) {
	store := openStore(t)
	rec := newMission("t3_abc", 100, 2, 1, 10).Record
	require.NoError(t, store.Save(context.Background(), rec))

	page := &fakePage{Page: domtest.NewPage(), renders: true}
	s := NewSupervisor(slog.New(slog.NewTextHandler(io.Discard, nil)), supervisorConfig(), page, store)
	runSupervisor(t, s)

	require.NoError(t, s.Start(context.Background(), anyFilters))

	require.Eventually(t, func() bool {
		c, err := s.State(context.Background())
		return err == nil && c.State == StateIdle && c.CompletionReason == ReasonNoMissions
	}, 5*time.Second, 10*time.Millisecond)

	c, err := s.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, c.MissionsCleared)

	m, err := store.Get(context.Background(), "t3_abc")
	require.NoError(t, err)
	assert.True(t, m.Progress.Cleared)
	assert.Equal(t, map[string]int{"Gold": 2}, m.Progress.TotalLoot)

	assert.Eventually(t, func() bool {
		_, held, err := store.Session(context.Background())
		return err == nil && !held
	}, time.Second, 10*time.Millisecond)
}

func TestSupervisorSessionIsExclusive(t *testing.T) {
	store := openStore(t)
	require.NoError(t, store.Save(context.Background(), newMission("t3_abc", 100, 2, 1, 10).Record))

	cfg := supervisorConfig()
	cfg.Timeouts.Navigation = time.Minute
	cfg.Timeouts.GameLoader = time.Minute

	first := NewSupervisor(slog.New(slog.NewTextHandler(io.Discard, nil)), cfg, &fakePage{Page: domtest.NewPage()}, store)
	second := NewSupervisor(slog.New(slog.NewTextHandler(io.Discard, nil)), cfg, &fakePage{Page: domtest.NewPage()}, store)
	runSupervisor(t, first)
	runSupervisor(t, second)

	require.NoError(t, first.Start(context.Background(), anyFilters))
	err := second.Start(context.Background(), anyFilters)
	assert.ErrorIs(t, err, storage.ErrSessionLocked)

	require.NoError(t, first.Stop(context.Background()))
	require.Eventually(t, func() bool {
		_, held, err := store.Session(context.Background())
		return err == nil && !held
	}, time.Second, 10*time.Millisecond)
	assert.NoError(t, second.Start(context.Background(), anyFilters))
}

func TestSupervisorKeepsLockAfterEmptyStart(t *testing.T) {
	store := openStore(t)
	cfg := supervisorConfig()
	cfg.Timeouts.Navigation = time.Minute

	s := NewSupervisor(slog.New(slog.NewTextHandler(io.Discard, nil)), cfg, &fakePage{Page: domtest.NewPage()}, store)
	runSupervisor(t, s)

	require.NoError(t, s.Start(context.Background(), anyFilters))
	c, err := s.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateIdle, c.State)
	assert.Equal(t, ReasonNoMissions, c.CompletionReason)

	_, held, err := store.Session(context.Background())
	require.NoError(t, err)
	assert.False(t, held)

	require.NoError(t, store.Save(context.Background(), newMission("t3_abc", 100, 2, 1, 10).Record))
	require.NoError(t, s.Start(context.Background(), anyFilters))

	// the empty session's release must not take the new claim with it
	for i := 0; i < 5; i++ {
		lock, held, err := store.Session(context.Background())
		require.NoError(t, err)
		require.True(t, held)
		assert.Equal(t, s.owner, lock.Owner)
		time.Sleep(20 * time.Millisecond)
	}

	c, err = s.State(context.Background())
	require.NoError(t, err)
	assert.True(t, c.SessionActive)
}

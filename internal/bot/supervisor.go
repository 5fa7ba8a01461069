package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/autosupper/autosupper/internal/dom"
	"github.com/autosupper/autosupper/internal/driver"
	"github.com/autosupper/autosupper/internal/event"
	"github.com/autosupper/autosupper/internal/health"
	"github.com/autosupper/autosupper/internal/mission"
	"github.com/autosupper/autosupper/internal/sensor"
	"github.com/autosupper/autosupper/internal/storage"
	"github.com/autosupper/autosupper/internal/utils"
)

// Page is the browser tab the supervisor works in.
type Page interface {
	dom.Document
	dom.Observer
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	CurrentURL(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	Tap(ctx context.Context, endpoint string, fn func(sensor.Exchange)) (stop func() error, err error)
	OnNavigate(ctx context.Context, fn func(url string))
}

// MissionStore is the repository surface the supervisor needs beyond the
// machine's own.
type MissionStore interface {
	Repository
	StateStore
	Get(ctx context.Context, postID string) (mission.Mission, error)
	Save(ctx context.Context, r mission.Record) error
	AcquireSession(ctx context.Context, owner string, ttl time.Duration) error
	HeartbeatSession(ctx context.Context, owner string) error
	ReleaseSession(ctx context.Context, owner string) error
}

type SupervisorConfig struct {
	Timeouts       Timeouts
	Driver         driver.Config
	LoaderScope    dom.Path
	Loader         dom.Path
	Endpoint       string
	PostIDHeader   string
	Subreddit      string
	ListingURL     string
	SessionTTL     time.Duration
	StallThreshold time.Duration
}

// Supervisor owns one bot session: it runs the machine and carries out its
// commands against the page.
type Supervisor struct {
	logger   *slog.Logger
	cfg      SupervisorConfig
	page     Page
	store    MissionStore
	machine  *Machine
	driver   *driver.Driver
	mutation *sensor.MutationSensor
	network  *sensor.NetworkSensor
	stall    *health.StallMonitor
	owner    string

	mu       sync.Mutex
	runCtx   context.Context
	cancelOp context.CancelFunc
	active   bool
	ready    chan struct{}

	// sessionMu orders lock claims and releases; starting counts Start calls
	// whose START_BOT has not been answered yet.
	sessionMu sync.Mutex
	starting  int
}

func NewSupervisor(logger *slog.Logger, cfg SupervisorConfig, page Page, store MissionStore) *Supervisor {
	s := &Supervisor{
		logger: logger,
		cfg:    cfg,
		page:   page,
		store:  store,
		owner:  uuid.NewString(),
		runCtx: context.Background(),
		ready:  make(chan struct{}),
	}
	s.driver = driver.New(logger, page, cfg.Driver)
	s.mutation = sensor.NewMutationSensor(logger, page, page)
	s.network = sensor.NewNetworkSensor(logger, cfg.Endpoint, cfg.PostIDHeader, s.onMissionData)
	s.stall = health.NewStallMonitor(logger, cfg.StallThreshold)
	s.stall.OnStall = func(idle time.Duration) {
		s.emit(event.ErrorOccurred(event.Text("health", fmt.Sprintf("no progress for %s", idle.Round(time.Second))), ""))
	}
	s.machine = NewMachine(logger, store, store, s, s, cfg.Timeouts)
	return s
}

func (s *Supervisor) Machine() *Machine {
	return s.machine
}

// Run wires the sensors, restores any interrupted session and blocks running
// the machine until ctx ends.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	if s.cfg.Endpoint != "" {
		stop, err := s.page.Tap(ctx, s.cfg.Endpoint, s.network.Tap)
		if err != nil {
			return fmt.Errorf("error installing network sensor: %w", err)
		}
		defer func() {
			if err := stop(); err != nil {
				s.logger.Debug("error stopping network sensor", slog.Any("error", err))
			}
		}()
	}
	s.page.OnNavigate(ctx, s.onNavigate)

	done := make(chan error, 1)
	go func() { done <- s.machine.Run(ctx) }()

	s.resume(ctx)
	close(s.ready)
	go s.heartbeat(ctx)

	err := <-done
	s.cancelCurrent()
	s.releaseSession()
	return err
}

// Ready is closed once Run has restored any interrupted session.
func (s *Supervisor) Ready() <-chan struct{} {
	return s.ready
}

// resume restores the persisted session unless another live process holds
// the session lock.
func (s *Supervisor) resume(ctx context.Context) {
	if s.cfg.SessionTTL > 0 {
		if err := s.store.AcquireSession(ctx, s.owner, s.cfg.SessionTTL); err != nil {
			s.logger.Info("not resuming, session is held elsewhere", slog.Any("error", err))
			return
		}
	}

	current, err := s.page.CurrentURL(ctx)
	if err != nil {
		s.logger.Debug("could not read current url", slog.Any("error", err))
	}
	if err := s.machine.Restore(ctx, current); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("could not restore bot state", slog.Any("error", err))
	}
	if st, err := s.machine.State(ctx); err == nil && !st.SessionActive {
		s.releaseIdleSession()
	}
}

// Start claims the session lock and sends START_BOT. A session that ends
// before START_BOT is answered (no missions match) gives the lock back here.
func (s *Supervisor) Start(ctx context.Context, filters mission.Filters) error {
	s.sessionMu.Lock()
	if s.cfg.SessionTTL > 0 {
		if err := s.store.AcquireSession(ctx, s.owner, s.cfg.SessionTTL); err != nil {
			s.sessionMu.Unlock()
			return err
		}
	}
	s.starting++
	s.sessionMu.Unlock()

	utils.SetSessionStart()
	err := s.machine.Start(ctx, filters)

	s.sessionMu.Lock()
	s.starting--
	s.sessionMu.Unlock()
	s.releaseIdleSession()
	return err
}

func (s *Supervisor) Stop(ctx context.Context) error {
	return s.machine.Stop(ctx)
}

func (s *Supervisor) State(ctx context.Context) (Context, error) {
	return s.machine.State(ctx)
}

// ScanListing saves the mission posts rendered on the current page.
func (s *Supervisor) ScanListing(ctx context.Context) (int, error) {
	html, err := s.page.HTML(ctx)
	if err != nil {
		return 0, err
	}
	base, _ := s.page.CurrentURL(ctx)
	listings, err := sensor.ScanListing(strings.NewReader(html), base, s.cfg.Subreddit)
	if err != nil {
		return 0, err
	}
	for _, l := range listings {
		if err := s.store.Save(ctx, l.Record); err != nil {
			s.logger.Warn("could not save listed mission", slog.String("postId", l.MissionID), slog.Any("error", err))
			continue
		}
		event.Send(event.MissionFound(event.Text("listing", "mission listed"), l.MissionID, l.Permalink, false))
	}
	return len(listings), nil
}

func (s *Supervisor) emit(e event.Event) {
	s.machine.Dispatch(e)
	event.Send(e)
}

// StateChanged forwards machine broadcasts and tracks the session lock.
func (s *Supervisor) StateChanged(e StateChangedEvent) {
	s.mu.Lock()
	wasActive := s.active
	s.active = e.Context.SessionActive
	s.mu.Unlock()

	if wasActive && !e.Context.SessionActive {
		s.releaseIdleSession()
	}
	event.Send(e)
}

// releaseIdleSession drops the lock unless a session is running or a Start
// holding a fresh claim is still waiting on the machine.
func (s *Supervisor) releaseIdleSession() {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	if s.starting > 0 {
		return
	}
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active {
		return
	}
	s.releaseSession()
}

func (s *Supervisor) releaseSession() {
	if s.cfg.SessionTTL <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.ReleaseSession(ctx, s.owner); err != nil {
		s.logger.Warn("could not release session lock", slog.Any("error", err))
	}
}

func (s *Supervisor) heartbeat(ctx context.Context) {
	if s.cfg.SessionTTL <= 0 {
		return
	}
	t := time.NewTicker(s.cfg.SessionTTL / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.mu.Lock()
			active := s.active
			s.mu.Unlock()
			if !active {
				continue
			}
			if err := s.store.HeartbeatSession(ctx, s.owner); err == nil {
				continue
			}
			// a resumed session has no lock yet
			err := s.store.AcquireSession(ctx, s.owner, s.cfg.SessionTTL)
			if errors.Is(err, storage.ErrSessionLocked) {
				s.emit(event.ErrorOccurred(event.Text("session", err.Error()), ""))
			} else if err != nil {
				s.logger.Warn("session heartbeat failed", slog.Any("error", err))
			}
		}
	}
}

func (s *Supervisor) onMissionData(e event.MissionDataEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec := e.Record()
	if err := s.store.Save(ctx, rec); err != nil {
		s.logger.Warn("could not store mission data", slog.String("postId", rec.PostID), slog.Any("error", err))
	} else {
		event.Send(event.MissionStored(event.Text("repository", "mission stored"), rec.PostID))
	}
	s.emit(e)
}

func (s *Supervisor) onNavigate(url string) {
	s.emit(event.PageLoaded(event.Text("browser", "page loaded"), url))
	if s.cfg.ListingURL == "" || !mission.SamePage(url, s.cfg.ListingURL) {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(s.context(), 30*time.Second)
		defer cancel()
		// give the feed a moment to render its posts
		if err := utils.SleepContext(ctx, 2000); err != nil {
			return
		}
		if n, err := s.ScanListing(ctx); err != nil {
			s.logger.Debug("listing scan failed", slog.Any("error", err))
		} else {
			s.logger.Debug("listing scanned", slog.Int("missions", n))
		}
	}()
}

func (s *Supervisor) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCtx
}

// beginOp cancels whatever the previous command was doing and returns the
// context for the new one.
func (s *Supervisor) beginOp() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelOp != nil {
		s.cancelOp()
	}
	ctx, cancel := context.WithCancel(s.runCtx)
	s.cancelOp = cancel
	return ctx
}

func (s *Supervisor) cancelCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelOp != nil {
		s.cancelOp()
		s.cancelOp = nil
	}
}

// NavigateTo reports MISSION_FOUND for the current page when the browser is
// already there, otherwise navigates first.
func (s *Supervisor) NavigateTo(missionID, url string) {
	ctx := s.beginOp()
	go func() {
		if current, err := s.page.CurrentURL(ctx); err == nil && mission.SamePage(current, url) {
			s.emit(event.MissionFound(event.Text("browser", "already on mission page"), missionID, url, true))
			return
		}
		if err := s.page.Navigate(ctx, url, s.cfg.Timeouts.Navigation); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.emit(event.ErrorOccurred(event.Text("browser", err.Error()), missionID))
			return
		}
		current, err := s.page.CurrentURL(ctx)
		if err != nil || ctx.Err() != nil {
			return
		}
		s.emit(event.MissionFound(event.Text("browser", "mission page loaded"), missionID, current, mission.SamePage(current, url)))
	}()
}

func (s *Supervisor) ArmGameLoader(missionID string) {
	ctx := s.beginOp()
	s.mutation.Arm(ctx, s.cfg.LoaderScope, s.cfg.Loader, s.cfg.Timeouts.GameLoader, func(dom.Element) {
		current, _ := s.page.CurrentURL(ctx)
		s.emit(event.GameLoaderDetected(event.Text("mutation", "game loader detected"), current))
	})
}

func (s *Supervisor) ClickGameUI(missionID string) {
	ctx := s.beginOp()
	go func() {
		res := s.driver.OpenGame(ctx)
		if ctx.Err() != nil {
			return
		}
		if !res.OK {
			s.emit(event.ErrorOccurred(event.Text("driver", res.Reason), missionID))
			return
		}
		s.emit(event.GameDialogOpened(event.Text("driver", "game dialog opened"), missionID))
	}()
}

func (s *Supervisor) StartMissionAutomation(missionID string) {
	ctx := s.beginOp()
	go func() {
		var rec *mission.Record
		if m, err := s.store.Get(ctx, missionID); err == nil {
			rec = &m.Record
		} else {
			s.logger.Debug("no recorded data for mission, using defaults", slog.String("mission", missionID), slog.Any("error", err))
		}

		go s.stall.Watch(ctx)
		err := s.driver.RunMission(ctx, missionID, rec, func(e event.Event) {
			if _, ok := e.(event.EncounterResultEvent); ok {
				s.stall.Progress()
			}
			s.emit(e)
		})
		if err != nil && ctx.Err() == nil {
			s.logger.Warn("mission automation ended", slog.String("mission", missionID), slog.Any("error", err))
		}
	}()
}

func (s *Supervisor) StopMissionAutomation() {
	s.cancelCurrent()
}

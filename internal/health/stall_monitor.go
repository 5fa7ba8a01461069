package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// StallMonitor watches a running mission for progress. When nothing moves for
// longer than Threshold it fires OnStall once and stays quiet until Reset.
type StallMonitor struct {
	mu            sync.Mutex
	lastProgress  time.Time
	fired         bool
	Threshold     time.Duration
	CheckInterval time.Duration
	Enabled       bool
	Logger        *slog.Logger
	OnStall       func(idle time.Duration)
	now           func() time.Time
}

func NewStallMonitor(logger *slog.Logger, threshold time.Duration) *StallMonitor {
	return &StallMonitor{
		Threshold:     threshold,
		CheckInterval: time.Second * 2,
		Enabled:       threshold > 0,
		Logger:        logger,
		now:           time.Now,
	}
}

// Progress records that the mission moved forward.
func (sm *StallMonitor) Progress() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.lastProgress = sm.now()
}

// Reset starts a fresh watch, typically on entering the running state.
func (sm *StallMonitor) Reset() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.lastProgress = sm.now()
	sm.fired = false
}

// Check returns true the first time the idle time crosses Threshold.
func (sm *StallMonitor) Check() bool {
	sm.mu.Lock()
	if !sm.Enabled || sm.fired || sm.lastProgress.IsZero() {
		sm.mu.Unlock()
		return false
	}
	idle := sm.now().Sub(sm.lastProgress)
	if idle < sm.Threshold {
		sm.mu.Unlock()
		return false
	}
	sm.fired = true
	callback := sm.OnStall
	sm.mu.Unlock()

	sm.Logger.Error("Mission stalled, no progress",
		slog.Duration("idle", idle),
		slog.Duration("threshold", sm.Threshold))
	if callback != nil {
		callback(idle)
	}
	return true
}

// Watch calls Check every CheckInterval until ctx ends.
func (sm *StallMonitor) Watch(ctx context.Context) {
	sm.Reset()
	t := time.NewTicker(sm.CheckInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sm.Check()
		}
	}
}

package utils

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// session fatigue state, reset each time the bot starts.
var (
	sessionMu    sync.RWMutex
	sessionStart time.Time
)

// SetSessionStart records the start of a new automation session. Delays grow
// by up to 25% over the first 3 hours of a session.
func SetSessionStart() {
	sessionMu.Lock()
	sessionStart = time.Now()
	sessionMu.Unlock()
}

func sessionFatigue() float64 {
	sessionMu.RLock()
	start := sessionStart
	sessionMu.RUnlock()
	if start.IsZero() {
		return 1.0
	}
	f := time.Since(start).Hours() / 3.0
	if f > 1.0 {
		f = 1.0
	}
	return 1.0 + 0.25*f
}

// sampleGamma samples Gamma(shape, scale) with the Marsaglia-Tsang method.
// shape must be >= 1.
func sampleGamma(shape, scale float64) float64 {
	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9.0*d)
	for {
		x := rand.NormFloat64()
		v := 1.0 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		x2 := x * x
		u := rand.Float64()
		if u < 1.0-0.0331*(x2*x2) {
			return d * v * scale
		}
		if math.Log(u) < 0.5*x2+d*(1.0-v+math.Log(v)) {
			return d * v * scale
		}
	}
}

// HumanDelay returns a right-skewed duration with mean near milliseconds,
// clamped to [0.4, 2.5] times the mean before fatigue is applied.
func HumanDelay(milliseconds int) time.Duration {
	const shape = 4.0
	const scale = 0.25
	multiplier := sampleGamma(shape, scale)
	if multiplier < 0.4 {
		multiplier = 0.4
	}
	if multiplier > 2.5 {
		multiplier = 2.5
	}
	return time.Duration(float64(milliseconds)*multiplier*sessionFatigue()) * time.Millisecond
}

// SleepContext pauses for HumanDelay(milliseconds) or until ctx ends.
func SleepContext(ctx context.Context, milliseconds int) error {
	if milliseconds <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(HumanDelay(milliseconds))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

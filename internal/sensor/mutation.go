package sensor

import (
	"context"
	"log/slog"
	"time"

	"github.com/autosupper/autosupper/internal/dom"
)

// MutationSensor watches a subtree for a target element and reports its first
// appearance once.
type MutationSensor struct {
	logger   *slog.Logger
	doc      dom.Document
	observer dom.Observer
}

func NewMutationSensor(logger *slog.Logger, doc dom.Document, observer dom.Observer) *MutationSensor {
	return &MutationSensor{logger: logger, doc: doc, observer: observer}
}

// WaitFor blocks until target is present under scope or timeout elapses.
func (s *MutationSensor) WaitFor(ctx context.Context, scope, target dom.Path, timeout time.Duration) (dom.Element, bool) {
	return Wait(ctx, timeout, ElementAt(s.doc, target), ObserverSubscription(ctx, s.observer, scope))
}

// Arm starts watching in the background. emit runs at most once, when the
// target appears; nothing is emitted on timeout or cancellation. The returned
// cancel function disarms the sensor and may be called any number of times.
func (s *MutationSensor) Arm(ctx context.Context, scope, target dom.Path, timeout time.Duration, emit func(dom.Element)) (cancel func()) {
	ctx, stop := context.WithCancel(ctx)
	go func() {
		defer stop()
		el, ok := s.WaitFor(ctx, scope, target, timeout)
		if !ok {
			if ctx.Err() == nil {
				s.logger.Debug("mutation sensor timed out", slog.String("target", target.String()))
			}
			return
		}
		emit(el)
	}()
	return stop
}

package event

import (
	"context"
	"log/slog"
	"sync"
)

var events = make(chan Event, 100)

type Handler func(ctx context.Context, e Event) error

type Listener struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	handlers []Handler
}

func NewListener(logger *slog.Logger) *Listener {
	return &Listener{logger: logger}
}

func (l *Listener) Register(h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, h)
}

// Listen fans every sent event out to the registered handlers until ctx ends.
func (l *Listener) Listen(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-events:
			l.dispatch(ctx, e)
		}
	}
}

func (l *Listener) dispatch(ctx context.Context, e Event) {
	l.mu.RLock()
	handlers := make([]Handler, len(l.handlers))
	copy(handlers, l.handlers)
	l.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, e); err != nil {
			l.logger.Error("error running event handler", slog.String("event", e.Kind()), slog.Any("error", err))
		}
	}
}

// Send queues e for the listener. When nobody drains the queue fast enough the
// event is dropped rather than blocking the sender.
func Send(e Event) {
	select {
	case events <- e:
	default:
		slog.Warn("event queue full, dropping event", slog.String("event", e.Kind()))
	}
}

// Package sensor turns DOM changes and intercepted network payloads into
// normalized events. Sensors never make decisions and never mutate bot state.
package sensor

import (
	"context"
	"errors"
	"time"

	"github.com/autosupper/autosupper/internal/dom"
)

const fallbackPollInterval = 250 * time.Millisecond

// Check probes for a condition. ok=false means "not yet".
type Check[T any] func(ctx context.Context) (T, bool)

// Subscribe attaches a change notifier and returns its detach function.
type Subscribe func(notify func()) (cancel func(), err error)

// Wait resolves exactly once: immediately when check already passes (no
// subscription is made), on the first notification after which check passes,
// or with the zero value and false when timeout or ctx ends. The subscription
// and the timer are released on every path. When subscribing fails Wait falls
// back to polling.
func Wait[T any](ctx context.Context, timeout time.Duration, check Check[T], subscribe Subscribe) (T, bool) {
	var zero T
	if v, ok := check(ctx); ok {
		return v, true
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	wake := make(chan struct{}, 1)
	unsubscribe, err := subscribe(func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return pollUntil(ctx, fallbackPollInterval, check)
	}
	defer unsubscribe()

	// the target may have shown up between the first probe and the subscription
	if v, ok := check(ctx); ok {
		return v, true
	}

	for {
		select {
		case <-ctx.Done():
			return zero, false
		case <-wake:
			if v, ok := check(ctx); ok {
				return v, true
			}
		}
	}
}

// Poll probes check every interval until it passes or timeout elapses.
func Poll[T any](ctx context.Context, interval, timeout time.Duration, check Check[T]) (T, bool) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return pollUntil(ctx, interval, check)
}

func pollUntil[T any](ctx context.Context, interval time.Duration, check Check[T]) (T, bool) {
	var zero T
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if v, ok := check(ctx); ok {
			return v, true
		}
		select {
		case <-ctx.Done():
			return zero, false
		case <-ticker.C:
		}
	}
}

// ElementAt is a Check that resolves the full path from the top document on
// every call. Torn-down contexts count as "not yet".
func ElementAt(doc dom.Document, path dom.Path) Check[dom.Element] {
	return func(ctx context.Context) (dom.Element, bool) {
		el, err := doc.FindDeep(ctx, path)
		if err != nil || el == nil {
			return nil, false
		}
		return el, true
	}
}

// ObserverSubscription adapts a dom.Observer to Subscribe.
func ObserverSubscription(ctx context.Context, observer dom.Observer, scope dom.Path) Subscribe {
	return func(notify func()) (func(), error) {
		if observer == nil {
			return nil, errors.New("no observer available")
		}
		return observer.Observe(ctx, scope, notify)
	}
}

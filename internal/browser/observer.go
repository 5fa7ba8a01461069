package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ysmood/gson"

	"github.com/autosupper/autosupper/internal/dom"
)

// Cross-origin game frames cannot be observed from the top document, so the
// observer also ticks at this interval.
const observeTick = time.Second

// observeJS attaches a MutationObserver to the deepest open shadow root or
// element reachable through path, falling back to the document.
const observeJS = `(name, path) => {
	let node = document;
	for (const selector of path) {
		const next = (node.shadowRoot || node).querySelector(selector);
		if (!next) break;
		node = next;
	}
	const target = node.shadowRoot || node;
	const observer = new MutationObserver(() => window[name]({}));
	observer.observe(target === document ? document.documentElement : target, {childList: true, subtree: true});
	window[name + "_observer"] = observer;
}`

const disconnectJS = `(name) => {
	const o = window[name + "_observer"];
	if (o) o.disconnect();
	delete window[name + "_observer"];
}`

// Observe notifies on DOM insertions under scope. notify may be called from
// any goroutine; it must not block.
func (b *Browser) Observe(ctx context.Context, scope dom.Path, notify func()) (func(), error) {
	page := b.activePage(ctx)
	name := "__autosupper_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	stopBinding, err := page.Expose(name, func(gson.JSON) (interface{}, error) {
		notify()
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to expose observer binding: %w", translate(err))
	}
	if _, err := page.Eval(observeJS, name, []string(scope)); err != nil {
		_ = stopBinding()
		return nil, fmt.Errorf("failed to attach mutation observer: %w", translate(err))
	}

	tickCtx, stopTick := context.WithCancel(ctx)
	go func() {
		t := time.NewTicker(observeTick)
		defer t.Stop()
		for {
			select {
			case <-tickCtx.Done():
				return
			case <-t.C:
				notify()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			stopTick()
			// the page may already be gone; the binding dies with it
			_, _ = b.activePage(context.Background()).Eval(disconnectJS, name)
			_ = stopBinding()
		})
	}, nil
}

// Package domtest provides an in-memory dom.Document and dom.Observer for tests.
package domtest

import (
	"context"
	"sync"

	"github.com/autosupper/autosupper/internal/dom"
)

type Element struct {
	mu      sync.Mutex
	Label   string
	Hidden  bool
	Gone    bool
	clicks  int
	OnClick func()
}

func NewElement(label string) *Element {
	return &Element{Label: label}
}

func (e *Element) Click(context.Context) error {
	e.mu.Lock()
	if e.Gone {
		e.mu.Unlock()
		return dom.ErrContextGone
	}
	e.clicks++
	onClick := e.OnClick
	e.mu.Unlock()

	if onClick != nil {
		onClick()
	}
	return nil
}

func (e *Element) Text(context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Gone {
		return "", dom.ErrContextGone
	}
	return e.Label, nil
}

func (e *Element) Visible(context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Gone {
		return false, dom.ErrContextGone
	}
	return !e.Hidden, nil
}

func (e *Element) Clicks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clicks
}

// Page maps a path's string form to the elements currently rendered there.
type Page struct {
	mu           sync.Mutex
	elements     map[string][]*Element
	observers    map[int]func()
	nextObserver int
	findCalls    int
	observeCalls int
}

func NewPage() *Page {
	return &Page{
		elements:  make(map[string][]*Element),
		observers: make(map[int]func()),
	}
}

// Set renders els at path and notifies observers.
func (p *Page) Set(path dom.Path, els ...*Element) {
	p.mu.Lock()
	p.elements[path.String()] = els
	notify := p.snapshotObservers()
	p.mu.Unlock()

	for _, n := range notify {
		n()
	}
}

func (p *Page) Remove(path dom.Path) {
	p.Set(path)
}

func (p *Page) snapshotObservers() []func() {
	out := make([]func(), 0, len(p.observers))
	for _, n := range p.observers {
		out = append(out, n)
	}
	return out
}

func (p *Page) FindDeep(ctx context.Context, path dom.Path) (dom.Element, error) {
	els, err := p.FindAllDeep(ctx, path)
	if err != nil || len(els) == 0 {
		return nil, err
	}
	return els[0], nil
}

func (p *Page) FindAllDeep(ctx context.Context, path dom.Path) ([]dom.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.findCalls++
	var out []dom.Element
	for _, el := range p.elements[path.String()] {
		out = append(out, el)
	}
	return out, nil
}

func (p *Page) Observe(_ context.Context, _ dom.Path, notify func()) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observeCalls++
	id := p.nextObserver
	p.nextObserver++
	p.observers[id] = notify

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.observers, id)
			p.mu.Unlock()
		})
	}, nil
}

func (p *Page) ActiveObservers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.observers)
}

func (p *Page) ObserveCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.observeCalls
}

func (p *Page) FindCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.findCalls
}

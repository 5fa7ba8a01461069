package browser

import (
	"context"
	"errors"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/proto"

	"github.com/autosupper/autosupper/internal/dom"
)

type element struct {
	el *rod.Element
}

func (e element) Click(ctx context.Context) error {
	return translate(e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1))
}

func (e element) Text(ctx context.Context) (string, error) {
	text, err := e.el.Context(ctx).Text()
	return text, translate(err)
}

func (e element) Visible(ctx context.Context) (bool, error) {
	visible, err := e.el.Context(ctx).Visible()
	return visible, translate(err)
}

// FindDeep resolves path from the top document. Each step after the first
// runs inside the previous match's shadow root, or its content document when
// the match is an iframe. Nothing is cached between calls.
func (b *Browser) FindDeep(ctx context.Context, path dom.Path) (dom.Element, error) {
	els, err := b.findAll(ctx, path)
	if err != nil || len(els) == 0 {
		return nil, err
	}
	return element{el: els[0]}, nil
}

func (b *Browser) FindAllDeep(ctx context.Context, path dom.Path) ([]dom.Element, error) {
	els, err := b.findAll(ctx, path)
	if err != nil {
		return nil, err
	}
	out := make([]dom.Element, 0, len(els))
	for _, el := range els {
		out = append(out, element{el: el})
	}
	return out, nil
}

func (b *Browser) findAll(ctx context.Context, path dom.Path) (rod.Elements, error) {
	if len(path) == 0 {
		return nil, nil
	}
	current, err := b.activePage(ctx).Elements(path[0])
	if err != nil {
		return nil, translate(err)
	}
	for _, selector := range path[1:] {
		var next rod.Elements
		for _, parent := range current {
			children, err := descend(ctx, parent, selector)
			if err != nil {
				if errors.Is(err, dom.ErrContextGone) {
					continue
				}
				return nil, err
			}
			next = append(next, children...)
		}
		if len(next) == 0 {
			return nil, nil
		}
		current = next
	}
	return current, nil
}

// descend crosses one encapsulation boundary below parent.
func descend(ctx context.Context, parent *rod.Element, selector string) (rod.Elements, error) {
	parent = parent.Context(ctx)
	node, err := parent.Describe(0, false)
	if err != nil {
		return nil, translate(err)
	}
	if strings.EqualFold(node.NodeName, "iframe") {
		frame, err := parent.Frame()
		if err != nil {
			return nil, translate(err)
		}
		els, err := frame.Elements(selector)
		return els, translate(err)
	}
	if len(node.ShadowRoots) > 0 || node.ShadowRootType != "" {
		if root, err := parent.ShadowRoot(); err == nil {
			els, err := root.Elements(selector)
			return els, translate(err)
		}
	}
	// custom elements without a shadow root render into light DOM
	els, err := parent.Elements(selector)
	return els, translate(err)
}

// translate maps errors caused by a torn down page, frame or node to
// dom.ErrContextGone.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var notFound *rod.ObjectNotFoundError
	if errors.As(err, &notFound) ||
		errors.Is(err, cdp.ErrCtxNotFound) ||
		errors.Is(err, cdp.ErrCtxDestroyed) ||
		errors.Is(err, cdp.ErrObjNotFound) ||
		errors.Is(err, cdp.ErrNodeNotFoundAtPos) {
		return errors.Join(dom.ErrContextGone, err)
	}
	var cdpErr *cdp.Error
	if errors.As(err, &cdpErr) && isGoneMessage(cdpErr.Message) {
		return errors.Join(dom.ErrContextGone, err)
	}
	return err
}

func isGoneMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, s := range []string{
		"cannot find context",
		"execution context was destroyed",
		"does not belong to the document",
		"could not find node",
		"no node with given id",
		"frame with the given id was not found",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

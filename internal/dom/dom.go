// Package dom describes the page capabilities the bot needs, independent of
// how a given browser backend pierces shadow roots and frames.
package dom

import (
	"context"
	"errors"
	"strings"
)

// ErrContextGone is returned when the page, frame or element a call was aimed
// at was torn down mid-flight, usually by a navigation. Callers treat it as a
// miss and keep polling.
var ErrContextGone = errors.New("execution context gone")

// Path is a list of CSS selectors. Each step is resolved inside the shadow
// root or frame document of the element matched by the previous step.
type Path []string

func (p Path) String() string {
	return strings.Join(p, " >>> ")
}

// Last returns the final selector of the path.
func (p Path) Last() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

type Element interface {
	Click(ctx context.Context) error
	Text(ctx context.Context) (string, error)
	Visible(ctx context.Context) (bool, error)
}

// Document resolves paths from the top document every time it is called;
// implementations must not cache boundaries between calls because they can be
// recreated by the page at any moment. A missing element is (nil, nil).
type Document interface {
	FindDeep(ctx context.Context, path Path) (Element, error)
	FindAllDeep(ctx context.Context, path Path) ([]Element, error)
}

// Observer delivers a notification whenever the subtree at scope changes.
// The returned cancel function detaches the observer and is safe to call more
// than once.
type Observer interface {
	Observe(ctx context.Context, scope Path, notify func()) (cancel func(), err error)
}

// Texts returns the trimmed text of every visible element at path.
func Texts(ctx context.Context, doc Document, path Path) ([]string, error) {
	elements, err := doc.FindAllDeep(ctx, path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(elements))
	for _, el := range elements {
		visible, err := el.Visible(ctx)
		if err != nil {
			if errors.Is(err, ErrContextGone) {
				continue
			}
			return nil, err
		}
		if !visible {
			continue
		}
		text, err := el.Text(ctx)
		if err != nil {
			if errors.Is(err, ErrContextGone) {
				continue
			}
			return nil, err
		}
		if text = strings.TrimSpace(text); text != "" {
			out = append(out, text)
		}
	}
	return out, nil
}

package browser

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-rod/rod/lib/cdp"
	"github.com/stretchr/testify/assert"

	"github.com/autosupper/autosupper/internal/dom"
)

func TestTranslate(t *testing.T) {
	assert.NoError(t, translate(nil))
	assert.ErrorIs(t, translate(fmt.Errorf("eval: %w", cdp.ErrCtxDestroyed)), dom.ErrContextGone)
	assert.ErrorIs(t, translate(&cdp.Error{Code: -32000, Message: "Node with given id does not belong to the document"}), dom.ErrContextGone)

	other := errors.New("element is covered")
	assert.Equal(t, other, translate(other))
	assert.NotErrorIs(t, translate(context.Canceled), dom.ErrContextGone)
}

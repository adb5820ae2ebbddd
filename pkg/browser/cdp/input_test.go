// pkg/browser/cdp/input_test.go
package cdp

import (
	"errors"
	"testing"

	"github.com/chromedp/cdproto/dom"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/domquery/api/schemas"
	"github.com/xkilldash9x/domquery/pkg/driver"
)

func TestMouseSequence(t *testing.T) {
	p := schemas.Point{X: 10, Y: 20}
	types := func(events []schemas.MouseEventData) []schemas.MouseEventType {
		out := make([]schemas.MouseEventType, len(events))
		for i, e := range events {
			assert.Equal(t, p.X, e.X)
			assert.Equal(t, p.Y, e.Y)
			out[i] = e.Type
		}
		return out
	}

	tests := []struct {
		action pointerAction
		want   []schemas.MouseEventType
	}{
		{actionMoveTo, []schemas.MouseEventType{schemas.MouseMove}},
		{actionClick, []schemas.MouseEventType{schemas.MouseMove, schemas.MousePress, schemas.MouseRelease}},
		{actionDoubleClick, []schemas.MouseEventType{schemas.MouseMove, schemas.MousePress, schemas.MouseRelease, schemas.MousePress, schemas.MouseRelease}},
		{actionContextClick, []schemas.MouseEventType{schemas.MouseMove, schemas.MousePress, schemas.MouseRelease}},
		{actionClickAndHold, []schemas.MouseEventType{schemas.MouseMove, schemas.MousePress}},
		{actionRelease, []schemas.MouseEventType{schemas.MouseMove, schemas.MouseRelease}},
	}
	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			got := types(mouseSequence(tt.action, p))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("event types mismatch (-want +got):\n%s", diff)
			}
		})
	}

	t.Run("double click counts", func(t *testing.T) {
		events := mouseSequence(actionDoubleClick, p)
		require.Len(t, events, 5)
		assert.Equal(t, 2, events[3].ClickCount)
		assert.Equal(t, 2, events[4].ClickCount)
	})

	t.Run("context click uses right button", func(t *testing.T) {
		events := mouseSequence(actionContextClick, p)
		assert.Equal(t, schemas.ButtonRight, events[1].Button)
		assert.Equal(t, schemas.ButtonsRight, events[1].Buttons)
	})

	t.Run("release keeps button down while moving", func(t *testing.T) {
		events := mouseSequence(actionRelease, p)
		assert.Equal(t, schemas.ButtonsLeft, events[0].Buttons)
		assert.Equal(t, schemas.ButtonsNone, events[1].Buttons)
	})
}

func TestQuadCenter(t *testing.T) {
	p, err := quadCenter(dom.Quad{0, 0, 100, 0, 100, 50, 0, 50})
	require.NoError(t, err)
	assert.Equal(t, schemas.Point{X: 50, Y: 25}, p)

	_, err = quadCenter(dom.Quad{1, 2, 3})
	assert.Error(t, err)
}

func TestNodeError(t *testing.T) {
	err := nodeError(driver.NodeID(4), errors.New("No node with given id found (-32000)"))
	assert.ErrorIs(t, err, driver.ErrStaleElement)

	err = nodeError(driver.NodeID(4), errors.New("Could not find node with given id"))
	assert.ErrorIs(t, err, driver.ErrStaleElement)

	other := errors.New("websocket: close sent")
	assert.Equal(t, other, nodeError(driver.NodeID(4), other))
}

func TestWrapGuardsDetachedReceivers(t *testing.T) {
	fn := wrap(liveFn)
	assert.Contains(t, fn, staleMarker)
	assert.Contains(t, fn, "isConnected")
	assert.Contains(t, fn, liveFn)
}

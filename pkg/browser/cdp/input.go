// pkg/browser/cdp/input.go
package cdp

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domquery/api/schemas"
	"github.com/xkilldash9x/domquery/pkg/driver"
)

type pointerAction string

const (
	actionClick        pointerAction = "click"
	actionDoubleClick  pointerAction = "double_click"
	actionContextClick pointerAction = "context_click"
	actionClickAndHold pointerAction = "click_and_hold"
	actionRelease      pointerAction = "release"
	actionMoveTo       pointerAction = "move_to"
)

// mouseSequence expands a pointer action into the raw events dispatched at p.
// Every sequence starts by moving the pointer onto the target.
func mouseSequence(action pointerAction, p schemas.Point) []schemas.MouseEventData {
	event := func(typ schemas.MouseEventType, button schemas.MouseButton, buttons int64, count int) schemas.MouseEventData {
		return schemas.MouseEventData{Type: typ, X: p.X, Y: p.Y, Button: button, Buttons: buttons, ClickCount: count}
	}
	move := event(schemas.MouseMove, schemas.ButtonNone, schemas.ButtonsNone, 0)

	switch action {
	case actionClick:
		return []schemas.MouseEventData{
			move,
			event(schemas.MousePress, schemas.ButtonLeft, schemas.ButtonsLeft, 1),
			event(schemas.MouseRelease, schemas.ButtonLeft, schemas.ButtonsNone, 1),
		}
	case actionDoubleClick:
		return []schemas.MouseEventData{
			move,
			event(schemas.MousePress, schemas.ButtonLeft, schemas.ButtonsLeft, 1),
			event(schemas.MouseRelease, schemas.ButtonLeft, schemas.ButtonsNone, 1),
			event(schemas.MousePress, schemas.ButtonLeft, schemas.ButtonsLeft, 2),
			event(schemas.MouseRelease, schemas.ButtonLeft, schemas.ButtonsNone, 2),
		}
	case actionContextClick:
		return []schemas.MouseEventData{
			move,
			event(schemas.MousePress, schemas.ButtonRight, schemas.ButtonsRight, 1),
			event(schemas.MouseRelease, schemas.ButtonRight, schemas.ButtonsNone, 1),
		}
	case actionClickAndHold:
		return []schemas.MouseEventData{
			move,
			event(schemas.MousePress, schemas.ButtonLeft, schemas.ButtonsLeft, 1),
		}
	case actionRelease:
		return []schemas.MouseEventData{
			event(schemas.MouseMove, schemas.ButtonNone, schemas.ButtonsLeft, 0),
			event(schemas.MouseRelease, schemas.ButtonLeft, schemas.ButtonsNone, 1),
		}
	default:
		return []schemas.MouseEventData{move}
	}
}

// quadCenter averages the four corners of a box model quad.
func quadCenter(q dom.Quad) (schemas.Point, error) {
	if len(q) != 8 {
		return schemas.Point{}, fmt.Errorf("malformed quad with %d coordinates", len(q))
	}
	var p schemas.Point
	for i := 0; i < 8; i += 2 {
		p.X += q[i]
		p.Y += q[i+1]
	}
	p.X /= 4
	p.Y /= 4
	return p, nil
}

// center scrolls the element into view and returns the middle of its content box.
func center(ctx context.Context, id driver.NodeID) (schemas.Point, error) {
	backendID := cdp.BackendNodeID(id)
	if err := dom.ScrollIntoViewIfNeeded().WithBackendNodeID(backendID).Do(ctx); err != nil {
		return schemas.Point{}, nodeError(id, err)
	}
	box, err := dom.GetBoxModel().WithBackendNodeID(backendID).Do(ctx)
	if err != nil {
		return schemas.Point{}, nodeError(id, err)
	}
	return quadCenter(box.Content)
}

func dispatch(ctx context.Context, data schemas.MouseEventData) error {
	return input.DispatchMouseEvent(input.MouseType(data.Type), data.X, data.Y).
		WithButton(input.MouseButton(data.Button)).
		WithButtons(data.Buttons).
		WithClickCount(int64(data.ClickCount)).
		Do(ctx)
}

const liveFn = `function() { return true; }`

// ensureLive fails with ErrStaleElement when the node has left the document.
func (d *Driver) ensureLive(ctx context.Context, id driver.NodeID) error {
	return d.call(ctx, id, liveFn, nil)
}

func (d *Driver) pointer(ctx context.Context, id driver.NodeID, action pointerAction) error {
	if err := d.ensureLive(ctx, id); err != nil {
		return err
	}
	return d.run(ctx, func(ctx context.Context) error {
		p, err := center(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to locate %s: %w", id, err)
		}
		for _, event := range mouseSequence(action, p) {
			if err := dispatch(ctx, event); err != nil {
				return fmt.Errorf("failed to dispatch %s to %s: %w", event.Type, id, err)
			}
		}
		d.logger.Debug("Pointer action dispatched.", zap.String("action", string(action)), zap.Stringer("node", id))
		return nil
	})
}

func (d *Driver) Click(ctx context.Context, id driver.NodeID) error {
	return d.pointer(ctx, id, actionClick)
}

func (d *Driver) DoubleClick(ctx context.Context, id driver.NodeID) error {
	return d.pointer(ctx, id, actionDoubleClick)
}

func (d *Driver) ContextClick(ctx context.Context, id driver.NodeID) error {
	return d.pointer(ctx, id, actionContextClick)
}

func (d *Driver) ClickAndHold(ctx context.Context, id driver.NodeID) error {
	return d.pointer(ctx, id, actionClickAndHold)
}

func (d *Driver) Release(ctx context.Context, id driver.NodeID) error {
	return d.pointer(ctx, id, actionRelease)
}

func (d *Driver) MoveTo(ctx context.Context, id driver.NodeID) error {
	return d.pointer(ctx, id, actionMoveTo)
}

const editableFn = `function() {
	const tag = this.localName;
	return this.isContentEditable || tag === "textarea" || tag === "select" ||
		(tag === "input" && !["checkbox", "radio", "button", "submit", "reset", "image", "file", "hidden"].includes(this.type));
}`

// SendKeys focuses the element and types keys into it.
func (d *Driver) SendKeys(ctx context.Context, id driver.NodeID, keys string) error {
	var editable bool
	if err := d.call(ctx, id, editableFn, &editable); err != nil {
		return err
	}
	if !editable {
		return fmt.Errorf("%w: %s does not accept keys", driver.ErrUnsupported, id)
	}
	return d.run(ctx, func(ctx context.Context) error {
		if err := dom.Focus().WithBackendNodeID(cdp.BackendNodeID(id)).Do(ctx); err != nil {
			return nodeError(id, err)
		}
		return chromedp.KeyEvent(keys).Do(ctx)
	})
}

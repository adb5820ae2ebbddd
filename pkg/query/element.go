// pkg/query/element.go
package query

import (
	"context"
	"errors"
	"strings"

	"github.com/xkilldash9x/domquery/pkg/driver"
	"github.com/xkilldash9x/domquery/pkg/selector"
)

// staleDescription is what Describe renders for a handle whose node is gone.
const staleDescription = "<StaleElement>"

// Element is a handle to one remote node. Handles compare equal when they
// carry the same identifier, regardless of which query produced them.
type Element struct {
	id  driver.NodeID
	doc *Document
}

// ID returns the protocol identifier of the node.
func (e *Element) ID() driver.NodeID { return e.id }

// OwningSession returns the Document that produced the handle.
func (e *Element) OwningSession() *Document { return e.doc }

// Equal reports whether both handles refer to the same node.
func (e *Element) Equal(other *Element) bool {
	return other != nil && e.id == other.id
}

func (e *Element) String() string { return e.id.String() }

// -- Inspection --

// Text returns the rendered text of the element.
func (e *Element) Text(ctx context.Context) (string, error) {
	return e.doc.drv.Text(ctx, e.id)
}

// TagName returns the lower case tag name.
func (e *Element) TagName(ctx context.Context) (string, error) {
	return e.doc.drv.TagName(ctx, e.id)
}

// HTML returns the outer HTML of the element.
func (e *Element) HTML(ctx context.Context) (string, error) {
	return e.doc.drv.OuterHTML(ctx, e.id)
}

func (e *Element) InnerHTML(ctx context.Context) (string, error) {
	return e.doc.drv.InnerHTML(ctx, e.id)
}

// Attribute returns the attribute value and whether it is present.
func (e *Element) Attribute(ctx context.Context, name string) (string, bool, error) {
	return e.doc.drv.Attribute(ctx, e.id, name)
}

// Property returns the string form of a DOM property.
func (e *Element) Property(ctx context.Context, name string) (string, bool, error) {
	return e.doc.drv.Property(ctx, e.id, name)
}

// Value returns the live value of a form control.
func (e *Element) Value(ctx context.Context) (string, error) {
	v, _, err := e.doc.drv.Property(ctx, e.id, "value")
	return v, err
}

func (e *Element) Type(ctx context.Context) (string, error) {
	v, _, err := e.doc.drv.Attribute(ctx, e.id, "type")
	return v, err
}

func (e *Element) IsChecked(ctx context.Context) (bool, error) {
	return e.doc.drv.Checked(ctx, e.id)
}

func (e *Element) IsSelected(ctx context.Context) (bool, error) {
	return e.doc.drv.Selected(ctx, e.id)
}

// IsDisplayed reports whether the element is rendered on the page.
func (e *Element) IsDisplayed(ctx context.Context) (bool, error) {
	return e.doc.drv.Displayed(ctx, e.id)
}

// IsEnabled reports whether the element lacks the disabled state.
func (e *Element) IsEnabled(ctx context.Context) (bool, error) {
	v, ok, err := e.doc.drv.Property(ctx, e.id, "disabled")
	if err != nil {
		return false, err
	}
	return !ok || v != "true", nil
}

// Index is the zero based position of the element among its siblings.
func (e *Element) Index(ctx context.Context) (int, error) {
	prev, err := e.PrevAll(ctx)
	if err != nil {
		return 0, err
	}
	return prev.Len(), nil
}

// Describe renders the outer HTML on one line, truncated to width. A stale
// element renders as <StaleElement>.
func (e *Element) Describe(ctx context.Context, width int) (string, error) {
	if width <= 0 {
		width = 80
	}
	html, err := e.HTML(ctx)
	if err != nil {
		if errors.Is(err, driver.ErrStaleElement) {
			return staleDescription, nil
		}
		return "", err
	}
	line := []rune(strings.Join(strings.Fields(html), " "))
	if len(line) >= width-2 {
		cut := width - 5
		if cut < 0 {
			cut = 0
		}
		return string(line[:cut]) + "...", nil
	}
	return string(line), nil
}

// JS evaluates a member expression on the element, such as "offsetWidth"
// or "getAttribute('href')", and decodes the result into res.
func (e *Element) JS(ctx context.Context, expr string, res interface{}) error {
	return e.doc.drv.ExecuteScript(ctx, "return arguments[0]."+expr+";", res, e.id)
}

// -- Queries --

// Find searches the subtree of the element. The session wait budget applies.
func (e *Element) Find(ctx context.Context, criteria ...selector.Criterion) (*Collection, error) {
	ids, err := e.doc.find(ctx, e.id, selector.Spec(criteria), true)
	if err != nil {
		return nil, err
	}
	return newCollection(e.doc, ids), nil
}

// FindOne is Find for callers expecting exactly one match.
func (e *Element) FindOne(ctx context.Context, criteria ...selector.Criterion) (*Element, error) {
	c, err := e.Find(ctx, criteria...)
	if err != nil {
		return nil, err
	}
	return annotateOne(c, criteria)
}

// -- Actions --

func (e *Element) Click(ctx context.Context) error {
	return e.doc.drv.Click(ctx, e.id)
}

func (e *Element) DoubleClick(ctx context.Context) error {
	return e.doc.drv.DoubleClick(ctx, e.id)
}

func (e *Element) ContextClick(ctx context.Context) error {
	return e.doc.drv.ContextClick(ctx, e.id)
}

func (e *Element) ClickAndHold(ctx context.Context) error {
	return e.doc.drv.ClickAndHold(ctx, e.id)
}

func (e *Element) Release(ctx context.Context) error {
	return e.doc.drv.Release(ctx, e.id)
}

func (e *Element) MoveTo(ctx context.Context) error {
	return e.doc.drv.MoveTo(ctx, e.id)
}

func (e *Element) SendKeys(ctx context.Context, keys string) error {
	return e.doc.drv.SendKeys(ctx, e.id, keys)
}

// Check clicks the element unless it is already checked.
func (e *Element) Check(ctx context.Context) error {
	return e.setChecked(ctx, true)
}

// Uncheck clicks the element if it is checked.
func (e *Element) Uncheck(ctx context.Context) error {
	return e.setChecked(ctx, false)
}

func (e *Element) setChecked(ctx context.Context, want bool) error {
	checked, err := e.IsChecked(ctx)
	if err != nil {
		return err
	}
	if checked == want {
		return nil
	}
	return e.Click(ctx)
}

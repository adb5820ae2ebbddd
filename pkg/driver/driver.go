// pkg/driver/driver.go
package driver

import (
	"context"
	"errors"
	"fmt"
)

// NodeID is the opaque, protocol-assigned identity of a remote DOM node.
// Two handles carrying the same NodeID refer to the same logical element,
// even when they were produced by separate queries.
type NodeID int64

// Root is the scope value for queries against the whole document.
const Root NodeID = 0

// IsRoot reports whether the id denotes the session root rather than an element.
func (id NodeID) IsRoot() bool { return id == Root }

func (id NodeID) String() string {
	if id.IsRoot() {
		return "root"
	}
	return fmt.Sprintf("node:%d", int64(id))
}

// LocatorKind names the native query language of a Locator.
type LocatorKind int

const (
	LocatorXPath LocatorKind = iota
	LocatorCSS
)

func (k LocatorKind) String() string {
	switch k {
	case LocatorCSS:
		return "css"
	case LocatorXPath:
		return "xpath"
	default:
		return "unknown"
	}
}

// Locator is a native query expression evaluated by the driver.
type Locator struct {
	Kind LocatorKind
	Expr string
}

func (l Locator) String() string {
	return l.Kind.String() + "=" + l.Expr
}

// CSS builds a CSS locator.
func CSS(expr string) Locator { return Locator{Kind: LocatorCSS, Expr: expr} }

// XPath builds an XPath locator.
func XPath(expr string) Locator { return Locator{Kind: LocatorXPath, Expr: expr} }

var (
	// ErrStaleElement is returned when a NodeID no longer refers to a live node
	// (the page was reloaded or the node was detached).
	ErrStaleElement = errors.New("stale element reference")
	// ErrInvalidLocator is returned when the protocol rejects a locator expression.
	ErrInvalidLocator = errors.New("invalid locator")
	// ErrUnsupported is returned by drivers that cannot perform an operation.
	ErrUnsupported = errors.New("operation not supported by driver")
	// ErrClosed is returned once the driver has been closed.
	ErrClosed = errors.New("driver closed")
)

// Finder resolves locators against a scope.
type Finder interface {
	// FindAll evaluates loc with scope as context and returns the matching
	// element nodes in document order. An empty result is not an error.
	// A stale scope yields ErrStaleElement.
	FindAll(ctx context.Context, scope NodeID, loc Locator) ([]NodeID, error)
	// Matches reports whether the element itself satisfies loc. CSS locators
	// use selector matching, XPath locators are evaluated with the element as
	// context and match when the result contains the element.
	Matches(ctx context.Context, id NodeID, loc Locator) (bool, error)
}

// Inspector reads element state. Each call is one protocol round trip.
type Inspector interface {
	// Attribute returns the attribute value and whether it is present.
	Attribute(ctx context.Context, id NodeID, name string) (string, bool, error)
	// Property returns the string form of a DOM property, false when null or undefined.
	Property(ctx context.Context, id NodeID, name string) (string, bool, error)
	// Text returns the rendered text of the element.
	Text(ctx context.Context, id NodeID) (string, error)
	// OwnText returns the concatenated direct child text nodes.
	OwnText(ctx context.Context, id NodeID) (string, error)
	TagName(ctx context.Context, id NodeID) (string, error)
	Checked(ctx context.Context, id NodeID) (bool, error)
	Selected(ctx context.Context, id NodeID) (bool, error)
	// Displayed reports whether the element would be rendered.
	Displayed(ctx context.Context, id NodeID) (bool, error)
	OuterHTML(ctx context.Context, id NodeID) (string, error)
	InnerHTML(ctx context.Context, id NodeID) (string, error)
}

// Actuator dispatches input to elements.
type Actuator interface {
	Click(ctx context.Context, id NodeID) error
	DoubleClick(ctx context.Context, id NodeID) error
	ContextClick(ctx context.Context, id NodeID) error
	ClickAndHold(ctx context.Context, id NodeID) error
	Release(ctx context.Context, id NodeID) error
	MoveTo(ctx context.Context, id NodeID) error
	SendKeys(ctx context.Context, id NodeID, keys string) error
}

// Scripter runs JavaScript in the page. The script is a function body that
// reads its inputs from `arguments`; NodeID arguments are passed as elements.
// The return value is decoded into res when res is non-nil.
type Scripter interface {
	ExecuteScript(ctx context.Context, script string, res interface{}, args ...interface{}) error
}

// Driver is the full remote browser-control surface consumed by the query layer.
type Driver interface {
	Finder
	Inspector
	Actuator
	Scripter

	// Open loads literal markup as the current document. All previously
	// issued NodeIDs become stale.
	Open(ctx context.Context, markup string) error
	// PageText returns the rendered text of the document body.
	PageText(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

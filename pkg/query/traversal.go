// pkg/query/traversal.go
package query

import (
	"context"

	"github.com/xkilldash9x/domquery/pkg/driver"
	"github.com/xkilldash9x/domquery/pkg/selector"
)

// Relative location paths evaluated with the element as context node.
const (
	axisParent      = ".."
	axisChildren    = "./*"
	axisDescendants = "./descendant::*"
	axisAncestors   = "./ancestor::*"
	axisNext        = "./following-sibling::*[1]"
	axisPrev        = "./preceding-sibling::*[1]"
	axisNextAll     = "./following-sibling::*"
	axisPrevAll     = "./preceding-sibling::*"
)

// traverse runs a relationship query scoped to the element, then filters the
// result with criteria. Traversals never wait.
func (e *Element) traverse(ctx context.Context, axis string, criteria []selector.Criterion) (*Collection, error) {
	ids, err := e.doc.find(ctx, e.id, selector.Spec{selector.XPath(axis)}, false)
	if err != nil {
		return nil, err
	}
	return newCollection(e.doc, ids).Filter(ctx, criteria...)
}

// ParentElement returns the parent, or an empty collection for the root element.
func (e *Element) ParentElement(ctx context.Context, criteria ...selector.Criterion) (*Collection, error) {
	return e.traverse(ctx, axisParent, criteria)
}

// Children returns the immediate child elements.
func (e *Element) Children(ctx context.Context, criteria ...selector.Criterion) (*Collection, error) {
	return e.traverse(ctx, axisChildren, criteria)
}

// Descendants returns all elements below, at any depth.
func (e *Element) Descendants(ctx context.Context, criteria ...selector.Criterion) (*Collection, error) {
	return e.traverse(ctx, axisDescendants, criteria)
}

// Ancestors returns the ancestors in document order, root first.
func (e *Element) Ancestors(ctx context.Context, criteria ...selector.Criterion) (*Collection, error) {
	return e.traverse(ctx, axisAncestors, criteria)
}

// Next returns the nearest following sibling.
func (e *Element) Next(ctx context.Context, criteria ...selector.Criterion) (*Collection, error) {
	return e.traverse(ctx, axisNext, criteria)
}

// Prev returns the nearest preceding sibling.
func (e *Element) Prev(ctx context.Context, criteria ...selector.Criterion) (*Collection, error) {
	return e.traverse(ctx, axisPrev, criteria)
}

// NextAll returns every following sibling in document order.
func (e *Element) NextAll(ctx context.Context, criteria ...selector.Criterion) (*Collection, error) {
	return e.traverse(ctx, axisNextAll, criteria)
}

// PrevAll returns every preceding sibling in document order.
func (e *Element) PrevAll(ctx context.Context, criteria ...selector.Criterion) (*Collection, error) {
	return e.traverse(ctx, axisPrevAll, criteria)
}

// Siblings returns PrevAll followed by NextAll. The element itself is never included.
func (e *Element) Siblings(ctx context.Context, criteria ...selector.Criterion) (*Collection, error) {
	prev, err := e.PrevAll(ctx)
	if err != nil {
		return nil, err
	}
	next, err := e.NextAll(ctx)
	if err != nil {
		return nil, err
	}
	self := &Collection{doc: e.doc, ids: []driver.NodeID{e.id}}
	return prev.Union(next).Difference(self).Filter(ctx, criteria...)
}

// -- Collection traversal: applied per member, merged in member order. --

type traversal func(*Element, context.Context, ...selector.Criterion) (*Collection, error)

func (c *Collection) each(ctx context.Context, step traversal, criteria []selector.Criterion) (*Collection, error) {
	return c.fanOut(ctx, func(e *Element) (*Collection, error) {
		return step(e, ctx, criteria...)
	})
}

func (c *Collection) ParentElement(ctx context.Context, criteria ...selector.Criterion) (*Collection, error) {
	return c.each(ctx, (*Element).ParentElement, criteria)
}

func (c *Collection) Children(ctx context.Context, criteria ...selector.Criterion) (*Collection, error) {
	return c.each(ctx, (*Element).Children, criteria)
}

func (c *Collection) Descendants(ctx context.Context, criteria ...selector.Criterion) (*Collection, error) {
	return c.each(ctx, (*Element).Descendants, criteria)
}

func (c *Collection) Ancestors(ctx context.Context, criteria ...selector.Criterion) (*Collection, error) {
	return c.each(ctx, (*Element).Ancestors, criteria)
}

func (c *Collection) Next(ctx context.Context, criteria ...selector.Criterion) (*Collection, error) {
	return c.each(ctx, (*Element).Next, criteria)
}

func (c *Collection) Prev(ctx context.Context, criteria ...selector.Criterion) (*Collection, error) {
	return c.each(ctx, (*Element).Prev, criteria)
}

func (c *Collection) NextAll(ctx context.Context, criteria ...selector.Criterion) (*Collection, error) {
	return c.each(ctx, (*Element).NextAll, criteria)
}

func (c *Collection) PrevAll(ctx context.Context, criteria ...selector.Criterion) (*Collection, error) {
	return c.each(ctx, (*Element).PrevAll, criteria)
}

func (c *Collection) Siblings(ctx context.Context, criteria ...selector.Criterion) (*Collection, error) {
	return c.each(ctx, (*Element).Siblings, criteria)
}

// Traverse dispatches a traversal by name, as used by the command line.
func (c *Collection) Traverse(ctx context.Context, name string, criteria ...selector.Criterion) (*Collection, error) {
	step, ok := traversals[name]
	if !ok {
		return nil, &UnknownTraversalError{Name: name}
	}
	return c.each(ctx, step, criteria)
}

var traversals = map[string]traversal{
	"parent":      (*Element).ParentElement,
	"children":    (*Element).Children,
	"descendants": (*Element).Descendants,
	"ancestors":   (*Element).Ancestors,
	"next":        (*Element).Next,
	"prev":        (*Element).Prev,
	"next_all":    (*Element).NextAll,
	"prev_all":    (*Element).PrevAll,
	"siblings":    (*Element).Siblings,
}

// TraversalNames lists the names accepted by Collection.Traverse.
func TraversalNames() []string {
	return []string{"parent", "children", "descendants", "ancestors", "next", "prev", "next_all", "prev_all", "siblings"}
}

// UnknownTraversalError is returned by Traverse for unrecognized names.
type UnknownTraversalError struct {
	Name string
}

func (e *UnknownTraversalError) Error() string {
	return "unknown traversal " + e.Name
}

// pkg/query/collection.go
package query

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/domquery/pkg/driver"
	"github.com/xkilldash9x/domquery/pkg/selector"
)

// Collection is an ordered set of elements with no duplicate identifiers.
// Collections are immutable; every operation returns a new one.
type Collection struct {
	doc *Document
	ids []driver.NodeID
}

// newCollection keeps the first occurrence of every identifier.
func newCollection(doc *Document, ids []driver.NodeID) *Collection {
	seen := make(map[driver.NodeID]struct{}, len(ids))
	unique := make([]driver.NodeID, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	return &Collection{doc: doc, ids: unique}
}

// Document returns the session the collection belongs to.
func (c *Collection) Document() *Document { return c.doc }

func (c *Collection) Len() int { return len(c.ids) }

// Empty reports whether nothing matched.
func (c *Collection) Empty() bool { return len(c.ids) == 0 }

// IDs returns a copy of the member identifiers in order.
func (c *Collection) IDs() []driver.NodeID {
	out := make([]driver.NodeID, len(c.ids))
	copy(out, c.ids)
	return out
}

// Elements returns the members in order.
func (c *Collection) Elements() []*Element {
	out := make([]*Element, len(c.ids))
	for i, id := range c.ids {
		out[i] = &Element{id: id, doc: c.doc}
	}
	return out
}

// At returns the member at index i. Negative indexes count from the end.
func (c *Collection) At(i int) (*Element, error) {
	n := len(c.ids)
	idx := i
	if idx < 0 {
		idx += n
	}
	if idx < 0 || idx >= n {
		return nil, fmt.Errorf("%w: index %d, length %d", ErrIndexOutOfRange, i, n)
	}
	return &Element{id: c.ids[idx], doc: c.doc}, nil
}

// Slice returns members [start, end). Negative bounds count from the end
// and out of range bounds are clamped, so Slice never fails.
func (c *Collection) Slice(start, end int) *Collection {
	n := len(c.ids)
	clamp := func(i int) int {
		if i < 0 {
			i += n
		}
		if i < 0 {
			return 0
		}
		if i > n {
			return n
		}
		return i
	}
	start, end = clamp(start), clamp(end)
	if end < start {
		end = start
	}
	return &Collection{doc: c.doc, ids: append([]driver.NodeID(nil), c.ids[start:end]...)}
}

// First returns the first member or an ElementCountError when empty.
func (c *Collection) First() (*Element, error) {
	if len(c.ids) == 0 {
		return nil, &ElementCountError{Count: 0}
	}
	return &Element{id: c.ids[0], doc: c.doc}, nil
}

// One returns the only member. Zero or several members produce an
// ElementCountError matching ErrNoSuchElement or ErrAmbiguousElement.
func (c *Collection) One() (*Element, error) {
	if len(c.ids) != 1 {
		return nil, &ElementCountError{Count: len(c.ids)}
	}
	return &Element{id: c.ids[0], doc: c.doc}, nil
}

// Contains reports membership by identifier.
func (c *Collection) Contains(e *Element) bool {
	if e == nil {
		return false
	}
	for _, id := range c.ids {
		if id == e.id {
			return true
		}
	}
	return false
}

// Union returns the members of c followed by the members of other not in c.
func (c *Collection) Union(other *Collection) *Collection {
	if other == nil {
		return newCollection(c.doc, c.ids)
	}
	merged := make([]driver.NodeID, 0, len(c.ids)+len(other.ids))
	merged = append(merged, c.ids...)
	merged = append(merged, other.ids...)
	return newCollection(c.doc, merged)
}

// Difference returns the members of c that are not in other.
func (c *Collection) Difference(other *Collection) *Collection {
	if other == nil {
		return newCollection(c.doc, c.ids)
	}
	drop := make(map[driver.NodeID]struct{}, len(other.ids))
	for _, id := range other.ids {
		drop[id] = struct{}{}
	}
	kept := make([]driver.NodeID, 0, len(c.ids))
	for _, id := range c.ids {
		if _, ok := drop[id]; !ok {
			kept = append(kept, id)
		}
	}
	return &Collection{doc: c.doc, ids: kept}
}

// Filter keeps the members matching every criterion. Members are tested in
// place, never by searching the document again.
func (c *Collection) Filter(ctx context.Context, criteria ...selector.Criterion) (*Collection, error) {
	if len(criteria) == 0 || len(c.ids) == 0 {
		return c, nil
	}
	ids, err := c.doc.match(ctx, c.ids, selector.Spec(criteria))
	if err != nil {
		return nil, err
	}
	return &Collection{doc: c.doc, ids: ids}, nil
}

// Exclude drops the members Filter would keep, so the two always
// partition the collection.
func (c *Collection) Exclude(ctx context.Context, criteria ...selector.Criterion) (*Collection, error) {
	kept, err := c.Filter(ctx, criteria...)
	if err != nil {
		return nil, err
	}
	return c.Difference(kept), nil
}

// Find runs the query with every member as scope and returns the union of
// the results in member order. The session wait budget applies to the
// union: the whole fan-out is retried until any member yields a match.
func (c *Collection) Find(ctx context.Context, criteria ...selector.Criterion) (*Collection, error) {
	compiled, err := selector.Compile(selector.ScopeElement, selector.Spec(criteria))
	if err != nil {
		return nil, err
	}
	if len(c.ids) == 0 {
		return &Collection{doc: c.doc}, nil
	}
	ids, err := c.doc.retry(ctx, compiled, func() ([]driver.NodeID, error) {
		var merged []driver.NodeID
		for _, id := range c.ids {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			part, err := c.doc.attempt(ctx, id, compiled)
			if err != nil {
				return nil, err
			}
			merged = append(merged, part...)
		}
		return newCollection(c.doc, merged).ids, nil
	})
	if err != nil {
		return nil, err
	}
	return &Collection{doc: c.doc, ids: ids}, nil
}

// fanOut applies step to every member and unions the results in member order.
func (c *Collection) fanOut(ctx context.Context, step func(*Element) (*Collection, error)) (*Collection, error) {
	var merged []driver.NodeID
	for _, id := range c.ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		part, err := step(&Element{id: id, doc: c.doc})
		if err != nil {
			return nil, err
		}
		merged = append(merged, part.ids...)
	}
	return newCollection(c.doc, merged), nil
}

// Texts returns the rendered text of every member.
func (c *Collection) Texts(ctx context.Context) ([]string, error) {
	out := make([]string, len(c.ids))
	for i, id := range c.ids {
		text, err := c.doc.drv.Text(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("text of %s: %w", id, err)
		}
		out[i] = text
	}
	return out, nil
}

func (c *Collection) String() string {
	return fmt.Sprintf("Collection(%d)", len(c.ids))
}

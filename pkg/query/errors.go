// pkg/query/errors.go
package query

import (
	"errors"
	"fmt"

	"github.com/xkilldash9x/domquery/pkg/driver"
	"github.com/xkilldash9x/domquery/pkg/selector"
)

var (
	// ErrNoSuchElement is matched by an ElementCountError with no elements.
	ErrNoSuchElement = errors.New("no such element")
	// ErrAmbiguousElement is matched by an ElementCountError with several elements.
	ErrAmbiguousElement = errors.New("ambiguous element")
	// ErrIndexOutOfRange is returned by Collection.At.
	ErrIndexOutOfRange = errors.New("index out of range")

	// Re-exported so callers only need this package for error checks.
	ErrStaleElement    = driver.ErrStaleElement
	ErrInvalidSelector = selector.ErrInvalidSelector
)

// ElementCountError is returned by single element accessors when the
// underlying collection does not hold exactly one element.
type ElementCountError struct {
	Count int
	Query string
}

func (e *ElementCountError) Error() string {
	msg := fmt.Sprintf("expected exactly one element, found %d", e.Count)
	if e.Query != "" {
		msg += " for " + e.Query
	}
	return msg
}

func (e *ElementCountError) Unwrap() error {
	if e.Count == 0 {
		return ErrNoSuchElement
	}
	return ErrAmbiguousElement
}

// annotateOne is Collection.One with the query recorded on count errors.
func annotateOne(c *Collection, criteria []selector.Criterion) (*Element, error) {
	e, err := c.One()
	if err != nil {
		var countErr *ElementCountError
		if errors.As(err, &countErr) {
			countErr.Query = selector.Spec(criteria).String()
		}
		return nil, err
	}
	return e, nil
}

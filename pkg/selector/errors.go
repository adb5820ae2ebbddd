// pkg/selector/errors.go
package selector

import (
	"errors"
	"fmt"
)

// ErrInvalidSelector is matched by every InvalidSelectorError.
var ErrInvalidSelector = errors.New("invalid selector")

// InvalidSelectorError reports a malformed or contradictory selector. It is
// raised at compile time, before any protocol call is made.
type InvalidSelectorError struct {
	Criterion string
	Reason    string
	Err       error
}

func newInvalid(criterion, reason string) *InvalidSelectorError {
	return &InvalidSelectorError{Criterion: criterion, Reason: reason}
}

func (e *InvalidSelectorError) Error() string {
	msg := "invalid selector"
	if e.Criterion != "" {
		msg += " " + e.Criterion
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Is lets errors.Is(err, ErrInvalidSelector) match.
func (e *InvalidSelectorError) Is(target error) bool {
	return target == ErrInvalidSelector
}

func (e *InvalidSelectorError) Unwrap() error { return e.Err }

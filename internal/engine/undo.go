package engine

import (
	"errors"
	"fmt"
)

type undoStep struct {
	name string
	fn   func() error
}

// undoStack collects compensating actions for value already moved
type undoStack []undoStep

func (u *undoStack) push(name string, fn func() error) {
	*u = append(*u, undoStep{name: name, fn: fn})
}

// unwind runs every step newest first and joins the failures
func (u undoStack) unwind() error {
	var errs []error
	for i := len(u) - 1; i >= 0; i-- {
		if err := u[i].fn(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", u[i].name, err))
		}
	}
	return errors.Join(errs...)
}

package call

import (
	"errors"
	"fmt"
)

var (
	// ErrSelfParent is returned when a call is made its own parent
	ErrSelfParent = errors.New("call cannot be its own parent")

	// ErrAlreadyHasParent is returned when re-parenting without clearing the old parent first
	ErrAlreadyHasParent = errors.New("call already has a parent")

	// ErrParentCycle is returned when the new parent is a descendant of the call
	ErrParentCycle = errors.New("parent link would create a cycle")

	// ErrUnknownParent is returned when the parent id is not in the arena
	ErrUnknownParent = errors.New("parent call not found")
)

// ParentError describes a rejected parent assignment
type ParentError struct {
	CallID   string
	ParentID string
	Err      error
}

func (e *ParentError) Error() string {
	return fmt.Sprintf("set parent of %s to %s: %v", e.CallID, e.ParentID, e.Err)
}

func (e *ParentError) Unwrap() error {
	return e.Err
}

package orchestrator

import (
	"errors"
	"fmt"

	"github.com/sebas/callmanager/internal/telecom/call"
)

var (
	// ErrUnknownCall is returned when a command names a call that is not in the call set
	ErrUnknownCall = errors.New("unknown call")

	// ErrInvalidState is returned when a command is not legal in the call's current state
	ErrInvalidState = errors.New("operation not allowed in current call state")

	// ErrAdmissionRejected is returned when a new outgoing call does not fit next to the existing calls
	ErrAdmissionRejected = errors.New("no room for another outgoing call")
)

// StateError describes a command refused because of the call's state
type StateError struct {
	CallID string
	Op     string
	State  call.State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s on call %s in state %s: %v", e.Op, e.CallID, e.State, ErrInvalidState)
}

func (e *StateError) Unwrap() error {
	return ErrInvalidState
}

func unknownCall(id string) error {
	return fmt.Errorf("%w: %s", ErrUnknownCall, id)
}

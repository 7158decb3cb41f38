package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/sebas/callmanager/internal/telecom/call"
)

var (
	// ErrNoConnectionService is returned when no service can place a call
	ErrNoConnectionService = errors.New("no connection service available")
	// ErrDuplicateService is returned when a component registers twice
	ErrDuplicateService = errors.New("connection service already registered")
	// ErrUnknownConnection is returned by services asked about a call they do not hold
	ErrUnknownConnection = errors.New("unknown connection")
)

// ConnectionError is a failed create-connection attempt with the cause to
// report on the call.
type ConnectionError struct {
	Cause call.DisconnectCause
	Err   error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("create connection failed: %s", e.Cause.Code)
	}
	return fmt.Sprintf("create connection failed: %s: %v", e.Cause.Code, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// NewConnectionError wraps err with a cause of the given code
func NewConnectionError(code call.DisconnectCode, reason string, err error) *ConnectionError {
	cause := call.NewDisconnectCause(code)
	cause.Reason = reason
	return &ConnectionError{Cause: cause, Err: err}
}

// CauseOf maps an attempt error to the disconnect cause reported on the call
func CauseOf(err error) call.DisconnectCause {
	var ce *ConnectionError
	switch {
	case err == nil:
		return call.NewDisconnectCause(call.DisconnectUnknown)
	case errors.As(err, &ce):
		return ce.Cause
	case errors.Is(err, context.Canceled):
		return call.NewDisconnectCause(call.DisconnectCanceled)
	case errors.Is(err, context.DeadlineExceeded):
		cause := call.NewDisconnectCause(call.DisconnectError)
		cause.Reason = "timeout"
		return cause
	default:
		cause := call.NewDisconnectCause(call.DisconnectError)
		cause.Reason = err.Error()
		return cause
	}
}

package account

import "errors"

var (
	// ErrInvalidHandle is returned when an account handle cannot be parsed
	ErrInvalidHandle = errors.New("invalid account handle")

	// ErrUnknownAccount is returned when a handle does not name a registered account
	ErrUnknownAccount = errors.New("unknown account")

	// ErrDuplicateAccount is returned when registering a handle twice
	ErrDuplicateAccount = errors.New("account already registered")
)

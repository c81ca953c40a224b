package types

import (
	"errors"
	"fmt"
)

// Sentinel error kinds returned by the lifecycle engine. Callers match
// them with errors.Is; handlers translate them to wire error codes.
var (
	// ErrUnknownInstance indicates no instance exists for the given ID
	ErrUnknownInstance = errors.New("unknown instance")

	// ErrUnknownHandle indicates no instance exists for the given backend handle
	ErrUnknownHandle = errors.New("unknown backend handle")

	// ErrDuplicateHandle indicates the backend handle already names a live
	// (non-Halted) instance
	ErrDuplicateHandle = errors.New("duplicate backend handle")

	// ErrInvalidTransition indicates the requested status change is not in
	// the allowed-transition table
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrUnauthorized indicates the caller lacks the required capability
	ErrUnauthorized = errors.New("unauthorized")

	// ErrBackendUnreachable indicates the cloud backend could not be
	// contacted (endpoint resolution or connection failure)
	ErrBackendUnreachable = errors.New("backend unreachable")

	// ErrBackendCallFailed indicates the cloud backend rejected or failed
	// the stop call
	ErrBackendCallFailed = errors.New("backend call failed")

	// ErrStoreUnavailable indicates the instance store could not be queried
	ErrStoreUnavailable = errors.New("store unavailable")
)

// InvalidTransitionError builds an ErrInvalidTransition carrying the
// current and requested status
func InvalidTransitionError(from, to fmt.Stringer) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// ErrorKind maps an engine error to its wire-level kind string. Unknown
// errors map to "internal".
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrUnknownInstance):
		return "UnknownInstance"
	case errors.Is(err, ErrUnknownHandle):
		return "UnknownHandle"
	case errors.Is(err, ErrDuplicateHandle):
		return "DuplicateHandle"
	case errors.Is(err, ErrInvalidTransition):
		return "InvalidTransition"
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, ErrBackendUnreachable):
		return "BackendUnreachable"
	case errors.Is(err, ErrBackendCallFailed):
		return "BackendCallFailed"
	case errors.Is(err, ErrStoreUnavailable):
		return "StoreUnavailable"
	default:
		return "internal"
	}
}

package gate

import "errors"

// Domain errors for the gate package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, gate.ErrCommandFailed) {
//	    // surface a "communication failure" to the caller
//	}
var (
	// ErrDeviceNotFound is returned when a door ID does not exist.
	ErrDeviceNotFound = errors.New("gate: device not found")

	// ErrInvalidStatus is returned when a status value is not recognised.
	ErrInvalidStatus = errors.New("gate: invalid status")

	// ErrInvalidDesired is returned when a desired-status value is not recognised.
	ErrInvalidDesired = errors.New("gate: invalid desired status")

	// ErrCommandFailed is returned when a state-change command could not be
	// delivered to the backend.
	ErrCommandFailed = errors.New("gate: command failed")
)

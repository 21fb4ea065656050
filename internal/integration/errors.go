package integration

import "errors"

// Sentinel errors for the integration package.
var (
	// ErrManagerClosed is returned when operations are attempted on a closed manager.
	ErrManagerClosed = errors.New("integration manager is closed")

	// ErrSessionNotFound is returned for an unknown debug session ID.
	ErrSessionNotFound = errors.New("debug session not found")

	// ErrTargetUnreachable is returned when a remote debug target never
	// accepted a connection.
	ErrTargetUnreachable = errors.New("debug target unreachable")
)

package gdb

import (
	"errors"
	"fmt"
)

// Sentinel errors for the gdb package.
var (
	// ErrSessionNotActive is returned when a command is issued on a
	// session that was never started or has terminated.
	ErrSessionNotActive = errors.New("debug session is not active")

	// ErrSessionStarted is returned when Start is called twice.
	ErrSessionStarted = errors.New("debug session already started")

	// ErrInvalidLength is returned for a negative memory read length.
	ErrInvalidLength = errors.New("invalid memory length")
)

// CommandError reports an execution-control command that GDB answered
// with ^error, or that timed out.
type CommandError struct {
	Command string
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("gdb %s: %s", e.Command, e.Message)
}

package toolchain

import "errors"

// Sentinel errors for the toolchain package.
var (
	// ErrUnknownDialect is returned for an unsupported dialect name.
	ErrUnknownDialect = errors.New("unknown assembler dialect")

	// ErrUnknownFormat is returned for an unsupported output format.
	ErrUnknownFormat = errors.New("unknown output format")

	// ErrNoSource is returned when a build has no source file.
	ErrNoSource = errors.New("no source file")

	// ErrNoObjects is returned when link is called without inputs.
	ErrNoObjects = errors.New("no object files to link")
)

package cli

import "errors"

// ErrFailed reports a command failure whose details were already
// printed. Callers should exit non-zero without printing it again.
var ErrFailed = errors.New("command failed")

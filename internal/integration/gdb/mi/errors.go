package mi

import "errors"

// ErrIncomplete is returned by ParseLineStrict when part of a record's
// payload could not be parsed.
var ErrIncomplete = errors.New("mi: incomplete record")

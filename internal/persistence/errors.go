package persistence

import "errors"

// ErrNotFound is returned when a requested row does not exist. Callers match
// it with errors.Is; a missing article on a pattern update or score request
// surfaces this to the caller rather than degrading silently.
var ErrNotFound = errors.New("not found")

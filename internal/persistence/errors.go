package persistence

import "errors"

// ErrDuplicate is returned when an insert collides with a uniqueness
// constraint. Callers racing the same work treat it as already done.
var ErrDuplicate = errors.New("duplicate row")

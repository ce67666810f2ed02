package models

import "errors"

// ErrInvalidParameter marks caller misuse: an invalid window, limit or
// empty channel set. Callers fail fast with it before any I/O.
var ErrInvalidParameter = errors.New("invalid parameter")

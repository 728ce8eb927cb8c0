// Package repository holds the MySQL implementations of the stores the
// engine reads and mutates, plus error values shared between them.  The
// sentinels let higher layers tell "no such row" apart from "row exists but
// belongs to someone else" without inspecting driver errors.
package repository

import "errors"

// ErrNotFound is returned when the requested row does not exist (or, for
// soft-deleted rows, no longer exists as far as callers are concerned).
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own. Handlers should translate this
// into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

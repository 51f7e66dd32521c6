// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict.
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrBusy indicates a session already has an active search. Callers may retry later.
var ErrBusy = errors.New("busy: session has an active search")

// ErrValidation indicates the request failed input validation.
var ErrValidation = errors.New("validation failed")

// ErrCancelled indicates cooperative cancellation was requested.
// It is a terminal outcome distinct from failure.
var ErrCancelled = errors.New("cancelled")

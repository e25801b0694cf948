// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (optimistic locking).
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates invalid caller input.
var ErrValidation = errors.New("validation error")

// ErrRetryable indicates a transient race the caller should retry.
var ErrRetryable = errors.New("operation raced with a concurrent update, try again")

// ErrConfirmationRequired indicates the request must be repeated with explicit confirmation.
var ErrConfirmationRequired = errors.New("confirmation required")

// ErrUpstream indicates a remote provider call failed or its circuit is open.
var ErrUpstream = errors.New("remote provider unavailable")

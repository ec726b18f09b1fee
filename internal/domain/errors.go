package domain

import "errors"

var (
	// ErrNotFound is returned when a referenced Client or Satellite does not exist.
	ErrNotFound = errors.New("account not found")
	// ErrConcurrentModification is returned when an optimistic version check fails.
	// Callers retry the single record, never the whole batch.
	ErrConcurrentModification = errors.New("account was modified concurrently")
	// ErrLockContention signals that another instance holds the startup sync lock.
	ErrLockContention = errors.New("sync lock already held")
	// ErrInvalidState is returned when an event cannot be applied to the account it targets.
	ErrInvalidState = errors.New("invalid account state")

	ErrInvalidOutcome = errors.New("unknown verification outcome")
	ErrInvalidToken   = errors.New("invalid or expired token")
)

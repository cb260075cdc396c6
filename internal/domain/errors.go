package domain

import "errors"

// Domain errors represent error conditions in the caseship domain.
// These errors are returned by the public API and can be checked with errors.Is.
var (
	// ErrStoreUnreachable is returned when the shared store cannot be
	// reached or is locked by another writer. Writes failing with this
	// error are buffered locally instead of being lost.
	ErrStoreUnreachable = errors.New("caseship: store unreachable")

	// ErrValidation is returned for structurally invalid operations or
	// payloads the store rejects. Such operations are never buffered.
	ErrValidation = errors.New("caseship: invalid operation")

	// ErrUnknownOperation is returned for operation kinds the store does
	// not know how to apply.
	ErrUnknownOperation = errors.New("caseship: unknown operation")

	// ErrAlreadyRunning is returned when Start() is called on a running agent.
	ErrAlreadyRunning = errors.New("caseship: already running")

	// ErrNotRunning is returned when Stop() is called on a stopped agent.
	ErrNotRunning = errors.New("caseship: not running")

	// ErrShutdownTimeout is returned when graceful shutdown times out.
	ErrShutdownTimeout = errors.New("caseship: shutdown timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("caseship: invalid configuration")
)

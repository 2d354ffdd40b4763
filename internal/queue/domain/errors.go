package domain

import "errors"

var (
	// ErrConnection is returned when the store cannot be reached or rejects the credentials
	ErrConnection = errors.New("queue store connection error")

	// ErrClaim is returned when a claim fails for a reason other than a lock conflict
	ErrClaim = errors.New("claim failed")

	// ErrNotConnected is returned when an engine is used after it was closed
	ErrNotConnected = errors.New("queue engine not connected")

	// ErrUnknownQueue is returned when enqueueing to a queue that is not configured
	ErrUnknownQueue = errors.New("unknown queue")

	// ErrHandlerPanic marks a handler invocation that panicked
	ErrHandlerPanic = errors.New("handler panicked")
)

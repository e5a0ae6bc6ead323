package domain

import "errors"

var (
	// ErrInvalidTransition signals an illegal job state change. This is a
	// programming or ordering error, never retried.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrRetryExhausted signals that a job has no retry budget left.
	ErrRetryExhausted = errors.New("retry budget exhausted")

	// ErrJobNotFound is returned by stores when no job exists for an id.
	ErrJobNotFound = errors.New("job not found")
)

// Package timeout bounds the duration of backend operations. Unlike a bare
// context.WithTimeout, the wrapper waits for the operation to observe
// cancellation before returning, so no goroutine keeps running behind an
// expired deadline.
package timeout

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Error reports which operation exceeded which deadline.
type Error struct {
	Operation string
	Timeout   time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Operation, e.Timeout)
}

// Unwrap lets callers match the error with errors.Is against
// context.DeadlineExceeded.
func (e *Error) Unwrap() error {
	return context.DeadlineExceeded
}

// With runs fn with a deadline. fn must honor its context: when the deadline
// fires With waits for fn to return, discards its late result and returns an
// *Error naming the operation. A cancellation of the parent context is
// passed through unchanged.
func With[T any](ctx context.Context, d time.Duration, operation string, fn func(context.Context) (T, error)) (T, error) {
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, err := fn(tctx)
		done <- result{value: value, err: err}
	}()

	var zero T
	select {
	case r := <-done:
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return zero, &Error{Operation: operation, Timeout: d}
		}
		return r.value, r.err
	case <-tctx.Done():
		// Block until fn notices the cancellation; its result is dropped.
		<-done
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return zero, &Error{Operation: operation, Timeout: d}
		}
		return zero, tctx.Err()
	}
}

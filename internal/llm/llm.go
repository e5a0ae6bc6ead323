// Package llm invokes text-generation backends. Callers wrap invocations in
// the circuit breaker and timeout layers; this package only speaks the
// provider protocol.
package llm

import (
	"context"
	"fmt"
)

// Request is one generation call.
type Request struct {
	Model       string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Response is the backend's answer.
type Response struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
}

// TotalTokens is the combined prompt and completion token count.
func (r Response) TotalTokens() int64 {
	return r.InputTokens + r.OutputTokens
}

// Invoker sends a prompt to a generation backend.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (Response, error)
}

// Error is a failed backend invocation.
type Error struct {
	// Backend names the provider, e.g. "anthropic".
	Backend string
	// StatusCode is the HTTP status when the provider answered; 0 for
	// transport-level failures.
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s invocation failed (status %d): %v", e.Backend, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s invocation failed: %v", e.Backend, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is worth retrying: rate limits,
// overload and server-side errors are; auth and request errors are not.
func (e *Error) Retryable() bool {
	switch {
	case e.StatusCode == 0:
		// Transport failure, the request may never have arrived.
		return true
	case e.StatusCode == 408 || e.StatusCode == 429:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// Package circuitbreaker guards calls to external model backends. Each
// backend gets its own breaker; consecutive failures open the circuit and
// callers fail fast until a probe call shows the backend recovered.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a call is rejected because the circuit is
// open. Rejected calls never reach the protected function and are not
// counted as failures.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the circuit state.
type State int

const (
	// StateClosed allows all calls through.
	StateClosed State = iota
	// StateOpen rejects all calls until the open timeout elapses.
	StateOpen
	// StateHalfOpen lets probe calls through to test recovery.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const (
	defaultFailureThreshold = 5
	defaultSuccessThreshold = 2
	defaultOpenTimeout      = 60 * time.Second
)

// Config configures a breaker. Zero values fall back to the defaults.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive half-open successes that
	// closes the circuit again.
	SuccessThreshold int
	// Timeout is how long the circuit stays open before the next call is
	// allowed through as a probe.
	Timeout time.Duration
	// OnStateChange, when set, is invoked after every state transition while
	// the breaker lock is held. Keep it cheap.
	OnStateChange func(from, to State)
}

// DefaultConfig returns the standard backend protection settings.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: defaultFailureThreshold,
		SuccessThreshold: defaultSuccessThreshold,
		Timeout:          defaultOpenTimeout,
	}
}

// Breaker is a single circuit breaker. Safe for concurrent use.
type Breaker struct {
	mu           sync.RWMutex
	state        State
	failureCount int
	successCount int
	openedAt     time.Time
	config       Config
}

// New creates a closed breaker, filling unset config fields with defaults.
func New(config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = defaultFailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = defaultSuccessThreshold
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultOpenTimeout
	}

	return &Breaker{
		state:  StateClosed,
		config: config,
	}
}

// Execute runs fn under the breaker. When the circuit is open the call is
// rejected with ErrCircuitOpen and fn is never invoked; otherwise fn's error
// (or nil) is recorded and returned unchanged.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}

	err := fn(ctx)
	b.afterCall(err)
	return err
}

// beforeCall decides whether the call may proceed. The open->half-open
// transition happens here, lazily, on the first call after the timeout.
func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		remaining := b.config.Timeout - time.Since(b.openedAt)
		if remaining > 0 {
			return fmt.Errorf("%w: retry allowed in %v", ErrCircuitOpen, remaining.Round(time.Millisecond))
		}
		b.transitionTo(StateHalfOpen)
	}
	return nil
}

func (b *Breaker) afterCall(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.recordFailure()
	} else {
		b.recordSuccess()
	}
}

func (b *Breaker) recordFailure() {
	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.config.FailureThreshold {
			b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		// A single failed probe reopens the circuit.
		b.transitionTo(StateOpen)
	case StateOpen:
	}
}

func (b *Breaker) recordSuccess() {
	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.config.SuccessThreshold {
			b.transitionTo(StateClosed)
		}
	case StateOpen:
	}
}

func (b *Breaker) transitionTo(newState State) {
	if b.state == newState {
		return
	}

	oldState := b.state
	b.state = newState

	switch newState {
	case StateClosed:
		b.failureCount = 0
		b.successCount = 0
	case StateOpen:
		b.failureCount = 0
		b.successCount = 0
		b.openedAt = time.Now()
	case StateHalfOpen:
		b.successCount = 0
	}

	if b.config.OnStateChange != nil {
		b.config.OnStateChange(oldState, newState)
	}
}

// State returns the current state. An elapsed open timeout is not reflected
// here; the half-open transition only happens on the next call.
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Reset forces the breaker back to closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(StateClosed)
}

// Stats is a point-in-time snapshot of a breaker.
type Stats struct {
	State        State
	FailureCount int
	SuccessCount int
	OpenedAt     time.Time
}

// GetStats returns current counters and state.
func (b *Breaker) GetStats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		State:        b.state,
		FailureCount: b.failureCount,
		SuccessCount: b.successCount,
		OpenedAt:     b.openedAt,
	}
}

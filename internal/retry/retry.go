// Package retry runs operations with exponential backoff and jitter for
// transient failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

var (
	// ErrMaxAttemptsExceeded is returned when every attempt has failed. The
	// last attempt's error is wrapped alongside it.
	ErrMaxAttemptsExceeded = errors.New("max retry attempts exceeded")
	// ErrContextCancelled is returned when the context ends between attempts.
	ErrContextCancelled = errors.New("context cancelled during retry")
)

const (
	defaultMaxRetries   = 3
	defaultInitialDelay = time.Second
	defaultMaxDelay     = 60 * time.Second
	defaultMultiplier   = 2.0
	defaultJitterFactor = 0.1
)

// Config configures retry behavior.
type Config struct {
	// MaxRetries is the number of retries after the initial attempt, so an
	// operation runs at most MaxRetries+1 times.
	MaxRetries int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration
	// Multiplier is the exponential growth factor per retry.
	Multiplier float64
	// JitterFactor randomizes each delay by +/- JitterFactor*delay to keep
	// concurrent retries from synchronizing. Zero disables jitter.
	JitterFactor float64
	// IsRetryable filters which errors are worth retrying. Non-retryable
	// errors are returned immediately.
	IsRetryable func(error) bool
}

// DefaultConfig returns the standard backoff settings.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   defaultMaxRetries,
		InitialDelay: defaultInitialDelay,
		MaxDelay:     defaultMaxDelay,
		Multiplier:   defaultMultiplier,
		JitterFactor: defaultJitterFactor,
		IsRetryable:  DefaultIsRetryable,
	}
}

// DefaultIsRetryable reports whether err looks like a transient network or
// availability problem.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"timeout",
		"timed out",
		"deadline exceeded",
		"connection refused",
		"connection reset",
		"no such host",
		"temporary failure",
		"network is unreachable",
		"i/o timeout",
		"overloaded",
		"too many requests",
		"service unavailable",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// Delay computes the backoff before retry attempt n (1-based):
// min(MaxDelay, InitialDelay*Multiplier^(n-1)), randomized by JitterFactor.
// The result is never negative and never exceeds MaxDelay.
func Delay(config Config, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := float64(config.InitialDelay) * math.Pow(config.Multiplier, float64(attempt-1))
	maxDelay := float64(config.MaxDelay)
	if base > maxDelay {
		base = maxDelay
	}

	if config.JitterFactor > 0 {
		offset := (rand.Float64()*2 - 1) * config.JitterFactor * base
		base += offset
	}

	if base < 0 {
		base = 0
	}
	if base > maxDelay {
		base = maxDelay
	}
	return time.Duration(base)
}

// Do runs fn until it succeeds, returns a non-retryable error, the context
// ends, or MaxRetries+1 attempts are used up.
func Do(ctx context.Context, config Config, fn func(context.Context) error) error {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = defaultInitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = defaultMaxDelay
	}
	if config.Multiplier <= 0 {
		config.Multiplier = defaultMultiplier
	}
	if config.IsRetryable == nil {
		config.IsRetryable = DefaultIsRetryable
	}

	var lastErr error
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !config.IsRetryable(err) {
			return err
		}

		if attempt < config.MaxRetries {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
			case <-time.After(Delay(config, attempt+1)):
			}
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrMaxAttemptsExceeded, config.MaxRetries+1, lastErr)
}

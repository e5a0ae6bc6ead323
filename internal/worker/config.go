// Package worker provides the bounded pool that executes generation jobs
// read from the intake queue.
package worker

import (
	"errors"
	"time"
)

const (
	// DefaultPoolSize is the number of worker slots when the caller does
	// not choose one. Each slot drives one generation attempt at a time.
	DefaultPoolSize = 4

	// DefaultDrainTimeout bounds how long shutdown waits for in-flight
	// attempts.
	DefaultDrainTimeout = 30 * time.Second

	// DefaultJobTimeout caps a single attempt including in-run retries.
	DefaultJobTimeout = 10 * time.Minute

	// DefaultHealthCheckInterval is how often the health monitor samples
	// the pool.
	DefaultHealthCheckInterval = 30 * time.Second

	// MinPoolSize is the smallest allowed pool.
	MinPoolSize = 1

	// MaxPoolSize caps the pool; each slot can hold an open backend call,
	// so the size bounds concurrent API usage.
	MaxPoolSize = 100
)

// Config holds the pool's sizing and timing knobs.
type Config struct {
	// PoolSize is the number of worker slots.
	PoolSize int

	// DrainTimeout is how long Stop waits for in-flight attempts.
	DrainTimeout time.Duration

	// JobTimeout bounds one attempt end to end.
	JobTimeout time.Duration
}

// DefaultConfig returns a Config with the package defaults.
func DefaultConfig() Config {
	return Config{
		PoolSize:     DefaultPoolSize,
		DrainTimeout: DefaultDrainTimeout,
		JobTimeout:   DefaultJobTimeout,
	}
}

// Validate rejects configs the pool cannot run with.
func (c *Config) Validate() error {
	if c.PoolSize < MinPoolSize {
		return errors.New("pool size must be at least 1")
	}
	if c.PoolSize > MaxPoolSize {
		return errors.New("pool size cannot exceed 100")
	}
	if c.DrainTimeout <= 0 {
		return errors.New("drain timeout must be positive")
	}
	if c.JobTimeout <= 0 {
		return errors.New("job timeout must be positive")
	}
	return nil
}

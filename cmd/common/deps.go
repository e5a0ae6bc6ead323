// Package common wires the dependencies every command shares: configuration,
// logging and the Redis and Postgres clients built from them.
package common

import (
	"errors"

	"github.com/jonesrussell/gogen/internal/config"
	"github.com/jonesrussell/gogen/internal/logger"
)

var (
	// ErrLoggerRequired is returned when CommandDeps.Logger is nil.
	ErrLoggerRequired = errors.New("logger is required")

	// ErrConfigRequired is returned when CommandDeps.Config is nil.
	ErrConfigRequired = errors.New("config is required")
)

// CommandDeps carries what a command needs before it touches any backend.
// Commands receive it from NewCommandDeps instead of digging values out of
// context.
type CommandDeps struct {
	Logger logger.Logger
	Config *config.Config
}

// Validate reports the first missing dependency.
func (d CommandDeps) Validate() error {
	if d.Logger == nil {
		return ErrLoggerRequired
	}
	if d.Config == nil {
		return ErrConfigRequired
	}
	return nil
}

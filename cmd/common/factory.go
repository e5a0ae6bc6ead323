package common

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/jonesrussell/gogen/internal/config"
	"github.com/jonesrussell/gogen/internal/logger"
)

// NewCommandDeps creates CommandDeps by loading config and creating the
// logger. This consolidates the common initialization code for every
// subcommand.
func NewCommandDeps() (CommandDeps, error) {
	path := viper.GetString("config")
	if path == "" {
		path = config.Path("config.yml")
	}

	cfg, err := config.LoadOptional(path, func(c *config.Config) {
		c.SetDefaults()
	})
	if err != nil {
		return CommandDeps{}, fmt.Errorf("load config: %w", err)
	}

	// CLI-level settings win over the file.
	if level := viper.GetString("logger.level"); level != "" {
		cfg.Logging.Level = strings.ToLower(level)
	}
	if viper.GetBool("app.debug") {
		cfg.App.Debug = true
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return CommandDeps{}, fmt.Errorf("validate config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.App.Environment == "development",
	})
	if err != nil {
		return CommandDeps{}, fmt.Errorf("create logger: %w", err)
	}

	deps := CommandDeps{
		Logger: log,
		Config: cfg,
	}

	if validateErr := deps.Validate(); validateErr != nil {
		return CommandDeps{}, fmt.Errorf("validate deps: %w", validateErr)
	}

	return deps, nil
}

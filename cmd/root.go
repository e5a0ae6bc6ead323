// Package cmd implements the command-line interface for gogen.
// It provides the root command and subcommands for running workers and
// managing generation jobs.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jonesrussell/gogen/cmd/breakers"
	"github.com/jonesrussell/gogen/cmd/enqueue"
	"github.com/jonesrussell/gogen/cmd/jobs"
	"github.com/jonesrussell/gogen/cmd/work"
)

// version can be set at build time via -ldflags.
var version = "dev"

var (
	// cfgFile holds the path to the configuration file.
	cfgFile string

	// Debug enables debug logging for all commands.
	Debug bool

	rootCmd = &cobra.Command{
		Use:   "gogen",
		Short: "A queued text generation pipeline",
		Long: `gogen runs generation jobs through a moderated agent pipeline with
per-backend circuit breakers, delayed retries and durable job state.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	// Load .env early so environment variables are available to every
	// subcommand.
	_ = godotenv.Load()

	// Parse flags early so --debug is visible before loggers are created.
	_ = rootCmd.ParseFlags(os.Args[1:])

	if err := initConfig(); err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}

	return rootCmd.ExecuteContext(context.Background())
}

// init initializes the root command and its subcommands.
func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"",
		"config file (default is ./config.yml, or CONFIG_PATH)",
	)
	rootCmd.PersistentFlags().BoolVar(&Debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gogen version %s\n", version)
		},
	})

	rootCmd.AddCommand(work.Command())
	rootCmd.AddCommand(enqueue.Command())
	rootCmd.AddCommand(jobs.Command())
	rootCmd.AddCommand(breakers.Command())
}

// initConfig binds flags and environment variables into Viper. The config
// file itself is read by the config package; Viper carries the CLI-level
// settings that override it.
func initConfig() error {
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.BindPFlag("app.debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("failed to bind debug flag: %w", err)
	}
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		return fmt.Errorf("failed to bind config flag: %w", err)
	}

	if err := viper.BindEnv("app.debug", "APP_DEBUG"); err != nil {
		return fmt.Errorf("failed to bind APP_DEBUG: %w", err)
	}
	if err := viper.BindEnv("logger.level", "LOG_LEVEL"); err != nil {
		return fmt.Errorf("failed to bind LOG_LEVEL: %w", err)
	}

	// Synchronize the global Debug variable with Viper's view, which may
	// have been set through APP_DEBUG rather than the flag.
	Debug = Debug || viper.GetBool("app.debug")
	if Debug {
		viper.Set("logger.level", "debug")
	}

	return nil
}

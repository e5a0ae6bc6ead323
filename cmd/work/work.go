// Package work implements the worker daemon command. It consumes generation
// jobs from the intake stream and drives them through the agent pipeline.
package work

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/gogen/cmd/common"
)

// startupTimeout bounds schema migration and consumer group creation.
const startupTimeout = 30 * time.Second

// Command returns the work command for use in the root command.
func Command() *cobra.Command {
	var consumerID string

	cmd := &cobra.Command{
		Use:   "work",
		Short: "Run the generation worker",
		Long: `Run the worker daemon. Workers read queued jobs from the intake stream,
moderate and route each prompt through the agent graph, persist every outcome
and schedule delayed retries for recoverable failures.

An operational HTTP endpoint serves Prometheus metrics, worker health and
circuit breaker state.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := common.NewCommandDeps()
			if err != nil {
				return fmt.Errorf("failed to initialize dependencies: %w", err)
			}

			if consumerID == "" {
				consumerID = defaultConsumerID()
			}

			startupCtx, cancel := context.WithTimeout(cmd.Context(), startupTimeout)
			app, err := newApplication(startupCtx, deps, consumerID)
			cancel()
			if err != nil {
				return fmt.Errorf("failed to initialize worker: %w", err)
			}
			defer app.Close()

			return app.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&consumerID, "consumer-id", "",
		"Consumer identifier within the group (defaults to hostname and pid)")

	return cmd
}

// defaultConsumerID derives a consumer name unique to this process so two
// workers on one host do not collide in the consumer group.
func defaultConsumerID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "gogen-worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

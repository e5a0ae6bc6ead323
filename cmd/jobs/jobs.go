// Package jobs implements commands for inspecting persisted jobs.
package jobs

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/gogen/cmd/common"
	"github.com/jonesrussell/gogen/internal/cache"
	"github.com/jonesrussell/gogen/internal/database"
	"github.com/jonesrussell/gogen/internal/domain"
	"github.com/jonesrussell/gogen/internal/logger"
)

const (
	queryTimeout = 30 * time.Second

	// promptColumnWidth bounds the prompt column in listings.
	promptColumnWidth = 48
)

// Command returns the jobs command group.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect persisted jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(statusCommand(), listCommand())
	return cmd
}

// statusCommand reports one job in detail. It tries the Redis status cache
// first and falls back to the durable store, so recently touched jobs answer
// without a database round trip.
func statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the current state of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := args[0]

			deps, err := common.NewCommandDeps()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), queryTimeout)
			defer cancel()

			var job *domain.Job

			// The cache is an optimization. If Redis is unreachable the
			// durable store still answers.
			redisClient, redisErr := common.NewRedisClient(ctx, deps.Config)
			if redisErr != nil {
				deps.Logger.Warn("status cache unavailable", logger.Error(redisErr))
			} else {
				defer func() { _ = redisClient.Close() }()

				statusCache := cache.NewStatusCache(
					redisClient,
					deps.Config.Queue.StreamPrefix,
					deps.Config.Cache.TTL,
					deps.Logger,
				)
				if cached, ok := statusCache.Get(ctx, jobID); ok {
					job = cached
				}
			}

			if job == nil {
				db, dbErr := common.NewDatabase(ctx, deps.Config)
				if dbErr != nil {
					return dbErr
				}
				defer func() { _ = database.Close(db) }()

				job, err = database.NewJobRepository(db.DB).Load(ctx, jobID)
				if err != nil {
					return err
				}
			}

			printJob(cmd, job)
			return nil
		},
	}
}

func printJob(cmd *cobra.Command, job *domain.Job) {
	cmd.Printf("ID:          %s\n", job.ID)
	cmd.Printf("Status:      %s\n", job.Status)
	cmd.Printf("Retries:     %d/%d\n", job.RetryCount, job.MaxRetries)
	if job.NextRetryAt != nil {
		cmd.Printf("Next retry:  %s\n", job.NextRetryAt.Format(time.RFC3339))
	}
	cmd.Printf("Created:     %s\n", job.CreatedAt.Format(time.RFC3339))
	cmd.Printf("Updated:     %s\n", job.UpdatedAt.Format(time.RFC3339))
	if job.ConfigName != "" {
		cmd.Printf("Config:      %s\n", job.ConfigName)
	}
	if job.TemplateName != "" {
		cmd.Printf("Template:    %s\n", job.TemplateName)
	}
	cmd.Printf("Prompt:      %s\n", job.Prompt)
	if job.Error != "" {
		cmd.Printf("Error:       %s\n", job.Error)
	}
	if job.Result != "" {
		cmd.Printf("\n%s\n", job.Result)
	}
}

// listCommand renders the most recent jobs as a table, newest first.
func listCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := common.NewCommandDeps()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), queryTimeout)
			defer cancel()

			db, err := common.NewDatabase(ctx, deps.Config)
			if err != nil {
				return err
			}
			defer func() { _ = database.Close(db) }()

			jobs, err := database.NewJobRepository(db.DB).List(ctx, limit)
			if err != nil {
				return err
			}

			if len(jobs) == 0 {
				cmd.Println("No jobs found.")
				return nil
			}

			renderJobTable(jobs)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of jobs to list")
	return cmd
}

func renderJobTable(jobs []*domain.Job) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)

	t.AppendHeader(table.Row{"ID", "Status", "Retries", "Prompt", "Updated"})

	for _, job := range jobs {
		t.AppendRow(table.Row{
			job.ID,
			job.Status,
			fmt.Sprintf("%d/%d", job.RetryCount, job.MaxRetries),
			snippet(job.Prompt, promptColumnWidth),
			job.UpdatedAt.Format(time.RFC3339),
		})
	}

	t.Render()
}

// snippet flattens newlines and truncates to max runes for table cells.
func snippet(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}

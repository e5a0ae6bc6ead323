// Package enqueue implements the job submission command. It persists a new
// job, places it on the intake stream and prints the job id.
package enqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/gogen/cmd/common"
	"github.com/jonesrussell/gogen/internal/database"
	"github.com/jonesrussell/gogen/internal/domain"
	"github.com/jonesrussell/gogen/internal/events"
	"github.com/jonesrussell/gogen/internal/logger"
	"github.com/jonesrussell/gogen/internal/queue"
)

const enqueueTimeout = 30 * time.Second

// Command returns the enqueue command.
func Command() *cobra.Command {
	var (
		prompt         string
		configName     string
		templateName   string
		maxRetries     int
		followup       bool
		previousTopic  string
		skipModeration bool
	)

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Submit a generation job",
		Long: `Submit a generation job. The job is persisted first, then placed on the
intake stream for the next available worker. On success the job id is
printed on stdout.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(prompt) == "" {
				return errors.New("prompt cannot be empty")
			}

			deps, err := common.NewCommandDeps()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), enqueueTimeout)
			defer cancel()

			redisClient, err := common.NewRedisClient(ctx, deps.Config)
			if err != nil {
				return err
			}
			defer func() { _ = redisClient.Close() }()

			db, err := common.NewDatabase(ctx, deps.Config)
			if err != nil {
				return err
			}
			defer func() { _ = database.Close(db) }()

			repo := database.NewJobRepository(db.DB)
			if err := repo.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("ensure schema: %w", err)
			}

			streams := queue.NewStreamsClientFromRedis(redisClient, deps.Config.Queue.StreamPrefix)
			producer := queue.NewProducer(streams, queue.ProducerConfig{
				MaxStreamLen: deps.Config.Queue.MaxStreamLen,
			})
			var publisher events.Publisher = events.NewRedisPublisher(redisClient, deps.Config.Events.Stream, deps.Logger)
			if deps.Config.Events.Disabled {
				publisher = events.NewNopPublisher(deps.Logger)
			}

			job := domain.NewJob(prompt, configName, templateName, maxRetries)

			// Persist before enqueueing so no delivery ever refers to a
			// job the store has not seen.
			if err := repo.Save(ctx, job); err != nil {
				return fmt.Errorf("save job: %w", err)
			}

			req := queue.NewJobRequest(job)
			req.IsFollowup = followup
			req.PreviousTopic = previousTopic
			req.SkipModeration = skipModeration

			if _, err := producer.Enqueue(ctx, req); err != nil {
				return fmt.Errorf("enqueue job %s: %w", job.ID, err)
			}

			for _, event := range job.PullEvents() {
				if err := publisher.Publish(ctx, event); err != nil {
					deps.Logger.Warn("failed to publish job event",
						logger.String("job_id", job.ID),
						logger.String("event_type", string(event.Type)),
						logger.Error(err),
					)
				}
			}

			cmd.Println(job.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "prompt text for the job")
	cmd.Flags().StringVar(&configName, "config-name", "", "model configuration to generate with")
	cmd.Flags().StringVar(&templateName, "template", "", "agent template to generate with")
	cmd.Flags().IntVar(&maxRetries, "max-retries", domain.DefaultMaxRetries, "how many retries the job is allowed")
	cmd.Flags().BoolVar(&followup, "followup", false, "route to the followup agent")
	cmd.Flags().StringVar(&previousTopic, "previous-topic", "", "topic of the previous generation, for followups")
	cmd.Flags().BoolVar(&skipModeration, "skip-moderation", false, "bypass the moderation gate")

	_ = cmd.MarkFlagRequired("prompt")

	return cmd
}

// Package scheduler places retrying jobs back on the intake stream once
// their backoff delay has elapsed. Scheduling is a pure queue operation:
// the durable RETRYING -> QUEUED transition happens in the processor when
// the redelivered message is picked up.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/jonesrussell/gogen/internal/domain"
	gerrors "github.com/jonesrussell/gogen/internal/errors"
	"github.com/jonesrussell/gogen/internal/logger"
	"github.com/jonesrussell/gogen/internal/queue"
)

// Scheduler registers jobs for delayed redelivery after a recoverable
// failure. The payload is rebuilt from the job so the redelivered request
// carries the updated retry count and failure reason; per-submission
// routing hints are copied from the request being retried because they are
// not persisted on the job.
type Scheduler struct {
	delayed *queue.Delayed
	logger  logger.Logger
}

// NewScheduler creates a scheduler backed by the delayed queue.
func NewScheduler(delayed *queue.Delayed, log logger.Logger) *Scheduler {
	return &Scheduler{
		delayed: delayed,
		logger:  log,
	}
}

// Schedule queues the job for redelivery no earlier than now+delay. The
// job must already be in RETRYING with its retry metadata recorded.
func (s *Scheduler) Schedule(ctx context.Context, job *domain.Job, req *queue.JobRequest, delay time.Duration) error {
	if job == nil {
		return errors.New("cannot schedule a nil job")
	}

	now := time.Now().UTC()
	payload := &queue.JobRequest{
		JobID:            job.ID,
		Prompt:           job.Prompt,
		ConfigName:       job.ConfigName,
		TemplateName:     job.TemplateName,
		RetryCount:       job.RetryCount,
		PreviousError:    job.Error,
		RetryScheduledAt: &now,
	}
	if req != nil {
		payload.IsFollowup = req.IsFollowup
		payload.PreviousTopic = req.PreviousTopic
		payload.SkipModeration = req.SkipModeration
	}

	if err := s.delayed.Schedule(ctx, payload, delay); err != nil {
		return gerrors.WrapWithContextf(err, "schedule retry for job %s", job.ID)
	}

	s.logger.Info("scheduled job retry",
		logger.String("job_id", job.ID),
		logger.Int("retry_count", job.RetryCount),
		logger.Duration("delay", delay),
	)
	return nil
}

// Package processor orchestrates one generation job end to end: load the
// durable job, advance its state machine, run the agent routing graph and
// persist plus publish every outcome.
package processor

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jonesrussell/gogen/internal/agent"
	"github.com/jonesrussell/gogen/internal/configstore"
	"github.com/jonesrussell/gogen/internal/domain"
	gerrors "github.com/jonesrussell/gogen/internal/errors"
	"github.com/jonesrussell/gogen/internal/events"
	"github.com/jonesrussell/gogen/internal/llm"
	"github.com/jonesrussell/gogen/internal/logger"
	"github.com/jonesrussell/gogen/internal/metrics"
	"github.com/jonesrussell/gogen/internal/queue"
	"github.com/jonesrussell/gogen/internal/retry"
)

const (
	defaultBaseRetryDelay = 5 * time.Second
	defaultMaxRetryDelay  = 5 * time.Minute
)

// JobStore persists job state transitions.
type JobStore interface {
	Load(ctx context.Context, id string) (*domain.Job, error)
	Save(ctx context.Context, job *domain.Job) error
}

// StatusCache mirrors job state for cheap status reads. Mirroring is best
// effort and never fails the attempt.
type StatusCache interface {
	Set(ctx context.Context, job *domain.Job)
}

// RetryScheduler queues a retrying job for delayed redelivery.
type RetryScheduler interface {
	Schedule(ctx context.Context, job *domain.Job, req *queue.JobRequest, delay time.Duration) error
}

// AgentRunner executes the routing graph for one attempt.
type AgentRunner interface {
	Run(ctx context.Context, profile agent.Profile, input agent.RunInput) (agent.Result, error)
}

// Deps are the collaborators a Processor is wired with. Metrics may be nil.
type Deps struct {
	Store     JobStore
	Cache     StatusCache
	Scheduler RetryScheduler
	Publisher events.Publisher
	Runner    AgentRunner
	Configs   *configstore.Store
	Metrics   *metrics.Provider
	Logger    logger.Logger
}

// Config tunes the job-level retry backoff.
type Config struct {
	// BaseRetryDelay is the delay before the first job-level retry; each
	// further retry doubles it. Defaults to 5s.
	BaseRetryDelay time.Duration
	// MaxRetryDelay caps the job-level backoff. Defaults to 5m.
	MaxRetryDelay time.Duration
}

// Processor runs one job attempt per queue delivery.
type Processor struct {
	store     JobStore
	cache     StatusCache
	scheduler RetryScheduler
	publisher events.Publisher
	runner    AgentRunner
	configs   *configstore.Store
	metrics   *metrics.Provider
	logger    logger.Logger

	retryPolicy retry.Config
	tracer      trace.Tracer
}

// New creates a processor from its collaborators.
func New(deps Deps, cfg Config) *Processor {
	base := cfg.BaseRetryDelay
	if base <= 0 {
		base = defaultBaseRetryDelay
	}
	maxDelay := cfg.MaxRetryDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxRetryDelay
	}

	return &Processor{
		store:     deps.Store,
		cache:     deps.Cache,
		scheduler: deps.Scheduler,
		publisher: deps.Publisher,
		runner:    deps.Runner,
		configs:   deps.Configs,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		retryPolicy: retry.Config{
			InitialDelay: base,
			MaxDelay:     maxDelay,
			Multiplier:   2.0,
		},
		tracer: otel.Tracer("gogen/processor"),
	}
}

// Process runs one delivery to a terminal outcome for this attempt:
// COMPLETED, RETRYING with a scheduled redelivery, or FAILED. A nil return
// means the delivery is finished and must be acknowledged; an error means
// the attempt could not conclude (infrastructure failure or shutdown) and
// the delivery should stay pending for the reclaim pass.
func (p *Processor) Process(ctx context.Context, msg *queue.Message) error {
	req := msg.Request
	start := time.Now()

	ctx, span := p.tracer.Start(ctx, "processor.process_job", trace.WithAttributes(
		attribute.String("job.id", req.JobID),
		attribute.Int("job.delivery_retry_count", msg.RetryCount),
		attribute.Bool("job.reclaimed", msg.Reclaimed),
	))
	defer span.End()

	job, err := p.store.Load(ctx, req.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			p.logger.Warn("dropping delivery for unknown job", logger.String("job_id", req.JobID))
			span.SetAttributes(attribute.String("job.outcome", "dropped"))
			p.metrics.RecordJobOutcome("dropped", time.Since(start))
			return nil
		}
		return gerrors.WrapWithContextf(err, "load job %s", req.JobID)
	}

	if err := p.claimJob(ctx, job, msg); err != nil {
		if errors.Is(err, errDuplicateDelivery) {
			span.SetAttributes(attribute.String("job.outcome", "duplicate"))
			p.metrics.RecordJobOutcome("duplicate", time.Since(start))
			return nil
		}
		return err
	}
	p.cache.Set(ctx, job)

	result, runErr := p.runAgents(ctx, job, req)
	if runErr != nil {
		span.RecordError(runErr)
		return p.concludeFailure(ctx, span, start, job, req, runErr)
	}

	if err := job.Complete(result.Text); err != nil {
		return gerrors.WrapWithContextf(err, "complete job %s", job.ID)
	}
	if err := p.store.Save(ctx, job); err != nil {
		return gerrors.WrapWithContextf(err, "persist completion of job %s", job.ID)
	}
	p.cache.Set(ctx, job)
	p.publishEvents(ctx, job)

	span.SetAttributes(
		attribute.String("job.outcome", "completed"),
		attribute.String("job.agent", string(result.Agent)),
	)
	p.metrics.RecordJobOutcome("completed", time.Since(start))
	p.metrics.RecordAgentRun(string(result.Agent), result.Tokens)
	p.logger.Info("job completed",
		logger.String("job_id", job.ID),
		logger.String("agent", string(result.Agent)),
		logger.Int64("tokens", result.Tokens),
	)
	return nil
}

var errDuplicateDelivery = errors.New("duplicate delivery")

// claimJob moves the job into PROCESSING and persists the transition.
// Delayed redeliveries arrive in RETRYING and are requeued first. A
// reclaimed delivery of a job already in PROCESSING resumes the attempt a
// dead worker abandoned; any other repeated delivery is a duplicate.
func (p *Processor) claimJob(ctx context.Context, job *domain.Job, msg *queue.Message) error {
	if job.Status == domain.StatusRetrying {
		if err := job.Requeue(); err != nil {
			return gerrors.WrapWithContextf(err, "requeue job %s", job.ID)
		}
		if err := p.store.Save(ctx, job); err != nil {
			return gerrors.WrapWithContextf(err, "persist requeue of job %s", job.ID)
		}
	}

	if job.Status == domain.StatusProcessing && msg.Reclaimed {
		p.logger.Warn("resuming reclaimed attempt", logger.String("job_id", job.ID))
		return nil
	}

	if err := job.MarkProcessing(); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			p.logger.Warn("dropping duplicate delivery",
				logger.String("job_id", job.ID),
				logger.String("status", string(job.Status)),
			)
			return errDuplicateDelivery
		}
		return err
	}
	if err := p.store.Save(ctx, job); err != nil {
		return gerrors.WrapWithContextf(err, "persist processing transition of job %s", job.ID)
	}
	return nil
}

// runAgents resolves the job's configuration into an agent profile and
// runs the graph.
func (p *Processor) runAgents(ctx context.Context, job *domain.Job, req *queue.JobRequest) (agent.Result, error) {
	profile, err := p.buildProfile(job)
	if err != nil {
		return agent.Result{}, err
	}

	input := agent.RunInput{Prompt: job.Prompt}
	if req != nil {
		input.IsFollowup = req.IsFollowup
		input.PreviousTopic = req.PreviousTopic
		input.SkipModeration = req.SkipModeration
	}

	return p.runner.Run(ctx, profile, input)
}

// concludeFailure persists the failed attempt as either a scheduled retry
// or a terminal failure.
func (p *Processor) concludeFailure(ctx context.Context, span trace.Span, start time.Time, job *domain.Job, req *queue.JobRequest, runErr error) error {
	if ctx.Err() != nil {
		// Shutdown interrupted the attempt. Leave the delivery pending so
		// the reclaim pass resumes it instead of burning a retry.
		return runErr
	}

	if nonRetryable(runErr) || !job.CanRetry() {
		return p.failJob(ctx, span, start, job, runErr)
	}

	delay := retry.Delay(p.retryPolicy, job.RetryCount+1)
	if err := job.MarkForRetry(delay, runErr.Error()); err != nil {
		if errors.Is(err, domain.ErrRetryExhausted) {
			return p.failJob(ctx, span, start, job, runErr)
		}
		return gerrors.WrapWithContextf(err, "mark job %s for retry", job.ID)
	}
	if err := p.store.Save(ctx, job); err != nil {
		return gerrors.WrapWithContextf(err, "persist retry transition of job %s", job.ID)
	}
	p.cache.Set(ctx, job)

	if err := p.scheduler.Schedule(ctx, job, req, delay); err != nil {
		// The RETRYING transition is durable; if scheduling failed the
		// unacknowledged delivery is reclaimed and requeued later.
		return gerrors.WrapWithContextf(err, "schedule retry of job %s", job.ID)
	}
	p.publishEvents(ctx, job)

	span.SetAttributes(
		attribute.String("job.outcome", "retrying"),
		attribute.Int("job.retry_count", job.RetryCount),
	)
	p.metrics.RecordJobOutcome("retrying", time.Since(start))
	p.metrics.RecordRetryScheduled(delay)
	p.logger.Warn("job scheduled for retry",
		logger.String("job_id", job.ID),
		logger.Int("retry_count", job.RetryCount),
		logger.Int("max_retries", job.MaxRetries),
		logger.Duration("delay", delay),
		logger.Error(runErr),
	)
	return nil
}

func (p *Processor) failJob(ctx context.Context, span trace.Span, start time.Time, job *domain.Job, cause error) error {
	if err := job.Fail(cause.Error()); err != nil {
		return gerrors.WrapWithContextf(err, "fail job %s", job.ID)
	}
	if err := p.store.Save(ctx, job); err != nil {
		return gerrors.WrapWithContextf(err, "persist failure of job %s", job.ID)
	}
	p.cache.Set(ctx, job)
	p.publishEvents(ctx, job)

	span.SetAttributes(attribute.String("job.outcome", "failed"))
	p.metrics.RecordJobOutcome("failed", time.Since(start))
	p.logger.Error("job failed",
		logger.String("job_id", job.ID),
		logger.Int("retry_count", job.RetryCount),
		logger.Error(cause),
	)
	return nil
}

// publishEvents drains the job's recorded lifecycle events. Publishing is
// best effort; a lost event never affects the state machine.
func (p *Processor) publishEvents(ctx context.Context, job *domain.Job) {
	for _, event := range job.PullEvents() {
		if err := p.publisher.Publish(ctx, event); err != nil {
			p.logger.Warn("failed to publish job event",
				logger.String("job_id", job.ID),
				logger.String("event_type", string(event.Type)),
				logger.Error(err),
			)
		}
	}
}

// nonRetryableFragments flag failures that more attempts cannot fix, such
// as auth problems or requests the provider refuses outright.
var nonRetryableFragments = []string{
	"content policy",
	"policy violation",
	"invalid request",
	"invalid api key",
	"authentication",
	"unauthorized",
	"quota exceeded",
	"rate limit",
}

func nonRetryable(err error) bool {
	if errors.Is(err, configstore.ErrConfigNotFound) {
		return true
	}

	var backendErr *llm.Error
	if errors.As(err, &backendErr) && !backendErr.Retryable() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range nonRetryableFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

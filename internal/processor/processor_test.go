package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/gogen/internal/agent"
	"github.com/jonesrussell/gogen/internal/circuitbreaker"
	"github.com/jonesrussell/gogen/internal/configstore"
	"github.com/jonesrussell/gogen/internal/domain"
	"github.com/jonesrussell/gogen/internal/events"
	"github.com/jonesrussell/gogen/internal/llm"
	"github.com/jonesrussell/gogen/internal/logger"
	"github.com/jonesrussell/gogen/internal/metrics"
	"github.com/jonesrussell/gogen/internal/queue"
	"github.com/jonesrussell/gogen/internal/timeout"
)

type fakeStore struct {
	mu      sync.Mutex
	jobs    map[string]*domain.Job
	saved   []domain.Status
	saveErr error
	loadErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[string]*domain.Job)}
}

// seed stores a job as if it had been persisted and its events published.
func (s *fakeStore) seed(job *domain.Job) {
	stored := *job
	stored.PullEvents()
	s.jobs[job.ID] = &stored
}

func (s *fakeStore) Load(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	out := *job
	return &out, nil
}

func (s *fakeStore) Save(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, job.Status)
	stored := *job
	stored.PullEvents()
	s.jobs[job.ID] = &stored
	return nil
}

func (s *fakeStore) current(t *testing.T, id string) *domain.Job {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	require.True(t, ok, "job %s not in store", id)
	out := *job
	return &out
}

type fakeCache struct {
	mu       sync.Mutex
	statuses []domain.Status
}

func (c *fakeCache) Set(_ context.Context, job *domain.Job) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, job.Status)
}

type scheduledRetry struct {
	jobID      string
	retryCount int
	delay      time.Duration
	req        *queue.JobRequest
}

type fakeScheduler struct {
	mu        sync.Mutex
	scheduled []scheduledRetry
	err       error
}

func (f *fakeScheduler) Schedule(_ context.Context, job *domain.Job, req *queue.JobRequest, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.scheduled = append(f.scheduled, scheduledRetry{
		jobID:      job.ID,
		retryCount: job.RetryCount,
		delay:      delay,
		req:        req,
	})
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, event domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakePublisher) types() []domain.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.EventType, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

var _ events.Publisher = (*fakePublisher)(nil)

type runnerOutcome struct {
	result agent.Result
	err    error
}

type fakeRunner struct {
	mu          sync.Mutex
	calls       int
	script      []runnerOutcome
	lastInput   agent.RunInput
	lastProfile agent.Profile
}

// Run replays the script in order; the last outcome repeats.
func (r *fakeRunner) Run(_ context.Context, profile agent.Profile, input agent.RunInput) (agent.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.lastProfile = profile
	r.lastInput = input

	if len(r.script) == 0 {
		return agent.Result{}, errors.New("fake runner has no script")
	}
	idx := r.calls - 1
	if idx >= len(r.script) {
		idx = len(r.script) - 1
	}
	return r.script[idx].result, r.script[idx].err
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fixture struct {
	store     *fakeStore
	cache     *fakeCache
	scheduler *fakeScheduler
	publisher *fakePublisher
	runner    *fakeRunner
	metrics   *metrics.Provider
	processor *Processor
}

func newFixture(script ...runnerOutcome) *fixture {
	f := &fixture{
		store:     newFakeStore(),
		cache:     &fakeCache{},
		scheduler: &fakeScheduler{},
		publisher: &fakePublisher{},
		runner:    &fakeRunner{script: script},
		metrics:   metrics.NewProviderWith(prometheus.NewRegistry()),
	}
	f.processor = New(Deps{
		Store:     f.store,
		Cache:     f.cache,
		Scheduler: f.scheduler,
		Publisher: f.publisher,
		Runner:    f.runner,
		Configs:   configstore.Default(),
		Metrics:   f.metrics,
		Logger:    logger.NewNop(),
	}, Config{})
	return f
}

func succeed(text string, agentType agent.Type) runnerOutcome {
	return runnerOutcome{result: agent.Result{Text: text, Tokens: 42, Agent: agentType}}
}

func failWith(err error) runnerOutcome {
	return runnerOutcome{err: err}
}

func newQueuedJob() *domain.Job {
	return domain.NewJob("Explain goroutines.", configstore.DefaultModel, "", domain.DefaultMaxRetries)
}

func delivery(job *domain.Job) *queue.Message {
	return &queue.Message{
		ID:         "m-1",
		Request:    queue.NewJobRequest(job),
		RetryCount: job.RetryCount,
	}
}

func TestProcess_CompletesJob(t *testing.T) {
	f := newFixture(succeed("Here is your answer.", agent.TypeMain))
	job := newQueuedJob()
	f.store.seed(job)

	err := f.processor.Process(context.Background(), delivery(job))
	require.NoError(t, err)

	stored := f.store.current(t, job.ID)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.Equal(t, "Here is your answer.", stored.Result)
	assert.Empty(t, stored.Error)

	assert.Equal(t, []domain.Status{domain.StatusProcessing, domain.StatusCompleted}, f.store.saved)
	assert.Equal(t, []domain.Status{domain.StatusProcessing, domain.StatusCompleted}, f.cache.statuses)
	assert.Equal(t, []domain.EventType{domain.EventJobCompleted}, f.publisher.types())
	assert.Empty(t, f.scheduler.scheduled)
}

func TestProcess_UnknownJobIsDropped(t *testing.T) {
	f := newFixture(succeed("unused", agent.TypeMain))

	msg := &queue.Message{ID: "m-1", Request: &queue.JobRequest{JobID: "no-such-job"}}
	err := f.processor.Process(context.Background(), msg)
	require.NoError(t, err)

	assert.Zero(t, f.runner.callCount())
	assert.Empty(t, f.store.saved)
	assert.Empty(t, f.publisher.types())
}

func TestProcess_DuplicateDeliveryIsDropped(t *testing.T) {
	f := newFixture(succeed("unused", agent.TypeMain))
	job := newQueuedJob()
	require.NoError(t, job.MarkProcessing())
	require.NoError(t, job.Complete("done earlier"))
	f.store.seed(job)

	err := f.processor.Process(context.Background(), delivery(job))
	require.NoError(t, err)

	assert.Zero(t, f.runner.callCount())
	assert.Empty(t, f.store.saved)
	stored := f.store.current(t, job.ID)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
}

func TestProcess_FreshDeliveryOfInFlightJobIsDropped(t *testing.T) {
	f := newFixture(succeed("unused", agent.TypeMain))
	job := newQueuedJob()
	require.NoError(t, job.MarkProcessing())
	f.store.seed(job)

	// Not reclaimed: another worker still owns the attempt.
	err := f.processor.Process(context.Background(), delivery(job))
	require.NoError(t, err)

	assert.Zero(t, f.runner.callCount())
	assert.Empty(t, f.store.saved)
}

func TestProcess_ReclaimedDeliveryResumesAbandonedAttempt(t *testing.T) {
	f := newFixture(succeed("recovered answer", agent.TypeMain))
	job := newQueuedJob()
	require.NoError(t, job.MarkProcessing())
	f.store.seed(job)

	msg := delivery(job)
	msg.Reclaimed = true
	err := f.processor.Process(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, 1, f.runner.callCount())
	stored := f.store.current(t, job.ID)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.Equal(t, "recovered answer", stored.Result)
	// No second PROCESSING save: the abandoned transition already happened.
	assert.Equal(t, []domain.Status{domain.StatusCompleted}, f.store.saved)
}

func TestProcess_RecoverableFailureSchedulesRetry(t *testing.T) {
	f := newFixture(failWith(&timeout.Error{Operation: "main agent", Timeout: 30 * time.Second}))
	job := newQueuedJob()
	f.store.seed(job)

	err := f.processor.Process(context.Background(), delivery(job))
	require.NoError(t, err)

	stored := f.store.current(t, job.ID)
	assert.Equal(t, domain.StatusRetrying, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	assert.Contains(t, stored.Error, "timed out")
	require.NotNil(t, stored.NextRetryAt)

	require.Len(t, f.scheduler.scheduled, 1)
	assert.Equal(t, job.ID, f.scheduler.scheduled[0].jobID)
	assert.Equal(t, 5*time.Second, f.scheduler.scheduled[0].delay)
	assert.Equal(t, []domain.EventType{domain.EventJobRetrying}, f.publisher.types())
}

func TestProcess_RedeliveredRetryRequeuesAndDoublesDelay(t *testing.T) {
	f := newFixture(failWith(&timeout.Error{Operation: "main agent", Timeout: time.Second}))
	job := newQueuedJob()
	require.NoError(t, job.MarkProcessing())
	require.NoError(t, job.MarkForRetry(5*time.Second, "backend timed out"))
	f.store.seed(job)

	err := f.processor.Process(context.Background(), delivery(job))
	require.NoError(t, err)

	stored := f.store.current(t, job.ID)
	assert.Equal(t, domain.StatusRetrying, stored.Status)
	assert.Equal(t, 2, stored.RetryCount)

	// RETRYING -> QUEUED -> PROCESSING -> RETRYING, each persisted.
	assert.Equal(t, []domain.Status{
		domain.StatusQueued,
		domain.StatusProcessing,
		domain.StatusRetrying,
	}, f.store.saved)

	require.Len(t, f.scheduler.scheduled, 1)
	assert.Equal(t, 10*time.Second, f.scheduler.scheduled[0].delay)
}

func TestProcess_ExhaustedRetriesFailJob(t *testing.T) {
	f := newFixture(failWith(&timeout.Error{Operation: "main agent", Timeout: time.Second}))
	job := newQueuedJob() // MaxRetries 2
	f.store.seed(job)

	// Three failing attempts: two consume the retry budget, the third
	// fails terminally.
	for i := 0; i < 3; i++ {
		current := f.store.current(t, job.ID)
		err := f.processor.Process(context.Background(), delivery(current))
		require.NoError(t, err, "attempt %d", i+1)
	}

	stored := f.store.current(t, job.ID)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Equal(t, 2, stored.RetryCount)
	assert.Contains(t, stored.Error, "timed out")

	require.Len(t, f.scheduler.scheduled, 2)
	assert.Equal(t, 5*time.Second, f.scheduler.scheduled[0].delay)
	assert.Equal(t, 10*time.Second, f.scheduler.scheduled[1].delay)
	assert.Equal(t, []domain.EventType{
		domain.EventJobRetrying,
		domain.EventJobRetrying,
		domain.EventJobFailed,
	}, f.publisher.types())
}

func TestProcess_NonRetryableBackendErrorFailsImmediately(t *testing.T) {
	f := newFixture(failWith(&llm.Error{
		Backend:    "anthropic",
		StatusCode: 401,
		Err:        errors.New("invalid x-api-key"),
	}))
	job := newQueuedJob()
	f.store.seed(job)

	err := f.processor.Process(context.Background(), delivery(job))
	require.NoError(t, err)

	stored := f.store.current(t, job.ID)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Zero(t, stored.RetryCount)
	assert.Empty(t, f.scheduler.scheduled)
	assert.Equal(t, []domain.EventType{domain.EventJobFailed}, f.publisher.types())
}

func TestProcess_PolicyErrorTextFailsImmediately(t *testing.T) {
	f := newFixture(failWith(errors.New("request rejected: content policy violation")))
	job := newQueuedJob()
	f.store.seed(job)

	err := f.processor.Process(context.Background(), delivery(job))
	require.NoError(t, err)

	stored := f.store.current(t, job.ID)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Zero(t, stored.RetryCount)
	assert.Empty(t, f.scheduler.scheduled)
}

func TestProcess_UnknownConfigFailsJob(t *testing.T) {
	f := newFixture(succeed("unused", agent.TypeMain))
	job := domain.NewJob("Explain goroutines.", "no-such-model", "", domain.DefaultMaxRetries)
	f.store.seed(job)

	err := f.processor.Process(context.Background(), delivery(job))
	require.NoError(t, err)

	assert.Zero(t, f.runner.callCount())
	stored := f.store.current(t, job.ID)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "configuration not found")
	assert.Empty(t, f.scheduler.scheduled)
}

func TestProcess_OpenBreakerConsumesJobRetry(t *testing.T) {
	f := newFixture(failWith(fmt.Errorf("agent pipeline failed: %w", circuitbreaker.ErrCircuitOpen)))
	job := newQueuedJob()
	f.store.seed(job)

	err := f.processor.Process(context.Background(), delivery(job))
	require.NoError(t, err)

	stored := f.store.current(t, job.ID)
	assert.Equal(t, domain.StatusRetrying, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	require.Len(t, f.scheduler.scheduled, 1)
}

func TestProcess_RoutingHintsReachTheRunner(t *testing.T) {
	f := newFixture(succeed("followup answer", agent.TypeFollowup))
	job := newQueuedJob()
	f.store.seed(job)

	msg := delivery(job)
	msg.Request.IsFollowup = true
	msg.Request.PreviousTopic = "goroutines"
	msg.Request.SkipModeration = true

	err := f.processor.Process(context.Background(), msg)
	require.NoError(t, err)

	assert.True(t, f.runner.lastInput.IsFollowup)
	assert.Equal(t, "goroutines", f.runner.lastInput.PreviousTopic)
	assert.True(t, f.runner.lastInput.SkipModeration)
	assert.Equal(t, job.Prompt, f.runner.lastInput.Prompt)
}

func TestProcess_SaveFailureLeavesDeliveryPending(t *testing.T) {
	f := newFixture(succeed("unused", agent.TypeMain))
	job := newQueuedJob()
	f.store.seed(job)
	f.store.saveErr = errors.New("connection refused")

	err := f.processor.Process(context.Background(), delivery(job))
	require.Error(t, err)
	assert.Empty(t, f.publisher.types())
}

func TestProcess_ScheduleFailureLeavesDeliveryPending(t *testing.T) {
	f := newFixture(failWith(&timeout.Error{Operation: "main agent", Timeout: time.Second}))
	job := newQueuedJob()
	f.store.seed(job)
	f.scheduler.err = errors.New("connection refused")

	err := f.processor.Process(context.Background(), delivery(job))
	require.Error(t, err)

	// The RETRYING transition is durable even though scheduling failed.
	stored := f.store.current(t, job.ID)
	assert.Equal(t, domain.StatusRetrying, stored.Status)
	assert.Empty(t, f.publisher.types())
}

func TestProcess_PublishFailureDoesNotFailAttempt(t *testing.T) {
	f := newFixture(succeed("Here is your answer.", agent.TypeMain))
	job := newQueuedJob()
	f.store.seed(job)
	f.publisher.err = errors.New("stream unavailable")

	err := f.processor.Process(context.Background(), delivery(job))
	require.NoError(t, err)

	stored := f.store.current(t, job.ID)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
}

func TestProcess_CancelledContextLeavesDeliveryPending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	f := newFixture(runnerOutcome{err: context.Canceled})
	job := newQueuedJob()
	f.store.seed(job)

	// Cancel before the run result is handled; the fake runner returns the
	// cancellation error the real graph would surface.
	cancel()
	err := f.processor.Process(ctx, delivery(job))
	require.Error(t, err)

	// No retry burned and no terminal state: the job stays PROCESSING for
	// the reclaim pass.
	stored := f.store.current(t, job.ID)
	assert.Equal(t, domain.StatusProcessing, stored.Status)
	assert.Zero(t, stored.RetryCount)
	assert.Empty(t, f.scheduler.scheduled)
}

func TestProcess_RecordsOutcomeMetrics(t *testing.T) {
	f := newFixture(
		failWith(&timeout.Error{Operation: "anthropic call", Timeout: time.Second}),
		succeed("Recovered on retry.", agent.TypeMain),
	)
	first := newQueuedJob()
	f.store.seed(first)

	require.NoError(t, f.processor.Process(context.Background(), delivery(first)))

	second := f.store.current(t, first.ID)
	require.NoError(t, f.processor.Process(context.Background(), delivery(second)))

	m := f.metrics.Metrics
	assert.Equal(t, float64(1), testutil.ToFloat64(m.JobsProcessed.WithLabelValues("retrying")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.JobsProcessed.WithLabelValues("completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RetriesScheduled))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AgentRuns.WithLabelValues("main")))
	assert.Equal(t, float64(42), testutil.ToFloat64(m.TokensUsed.WithLabelValues("main")))
}

func TestBuildProfile_Defaults(t *testing.T) {
	f := newFixture()
	job := newQueuedJob()

	profile, err := f.processor.buildProfile(job)
	require.NoError(t, err)

	assert.Equal(t, "claude-sonnet-4-5", profile.Main.Model)
	assert.Equal(t, "main-default-smart", profile.Main.Breaker)
	assert.NotEmpty(t, profile.Main.SystemPrompt)

	// Moderation pins the fast model.
	assert.Equal(t, "claude-3-5-haiku-latest", profile.Moderation.Model)
	assert.Equal(t, "moderation-default-fast", profile.Moderation.Breaker)
	assert.InDelta(t, 0.1, profile.Moderation.Temperature, 0.001)

	assert.Contains(t, profile.Fallback.SystemPrompt, "backup assistant")
	assert.Equal(t, "fallback-default-smart", profile.Fallback.Breaker)
}

func TestBuildProfile_JobTemplateOverridesMainOnly(t *testing.T) {
	f := newFixture()
	job := domain.NewJob("prompt", configstore.DefaultModel, configstore.TemplateFollowupAgent, 0)

	profile, err := f.processor.buildProfile(job)
	require.NoError(t, err)

	followupTpl, err := f.processor.configs.Template(configstore.TemplateFollowupAgent)
	require.NoError(t, err)
	assert.Equal(t, followupTpl.SystemPrompt, profile.Main.SystemPrompt)

	fallbackTpl, err := f.processor.configs.Template(configstore.TemplateFallbackAgent)
	require.NoError(t, err)
	assert.Equal(t, fallbackTpl.SystemPrompt, profile.Fallback.SystemPrompt)
}

func TestBuildProfile_UnknownTemplate(t *testing.T) {
	f := newFixture()
	job := domain.NewJob("prompt", configstore.DefaultModel, "no-such-template", 0)

	_, err := f.processor.buildProfile(job)
	require.Error(t, err)
	assert.ErrorIs(t, err, configstore.ErrConfigNotFound)
}

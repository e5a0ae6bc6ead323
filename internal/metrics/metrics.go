// Package metrics exports Prometheus metrics for the generation pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all pipeline Prometheus metrics.
type Metrics struct {
	// Job attempt outcomes
	JobsProcessed    *prometheus.CounterVec
	JobDuration      *prometheus.HistogramVec
	RetriesScheduled prometheus.Counter
	RetryDelay       prometheus.Histogram

	// Agent and backend
	AgentRuns          *prometheus.CounterVec
	TokensUsed         *prometheus.CounterVec
	BreakerTransitions *prometheus.CounterVec

	// Queue gauges
	QueueDepth        prometheus.Gauge
	DelayedJobs       prometheus.Gauge
	PendingDeliveries prometheus.Gauge

	// Pool gauges
	BusyWorkers prometheus.Gauge
}

// Provider wraps the pipeline metrics. A nil Provider is a valid no-op, so
// callers never need to guard their recording calls.
type Provider struct {
	Metrics *Metrics
}

// NewProvider registers the pipeline metrics on the default registry.
func NewProvider() *Provider {
	return NewProviderWith(prometheus.DefaultRegisterer)
}

// NewProviderWith registers the pipeline metrics on reg. Tests pass a fresh
// registry to avoid duplicate registration.
func NewProviderWith(reg prometheus.Registerer) *Provider {
	m := &Metrics{}
	initJobMetrics(reg, m)
	initAgentMetrics(reg, m)
	initQueueMetrics(reg, m)
	return &Provider{Metrics: m}
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func (p *Provider) Handler() http.Handler {
	return promhttp.Handler()
}

func initJobMetrics(reg prometheus.Registerer, m *Metrics) {
	factory := promauto.With(reg)

	m.JobsProcessed = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "gogen_jobs_processed_total",
		Help: "Deliveries concluded, by outcome (completed, retrying, failed, dropped, duplicate)",
	}, []string{"outcome"})

	m.JobDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gogen_job_duration_seconds",
		Help:    "Time to run one job attempt end to end",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"outcome"})

	m.RetriesScheduled = factory.NewCounter(prometheus.CounterOpts{
		Name: "gogen_retries_scheduled_total",
		Help: "Total job retries handed to the delayed queue",
	})

	m.RetryDelay = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "gogen_retry_delay_seconds",
		Help:    "Backoff delay chosen for scheduled retries",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
	})
}

func initAgentMetrics(reg prometheus.Registerer, m *Metrics) {
	factory := promauto.With(reg)

	m.AgentRuns = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "gogen_agent_runs_total",
		Help: "Completed runs by the agent that produced the response",
	}, []string{"agent"})

	m.TokensUsed = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "gogen_tokens_used_total",
		Help: "Total tokens consumed, by the agent that produced the response",
	}, []string{"agent"})

	m.BreakerTransitions = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "gogen_breaker_transitions_total",
		Help: "Circuit breaker state transitions",
	}, []string{"breaker", "from", "to"})
}

func initQueueMetrics(reg prometheus.Registerer, m *Metrics) {
	factory := promauto.With(reg)

	m.QueueDepth = factory.NewGauge(prometheus.GaugeOpts{
		Name: "gogen_queue_depth",
		Help: "Entries on the intake stream",
	})

	m.DelayedJobs = factory.NewGauge(prometheus.GaugeOpts{
		Name: "gogen_delayed_jobs",
		Help: "Retries waiting in the delayed set",
	})

	m.PendingDeliveries = factory.NewGauge(prometheus.GaugeOpts{
		Name: "gogen_pending_deliveries",
		Help: "Delivered but unacknowledged messages",
	})

	m.BusyWorkers = factory.NewGauge(prometheus.GaugeOpts{
		Name: "gogen_busy_workers",
		Help: "Workers currently driving an attempt",
	})
}

// RecordJobOutcome records one concluded attempt.
func (p *Provider) RecordJobOutcome(outcome string, duration time.Duration) {
	if p == nil {
		return
	}
	p.Metrics.JobsProcessed.WithLabelValues(outcome).Inc()
	p.Metrics.JobDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordAgentRun records which agent answered and the tokens it burned.
func (p *Provider) RecordAgentRun(agent string, tokens int64) {
	if p == nil {
		return
	}
	p.Metrics.AgentRuns.WithLabelValues(agent).Inc()
	p.Metrics.TokensUsed.WithLabelValues(agent).Add(float64(tokens))
}

// RecordRetryScheduled records one retry handed to the delayed queue.
func (p *Provider) RecordRetryScheduled(delay time.Duration) {
	if p == nil {
		return
	}
	p.Metrics.RetriesScheduled.Inc()
	p.Metrics.RetryDelay.Observe(delay.Seconds())
}

// RecordBreakerTransition records one circuit breaker state change.
func (p *Provider) RecordBreakerTransition(breaker, from, to string) {
	if p == nil {
		return
	}
	p.Metrics.BreakerTransitions.WithLabelValues(breaker, from, to).Inc()
}

// SetQueueDepth sets the intake stream depth gauge.
func (p *Provider) SetQueueDepth(depth int64) {
	if p == nil {
		return
	}
	p.Metrics.QueueDepth.Set(float64(depth))
}

// SetDelayedJobs sets the delayed set depth gauge.
func (p *Provider) SetDelayedJobs(depth int64) {
	if p == nil {
		return
	}
	p.Metrics.DelayedJobs.Set(float64(depth))
}

// SetPendingDeliveries sets the unacknowledged deliveries gauge.
func (p *Provider) SetPendingDeliveries(count int64) {
	if p == nil {
		return
	}
	p.Metrics.PendingDeliveries.Set(float64(count))
}

// SetBusyWorkers sets the busy worker gauge.
func (p *Provider) SetBusyWorkers(count int) {
	if p == nil {
		return
	}
	p.Metrics.BusyWorkers.Set(float64(count))
}

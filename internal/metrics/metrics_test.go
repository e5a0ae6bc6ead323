package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestProvider() *Provider {
	return NewProviderWith(prometheus.NewRegistry())
}

func TestRecordJobOutcome(t *testing.T) {
	p := newTestProvider()

	p.RecordJobOutcome("completed", 2*time.Second)
	p.RecordJobOutcome("completed", time.Second)
	p.RecordJobOutcome("failed", 500*time.Millisecond)

	if got := testutil.ToFloat64(p.Metrics.JobsProcessed.WithLabelValues("completed")); got != 2 {
		t.Errorf("completed count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(p.Metrics.JobsProcessed.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed count = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(p.Metrics.JobDuration); got != 2 {
		t.Errorf("duration series = %d, want 2", got)
	}
}

func TestRecordAgentRun(t *testing.T) {
	p := newTestProvider()

	p.RecordAgentRun("main", 120)
	p.RecordAgentRun("main", 80)
	p.RecordAgentRun("fallback", 40)

	if got := testutil.ToFloat64(p.Metrics.AgentRuns.WithLabelValues("main")); got != 2 {
		t.Errorf("main runs = %v, want 2", got)
	}
	if got := testutil.ToFloat64(p.Metrics.TokensUsed.WithLabelValues("main")); got != 200 {
		t.Errorf("main tokens = %v, want 200", got)
	}
	if got := testutil.ToFloat64(p.Metrics.TokensUsed.WithLabelValues("fallback")); got != 40 {
		t.Errorf("fallback tokens = %v, want 40", got)
	}
}

func TestRecordRetryScheduled(t *testing.T) {
	p := newTestProvider()

	p.RecordRetryScheduled(5 * time.Second)
	p.RecordRetryScheduled(10 * time.Second)

	if got := testutil.ToFloat64(p.Metrics.RetriesScheduled); got != 2 {
		t.Errorf("retries scheduled = %v, want 2", got)
	}
}

func TestRecordBreakerTransition(t *testing.T) {
	p := newTestProvider()

	p.RecordBreakerTransition("main-default-smart", "closed", "open")
	p.RecordBreakerTransition("main-default-smart", "open", "half-open")

	got := testutil.ToFloat64(p.Metrics.BreakerTransitions.WithLabelValues("main-default-smart", "closed", "open"))
	if got != 1 {
		t.Errorf("closed->open count = %v, want 1", got)
	}
}

func TestQueueGauges(t *testing.T) {
	p := newTestProvider()

	p.SetQueueDepth(12)
	p.SetDelayedJobs(3)
	p.SetPendingDeliveries(4)
	p.SetBusyWorkers(2)

	if got := testutil.ToFloat64(p.Metrics.QueueDepth); got != 12 {
		t.Errorf("queue depth = %v, want 12", got)
	}
	if got := testutil.ToFloat64(p.Metrics.DelayedJobs); got != 3 {
		t.Errorf("delayed jobs = %v, want 3", got)
	}
	if got := testutil.ToFloat64(p.Metrics.PendingDeliveries); got != 4 {
		t.Errorf("pending deliveries = %v, want 4", got)
	}
	if got := testutil.ToFloat64(p.Metrics.BusyWorkers); got != 2 {
		t.Errorf("busy workers = %v, want 2", got)
	}
}

func TestNilProviderIsNoOp(t *testing.T) {
	var p *Provider

	p.RecordJobOutcome("completed", time.Second)
	p.RecordAgentRun("main", 10)
	p.RecordRetryScheduled(time.Second)
	p.RecordBreakerTransition("b", "closed", "open")
	p.SetQueueDepth(1)
	p.SetDelayedJobs(1)
	p.SetPendingDeliveries(1)
	p.SetBusyWorkers(1)
}

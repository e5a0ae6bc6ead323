package worker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonesrussell/gogen/internal/logger"
	"github.com/jonesrussell/gogen/internal/queue"
	"github.com/jonesrussell/gogen/internal/worker"
)

func testMessage(id string) *queue.Message {
	return &queue.Message{
		ID: id,
		Request: &queue.JobRequest{
			JobID:      "job-" + id,
			Prompt:     "Explain goroutines.",
			ConfigName: "default-smart",
		},
	}
}

func poolConfig(size int) worker.Config {
	cfg := worker.DefaultConfig()
	cfg.PoolSize = size
	cfg.DrainTimeout = time.Second
	return cfg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDefaultConfig(t *testing.T) {
	cfg := worker.DefaultConfig()

	if cfg.PoolSize != worker.DefaultPoolSize {
		t.Errorf("PoolSize = %d, want %d", cfg.PoolSize, worker.DefaultPoolSize)
	}
	if cfg.DrainTimeout != 30*time.Second {
		t.Errorf("DrainTimeout = %v, want %v", cfg.DrainTimeout, 30*time.Second)
	}
	if cfg.JobTimeout != 10*time.Minute {
		t.Errorf("JobTimeout = %v, want %v", cfg.JobTimeout, 10*time.Minute)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*worker.Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*worker.Config) {}, wantErr: false},
		{name: "zero pool size", mutate: func(c *worker.Config) { c.PoolSize = 0 }, wantErr: true},
		{name: "oversized pool", mutate: func(c *worker.Config) { c.PoolSize = 101 }, wantErr: true},
		{name: "zero drain timeout", mutate: func(c *worker.Config) { c.DrainTimeout = 0 }, wantErr: true},
		{name: "zero job timeout", mutate: func(c *worker.Config) { c.JobTimeout = 0 }, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := worker.DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestNewPool_RejectsBadInput(t *testing.T) {
	handler := func(context.Context, *queue.Message) error { return nil }

	if _, err := worker.NewPool(worker.Config{}, handler, logger.NewNop()); err == nil {
		t.Error("expected error for invalid config")
	}
	if _, err := worker.NewPool(worker.DefaultConfig(), nil, logger.NewNop()); err == nil {
		t.Error("expected error for nil handler")
	}
}

func TestPool_RunsSubmittedDeliveries(t *testing.T) {
	var processed atomic.Int64
	handler := func(_ context.Context, _ *queue.Message) error {
		processed.Add(1)
		return nil
	}

	pool, err := worker.NewPool(poolConfig(2), handler, logger.NewNop())
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	if err := pool.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer pool.Stop(context.Background())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := pool.Submit(ctx, testMessage(string(rune('a'+i)))); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	waitFor(t, 2*time.Second, func() bool { return processed.Load() == 5 })

	stats := pool.Stats()
	if stats.Deliveries != 5 {
		t.Errorf("Deliveries = %d, want 5", stats.Deliveries)
	}
	if stats.Concluded != 5 {
		t.Errorf("Concluded = %d, want 5", stats.Concluded)
	}
	if stats.LeftPending != 0 {
		t.Errorf("LeftPending = %d, want 0", stats.LeftPending)
	}
}

func TestPool_CountsDeliveriesLeftPending(t *testing.T) {
	handler := func(_ context.Context, msg *queue.Message) error {
		if msg.Request.JobID == "job-bad" {
			return errors.New("store unavailable")
		}
		return nil
	}

	pool, err := worker.NewPool(poolConfig(1), handler, logger.NewNop())
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	if err := pool.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer pool.Stop(context.Background())

	ctx := context.Background()
	if err := pool.Submit(ctx, testMessage("good")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := pool.Submit(ctx, testMessage("bad")); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return pool.Stats().Deliveries == 2 })

	stats := pool.Stats()
	if stats.Concluded != 1 {
		t.Errorf("Concluded = %d, want 1", stats.Concluded)
	}
	if stats.LeftPending != 1 {
		t.Errorf("LeftPending = %d, want 1", stats.LeftPending)
	}
}

func TestPool_TrySubmitWhenSaturated(t *testing.T) {
	release := make(chan struct{})
	handler := func(ctx context.Context, _ *queue.Message) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}

	pool, err := worker.NewPool(poolConfig(1), handler, logger.NewNop())
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	if err := pool.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer pool.Stop(context.Background())

	ctx := context.Background()
	if err := pool.Submit(ctx, testMessage("first")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, time.Second, func() bool { return pool.BusyCount() == 1 })

	ok, err := pool.TrySubmit(ctx, testMessage("second"))
	if err != nil {
		t.Fatalf("TrySubmit: %v", err)
	}
	if ok {
		t.Error("TrySubmit should refuse while the only worker is busy")
	}

	close(release)
	waitFor(t, time.Second, func() bool { return pool.IdleCount() == 1 })

	ok, err = pool.TrySubmit(ctx, testMessage("third"))
	if err != nil {
		t.Fatalf("TrySubmit after release: %v", err)
	}
	if !ok {
		t.Error("TrySubmit should accept once a worker is idle")
	}
	waitFor(t, time.Second, func() bool { return pool.Stats().Deliveries == 2 })
}

func TestPool_Lifecycle(t *testing.T) {
	handler := func(context.Context, *queue.Message) error { return nil }
	pool, err := worker.NewPool(poolConfig(1), handler, logger.NewNop())
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	if pool.State() != worker.PoolStateStopped {
		t.Errorf("new pool state = %v, want stopped", pool.State())
	}
	if err := pool.Submit(context.Background(), testMessage("early")); err == nil {
		t.Error("Submit before Start should fail")
	}

	if err := pool.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := pool.Start(); err == nil {
		t.Error("second Start should fail")
	}
	if !pool.IsRunning() {
		t.Error("pool should be running after Start")
	}

	if err := pool.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := pool.Stop(context.Background()); err == nil {
		t.Error("second Stop should fail")
	}
	if pool.State() != worker.PoolStateStopped {
		t.Errorf("state after Stop = %v, want stopped", pool.State())
	}

	// A stopped pool can be restarted with fresh workers.
	if err := pool.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := pool.Submit(context.Background(), testMessage("again")); err != nil {
		t.Fatalf("Submit after restart: %v", err)
	}
	waitFor(t, time.Second, func() bool { return pool.Stats().Deliveries == 1 })
	if err := pool.Stop(context.Background()); err != nil {
		t.Fatalf("final Stop: %v", err)
	}
}

func TestWorker_ProcessTracksOutcome(t *testing.T) {
	okHandler := func(context.Context, *queue.Message) error { return nil }
	w := worker.NewWorker(0, okHandler, time.Second, logger.NewNop())

	if err := w.Process(context.Background(), testMessage("one")); err != nil {
		t.Fatalf("Process: %v", err)
	}
	stats := w.Stats()
	if stats.Deliveries != 1 || stats.Concluded != 1 {
		t.Errorf("stats = %+v, want one concluded delivery", stats)
	}
	if !w.IsIdle() {
		t.Error("worker should return to idle after processing")
	}

	if err := w.Process(context.Background(), nil); err == nil {
		t.Error("nil message should be rejected")
	}

	failing := worker.NewWorker(1, func(context.Context, *queue.Message) error {
		return errors.New("backend down")
	}, time.Second, logger.NewNop())
	if err := failing.Process(context.Background(), testMessage("two")); err == nil {
		t.Error("handler failure should propagate")
	}
	if failing.Stats().LeftPending != 1 {
		t.Errorf("LeftPending = %d, want 1", failing.Stats().LeftPending)
	}
	if failing.Stats().LastError == nil {
		t.Error("LastError should be recorded")
	}
}

func TestWorkerStats_Healthy(t *testing.T) {
	testCases := []struct {
		name       string
		stats      worker.WorkerStats
		stuckAfter time.Duration
		want       bool
	}{
		{
			name:       "idle",
			stats:      worker.WorkerStats{State: worker.StateIdle},
			stuckAfter: time.Minute,
			want:       true,
		},
		{
			name:       "stopped",
			stats:      worker.WorkerStats{State: worker.StateStopped},
			stuckAfter: time.Minute,
			want:       false,
		},
		{
			name: "busy within threshold",
			stats: worker.WorkerStats{
				State:     worker.StateBusy,
				BusySince: time.Now().Add(-time.Second),
			},
			stuckAfter: time.Minute,
			want:       true,
		},
		{
			name: "stuck",
			stats: worker.WorkerStats{
				State:     worker.StateBusy,
				BusySince: time.Now().Add(-2 * time.Minute),
			},
			stuckAfter: time.Minute,
			want:       false,
		},
		{
			name: "stuck check disabled",
			stats: worker.WorkerStats{
				State:     worker.StateBusy,
				BusySince: time.Now().Add(-2 * time.Minute),
			},
			stuckAfter: 0,
			want:       true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.stats.Healthy(tc.stuckAfter); got != tc.want {
				t.Errorf("Healthy(%v) = %v, want %v", tc.stuckAfter, got, tc.want)
			}
		})
	}
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonesrussell/gogen/internal/logger"
	"github.com/jonesrussell/gogen/internal/queue"
)

// PoolState is the pool's lifecycle phase.
type PoolState int32

const (
	// PoolStateStopped means the pool is not accepting deliveries.
	PoolStateStopped PoolState = iota

	// PoolStateRunning means the pool is accepting and running deliveries.
	PoolStateRunning

	// PoolStateDraining means the pool refuses new deliveries while
	// in-flight attempts finish.
	PoolStateDraining
)

func (s PoolState) String() string {
	switch s {
	case PoolStateStopped:
		return "stopped"
	case PoolStateRunning:
		return "running"
	case PoolStateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Pool fans deliveries out to a fixed set of worker slots. Submit blocks
// while every slot is busy, which paces the consume loop to processing
// capacity instead of piling reads up in memory.
type Pool struct {
	config  Config
	handler JobHandler
	logger  logger.Logger

	workers []*Worker
	state   atomic.Int32
	sem     chan struct{}
	wg      sync.WaitGroup

	// mu guards stopCh, which is replaced on every restart.
	mu     sync.RWMutex
	stopCh chan struct{}

	deliveries  atomic.Int64
	concluded   atomic.Int64
	leftPending atomic.Int64
}

// NewPool creates a stopped pool; call Start before submitting.
func NewPool(cfg Config, handler JobHandler, log logger.Logger) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}

	p := &Pool{
		config:  cfg,
		handler: handler,
		logger:  log,
		workers: make([]*Worker, cfg.PoolSize),
		sem:     make(chan struct{}, cfg.PoolSize),
		stopCh:  make(chan struct{}),
	}

	for i := 0; i < cfg.PoolSize; i++ {
		p.workers[i] = NewWorker(i, handler, cfg.JobTimeout, log)
	}

	p.state.Store(int32(PoolStateStopped))
	return p, nil
}

// Start makes the pool accept deliveries. A stopped pool can be started
// again; its slots are returned to idle.
func (p *Pool) Start() error {
	if !p.state.CompareAndSwap(int32(PoolStateStopped), int32(PoolStateRunning)) {
		return errors.New("pool is already running")
	}

	p.mu.Lock()
	for _, w := range p.workers {
		w.reset()
	}
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.logger.Info("worker pool started",
		logger.Int("pool_size", p.config.PoolSize),
	)
	return nil
}

// Stop drains the pool: new submissions are refused immediately, in-flight
// attempts get until the drain timeout (or ctx) to conclude. Attempts still
// running after that keep their deliveries pending for reclaim.
func (p *Pool) Stop(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(PoolStateRunning), int32(PoolStateDraining)) {
		return errors.New("pool is not running")
	}

	p.logger.Info("worker pool draining")

	p.mu.Lock()
	close(p.stopCh)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool stop cancelled with attempts in flight")
	case <-time.After(p.config.DrainTimeout):
		p.logger.Warn("worker pool drain timeout exceeded")
	}

	p.mu.Lock()
	for _, w := range p.workers {
		w.Stop()
	}
	p.mu.Unlock()

	p.state.Store(int32(PoolStateStopped))
	return nil
}

// Submit hands one delivery to the pool, blocking while every slot is busy.
func (p *Pool) Submit(ctx context.Context, msg *queue.Message) error {
	if p.State() != PoolStateRunning {
		return errors.New("pool is not running")
	}

	p.mu.RLock()
	stopCh := p.stopCh
	p.mu.RUnlock()

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-stopCh:
		return errors.New("pool is stopping")
	}

	p.dispatch(ctx, msg)
	return nil
}

// TrySubmit hands one delivery to the pool without blocking. Returns false
// when every slot is busy.
func (p *Pool) TrySubmit(ctx context.Context, msg *queue.Message) (bool, error) {
	if p.State() != PoolStateRunning {
		return false, errors.New("pool is not running")
	}

	select {
	case p.sem <- struct{}{}:
	default:
		return false, nil
	}

	p.dispatch(ctx, msg)
	return true, nil
}

// dispatch runs the delivery on an idle slot. The caller holds a semaphore
// token, which guarantees one exists.
func (p *Pool) dispatch(ctx context.Context, msg *queue.Message) {
	p.wg.Add(1)

	go func() {
		defer func() {
			<-p.sem
			p.wg.Done()
		}()

		worker := p.acquireWorker()
		if worker == nil {
			p.logger.Error("no idle worker despite semaphore token",
				logger.String("job_id", msg.Request.JobID),
			)
			return
		}

		err := worker.Process(ctx, msg)

		p.deliveries.Add(1)
		if err != nil {
			p.leftPending.Add(1)
		} else {
			p.concluded.Add(1)
		}
	}()
}

func (p *Pool) acquireWorker() *Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, w := range p.workers {
		if w.IsIdle() {
			return w
		}
	}
	return nil
}

// State returns the pool's lifecycle phase.
func (p *Pool) State() PoolState {
	return PoolState(p.state.Load())
}

// IsRunning reports whether the pool accepts deliveries.
func (p *Pool) IsRunning() bool {
	return p.State() == PoolStateRunning
}

// Size returns the number of worker slots.
func (p *Pool) Size() int {
	return p.config.PoolSize
}

// BusyCount returns the number of slots mid-attempt.
func (p *Pool) BusyCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	count := 0
	for _, w := range p.workers {
		if w.IsBusy() {
			count++
		}
	}
	return count
}

// IdleCount returns the number of free slots.
func (p *Pool) IdleCount() int {
	return p.Size() - p.BusyCount()
}

// Stats snapshots the pool and every slot in it.
func (p *Pool) Stats() PoolStats {
	p.mu.RLock()
	workers := make([]WorkerStats, len(p.workers))
	busy := 0
	for i, w := range p.workers {
		workers[i] = w.Stats()
		if workers[i].State == StateBusy {
			busy++
		}
	}
	p.mu.RUnlock()

	return PoolStats{
		State:       p.State(),
		PoolSize:    p.config.PoolSize,
		BusyWorkers: busy,
		IdleWorkers: p.config.PoolSize - busy,
		Deliveries:  p.deliveries.Load(),
		Concluded:   p.concluded.Load(),
		LeftPending: p.leftPending.Load(),
		Workers:     workers,
	}
}

// PoolStats aggregates the slot counters. See WorkerStats for what the
// delivery counters mean.
type PoolStats struct {
	State       PoolState
	PoolSize    int
	BusyWorkers int
	IdleWorkers int
	Deliveries  int64
	Concluded   int64
	LeftPending int64
	Workers     []WorkerStats
}

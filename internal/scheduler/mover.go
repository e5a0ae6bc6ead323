package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/jonesrussell/gogen/internal/logger"
	"github.com/jonesrussell/gogen/internal/queue"
)

const defaultMoveInterval = time.Second

// Mover is the background loop that promotes due delayed entries onto the
// intake stream. It also trims the stream so redeliveries cannot grow it
// without bound. Ordering across entries is best effort: entries due in
// the same pass are moved in score order but interleave with fresh
// submissions.
type Mover struct {
	delayed  *queue.Delayed
	producer *queue.Producer
	logger   logger.Logger
	interval time.Duration

	mu       sync.Mutex
	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
}

// MoverConfig controls the promotion loop.
type MoverConfig struct {
	// Interval between passes over the delayed set. Defaults to one second,
	// which bounds how far past next_retry_at a redelivery can slip.
	Interval time.Duration
}

// NewMover creates a mover; call Start to begin promotion passes.
func NewMover(delayed *queue.Delayed, producer *queue.Producer, cfg MoverConfig, log logger.Logger) *Mover {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultMoveInterval
	}
	return &Mover{
		delayed:  delayed,
		producer: producer,
		logger:   log,
		interval: interval,
	}
}

// Start launches the promotion loop. Calling Start on a running mover is a
// no-op.
func (m *Mover) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		m.logger.Warn("delayed job mover already started")
		return
	}
	m.started = true
	m.stopChan = make(chan struct{})

	m.wg.Add(1)
	go m.run(ctx)

	m.logger.Info("delayed job mover started", logger.Duration("interval", m.interval))
}

// Stop halts the loop and waits for the in-flight pass to finish. Safe to
// call more than once.
func (m *Mover) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	close(m.stopChan)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("delayed job mover stopped")
}

// IsRunning reports whether the loop is active.
func (m *Mover) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

func (m *Mover) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// First pass immediately so entries already due are not held for a
	// full interval.
	m.moveOnce(ctx)

	for {
		select {
		case <-ticker.C:
			m.moveOnce(ctx)
		case <-m.stopChan:
			return
		case <-ctx.Done():
			m.logger.Info("delayed job mover stopping", logger.Error(ctx.Err()))
			return
		}
	}
}

func (m *Mover) moveOnce(ctx context.Context) {
	moved, err := m.delayed.MoveDue(ctx, time.Now())
	if err != nil {
		m.logger.Error("failed to move due jobs", logger.Error(err))
	}
	if moved > 0 {
		m.logger.Debug("moved due jobs to intake stream", logger.Int("count", moved))
		if err := m.producer.Trim(ctx); err != nil {
			m.logger.Warn("failed to trim intake stream", logger.Error(err))
		}
	}
}

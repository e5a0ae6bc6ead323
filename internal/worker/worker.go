package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonesrussell/gogen/internal/logger"
	"github.com/jonesrussell/gogen/internal/queue"
)

// State is a worker slot's current activity.
type State int32

const (
	// StateIdle means the slot is free to take a delivery.
	StateIdle State = iota

	// StateBusy means the slot is driving an attempt.
	StateBusy

	// StateStopped means the pool shut the slot down.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// JobHandler drives one delivery to a concluded attempt. A nil return means
// the delivery was handled and acknowledged; an error leaves it pending on
// the stream so the reclaim pass can hand it to another worker.
type JobHandler func(ctx context.Context, msg *queue.Message) error

// Worker is one slot in the pool. State and counters are atomic because the
// health monitor reads them while the slot is mid-attempt.
type Worker struct {
	id         int
	handler    JobHandler
	jobTimeout time.Duration
	logger     logger.Logger

	state          atomic.Int32
	deliveries     atomic.Int64
	concluded      atomic.Int64
	leftPending    atomic.Int64
	lastDeliveryAt atomic.Int64
	lastError      atomic.Value

	currentJobID atomic.Value
	busySince    atomic.Int64
}

// NewWorker creates an idle worker slot.
func NewWorker(id int, handler JobHandler, jobTimeout time.Duration, log logger.Logger) *Worker {
	w := &Worker{
		id:         id,
		handler:    handler,
		jobTimeout: jobTimeout,
		logger:     log,
	}
	w.state.Store(int32(StateIdle))
	return w
}

// ID returns the slot's position in the pool.
func (w *Worker) ID() int {
	return w.id
}

// State returns the slot's current activity.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// IsIdle reports whether the slot can take a delivery.
func (w *Worker) IsIdle() bool {
	return w.State() == StateIdle
}

// IsBusy reports whether the slot is mid-attempt.
func (w *Worker) IsBusy() bool {
	return w.State() == StateBusy
}

// Process runs one delivery under the attempt timeout. The slot must be
// idle; the pool's semaphore guarantees that during normal dispatch.
func (w *Worker) Process(ctx context.Context, msg *queue.Message) error {
	if msg == nil || msg.Request == nil {
		return fmt.Errorf("worker %d: nil delivery", w.id)
	}

	if !w.state.CompareAndSwap(int32(StateIdle), int32(StateBusy)) {
		return fmt.Errorf("worker %d: not idle (%s)", w.id, w.State())
	}

	w.currentJobID.Store(msg.Request.JobID)
	w.busySince.Store(time.Now().UnixNano())

	defer func() {
		w.currentJobID.Store("")
		w.busySince.Store(0)
		w.state.CompareAndSwap(int32(StateBusy), int32(StateIdle))
	}()

	attemptCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	w.logger.Debug("worker picked up delivery",
		logger.Int("worker_id", w.id),
		logger.String("job_id", msg.Request.JobID),
	)

	start := time.Now()
	err := w.handler(attemptCtx, msg)

	w.deliveries.Add(1)
	w.lastDeliveryAt.Store(time.Now().UnixNano())

	if err != nil {
		w.leftPending.Add(1)
		w.lastError.Store(err)
		w.logger.Error("delivery left pending",
			logger.Int("worker_id", w.id),
			logger.String("job_id", msg.Request.JobID),
			logger.Duration("duration", time.Since(start)),
			logger.Error(err),
		)
		return fmt.Errorf("worker %d: job %s: %w", w.id, msg.Request.JobID, err)
	}

	w.concluded.Add(1)
	w.logger.Debug("worker concluded delivery",
		logger.Int("worker_id", w.id),
		logger.String("job_id", msg.Request.JobID),
		logger.Duration("duration", time.Since(start)),
	)
	return nil
}

// Stop marks the slot stopped. Called by the pool after draining.
func (w *Worker) Stop() {
	w.state.Store(int32(StateStopped))
}

// reset returns a stopped slot to idle when the pool restarts.
func (w *Worker) reset() {
	w.state.Store(int32(StateIdle))
}

// Stats snapshots the slot.
func (w *Worker) Stats() WorkerStats {
	var lastErr error
	if v := w.lastError.Load(); v != nil {
		lastErr, _ = v.(error)
	}

	var currentJobID string
	if v := w.currentJobID.Load(); v != nil {
		currentJobID, _ = v.(string)
	}

	var lastDelivery time.Time
	if ts := w.lastDeliveryAt.Load(); ts > 0 {
		lastDelivery = time.Unix(0, ts)
	}

	var busySince time.Time
	if ts := w.busySince.Load(); ts > 0 {
		busySince = time.Unix(0, ts)
	}

	return WorkerStats{
		ID:             w.id,
		State:          w.State(),
		Deliveries:     w.deliveries.Load(),
		Concluded:      w.concluded.Load(),
		LeftPending:    w.leftPending.Load(),
		LastDeliveryAt: lastDelivery,
		LastError:      lastErr,
		CurrentJobID:   currentJobID,
		BusySince:      busySince,
	}
}

// WorkerStats is a point-in-time view of one slot. Deliveries counts every
// attempt the slot ran; Concluded the ones whose outcome was recorded and
// acknowledged; LeftPending the ones returned to the stream for reclaim.
type WorkerStats struct {
	ID             int
	State          State
	Deliveries     int64
	Concluded      int64
	LeftPending    int64
	LastDeliveryAt time.Time
	LastError      error
	CurrentJobID   string
	BusySince      time.Time
}

// Healthy reports whether the slot is serviceable. A busy slot counts as
// stuck once it has held one delivery longer than stuckAfter; the attempt
// timeout should have cancelled it well before that. A non-positive
// stuckAfter disables the stuck check.
func (s WorkerStats) Healthy(stuckAfter time.Duration) bool {
	if s.State == StateStopped {
		return false
	}
	if stuckAfter > 0 && s.State == StateBusy && !s.BusySince.IsZero() {
		return time.Since(s.BusySince) <= stuckAfter
	}
	return true
}

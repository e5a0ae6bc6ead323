package worker

import (
	"context"
	"sync"
	"time"

	"github.com/jonesrussell/gogen/internal/logger"
)

// HealthStatus grades the pool from a sample of its worker slots.
type HealthStatus string

const (
	// HealthStatusHealthy means every slot is serviceable.
	HealthStatusHealthy HealthStatus = "healthy"

	// HealthStatusDegraded means some slots are stuck or stopped but at
	// least half still serve.
	HealthStatusDegraded HealthStatus = "degraded"

	// HealthStatusUnhealthy means fewer than half the slots serve.
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

func (s HealthStatus) String() string {
	return string(s)
}

// degradedFloor is the healthy ratio below which the pool grades unhealthy
// rather than degraded.
const degradedFloor = 0.5

// stuckMultiplier scales the attempt timeout into the threshold where a
// busy slot counts as stuck. The timeout should have cancelled the attempt
// well before the threshold is reached, so crossing it means the handler is
// ignoring cancellation.
const stuckMultiplier = 2

// HealthCheck is one graded sample of the pool.
type HealthCheck struct {
	Status           HealthStatus
	Timestamp        time.Time
	PoolState        PoolState
	TotalWorkers     int
	HealthyWorkers   int
	UnhealthyWorkers int
	BusyWorkers      int
	IdleWorkers      int
	Details          []WorkerHealthDetail
}

// WorkerHealthDetail is one slot's slice of a health check.
type WorkerHealthDetail struct {
	WorkerID     int
	State        State
	Healthy      bool
	CurrentJobID string
	BusyFor      time.Duration
	LastError    string
}

// HealthMonitor samples the pool on an interval and grades it, flagging
// slots that are stopped or have held one delivery past the stuck
// threshold.
type HealthMonitor struct {
	pool       *Pool
	logger     logger.Logger
	interval   time.Duration
	stuckAfter time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu        sync.RWMutex
	lastCheck *HealthCheck
}

// NewHealthMonitor creates a monitor over pool. The stuck threshold derives
// from the pool's attempt timeout.
func NewHealthMonitor(pool *Pool, interval time.Duration, log logger.Logger) *HealthMonitor {
	if interval <= 0 {
		interval = DefaultHealthCheckInterval
	}

	return &HealthMonitor{
		pool:       pool,
		logger:     log,
		interval:   interval,
		stuckAfter: stuckMultiplier * pool.config.JobTimeout,
		stopCh:     make(chan struct{}),
	}
}

// Start samples in the background until Stop or ctx cancellation.
func (m *HealthMonitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.run(ctx)
}

// Stop halts sampling and waits for the loop to exit.
func (m *HealthMonitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// Check grades the pool now and records the result for LastCheck.
func (m *HealthMonitor) Check() HealthCheck {
	stats := m.pool.Stats()

	check := HealthCheck{
		Timestamp:    time.Now(),
		PoolState:    stats.State,
		TotalWorkers: stats.PoolSize,
		BusyWorkers:  stats.BusyWorkers,
		IdleWorkers:  stats.IdleWorkers,
		Details:      make([]WorkerHealthDetail, len(stats.Workers)),
	}

	for i, ws := range stats.Workers {
		healthy := ws.Healthy(m.stuckAfter)
		if healthy {
			check.HealthyWorkers++
		} else {
			check.UnhealthyWorkers++
		}

		var busyFor time.Duration
		if ws.State == StateBusy && !ws.BusySince.IsZero() {
			busyFor = time.Since(ws.BusySince)
		}

		var lastErr string
		if ws.LastError != nil {
			lastErr = ws.LastError.Error()
		}

		check.Details[i] = WorkerHealthDetail{
			WorkerID:     ws.ID,
			State:        ws.State,
			Healthy:      healthy,
			CurrentJobID: ws.CurrentJobID,
			BusyFor:      busyFor,
			LastError:    lastErr,
		}
	}

	check.Status = grade(check.TotalWorkers, check.HealthyWorkers)

	m.mu.Lock()
	m.lastCheck = &check
	m.mu.Unlock()

	return check
}

// LastCheck returns the most recent sample, or nil before the first one.
func (m *HealthMonitor) LastCheck() *HealthCheck {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastCheck
}

// IsHealthy reports whether the last sample graded healthy or degraded.
func (m *HealthMonitor) IsHealthy() bool {
	check := m.LastCheck()
	if check == nil {
		return false
	}
	return check.Status == HealthStatusHealthy || check.Status == HealthStatusDegraded
}

// grade maps the healthy slot ratio to a status. An empty pool is
// unhealthy: it can make no progress at all.
func grade(total, healthy int) HealthStatus {
	switch {
	case total == 0 || float64(healthy)/float64(total) < degradedFloor:
		return HealthStatusUnhealthy
	case healthy < total:
		return HealthStatusDegraded
	default:
		return HealthStatusHealthy
	}
}

func (m *HealthMonitor) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.observe()

	for {
		select {
		case <-ticker.C:
			m.observe()
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		}
	}
}

// observe runs one check and logs it at a level matching the grade.
func (m *HealthMonitor) observe() {
	check := m.Check()

	switch check.Status {
	case HealthStatusHealthy:
		m.logger.Debug("worker pool healthy",
			logger.Int("total_workers", check.TotalWorkers),
			logger.Int("busy_workers", check.BusyWorkers),
		)
	case HealthStatusDegraded:
		m.logger.Warn("worker pool degraded",
			logger.Int("healthy_workers", check.HealthyWorkers),
			logger.Int("unhealthy_workers", check.UnhealthyWorkers),
		)
	case HealthStatusUnhealthy:
		m.logger.Error("worker pool unhealthy",
			logger.Int("healthy_workers", check.HealthyWorkers),
			logger.Int("unhealthy_workers", check.UnhealthyWorkers),
		)
	}
}

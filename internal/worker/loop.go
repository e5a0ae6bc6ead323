package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonesrussell/gogen/internal/logger"
	"github.com/jonesrussell/gogen/internal/queue"
)

// readErrorPause is how long the loop backs off after a failed read, so a
// down queue does not spin it.
const readErrorPause = time.Second

// AckingHandler wraps a handler so concluded deliveries are acknowledged.
// A handler error leaves the delivery pending for the reclaim pass.
func AckingHandler(consumer *queue.Consumer, handler JobHandler, log logger.Logger) JobHandler {
	return func(ctx context.Context, msg *queue.Message) error {
		if err := handler(ctx, msg); err != nil {
			return err
		}
		if err := consumer.Ack(ctx, msg.ID); err != nil {
			log.Warn("failed to acknowledge delivery",
				logger.String("message_id", msg.ID),
				logger.Error(err),
			)
			return err
		}
		return nil
	}
}

// Loop reads deliveries from the intake stream and hands them to the pool.
// Submission blocks while every worker is busy, so reads pace themselves to
// processing capacity.
type Loop struct {
	consumer *queue.Consumer
	pool     *Pool
	logger   logger.Logger

	mu       sync.Mutex
	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
}

// NewLoop creates a consume loop over an initialized consumer and pool.
func NewLoop(consumer *queue.Consumer, pool *Pool, log logger.Logger) *Loop {
	return &Loop{
		consumer: consumer,
		pool:     pool,
		logger:   log,
	}
}

// Start launches the consume loop. The pool must already be running.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return errors.New("consume loop already started")
	}
	if !l.pool.IsRunning() {
		return errors.New("pool is not running")
	}
	l.started = true
	l.stopChan = make(chan struct{})

	l.wg.Add(1)
	go l.run(ctx)

	l.logger.Info("consume loop started",
		logger.String("consumer_id", l.consumer.ConsumerID()),
	)
	return nil
}

// Stop halts reads and waits for the loop to exit. In-flight attempts are
// drained by the pool, not the loop. Safe to call more than once.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return
	}
	l.started = false
	close(l.stopChan)
	l.mu.Unlock()

	l.wg.Wait()
	l.logger.Info("consume loop stopped")
}

// IsRunning reports whether the loop is active.
func (l *Loop) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.started
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		messages, err := l.consumer.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Error("failed to read deliveries", logger.Error(err))
			select {
			case <-time.After(readErrorPause):
			case <-l.stopChan:
				return
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, msg := range messages {
			if err := l.pool.Submit(ctx, msg); err != nil {
				if ctx.Err() != nil || !l.pool.IsRunning() {
					return
				}
				l.logger.Warn("delivery not submitted",
					logger.String("job_id", msg.Request.JobID),
					logger.Error(err),
				)
			}
		}
	}
}

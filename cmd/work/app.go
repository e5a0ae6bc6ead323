package work

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"

	"github.com/jonesrussell/gogen/cmd/common"
	"github.com/jonesrussell/gogen/internal/agent"
	"github.com/jonesrussell/gogen/internal/cache"
	"github.com/jonesrussell/gogen/internal/circuitbreaker"
	"github.com/jonesrussell/gogen/internal/config"
	"github.com/jonesrussell/gogen/internal/configstore"
	"github.com/jonesrussell/gogen/internal/database"
	"github.com/jonesrussell/gogen/internal/events"
	"github.com/jonesrussell/gogen/internal/llm"
	"github.com/jonesrussell/gogen/internal/logger"
	"github.com/jonesrussell/gogen/internal/metrics"
	"github.com/jonesrussell/gogen/internal/processor"
	"github.com/jonesrussell/gogen/internal/queue"
	"github.com/jonesrussell/gogen/internal/scheduler"
	"github.com/jonesrussell/gogen/internal/worker"
)

// shutdownGrace is added to the pool drain timeout so the drain itself can
// complete before the shutdown context expires.
const shutdownGrace = 5 * time.Second

// application owns every long-lived component of the worker daemon and
// coordinates startup and shutdown.
type application struct {
	cfg    *config.Config
	logger logger.Logger

	redis *goredis.Client
	db    *sqlx.DB

	consumer *queue.Consumer
	producer *queue.Producer
	delayed  *queue.Delayed

	registry *circuitbreaker.Registry
	provider *metrics.Provider

	pool    *worker.Pool
	loop    *worker.Loop
	mover   *scheduler.Mover
	monitor *worker.HealthMonitor
	ops     *opsServer

	samplerStop chan struct{}
	samplerWG   sync.WaitGroup
}

// newApplication wires the full worker pipeline. ctx bounds the startup
// work: schema migration and consumer group creation.
func newApplication(ctx context.Context, deps common.CommandDeps, consumerID string) (*application, error) {
	cfg := deps.Config
	log := deps.Logger

	app := &application{cfg: cfg, logger: log}

	redisClient, err := common.NewRedisClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.redis = redisClient

	db, err := common.NewDatabase(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.db = db

	store := database.NewJobRepository(db.DB)
	if err := store.EnsureSchema(ctx); err != nil {
		app.Close()
		return nil, fmt.Errorf("ensure job schema: %w", err)
	}

	streams := queue.NewStreamsClientFromRedis(redisClient, cfg.Queue.StreamPrefix)
	app.producer = queue.NewProducer(streams, queue.ProducerConfig{MaxStreamLen: cfg.Queue.MaxStreamLen})
	app.delayed = queue.NewDelayed(streams)

	consumer, err := queue.NewConsumer(streams, queue.ConsumerConfig{
		ConsumerGroup: cfg.Queue.ConsumerGroup,
		ConsumerID:    consumerID,
		BlockTimeout:  cfg.Queue.BlockTimeout,
		BatchSize:     int64(cfg.Queue.BatchSize),
		ClaimMinIdle:  cfg.Queue.ClaimMinIdle,
	}, log)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("create consumer: %w", err)
	}
	if err := consumer.Initialize(ctx); err != nil {
		app.Close()
		return nil, fmt.Errorf("initialize consumer group: %w", err)
	}
	app.consumer = consumer

	configs, err := configstore.LoadOrDefault(cfg.ModelsFile)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("load model catalog: %w", err)
	}

	invoker, err := llm.NewAnthropicClient(os.Getenv(cfg.Anthropic.APIKeyEnv), log)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("create backend client (key from %s): %w", cfg.Anthropic.APIKeyEnv, err)
	}

	app.provider = metrics.NewProvider()
	app.registry = circuitbreaker.NewRegistry(func(name string, from, to circuitbreaker.State) {
		app.provider.RecordBreakerTransition(name, from.String(), to.String())
		log.Warn("circuit breaker state change",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
	})

	graph := agent.NewGraph(invoker, app.registry, circuitbreaker.DefaultConfig(), log)
	runner := agent.NewRunner(graph, -1, log)

	var publisher events.Publisher = events.NewRedisPublisher(redisClient, cfg.Events.Stream, log)
	if cfg.Events.Disabled {
		publisher = events.NewNopPublisher(log)
	}

	proc := processor.New(processor.Deps{
		Store:     store,
		Cache:     cache.NewStatusCache(redisClient, cfg.Queue.StreamPrefix, cfg.Cache.TTL, log),
		Scheduler: scheduler.NewScheduler(app.delayed, log),
		Publisher: publisher,
		Runner:    runner,
		Configs:   configs,
		Metrics:   app.provider,
		Logger:    log,
	}, processor.Config{
		BaseRetryDelay: cfg.Retry.BaseDelay,
		MaxRetryDelay:  cfg.Retry.MaxDelay,
	})

	pool, err := worker.NewPool(worker.Config{
		PoolSize:     cfg.Worker.Concurrency,
		DrainTimeout: cfg.Worker.DrainTimeout,
		JobTimeout:   cfg.Worker.JobTimeout,
	}, worker.AckingHandler(consumer, proc.Process, log), log)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	app.pool = pool

	app.loop = worker.NewLoop(consumer, pool, log)
	app.mover = scheduler.NewMover(app.delayed, app.producer, scheduler.MoverConfig{
		Interval: cfg.Retry.PollInterval,
	}, log)
	app.monitor = worker.NewHealthMonitor(pool, worker.DefaultHealthCheckInterval, log)
	app.ops = newOpsServer(cfg.Metrics.Address, app.provider, app.monitor, app.registry, log)

	return app, nil
}

// Run starts every component and blocks until a shutdown signal, a fatal
// ops server error, or context cancellation.
func (a *application) Run(ctx context.Context) error {
	if err := a.pool.Start(); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}
	if err := a.loop.Start(ctx); err != nil {
		return fmt.Errorf("start consume loop: %w", err)
	}
	a.mover.Start(ctx)
	a.monitor.Start(ctx)
	a.startSampler()

	opsErr := a.ops.Start()

	a.logger.Info("worker started",
		logger.String("consumer_id", a.consumer.ConsumerID()),
		logger.Int("pool_size", a.pool.Size()),
		logger.String("ops_address", a.cfg.Metrics.Address),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-opsErr:
		a.logger.Error("ops server failed", logger.Error(err))
		a.shutdown()
		return fmt.Errorf("ops server: %w", err)
	case sig := <-sigChan:
		a.logger.Info("shutdown signal received", logger.String("signal", sig.String()))
		a.shutdown()
		return nil
	case <-ctx.Done():
		a.shutdown()
		return ctx.Err()
	}
}

// shutdown stops intake first so no new deliveries start, then drains the
// running attempts. Deliveries interrupted mid-attempt stay pending and are
// reclaimed by the next worker.
func (a *application) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Worker.DrainTimeout+shutdownGrace)
	defer cancel()

	a.loop.Stop()
	if err := a.pool.Stop(shutdownCtx); err != nil {
		a.logger.Warn("worker pool drain incomplete", logger.Error(err))
	}
	a.mover.Stop()
	a.monitor.Stop()
	a.stopSampler()
	a.ops.Stop(shutdownCtx)

	a.logger.Info("worker stopped")
}

// Close releases the shared clients. Safe to call on a partially
// constructed application.
func (a *application) Close() {
	if a.db != nil {
		if err := database.Close(a.db); err != nil {
			a.logger.Warn("failed to close database", logger.Error(err))
		}
		a.db = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis client", logger.Error(err))
		}
		a.redis = nil
	}
	_ = a.logger.Sync()
}

// startSampler refreshes the queue depth gauges in the background.
func (a *application) startSampler() {
	a.samplerStop = make(chan struct{})
	a.samplerWG.Add(1)

	go func() {
		defer a.samplerWG.Done()

		ticker := time.NewTicker(a.cfg.Metrics.SampleInterval)
		defer ticker.Stop()

		a.sampleQueueGauges()
		for {
			select {
			case <-ticker.C:
				a.sampleQueueGauges()
			case <-a.samplerStop:
				return
			}
		}
	}()
}

func (a *application) stopSampler() {
	if a.samplerStop == nil {
		return
	}
	close(a.samplerStop)
	a.samplerWG.Wait()
	a.samplerStop = nil
}

func (a *application) sampleQueueGauges() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if depth, err := a.producer.Depth(ctx); err == nil {
		a.provider.SetQueueDepth(depth)
	}
	if depth, err := a.delayed.Depth(ctx); err == nil {
		a.provider.SetDelayedJobs(depth)
	}
	if pending, err := a.consumer.PendingCount(ctx); err == nil {
		a.provider.SetPendingDeliveries(pending)
	}
	a.provider.SetBusyWorkers(a.pool.BusyCount())
}

package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/cuongbtq/order-reports/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker is the message queue side of the worker
type Broker interface {
	Qos(prefetchCount int) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
	Ack(deliveryTag uint64) error
	Nack(deliveryTag uint64, requeue bool) error
}

// JobExecutor runs one report job to a terminal state
type JobExecutor interface {
	Execute(ctx context.Context, jobID string) error
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Broker        Broker
	Executor      JobExecutor
	Concurrency   int
	PrefetchCount int
	WorkerID      string
}

// Worker represents the background job worker
type Worker struct {
	logger        *slog.Logger
	broker        Broker
	executor      JobExecutor
	concurrency   int
	prefetchCount int
	workerID      string
	jobsChan      chan *domain.JobMessage
	wg            sync.WaitGroup
	stopChan      chan struct{}
	stopOnce      sync.Once
}

// ErrDeliveriesClosed is returned by Start when the broker closes the
// delivery channel before shutdown
var ErrDeliveriesClosed = errors.New("rabbitmq delivery channel closed")

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}
	return &Worker{
		logger:        cfg.Logger,
		broker:        cfg.Broker,
		executor:      cfg.Executor,
		concurrency:   concurrency,
		prefetchCount: prefetch,
		workerID:      cfg.WorkerID,
		jobsChan:      make(chan *domain.JobMessage),
		stopChan:      make(chan struct{}),
	}
}

// Start consumes job messages until ctx is canceled or Stop is called. Jobs
// already handed to the pool run to completion before Start returns.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Int("prefetch_count", w.prefetchCount),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(context.WithoutCancel(ctx))

	err = w.startMessageDispatcher(ctx, deliveries)
	close(w.jobsChan)
	w.wg.Wait()

	w.logger.Info("Worker stopped", slog.String("worker_id", w.workerID))
	return err
}

// Stop signals the dispatcher to stop taking new messages
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...")
		close(w.stopChan)
	})
}

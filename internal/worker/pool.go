package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/order-reports/internal/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	w.logger.Info("Worker pool spawned successfully",
		slog.Int("worker_count", w.concurrency),
		slog.String("worker_id", w.workerID),
	)
}

// workerLoop executes jobs until jobsChan is closed
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)

	for msg := range w.jobsChan {
		w.logger.Info("Worker received job",
			slog.String("worker_name", workerName),
			slog.String("job_id", msg.JobID),
			slog.Uint64("delivery_tag", msg.DeliveryTag),
		)

		err := w.executor.Execute(ctx, msg.JobID)
		w.settle(workerName, msg, err)
	}

	w.logger.Debug("Worker goroutine stopped", slog.String("worker_name", workerName))
}

// settle ACKs or NACKs the delivery based on the execution result
func (w *Worker) settle(workerName string, msg *domain.JobMessage, err error) {
	if err == nil || errors.Is(err, domain.ErrJobAlreadyClaimed) {
		// Duplicate deliveries of claimed or deleted jobs are dropped
		if ackErr := w.broker.Ack(msg.DeliveryTag); ackErr != nil {
			w.logger.Error("Failed to ACK message",
				slog.String("worker_name", workerName),
				slog.String("job_id", msg.JobID),
				slog.String("error", ackErr.Error()),
			)
		}
		return
	}

	requeue := shouldRequeueJob(err)
	w.logger.Error("Job processing failed",
		slog.String("worker_name", workerName),
		slog.String("job_id", msg.JobID),
		slog.String("error", err.Error()),
		slog.Bool("requeue", requeue),
	)

	if nackErr := w.broker.Nack(msg.DeliveryTag, requeue); nackErr != nil {
		w.logger.Error("Failed to NACK message",
			slog.String("worker_name", workerName),
			slog.String("job_id", msg.JobID),
			slog.String("error", nackErr.Error()),
		)
	}
}

// shouldRequeueJob determines if a job should be requeued based on the error type
func shouldRequeueJob(err error) bool {
	if errors.Is(err, domain.ErrJobAlreadyClaimed) {
		return false
	}

	var retryableErr *domain.RetryableError
	return errors.As(err, &retryableErr)
}

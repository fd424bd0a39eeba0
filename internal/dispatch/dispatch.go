// Package dispatch hands created report jobs to an executor without waiting
// for them to finish.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cuongbtq/order-reports/internal/domain"
)

// Executor runs one report job to a terminal state
type Executor interface {
	Execute(ctx context.Context, jobID string) error
}

// ErrShuttingDown is returned by LocalDispatcher once Shutdown has begun
var ErrShuttingDown = errors.New("dispatcher is shutting down")

// LocalDispatcher runs each job on its own goroutine in this process. There is
// no concurrency limit.
type LocalDispatcher struct {
	logger   *slog.Logger
	executor Executor
	baseCtx  context.Context

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// NewLocalDispatcher creates a dispatcher whose jobs run under baseCtx
func NewLocalDispatcher(baseCtx context.Context, executor Executor, logger *slog.Logger) *LocalDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalDispatcher{
		logger:   logger,
		executor: executor,
		baseCtx:  context.WithoutCancel(baseCtx),
	}
}

// Dispatch starts the job and returns immediately. The request context is
// not propagated to the execution.
func (d *LocalDispatcher) Dispatch(_ context.Context, jobID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return ErrShuttingDown
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.executor.Execute(d.baseCtx, jobID); err != nil && !errors.Is(err, domain.ErrJobAlreadyClaimed) {
			d.logger.Error("Local report job execution error",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
	}()
	return nil
}

// Shutdown stops accepting jobs and waits for running ones or ctx
func (d *LocalDispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closing = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for local report jobs: %w", ctx.Err())
	}
}

// Publisher publishes a message body to the job queue
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// RabbitDispatcher publishes job messages for the worker service
type RabbitDispatcher struct {
	publisher Publisher
}

// NewRabbitDispatcher creates a new RabbitDispatcher instance
func NewRabbitDispatcher(publisher Publisher) *RabbitDispatcher {
	return &RabbitDispatcher{publisher: publisher}
}

// Dispatch publishes {"job_id": ...} to the job queue
func (d *RabbitDispatcher) Dispatch(ctx context.Context, jobID string) error {
	body, err := json.Marshal(domain.JobMessage{JobID: jobID})
	if err != nil {
		return fmt.Errorf("failed to marshal job message: %w", err)
	}
	if err := d.publisher.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish job message: %w", err)
	}
	return nil
}

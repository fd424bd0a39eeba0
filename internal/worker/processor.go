package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/order-reports/internal/artifact"
	"github.com/cuongbtq/order-reports/internal/domain"
	"github.com/cuongbtq/order-reports/internal/metrics"
	"github.com/cuongbtq/order-reports/internal/render"
)

const terminalWriteTimeout = 10 * time.Second

// JobStore is the subset of the report job repository the executor writes to
type JobStore interface {
	ClaimJob(ctx context.Context, jobID, workerID string) (*domain.ReportJob, error)
	CompleteJob(ctx context.Context, jobID string, artifact domain.Artifact) error
	FailJob(ctx context.Context, jobID, errorDetail string) error
	UpdateJobHeartbeat(ctx context.Context, jobID string) error
}

// OrderLoader reads order data for rendering
type OrderLoader interface {
	GetOrder(ctx context.Context, orderID int64) (*domain.Order, error)
}

// ExecutorConfig holds Executor dependencies
type ExecutorConfig struct {
	Logger            *slog.Logger
	Jobs              JobStore
	Orders            OrderLoader
	Renderers         *render.Registry
	Artifacts         artifact.Store
	Metrics           *metrics.Collector
	WorkerID          string
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
	Now               func() time.Time
}

// Executor runs one report job: PENDING -> PROCESSING -> COMPLETED | FAILED
type Executor struct {
	logger            *slog.Logger
	jobs              JobStore
	orders            OrderLoader
	renderers         *render.Registry
	artifacts         artifact.Store
	metrics           *metrics.Collector
	workerID          string
	jobTimeout        time.Duration
	heartbeatInterval time.Duration
	now               func() time.Time
}

// NewExecutor creates a new Executor instance
func NewExecutor(cfg *ExecutorConfig) *Executor {
	e := &Executor{
		logger:            cfg.Logger,
		jobs:              cfg.Jobs,
		orders:            cfg.Orders,
		renderers:         cfg.Renderers,
		artifacts:         cfg.Artifacts,
		metrics:           cfg.Metrics,
		workerID:          cfg.WorkerID,
		jobTimeout:        cfg.JobTimeout,
		heartbeatInterval: cfg.HeartbeatInterval,
		now:               cfg.Now,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.renderers == nil {
		e.renderers = render.DefaultRegistry()
	}
	if e.jobTimeout <= 0 {
		e.jobTimeout = 5 * time.Minute
	}
	if e.heartbeatInterval <= 0 {
		e.heartbeatInterval = 30 * time.Second
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Execute processes a single job. It returns nil once the job has reached a
// terminal state (including FAILED) or was deleted/claimed elsewhere, and an
// error only when the outcome could not be decided; RetryableError marks a
// transient failure before the claim.
func (e *Executor) Execute(ctx context.Context, jobID string) error {
	e.logger.Info("Processing report job",
		slog.String("job_id", jobID),
		slog.String("worker_id", e.workerID),
	)

	// Step 1: Claim job (PENDING -> PROCESSING)
	job, err := e.jobs.ClaimJob(ctx, jobID, e.workerID)
	if err != nil {
		if errors.Is(err, domain.ErrJobAlreadyClaimed) {
			e.logger.Warn("Report job already claimed or deleted, skipping",
				slog.String("job_id", jobID),
			)
			return err
		}
		e.logger.Error("Failed to claim report job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return domain.NewRetryableError(fmt.Errorf("failed to claim report job: %w", err))
	}

	e.metrics.JobStarted()
	defer e.metrics.JobFinished()

	jobCtx, cancel := context.WithTimeout(ctx, e.jobTimeout)
	defer cancel()

	// Step 2: Heartbeat while rendering
	heartbeatDone := make(chan struct{})
	go e.sendJobHeartbeat(jobCtx, job.ID, heartbeatDone)
	defer close(heartbeatDone)

	// Step 3: Load order, render, store bytes
	started := time.Now()
	art, err := e.produce(jobCtx, job)
	if err != nil {
		e.fail(ctx, job, err.Error())
		return nil
	}

	// Step 4: COMPLETED
	writeCtx, writeCancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer writeCancel()

	if err := e.jobs.CompleteJob(writeCtx, job.ID, *art); err != nil {
		e.discardArtifact(writeCtx, job.ID, art.Key)
		if errors.Is(err, domain.ErrJobNotFound) || errors.Is(err, domain.ErrInvalidTransition) {
			e.logger.Warn("Report job deleted or finalized while processing, result discarded",
				slog.String("job_id", job.ID),
				slog.String("reason", err.Error()),
			)
			return nil
		}
		e.logger.Error("Failed to update report job status to COMPLETED",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to complete report job: %w", err)
	}

	e.metrics.RecordCompleted(job.Format, time.Since(started).Seconds())
	e.logger.Info("Report job completed successfully",
		slog.String("job_id", job.ID),
		slog.String("format", string(job.Format)),
		slog.String("file_name", art.FileName),
		slog.Int64("file_size", art.Size),
	)
	return nil
}

// produce renders the report and stores its bytes. Errors are returned as the
// job's error detail.
func (e *Executor) produce(ctx context.Context, job *domain.ReportJob) (*domain.Artifact, error) {
	order, err := e.orders.GetOrder(ctx, job.OrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order %d: %w", job.OrderID, err)
	}

	renderer, err := e.renderers.Get(job.Format)
	if err != nil {
		return nil, err
	}

	generatedAt := e.now()
	data, err := safeRender(ctx, renderer, order, generatedAt)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s render timed out after %s", job.Format, e.jobTimeout)
		}
		return nil, fmt.Errorf("%s render failed: %w", job.Format, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s render produced empty output", job.Format)
	}

	key := artifact.Key(job.ID, job.Format)
	if err := e.artifacts.Put(ctx, key, data); err != nil {
		return nil, fmt.Errorf("failed to store report artifact: %w", err)
	}

	return &domain.Artifact{
		Key:         key,
		FileName:    render.FileName(order.ID, job.Format, generatedAt),
		Size:        int64(len(data)),
		ContentType: job.Format.ContentType(),
	}, nil
}

func safeRender(ctx context.Context, r render.Renderer, order *domain.Order, at time.Time) (data []byte, err error) {
	defer func() {
		if p := recover(); p != nil {
			data, err = nil, fmt.Errorf("renderer panic: %v", p)
		}
	}()
	return r.Render(ctx, order, at)
}

func (e *Executor) fail(ctx context.Context, job *domain.ReportJob, detail string) {
	e.logger.Error("Report job execution failed",
		slog.String("job_id", job.ID),
		slog.String("format", string(job.Format)),
		slog.String("error", detail),
	)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer cancel()

	if err := e.jobs.FailJob(writeCtx, job.ID, detail); err != nil {
		if errors.Is(err, domain.ErrJobNotFound) || errors.Is(err, domain.ErrInvalidTransition) {
			e.logger.Warn("Report job deleted or finalized while processing, failure discarded",
				slog.String("job_id", job.ID),
				slog.String("reason", err.Error()),
			)
			return
		}
		e.logger.Error("Failed to update report job status to FAILED",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	e.metrics.RecordFailed(job.Format)
}

func (e *Executor) discardArtifact(ctx context.Context, jobID, key string) {
	if err := e.artifacts.Delete(ctx, key); err != nil {
		e.logger.Error("Failed to discard report artifact",
			slog.String("job_id", jobID),
			slog.String("artifact_key", key),
			slog.String("error", err.Error()),
		)
	}
}

// sendJobHeartbeat periodically updates the job's heartbeat timestamp
func (e *Executor) sendJobHeartbeat(ctx context.Context, jobID string, done <-chan struct{}) {
	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			if err := e.jobs.UpdateJobHeartbeat(ctx, jobID); err != nil {
				e.logger.Warn("Failed to update report job heartbeat",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			} else {
				e.logger.Debug("Report job heartbeat updated",
					slog.String("job_id", jobID),
				)
			}
		}
	}
}

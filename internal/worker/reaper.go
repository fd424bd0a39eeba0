package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/order-reports/internal/metrics"
)

// StaleJobDetail is recorded on jobs failed by the reaper
const StaleJobDetail = "processing timed out"

// ReaperStore finds jobs that stopped making progress
type ReaperStore interface {
	FailStaleJobs(ctx context.Context, staleAfter time.Duration, errorDetail string) ([]string, error)
	RequeueStalePendingJobs(ctx context.Context, pendingAfter time.Duration) ([]string, error)
}

// Dispatcher hands a job to an executor
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// ReaperConfig holds Reaper configuration
type ReaperConfig struct {
	Logger     *slog.Logger
	Jobs       ReaperStore
	Metrics    *metrics.Collector
	StaleAfter time.Duration
	Interval   time.Duration

	// Dispatcher re-sends PENDING jobs older than PendingAfter. Nil disables it.
	Dispatcher   Dispatcher
	PendingAfter time.Duration
}

// Reaper moves jobs whose executor died mid-run to FAILED so their
// (order, format) pair can be submitted again. PENDING jobs whose dispatch
// was lost are dispatched again; a duplicate is harmless because claiming
// is conditional on PENDING.
type Reaper struct {
	logger       *slog.Logger
	jobs         ReaperStore
	metrics      *metrics.Collector
	dispatcher   Dispatcher
	staleAfter   time.Duration
	pendingAfter time.Duration
	interval     time.Duration
}

// NewReaper creates a new Reaper instance
func NewReaper(cfg *ReaperConfig) *Reaper {
	r := &Reaper{
		logger:       cfg.Logger,
		jobs:         cfg.Jobs,
		metrics:      cfg.Metrics,
		dispatcher:   cfg.Dispatcher,
		staleAfter:   cfg.StaleAfter,
		pendingAfter: cfg.PendingAfter,
		interval:     cfg.Interval,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.staleAfter <= 0 {
		r.staleAfter = 2 * time.Minute
	}
	if r.pendingAfter <= 0 {
		r.pendingAfter = 5 * time.Minute
	}
	if r.interval <= 0 {
		r.interval = 30 * time.Second
	}
	return r
}

// Run reaps on every tick until ctx is canceled
func (r *Reaper) Run(ctx context.Context) error {
	r.logger.Info("Stale job reaper started",
		slog.Duration("stale_after", r.staleAfter),
		slog.Duration("interval", r.interval),
		slog.Bool("redispatch", r.dispatcher != nil),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Stale job reaper stopped")
			return nil
		case <-ticker.C:
			if _, err := r.ReapOnce(ctx); err != nil {
				r.logger.Error("Failed to reap stale report jobs",
					slog.String("error", err.Error()),
				)
			}
			if _, err := r.RedispatchOnce(ctx); err != nil {
				r.logger.Error("Failed to redispatch pending report jobs",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// ReapOnce fails every stale PROCESSING job and returns their IDs
func (r *Reaper) ReapOnce(ctx context.Context) ([]string, error) {
	ids, err := r.jobs.FailStaleJobs(ctx, r.staleAfter, StaleJobDetail)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		r.metrics.RecordReaped(len(ids))
		r.logger.Warn("Failed stale report jobs",
			slog.Int("count", len(ids)),
			slog.Any("job_ids", ids),
		)
	}
	return ids, nil
}

// RedispatchOnce dispatches again every PENDING job older than pendingAfter
// and returns the IDs it dispatched. A failed dispatch is retried after
// another pendingAfter.
func (r *Reaper) RedispatchOnce(ctx context.Context) ([]string, error) {
	if r.dispatcher == nil {
		return nil, nil
	}

	ids, err := r.jobs.RequeueStalePendingJobs(ctx, r.pendingAfter)
	if err != nil {
		return nil, err
	}

	dispatched := make([]string, 0, len(ids))
	for _, id := range ids {
		if err := r.dispatcher.Dispatch(ctx, id); err != nil {
			r.logger.Error("Failed to redispatch pending report job",
				slog.String("job_id", id),
				slog.Any("error", err),
			)
			continue
		}
		dispatched = append(dispatched, id)
	}

	if len(dispatched) > 0 {
		r.metrics.RecordRedispatched(len(dispatched))
		r.logger.Warn("Redispatched stale pending report jobs",
			slog.Int("count", len(dispatched)),
			slog.Any("job_ids", dispatched),
		)
	}
	return dispatched, nil
}

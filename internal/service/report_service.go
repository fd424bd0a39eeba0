// Package service implements report job submission, status, delivery and deletion.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/order-reports/internal/artifact"
	"github.com/cuongbtq/order-reports/internal/domain"
	"github.com/cuongbtq/order-reports/internal/metrics"
	"github.com/cuongbtq/order-reports/internal/storage"
	"github.com/google/uuid"
)

// JobRepository is the subset of the report job repository used by the API side
type JobRepository interface {
	CreateJob(ctx context.Context, job *domain.ReportJob) error
	GetJobByID(ctx context.Context, jobID string) (*domain.ReportJob, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]*domain.ReportJob, error)
	DeleteJob(ctx context.Context, jobID string) (*domain.ReportJob, error)
}

// OrderReader checks that orders exist
type OrderReader interface {
	OrderExists(ctx context.Context, orderID int64) (bool, error)
}

// Dispatcher hands a created job to the executor. It must not block on
// job completion.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// Config holds ReportService dependencies
type Config struct {
	Logger     *slog.Logger
	Jobs       JobRepository
	Orders     OrderReader
	Artifacts  artifact.Store
	Dispatcher Dispatcher
	Metrics    *metrics.Collector

	// Optional; default to time.Now and uuid.NewString
	Now   func() time.Time
	NewID func() string
}

// ReportService is the scheduler front half plus the read side of the pipeline
type ReportService struct {
	logger     *slog.Logger
	jobs       JobRepository
	orders     OrderReader
	artifacts  artifact.Store
	dispatcher Dispatcher
	metrics    *metrics.Collector
	now        func() time.Time
	newID      func() string
}

// NewReportService creates a new ReportService instance
func NewReportService(cfg *Config) *ReportService {
	s := &ReportService{
		logger:     cfg.Logger,
		jobs:       cfg.Jobs,
		orders:     cfg.Orders,
		artifacts:  cfg.Artifacts,
		dispatcher: cfg.Dispatcher,
		metrics:    cfg.Metrics,
		now:        cfg.Now,
		newID:      cfg.NewID,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// Submit validates the order, applies admission control and schedules the job.
// It returns the created PENDING job without waiting for execution.
func (s *ReportService) Submit(ctx context.Context, orderID int64, format domain.Format) (*domain.ReportJob, error) {
	if orderID <= 0 {
		return nil, &domain.ValidationError{Field: "order_id", Message: "order_id must be a positive integer"}
	}
	if !format.Valid() {
		return nil, &domain.ValidationError{Field: "format", Message: fmt.Sprintf("unsupported report format %q (expected CSV or PDF)", format)}
	}

	exists, err := s.orders.OrderExists(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to check order: %w", err)
	}
	if !exists {
		s.metrics.RecordRejected(metrics.ReasonOrderNotFound)
		return nil, domain.ErrOrderNotFound
	}

	now := s.now().UTC()
	job := &domain.ReportJob{
		ID:        s.newID(),
		OrderID:   orderID,
		Format:    format,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.jobs.CreateJob(ctx, job); err != nil {
		var conflict *domain.ConflictError
		switch {
		case errors.As(err, &conflict):
			s.metrics.RecordRejected(metrics.ReasonConflict)
			s.logger.Info("Report job rejected - active job exists",
				slog.Int64("order_id", orderID),
				slog.String("format", string(format)),
				slog.String("existing_job_id", conflict.ExistingJobID),
				slog.String("existing_status", string(conflict.ExistingStatus)),
			)
			return nil, err
		case errors.Is(err, domain.ErrOrderNotFound):
			s.metrics.RecordRejected(metrics.ReasonOrderNotFound)
			return nil, err
		}
		return nil, fmt.Errorf("failed to create report job: %w", err)
	}

	if err := s.dispatcher.Dispatch(ctx, job.ID); err != nil {
		s.metrics.RecordRejected(metrics.ReasonDispatchFailure)
		s.logger.Error("Failed to dispatch report job, rolling back",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		// Remove the orphan so it does not hold the pair's admission slot
		if _, delErr := s.jobs.DeleteJob(context.WithoutCancel(ctx), job.ID); delErr != nil && !errors.Is(delErr, domain.ErrJobNotFound) {
			s.logger.Error("Failed to roll back undispatched report job",
				slog.String("job_id", job.ID),
				slog.String("error", delErr.Error()),
			)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrDispatchUnavailable, err)
	}

	s.metrics.RecordSubmitted(format)
	s.logger.Info("Report job submitted",
		slog.String("job_id", job.ID),
		slog.Int64("order_id", orderID),
		slog.String("format", string(format)),
	)

	return job.Clone(), nil
}

// GetJob returns the current snapshot of a job. It has no side effects.
func (s *ReportService) GetJob(ctx context.Context, jobID string) (*domain.ReportJob, error) {
	return s.jobs.GetJobByID(ctx, jobID)
}

// JobQuery filters and paginates ListJobs
type JobQuery struct {
	OrderID  int64
	Format   domain.Format
	Status   domain.Status
	PageSize int
	Cursor   *storage.JobCursor
}

// JobPage is one page of jobs, newest first
type JobPage struct {
	Jobs       []*domain.ReportJob
	NextCursor *storage.JobCursor
}

// ListJobs lists all jobs matching the query
func (s *ReportService) ListJobs(ctx context.Context, q JobQuery) (*JobPage, error) {
	jobs, err := s.jobs.ListJobs(ctx, storage.JobFilter{
		OrderID:  q.OrderID,
		Format:   q.Format,
		Status:   q.Status,
		PageSize: q.PageSize,
		Cursor:   q.Cursor,
	})
	if err != nil {
		return nil, err
	}

	page := &JobPage{Jobs: jobs}
	if q.PageSize > 0 && len(jobs) > q.PageSize {
		page.Jobs = jobs[:q.PageSize]
		last := page.Jobs[len(page.Jobs)-1]
		page.NextCursor = &storage.JobCursor{CreatedAt: last.CreatedAt, JobID: last.ID}
	}
	return page, nil
}

// ListByOrder returns every job of one order, newest first
func (s *ReportService) ListByOrder(ctx context.Context, orderID int64) ([]*domain.ReportJob, error) {
	exists, err := s.orders.OrderExists(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to check order: %w", err)
	}
	if !exists {
		return nil, domain.ErrOrderNotFound
	}
	return s.jobs.ListJobs(ctx, storage.JobFilter{OrderID: orderID})
}

// Download is a delivered artifact
type Download struct {
	JobID       string
	Data        []byte
	FileName    string
	ContentType string
}

// Download returns the artifact of a COMPLETED job. Any other status yields a
// *domain.NotReadyError and no bytes.
func (s *ReportService) Download(ctx context.Context, jobID string) (*Download, error) {
	job, err := s.jobs.GetJobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.StatusCompleted {
		return nil, &domain.NotReadyError{JobID: job.ID, Status: job.Status}
	}
	if job.Artifact == nil || job.Artifact.Key == "" {
		return nil, domain.ErrArtifactNotFound
	}

	data, err := s.artifacts.Get(ctx, job.Artifact.Key)
	if err != nil {
		if errors.Is(err, domain.ErrArtifactNotFound) {
			s.logger.Warn("Completed report job has no stored artifact",
				slog.String("job_id", job.ID),
				slog.String("artifact_key", job.Artifact.Key),
			)
		}
		return nil, err
	}

	contentType := job.Artifact.ContentType
	if contentType == "" {
		contentType = job.Format.ContentType()
	}

	s.metrics.RecordDownload(job.Format)
	return &Download{
		JobID:       job.ID,
		Data:        data,
		FileName:    job.FileName(),
		ContentType: contentType,
	}, nil
}

// Delete removes the job record and its artifact in any status. An executor
// still running the job will find the row gone and discard its result.
func (s *ReportService) Delete(ctx context.Context, jobID string) error {
	job, err := s.jobs.DeleteJob(ctx, jobID)
	if err != nil {
		return err
	}

	if job.Artifact != nil && job.Artifact.Key != "" {
		if err := s.artifacts.Delete(ctx, job.Artifact.Key); err != nil {
			s.logger.Error("Failed to delete report artifact",
				slog.String("job_id", jobID),
				slog.String("artifact_key", job.Artifact.Key),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Info("Report job deleted",
		slog.String("job_id", jobID),
		slog.String("status", string(job.Status)),
	)
	return nil
}

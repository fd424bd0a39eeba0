package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/order-reports/internal/domain"
)

// ClaimJob moves a job from PENDING to PROCESSING using optimistic locking.
// Returns ErrJobAlreadyClaimed if the job is not PENDING or no longer exists.
func (s *JobStorage) ClaimJob(ctx context.Context, jobID, workerID string) (*domain.ReportJob, error) {
	query := `
		UPDATE report_jobs
		SET status = $1,
		    worker_id = $2,
		    started_at = NOW(),
		    last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3
		  AND status = $4
		RETURNING ` + jobColumns

	var row jobRow
	err := s.db.GetContext(ctx, &row, query, domain.StatusProcessing, workerID, jobID, domain.StatusPending)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Failed to claim report job - already claimed or not found",
				slog.String("job_id", jobID),
				slog.String("worker_id", workerID),
			)
			return nil, domain.ErrJobAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim report job: %w", err)
	}

	s.logger.Info("Report job claimed",
		slog.String("job_id", jobID),
		slog.String("worker_id", workerID),
		slog.String("format", row.Format),
	)

	return row.toDomain(), nil
}

// CompleteJob records the artifact and moves PROCESSING -> COMPLETED.
// The artifact columns are written in the same statement as the status, so a
// reader never sees COMPLETED without them.
func (s *JobStorage) CompleteJob(ctx context.Context, jobID string, artifact domain.Artifact) error {
	query := `
		UPDATE report_jobs
		SET status = $1,
		    artifact_key = $2,
		    file_name = $3,
		    file_size = $4,
		    content_type = $5,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $6
		  AND status = $7
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.StatusCompleted,
		artifact.Key,
		artifact.FileName,
		artifact.Size,
		artifact.ContentType,
		jobID,
		domain.StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("failed to complete report job: %w", err)
	}

	if err := s.checkTerminalWrite(ctx, result, jobID); err != nil {
		return err
	}

	s.logger.Info("Report job status updated",
		slog.String("job_id", jobID),
		slog.String("status", string(domain.StatusCompleted)),
		slog.Int64("file_size", artifact.Size),
	)
	return nil
}

// FailJob stores the error detail and moves PROCESSING -> FAILED
func (s *JobStorage) FailJob(ctx context.Context, jobID, errorDetail string) error {
	query := `
		UPDATE report_jobs
		SET status = $1,
		    error_detail = $2,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3
		  AND status = $4
	`

	result, err := s.db.ExecContext(ctx, query, domain.StatusFailed, errorDetail, jobID, domain.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to fail report job: %w", err)
	}

	if err := s.checkTerminalWrite(ctx, result, jobID); err != nil {
		return err
	}

	s.logger.Info("Report job status updated",
		slog.String("job_id", jobID),
		slog.String("status", string(domain.StatusFailed)),
	)
	return nil
}

// checkTerminalWrite turns a zero-row terminal update into ErrJobNotFound
// (row deleted meanwhile) or ErrInvalidTransition (row left PROCESSING).
func (s *JobStorage) checkTerminalWrite(ctx context.Context, result sql.Result, jobID string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	var status string
	err = s.db.GetContext(ctx, &status, `SELECT status FROM report_jobs WHERE job_id = $1`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrJobNotFound
		}
		return fmt.Errorf("failed to re-read report job: %w", err)
	}
	return fmt.Errorf("%w: job is %s", domain.ErrInvalidTransition, status)
}

// UpdateJobHeartbeat updates the last_heartbeat_at timestamp for a processing job
func (s *JobStorage) UpdateJobHeartbeat(ctx context.Context, jobID string) error {
	query := `
		UPDATE report_jobs
		SET last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $1 AND status = $2
	`

	result, err := s.db.ExecContext(ctx, query, jobID, domain.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to update report job heartbeat: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Report job heartbeat update - no rows affected (job may not be processing)",
			slog.String("job_id", jobID),
		)
	}

	return nil
}

// FailStaleJobs fails PROCESSING jobs whose heartbeat is older than staleAfter
// and returns their IDs.
func (s *JobStorage) FailStaleJobs(ctx context.Context, staleAfter time.Duration, errorDetail string) ([]string, error) {
	query := `
		UPDATE report_jobs
		SET status = $1,
		    error_detail = $2,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE status = $3
		  AND last_heartbeat_at < NOW() - make_interval(secs => $4)
		RETURNING job_id
	`

	var ids []string
	err := s.db.SelectContext(ctx, &ids, query,
		domain.StatusFailed,
		errorDetail,
		domain.StatusProcessing,
		staleAfter.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fail stale report jobs: %w", err)
	}
	return ids, nil
}

// RequeueStalePendingJobs returns PENDING jobs untouched for longer than
// pendingAfter and bumps their updated_at, so each one is handed out again
// at most once per pendingAfter.
func (s *JobStorage) RequeueStalePendingJobs(ctx context.Context, pendingAfter time.Duration) ([]string, error) {
	query := `
		UPDATE report_jobs
		SET updated_at = NOW()
		WHERE status = $1
		  AND updated_at < NOW() - make_interval(secs => $2)
		RETURNING job_id
	`

	var ids []string
	err := s.db.SelectContext(ctx, &ids, query, domain.StatusPending, pendingAfter.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to requeue stale pending report jobs: %w", err)
	}
	return ids, nil
}

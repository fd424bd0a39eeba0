package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/order-reports/internal/domain"
	"github.com/jackc/pgerrcode"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const jobColumns = `
	job_id, order_id, format, status,
	artifact_key, file_name, file_size, content_type,
	error_detail, created_at, updated_at, completed_at
`

// jobViewQuery selects jobs together with their order name and total for the
// read endpoints. Filters must qualify columns with "j."
const jobViewQuery = `
	SELECT
		j.job_id, j.order_id, j.format, j.status,
		j.artifact_key, j.file_name, j.file_size, j.content_type,
		j.error_detail, j.created_at, j.updated_at, j.completed_at,
		o.name AS order_name,
		COALESCE((
			SELECT ROUND(SUM(i.quantity * i.price) * 100)
			FROM order_items i
			WHERE i.order_id = j.order_id
		), 0)::BIGINT AS order_total_cents
	FROM report_jobs j
	JOIN orders o ON o.id = j.order_id
`

// JobFilter narrows ListJobs. Zero values mean "no filter".
// When PageSize > 0 up to PageSize+1 rows are returned so the caller can
// tell whether another page exists.
type JobFilter struct {
	OrderID  int64
	Format   domain.Format
	Status   domain.Status
	PageSize int
	Cursor   *JobCursor
}

// JobCursor is the keyset position of the last row of a page
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

type jobRow struct {
	JobID       string         `db:"job_id"`
	OrderID     int64          `db:"order_id"`
	Format      string         `db:"format"`
	Status      string         `db:"status"`
	ArtifactKey sql.NullString `db:"artifact_key"`
	FileName    sql.NullString `db:"file_name"`
	FileSize    sql.NullInt64  `db:"file_size"`
	ContentType sql.NullString `db:"content_type"`
	ErrorDetail sql.NullString `db:"error_detail"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
	CompletedAt sql.NullTime   `db:"completed_at"`

	OrderName       sql.NullString `db:"order_name"`
	OrderTotalCents sql.NullInt64  `db:"order_total_cents"`
}

func (r *jobRow) toDomain() *domain.ReportJob {
	job := &domain.ReportJob{
		ID:          r.JobID,
		OrderID:     r.OrderID,
		Format:      domain.Format(r.Format),
		Status:      domain.Status(r.Status),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		ErrorDetail: r.ErrorDetail.String,

		OrderName:       r.OrderName.String,
		OrderTotalCents: r.OrderTotalCents.Int64,
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		job.CompletedAt = &t
	}
	if job.Status == domain.StatusCompleted && r.ArtifactKey.Valid {
		job.Artifact = &domain.Artifact{
			Key:         r.ArtifactKey.String,
			FileName:    r.FileName.String,
			Size:        r.FileSize.Int64,
			ContentType: r.ContentType.String,
		}
	}
	return job
}

// JobStorage is the PostgreSQL report job repository
type JobStorage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *sqlx.DB, logger *slog.Logger) *JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

// CreateJob inserts a PENDING job unless another PENDING/PROCESSING job exists
// for the same (order, format). The check and the insert run in one
// transaction holding an advisory lock on the pair; the partial unique index
// report_jobs_one_active_per_pair backs it up.
func (s *JobStorage) CreateJob(ctx context.Context, job *domain.ReportJob) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, pairKey(job.OrderID, job.Format)); err != nil {
		return fmt.Errorf("failed to lock report job pair: %w", err)
	}

	existing, err := s.findActive(ctx, tx, job.OrderID, job.Format)
	if err != nil {
		return err
	}
	if existing != nil {
		return conflictWith(existing)
	}

	query := `
		INSERT INTO report_jobs (
			job_id, order_id, format, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
	`
	_, err = tx.ExecContext(ctx, query,
		job.ID,
		job.OrderID,
		job.Format,
		domain.StatusPending,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		switch pqCode(err) {
		case pgerrcode.UniqueViolation:
			_ = tx.Rollback()
			existing, findErr := s.findActive(ctx, s.db, job.OrderID, job.Format)
			if findErr != nil {
				return findErr
			}
			if existing != nil {
				return conflictWith(existing)
			}
			return &domain.ConflictError{OrderID: job.OrderID, Format: job.Format}
		case pgerrcode.ForeignKeyViolation:
			return domain.ErrOrderNotFound
		}
		return fmt.Errorf("failed to create report job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit report job: %w", err)
	}

	job.Status = domain.StatusPending
	return nil
}

func (s *JobStorage) findActive(ctx context.Context, q sqlx.QueryerContext, orderID int64, format domain.Format) (*domain.ReportJob, error) {
	query := `SELECT ` + jobColumns + `
		FROM report_jobs
		WHERE order_id = $1 AND format = $2 AND status IN ($3, $4)
		LIMIT 1
	`
	var row jobRow
	err := sqlx.GetContext(ctx, q, &row, query, orderID, format, domain.StatusPending, domain.StatusProcessing)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up active report job: %w", err)
	}
	return row.toDomain(), nil
}

// GetJobByID retrieves a report job by its ID
func (s *JobStorage) GetJobByID(ctx context.Context, jobID string) (*domain.ReportJob, error) {
	query := jobViewQuery + ` WHERE j.job_id = $1`

	var row jobRow
	if err := s.db.GetContext(ctx, &row, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get report job: %w", err)
	}

	return row.toDomain(), nil
}

// ListJobs returns jobs newest first, applying the filter
func (s *JobStorage) ListJobs(ctx context.Context, filter JobFilter) ([]*domain.ReportJob, error) {
	query := jobViewQuery + ` WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.OrderID != 0 {
		query += fmt.Sprintf(" AND j.order_id = $%d", argIdx)
		args = append(args, filter.OrderID)
		argIdx++
	}

	if filter.Format != "" {
		query += fmt.Sprintf(" AND j.format = $%d", argIdx)
		args = append(args, filter.Format)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND j.status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (j.created_at, j.job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY j.created_at DESC, j.job_id DESC"

	if filter.PageSize > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.PageSize+1)
	}

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list report jobs: %w", err)
	}

	jobs := make([]*domain.ReportJob, len(rows))
	for i := range rows {
		jobs[i] = rows[i].toDomain()
	}
	return jobs, nil
}

// DeleteJob removes the job row and returns what was deleted so the caller
// can drop the artifact bytes.
func (s *JobStorage) DeleteJob(ctx context.Context, jobID string) (*domain.ReportJob, error) {
	query := `DELETE FROM report_jobs WHERE job_id = $1 RETURNING ` + jobColumns

	var row jobRow
	if err := s.db.GetContext(ctx, &row, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to delete report job: %w", err)
	}

	s.logger.Info("Report job deleted",
		slog.String("job_id", jobID),
		slog.String("status", row.Status),
	)

	return row.toDomain(), nil
}

func conflictWith(existing *domain.ReportJob) *domain.ConflictError {
	return &domain.ConflictError{
		OrderID:        existing.OrderID,
		Format:         existing.Format,
		ExistingJobID:  existing.ID,
		ExistingStatus: existing.Status,
	}
}

func pairKey(orderID int64, format domain.Format) string {
	return fmt.Sprintf("report_jobs:%d:%s", orderID, format)
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

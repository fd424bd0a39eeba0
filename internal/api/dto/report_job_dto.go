package dto

import (
	"fmt"
	"time"

	"github.com/cuongbtq/order-reports/internal/domain"
)

// CreateReportJobRequest is the submit body; format defaults to CSV
type CreateReportJobRequest struct {
	OrderID int64  `json:"order_id" binding:"required"`
	Format  string `json:"format"`
}

type ListReportJobsRequest struct {
	OrderID  int64  `form:"order_id"`
	Format   string `form:"format"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListReportJobsResponse struct {
	Jobs       []ReportJobDTO `json:"jobs"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type ReportJobDTO struct {
	ID          string  `json:"id"`
	OrderID     int64   `json:"order_id"`
	OrderName   string  `json:"order_name,omitempty"`
	OrderTotal  string  `json:"order_total,omitempty"`
	Format      string  `json:"format"`
	Status      string  `json:"status"`
	FileName    string  `json:"file_name,omitempty"`
	FileSize    int64   `json:"file_size,omitempty"`
	ErrorDetail string  `json:"error_detail,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// ConflictResponse is returned with 409 so clients can follow the existing job
type ConflictResponse struct {
	Message        string `json:"message"`
	ExistingJobID  string `json:"existing_job_id,omitempty"`
	ExistingStatus string `json:"existing_status,omitempty"`
}

func NewReportJobDTO(job *domain.ReportJob) ReportJobDTO {
	out := ReportJobDTO{
		ID:          job.ID,
		OrderID:     job.OrderID,
		Format:      string(job.Format),
		Status:      string(job.Status),
		ErrorDetail: job.ErrorDetail,
		CreatedAt:   job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   job.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if job.OrderName != "" {
		out.OrderName = job.OrderName
		out.OrderTotal = fmt.Sprintf("%d.%02d", job.OrderTotalCents/100, job.OrderTotalCents%100)
	}
	if job.Artifact != nil {
		out.FileName = job.Artifact.FileName
		out.FileSize = job.Artifact.Size
	}
	if job.CompletedAt != nil {
		completed := job.CompletedAt.UTC().Format(time.RFC3339)
		out.CompletedAt = &completed
	}
	return out
}

func NewReportJobDTOs(jobs []*domain.ReportJob) []ReportJobDTO {
	out := make([]ReportJobDTO, len(jobs))
	for i, job := range jobs {
		out[i] = NewReportJobDTO(job)
	}
	return out
}

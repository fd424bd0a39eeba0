package handler

import (
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/cuongbtq/order-reports/internal/api/dto"
	"github.com/cuongbtq/order-reports/internal/domain"
	"github.com/cuongbtq/order-reports/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateReportJob handles POST /api/v1/report-jobs
// Accepts a report request and returns the PENDING job without waiting for it
func (h *ReportJobHandler) CreateReportJob(c *gin.Context) {
	var req dto.CreateReportJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body: order_id is required"})
		return
	}

	if strings.TrimSpace(req.Format) == "" {
		req.Format = string(domain.FormatCSV)
	}
	format, err := domain.ParseFormat(req.Format)
	if err != nil {
		h.writeError(c, err, "create report job")
		return
	}

	job, err := h.service.Submit(c.Request.Context(), req.OrderID, format)
	if err != nil {
		h.writeError(c, err, "create report job")
		return
	}

	c.JSON(http.StatusCreated, dto.NewReportJobDTO(job))
}

// GetReportJob handles GET /api/v1/report-jobs/:job_id and its /status alias
// Returns the current job snapshot; safe to poll
func (h *ReportJobHandler) GetReportJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	job, err := h.service.GetJob(c.Request.Context(), jobID)
	if err != nil {
		h.writeError(c, err, "get report job")
		return
	}

	c.JSON(http.StatusOK, dto.NewReportJobDTO(job))
}

// ListReportJobs handles GET /api/v1/report-jobs
// Lists jobs newest first with optional filtering and cursor pagination
func (h *ReportJobHandler) ListReportJobs(c *gin.Context) {
	var req dto.ListReportJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid query parameters"})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	query := service.JobQuery{OrderID: req.OrderID, PageSize: req.PageSize}
	if req.Format != "" {
		format, err := domain.ParseFormat(req.Format)
		if err != nil {
			h.writeError(c, err, "list report jobs")
			return
		}
		query.Format = format
	}
	if req.Status != "" {
		status := domain.Status(strings.ToUpper(req.Status))
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: fmt.Sprintf("status: unknown status %q", req.Status)})
			return
		}
		query.Status = status
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid cursor"})
		return
	}
	query.Cursor = cursor

	page, err := h.service.ListJobs(c.Request.Context(), query)
	if err != nil {
		h.writeError(c, err, "list report jobs")
		return
	}

	c.JSON(http.StatusOK, dto.ListReportJobsResponse{
		Jobs:       dto.NewReportJobDTOs(page.Jobs),
		NextCursor: EncodeJobCursor(page.NextCursor),
	})
}

// ListOrderReportJobs handles GET /api/v1/orders/:order_id/report-jobs
// Returns every job of one order, newest first
func (h *ReportJobHandler) ListOrderReportJobs(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("order_id"), 10, 64)
	if err != nil || orderID <= 0 {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "order_id must be a positive integer"})
		return
	}

	jobs, err := h.service.ListByOrder(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, err, "list order report jobs")
		return
	}

	c.JSON(http.StatusOK, dto.ListReportJobsResponse{Jobs: dto.NewReportJobDTOs(jobs)})
}

// DownloadReport handles GET /api/v1/report-jobs/:job_id/download
// Streams the artifact of a COMPLETED job; 409 for any other status
func (h *ReportJobHandler) DownloadReport(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	download, err := h.service.Download(c.Request.Context(), jobID)
	if err != nil {
		h.writeError(c, err, "download report")
		return
	}

	c.Header("Content-Disposition", contentDisposition(download.FileName))
	c.Data(http.StatusOK, download.ContentType, download.Data)
}

// DeleteReportJob handles DELETE /api/v1/report-jobs/:job_id
// Removes the job and its artifact in any status
func (h *ReportJobHandler) DeleteReportJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), jobID); err != nil {
		h.writeError(c, err, "delete report job")
		return
	}

	c.Status(http.StatusNoContent)
}

// contentDisposition builds an RFC 6266 attachment header; non-ASCII names
// are carried in the RFC 2231 filename* form
func contentDisposition(fileName string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": fileName}); v != "" {
		return v
	}
	return "attachment"
}

func (h *ReportJobHandler) jobIDParam(c *gin.Context) (string, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Warn("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "job_id must be a valid UUID"})
		return "", false
	}
	return jobID, true
}

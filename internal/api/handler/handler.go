package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/order-reports/internal/api/dto"
	"github.com/cuongbtq/order-reports/internal/domain"
	"github.com/cuongbtq/order-reports/internal/metrics"
	"github.com/cuongbtq/order-reports/internal/service"
	"github.com/gin-gonic/gin"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger  *slog.Logger
	Service *service.ReportService
	Metrics *metrics.Collector
}

// ReportJobHandler handles report job HTTP requests
type ReportJobHandler struct {
	logger  *slog.Logger
	service *service.ReportService
}

// NewReportJobHandler creates a new ReportJobHandler instance
func NewReportJobHandler(deps *Dependencies) *ReportJobHandler {
	return &ReportJobHandler{
		logger:  deps.Logger,
		service: deps.Service,
	}
}

// writeError maps pipeline errors to HTTP responses
func (h *ReportJobHandler) writeError(c *gin.Context, err error, action string) {
	var (
		validation *domain.ValidationError
		conflict   *domain.ConflictError
		notReady   *domain.NotReadyError
	)

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: validation.Error()})

	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, dto.ConflictResponse{
			Message:        conflict.Error(),
			ExistingJobID:  conflict.ExistingJobID,
			ExistingStatus: string(conflict.ExistingStatus),
		})

	case errors.As(err, &notReady):
		c.JSON(http.StatusConflict, dto.ConflictResponse{
			Message:        notReady.Error(),
			ExistingStatus: string(notReady.Status),
		})

	case errors.Is(err, domain.ErrJobNotFound),
		errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrArtifactNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: err.Error()})

	case errors.Is(err, domain.ErrDispatchUnavailable):
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: domain.ErrDispatchUnavailable.Error()})

	default:
		h.logger.Error("Failed to "+action, slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to " + action})
	}
}

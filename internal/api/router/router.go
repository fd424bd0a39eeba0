package router

import (
	"net/http"

	"github.com/cuongbtq/order-reports/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// HealthCheck reports whether a backing dependency is reachable
type HealthCheck func() error

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, health HealthCheck) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", func(c *gin.Context) {
		if health != nil {
			if err := health(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": "report-api-service",
					"error":   err.Error(),
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "report-api-service",
		})
	})

	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	reportHandler := handler.NewReportJobHandler(deps)

	v1 := r.Group("/api/v1")
	{
		reportJobs := v1.Group("/report-jobs")
		{
			// POST /api/v1/report-jobs - Submit a report job
			reportJobs.POST("", reportHandler.CreateReportJob)

			// GET /api/v1/report-jobs - List jobs with filtering and pagination
			reportJobs.GET("", reportHandler.ListReportJobs)

			// GET /api/v1/report-jobs/:job_id - Poll job status
			reportJobs.GET("/:job_id", reportHandler.GetReportJob)
			reportJobs.GET("/:job_id/status", reportHandler.GetReportJob)

			// GET /api/v1/report-jobs/:job_id/download - Download the finished report
			reportJobs.GET("/:job_id/download", reportHandler.DownloadReport)

			// DELETE /api/v1/report-jobs/:job_id - Delete a job and its file
			reportJobs.DELETE("/:job_id", reportHandler.DeleteReportJob)
		}

		// GET /api/v1/orders/:order_id/report-jobs - Jobs of one order
		v1.GET("/orders/:order_id/report-jobs", reportHandler.ListOrderReportJobs)
	}

	return r
}
